package main

import (
	"errors"
	"testing"
	"time"
)

func TestValidatePairingPhone(t *testing.T) {
	// curto demais
	err := validatePairingPhone("123")
	if err == nil {
		t.Fatalf("telefone '123' deveria falhar")
	}
	var ae *apiError
	if !errors.As(err, &ae) || ae.Message != msgPairingPhone {
		t.Fatalf("mensagem de campo errada: %v", err)
	}

	// formato completo aceito
	if err := validatePairingPhone("+55 11 99999-9999"); err != nil {
		t.Fatalf("telefone válido rejeitado: %v", err)
	}
	if err := validatePairingPhone("(11) 99999-9999"); err != nil {
		t.Fatalf("telefone com parênteses rejeitado: %v", err)
	}

	// caracteres fora do schema
	if err := validatePairingPhone("11 99999-9999x"); err == nil {
		t.Fatalf("letra no telefone deveria falhar")
	}
	if err := validatePairingPhone(""); err == nil {
		t.Fatalf("vazio deveria falhar")
	}
	if err := validatePairingPhone("          "); err == nil {
		t.Fatalf("só espaços deveria falhar")
	}
}

func TestReconcileSessionStatusClosesQrPanel(t *testing.T) {
	app := &App{Sessions: newSessionStore(time.Minute)}
	id, _ := app.Sessions.Create()
	_, _, _ = app.Sessions.Dispatch(id, SetQrPanelOpen{Value: true})
	_, _, _ = app.Sessions.Dispatch(id, SetQrDialogOpen{Value: true})

	// qualquer caminho que observe a conexão fecha o painel na sessão
	app.reconcileSessionStatus(id, StatusConnected)

	s, err := app.Sessions.Get(id)
	if err != nil {
		t.Fatalf("sessão sumiu: %v", err)
	}
	if s.QrPanelOpen || s.IsQrDialogOpen {
		t.Fatalf("painel de QR deveria fechar ao observar connected: %+v", s)
	}

	// status não-conectado não mexe no painel
	_, _, _ = app.Sessions.Dispatch(id, SetQrPanelOpen{Value: true})
	app.reconcileSessionStatus(id, StatusQRRequired)
	s, _ = app.Sessions.Get(id)
	if !s.QrPanelOpen {
		t.Fatalf("qr_required não deveria fechar o painel")
	}

	// sessão vazia ou desconhecida é no-op silencioso
	app.reconcileSessionStatus("", StatusConnected)
	app.reconcileSessionStatus("nao-existe", StatusConnected)
}

func TestPairingGuardSerializes(t *testing.T) {
	g := newPairingGuard()

	if !g.Acquire("inst-1") {
		t.Fatalf("primeira aquisição deveria passar")
	}
	if g.Acquire("inst-1") {
		t.Fatalf("segunda aquisição concorrente deveria ser negada")
	}
	// instância diferente não é afetada
	if !g.Acquire("inst-2") {
		t.Fatalf("guard é por instância")
	}

	g.Release("inst-1")
	if !g.Acquire("inst-1") {
		t.Fatalf("após release deveria readquirir")
	}
}

package main

// Fluxo de código de pareamento: valida o telefone, dispara o connect
// no broker e força o reload da instância para o novo status ser
// observado. Uma requisição por instância de cada vez — o guard
// booleano substitui qualquer fila explícita.

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

const msgPairingPhone = "Informe o telefone que receberá o código."

// telefone: dígitos, +, -, parênteses e espaços; mínimo de 10 caracteres
var pairingPhoneRe = regexp.MustCompile(`^[0-9+\-() ]+$`)

// validatePairingPhone aplica o schema do campo de telefone. Qualquer
// falha devolve a mesma mensagem de campo.
func validatePairingPhone(phone string) error {
	phone = strings.TrimSpace(phone)
	if len(phone) < 10 || !pairingPhoneRe.MatchString(phone) {
		return &apiError{Status: http.StatusUnprocessableEntity, Code: "INVALID_PHONE", Message: msgPairingPhone}
	}
	return nil
}

// pairingGuard serializa requisições de pareamento por instância.
type pairingGuard struct {
	mu       sync.Mutex
	inFlight map[string]bool
}

func newPairingGuard() *pairingGuard {
	return &pairingGuard{inFlight: make(map[string]bool)}
}

// Acquire devolve false quando já existe requisição em andamento.
func (g *pairingGuard) Acquire(instanceID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight[instanceID] {
		return false
	}
	g.inFlight[instanceID] = true
	return true
}

func (g *pairingGuard) Release(instanceID string) {
	g.mu.Lock()
	delete(g.inFlight, instanceID)
	g.mu.Unlock()
}

// POST /api/integrations/whatsapp/instances/{instance}/connect
// Body: {"phoneNumber": "..."} para código de pareamento ou
// {"code": "..."} para confirmar; vazio gera QR.
func (app *App) connectInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, flowID, err := app.tenantRequest(r)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}

	instanceID := strings.TrimSpace(chi.URLParam(r, "instance"))
	sessionID := r.Header.Get("X-Session-ID")
	if instanceID == "" {
		// pré-condição: precisa haver instância selecionada
		app.setSessionFieldError(sessionID, "Selecione uma instância para conectar.")
		writeFieldError(w, "instance", "Selecione uma instância para conectar.")
		return
	}

	var in struct {
		PhoneNumber string `json:"phoneNumber"`
		Code        string `json:"code"`
	}
	_ = json.NewDecoder(r.Body).Decode(&in)

	opts := map[string]any{}
	if in.Code != "" {
		opts["code"] = strings.TrimSpace(in.Code)
	} else if in.PhoneNumber != "" {
		if err := validatePairingPhone(in.PhoneNumber); err != nil {
			app.setSessionFieldError(sessionID, msgPairingPhone)
			writeFieldError(w, "phoneNumber", msgPairingPhone)
			return
		}
		opts["phoneNumber"] = strings.TrimSpace(in.PhoneNumber)
	}

	if !app.Pairing.Acquire(instanceID) {
		writeAPIError(w, http.StatusConflict, "RATE_LIMITED", "Já existe uma solicitação em andamento para esta instância.")
		return
	}
	defer app.Pairing.Release(instanceID)

	app.dispatchSession(sessionID, SetRequestingPairingCode{Value: true})
	defer app.dispatchSession(sessionID, SetRequestingPairingCode{Value: false})

	raw, err := app.Broker.ConnectInstance(ctx, instanceID, opts)
	if err != nil {
		// {code,message} do backend vira erro de campo E de banner
		copyText := copyFromError(err)
		app.setSessionFieldError(sessionID, copyText.Message)
		app.dispatchSession(sessionID, SetErrorState{Value: &copyText})
		app.writeBrokerError(w, err)
		return
	}

	// limpa erros anteriores do fluxo
	app.dispatchSession(sessionID, SetPairingPhoneError{Value: ""})
	app.dispatchSession(sessionID, SetErrorState{Value: nil})

	// reload forçado para observar o status novo
	inst, err := app.refreshInstance(ctx, orgID, flowID, instanceID, true)
	if err == nil {
		app.reconcileSessionStatus(sessionID, normalizeStatus(inst.Status, inst.Connected))
		app.Hub.Broadcast(tenantRoom(orgID, flowID), EventInstanceUpdated, inst)
	}

	// o connect pode já devolver um QR novo; nesse caso arma o ciclo
	if qr := normalizeQrPayload(raw); qr.Code != "" {
		app.trackQr(orgID, flowID, instanceID, qr)
	}

	out := map[string]any{
		"instanceId":  instanceID,
		"pairingCode": pickStr(raw, "pairingCode", "paircode", "code"),
		"status":      pickStr(raw, "status", "state"),
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

// setSessionFieldError grava o erro no campo de telefone da sessão,
// quando houver sessão.
func (app *App) setSessionFieldError(sessionID, msg string) {
	app.dispatchSession(sessionID, SetPairingPhoneError{Value: msg})
}

func (app *App) dispatchSession(sessionID string, a Action) {
	if sessionID == "" {
		return
	}
	_, _, _ = app.Sessions.Dispatch(sessionID, a)
}

// reconcileSessionStatus aplica a invariante de painel fechado quando
// a instância conecta.
func (app *App) reconcileSessionStatus(sessionID string, status LocalStatus) {
	if sessionID == "" {
		return
	}
	s, err := app.Sessions.Get(sessionID)
	if err != nil {
		return
	}
	next := ReconcileStatus(s, status)
	if next != s {
		app.Sessions.Set(sessionID, next)
	}
}

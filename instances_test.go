package main

import "testing"

func TestNormalizeStatus(t *testing.T) {
	cases := []struct {
		raw       string
		connected bool
		want      LocalStatus
	}{
		{"connected", false, StatusConnected},
		{"open", false, StatusConnected},
		{"ONLINE", false, StatusConnected},
		{"connecting", false, StatusConnecting},
		{"pairing", false, StatusConnecting},
		{"waiting-qr", false, StatusQRRequired},
		{"qrcode", false, StatusQRRequired},
		{"scan_qr", false, StatusQRRequired},
		{"disconnected", false, StatusDisconnected},
		{"close", false, StatusDisconnected},
		{"", false, StatusDisconnected},
		{"qualquer-coisa", false, StatusDisconnected},
		// o booleano connected tem precedência sobre a string
		{"waiting-qr", true, StatusConnected},
		{"", true, StatusConnected},
	}
	for _, tc := range cases {
		if got := normalizeStatus(tc.raw, tc.connected); got != tc.want {
			t.Errorf("normalizeStatus(%q, %v) = %q, quer %q", tc.raw, tc.connected, got, tc.want)
		}
	}
}

func TestInstanceFromPayload(t *testing.T) {
	raw := map[string]any{
		"name":   "Vendas",
		"status": "waiting-qr",
		"metadata": map[string]any{
			"tenantId": "t1",
		},
	}
	inst := instanceFromPayload("inst-1", raw)
	if inst.ID != "inst-1" || inst.Name != "Vendas" {
		t.Fatalf("identidade: %+v", inst)
	}
	if inst.Status != string(StatusQRRequired) || inst.Connected {
		t.Fatalf("status: %+v", inst)
	}
	if instanceTenantID(inst) != "t1" {
		t.Fatalf("metadata não preservado: %+v", inst.Metadata)
	}
}

func TestInstanceFromPayloadNestedConnect(t *testing.T) {
	raw := map[string]any{
		"connect": map[string]any{"status": "connecting"},
	}
	inst := instanceFromPayload("inst-2", raw)
	if inst.Status != string(StatusConnecting) {
		t.Fatalf("status dentro de connect: %+v", inst)
	}

	inst = instanceFromPayload("inst-3", map[string]any{"loggedIn": true})
	if !inst.Connected || inst.Status != string(StatusConnected) {
		t.Fatalf("loggedIn=true deveria conectar: %+v", inst)
	}

	inst = instanceFromPayload("inst-4", nil)
	if inst.Status != string(StatusDisconnected) {
		t.Fatalf("payload nulo: %+v", inst)
	}
}

func TestEffectiveShowAll(t *testing.T) {
	// sem sessão ligada vale a preferência persistida
	if effectiveShowAll(nil, true) != true || effectiveShowAll(nil, false) != false {
		t.Fatalf("sem sessão a preferência persistida deveria mandar")
	}

	// com sessão o valor dela vence, inclusive contra o persistido
	s := &ConnectState{ShowAllInstances: true}
	if !effectiveShowAll(s, false) {
		t.Fatalf("sessão com showAll=true deveria vencer o persistido")
	}
	s2 := Apply(s, SetShowAllInstances{Value: false})
	if effectiveShowAll(s2, true) {
		t.Fatalf("ação da sessão deveria ser observada pelo recorte")
	}
}

func TestPickStr(t *testing.T) {
	m := map[string]any{
		"vazio":  "",
		"numero": float64(12),
		"nome":   "abc",
	}
	if got := pickStr(m, "vazio", "nome"); got != "abc" {
		t.Fatalf("deveria pular string vazia: %q", got)
	}
	if got := pickStr(m, "numero"); got != "12" {
		t.Fatalf("float deveria virar string: %q", got)
	}
	if got := pickStr(m, "inexistente"); got != "" {
		t.Fatalf("chave ausente: %q", got)
	}
}

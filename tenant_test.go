package main

import "testing"

func TestFilterInstancesByTenant(t *testing.T) {
	list := []Instance{
		{ID: "a", Metadata: map[string]any{"tenantId": "t1"}},
		{ID: "b", Metadata: map[string]any{"tenantId": "t2"}},
	}

	got := filterInstancesByTenant(list, "t1")
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("esperava só a instância 'a', veio %+v", got)
	}

	// convênio sem tenant resolvível: fail-open, tudo passa
	got = filterInstancesByTenant(list, resolveTenantID(map[string]any{}))
	if len(got) != 2 {
		t.Fatalf("fail-open deveria passar as duas, veio %d", len(got))
	}
}

func TestResolveTenantIDNested(t *testing.T) {
	cases := []struct {
		name string
		in   map[string]any
		want string
	}{
		{"direto", map[string]any{"tenantId": "t1"}, "t1"},
		{"snake", map[string]any{"tenant_id": "t2"}, "t2"},
		{"broker", map[string]any{"brokerId": "b9"}, "b9"},
		{"numérico", map[string]any{"tenantId": float64(42)}, "42"},
		{"em metadata", map[string]any{"metadata": map[string]any{"tenantId": "t3"}}, "t3"},
		{"em tenant", map[string]any{"tenant": map[string]any{"tenant_id": "t4"}}, "t4"},
		{"em account", map[string]any{"account": map[string]any{"accountId": "a5"}}, "a5"},
		{"dois níveis", map[string]any{"metadata": map[string]any{"tenant": map[string]any{"tenantId": "t6"}}}, "t6"},
		{"nada", map[string]any{"name": "x"}, ""},
		{"nil", nil, ""},
	}
	for _, tc := range cases {
		if got := resolveTenantID(tc.in); got != tc.want {
			t.Errorf("%s: resolveTenantID = %q, quer %q", tc.name, got, tc.want)
		}
	}
}

func TestResolveTenantIDFirstNonEmptyWins(t *testing.T) {
	m := map[string]any{
		"tenantId": "direto",
		"metadata": map[string]any{"tenantId": "aninhado"},
	}
	if got := resolveTenantID(m); got != "direto" {
		t.Fatalf("campo direto deveria vencer, veio %q", got)
	}
}

func TestFilterConnectedOnly(t *testing.T) {
	list := []Instance{
		{ID: "a", Status: "connected"},
		{ID: "b", Status: "waiting-qr"},
		{ID: "c", Connected: true},
	}
	got := filterConnectedOnly(list, false)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("só conectadas: %+v", got)
	}
	if got := filterConnectedOnly(list, true); len(got) != 3 {
		t.Fatalf("showAll deveria passar tudo")
	}
}

func TestReconcileSelection(t *testing.T) {
	visible := []Instance{{ID: "a"}, {ID: "b"}}

	if id, changed := reconcileSelection("a", visible); changed || id != "a" {
		t.Fatalf("seleção dentro do recorte não muda: %q %v", id, changed)
	}
	if id, changed := reconcileSelection("z", visible); !changed || id != "" {
		t.Fatalf("seleção fora do recorte deveria ser limpa: %q %v", id, changed)
	}
	if _, changed := reconcileSelection("", visible); changed {
		t.Fatalf("sem seleção nada muda")
	}
}

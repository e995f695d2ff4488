package main

// Tenancy em duas camadas: org/flow (headers ou claims do JWT) para as
// linhas do banco, e o tenant id do convênio/instância para o recorte
// visível da lista de instâncias.

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

func tenantFromHeaders(r *http.Request) (int64, int64, error) {
	org := r.Header.Get("X-Org-ID")
	flow := r.Header.Get("X-Flow-ID")
	if org == "" || flow == "" {
		return 0, 0, errors.New("X-Org-ID and X-Flow-ID required")
	}
	o, err := strconv.ParseInt(org, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid X-Org-ID")
	}
	f, err := strconv.ParseInt(flow, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid X-Flow-ID")
	}
	return o, f, nil
}

// tenantRequest resolve org/flow preferindo o token e caindo para os
// headers (mesma ordem do restante da plataforma).
func (app *App) tenantRequest(r *http.Request) (int64, int64, error) {
	if _, org, flow, err := extractUserFromToken(r); err == nil {
		return org, flow, nil
	}
	return tenantFromHeaders(r)
}

// chaves diretas candidatas a carregar o tenant id
var tenantIDKeys = []string{"tenantId", "tenant_id", "tenantID", "brokerId", "broker_id", "accountId", "account_id"}

// objetos aninhados onde o tenant id costuma se esconder
var tenantNestedKeys = []string{"metadata", "tenant", "account", "agreement"}

// resolveTenantID procura o tenant id num objeto frouxo: primeiro os
// campos diretos, depois os objetos aninhados; o primeiro valor não
// vazio vence. Devolve "" quando nada é resolvível.
func resolveTenantID(m map[string]any) string {
	if m == nil {
		return ""
	}
	for _, k := range tenantIDKeys {
		if s := stringish(m[k]); s != "" {
			return s
		}
		// ids numéricos também aparecem
		if f, ok := m[k].(float64); ok && f != 0 {
			return strconv.FormatInt(int64(f), 10)
		}
	}
	for _, k := range tenantNestedKeys {
		if inner, ok := m[k].(map[string]any); ok {
			if s := resolveTenantID(inner); s != "" {
				return s
			}
		}
	}
	return ""
}

// instanceTenantID resolve o tenant de uma instância a partir dos
// metadados dela.
func instanceTenantID(inst Instance) string {
	return resolveTenantID(inst.Metadata)
}

// filterInstancesByTenant recorta a lista para o tenant do convênio.
// Convênio sem tenant resolvível passa tudo: fail-open, para que um
// convênio mal configurado não esconda instâncias da tela.
func filterInstancesByTenant(list []Instance, tenantID string) []Instance {
	if strings.TrimSpace(tenantID) == "" {
		return list
	}
	out := make([]Instance, 0, len(list))
	for _, inst := range list {
		if instanceTenantID(inst) == tenantID {
			out = append(out, inst)
		}
	}
	return out
}

// filterConnectedOnly aplica o toggle "mostrar todas / só conectadas",
// sempre DEPOIS do recorte por tenant.
func filterConnectedOnly(list []Instance, showAll bool) []Instance {
	if showAll {
		return list
	}
	out := make([]Instance, 0, len(list))
	for _, inst := range list {
		if normalizeStatus(inst.Status, inst.Connected) == StatusConnected {
			out = append(out, inst)
		}
	}
	return out
}

// reconcileSelection desseleciona a instância corrente quando ela saiu
// do recorte visível. Devolve o id (possivelmente vazio) e se mudou.
func reconcileSelection(selected string, visible []Instance) (string, bool) {
	if selected == "" {
		return "", false
	}
	for _, inst := range visible {
		if inst.ID == selected {
			return selected, false
		}
	}
	return "", true
}

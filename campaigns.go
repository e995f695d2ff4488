package main

// Campanhas: regras de roteamento de leads para uma instância
// conectada. CRUD fino sobre o Postgres com recarga da lista (e dica de
// seleção preferida) depois de cada mutação; marcador campaignAction
// na sessão dá ao front o spinner por linha sem fila de tarefas.

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Campaign struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Status      string         `json:"status"`
	AgreementID string         `json:"agreementId,omitempty"`
	InstanceID  string         `json:"instanceId,omitempty"`
	Metrics     map[string]any `json:"metrics,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

var campaignStatuses = map[string]bool{
	"active": true,
	"paused": true,
	"draft":  true,
}

func (app *App) mountCampaigns(r chi.Router) {
	r.Route("/campaigns", func(r chi.Router) {
		r.Get("/", app.listCampaigns)
		r.Post("/", app.createCampaign)
		r.Get("/metrics", app.campaignMetrics)
		r.Patch("/{id}/status", app.updateCampaignStatus)
		r.Post("/{id}/reassign", app.reassignCampaign)
		r.Delete("/{id}", app.deleteCampaign)
	})
	r.Get("/agreements", app.listAgreements)
}

// validateReassign rejeita, antes de qualquer mutação, a reatribuição
// para a instância onde a campanha já está.
func validateReassign(current Campaign, targetInstanceID string) error {
	targetInstanceID = strings.TrimSpace(targetInstanceID)
	if targetInstanceID == "" {
		return &apiError{Status: http.StatusUnprocessableEntity, Code: "INVALID_INSTANCE", Message: "Selecione a instância de destino."}
	}
	if current.InstanceID == targetInstanceID {
		return &apiError{Status: http.StatusUnprocessableEntity, Code: "SAME_INSTANCE", Message: "A campanha já está atribuída a esta instância."}
	}
	return nil
}

// ================================
// Acesso ao banco
// ================================

func scanCampaign(scan func(dest ...any) error) (Campaign, error) {
	var c Campaign
	var agreementID, instanceID *string
	var metrics, metadata []byte
	err := scan(&c.ID, &c.Name, &c.Status, &agreementID, &instanceID, &metrics, &metadata, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	if agreementID != nil {
		c.AgreementID = *agreementID
	}
	if instanceID != nil {
		c.InstanceID = *instanceID
	}
	if len(metrics) > 0 {
		_ = json.Unmarshal(metrics, &c.Metrics)
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &c.Metadata)
	}
	return c, nil
}

const campaignColumns = `id, name, status, agreement_id, instance_id, metrics, metadata, created_at, updated_at`

func (app *App) loadCampaigns(ctx context.Context, orgID, flowID int64) ([]Campaign, error) {
	rows, err := app.DB.Query(ctx, `
SELECT `+campaignColumns+`
FROM public.campaigns
WHERE org_id=$1 AND flow_id=$2
ORDER BY created_at DESC
LIMIT 500`, orgID, flowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (app *App) loadCampaign(ctx context.Context, orgID, flowID int64, id string) (Campaign, error) {
	row := app.DB.QueryRow(ctx, `
SELECT `+campaignColumns+`
FROM public.campaigns
WHERE id=$1 AND org_id=$2 AND flow_id=$3`, id, orgID, flowID)
	return scanCampaign(row.Scan)
}

// reloadCampaigns recarrega a lista para a sessão depois de uma
// mutação, honrando a dica de seleção preferida.
func (app *App) reloadCampaigns(ctx context.Context, orgID, flowID int64, sessionID, preferID string) []Campaign {
	list, err := app.loadCampaigns(ctx, orgID, flowID)
	if err != nil {
		app.dispatchSession(sessionID, SetCampaignError{Value: "Não foi possível recarregar as campanhas."})
		return nil
	}
	app.dispatchSession(sessionID, SetCampaigns{Value: list})
	if preferID != "" {
		for i := range list {
			if list[i].ID == preferID {
				app.dispatchSession(sessionID, SetCampaign{Value: &list[i]})
				break
			}
		}
	}
	return list
}

// ================================
// Handlers
// ================================

// GET /api/campaigns
func (app *App) listCampaigns(w http.ResponseWriter, r *http.Request) {
	orgID, flowID, err := app.tenantRequest(r)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	list, err := app.loadCampaigns(r.Context(), orgID, flowID)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	if list == nil {
		list = []Campaign{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": list})
}

// POST /api/campaigns
func (app *App) createCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, flowID, err := app.tenantRequest(r)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	sessionID := r.Header.Get("X-Session-ID")

	var in struct {
		Name        string         `json:"name"`
		Status      string         `json:"status"`
		AgreementID string         `json:"agreementId"`
		InstanceID  string         `json:"instanceId"`
		Metadata    map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeFieldError(w, "body", "JSON inválido.")
		return
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		writeFieldError(w, "name", "Informe o nome da campanha.")
		return
	}
	if in.Status == "" {
		in.Status = "draft"
	}
	if !campaignStatuses[in.Status] {
		writeFieldError(w, "status", "Status de campanha inválido.")
		return
	}

	id := uuid.NewString()
	app.dispatchSession(sessionID, SetCampaignAction{Value: &CampaignAction{ID: id, Type: "create"}})
	defer app.dispatchSession(sessionID, SetCampaignAction{Value: nil})

	meta, _ := json.Marshal(in.Metadata)
	_, err = app.DB.Exec(ctx, `
INSERT INTO public.campaigns (id, org_id, flow_id, name, status, agreement_id, instance_id, metrics, metadata)
VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),NULLIF($7,''),'{}',$8)`,
		id, orgID, flowID, in.Name, in.Status, in.AgreementID, in.InstanceID, meta)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "", err.Error())
		return
	}

	app.reloadCampaigns(ctx, orgID, flowID, sessionID, id)
	c, err := app.loadCampaign(ctx, orgID, flowID, id)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": c})
}

// PATCH /api/campaigns/{id}/status
func (app *App) updateCampaignStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, flowID, err := app.tenantRequest(r)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	sessionID := r.Header.Get("X-Session-ID")
	id := chi.URLParam(r, "id")

	var in struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || !campaignStatuses[in.Status] {
		writeFieldError(w, "status", "Status de campanha inválido.")
		return
	}

	app.dispatchSession(sessionID, SetCampaignAction{Value: &CampaignAction{ID: id, Type: "status"}})
	defer app.dispatchSession(sessionID, SetCampaignAction{Value: nil})

	tag, err := app.DB.Exec(ctx, `
UPDATE public.campaigns SET status=$1, updated_at=NOW()
WHERE id=$2 AND org_id=$3 AND flow_id=$4`, in.Status, id, orgID, flowID)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	if tag.RowsAffected() == 0 {
		writeAPIError(w, http.StatusNotFound, "CAMPAIGN_NOT_FOUND", "")
		return
	}

	app.reloadCampaigns(ctx, orgID, flowID, sessionID, id)
	c, _ := app.loadCampaign(ctx, orgID, flowID, id)
	writeJSON(w, http.StatusOK, map[string]any{"data": c})
}

// POST /api/campaigns/{id}/reassign
func (app *App) reassignCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, flowID, err := app.tenantRequest(r)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	sessionID := r.Header.Get("X-Session-ID")
	id := chi.URLParam(r, "id")

	var in struct {
		InstanceID string `json:"instanceId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeFieldError(w, "instanceId", "Selecione a instância de destino.")
		return
	}

	current, err := app.loadCampaign(ctx, orgID, flowID, id)
	if err != nil {
		writeAPIError(w, http.StatusNotFound, "CAMPAIGN_NOT_FOUND", "")
		return
	}

	// rejeição antes de qualquer mutação
	if err := validateReassign(current, in.InstanceID); err != nil {
		var ae *apiError
		if asAPIError(err, &ae) {
			app.dispatchSession(sessionID, SetCampaignError{Value: resolveErrorCopy(ae.Code, ae.Message).Message})
			writeAPIError(w, ae.Status, ae.Code, ae.Message)
			return
		}
		writeAPIError(w, http.StatusUnprocessableEntity, "", err.Error())
		return
	}

	app.dispatchSession(sessionID, SetCampaignAction{Value: &CampaignAction{ID: id, Type: "reassign"}})
	defer app.dispatchSession(sessionID, SetCampaignAction{Value: nil})

	_, err = app.DB.Exec(ctx, `
UPDATE public.campaigns SET instance_id=$1, updated_at=NOW()
WHERE id=$2 AND org_id=$3 AND flow_id=$4`, strings.TrimSpace(in.InstanceID), id, orgID, flowID)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "", err.Error())
		return
	}

	app.dispatchSession(sessionID, SetPendingReassign{Value: ""})
	app.dispatchSession(sessionID, SetReassignIntent{Value: nil})
	app.reloadCampaigns(ctx, orgID, flowID, sessionID, id)
	c, _ := app.loadCampaign(ctx, orgID, flowID, id)
	writeJSON(w, http.StatusOK, map[string]any{"data": c})
}

// DELETE /api/campaigns/{id}
func (app *App) deleteCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, flowID, err := app.tenantRequest(r)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	sessionID := r.Header.Get("X-Session-ID")
	id := chi.URLParam(r, "id")

	app.dispatchSession(sessionID, SetCampaignAction{Value: &CampaignAction{ID: id, Type: "delete"}})
	defer app.dispatchSession(sessionID, SetCampaignAction{Value: nil})

	tag, err := app.DB.Exec(ctx, `
DELETE FROM public.campaigns WHERE id=$1 AND org_id=$2 AND flow_id=$3`, id, orgID, flowID)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	if tag.RowsAffected() == 0 {
		writeAPIError(w, http.StatusNotFound, "CAMPAIGN_NOT_FOUND", "")
		return
	}

	// campanha deletada não pode continuar selecionada
	if sessionID != "" {
		if s, err := app.Sessions.Get(sessionID); err == nil && s.Campaign != nil && s.Campaign.ID == id {
			app.dispatchSession(sessionID, SetCampaign{Value: nil})
		}
	}
	app.reloadCampaigns(ctx, orgID, flowID, sessionID, "")
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"deleted": true}})
}

// GET /api/campaigns/metrics — agregado simples por status, para os
// cards de resumo do painel.
func (app *App) campaignMetrics(w http.ResponseWriter, r *http.Request) {
	orgID, flowID, err := app.tenantRequest(r)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	rows, err := app.DB.Query(r.Context(), `
SELECT status, COUNT(*) FROM public.campaigns
WHERE org_id=$1 AND flow_id=$2
GROUP BY status`, orgID, flowID)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	defer rows.Close()

	counts := map[string]int64{}
	var total int64
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			writeAPIError(w, http.StatusInternalServerError, "", err.Error())
			return
		}
		counts[status] = n
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"total":    total,
		"byStatus": counts,
	}})
}

// ================================
// Convênios
// ================================

// loadAgreement devolve o convênio como objeto frouxo (o tenant id pode
// estar aninhado nos metadados).
func (app *App) loadAgreement(ctx context.Context, orgID, flowID int64, id string) (map[string]any, error) {
	var name string
	var tenantID *string
	var meta []byte
	err := app.DB.QueryRow(ctx, `
SELECT name, tenant_id, metadata FROM public.agreements
WHERE id=$1 AND org_id=$2 AND flow_id=$3`, id, orgID, flowID).Scan(&name, &tenantID, &meta)
	if err != nil {
		return nil, err
	}
	out := map[string]any{"id": id, "name": name}
	if tenantID != nil && *tenantID != "" {
		out["tenantId"] = *tenantID
	}
	if len(meta) > 0 {
		var m map[string]any
		if json.Unmarshal(meta, &m) == nil {
			out["metadata"] = m
		}
	}
	return out, nil
}

// GET /api/agreements
func (app *App) listAgreements(w http.ResponseWriter, r *http.Request) {
	orgID, flowID, err := app.tenantRequest(r)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	rows, err := app.DB.Query(r.Context(), `
SELECT id, name, tenant_id, metadata FROM public.agreements
WHERE org_id=$1 AND flow_id=$2
ORDER BY name`, orgID, flowID)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		var id, name string
		var tenantID *string
		var meta []byte
		if err := rows.Scan(&id, &name, &tenantID, &meta); err != nil {
			writeAPIError(w, http.StatusInternalServerError, "", err.Error())
			return
		}
		item := map[string]any{"id": id, "name": name}
		if tenantID != nil && *tenantID != "" {
			item["tenantId"] = *tenantID
		}
		if len(meta) > 0 {
			var m map[string]any
			if json.Unmarshal(meta, &m) == nil {
				item["metadata"] = m
			}
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

package main

// Instâncias de WhatsApp: registro local (Postgres) + estado vivo vindo
// do broker. As rotas abaixo servem a lista recortada por tenant, o
// ciclo de QR e o CRUD proxy para o broker.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	cache "github.com/patrickmn/go-cache"
)

// Instance é a entidade externa (dona: broker), somente leitura aqui
// fora a seleção otimista local.
type Instance struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Status    string         `json:"status"`
	Connected bool           `json:"connected"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// normalizeStatus reduz o vocabulário do broker aos quatro estados
// locais. O booleano connected do payload tem precedência.
func normalizeStatus(raw string, connected bool) LocalStatus {
	if connected {
		return StatusConnected
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "connected", "open", "online", "loggedin", "logged_in":
		return StatusConnected
	case "connecting", "pairing", "loading", "starting", "syncing":
		return StatusConnecting
	case "qr", "qrcode", "qr_required", "waiting-qr", "waiting_qr", "scan", "scan_qr":
		return StatusQRRequired
	default:
		return StatusDisconnected
	}
}

func (app *App) mountInstances(r chi.Router) {
	r.Route("/integrations/whatsapp/instances", func(r chi.Router) {
		r.Get("/", app.listInstances)
		r.Post("/", app.createInstance)
		r.Get("/{instance}", app.instanceStatus)
		r.Get("/{instance}/qr", app.instanceQR)
		r.Post("/{instance}/connect", app.connectInstance)
		r.Post("/{instance}/disconnect", app.disconnectInstance)
		r.Delete("/{instance}", app.deleteInstance)
	})
	r.Get("/preferences/wa_show_all_instances", app.getShowAllPreference)
	r.Put("/preferences/wa_show_all_instances", app.setShowAllPreference)
}

// ================================
// Registro local
// ================================

func (app *App) upsertInstance(ctx context.Context, orgID, flowID int64, inst Instance, token string) error {
	var meta []byte
	if len(inst.Metadata) > 0 {
		meta, _ = json.Marshal(inst.Metadata)
	}
	// nome/token/metadata vazios não sobrescrevem o registro existente
	_, err := app.DB.Exec(ctx, `
INSERT INTO public.wa_instances (instance_id, name, token, status, org_id, flow_id, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (instance_id) DO UPDATE
SET
  name       = COALESCE(NULLIF(EXCLUDED.name,''), public.wa_instances.name),
  token      = COALESCE(NULLIF(EXCLUDED.token,''), public.wa_instances.token),
  status     = EXCLUDED.status,
  metadata   = COALESCE(EXCLUDED.metadata, public.wa_instances.metadata),
  updated_at = NOW()
`, inst.ID, inst.Name, token, inst.Status, orgID, flowID, meta)
	return err
}

func (app *App) loadInstances(ctx context.Context, orgID, flowID int64) ([]Instance, error) {
	rows, err := app.DB.Query(ctx, `
SELECT instance_id, name, status, metadata
FROM public.wa_instances
WHERE org_id=$1 AND flow_id=$2
ORDER BY created_at DESC`, orgID, flowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Instance
	for rows.Next() {
		var inst Instance
		var status *string
		var meta []byte
		if err := rows.Scan(&inst.ID, &inst.Name, &status, &meta); err != nil {
			return nil, err
		}
		if status != nil {
			inst.Status = *status
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &inst.Metadata)
		}
		inst.Connected = normalizeStatus(inst.Status, false) == StatusConnected
		out = append(out, inst)
	}
	return out, rows.Err()
}

// lookupInstanceToken busca o token com escopo de org/flow: instância de
// outro tenant devolve pgx.ErrNoRows.
func (app *App) lookupInstanceToken(ctx context.Context, orgID, flowID int64, instanceID string) (string, error) {
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return "", nil
	}
	var token *string
	err := app.DB.QueryRow(ctx,
		`SELECT token FROM public.wa_instances WHERE instance_id=$1 AND org_id=$2 AND flow_id=$3 LIMIT 1`,
		instanceID, orgID, flowID,
	).Scan(&token)
	if err != nil {
		return "", err
	}
	if token == nil {
		return "", nil
	}
	return *token, nil
}

// refreshInstance consulta o broker, normaliza e persiste o status.
// forceRefresh=true ignora o cache de status.
func (app *App) refreshInstance(ctx context.Context, orgID, flowID int64, instanceID string, force bool) (Instance, error) {
	cacheKey := "status:" + instanceID
	if !force {
		if v, ok := app.StatusCache.Get(cacheKey); ok {
			return v.(Instance), nil
		}
	}
	token, _ := app.lookupInstanceToken(ctx, orgID, flowID, instanceID)
	raw, err := app.Broker.InstanceStatus(ctx, instanceID, token)
	if err != nil {
		return Instance{}, err
	}
	inst := instanceFromPayload(instanceID, raw)
	_ = app.upsertInstance(ctx, orgID, flowID, inst, "")
	app.StatusCache.Set(cacheKey, inst, cache.DefaultExpiration)
	return inst, nil
}

// instanceFromPayload normaliza o payload frouxo de status do broker.
func instanceFromPayload(instanceID string, raw map[string]any) Instance {
	inst := Instance{ID: instanceID, Metadata: map[string]any{}}
	if raw == nil {
		inst.Status = string(StatusDisconnected)
		return inst
	}
	inst.Name = pickStr(raw, "name", "instanceName", "instance")
	status := pickStr(raw, "status", "state")
	if status == "" {
		if c, ok := raw["connect"].(map[string]any); ok {
			status = pickStr(c, "status", "state")
		}
	}
	connected := false
	if b, ok := raw["connected"].(bool); ok {
		connected = b
	} else if b, ok := raw["loggedIn"].(bool); ok {
		connected = b
	}
	local := normalizeStatus(status, connected)
	inst.Status = string(local)
	inst.Connected = local == StatusConnected
	if m, ok := raw["metadata"].(map[string]any); ok {
		inst.Metadata = m
	}
	return inst
}

// ================================
// Handlers
// ================================

// GET /api/integrations/whatsapp/instances?agreementId=...&forceRefresh=1
// Lista recortada: tenant do convênio primeiro, depois o toggle
// "mostrar todas". O header X-Session-ID liga a reconciliação de
// seleção da sessão de onboarding.
func (app *App) listInstances(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, flowID, err := app.tenantRequest(r)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}

	list, err := app.loadInstances(ctx, orgID, flowID)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "", err.Error())
		return
	}

	force := r.URL.Query().Get("forceRefresh") == "1" || r.URL.Query().Get("forceRefresh") == "true"
	if force {
		for i := range list {
			if fresh, err := app.refreshInstance(ctx, orgID, flowID, list[i].ID, true); err == nil {
				fresh.Metadata = list[i].Metadata
				list[i] = fresh
			}
		}
	}

	tenantID := ""
	if agreementID := strings.TrimSpace(r.URL.Query().Get("agreementId")); agreementID != "" {
		ag, err := app.loadAgreement(ctx, orgID, flowID, agreementID)
		if err == nil {
			tenantID = resolveTenantID(ag)
		}
	}

	sessionID := r.Header.Get("X-Session-ID")
	var sess *ConnectState
	if sessionID != "" {
		if s, err := app.Sessions.Get(sessionID); err == nil {
			sess = s
		}
	}

	visible := filterInstancesByTenant(list, tenantID)
	showAll := effectiveShowAll(sess, app.showAllPreference(ctx, orgID, flowID))
	visible = filterConnectedOnly(visible, showAll)

	if sess != nil {
		// a instância selecionada pode ter conectado neste refresh; a
		// invariante do painel de QR vale em qualquer observação
		for _, inst := range list {
			if inst.ID == sess.ExpandedInstanceID {
				app.reconcileSessionStatus(sessionID, normalizeStatus(inst.Status, inst.Connected))
				break
			}
		}
		if next, changed := reconcileSelection(sess.ExpandedInstanceID, visible); changed {
			_, _, _ = app.Sessions.Dispatch(sessionID, SetExpandedInstanceID{Value: next})
		}
	}

	if visible == nil {
		visible = []Instance{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": visible})
}

// POST /api/integrations/whatsapp/instances
func (app *App) createInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, flowID, err := app.tenantRequest(r)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	var in struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.Name) == "" {
		writeFieldError(w, "name", "Informe o nome da instância.")
		return
	}

	raw, err := app.Broker.CreateInstance(ctx, in.Name)
	if err != nil {
		app.writeBrokerError(w, err)
		return
	}
	instanceID := pickStr(raw, "instanceId", "instance", "id")
	if instanceID == "" {
		instanceID = strings.ToLower(strings.ReplaceAll(in.Name, " ", "-")) + "-" + randToken(4)
	}
	token := pickStr(raw, "token", "instanceToken", "instance_token")

	inst := instanceFromPayload(instanceID, raw)
	inst.Name = in.Name
	if err := app.upsertInstance(ctx, orgID, flowID, inst, token); err != nil {
		writeAPIError(w, http.StatusInternalServerError, "", err.Error())
		return
	}

	app.Hub.Broadcast(tenantRoom(orgID, flowID), EventInstanceCreated, inst)
	writeJSON(w, http.StatusCreated, map[string]any{"data": inst})
}

// GET /api/integrations/whatsapp/instances/{instance}
func (app *App) instanceStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, flowID, err := app.tenantRequest(r)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	instanceID := chi.URLParam(r, "instance")
	if strings.TrimSpace(instanceID) == "" {
		writeAPIError(w, http.StatusBadRequest, "", "missing instance")
		return
	}
	force := r.URL.Query().Get("forceRefresh") == "1" || r.URL.Query().Get("forceRefresh") == "true"
	inst, err := app.refreshInstance(ctx, orgID, flowID, instanceID, force)
	if err != nil {
		app.writeBrokerError(w, err)
		return
	}
	// conexão observada por aqui também fecha o painel de QR da sessão
	app.reconcileSessionStatus(r.Header.Get("X-Session-ID"), normalizeStatus(inst.Status, inst.Connected))
	writeJSON(w, http.StatusOK, map[string]any{"data": inst})
}

// GET /api/integrations/whatsapp/instances/{instance}/qr
// Busca o payload de QR no broker, normaliza, materializa a imagem e
// arma a contagem de expiração.
func (app *App) instanceQR(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, flowID, err := app.tenantRequest(r)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	instanceID := chi.URLParam(r, "instance")
	if strings.TrimSpace(instanceID) == "" {
		writeAPIError(w, http.StatusBadRequest, "", "missing instance")
		return
	}

	token, _ := app.lookupInstanceToken(ctx, orgID, flowID, instanceID)
	raw, err := app.Broker.InstanceQR(ctx, instanceID, token)
	if err != nil {
		app.writeBrokerError(w, err)
		return
	}

	qr := normalizeQrPayload(raw)
	image, err := renderQrImage(qr)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	maybePrintTerminalQr(qr.Code)

	app.trackQr(orgID, flowID, instanceID, qr)

	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"qr":              qr,
		"image":           image,
		"secondsLeft":     qrSecondsLeft(qr),
		"needsGeneration": qr.NeedsGeneration,
	}})
}

func qrSecondsLeft(qr NormalizedQr) *int {
	if qr.ExpiresAt == nil {
		return nil
	}
	s := secondsUntil(time.Now(), *qr.ExpiresAt)
	return &s
}

// trackQr guarda o QR corrente (TTL = expiração) e arma a contagem que
// vira o status para qr_required ao zerar.
func (app *App) trackQr(orgID, flowID int64, instanceID string, qr NormalizedQr) {
	ttl := cache.DefaultExpiration
	if qr.ExpiresAt != nil {
		if d := time.Until(*qr.ExpiresAt); d > 0 {
			ttl = d
		}
	}
	app.QrCache.Set("qr:"+instanceID, qr, ttl)

	room := tenantRoom(orgID, flowID)
	app.Hub.Broadcast(room, EventInstanceQR, map[string]any{
		"instanceId": instanceID,
		"qr":         qr,
	})

	statusFn := func() LocalStatus {
		if v, ok := app.StatusCache.Get("status:" + instanceID); ok {
			return normalizeStatus(v.(Instance).Status, v.(Instance).Connected)
		}
		return StatusQRRequired
	}
	app.Watcher.Watch(instanceID, qr.ExpiresAt, statusFn, nil, func() {
		expired := Instance{ID: instanceID, Status: string(StatusQRRequired)}
		app.StatusCache.Set("status:"+instanceID, expired, cache.DefaultExpiration)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.upsertInstance(ctx, orgID, flowID, expired, "")
		app.Hub.Broadcast(room, EventInstanceUpdated, expired)
	})
}

// POST /api/integrations/whatsapp/instances/{instance}/disconnect
func (app *App) disconnectInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, flowID, err := app.tenantRequest(r)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	instanceID := chi.URLParam(r, "instance")
	if strings.TrimSpace(instanceID) == "" {
		writeAPIError(w, http.StatusBadRequest, "", "missing instance")
		return
	}

	// posse verificada antes de tocar o broker
	token, err := app.lookupInstanceToken(ctx, orgID, flowID, instanceID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeAPIError(w, http.StatusNotFound, "INSTANCE_NOT_FOUND", "")
		return
	}
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	if err := app.Broker.DisconnectInstance(ctx, instanceID, token); err != nil {
		app.writeBrokerError(w, err)
		return
	}
	inst := Instance{ID: instanceID, Status: string(StatusDisconnected)}
	app.StatusCache.Set("status:"+instanceID, inst, cache.DefaultExpiration)
	if err := app.upsertInstance(ctx, orgID, flowID, inst, ""); err != nil {
		writeAPIError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	app.Watcher.Stop(instanceID)
	app.QrCache.Delete("qr:" + instanceID)

	app.Hub.Broadcast(tenantRoom(orgID, flowID), EventInstanceUpdated, inst)
	writeJSON(w, http.StatusOK, map[string]any{"data": inst})
}

// DELETE /api/integrations/whatsapp/instances/{instance}
func (app *App) deleteInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, flowID, err := app.tenantRequest(r)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	instanceID := chi.URLParam(r, "instance")
	if strings.TrimSpace(instanceID) == "" {
		writeAPIError(w, http.StatusBadRequest, "", "missing instance")
		return
	}

	// posse verificada antes de tocar o broker
	token, err := app.lookupInstanceToken(ctx, orgID, flowID, instanceID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeAPIError(w, http.StatusNotFound, "INSTANCE_NOT_FOUND", "")
		return
	}
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	if err := app.Broker.DeleteInstance(ctx, instanceID, token); err != nil {
		app.writeBrokerError(w, err)
		return
	}
	if _, err := app.DB.Exec(ctx,
		`DELETE FROM public.wa_instances WHERE instance_id=$1 AND org_id=$2 AND flow_id=$3`,
		instanceID, orgID, flowID); err != nil {
		writeAPIError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	app.Watcher.Stop(instanceID)
	app.StatusCache.Delete("status:" + instanceID)
	app.QrCache.Delete("qr:" + instanceID)

	app.Hub.Broadcast(tenantRoom(orgID, flowID), EventInstanceRemoved, map[string]any{"instanceId": instanceID})
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"deleted": true}})
}

// ================================
// Preferência "mostrar todas"
// ================================

// showAllPreference lê a preferência persistida de forma defensiva:
// qualquer falha de leitura cai em false.
func (app *App) showAllPreference(ctx context.Context, orgID, flowID int64) bool {
	var value string
	err := app.DB.QueryRow(ctx,
		`SELECT value FROM public.ui_preferences WHERE org_id=$1 AND flow_id=$2 AND key=$3`,
		orgID, flowID, prefShowAllInstances).Scan(&value)
	if err != nil {
		return false
	}
	return value == "1"
}

const prefShowAllInstances = "wa_show_all_instances"

// effectiveShowAll: com sessão ligada o valor dela manda (a sessão nasce
// semeada da preferência persistida); sem sessão vale o persistido.
func effectiveShowAll(s *ConnectState, persisted bool) bool {
	if s != nil {
		return s.ShowAllInstances
	}
	return persisted
}

func (app *App) getShowAllPreference(w http.ResponseWriter, r *http.Request) {
	orgID, flowID, err := app.tenantRequest(r)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"key":   prefShowAllInstances,
		"value": app.showAllPreference(r.Context(), orgID, flowID),
	}})
}

func (app *App) setShowAllPreference(w http.ResponseWriter, r *http.Request) {
	orgID, flowID, err := app.tenantRequest(r)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	var in struct {
		Value bool `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeFieldError(w, "value", "Valor inválido.")
		return
	}
	stored := "0"
	if in.Value {
		stored = "1"
	}
	// última escrita vence (mesma semântica do localStorage do front)
	_, err = app.DB.Exec(r.Context(), `
INSERT INTO public.ui_preferences (org_id, flow_id, key, value)
VALUES ($1, $2, $3, $4)
ON CONFLICT (org_id, flow_id, key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`,
		orgID, flowID, prefShowAllInstances, stored)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	// mantém a sessão ligada em dia com o valor persistido
	app.dispatchSession(r.Header.Get("X-Session-ID"), SetShowAllInstances{Value: in.Value})
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"key":   prefShowAllInstances,
		"value": in.Value,
	}})
}

// writeBrokerError converte o erro do broker em resposta HTTP com o
// texto resolvido; 401 do broker vira o fallback de autenticação.
func (app *App) writeBrokerError(w http.ResponseWriter, err error) {
	var ae *apiError
	if asAPIError(err, &ae) {
		if ae.Status == http.StatusUnauthorized {
			writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", ae.Message)
			return
		}
		writeAPIError(w, http.StatusBadGateway, ae.Code, ae.Message)
		return
	}
	writeAPIError(w, http.StatusBadGateway, "BROKER_UNAVAILABLE", err.Error())
}

package main

// Webhook que o broker chama: POST /api/webhooks/wa/{instance}.
// O payload bruto é logado, normalizado e vira evento na sala do
// tenant. Sempre respondemos 202 para o broker não reenviar o lote.

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	cache "github.com/patrickmn/go-cache"
)

func (app *App) webhookWa(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instance")
	if instanceID == "" {
		http.Error(w, "missing instance", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	// loga o payload bruto
	_, _ = app.DB.Exec(r.Context(),
		`INSERT INTO public.webhooks_log(source, event, payload) VALUES($1, $2, $3)`,
		"broker", "wa."+instanceID, json.RawMessage(body))

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	orgID, flowID, err := app.instanceTenancy(r.Context(), instanceID)
	if err != nil {
		log.Printf("webhook wa %s: instância desconhecida: %v", instanceID, err)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	// mudanças de conexão viram instance.updated
	inst := instanceFromPayload(instanceID, raw)
	app.StatusCache.Set("status:"+instanceID, inst, cache.DefaultExpiration)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.upsertInstance(ctx, orgID, flowID, inst, ""); err != nil {
		log.Printf("webhook wa upsert %s: %v", instanceID, err)
	}
	room := tenantRoom(orgID, flowID)
	app.Hub.Broadcast(room, EventInstanceUpdated, inst)

	if normalizeStatus(inst.Status, inst.Connected) == StatusConnected {
		app.Watcher.Stop(instanceID)
	}

	// QR embutido no evento arma o ciclo de expiração
	if qr := normalizeQrPayload(raw); qr.Code != "" {
		app.trackQr(orgID, flowID, instanceID, qr)
	}

	w.WriteHeader(http.StatusAccepted)
}

// instanceTenancy resolve o org/flow dono da instância registrada.
func (app *App) instanceTenancy(ctx context.Context, instanceID string) (int64, int64, error) {
	var orgID, flowID int64
	err := app.DB.QueryRow(ctx,
		`SELECT org_id, flow_id FROM public.wa_instances WHERE instance_id=$1 LIMIT 1`,
		instanceID).Scan(&orgID, &flowID)
	return orgID, flowID, err
}

package main

// Poller de status do broker: mantém o registro local e as salas
// realtime em dia mesmo sem webhook configurado. Falha de broker entra
// em backoff exponencial em vez de martelar o serviço.

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	cache "github.com/patrickmn/go-cache"
)

type watchedInstance struct {
	ID     string
	OrgID  int64
	FlowID int64
	Status string
	Token  string
}

// runBrokerWatcher roda até o contexto encerrar. Cada ciclo varre as
// instâncias registradas; um ciclo com erro de broker é reexecutado com
// backoff antes do próximo intervalo normal.
func (app *App) runBrokerWatcher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 2 * time.Second
		b.MaxInterval = interval
		b.MaxElapsedTime = 2 * interval
		err := backoff.Retry(func() error {
			return app.pollInstances(ctx)
		}, backoff.WithContext(b, ctx))
		if err != nil && ctx.Err() == nil {
			log.Printf("broker watcher: %v", err)
		}

		timer.Reset(interval)
	}
}

func (app *App) listWatchedInstances(ctx context.Context) ([]watchedInstance, error) {
	rows, err := app.DB.Query(ctx, `
SELECT instance_id, org_id, flow_id, COALESCE(status,''), COALESCE(token,'')
FROM public.wa_instances`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []watchedInstance
	for rows.Next() {
		var wi watchedInstance
		if err := rows.Scan(&wi.ID, &wi.OrgID, &wi.FlowID, &wi.Status, &wi.Token); err != nil {
			return nil, err
		}
		out = append(out, wi)
	}
	return out, rows.Err()
}

// pollInstances consulta o broker para cada instância registrada e
// propaga mudanças de status e QRs novos.
func (app *App) pollInstances(ctx context.Context) error {
	list, err := app.listWatchedInstances(ctx)
	if err != nil {
		return backoff.Permanent(err) // erro de banco não é culpa do broker
	}

	var lastErr error
	for _, wi := range list {
		raw, err := app.Broker.InstanceStatus(ctx, wi.ID, wi.Token)
		if err != nil {
			lastErr = err
			continue
		}
		inst := instanceFromPayload(wi.ID, raw)
		app.StatusCache.Set("status:"+wi.ID, inst, cache.DefaultExpiration)

		if inst.Status != wi.Status {
			if err := app.upsertInstance(ctx, wi.OrgID, wi.FlowID, inst, ""); err != nil {
				log.Printf("watcher upsert %s: %v", wi.ID, err)
				continue
			}
			app.Hub.Broadcast(tenantRoom(wi.OrgID, wi.FlowID), EventInstanceUpdated, inst)
			if normalizeStatus(inst.Status, inst.Connected) == StatusConnected {
				app.Watcher.Stop(wi.ID)
			}
		}

		// status pode carregar um QR novo embutido
		if qr := normalizeQrPayload(raw); qr.Code != "" {
			if prev, ok := app.QrCache.Get("qr:" + wi.ID); !ok || prev.(NormalizedQr).Code != qr.Code {
				app.trackQr(wi.OrgID, wi.FlowID, wi.ID, qr)
			}
		}
	}
	return lastErr
}

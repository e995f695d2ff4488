package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ensureSchema cria/ajusta o schema necessário de forma idempotente.
func ensureSchema(ctx context.Context, db *pgxpool.Pool) error {
	// Força search_path public (também feito no AfterConnect)
	_, _ = db.Exec(ctx, `SET search_path TO public`)

	stmts := []string{
		// ORGS
		`CREATE TABLE IF NOT EXISTS public.orgs (
			id          BIGSERIAL PRIMARY KEY,
			name        TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		// FLOWS
		`CREATE TABLE IF NOT EXISTS public.flows (
			id          BIGSERIAL PRIMARY KEY,
			org_id      BIGINT NOT NULL REFERENCES public.orgs(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		// USERS
		`CREATE TABLE IF NOT EXISTS public.users (
			id            BIGSERIAL PRIMARY KEY,
			org_id        BIGINT NOT NULL REFERENCES public.orgs(id) ON DELETE CASCADE,
			flow_id       BIGINT NOT NULL REFERENCES public.flows(id) ON DELETE CASCADE,
			name          TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			password      TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_users_email_lower ON public.users ((LOWER(email)));`,

		// CONVÊNIOS (agreements) — entidade de negócio com escopo de tenant
		`CREATE TABLE IF NOT EXISTS public.agreements (
			id          TEXT PRIMARY KEY,
			org_id      BIGINT NOT NULL REFERENCES public.orgs(id) ON DELETE CASCADE,
			flow_id     BIGINT NOT NULL REFERENCES public.flows(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			tenant_id   TEXT,
			metadata    JSONB,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_agreements_org_flow ON public.agreements (org_id, flow_id);`,

		// CAMPANHAS — regras de roteamento de leads por instância
		`CREATE TABLE IF NOT EXISTS public.campaigns (
			id           TEXT PRIMARY KEY,
			org_id       BIGINT NOT NULL REFERENCES public.orgs(id) ON DELETE CASCADE,
			flow_id      BIGINT NOT NULL REFERENCES public.flows(id) ON DELETE CASCADE,
			name         TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'draft',
			agreement_id TEXT,
			instance_id  TEXT,
			metrics      JSONB NOT NULL DEFAULT '{}',
			metadata     JSONB,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_org_flow ON public.campaigns (org_id, flow_id);`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_instance ON public.campaigns (instance_id);`,

		// WHATSAPP: INSTÂNCIAS
		`CREATE TABLE IF NOT EXISTS public.wa_instances (
			instance_id TEXT PRIMARY KEY,
			org_id      BIGINT NOT NULL REFERENCES public.orgs(id) ON DELETE CASCADE,
			flow_id     BIGINT NOT NULL REFERENCES public.flows(id) ON DELETE CASCADE,
			name        TEXT,
			token       TEXT,
			status      TEXT,
			metadata    JSONB,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_wa_instances_org_flow ON public.wa_instances (org_id, flow_id);`,

		// PREFERÊNCIAS DE UI (equivalente persistido do localStorage)
		`CREATE TABLE IF NOT EXISTS public.ui_preferences (
			org_id     BIGINT NOT NULL,
			flow_id    BIGINT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (org_id, flow_id, key)
		);`,

		// WEBHOOKS LOG
		`CREATE TABLE IF NOT EXISTS public.webhooks_log (
			id         BIGSERIAL PRIMARY KEY,
			source     TEXT,
			event      TEXT,
			payload    JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		// SEEDS (org=1 e flow=1)
		`INSERT INTO public.orgs (id, name) VALUES (1, 'Default Org')
		 ON CONFLICT (id) DO NOTHING;`,
		`INSERT INTO public.flows (id, org_id, name) VALUES (1, 1, 'Default Flow')
		 ON CONFLICT (id) DO NOTHING;`,
	}

	for _, q := range stmts {
		if _, err := db.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

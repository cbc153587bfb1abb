package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies the schema. Statements are idempotent so the service can
// run it unconditionally at startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			code        TEXT PRIMARY KEY,
			customer    TEXT NOT NULL DEFAULT '',
			total_cents BIGINT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'pending',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS payment_attempts (
			id                  UUID PRIMARY KEY,
			order_code          TEXT NOT NULL REFERENCES orders(code),
			method              TEXT NOT NULL,
			phone               TEXT NOT NULL DEFAULT '',
			amount_cents        BIGINT NOT NULL,
			checkout_request_id TEXT,
			merchant_request_id TEXT,
			reference           TEXT NOT NULL DEFAULT '',
			state               TEXT NOT NULL,
			receipt_number      TEXT NOT NULL DEFAULT '',
			payer_phone         TEXT NOT NULL DEFAULT '',
			failure_reason      TEXT NOT NULL DEFAULT '',
			created_at          TIMESTAMPTZ NOT NULL,
			resolved_at         TIMESTAMPTZ
		)`,
		// At most one in-flight attempt per order; the insert that loses a
		// race surfaces as a unique violation.
		`CREATE UNIQUE INDEX IF NOT EXISTS payment_attempts_active_order
			ON payment_attempts (order_code)
			WHERE state IN ('initiated', 'pending_confirmation')`,
		`CREATE UNIQUE INDEX IF NOT EXISTS payment_attempts_checkout
			ON payment_attempts (checkout_request_id)
			WHERE checkout_request_id IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS outbox (
			id             BIGSERIAL PRIMARY KEY,
			aggregate_type TEXT NOT NULL,
			aggregate_id   TEXT NOT NULL,
			type           TEXT NOT NULL,
			payload        JSONB NOT NULL,
			headers        JSONB,
			traceparent    TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL DEFAULT 'pending',
			relay_id       TEXT,
			lease_until    TIMESTAMPTZ,
			retry_count    INT NOT NULL DEFAULT 0,
			last_error     TEXT,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS outbox_pending ON outbox (id) WHERE status = 'pending'`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

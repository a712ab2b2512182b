// Package migrations applies the payment layer schema. Statements are
// idempotent so Apply can run on every startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS pay_profiles (
		key        TEXT PRIMARY KEY,
		owner      TEXT NOT NULL UNIQUE,
		username   TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pay_transfers (
		key         TEXT PRIMARY KEY,
		transfer_id BIGINT NOT NULL,
		sender      TEXT NOT NULL,
		recipient   TEXT NOT NULL,
		amount      BIGINT NOT NULL,
		remarks     TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pay_transfers_sender ON pay_transfers (sender)`,
	`CREATE INDEX IF NOT EXISTS idx_pay_transfers_recipient ON pay_transfers (recipient)`,
	`CREATE TABLE IF NOT EXISTS pay_group_payments (
		key               TEXT PRIMARY KEY,
		payment_id        BIGINT NOT NULL,
		creator           TEXT NOT NULL,
		recipient         TEXT NOT NULL,
		num_participants  BIGINT NOT NULL,
		amount_per_person BIGINT NOT NULL,
		total_amount      BIGINT NOT NULL,
		amount_collected  BIGINT NOT NULL,
		remarks           TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pay_group_payments_creator ON pay_group_payments (creator)`,
	`CREATE TABLE IF NOT EXISTS pay_accounts (
		address    TEXT PRIMARY KEY,
		balance    BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pay_movements (
		id           TEXT PRIMARY KEY,
		type         TEXT NOT NULL,
		from_address TEXT NOT NULL DEFAULT '',
		to_address   TEXT NOT NULL,
		amount       BIGINT NOT NULL,
		memo         TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pay_movements_from ON pay_movements (from_address)`,
	`CREATE INDEX IF NOT EXISTS idx_pay_movements_to ON pay_movements (to_address)`,
}

// Apply executes all schema statements in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

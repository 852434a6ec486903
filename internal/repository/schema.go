package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schema - DDL сервиса. Все операторы идемпотентны.
//
// mt5_accounts_one_connected_per_user гарантирует на уровне БД,
// что у пользователя не больше одного подключённого счёта.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		email VARCHAR(255) UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		role VARCHAR(20) NOT NULL DEFAULT 'user',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS mt5_accounts (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		account_id VARCHAR(64) NOT NULL,
		server VARCHAR(255) NOT NULL,
		api_key VARCHAR(128) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'disconnected',
		is_connected BOOLEAN NOT NULL DEFAULT false,
		balance NUMERIC(20, 2) NOT NULL DEFAULT 0,
		equity NUMERIC(20, 2) NOT NULL DEFAULT 0,
		last_sync TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS mt5_accounts_user_id_idx ON mt5_accounts(user_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS mt5_accounts_one_connected_per_user
		ON mt5_accounts(user_id) WHERE status = 'connected'`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
		action VARCHAR(64) NOT NULL,
		details JSONB NOT NULL DEFAULT '{}',
		ip_address VARCHAR(64) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS audit_logs_user_created_idx ON audit_logs(user_id, created_at DESC)`,
}

// Migrate применяет схему к базе
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}

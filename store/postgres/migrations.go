package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the PassLedger store.
var Migrations = migrate.NewGroup("passledger")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_passledger_supply",
			Version: "20250601000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS passledger_supply (
    id         SMALLINT PRIMARY KEY CHECK (id = 1),
    cap        BIGINT NOT NULL CHECK (cap >= 0),
    minted     BIGINT NOT NULL DEFAULT 0 CHECK (minted >= 0 AND minted <= cap),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS passledger_supply`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_passledger_accounts",
			Version: "20250601000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS passledger_accounts (
    id            TEXT PRIMARY KEY,
    balance       BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    checkpoint_ns BIGINT NOT NULL,
    last_credit   BIGINT NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS passledger_accounts`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_passledger_pass_tokens",
			Version: "20250601000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS passledger_pass_tokens (
    id          TEXT PRIMARY KEY,
    token       TEXT NOT NULL,
    issuer      TEXT NOT NULL,
    amount      BIGINT NOT NULL CHECK (amount > 0),
    redeemer    TEXT NOT NULL DEFAULT '',
    redeemed_at TIMESTAMPTZ,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_passledger_tokens_token ON passledger_pass_tokens (token);
CREATE INDEX IF NOT EXISTS idx_passledger_tokens_issuer ON passledger_pass_tokens (issuer, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_passledger_tokens_active ON passledger_pass_tokens (issuer) WHERE redeemer = '';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS passledger_pass_tokens`)
				return err
			},
		},
	)
}

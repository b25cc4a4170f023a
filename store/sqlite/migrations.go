package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the PassLedger store (SQLite).
var Migrations = migrate.NewGroup("passledger")

// Trigger messages are the ledger's sentinel error texts so that classify
// can map a RAISE back onto the sentinel.
const (
	createSupplySQL = `
CREATE TABLE IF NOT EXISTS passledger_supply (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    cap        INTEGER NOT NULL CHECK (cap >= 0),
    minted     INTEGER NOT NULL DEFAULT 0 CHECK (minted >= 0 AND minted <= cap),
    updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

	createAccountsSQL = `
CREATE TABLE IF NOT EXISTS passledger_accounts (
    id            TEXT PRIMARY KEY,
    balance       INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
    checkpoint_ns INTEGER NOT NULL,
    last_credit   INTEGER NOT NULL DEFAULT 0,
    created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TRIGGER IF NOT EXISTS passledger_accrual_reserve
AFTER UPDATE OF checkpoint_ns ON passledger_accounts
BEGIN
    UPDATE passledger_supply
    SET minted = minted + NEW.last_credit, updated_at = NEW.updated_at
    WHERE id = 1;
END;
`

	createPassTokensSQL = `
CREATE TABLE IF NOT EXISTS passledger_pass_tokens (
    id          TEXT PRIMARY KEY,
    token       TEXT NOT NULL,
    issuer      TEXT NOT NULL,
    amount      INTEGER NOT NULL CHECK (amount > 0),
    redeemer    TEXT NOT NULL DEFAULT '',
    redeemed_at DATETIME,
    created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_passledger_tokens_token ON passledger_pass_tokens (token);
CREATE INDEX IF NOT EXISTS idx_passledger_tokens_issuer ON passledger_pass_tokens (issuer, created_at DESC);

CREATE TRIGGER IF NOT EXISTS passledger_token_issue_check
BEFORE INSERT ON passledger_pass_tokens
BEGIN
    SELECT RAISE(ABORT, 'passledger: not found: account')
    WHERE NOT EXISTS (SELECT 1 FROM passledger_accounts WHERE id = NEW.issuer);
    SELECT RAISE(ABORT, 'passledger: insufficient funds')
    WHERE (SELECT balance FROM passledger_accounts WHERE id = NEW.issuer) < NEW.amount;
END;

CREATE TRIGGER IF NOT EXISTS passledger_token_issue_debit
AFTER INSERT ON passledger_pass_tokens
BEGIN
    UPDATE passledger_accounts
    SET balance = balance - NEW.amount, updated_at = NEW.created_at
    WHERE id = NEW.issuer;
END;

CREATE TRIGGER IF NOT EXISTS passledger_token_redeem_credit
AFTER UPDATE OF redeemer ON passledger_pass_tokens
WHEN OLD.redeemer = '' AND NEW.redeemer <> ''
BEGIN
    SELECT RAISE(ABORT, 'passledger: not found: account')
    WHERE NOT EXISTS (SELECT 1 FROM passledger_accounts WHERE id = NEW.redeemer);
    UPDATE passledger_accounts
    SET balance = balance + NEW.amount, updated_at = NEW.updated_at
    WHERE id = NEW.redeemer;
END;
`

	createGrantsSQL = `
CREATE TABLE IF NOT EXISTS passledger_grants (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id    TEXT NOT NULL,
    amount        INTEGER NOT NULL CHECK (amount > 0),
    checkpoint_ns INTEGER NOT NULL,
    created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_passledger_grants_account ON passledger_grants (account_id, created_at);

CREATE TRIGGER IF NOT EXISTS passledger_grant_check
BEFORE INSERT ON passledger_grants
BEGIN
    SELECT RAISE(ABORT, 'passledger: supply counter not initialized')
    WHERE NOT EXISTS (SELECT 1 FROM passledger_supply WHERE id = 1);
    SELECT RAISE(ABORT, 'passledger: supply exhausted')
    WHERE (SELECT cap - minted FROM passledger_supply WHERE id = 1) < NEW.amount;
END;

CREATE TRIGGER IF NOT EXISTS passledger_grant_apply
AFTER INSERT ON passledger_grants
BEGIN
    UPDATE passledger_supply
    SET minted = minted + NEW.amount, updated_at = NEW.created_at
    WHERE id = 1;
    INSERT OR IGNORE INTO passledger_accounts (id, balance, checkpoint_ns, last_credit, created_at, updated_at)
    VALUES (NEW.account_id, 0, NEW.checkpoint_ns, 0, NEW.created_at, NEW.created_at);
    UPDATE passledger_accounts
    SET balance = balance + NEW.amount, updated_at = NEW.created_at
    WHERE id = NEW.account_id;
END;
`
)

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_passledger_supply",
			Version: "20250601000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, createSupplySQL)
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
				_, err := exec.Exec(ctx, createAccountsSQL)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TRIGGER IF EXISTS passledger_accrual_reserve;
DROP TABLE IF EXISTS passledger_accounts;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_passledger_pass_tokens",
			Version: "20250601000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, createPassTokensSQL)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TRIGGER IF EXISTS passledger_token_redeem_credit;
DROP TRIGGER IF EXISTS passledger_token_issue_debit;
DROP TRIGGER IF EXISTS passledger_token_issue_check;
DROP TABLE IF EXISTS passledger_pass_tokens;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_passledger_grants",
			Version: "20250601000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, createGrantsSQL)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TRIGGER IF EXISTS passledger_grant_apply;
DROP TRIGGER IF EXISTS passledger_grant_check;
DROP TABLE IF EXISTS passledger_grants;
`)
				return err
			},
		},
	)
}

// Package plugin provides an extensible plugin system for PassLedger.
// Plugins can hook into various lifecycle events to extend functionality.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/passledger/account"
	"github.com/xraph/passledger/passtoken"
	"github.com/xraph/passledger/supply"
	"github.com/xraph/passledger/types"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Account hooks
// ──────────────────────────────────────────────────

// OnAccountCreated is called once per account, by the caller whose insert won.
type OnAccountCreated interface {
	Plugin
	OnAccountCreated(ctx context.Context, acct *account.Account) error
}

// OnAccrued is called after an accrual moved an account's checkpoint.
// credited is what the account received; requested is what it earned
// before the supply clamp.
type OnAccrued interface {
	Plugin
	OnAccrued(ctx context.Context, accountID string, credited, requested types.Amount, elapsed time.Duration) error
}

// OnGranted is called after an administrative grant.
type OnGranted interface {
	Plugin
	OnGranted(ctx context.Context, accountID string, amount types.Amount) error
}

// ──────────────────────────────────────────────────
// Supply hooks
// ──────────────────────────────────────────────────

// OnSupplyExhausted is called when the supply cap cut a credit short.
type OnSupplyExhausted interface {
	Plugin
	OnSupplyExhausted(ctx context.Context, accountID string, requested, granted types.Amount) error
}

// OnSupplyDrift is called when a reconciliation audit finds the maintained
// counter and the aggregate disagree.
type OnSupplyDrift interface {
	Plugin
	OnSupplyDrift(ctx context.Context, audit *supply.Audit) error
}

// ──────────────────────────────────────────────────
// Pass token hooks
// ──────────────────────────────────────────────────
//
// Tokens passed to hooks are redacted: the bearer secret is cleared.

// OnTokenIssued is called after a token was created and its issuer debited.
type OnTokenIssued interface {
	Plugin
	OnTokenIssued(ctx context.Context, tok *passtoken.Token) error
}

// OnTokenRedeemed is called after a token was redeemed and its redeemer credited.
type OnTokenRedeemed interface {
	Plugin
	OnTokenRedeemed(ctx context.Context, tok *passtoken.Token) error
}

// OnRedemptionRejected is called when a redemption fails for a business
// reason (unknown token, already redeemed, self-redemption).
type OnRedemptionRejected interface {
	Plugin
	OnRedemptionRejected(ctx context.Context, redeemerID string, reason error) error
}

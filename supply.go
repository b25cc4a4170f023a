package passledger

import (
	"context"

	"github.com/xraph/passledger/account"
	"github.com/xraph/passledger/supply"
	"github.com/xraph/passledger/types"
)

// ──────────────────────────────────────────────────
// Supply
// ──────────────────────────────────────────────────

// GetSupplyStats returns the maintained supply counter.
func (l *Ledger) GetSupplyStats(ctx context.Context) (*supply.Stats, error) {
	return retry(ctx, l, "supply_stats", func() (*supply.Stats, error) {
		return l.store.SupplyStats(ctx)
	})
}

// AuditSupply aggregates every balance and unredeemed token and compares the
// total with the maintained counter. It is informational only.
func (l *Ledger) AuditSupply(ctx context.Context) (*supply.Audit, error) {
	return retry(ctx, l, "audit_supply", func() (*supply.Audit, error) {
		return l.store.AuditSupply(ctx)
	})
}

// Grant mints exactly amount into accountID. It fails with ErrSupplyExhausted
// and changes nothing when less than amount remains under the cap.
//
// Grant is not retried: a lost reply after a committed mint must not mint twice.
func (l *Ledger) Grant(ctx context.Context, accountID string, amount types.Amount) (*account.Account, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	if _, err := l.ensureAccount(ctx, accountID); err != nil {
		return nil, err
	}

	acct, err := l.store.Mint(ctx, accountID, amount, l.now())
	if err != nil {
		return nil, err
	}

	l.logger.Info("supply granted",
		"account_id", accountID,
		"amount", amount.String(),
	)
	l.plugins.EmitGranted(ctx, accountID, amount)

	return acct, nil
}

package passledger

import (
	"context"

	"github.com/xraph/passledger/account"
	"github.com/xraph/passledger/types"
)

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

// EnsureAccount returns the account, creating a zero-balance one checkpointed
// at the current time on first reference. Concurrent first references create
// exactly one row.
func (l *Ledger) EnsureAccount(ctx context.Context, accountID string) (*account.Account, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}
	return l.ensureAccount(ctx, accountID)
}

func (l *Ledger) ensureAccount(ctx context.Context, accountID string) (*account.Account, error) {
	type ensured struct {
		acct    *account.Account
		created bool
	}

	res, err := retry(ctx, l, "ensure_account", func() (ensured, error) {
		acct, created, err := l.store.EnsureAccount(ctx, accountID, l.now())
		return ensured{acct, created}, err
	})
	if err != nil {
		return nil, err
	}

	if res.created {
		l.logger.Debug("account created", "account_id", accountID)
		l.plugins.EmitAccountCreated(ctx, res.acct)
	}
	return res.acct, nil
}

// GetAccount returns the stored account row without accruing.
func (l *Ledger) GetAccount(ctx context.Context, accountID string) (*account.Account, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}
	return retry(ctx, l, "get_account", func() (*account.Account, error) {
		return l.store.GetAccount(ctx, accountID)
	})
}

// GetBalance returns the stored balance without accruing. It fails with
// ErrAccountNotFound for an account that was never referenced.
func (l *Ledger) GetBalance(ctx context.Context, accountID string) (types.Amount, error) {
	acct, err := l.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

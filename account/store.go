package account

import (
	"context"
	"time"

	"github.com/xraph/passledger/types"
)

// Store defines the persistence contract for accounts. Every method is atomic
// with respect to a single account row.
type Store interface {
	// EnsureAccount returns the existing account or creates a zero-balance one
	// checkpointed at now. created is true only for the caller whose insert won.
	EnsureAccount(ctx context.Context, accountID string, now time.Time) (acct *Account, created bool, err error)

	// GetAccount returns the account or ErrAccountNotFound.
	GetAccount(ctx context.Context, accountID string) (*Account, error)

	// Debit subtracts amount, failing with ErrInsufficientFunds if the balance
	// is smaller. The check and the deduction are a single step. A
	// non-positive amount fails with ErrInvalidAmount.
	Debit(ctx context.Context, accountID string, amount types.Amount) error

	// Credit adds amount to an existing account. It does not reserve supply,
	// so it may only return currency that is already counted as minted.
	// A non-positive amount fails with ErrInvalidAmount.
	Credit(ctx context.Context, accountID string, amount types.Amount) error

	// ApplyAccrual credits min(u.Credit, remaining supply), reserves that amount
	// against the supply counter and moves the checkpoint, all in one step.
	// It returns ErrCheckpointMoved if the stored checkpoint no longer equals
	// u.ExpectedCheckpoint.
	ApplyAccrual(ctx context.Context, u *AccrualUpdate) (*AccrualOutcome, error)
}

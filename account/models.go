// Package account defines the per-account balance row and its storage contract.
package account

import (
	"time"

	"github.com/xraph/passledger/types"
)

// Account holds a balance that grows passively from its checkpoint.
// Accounts are keyed by the caller's external identity.
type Account struct {
	types.Entity

	ID string `json:"id"`

	// Balance is never negative.
	Balance types.Amount `json:"balance"`

	// Checkpoint is the instant up to which accrual has been credited.
	// It never moves backwards.
	Checkpoint time.Time `json:"checkpoint"`

	// LastCredit is what the most recent accrual actually credited after
	// the supply clamp.
	LastCredit types.Amount `json:"last_credit"`
}

// New returns a zero-balance account checkpointed at now.
func New(accountID string, now time.Time) *Account {
	now = now.UTC()
	return &Account{
		Entity:     types.NewEntity(now),
		ID:         accountID,
		Checkpoint: now,
	}
}

// Clone returns a copy safe to hand to callers.
func (a *Account) Clone() *Account {
	c := *a
	return &c
}

// AccrualUpdate describes one compare-and-swap accrual write.
type AccrualUpdate struct {
	AccountID string

	// ExpectedCheckpoint must equal the stored checkpoint for the write to apply.
	ExpectedCheckpoint time.Time

	// NewCheckpoint replaces the stored checkpoint.
	NewCheckpoint time.Time

	// Credit is the unclamped credit. The store grants at most the remaining
	// global supply and reserves the granted part in the same write.
	Credit types.Amount
}

// AccrualOutcome is what an applied AccrualUpdate did.
type AccrualOutcome struct {
	Granted    types.Amount
	Balance    types.Amount
	Checkpoint time.Time
}

// Clamped reports whether the supply cap cut the credit short.
func (o *AccrualOutcome) Clamped(requested types.Amount) bool {
	return o.Granted < requested
}

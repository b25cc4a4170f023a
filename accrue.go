package passledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/passledger/account"
	"github.com/xraph/passledger/types"
)

// AccrualResult describes one accrual.
type AccrualResult struct {
	AccountID string `json:"account_id"`

	// Credited is what the account actually received.
	Credited types.Amount `json:"credited"`

	// Requested is what the elapsed time earned before the supply clamp.
	Requested types.Amount `json:"requested"`

	// Balance is the balance after the accrual.
	Balance types.Amount `json:"balance"`

	// Checkpoint is the stored checkpoint after the accrual.
	Checkpoint time.Time `json:"checkpoint"`

	// Elapsed is the credited wall-clock span. It is zero when the clock
	// did not advance past the stored checkpoint.
	Elapsed time.Duration `json:"elapsed"`

	// Clamped is set when the supply cap cut the credit short.
	Clamped bool `json:"clamped"`
}

// Accrue credits accountID for the time elapsed since its checkpoint, creating
// the account first if needed. A zero now uses the ledger clock. Credit beyond
// the remaining global supply is discarded and the checkpoint still advances.
func (l *Ledger) Accrue(ctx context.Context, accountID string, now time.Time) (*AccrualResult, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}
	if now.IsZero() {
		now = l.now()
	}

	if _, err := l.ensureAccount(ctx, accountID); err != nil {
		return nil, err
	}

	res, err := retry(ctx, l, "accrue", func() (*AccrualResult, error) {
		return l.AccrueAndPersist(ctx, accountID, now)
	})
	if err != nil {
		return nil, err
	}

	if res.Elapsed > 0 {
		l.plugins.EmitAccrued(ctx, accountID, res.Credited, res.Requested, res.Elapsed)
	}
	if res.Clamped {
		l.logger.Debug("accrual clamped by supply cap",
			"account_id", accountID,
			"requested", res.Requested.String(),
			"credited", res.Credited.String(),
		)
		l.plugins.EmitSupplyExhausted(ctx, accountID, res.Requested, res.Credited)
	}

	return res, nil
}

// AccrueAndPersist computes the accrual for an existing account and applies
// it with a compare-and-swap on the checkpoint. A lost race re-reads the row
// and recomputes; after MaxCASAttempts losses it fails with
// ErrConcurrentConflict. It does not retry store failures.
func (l *Ledger) AccrueAndPersist(ctx context.Context, accountID string, now time.Time) (*AccrualResult, error) {
	now = now.UTC()

	for attempt := 1; attempt <= l.config.MaxCASAttempts; attempt++ {
		acct, err := l.store.GetAccount(ctx, accountID)
		if err != nil {
			return nil, err
		}

		computed := l.engine.Compute(acct.Checkpoint, now)
		if !computed.Checkpoint.After(acct.Checkpoint) {
			return &AccrualResult{
				AccountID:  accountID,
				Balance:    acct.Balance,
				Checkpoint: acct.Checkpoint,
			}, nil
		}

		out, err := l.store.ApplyAccrual(ctx, &account.AccrualUpdate{
			AccountID:          accountID,
			ExpectedCheckpoint: acct.Checkpoint,
			NewCheckpoint:      computed.Checkpoint,
			Credit:             computed.Credit,
		})
		if errors.Is(err, ErrCheckpointMoved) {
			l.logger.Debug("accrual lost checkpoint race",
				"account_id", accountID,
				"attempt", attempt,
			)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		return &AccrualResult{
			AccountID:  accountID,
			Credited:   out.Granted,
			Requested:  computed.Credit,
			Balance:    out.Balance,
			Checkpoint: out.Checkpoint,
			Elapsed:    computed.Elapsed,
			Clamped:    out.Clamped(computed.Credit),
		}, nil
	}

	return nil, fmt.Errorf("%w: accrual for %q lost %d checkpoint races",
		ErrConcurrentConflict, accountID, l.config.MaxCASAttempts)
}

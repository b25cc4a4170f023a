// Package accrual computes passive, time-based credit for an account.
//
// The engine is pure: it performs no I/O and holds no per-account state.
// Credit for an interval is F(now) - F(checkpoint), where
//
//	F(t) = floor(unixNanos(t) * ratePerHour / 3.6e12)
//
// evaluated in exact 128-bit integer arithmetic. Because F is evaluated at
// absolute instants, any split of an interval into abutting sub-intervals
// telescopes to exactly the same total as a single computation over the
// whole interval, and sub-unit remainders are never lost between calls.
package accrual

import (
	"errors"
	"math/big"
	"math/bits"
	"time"

	"github.com/xraph/passledger/types"
)

// nanosPerHour is the divisor that converts nanoseconds times a per-hour rate
// into units.
const nanosPerHour = uint64(time.Hour)

// ErrInvalidRate is returned when an engine is built with a negative rate.
var ErrInvalidRate = errors.New("accrual: rate per hour must not be negative")

// Engine computes accrual at a fixed rate.
type Engine struct {
	ratePerHour types.Amount
}

// Result is the outcome of a single computation.
type Result struct {
	// Credit is the amount earned between the old and new checkpoint,
	// before any supply clamp.
	Credit types.Amount

	// Checkpoint is the checkpoint to persist. It equals now unless now is
	// earlier than the stored checkpoint, in which case it is unchanged.
	Checkpoint time.Time

	// Elapsed is the wall-clock span that was credited.
	Elapsed time.Duration
}

// NewEngine creates an engine that earns ratePerHour per hour of wall-clock time.
func NewEngine(ratePerHour types.Amount) (*Engine, error) {
	if ratePerHour.IsNegative() {
		return nil, ErrInvalidRate
	}
	return &Engine{ratePerHour: ratePerHour}, nil
}

// RatePerHour returns the configured rate.
func (e *Engine) RatePerHour() types.Amount { return e.ratePerHour }

// Compute returns the credit earned from checkpoint to now.
func (e *Engine) Compute(checkpoint, now time.Time) Result {
	if !now.After(checkpoint) {
		return Result{Checkpoint: checkpoint}
	}
	return Result{
		Credit:     e.between(checkpoint, now),
		Checkpoint: now,
		Elapsed:    now.Sub(checkpoint),
	}
}

// between returns F(to) - F(from) for from < to.
func (e *Engine) between(from, to time.Time) types.Amount {
	if e.ratePerHour <= 0 {
		return 0
	}
	fTo, okTo := e.earnedBy(to)
	fFrom, okFrom := e.earnedBy(from)
	if okTo && okFrom {
		// Unsigned subtraction stays exact even if F itself exceeds MaxInt64.
		return types.Amount(fTo - fFrom)
	}

	diff := new(big.Int).Sub(e.earnedByBig(to), e.earnedByBig(from))
	return types.Amount(diff.Int64())
}

// earnedBy returns F(t), the cumulative units earned from the Unix epoch to t.
// ok is false for instants before the epoch or when the 128-bit product does
// not fit the fast division path.
func (e *Engine) earnedBy(t time.Time) (uint64, bool) {
	ns := t.UnixNano()
	if ns < 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(ns), uint64(e.ratePerHour))
	if hi >= nanosPerHour {
		return 0, false
	}
	quo, _ := bits.Div64(hi, lo, nanosPerHour)
	return quo, true
}

// earnedByBig is F(t) for any instant. F is negative before the epoch; Div
// is Euclidean, which floors for a positive divisor.
func (e *Engine) earnedByBig(t time.Time) *big.Int {
	prod := new(big.Int).Mul(big.NewInt(t.UnixNano()), big.NewInt(int64(e.ratePerHour)))
	return prod.Div(prod, new(big.Int).SetUint64(nanosPerHour))
}

// Package supply enforces and reports the global mint cap.
//
// minted counts every unit in existence: the sum of all balances plus the
// amounts locked in unredeemed pass tokens. It only grows, and only through
// a reservation that never lets it pass cap.
package supply

import (
	"time"

	"github.com/xraph/passledger/id"
	"github.com/xraph/passledger/types"
)

// Stats is the maintained supply counter.
type Stats struct {
	Cap       types.Amount `json:"cap"`
	Minted    types.Amount `json:"minted"`
	Remaining types.Amount `json:"remaining"`
}

// NewStats builds Stats, deriving Remaining.
func NewStats(capacity, minted types.Amount) *Stats {
	return &Stats{
		Cap:       capacity,
		Minted:    minted,
		Remaining: Remaining(capacity, minted),
	}
}

// Exhausted reports whether nothing more can be minted.
func (s *Stats) Exhausted() bool { return s.Remaining.IsZero() }

// Audit is a supply total recomputed by aggregating every row. It cannot be
// linearized with concurrent writes and is for display and reconciliation only.
type Audit struct {
	ID id.AuditID `json:"id"`

	// Balances is the sum of all account balances.
	Balances types.Amount `json:"balances"`
	// Outstanding is the sum of all unredeemed token amounts.
	Outstanding types.Amount `json:"outstanding"`
	// Total is Balances + Outstanding.
	Total types.Amount `json:"total"`

	// Minted and Cap are the counter values read alongside the aggregate.
	Minted types.Amount `json:"minted"`
	Cap    types.Amount `json:"cap"`

	Accounts     int64 `json:"accounts"`
	ActiveTokens int64 `json:"active_tokens"`

	TakenAt time.Time `json:"taken_at"`
}

// NewAudit assembles an Audit from aggregated sums and the counter row.
func NewAudit(balances, outstanding types.Amount, accounts, activeTokens int64, stats *Stats, now time.Time) *Audit {
	return &Audit{
		ID:           id.NewAuditID(),
		Balances:     balances,
		Outstanding:  outstanding,
		Total:        balances + outstanding,
		Minted:       stats.Minted,
		Cap:          stats.Cap,
		Accounts:     accounts,
		ActiveTokens: activeTokens,
		TakenAt:      now.UTC(),
	}
}

// Drift is Minted - Total. Under quiescent load it is zero.
func (a *Audit) Drift() types.Amount { return a.Minted - a.Total }

// Consistent reports whether the aggregate matches the counter and the cap holds.
func (a *Audit) Consistent() bool {
	return a.Drift().IsZero() && a.Minted <= a.Cap
}

// Remaining returns max(0, capacity - minted).
func Remaining(capacity, minted types.Amount) types.Amount {
	return (capacity - minted).Max(0)
}

// Admit returns how much of requested fits under capacity given minted.
func Admit(requested, capacity, minted types.Amount) types.Amount {
	if !requested.IsPositive() {
		return 0
	}
	return requested.Min(Remaining(capacity, minted))
}

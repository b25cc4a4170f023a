package supply

import (
	"context"
	"time"

	"github.com/xraph/passledger/account"
	"github.com/xraph/passledger/types"
)

// Store defines the persistence contract for the supply counter.
type Store interface {
	// InitSupply creates the counter row with capacity if it does not exist.
	// An existing row with a different cap fails with ErrSupplyCapMismatch.
	InitSupply(ctx context.Context, capacity types.Amount) (*Stats, error)

	// SupplyStats reads the maintained counter.
	SupplyStats(ctx context.Context) (*Stats, error)

	// AuditSupply aggregates every balance and unredeemed token.
	AuditSupply(ctx context.Context) (*Audit, error)

	// Mint reserves exactly amount and credits it to accountID in one step,
	// creating the account if needed. If less than amount remains it fails
	// with ErrSupplyExhausted and changes nothing.
	Mint(ctx context.Context, accountID string, amount types.Amount, now time.Time) (*account.Account, error)
}

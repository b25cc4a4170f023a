// Package store defines the composite persistence contract every PassLedger
// backend implements.
package store

import (
	"context"

	"github.com/xraph/passledger/account"
	"github.com/xraph/passledger/passtoken"
	"github.com/xraph/passledger/supply"
)

// Store is the unified storage interface for all PassLedger entities.
type Store interface {
	account.Store
	passtoken.Store
	supply.Store

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

package extension

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/passledger"
	"github.com/xraph/passledger/plugin"
	"github.com/xraph/passledger/store"
)

// Option configures the PassLedger Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithLedgerOption passes a passledger.Option through to the underlying engine.
func WithLedgerOption(opt passledger.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, passledger.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithRatePerHour sets the accrual rate as a decimal string.
func WithRatePerHour(rate string) Option {
	return func(e *Extension) { e.config.RatePerHour = rate }
}

// WithSupplyCap sets the global supply cap as a decimal string.
func WithSupplyCap(capacity string) Option {
	return func(e *Extension) { e.config.SupplyCap = capacity }
}

// WithReconcileInterval enables the background supply audit.
func WithReconcileInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.ReconcileInterval = d }
}

// WithGroveDB backs the ledger with a grove database. The backend
// (postgres/sqlite/mongo) is chosen by driver, which overrides the
// grove_driver config key when not empty.
func WithGroveDB(db *grove.DB, driver string) Option {
	return func(e *Extension) {
		e.groveDB = db
		e.useGrove = true
		if driver != "" {
			e.config.GroveDriver = driver
		}
	}
}

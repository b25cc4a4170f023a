package passledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/passledger/accrual"
	"github.com/xraph/passledger/plugin"
	"github.com/xraph/passledger/store"
	"github.com/xraph/passledger/supply"
	"github.com/xraph/passledger/types"
)

// Config holds the tunables of a Ledger.
type Config struct {
	// RatePerHour is what every account earns per hour of wall-clock time.
	RatePerHour types.Amount

	// SupplyCap bounds the total currency that can ever exist.
	SupplyCap types.Amount

	// MaxCASAttempts bounds the read-compute-swap loop of a single accrual
	// before it gives up with ErrConcurrentConflict.
	MaxCASAttempts int

	// Retry controls the backoff applied to retryable store failures.
	Retry RetryPolicy

	// ReconcileInterval enables the background supply audit when positive.
	ReconcileInterval time.Duration

	// DisableMigrate skips store.Migrate during Start.
	DisableMigrate bool
}

// DefaultConfig returns the default ledger configuration.
func DefaultConfig() Config {
	return Config{
		RatePerHour:    types.Coins(100),
		SupplyCap:      types.Coins(1_000_000_000),
		MaxCASAttempts: 8,
		Retry:          DefaultRetryPolicy(),
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.RatePerHour.IsNegative():
		return ValidationError{Field: "rate_per_hour", Message: "must not be negative"}
	case c.SupplyCap.IsNegative():
		return ValidationError{Field: "supply_cap", Message: "must not be negative"}
	case c.MaxCASAttempts < 1:
		return ValidationError{Field: "max_cas_attempts", Message: "must be at least 1"}
	case c.Retry.MaxTries < 1:
		return ValidationError{Field: "retry_max_tries", Message: "must be at least 1"}
	case c.ReconcileInterval < 0:
		return ValidationError{Field: "reconcile_interval", Message: "must not be negative"}
	}
	return nil
}

// Ledger is the passive-accrual currency engine.
type Ledger struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	engine  *accrual.Engine
	clock   func() time.Time

	// Background workers
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Configuration
	config Config
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) (*Ledger, error) {
	if s == nil {
		return nil, ValidationError{Field: "store", Message: "is required"}
	}

	l := &Ledger{
		store:    s,
		plugins:  plugin.NewRegistry(),
		logger:   slog.Default(),
		clock:    time.Now,
		stopChan: make(chan struct{}),
		config:   DefaultConfig(),
	}

	for _, opt := range opts {
		opt(l)
	}

	if err := l.config.Validate(); err != nil {
		return nil, err
	}

	engine, err := accrual.NewEngine(l.config.RatePerHour)
	if err != nil {
		return nil, fmt.Errorf("passledger: %w", err)
	}
	l.engine = engine

	return l, nil
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(l *Ledger) {
		l.config = cfg
	}
}

// WithRatePerHour sets the accrual rate.
func WithRatePerHour(rate types.Amount) Option {
	return func(l *Ledger) {
		l.config.RatePerHour = rate
	}
}

// WithSupplyCap sets the global supply cap.
func WithSupplyCap(capacity types.Amount) Option {
	return func(l *Ledger) {
		l.config.SupplyCap = capacity
	}
}

// WithMaxCASAttempts bounds the accrual compare-and-swap loop.
func WithMaxCASAttempts(n int) Option {
	return func(l *Ledger) {
		l.config.MaxCASAttempts = n
	}
}

// WithRetryPolicy sets the backoff used for retryable store failures.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(l *Ledger) {
		l.config.Retry = p
	}
}

// WithReconcileInterval enables the background supply audit.
func WithReconcileInterval(d time.Duration) Option {
	return func(l *Ledger) {
		l.config.ReconcileInterval = d
	}
}

// WithClock overrides the time source used when callers do not pass one.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithDisableMigrate skips schema migration during Start.
func WithDisableMigrate(disable bool) Option {
	return func(l *Ledger) {
		l.config.DisableMigrate = disable
	}
}

// Config returns a copy of the effective configuration.
func (l *Ledger) Config() Config { return l.config }

// Store returns the underlying store.
func (l *Ledger) Store() store.Store { return l.store }

// Plugins returns the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry { return l.plugins }

// Start migrates the store, initializes the supply counter and begins
// background workers.
func (l *Ledger) Start(ctx context.Context) error {
	// Migrate database
	if !l.config.DisableMigrate {
		if err := l.store.Migrate(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
		}
	}

	stats, err := retry(ctx, l, "init_supply", func() (*supply.Stats, error) {
		return l.store.InitSupply(ctx, l.config.SupplyCap)
	})
	if err != nil {
		return err
	}

	// Initialize plugins
	l.plugins.EmitInit(ctx, l)

	if l.config.ReconcileInterval > 0 {
		l.wg.Add(1)
		go l.reconcileWorker()
	}

	l.logger.Info("passledger started",
		"rate_per_hour", l.config.RatePerHour.String(),
		"supply_cap", stats.Cap.String(),
		"minted", stats.Minted.String(),
		"reconcile_interval", l.config.ReconcileInterval,
	)

	return nil
}

// Stop shuts down background workers and closes the store. It is safe to
// call more than once.
func (l *Ledger) Stop() error {
	var err error
	l.stopOnce.Do(func() {
		close(l.stopChan)
		l.wg.Wait()

		ctx := context.Background()
		l.plugins.EmitShutdown(ctx)

		err = l.store.Close()
		l.logger.Info("passledger stopped")
	})
	return err
}

// now returns the ledger clock in UTC.
func (l *Ledger) now() time.Time {
	return l.clock().UTC()
}

func validateAccountID(accountID string) error {
	if accountID == "" {
		return ValidationError{Field: "account_id", Message: "is required"}
	}
	return nil
}

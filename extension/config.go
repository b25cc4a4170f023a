package extension

import (
	"fmt"
	"time"

	"github.com/xraph/passledger"
	"github.com/xraph/passledger/types"
)

// Config holds the PassLedger extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.passledger" or "passledger" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// RatePerHour is the accrual rate as a decimal string (default: "100").
	RatePerHour string `json:"rate_per_hour" mapstructure:"rate_per_hour" yaml:"rate_per_hour"`

	// SupplyCap is the global supply cap as a decimal string (default: "1000000000").
	SupplyCap string `json:"supply_cap" mapstructure:"supply_cap" yaml:"supply_cap"`

	// MaxCASAttempts bounds the accrual compare-and-swap loop (default: 8).
	MaxCASAttempts int `json:"max_cas_attempts" mapstructure:"max_cas_attempts" yaml:"max_cas_attempts"`

	// RetryMaxTries is the number of attempts for retryable store failures,
	// including the first (default: 5).
	RetryMaxTries int `json:"retry_max_tries" mapstructure:"retry_max_tries" yaml:"retry_max_tries"`

	// RetryInitialInterval is the first backoff delay (default: 25ms).
	RetryInitialInterval time.Duration `json:"retry_initial_interval" mapstructure:"retry_initial_interval" yaml:"retry_initial_interval"`

	// RetryMaxInterval caps the backoff delay (default: 1s).
	RetryMaxInterval time.Duration `json:"retry_max_interval" mapstructure:"retry_max_interval" yaml:"retry_max_interval"`

	// ReconcileInterval enables the background supply audit when positive.
	ReconcileInterval time.Duration `json:"reconcile_interval" mapstructure:"reconcile_interval" yaml:"reconcile_interval"`

	// GroveDriver selects the store backend for a database supplied with
	// WithGroveDB: "postgres", "sqlite" or "mongo".
	GroveDriver string `json:"grove_driver" mapstructure:"grove_driver" yaml:"grove_driver"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	d := passledger.DefaultConfig()
	return Config{
		RatePerHour:          d.RatePerHour.String(),
		SupplyCap:            d.SupplyCap.String(),
		MaxCASAttempts:       d.MaxCASAttempts,
		RetryMaxTries:        int(d.Retry.MaxTries),
		RetryInitialInterval: d.Retry.InitialInterval,
		RetryMaxInterval:     d.Retry.MaxInterval,
	}
}

// LedgerConfig converts the extension config into a passledger.Config.
func (c Config) LedgerConfig() (passledger.Config, error) {
	rate, err := types.ParseAmount(c.RatePerHour)
	if err != nil {
		return passledger.Config{}, fmt.Errorf("passledger: rate_per_hour: %w", err)
	}
	supplyCap, err := types.ParseAmount(c.SupplyCap)
	if err != nil {
		return passledger.Config{}, fmt.Errorf("passledger: supply_cap: %w", err)
	}
	if c.RetryMaxTries < 0 {
		return passledger.Config{}, passledger.ValidationError{Field: "retry_max_tries", Message: "must not be negative"}
	}

	cfg := passledger.Config{
		RatePerHour:    rate,
		SupplyCap:      supplyCap,
		MaxCASAttempts: c.MaxCASAttempts,
		Retry: passledger.RetryPolicy{
			MaxTries:        uint(c.RetryMaxTries),
			InitialInterval: c.RetryInitialInterval,
			MaxInterval:     c.RetryMaxInterval,
		},
		ReconcileInterval: c.ReconcileInterval,
		DisableMigrate:    c.DisableMigrate,
	}
	return cfg, cfg.Validate()
}

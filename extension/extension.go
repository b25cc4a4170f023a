// Package extension provides the Forge extension adapter for PassLedger.
//
// It implements the forge.Extension interface to integrate PassLedger
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.passledger" or
// "passledger" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/passledger"
	"github.com/xraph/passledger/store"
	"github.com/xraph/passledger/store/memory"
	"github.com/xraph/passledger/store/mongo"
	"github.com/xraph/passledger/store/postgres"
	"github.com/xraph/passledger/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "passledger"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Passive-accrual virtual currency ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts PassLedger as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *passledger.Ledger
	store      store.Store
	groveDB    *grove.DB
	useGrove   bool
	ledgerOpts []passledger.Option
}

// New creates a new PassLedger Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Ledger instance.
// This is nil until Register is called.
func (e *Extension) Engine() *passledger.Ledger { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the ledger engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	s, err := e.resolveStore()
	if err != nil {
		return err
	}
	e.store = s

	opts, err := e.buildLedgerOpts()
	if err != nil {
		return err
	}

	eng, err := passledger.New(e.store, opts...)
	if err != nil {
		return err
	}
	e.engine = eng

	return vessel.Provide(fapp.Container(), func() (*passledger.Ledger, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("passledger: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("passledger: store not initialized")
	}
	return e.store.Ping(ctx)
}

// resolveStore picks the explicit store, a grove-backed store or the
// memory store, in that order.
func (e *Extension) resolveStore() (store.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	if !e.useGrove {
		return memory.New(), nil
	}
	if e.groveDB == nil {
		return nil, errors.New("passledger: WithGroveDB was given a nil database")
	}
	return storeForDriver(e.groveDB, e.config.GroveDriver)
}

func storeForDriver(db *grove.DB, driver string) (store.Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "pg", "postgres", "postgresql":
		return postgres.New(db), nil
	case "sqlite", "sqlite3":
		return sqlite.New(db), nil
	case "mongo", "mongodb":
		return mongo.New(db), nil
	default:
		return nil, fmt.Errorf("passledger: unsupported grove driver %q", driver)
	}
}

// buildLedgerOpts constructs passledger.Option values from the resolved config.
func (e *Extension) buildLedgerOpts() ([]passledger.Option, error) {
	cfg, err := e.config.LedgerConfig()
	if err != nil {
		return nil, err
	}

	opts := make([]passledger.Option, 0, len(e.ledgerOpts)+1)
	opts = append(opts, passledger.WithConfig(cfg))

	// Append any pass-through ledger options.
	opts = append(opts, e.ledgerOpts...)

	return opts, nil
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("passledger: configuration is required but not found in config files; " +
				"ensure 'extensions.passledger' or 'passledger' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("passledger: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("rate_per_hour", e.config.RatePerHour),
		forge.F("supply_cap", e.config.SupplyCap),
		forge.F("max_cas_attempts", e.config.MaxCASAttempts),
		forge.F("retry_max_tries", e.config.RetryMaxTries),
		forge.F("reconcile_interval", e.config.ReconcileInterval),
		forge.F("grove_driver", e.config.GroveDriver),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.passledger" first (namespaced pattern).
	if cm.IsSet("extensions.passledger") {
		if err := cm.Bind("extensions.passledger", &cfg); err == nil {
			e.Logger().Debug("passledger: loaded config from file",
				forge.F("key", "extensions.passledger"),
			)
			return cfg, true
		}
		e.Logger().Warn("passledger: failed to bind extensions.passledger config",
			forge.F("error", "bind failed"),
		)
	}

	// Try short "passledger" key.
	if cm.IsSet("passledger") {
		if err := cm.Bind("passledger", &cfg); err == nil {
			e.Logger().Debug("passledger: loaded config from file",
				forge.F("key", "passledger"),
			)
			return cfg, true
		}
		e.Logger().Warn("passledger: failed to bind passledger config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.RatePerHour == "" {
		cfg.RatePerHour = defaults.RatePerHour
	}
	if cfg.SupplyCap == "" {
		cfg.SupplyCap = defaults.SupplyCap
	}
	if cfg.MaxCASAttempts == 0 {
		cfg.MaxCASAttempts = defaults.MaxCASAttempts
	}
	if cfg.RetryMaxTries == 0 {
		cfg.RetryMaxTries = defaults.RetryMaxTries
	}
	if cfg.RetryInitialInterval == 0 {
		cfg.RetryInitialInterval = defaults.RetryInitialInterval
	}
	if cfg.RetryMaxInterval == 0 {
		cfg.RetryMaxInterval = defaults.RetryMaxInterval
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.RatePerHour == "" {
		yamlConfig.RatePerHour = programmaticConfig.RatePerHour
	}
	if yamlConfig.SupplyCap == "" {
		yamlConfig.SupplyCap = programmaticConfig.SupplyCap
	}
	if yamlConfig.GroveDriver == "" {
		yamlConfig.GroveDriver = programmaticConfig.GroveDriver
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.MaxCASAttempts == 0 {
		yamlConfig.MaxCASAttempts = programmaticConfig.MaxCASAttempts
	}
	if yamlConfig.RetryMaxTries == 0 {
		yamlConfig.RetryMaxTries = programmaticConfig.RetryMaxTries
	}
	if yamlConfig.RetryInitialInterval == 0 {
		yamlConfig.RetryInitialInterval = programmaticConfig.RetryInitialInterval
	}
	if yamlConfig.RetryMaxInterval == 0 {
		yamlConfig.RetryMaxInterval = programmaticConfig.RetryMaxInterval
	}
	if yamlConfig.ReconcileInterval == 0 {
		yamlConfig.ReconcileInterval = programmaticConfig.ReconcileInterval
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}

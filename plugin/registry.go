package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/passledger/account"
	"github.com/xraph/passledger/passtoken"
	"github.com/xraph/passledger/supply"
	"github.com/xraph/passledger/types"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit               []OnInit
	onShutdown           []OnShutdown
	onAccountCreated     []OnAccountCreated
	onAccrued            []OnAccrued
	onGranted            []OnGranted
	onSupplyExhausted    []OnSupplyExhausted
	onSupplyDrift        []OnSupplyDrift
	onTokenIssued        []OnTokenIssued
	onTokenRedeemed      []OnTokenRedeemed
	onRedemptionRejected []OnRedemptionRejected
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnAccountCreated); ok {
		r.onAccountCreated = append(r.onAccountCreated, v)
	}
	if v, ok := p.(OnAccrued); ok {
		r.onAccrued = append(r.onAccrued, v)
	}
	if v, ok := p.(OnGranted); ok {
		r.onGranted = append(r.onGranted, v)
	}
	if v, ok := p.(OnSupplyExhausted); ok {
		r.onSupplyExhausted = append(r.onSupplyExhausted, v)
	}
	if v, ok := p.(OnSupplyDrift); ok {
		r.onSupplyDrift = append(r.onSupplyDrift, v)
	}
	if v, ok := p.(OnTokenIssued); ok {
		r.onTokenIssued = append(r.onTokenIssued, v)
	}
	if v, ok := p.(OnTokenRedeemed); ok {
		r.onTokenRedeemed = append(r.onTokenRedeemed, v)
	}
	if v, ok := p.(OnRedemptionRejected); ok {
		r.onRedemptionRejected = append(r.onRedemptionRejected, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnAccountCreated)(nil)).Elem(), "OnAccountCreated")
	checkInterface(reflect.TypeOf((*OnAccrued)(nil)).Elem(), "OnAccrued")
	checkInterface(reflect.TypeOf((*OnGranted)(nil)).Elem(), "OnGranted")
	checkInterface(reflect.TypeOf((*OnSupplyExhausted)(nil)).Elem(), "OnSupplyExhausted")
	checkInterface(reflect.TypeOf((*OnSupplyDrift)(nil)).Elem(), "OnSupplyDrift")
	checkInterface(reflect.TypeOf((*OnTokenIssued)(nil)).Elem(), "OnTokenIssued")
	checkInterface(reflect.TypeOf((*OnTokenRedeemed)(nil)).Elem(), "OnTokenRedeemed")
	checkInterface(reflect.TypeOf((*OnRedemptionRejected)(nil)).Elem(), "OnRedemptionRejected")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, ledger interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnInit", func() error {
			return p.OnInit(ctx, ledger)
		})
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnShutdown", func() error {
			return p.OnShutdown(ctx)
		})
	}
}

// EmitAccountCreated emits an account created event.
func (r *Registry) EmitAccountCreated(ctx context.Context, acct *account.Account) {
	r.mu.RLock()
	plugins := r.onAccountCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnAccountCreated", func() error {
			return p.OnAccountCreated(ctx, acct.Clone())
		})
	}
}

// EmitAccrued emits an accrual event.
func (r *Registry) EmitAccrued(ctx context.Context, accountID string, credited, requested types.Amount, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onAccrued
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnAccrued", func() error {
			return p.OnAccrued(ctx, accountID, credited, requested, elapsed)
		})
	}
}

// EmitGranted emits a grant event.
func (r *Registry) EmitGranted(ctx context.Context, accountID string, amount types.Amount) {
	r.mu.RLock()
	plugins := r.onGranted
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnGranted", func() error {
			return p.OnGranted(ctx, accountID, amount)
		})
	}
}

// EmitSupplyExhausted emits a supply exhausted event.
func (r *Registry) EmitSupplyExhausted(ctx context.Context, accountID string, requested, granted types.Amount) {
	r.mu.RLock()
	plugins := r.onSupplyExhausted
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnSupplyExhausted", func() error {
			return p.OnSupplyExhausted(ctx, accountID, requested, granted)
		})
	}
}

// EmitSupplyDrift emits a supply drift event.
func (r *Registry) EmitSupplyDrift(ctx context.Context, audit *supply.Audit) {
	r.mu.RLock()
	plugins := r.onSupplyDrift
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnSupplyDrift", func() error {
			return p.OnSupplyDrift(ctx, audit)
		})
	}
}

// EmitTokenIssued emits a token issued event with the secret removed.
func (r *Registry) EmitTokenIssued(ctx context.Context, tok *passtoken.Token) {
	r.mu.RLock()
	plugins := r.onTokenIssued
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnTokenIssued", func() error {
			return p.OnTokenIssued(ctx, tok.Redacted())
		})
	}
}

// EmitTokenRedeemed emits a token redeemed event with the secret removed.
func (r *Registry) EmitTokenRedeemed(ctx context.Context, tok *passtoken.Token) {
	r.mu.RLock()
	plugins := r.onTokenRedeemed
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnTokenRedeemed", func() error {
			return p.OnTokenRedeemed(ctx, tok.Redacted())
		})
	}
}

// EmitRedemptionRejected emits a rejected redemption event.
func (r *Registry) EmitRedemptionRejected(ctx context.Context, redeemerID string, reason error) {
	r.mu.RLock()
	plugins := r.onRedemptionRejected
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnRedemptionRejected", func() error {
			return p.OnRedemptionRejected(ctx, redeemerID, reason)
		})
	}
}

func (r *Registry) dispatch(ctx context.Context, pluginName, hook string, fn func() error) {
	if err := r.callWithTimeout(ctx, pluginName, fn); err != nil {
		r.logger.Warn("plugin "+hook+" failed",
			"plugin", pluginName,
			"error", err,
		)
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the ledger.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}

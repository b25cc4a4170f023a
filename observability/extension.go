// Package observability provides a metrics extension for PassLedger that
// records lifecycle event counts through a MetricFactory.
package observability

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/passledger"
	"github.com/xraph/passledger/account"
	"github.com/xraph/passledger/passtoken"
	"github.com/xraph/passledger/plugin"
	"github.com/xraph/passledger/supply"
	"github.com/xraph/passledger/types"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin               = (*MetricsExtension)(nil)
	_ plugin.OnInit               = (*MetricsExtension)(nil)
	_ plugin.OnAccountCreated     = (*MetricsExtension)(nil)
	_ plugin.OnAccrued            = (*MetricsExtension)(nil)
	_ plugin.OnGranted            = (*MetricsExtension)(nil)
	_ plugin.OnSupplyExhausted    = (*MetricsExtension)(nil)
	_ plugin.OnSupplyDrift        = (*MetricsExtension)(nil)
	_ plugin.OnTokenIssued        = (*MetricsExtension)(nil)
	_ plugin.OnTokenRedeemed      = (*MetricsExtension)(nil)
	_ plugin.OnRedemptionRejected = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Ledger plugin to automatically track ledger metrics.
// Amounts are observed in whole coins.
type MetricsExtension struct {
	factory MetricFactory

	// Account metrics
	AccountCreated Counter
	Accruals       Counter
	AccruedCoins   Histogram
	AccrualElapsed Histogram
	Granted        Counter
	GrantedCoins   Histogram

	// Supply metrics
	SupplyClamped Counter
	SupplyDrift   Counter

	// Pass token metrics
	TokenIssued         Counter
	TokenIssuedCoins    Histogram
	TokenRedeemed       Counter
	RedemptionRejected  Counter
	RedemptionDuplicate Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Account metrics
		AccountCreated: factory.Counter("passledger.account.created"),
		Accruals:       factory.Counter("passledger.accrual.count"),
		AccruedCoins:   factory.Histogram("passledger.accrual.credited_coins"),
		AccrualElapsed: factory.Histogram("passledger.accrual.elapsed_seconds"),
		Granted:        factory.Counter("passledger.grant.count"),
		GrantedCoins:   factory.Histogram("passledger.grant.coins"),

		// Supply metrics
		SupplyClamped: factory.Counter("passledger.supply.clamped"),
		SupplyDrift:   factory.Counter("passledger.supply.drift"),

		// Pass token metrics
		TokenIssued:         factory.Counter("passledger.pass_token.issued"),
		TokenIssuedCoins:    factory.Histogram("passledger.pass_token.issued_coins"),
		TokenRedeemed:       factory.Counter("passledger.pass_token.redeemed"),
		RedemptionRejected:  factory.Counter("passledger.pass_token.rejected"),
		RedemptionDuplicate: factory.Counter("passledger.pass_token.already_redeemed"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Account hooks
// ──────────────────────────────────────────────────

// OnAccountCreated implements plugin.OnAccountCreated.
func (m *MetricsExtension) OnAccountCreated(_ context.Context, _ *account.Account) error {
	m.AccountCreated.Inc()
	return nil
}

// OnAccrued implements plugin.OnAccrued.
func (m *MetricsExtension) OnAccrued(_ context.Context, _ string, credited, _ types.Amount, elapsed time.Duration) error {
	m.Accruals.Inc()
	m.AccruedCoins.Observe(coins(credited))
	m.AccrualElapsed.Observe(elapsed.Seconds())
	return nil
}

// OnGranted implements plugin.OnGranted.
func (m *MetricsExtension) OnGranted(_ context.Context, _ string, amount types.Amount) error {
	m.Granted.Inc()
	m.GrantedCoins.Observe(coins(amount))
	return nil
}

// ──────────────────────────────────────────────────
// Supply hooks
// ──────────────────────────────────────────────────

// OnSupplyExhausted implements plugin.OnSupplyExhausted.
func (m *MetricsExtension) OnSupplyExhausted(_ context.Context, _ string, _, _ types.Amount) error {
	m.SupplyClamped.Inc()
	return nil
}

// OnSupplyDrift implements plugin.OnSupplyDrift.
func (m *MetricsExtension) OnSupplyDrift(_ context.Context, _ *supply.Audit) error {
	m.SupplyDrift.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Pass token hooks
// ──────────────────────────────────────────────────

// OnTokenIssued implements plugin.OnTokenIssued.
func (m *MetricsExtension) OnTokenIssued(_ context.Context, tok *passtoken.Token) error {
	m.TokenIssued.Inc()
	m.TokenIssuedCoins.Observe(coins(tok.Amount))
	return nil
}

// OnTokenRedeemed implements plugin.OnTokenRedeemed.
func (m *MetricsExtension) OnTokenRedeemed(_ context.Context, _ *passtoken.Token) error {
	m.TokenRedeemed.Inc()
	return nil
}

// OnRedemptionRejected implements plugin.OnRedemptionRejected.
func (m *MetricsExtension) OnRedemptionRejected(_ context.Context, _ string, reason error) error {
	m.RedemptionRejected.Inc()
	if errors.Is(reason, passledger.ErrAlreadyRedeemed) {
		m.RedemptionDuplicate.Inc()
	}
	return nil
}

func coins(a types.Amount) float64 {
	f, _ := a.Decimal().Float64()
	return f
}

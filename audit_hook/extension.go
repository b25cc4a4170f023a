// Package audithook bridges PassLedger lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import any
// audit backend directly. Callers inject a RecorderFunc adapter at wiring time.
//
// Pass token events identify the token by its row id. The bearer secret is
// never part of an audit event.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/passledger/account"
	"github.com/xraph/passledger/passtoken"
	"github.com/xraph/passledger/plugin"
	"github.com/xraph/passledger/supply"
	"github.com/xraph/passledger/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin               = (*Extension)(nil)
	_ plugin.OnAccountCreated     = (*Extension)(nil)
	_ plugin.OnAccrued            = (*Extension)(nil)
	_ plugin.OnGranted            = (*Extension)(nil)
	_ plugin.OnSupplyExhausted    = (*Extension)(nil)
	_ plugin.OnSupplyDrift        = (*Extension)(nil)
	_ plugin.OnTokenIssued        = (*Extension)(nil)
	_ plugin.OnTokenRedeemed      = (*Extension)(nil)
	_ plugin.OnRedemptionRejected = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges PassLedger lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Account hooks
// ──────────────────────────────────────────────────

// OnAccountCreated implements plugin.OnAccountCreated.
func (e *Extension) OnAccountCreated(ctx context.Context, acct *account.Account) error {
	return e.record(ctx, ActionAccountCreated, SeverityInfo, OutcomeSuccess,
		ResourceAccount, acct.ID, CategoryLedger, nil,
		"checkpoint", acct.Checkpoint,
	)
}

// OnAccrued implements plugin.OnAccrued.
func (e *Extension) OnAccrued(ctx context.Context, accountID string, credited, requested types.Amount, elapsed time.Duration) error {
	outcome := OutcomeSuccess
	if credited < requested {
		outcome = OutcomePartial
	}
	return e.record(ctx, ActionAccrued, SeverityInfo, outcome,
		ResourceAccount, accountID, CategoryLedger, nil,
		"credited", credited.String(),
		"requested", requested.String(),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnGranted implements plugin.OnGranted.
func (e *Extension) OnGranted(ctx context.Context, accountID string, amount types.Amount) error {
	return e.record(ctx, ActionGranted, SeverityWarning, OutcomeSuccess,
		ResourceAccount, accountID, CategoryAdmin, nil,
		"amount", amount.String(),
	)
}

// ──────────────────────────────────────────────────
// Supply hooks
// ──────────────────────────────────────────────────

// OnSupplyExhausted implements plugin.OnSupplyExhausted.
func (e *Extension) OnSupplyExhausted(ctx context.Context, accountID string, requested, granted types.Amount) error {
	return e.record(ctx, ActionSupplyExhausted, SeverityWarning, OutcomePartial,
		ResourceSupply, "", CategorySupply, nil,
		"account_id", accountID,
		"requested", requested.String(),
		"granted", granted.String(),
	)
}

// OnSupplyDrift implements plugin.OnSupplyDrift.
func (e *Extension) OnSupplyDrift(ctx context.Context, audit *supply.Audit) error {
	return e.record(ctx, ActionSupplyDrift, SeverityCritical, OutcomeFailure,
		ResourceSupply, audit.ID.String(), CategorySupply, nil,
		"minted", audit.Minted.String(),
		"total", audit.Total.String(),
		"drift", audit.Drift().String(),
	)
}

// ──────────────────────────────────────────────────
// Pass token hooks
// ──────────────────────────────────────────────────

// OnTokenIssued implements plugin.OnTokenIssued.
func (e *Extension) OnTokenIssued(ctx context.Context, tok *passtoken.Token) error {
	return e.record(ctx, ActionTokenIssued, SeverityInfo, OutcomeSuccess,
		ResourcePassToken, tok.ID.String(), CategoryTransfer, nil,
		"issuer", tok.Issuer,
		"amount", tok.Amount.String(),
	)
}

// OnTokenRedeemed implements plugin.OnTokenRedeemed.
func (e *Extension) OnTokenRedeemed(ctx context.Context, tok *passtoken.Token) error {
	return e.record(ctx, ActionTokenRedeemed, SeverityInfo, OutcomeSuccess,
		ResourcePassToken, tok.ID.String(), CategoryTransfer, nil,
		"issuer", tok.Issuer,
		"redeemer", tok.Redeemer,
		"amount", tok.Amount.String(),
	)
}

// OnRedemptionRejected implements plugin.OnRedemptionRejected.
func (e *Extension) OnRedemptionRejected(ctx context.Context, redeemerID string, reason error) error {
	return e.record(ctx, ActionRedemptionRejected, SeverityWarning, OutcomeFailure,
		ResourcePassToken, "", CategoryTransfer, reason,
		"redeemer", redeemerID,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}

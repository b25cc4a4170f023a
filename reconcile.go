package passledger

import (
	"context"
	"time"

	"github.com/xraph/passledger/supply"
)

// Reconcile runs one supply audit and reports drift between the maintained
// counter and the aggregate to the log and to OnSupplyDrift plugins. It never
// mutates state.
func (l *Ledger) Reconcile(ctx context.Context) (*supply.Audit, error) {
	audit, err := l.AuditSupply(ctx)
	if err != nil {
		return nil, err
	}

	if !audit.Consistent() {
		l.logger.Warn("supply drift detected",
			"minted", audit.Minted.String(),
			"balances", audit.Balances.String(),
			"outstanding", audit.Outstanding.String(),
			"drift", audit.Drift().String(),
		)
		l.plugins.EmitSupplyDrift(ctx, audit)
		return audit, nil
	}

	l.logger.Debug("supply reconciled",
		"minted", audit.Minted.String(),
		"accounts", audit.Accounts,
		"active_tokens", audit.ActiveTokens,
	)
	return audit, nil
}

// reconcileWorker audits the supply every ReconcileInterval until Stop.
func (l *Ledger) reconcileWorker() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.config.ReconcileInterval)
			if _, err := l.Reconcile(ctx); err != nil {
				l.logger.Error("supply reconciliation failed", "error", err)
			}
			cancel()
		}
	}
}

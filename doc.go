// Package passledger provides a passive-accrual virtual currency ledger for Go
// applications.
//
// PassLedger is designed as a library, not a service. Import it directly into
// your Go application and put whatever transport you like in front of it. It
// provides:
//
//   - Time-based accrual: every account earns a fixed rate per hour of
//     wall-clock time, computed on demand from a stored checkpoint
//   - A global supply cap enforced on every supply-increasing write
//   - Single-use bearer pass tokens that move currency between accounts
//   - Exactly-once redemption under any number of concurrent redeemers
//   - Memory, PostgreSQL, SQLite and MongoDB stores behind one interface
//   - A plugin system for metrics and audit trails
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/passledger"
//	    "github.com/xraph/passledger/store/memory"
//	)
//
//	l, err := passledger.New(memory.New(),
//	    passledger.WithRatePerHour(passledger.Coins(100)),
//	    passledger.WithSupplyCap(passledger.Coins(1_000_000_000)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Start migrates the store and initializes the supply counter
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
// # Core Concepts
//
// Accounts are created on first reference and accrue from their checkpoint:
//
//	res, err := l.Accrue(ctx, "alice", time.Now())
//	fmt.Println(res.Balance) // "100.0000" after an hour at 100/hour
//
// Accrual is a pull model. Nothing ticks in the background; the balance is
// brought up to date whenever Accrue is called, and abutting accrual intervals
// always sum to exactly the credit of one call over the whole span.
//
// Pass tokens package part of a balance into a bearer secret:
//
//	tok, err := l.CreatePassToken(ctx, "alice", passledger.Coins(30))
//	// hand tok.Secret to someone else
//	amount, err := l.RedeemPassToken(ctx, tok.Secret, "bob")
//
// A token is redeemed at most once and never by its issuer.
//
// # Supply
//
// The ledger keeps a single minted counter. Accruals credit at most the
// remaining supply and discard the rest; once the cap is reached accounts stop
// earning but can still issue and redeem tokens from existing balances.
// AuditSupply recomputes the total from every row for reconciliation.
//
// # Amounts
//
// All arithmetic is integer-only. An Amount is a count of 0.0001 units and is
// always displayed with four decimals.
//
// # TypeID
//
// Pass token rows and supply audits use TypeID identifiers:
//
//	ptok_01h2xcejqtf2nbrexx3vqjhp41  // Pass token row
//	saud_01h455vb4pex5vsknk084sn02q  // Supply audit
//
// The row id is what plugins and audit trails see; the bearer secret is only
// returned to the issuer.
package passledger

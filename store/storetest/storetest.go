// Package storetest is a conformance suite for store.Store implementations.
//
// Backends call Run from their own tests; SQL and document backends can run it
// against a live database to prove the same atomicity guarantees as the
// memory store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	passledger "github.com/xraph/passledger"
	"github.com/xraph/passledger/account"
	"github.com/xraph/passledger/id"
	"github.com/xraph/passledger/passtoken"
	"github.com/xraph/passledger/store"
	"github.com/xraph/passledger/types"
)

// Factory returns a fresh, migrated, empty store. The suite initializes the
// supply counter itself.
type Factory func(t *testing.T) store.Store

// DefaultCap is the supply cap the suite initializes stores with.
var DefaultCap = types.Coins(1_000_000)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// Run executes the whole suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("EnsureAccountIdempotent", func(t *testing.T) { testEnsureAccount(t, newStore) })
	t.Run("EnsureAccountConcurrent", func(t *testing.T) { testEnsureAccountConcurrent(t, newStore) })
	t.Run("DebitCredit", func(t *testing.T) { testDebitCredit(t, newStore) })
	t.Run("NonPositiveAmountsRejected", func(t *testing.T) { testNonPositiveAmounts(t, newStore) })
	t.Run("ConcurrentDebitsNeverOverdraw", func(t *testing.T) { testConcurrentDebits(t, newStore) })
	t.Run("ApplyAccrualCAS", func(t *testing.T) { testApplyAccrualCAS(t, newStore) })
	t.Run("ApplyAccrualClampsToSupply", func(t *testing.T) { testApplyAccrualClamp(t, newStore) })
	t.Run("IssueAndRedeem", func(t *testing.T) { testIssueAndRedeem(t, newStore) })
	t.Run("IssueInsufficientFunds", func(t *testing.T) { testIssueInsufficient(t, newStore) })
	t.Run("SelfRedemption", func(t *testing.T) { testSelfRedemption(t, newStore) })
	t.Run("ConcurrentRedeemExactlyOnce", func(t *testing.T) { testConcurrentRedeem(t, newStore) })
	t.Run("ListTokens", func(t *testing.T) { testListTokens(t, newStore) })
	t.Run("Mint", func(t *testing.T) { testMint(t, newStore) })
	t.Run("InitSupplyCapMismatch", func(t *testing.T) { testInitSupplyMismatch(t, newStore) })
}

func setup(t *testing.T, newStore Factory, capacity types.Amount) (context.Context, store.Store) {
	t.Helper()
	ctx := context.Background()
	s := newStore(t)
	_, err := s.InitSupply(ctx, capacity)
	require.NoError(t, err)
	return ctx, s
}

// fund gives accountID exactly amount of freshly minted currency.
func fund(t *testing.T, ctx context.Context, s store.Store, accountID string, amount types.Amount) {
	t.Helper()
	_, _, err := s.EnsureAccount(ctx, accountID, base)
	require.NoError(t, err)
	if amount.IsPositive() {
		_, err = s.Mint(ctx, accountID, amount, base)
		require.NoError(t, err)
	}
}

func balance(t *testing.T, ctx context.Context, s store.Store, accountID string) types.Amount {
	t.Helper()
	a, err := s.GetAccount(ctx, accountID)
	require.NoError(t, err)
	return a.Balance
}

// AssertSupplyInvariant checks Σbalance + Σunredeemed == minted ≤ cap.
func AssertSupplyInvariant(t *testing.T, ctx context.Context, s store.Store) {
	t.Helper()
	audit, err := s.AuditSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, audit.Minted, audit.Total, "minted counter must equal balances plus outstanding tokens")
	assert.LessOrEqual(t, audit.Minted, audit.Cap)
}

func testEnsureAccount(t *testing.T, newStore Factory) {
	ctx, s := setup(t, newStore, DefaultCap)

	a, created, err := s.EnsureAccount(ctx, "alice", base)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "alice", a.ID)
	assert.True(t, a.Balance.IsZero())
	assert.True(t, a.Checkpoint.Equal(base))

	again, created, err := s.EnsureAccount(ctx, "alice", base.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, again.Checkpoint.Equal(base), "second ensure must not reset the checkpoint")

	_, err = s.GetAccount(ctx, "nobody")
	assert.ErrorIs(t, err, passledger.ErrAccountNotFound)
}

func testEnsureAccountConcurrent(t *testing.T, newStore Factory) {
	ctx, s := setup(t, newStore, DefaultCap)

	const n = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		errs    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := s.EnsureAccount(ctx, "shared", base)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if created {
				winners++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, winners, "exactly one caller creates the row")
	audit, err := s.AuditSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), audit.Accounts)
}

func testDebitCredit(t *testing.T, newStore Factory) {
	ctx, s := setup(t, newStore, DefaultCap)
	fund(t, ctx, s, "alice", types.Coins(50))

	require.NoError(t, s.Debit(ctx, "alice", types.Coins(20)))
	assert.Equal(t, types.Coins(30), balance(t, ctx, s, "alice"))

	err := s.Debit(ctx, "alice", types.Coins(31))
	assert.ErrorIs(t, err, passledger.ErrInsufficientFunds)
	assert.Equal(t, types.Coins(30), balance(t, ctx, s, "alice"))

	require.NoError(t, s.Credit(ctx, "alice", types.Coins(20)))
	assert.Equal(t, types.Coins(50), balance(t, ctx, s, "alice"))

	assert.ErrorIs(t, s.Debit(ctx, "ghost", types.Coins(1)), passledger.ErrAccountNotFound)
	assert.ErrorIs(t, s.Credit(ctx, "ghost", types.Coins(1)), passledger.ErrAccountNotFound)
}

func testNonPositiveAmounts(t *testing.T, newStore Factory) {
	ctx, s := setup(t, newStore, types.Coins(10))
	fund(t, ctx, s, "alice", types.Coins(5))

	for _, amount := range []types.Amount{types.Zero, types.Coins(-1000)} {
		assert.ErrorIs(t, s.Debit(ctx, "alice", amount), passledger.ErrInvalidAmount, amount.String())
		assert.ErrorIs(t, s.Credit(ctx, "alice", amount), passledger.ErrInvalidAmount, amount.String())
		_, err := s.Mint(ctx, "alice", amount, base)
		assert.ErrorIs(t, err, passledger.ErrInvalidAmount, amount.String())
	}

	assert.Equal(t, types.Coins(5), balance(t, ctx, s, "alice"))
	stats, err := s.SupplyStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Coins(5), stats.Minted)
	AssertSupplyInvariant(t, ctx, s)
}

func testConcurrentDebits(t *testing.T, newStore Factory) {
	ctx, s := setup(t, newStore, DefaultCap)
	fund(t, ctx, s, "alice", types.Coins(100))

	const n = 50
	amount := types.Coins(7) // 50 * 7 = 350 > 100
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded types.Amount
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Debit(ctx, "alice", amount)
			if err == nil {
				mu.Lock()
				succeeded += amount
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, passledger.ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, succeeded, types.Coins(100))
	assert.Equal(t, types.Coins(98), succeeded, "14 debits of 7 fit in 100")
	assert.Equal(t, types.Coins(100)-succeeded, balance(t, ctx, s, "alice"))
}

func testApplyAccrualCAS(t *testing.T, newStore Factory) {
	ctx, s := setup(t, newStore, DefaultCap)
	fund(t, ctx, s, "alice", 0)

	out, err := s.ApplyAccrual(ctx, &account.AccrualUpdate{
		AccountID:          "alice",
		ExpectedCheckpoint: base,
		NewCheckpoint:      base.Add(time.Hour),
		Credit:             types.Coins(100),
	})
	require.NoError(t, err)
	assert.Equal(t, types.Coins(100), out.Granted)
	assert.Equal(t, types.Coins(100), out.Balance)
	assert.True(t, out.Checkpoint.Equal(base.Add(time.Hour)))

	// A writer holding the stale checkpoint must lose.
	_, err = s.ApplyAccrual(ctx, &account.AccrualUpdate{
		AccountID:          "alice",
		ExpectedCheckpoint: base,
		NewCheckpoint:      base.Add(2 * time.Hour),
		Credit:             types.Coins(200),
	})
	assert.ErrorIs(t, err, passledger.ErrCheckpointMoved)

	a, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(100), a.Balance)
	assert.Equal(t, types.Coins(100), a.LastCredit)
	assert.True(t, a.Checkpoint.Equal(base.Add(time.Hour)))

	_, err = s.ApplyAccrual(ctx, &account.AccrualUpdate{AccountID: "ghost", ExpectedCheckpoint: base, NewCheckpoint: base})
	assert.ErrorIs(t, err, passledger.ErrAccountNotFound)

	AssertSupplyInvariant(t, ctx, s)
}

func testApplyAccrualClamp(t *testing.T, newStore Factory) {
	ctx, s := setup(t, newStore, types.Coins(150))
	fund(t, ctx, s, "alice", 0)
	fund(t, ctx, s, "bob", 0)

	out, err := s.ApplyAccrual(ctx, &account.AccrualUpdate{
		AccountID: "alice", ExpectedCheckpoint: base, NewCheckpoint: base.Add(time.Hour), Credit: types.Coins(100),
	})
	require.NoError(t, err)
	assert.Equal(t, types.Coins(100), out.Granted)

	out, err = s.ApplyAccrual(ctx, &account.AccrualUpdate{
		AccountID: "bob", ExpectedCheckpoint: base, NewCheckpoint: base.Add(time.Hour), Credit: types.Coins(100),
	})
	require.NoError(t, err)
	assert.Equal(t, types.Coins(50), out.Granted, "only the remaining supply is credited")
	assert.True(t, out.Checkpoint.Equal(base.Add(time.Hour)), "checkpoint advances even when clamped")

	out, err = s.ApplyAccrual(ctx, &account.AccrualUpdate{
		AccountID: "bob", ExpectedCheckpoint: base.Add(time.Hour), NewCheckpoint: base.Add(2 * time.Hour), Credit: types.Coins(100),
	})
	require.NoError(t, err)
	assert.True(t, out.Granted.IsZero())
	assert.Equal(t, types.Coins(50), out.Balance)

	stats, err := s.SupplyStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Coins(150), stats.Minted)
	assert.True(t, stats.Remaining.IsZero())

	AssertSupplyInvariant(t, ctx, s)
}

func newToken(t *testing.T, issuer string, amount types.Amount) *passtoken.Token {
	t.Helper()
	tok, err := passtoken.New(issuer, amount, base)
	require.NoError(t, err)
	return tok
}

func testIssueAndRedeem(t *testing.T, newStore Factory) {
	ctx, s := setup(t, newStore, DefaultCap)
	fund(t, ctx, s, "alice", types.Coins(50))
	fund(t, ctx, s, "bob", 0)

	tok := newToken(t, "alice", types.Coins(30))
	require.NoError(t, s.IssueToken(ctx, tok))
	assert.Equal(t, types.Coins(20), balance(t, ctx, s, "alice"))

	got, err := s.GetToken(ctx, tok.Secret)
	require.NoError(t, err)
	assert.Equal(t, passtoken.StateActive, got.State())
	assert.Equal(t, tok.ID, got.ID)
	AssertSupplyInvariant(t, ctx, s)

	redeemed, err := s.RedeemToken(ctx, tok.Secret, "bob", base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, types.Coins(30), redeemed.Amount)
	assert.Equal(t, passtoken.StateRedeemed, redeemed.State())
	assert.Equal(t, types.Coins(30), balance(t, ctx, s, "bob"))

	_, err = s.RedeemToken(ctx, tok.Secret, "carol", base.Add(2*time.Minute))
	assert.ErrorIs(t, err, passledger.ErrAlreadyRedeemed)

	byID, err := s.GetTokenByID(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", byID.Redeemer)
	require.NotNil(t, byID.RedeemedAt)

	_, err = s.RedeemToken(ctx, "does-not-exist", "bob", base)
	assert.ErrorIs(t, err, passledger.ErrTokenNotFound)
	_, err = s.GetTokenByID(ctx, id.NewPassTokenID())
	assert.ErrorIs(t, err, passledger.ErrTokenNotFound)

	AssertSupplyInvariant(t, ctx, s)
}

func testIssueInsufficient(t *testing.T, newStore Factory) {
	ctx, s := setup(t, newStore, DefaultCap)
	fund(t, ctx, s, "alice", types.Coins(10))

	tok := newToken(t, "alice", types.Coins(11))
	err := s.IssueToken(ctx, tok)
	assert.ErrorIs(t, err, passledger.ErrInsufficientFunds)
	assert.Equal(t, types.Coins(10), balance(t, ctx, s, "alice"))

	_, err = s.GetToken(ctx, tok.Secret)
	assert.ErrorIs(t, err, passledger.ErrTokenNotFound, "no token without a debit")

	err = s.IssueToken(ctx, newToken(t, "ghost", types.Coins(1)))
	assert.Error(t, err)
	assert.True(t, errors.Is(err, passledger.ErrAccountNotFound) || errors.Is(err, passledger.ErrInsufficientFunds))

	AssertSupplyInvariant(t, ctx, s)
}

func testSelfRedemption(t *testing.T, newStore Factory) {
	ctx, s := setup(t, newStore, DefaultCap)
	fund(t, ctx, s, "alice", types.Coins(50))

	tok := newToken(t, "alice", types.Coins(30))
	require.NoError(t, s.IssueToken(ctx, tok))

	_, err := s.RedeemToken(ctx, tok.Secret, "alice", base)
	assert.ErrorIs(t, err, passledger.ErrSelfRedemption)

	got, err := s.GetToken(ctx, tok.Secret)
	require.NoError(t, err)
	assert.Equal(t, passtoken.StateActive, got.State())
	assert.Equal(t, types.Coins(20), balance(t, ctx, s, "alice"))
}

func testConcurrentRedeem(t *testing.T, newStore Factory) {
	ctx, s := setup(t, newStore, DefaultCap)
	fund(t, ctx, s, "alice", types.Coins(50))

	tok := newToken(t, "alice", types.Coins(30))
	require.NoError(t, s.IssueToken(ctx, tok))

	const k = 24
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes []string
		already   int
	)
	for i := 0; i < k; i++ {
		redeemer := fmt.Sprintf("r%02d", i)
		fund(t, ctx, s, redeemer, 0)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RedeemToken(ctx, tok.Secret, redeemer, base)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes = append(successes, redeemer)
			case errors.Is(err, passledger.ErrAlreadyRedeemed):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, successes, 1)
	assert.Equal(t, k-1, already)
	assert.Equal(t, types.Coins(30), balance(t, ctx, s, successes[0]))
	AssertSupplyInvariant(t, ctx, s)
}

func testListTokens(t *testing.T, newStore Factory) {
	ctx, s := setup(t, newStore, DefaultCap)
	fund(t, ctx, s, "alice", types.Coins(100))
	fund(t, ctx, s, "bob", types.Coins(100))

	var issued []*passtoken.Token
	for i := 0; i < 3; i++ {
		tok, err := passtoken.New("alice", types.Coins(int64(i+1)), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.NoError(t, s.IssueToken(ctx, tok))
		issued = append(issued, tok)
	}
	require.NoError(t, s.IssueToken(ctx, newToken(t, "bob", types.Coins(1))))
	_, err := s.RedeemToken(ctx, issued[0].Secret, "bob", base.Add(time.Hour))
	require.NoError(t, err)

	all, err := s.ListTokens(ctx, "alice", passtoken.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, issued[2].ID, all[0].ID, "newest first")

	active, err := s.ListTokens(ctx, "alice", passtoken.ListOpts{State: passtoken.StateActive})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	redeemed, err := s.ListTokens(ctx, "alice", passtoken.ListOpts{State: passtoken.StateRedeemed})
	require.NoError(t, err)
	require.Len(t, redeemed, 1)
	assert.Equal(t, issued[0].ID, redeemed[0].ID)

	page, err := s.ListTokens(ctx, "alice", passtoken.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, issued[1].ID, page[0].ID)

	none, err := s.ListTokens(ctx, "nobody", passtoken.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testMint(t *testing.T, newStore Factory) {
	ctx, s := setup(t, newStore, types.Coins(100))

	a, err := s.Mint(ctx, "alice", types.Coins(60), base)
	require.NoError(t, err)
	assert.Equal(t, types.Coins(60), a.Balance)

	_, err = s.Mint(ctx, "bob", types.Coins(41), base)
	assert.ErrorIs(t, err, passledger.ErrSupplyExhausted)

	_, err = s.GetAccount(ctx, "bob")
	assert.ErrorIs(t, err, passledger.ErrAccountNotFound, "failed mint leaves no trace")

	_, err = s.Mint(ctx, "bob", types.Coins(40), base)
	require.NoError(t, err)

	stats, err := s.SupplyStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Coins(100), stats.Minted)
	AssertSupplyInvariant(t, ctx, s)
}

func testInitSupplyMismatch(t *testing.T, newStore Factory) {
	ctx, s := setup(t, newStore, types.Coins(100))

	stats, err := s.InitSupply(ctx, types.Coins(100))
	require.NoError(t, err, "re-init with the same cap is a no-op")
	assert.Equal(t, types.Coins(100), stats.Cap)

	_, err = s.InitSupply(ctx, types.Coins(200))
	assert.ErrorIs(t, err, passledger.ErrSupplyCapMismatch)
}

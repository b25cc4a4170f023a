package passledger_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/passledger"
	"github.com/xraph/passledger/account"
	"github.com/xraph/passledger/passtoken"
	"github.com/xraph/passledger/store"
	"github.com/xraph/passledger/store/memory"
	"github.com/xraph/passledger/types"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func fastRetry() passledger.RetryPolicy {
	return passledger.RetryPolicy{MaxTries: 5, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}

func newLedger(t *testing.T, s store.Store, opts ...passledger.Option) (*passledger.Ledger, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: t0}
	opts = append([]passledger.Option{
		passledger.WithClock(clock.Now),
		passledger.WithRetryPolicy(fastRetry()),
	}, opts...)

	l, err := passledger.New(s, opts...)
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Stop() })
	return l, clock
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name  string
		opts  []passledger.Option
		field string
	}{
		{"negative rate", []passledger.Option{passledger.WithRatePerHour(-1)}, "rate_per_hour"},
		{"negative cap", []passledger.Option{passledger.WithSupplyCap(-1)}, "supply_cap"},
		{"zero cas attempts", []passledger.Option{passledger.WithMaxCASAttempts(0)}, "max_cas_attempts"},
		{"zero tries", []passledger.Option{passledger.WithRetryPolicy(passledger.RetryPolicy{})}, "retry_max_tries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := passledger.New(memory.New(), tt.opts...)
			var verr passledger.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.ErrorIs(t, err, passledger.ErrInvalidInput)
		})
	}

	_, err := passledger.New(nil)
	assert.ErrorIs(t, err, passledger.ErrInvalidInput)
}

func TestDefaultConfig(t *testing.T) {
	cfg := passledger.DefaultConfig()
	assert.Equal(t, "100.0000", cfg.RatePerHour.String())
	assert.Equal(t, types.Coins(1_000_000_000), cfg.SupplyCap)
	assert.Equal(t, 8, cfg.MaxCASAttempts)
	assert.Equal(t, uint(5), cfg.Retry.MaxTries)
	assert.NoError(t, cfg.Validate())
}

func TestAccrueOneHour(t *testing.T) {
	l, _ := newLedger(t, memory.New())
	ctx := context.Background()

	_, err := l.EnsureAccount(ctx, "alice")
	require.NoError(t, err)

	res, err := l.Accrue(ctx, "alice", t0.Add(3600*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "100.0000", res.Balance.String())
	assert.Equal(t, types.Coins(100), res.Credited)
	assert.False(t, res.Clamped)
	assert.Equal(t, time.Hour, res.Elapsed)

	bal, err := l.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(100), bal)
}

func TestAccrueAdditiveAcrossCalls(t *testing.T) {
	l, _ := newLedger(t, memory.New())
	ctx := context.Background()

	_, err := l.EnsureAccount(ctx, "split")
	require.NoError(t, err)
	_, err = l.EnsureAccount(ctx, "whole")
	require.NoError(t, err)

	end := t0.Add(90*time.Minute + 7*time.Second + 3*time.Millisecond)
	for at := t0.Add(333 * time.Millisecond); at.Before(end); at = at.Add(41*time.Second + 17*time.Millisecond) {
		_, err := l.Accrue(ctx, "split", at)
		require.NoError(t, err)
	}
	split, err := l.Accrue(ctx, "split", end)
	require.NoError(t, err)

	whole, err := l.Accrue(ctx, "whole", end)
	require.NoError(t, err)

	assert.Equal(t, whole.Balance, split.Balance)
}

func TestAccrueClockSkew(t *testing.T) {
	l, _ := newLedger(t, memory.New())
	ctx := context.Background()

	_, err := l.Accrue(ctx, "alice", t0.Add(time.Hour))
	require.NoError(t, err)

	res, err := l.Accrue(ctx, "alice", t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.True(t, res.Credited.IsZero())
	assert.Equal(t, types.Coins(100), res.Balance)
	assert.True(t, res.Checkpoint.Equal(t0.Add(time.Hour)), "checkpoint must not move backwards")
}

func TestAccrueBeforeUnixEpoch(t *testing.T) {
	l, clock := newLedger(t, memory.New())
	ctx := context.Background()

	start := time.Date(1969, 12, 31, 23, 0, 0, 0, time.UTC)
	clock.Set(start)
	_, err := l.EnsureAccount(ctx, "alice")
	require.NoError(t, err)

	res, err := l.Accrue(ctx, "alice", start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, types.Coins(100), res.Credited)
	assert.Equal(t, types.Coins(100), res.Balance)
}

func TestAccrueUsesClockWhenNowIsZero(t *testing.T) {
	l, clock := newLedger(t, memory.New())
	ctx := context.Background()

	_, err := l.EnsureAccount(ctx, "alice")
	require.NoError(t, err)

	clock.Set(t0.Add(36 * time.Second))
	res, err := l.Accrue(ctx, "alice", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, types.Coins(1), res.Credited)
}

func TestAccrueCreatesAccount(t *testing.T) {
	l, _ := newLedger(t, memory.New())
	ctx := context.Background()

	_, err := l.GetBalance(ctx, "new")
	assert.ErrorIs(t, err, passledger.ErrAccountNotFound)

	res, err := l.Accrue(ctx, "new", t0)
	require.NoError(t, err)
	assert.True(t, res.Balance.IsZero())

	bal, err := l.GetBalance(ctx, "new")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestConcurrentAccrueCreditsOnce(t *testing.T) {
	l, _ := newLedger(t, memory.New(), passledger.WithMaxCASAttempts(64))
	ctx := context.Background()

	_, err := l.EnsureAccount(ctx, "alice")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Accrue(ctx, "alice", t0.Add(time.Hour))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	bal, err := l.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(100), bal, "the same interval is never credited twice")

	stats, err := l.GetSupplyStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Coins(100), stats.Minted)
}

func TestPassTokenScenario(t *testing.T) {
	l, _ := newLedger(t, memory.New())
	ctx := context.Background()

	_, err := l.Grant(ctx, "A", types.Coins(50))
	require.NoError(t, err)

	tok, err := l.CreatePassToken(ctx, "A", types.Coins(30))
	require.NoError(t, err)
	assert.Len(t, tok.Secret, 64)
	assert.Equal(t, passtoken.StateActive, tok.State())

	balA, err := l.GetBalance(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "20.0000", balA.String())

	amount, err := l.RedeemPassToken(ctx, tok.Secret, "B")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(30), amount)

	balB, err := l.GetBalance(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, "30.0000", balB.String())

	got, err := l.GetPassToken(ctx, tok.Secret)
	require.NoError(t, err)
	assert.Equal(t, passtoken.StateRedeemed, got.State())
	assert.Equal(t, "B", got.Redeemer)

	_, err = l.RedeemPassToken(ctx, tok.Secret, "C")
	assert.ErrorIs(t, err, passledger.ErrAlreadyRedeemed)

	audit, err := l.AuditSupply(ctx)
	require.NoError(t, err)
	assert.True(t, audit.Consistent())
	assert.Equal(t, types.Coins(50), audit.Total)
}

func TestRedeemNormalizesToken(t *testing.T) {
	l, _ := newLedger(t, memory.New())
	ctx := context.Background()

	_, err := l.Grant(ctx, "A", types.Coins(10))
	require.NoError(t, err)
	tok, err := l.CreatePassToken(ctx, "A", types.Coins(10))
	require.NoError(t, err)

	amount, err := l.RedeemPassToken(ctx, "  "+strings.ToUpper(tok.Secret)+"\n", "B")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(10), amount)
}

func TestRedeemRejections(t *testing.T) {
	l, _ := newLedger(t, memory.New())
	ctx := context.Background()

	_, err := l.Grant(ctx, "A", types.Coins(50))
	require.NoError(t, err)
	tok, err := l.CreatePassToken(ctx, "A", types.Coins(30))
	require.NoError(t, err)

	t.Run("self redemption", func(t *testing.T) {
		_, err := l.RedeemPassToken(ctx, tok.Secret, "A")
		assert.ErrorIs(t, err, passledger.ErrSelfRedemption)

		got, err := l.GetPassToken(ctx, tok.Secret)
		require.NoError(t, err)
		assert.Equal(t, passtoken.StateActive, got.State())

		bal, err := l.GetBalance(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, types.Coins(20), bal)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := l.RedeemPassToken(ctx, strings.Repeat("ab", 32), "B")
		assert.ErrorIs(t, err, passledger.ErrTokenNotFound)
		assert.True(t, passledger.IsNotFound(err))
	})

	t.Run("malformed token", func(t *testing.T) {
		_, err := l.RedeemPassToken(ctx, "not-a-token", "B")
		assert.ErrorIs(t, err, passledger.ErrTokenNotFound)
	})

	t.Run("missing redeemer", func(t *testing.T) {
		_, err := l.RedeemPassToken(ctx, tok.Secret, "")
		assert.ErrorIs(t, err, passledger.ErrInvalidInput)
	})
}

func TestCreatePassTokenValidation(t *testing.T) {
	l, _ := newLedger(t, memory.New())
	ctx := context.Background()

	_, err := l.CreatePassToken(ctx, "A", 0)
	assert.ErrorIs(t, err, passledger.ErrInvalidAmount)

	_, err = l.CreatePassToken(ctx, "A", types.Coins(-1))
	assert.ErrorIs(t, err, passledger.ErrInvalidAmount)

	_, err = l.CreatePassToken(ctx, "", types.Coins(1))
	assert.ErrorIs(t, err, passledger.ErrInvalidInput)

	// Unknown issuers are created with a zero balance and cannot pay.
	_, err = l.CreatePassToken(ctx, "fresh", types.Coins(1))
	assert.ErrorIs(t, err, passledger.ErrInsufficientFunds)

	bal, err := l.GetBalance(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestConcurrentRedeemExactlyOnce(t *testing.T) {
	l, _ := newLedger(t, memory.New())
	ctx := context.Background()

	_, err := l.Grant(ctx, "A", types.Coins(50))
	require.NoError(t, err)
	tok, err := l.CreatePassToken(ctx, "A", types.Coins(30))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		losers  atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.RedeemPassToken(ctx, tok.Secret, fmt.Sprintf("r%d", i))
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, passledger.ErrAlreadyRedeemed):
				losers.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(15), losers.Load())
}

func TestSupplyCapReached(t *testing.T) {
	l, _ := newLedger(t, memory.New(), passledger.WithSupplyCap(types.Coins(150)))
	ctx := context.Background()

	_, err := l.EnsureAccount(ctx, "A")
	require.NoError(t, err)
	_, err = l.EnsureAccount(ctx, "B")
	require.NoError(t, err)

	res, err := l.Accrue(ctx, "A", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, types.Coins(100), res.Credited)

	res, err = l.Accrue(ctx, "B", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, types.Coins(50), res.Credited)
	assert.True(t, res.Clamped)

	stats, err := l.GetSupplyStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats.Cap, stats.Minted)
	assert.True(t, stats.Exhausted())

	res, err = l.Accrue(ctx, "A", t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, res.Credited.IsZero())
	assert.True(t, res.Checkpoint.Equal(t0.Add(2*time.Hour)), "clamp-and-discard still advances the checkpoint")

	after, err := l.GetSupplyStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats.Minted, after.Minted)

	// Existing balances still move.
	tok, err := l.CreatePassToken(ctx, "A", types.Coins(40))
	require.NoError(t, err)
	_, err = l.RedeemPassToken(ctx, tok.Secret, "B")
	require.NoError(t, err)

	_, err = l.Grant(ctx, "C", types.Amount(1))
	assert.ErrorIs(t, err, passledger.ErrSupplyExhausted)

	audit, err := l.Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, audit.Consistent())
}

func TestListPassTokens(t *testing.T) {
	l, clock := newLedger(t, memory.New())
	ctx := context.Background()

	_, err := l.Grant(ctx, "A", types.Coins(10))
	require.NoError(t, err)

	var ids []string
	for i := 1; i <= 3; i++ {
		clock.Set(t0.Add(time.Duration(i) * time.Minute))
		tok, err := l.CreatePassToken(ctx, "A", types.Coins(1))
		require.NoError(t, err)
		ids = append(ids, tok.ID.String())
	}

	list, err := l.ListPassTokens(ctx, "A", passtoken.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID.String())
	assert.Equal(t, ids[1], list[1].ID.String())

	_, err = l.ListPassTokens(ctx, "A", passtoken.ListOpts{State: "bogus"})
	assert.ErrorIs(t, err, passledger.ErrInvalidInput)

	byID, err := l.GetPassTokenByID(ctx, list[0].ID)
	require.NoError(t, err)
	assert.Empty(t, byID.Secret)
}

func TestStartRejectsCapChange(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	l1, err := passledger.New(s, passledger.WithSupplyCap(types.Coins(10)))
	require.NoError(t, err)
	require.NoError(t, l1.Start(ctx))

	l2, err := passledger.New(s, passledger.WithSupplyCap(types.Coins(20)))
	require.NoError(t, err)
	assert.ErrorIs(t, l2.Start(ctx), passledger.ErrSupplyCapMismatch)
}

func TestStopIsIdempotent(t *testing.T) {
	l, err := passledger.New(memory.New())
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))

	require.NoError(t, l.Stop())
	require.NoError(t, l.Stop())
}

// ──────────────────────────────────────────────────
// Retry behaviour
// ──────────────────────────────────────────────────

// flakyStore fails the first n calls of selected operations.
type flakyStore struct {
	*memory.Store

	failures atomic.Int32
	err      error

	// checkpointRaces makes ApplyAccrual report a lost race this many times.
	checkpointRaces atomic.Int32

	// commitThenFail makes RedeemToken commit and then report unavailability once.
	commitThenFail atomic.Bool
}

func (f *flakyStore) fail() error {
	if f.failures.Add(-1) >= 0 {
		return f.err
	}
	return nil
}

func (f *flakyStore) GetAccount(ctx context.Context, accountID string) (*account.Account, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.Store.GetAccount(ctx, accountID)
}

func (f *flakyStore) ApplyAccrual(ctx context.Context, u *account.AccrualUpdate) (*account.AccrualOutcome, error) {
	if f.checkpointRaces.Add(-1) >= 0 {
		return nil, passledger.ErrCheckpointMoved
	}
	return f.Store.ApplyAccrual(ctx, u)
}

func (f *flakyStore) RedeemToken(ctx context.Context, secret, redeemer string, at time.Time) (*passtoken.Token, error) {
	if f.commitThenFail.CompareAndSwap(true, false) {
		if _, err := f.Store.RedeemToken(ctx, secret, redeemer, at); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("passledger/flaky: redeem: %w", passledger.ErrStoreUnavailable)
	}
	return f.Store.RedeemToken(ctx, secret, redeemer, at)
}

func TestRetryTransientFailures(t *testing.T) {
	fs := &flakyStore{Store: memory.New(), err: fmt.Errorf("passledger/flaky: %w", passledger.ErrStoreUnavailable)}
	l, _ := newLedger(t, fs)
	ctx := context.Background()

	_, err := l.EnsureAccount(ctx, "alice")
	require.NoError(t, err)

	fs.failures.Store(3)
	bal, err := l.GetBalance(ctx, "alice")
	require.NoError(t, err, "three transient failures fit in five tries")
	assert.True(t, bal.IsZero())

	fs.failures.Store(10)
	_, err = l.GetBalance(ctx, "alice")
	assert.ErrorIs(t, err, passledger.ErrStoreUnavailable)
	fs.failures.Store(0)
}

func TestRetryDoesNotRepeatRejections(t *testing.T) {
	fs := &flakyStore{Store: memory.New(), err: passledger.ErrAccountNotFound}
	l, _ := newLedger(t, fs)

	fs.failures.Store(2)
	_, err := l.GetBalance(context.Background(), "alice")
	assert.ErrorIs(t, err, passledger.ErrAccountNotFound)
	assert.Equal(t, int32(1), fs.failures.Load(), "a rejection is returned on the first attempt")
	fs.failures.Store(0)
}

func TestAccrueCASExhaustion(t *testing.T) {
	fs := &flakyStore{Store: memory.New()}
	l, _ := newLedger(t, fs,
		passledger.WithMaxCASAttempts(2),
		passledger.WithRetryPolicy(passledger.RetryPolicy{MaxTries: 1}),
	)
	ctx := context.Background()

	_, err := l.EnsureAccount(ctx, "alice")
	require.NoError(t, err)

	fs.checkpointRaces.Store(2)
	_, err = l.Accrue(ctx, "alice", t0.Add(time.Hour))
	assert.ErrorIs(t, err, passledger.ErrConcurrentConflict)

	fs.checkpointRaces.Store(1)
	res, err := l.Accrue(ctx, "alice", t0.Add(time.Hour))
	require.NoError(t, err, "one lost race is absorbed by the CAS loop")
	assert.Equal(t, types.Coins(100), res.Credited)
}

func TestRedeemRetryAfterLostReply(t *testing.T) {
	fs := &flakyStore{Store: memory.New()}
	l, _ := newLedger(t, fs)
	ctx := context.Background()

	_, err := l.Grant(ctx, "A", types.Coins(5))
	require.NoError(t, err)
	tok, err := l.CreatePassToken(ctx, "A", types.Coins(5))
	require.NoError(t, err)

	fs.commitThenFail.Store(true)
	amount, err := l.RedeemPassToken(ctx, tok.Secret, "B")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(5), amount)

	bal, err := l.GetBalance(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(5), bal, "credited exactly once")
}

func TestRetryHonoursContext(t *testing.T) {
	fs := &flakyStore{Store: memory.New(), err: passledger.ErrStoreUnavailable}
	l, _ := newLedger(t, fs, passledger.WithRetryPolicy(passledger.RetryPolicy{
		MaxTries: 100, InitialInterval: time.Second, MaxInterval: time.Second,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	fs.failures.Store(100)
	_, err := l.GetBalance(ctx, "alice")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	fs.failures.Store(0)
}

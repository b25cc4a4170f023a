package accrual

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/passledger/types"
)

var epoch = time.Date(2025, 3, 14, 9, 26, 53, 589793238, time.UTC)

func newEngine(t *testing.T, rate types.Amount) *Engine {
	t.Helper()
	e, err := NewEngine(rate)
	require.NoError(t, err)
	return e
}

func TestComputeOneHour(t *testing.T) {
	e := newEngine(t, types.Coins(100))

	res := e.Compute(epoch, epoch.Add(time.Hour))

	assert.Equal(t, types.Coins(100), res.Credit)
	assert.Equal(t, "100.0000", res.Credit.FormatMajor())
	assert.Equal(t, epoch.Add(time.Hour), res.Checkpoint)
	assert.Equal(t, time.Hour, res.Elapsed)
}

func TestComputeTable(t *testing.T) {
	e := newEngine(t, types.Coins(100))

	tests := []struct {
		name    string
		elapsed time.Duration
		want    types.Amount
	}{
		{"zero", 0, 0},
		{"one second", time.Second, types.Amount(277)},
		{"36 seconds", 36 * time.Second, types.Coins(1)},
		{"one minute", time.Minute, types.Amount(16666)},
		{"two hours", 2 * time.Hour, types.Coins(200)},
		{"one day", 24 * time.Hour, types.Coins(2400)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Start on an exact unit boundary so floor effects are predictable.
			start := time.Unix(0, 0).Add(1000 * time.Hour)
			res := e.Compute(start, start.Add(tt.elapsed))
			assert.Equal(t, tt.want, res.Credit)
		})
	}
}

func TestComputeClockSkew(t *testing.T) {
	e := newEngine(t, types.Coins(100))

	res := e.Compute(epoch, epoch.Add(-time.Minute))

	assert.True(t, res.Credit.IsZero())
	assert.Equal(t, epoch, res.Checkpoint, "checkpoint must never move backwards")
}

func TestComputeAdditive(t *testing.T) {
	e := newEngine(t, types.Coins(100))
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 200; i++ {
		t0 := epoch.Add(time.Duration(rng.Int64N(int64(time.Hour))))
		t2 := t0.Add(time.Duration(rng.Int64N(int64(48 * time.Hour))))
		t1 := t0.Add(time.Duration(rng.Int64N(int64(t2.Sub(t0)) + 1)))

		whole := e.Compute(t0, t2).Credit
		first := e.Compute(t0, t1)
		second := e.Compute(first.Checkpoint, t2)

		require.Equal(t, whole, first.Credit+second.Credit,
			"split at %s of [%s, %s]", t1, t0, t2)
	}
}

func TestComputeManySmallSteps(t *testing.T) {
	e := newEngine(t, types.Coins(100))

	// Polling every 250ms for an hour must credit exactly the same as one call.
	checkpoint := epoch
	var total types.Amount
	for i := 0; i < 4*3600; i++ {
		res := e.Compute(checkpoint, checkpoint.Add(250*time.Millisecond))
		total += res.Credit
		checkpoint = res.Checkpoint
	}

	assert.Equal(t, e.Compute(epoch, epoch.Add(time.Hour)).Credit, total)
	assert.Equal(t, types.Coins(100), total)
}

func TestZeroRate(t *testing.T) {
	e := newEngine(t, 0)
	res := e.Compute(epoch, epoch.Add(time.Hour))
	assert.True(t, res.Credit.IsZero())
	assert.Equal(t, epoch.Add(time.Hour), res.Checkpoint)
}

func TestNegativeRate(t *testing.T) {
	_, err := NewEngine(types.Coins(-1))
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestLargeRate(t *testing.T) {
	rate := types.Coins(1 << 40)
	e := newEngine(t, rate)
	res := e.Compute(epoch, epoch.Add(time.Hour))
	assert.Equal(t, rate, res.Credit)
}

func TestComputeBeforeAndAcrossUnixEpoch(t *testing.T) {
	e := newEngine(t, types.Coins(100))
	unix := time.Unix(0, 0).UTC()

	tests := []struct {
		name     string
		from, to time.Time
	}{
		{"before", unix.Add(-2 * time.Hour), unix.Add(-time.Hour)},
		{"ending at epoch", unix.Add(-time.Hour), unix},
		{"straddling", unix.Add(-30 * time.Minute), unix.Add(30 * time.Minute)},
		{"pre-epoch calendar date", time.Date(1969, 12, 31, 23, 0, 0, 0, time.UTC), unix},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, types.Coins(100), e.Compute(tt.from, tt.to).Credit)
		})
	}
}

func TestComputeAdditiveAcrossUnixEpoch(t *testing.T) {
	// An odd rate leaves a sub-unit remainder on most splits.
	e := newEngine(t, types.Amount(7))
	unix := time.Unix(0, 0).UTC()
	rng := rand.New(rand.NewPCG(3, 4))

	for i := 0; i < 200; i++ {
		t0 := unix.Add(-time.Duration(rng.Int64N(int64(48 * time.Hour))))
		t2 := unix.Add(time.Duration(rng.Int64N(int64(48 * time.Hour))))
		t1 := t0.Add(time.Duration(rng.Int64N(int64(t2.Sub(t0)) + 1)))

		whole := e.Compute(t0, t2).Credit
		first := e.Compute(t0, t1)
		second := e.Compute(first.Checkpoint, t2)

		require.Equal(t, whole, first.Credit+second.Credit,
			"split at %s of [%s, %s]", t1, t0, t2)
		require.False(t, whole.IsNegative())
	}
}

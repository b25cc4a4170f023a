package observability_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/passledger"
	"github.com/xraph/passledger/observability"
	"github.com/xraph/passledger/store/memory"
	"github.com/xraph/passledger/types"
)

type fakeMetric struct {
	mu       sync.Mutex
	count    float64
	observed []float64
}

func (m *fakeMetric) Inc()              { m.Add(1) }
func (m *fakeMetric) Add(v float64)     { m.mu.Lock(); m.count += v; m.mu.Unlock() }
func (m *fakeMetric) Observe(v float64) { m.mu.Lock(); m.observed = append(m.observed, v); m.mu.Unlock() }

type fakeFactory struct {
	mu      sync.Mutex
	metrics map[string]*fakeMetric
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{metrics: make(map[string]*fakeMetric)}
}

func (f *fakeFactory) get(name string) *fakeMetric {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.metrics[name]
	if !ok {
		m = &fakeMetric{}
		f.metrics[name] = m
	}
	return m
}

func (f *fakeFactory) Counter(name string) observability.Counter     { return f.get(name) }
func (f *fakeFactory) Histogram(name string) observability.Histogram { return f.get(name) }

func TestMetricsExtension(t *testing.T) {
	factory := newFakeFactory()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	l, err := passledger.New(memory.New(),
		passledger.WithPlugin(observability.NewMetricsExtension(factory)),
		passledger.WithSupplyCap(types.Coins(150)),
		passledger.WithClock(func() time.Time { return start }),
	)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, l.Start(ctx))
	defer l.Stop()

	_, err = l.Accrue(ctx, "alice", start.Add(time.Hour))
	require.NoError(t, err)
	_, err = l.Accrue(ctx, "bob", start.Add(time.Hour))
	require.NoError(t, err)

	tok, err := l.CreatePassToken(ctx, "alice", types.Coins(25))
	require.NoError(t, err)
	_, err = l.RedeemPassToken(ctx, tok.Secret, "bob")
	require.NoError(t, err)
	_, err = l.RedeemPassToken(ctx, tok.Secret, "carol")
	require.ErrorIs(t, err, passledger.ErrAlreadyRedeemed)

	assert.Equal(t, 3.0, factory.get("passledger.account.created").count)
	assert.Equal(t, 2.0, factory.get("passledger.accrual.count").count)
	assert.Equal(t, []float64{100, 50}, factory.get("passledger.accrual.credited_coins").observed)
	assert.Equal(t, 1.0, factory.get("passledger.supply.clamped").count)
	assert.Equal(t, 1.0, factory.get("passledger.pass_token.issued").count)
	assert.Equal(t, []float64{25}, factory.get("passledger.pass_token.issued_coins").observed)
	assert.Equal(t, 1.0, factory.get("passledger.pass_token.redeemed").count)
	assert.Equal(t, 1.0, factory.get("passledger.pass_token.rejected").count)
	assert.Equal(t, 1.0, factory.get("passledger.pass_token.already_redeemed").count)
}

package plugin_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/passledger/passtoken"
	"github.com/xraph/passledger/plugin"
	"github.com/xraph/passledger/types"
)

type recorder struct {
	name    string
	issued  []*passtoken.Token
	granted types.Amount
	fail    bool
	block   time.Duration
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnTokenIssued(_ context.Context, tok *passtoken.Token) error {
	r.issued = append(r.issued, tok)
	if r.fail {
		return errors.New("boom")
	}
	return nil
}

func (r *recorder) OnGranted(_ context.Context, _ string, amount types.Amount) error {
	time.Sleep(r.block)
	r.granted += amount
	return nil
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(&recorder{name: "a"}))
	require.Error(t, reg.Register(&recorder{name: "a"}))
	require.NoError(t, reg.Register(&recorder{name: "b"}))

	assert.Equal(t, 2, reg.Count())
	assert.NotNil(t, reg.Get("a"))
	assert.Nil(t, reg.Get("missing"))
	assert.Len(t, reg.List(), 2)
}

func TestEmitTokenIssuedRedactsSecret(t *testing.T) {
	reg := plugin.NewRegistry()
	r := &recorder{name: "r"}
	require.NoError(t, reg.Register(r))

	tok, err := passtoken.New("alice", types.Coins(1), time.Now())
	require.NoError(t, err)

	reg.EmitTokenIssued(context.Background(), tok)

	require.Len(t, r.issued, 1)
	assert.Empty(t, r.issued[0].Secret)
	assert.Equal(t, tok.ID, r.issued[0].ID)
	assert.NotEmpty(t, tok.Secret, "caller's token is untouched")
}

func TestEmitSurvivesFailingPlugin(t *testing.T) {
	reg := plugin.NewRegistry()
	bad := &recorder{name: "bad", fail: true}
	good := &recorder{name: "good"}
	require.NoError(t, reg.Register(bad))
	require.NoError(t, reg.Register(good))

	tok, err := passtoken.New("alice", types.Coins(1), time.Now())
	require.NoError(t, err)
	reg.EmitTokenIssued(context.Background(), tok)

	assert.Len(t, bad.issued, 1)
	assert.Len(t, good.issued, 1)
}

func TestEmitTimesOut(t *testing.T) {
	reg := plugin.NewRegistry().WithTimeout(10 * time.Millisecond)
	slow := &recorder{name: "slow", block: time.Second}
	require.NoError(t, reg.Register(slow))

	start := time.Now()
	reg.EmitGranted(context.Background(), "alice", types.Coins(1))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

package audithook_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/passledger"
	audithook "github.com/xraph/passledger/audit_hook"
	"github.com/xraph/passledger/passtoken"
	"github.com/xraph/passledger/store/memory"
	"github.com/xraph/passledger/types"
)

type captured struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (c *captured) Record(_ context.Context, evt *audithook.AuditEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *captured) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Action)
	}
	return out
}

func (c *captured) find(action string) *audithook.AuditEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e.Action == action {
			return e
		}
	}
	return nil
}

func TestTokenEventsNeverCarrySecret(t *testing.T) {
	rec := &captured{}
	ext := audithook.New(rec)

	tok, err := passtoken.New("alice", types.Coins(3), time.Now())
	require.NoError(t, err)

	require.NoError(t, ext.OnTokenIssued(context.Background(), tok))
	tok.MarkRedeemed("bob", time.Now())
	require.NoError(t, ext.OnTokenRedeemed(context.Background(), tok))

	require.Len(t, rec.events, 2)
	for _, evt := range rec.events {
		assert.Equal(t, tok.ID.String(), evt.ResourceID)
		for k, v := range evt.Metadata {
			s, ok := v.(string)
			if ok {
				assert.NotContains(t, s, tok.Secret, "metadata %q leaks the secret", k)
			}
		}
	}
	assert.Equal(t, "bob", rec.events[1].Metadata["redeemer"])
}

func TestEnabledAndDisabledActions(t *testing.T) {
	rec := &captured{}
	ext := audithook.New(rec, audithook.WithEnabledActions(audithook.ActionGranted))

	ctx := context.Background()
	require.NoError(t, ext.OnGranted(ctx, "alice", types.Coins(1)))
	require.NoError(t, ext.OnAccrued(ctx, "alice", 1, 1, time.Second))
	assert.Equal(t, []string{audithook.ActionGranted}, rec.actions())

	rec2 := &captured{}
	ext2 := audithook.New(rec2, audithook.WithDisabledActions(audithook.ActionAccrued))
	require.NoError(t, ext2.OnGranted(ctx, "alice", types.Coins(1)))
	require.NoError(t, ext2.OnAccrued(ctx, "alice", 1, 1, time.Second))
	assert.Equal(t, []string{audithook.ActionGranted}, rec2.actions())
}

func TestRecorderFailureIsSwallowed(t *testing.T) {
	ext := audithook.New(audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("backend down")
	}))
	assert.NoError(t, ext.OnGranted(context.Background(), "alice", types.Coins(1)))
}

func TestLedgerEmitsAuditTrail(t *testing.T) {
	rec := &captured{}
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	l, err := passledger.New(memory.New(),
		passledger.WithPlugin(audithook.New(rec)),
		passledger.WithSupplyCap(types.Coins(120)),
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

	tok, err := l.CreatePassToken(ctx, "alice", types.Coins(10))
	require.NoError(t, err)
	_, err = l.RedeemPassToken(ctx, tok.Secret, "alice")
	require.ErrorIs(t, err, passledger.ErrSelfRedemption)
	_, err = l.RedeemPassToken(ctx, strings.ToUpper(tok.Secret), "bob")
	require.NoError(t, err)

	for _, action := range []string{
		audithook.ActionAccountCreated,
		audithook.ActionAccrued,
		audithook.ActionSupplyExhausted,
		audithook.ActionTokenIssued,
		audithook.ActionRedemptionRejected,
		audithook.ActionTokenRedeemed,
	} {
		assert.NotNil(t, rec.find(action), "missing %s", action)
	}

	rejected := rec.find(audithook.ActionRedemptionRejected)
	require.NotNil(t, rejected)
	assert.Equal(t, audithook.OutcomeFailure, rejected.Outcome)
	assert.Contains(t, rejected.Reason, "own pass token")
}

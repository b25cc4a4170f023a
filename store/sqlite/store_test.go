package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/sqlitedriver"

	passledger "github.com/xraph/passledger"
	"github.com/xraph/passledger/store"
	"github.com/xraph/passledger/store/sqlite"
	"github.com/xraph/passledger/store/storetest"
	"github.com/xraph/passledger/types"
)

// openDB opens a file-backed database in a temp dir. A single connection
// keeps the suite's concurrent writers from racing for SQLite's write lock.
func openDB(t *testing.T) *grove.DB {
	t.Helper()
	ctx := context.Background()

	sdb := sqlitedriver.New()
	dsn := "file:" + filepath.Join(t.TempDir(), "passledger.db")
	require.NoError(t, sdb.Open(ctx, dsn, driver.WithPoolSize(1)))

	db, err := grove.Open(sdb)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s := sqlite.New(openDB(t))
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return newStore(t) })
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestTimestampsRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	_, err := s.InitSupply(ctx, types.Coins(100))
	require.NoError(t, err)

	a, created, err := s.EnsureAccount(ctx, "alice", at)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, at.Equal(a.CreatedAt))
	assert.True(t, at.Equal(a.Checkpoint))
}

func TestRejectedMintLeavesNoJournalOrAccount(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.InitSupply(ctx, types.Coins(10))
	require.NoError(t, err)

	_, err = s.Mint(ctx, "bob", types.Coins(11), at)
	require.ErrorIs(t, err, passledger.ErrSupplyExhausted)

	_, err = s.GetAccount(ctx, "bob")
	assert.ErrorIs(t, err, passledger.ErrAccountNotFound)

	var grants int64
	require.NoError(t, sqlitedriver.Unwrap(s.DB()).NewRaw(`SELECT COUNT(*) FROM passledger_grants`).Scan(ctx, &grants))
	assert.Zero(t, grants)

	a, err := s.Mint(ctx, "bob", types.Coins(10), at)
	require.NoError(t, err)
	assert.Equal(t, types.Coins(10), a.Balance)
	assert.True(t, at.Equal(a.Checkpoint), "a minted account starts accruing at the grant time")
}

func TestLedgerStartMigrates(t *testing.T) {
	s := sqlite.New(openDB(t))
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	l, err := passledger.New(s,
		passledger.WithClock(func() time.Time { return t0 }),
		passledger.WithSupplyCap(types.Coins(1000)),
	)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, l.Start(ctx))
	t.Cleanup(func() { _ = l.Stop() })

	_, err = l.EnsureAccount(ctx, "alice")
	require.NoError(t, err)
	res, err := l.Accrue(ctx, "alice", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, types.Coins(100), res.Balance)

	tok, err := l.CreatePassToken(ctx, "alice", types.Coins(30))
	require.NoError(t, err)
	got, err := l.RedeemPassToken(ctx, tok.Secret, "bob")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(30), got)

	audit, err := l.AuditSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Coins(100), audit.Minted)
	assert.Equal(t, audit.Minted, audit.Total)
}

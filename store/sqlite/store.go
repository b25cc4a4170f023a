package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate"
	"github.com/xraph/grove/migrate"

	passledger "github.com/xraph/passledger"
	"github.com/xraph/passledger/account"
	"github.com/xraph/passledger/id"
	"github.com/xraph/passledger/passtoken"
	ledgerstore "github.com/xraph/passledger/store"
	"github.com/xraph/passledger/supply"
	"github.com/xraph/passledger/types"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
//
// Compound steps are single statements whose secondary writes run in
// triggers (see migrations.go), so each one commits as a unit under
// SQLite's single-writer lock.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables, indexes and triggers using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("passledger/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("passledger/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return classify(s.db.Ping(ctx))
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Account Store ====================

func (s *Store) EnsureAccount(ctx context.Context, accountID string, at time.Time) (*account.Account, bool, error) {
	m := toAccountModel(account.New(accountID, at))
	res, err := s.sdb.NewInsert(m).
		OnConflict("(id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, false, classify(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, classify(err)
	}

	a, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, false, err
	}
	return a, rows == 1, nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*account.Account, error) {
	m := new(accountModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", accountID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, passledger.ErrAccountNotFound
		}
		return nil, classify(err)
	}
	return fromAccountModel(m), nil
}

func (s *Store) Debit(ctx context.Context, accountID string, amount types.Amount) error {
	if !amount.IsPositive() {
		return passledger.ErrInvalidAmount
	}
	res, err := s.sdb.NewUpdate((*accountModel)(nil)).
		Set("balance = balance - ?", amount.Units()).
		Set("updated_at = ?", now()).
		Where("id = ?", accountID).
		Where("balance >= ?", amount.Units()).
		Exec(ctx)
	if err != nil {
		return classify(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if rows == 0 {
		if _, err := s.GetAccount(ctx, accountID); err != nil {
			return err
		}
		return passledger.ErrInsufficientFunds
	}
	return nil
}

func (s *Store) Credit(ctx context.Context, accountID string, amount types.Amount) error {
	if !amount.IsPositive() {
		return passledger.ErrInvalidAmount
	}
	res, err := s.sdb.NewUpdate((*accountModel)(nil)).
		Set("balance = balance + ?", amount.Units()).
		Set("updated_at = ?", now()).
		Where("id = ?", accountID).
		Exec(ctx)
	if err != nil {
		return classify(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if rows == 0 {
		return passledger.ErrAccountNotFound
	}
	return nil
}

// applyAccrualSQL credits min(credit, cap - minted) and moves the checkpoint
// when the stored checkpoint still matches. The passledger_accrual_reserve
// trigger adds last_credit to minted in the same statement.
const applyAccrualSQL = `
UPDATE passledger_accounts
SET last_credit = MIN(?, (SELECT MAX(cap - minted, 0) FROM passledger_supply WHERE id = 1)),
    balance = balance + MIN(?, (SELECT MAX(cap - minted, 0) FROM passledger_supply WHERE id = 1)),
    checkpoint_ns = ?,
    updated_at = ?
WHERE id = ? AND checkpoint_ns = ?
  AND EXISTS (SELECT 1 FROM passledger_supply WHERE id = 1)
RETURNING last_credit, balance, checkpoint_ns`

func (s *Store) ApplyAccrual(ctx context.Context, u *account.AccrualUpdate) (*account.AccrualOutcome, error) {
	var granted, balance, checkpoint int64
	err := s.sdb.NewRaw(applyAccrualSQL,
		u.Credit.Units(),
		u.Credit.Units(),
		u.NewCheckpoint.UnixNano(),
		now(),
		u.AccountID,
		u.ExpectedCheckpoint.UnixNano(),
	).Scan(ctx, &granted, &balance, &checkpoint)
	if err != nil {
		if isNoRows(err) {
			if _, gerr := s.GetAccount(ctx, u.AccountID); gerr != nil {
				return nil, gerr
			}
			if _, serr := s.SupplyStats(ctx); serr != nil {
				return nil, serr
			}
			return nil, passledger.ErrCheckpointMoved
		}
		return nil, classify(err)
	}

	return &account.AccrualOutcome{
		Granted:    types.Amount(granted),
		Balance:    types.Amount(balance),
		Checkpoint: time.Unix(0, checkpoint).UTC(),
	}, nil
}

// ==================== Pass Token Store ====================

// IssueToken inserts the token; the issue triggers check and debit the
// issuer balance inside the same statement.
func (s *Store) IssueToken(ctx context.Context, t *passtoken.Token) error {
	_, err := s.sdb.NewInsert(toPassTokenModel(t)).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return passledger.ErrTokenExists
		}
		return classify(err)
	}
	return nil
}

const redeemTokenSQL = `
UPDATE passledger_pass_tokens
SET redeemer = ?, redeemed_at = ?, updated_at = ?
WHERE token = ? AND redeemer = '' AND issuer <> ?
RETURNING id`

func (s *Store) RedeemToken(ctx context.Context, secret, redeemer string, at time.Time) (*passtoken.Token, error) {
	at = at.UTC()
	if _, _, err := s.EnsureAccount(ctx, redeemer, at); err != nil {
		return nil, err
	}

	var rowID string
	err := s.sdb.NewRaw(redeemTokenSQL, redeemer, at, at, secret, redeemer).Scan(ctx, &rowID)
	if err != nil {
		if isNoRows(err) {
			t, gerr := s.GetToken(ctx, secret)
			if gerr != nil {
				return nil, gerr
			}
			switch t.Check(redeemer) {
			case passtoken.RejectAlreadyRedeemed:
				return nil, passledger.ErrAlreadyRedeemed
			case passtoken.RejectSelfRedemption:
				return nil, passledger.ErrSelfRedemption
			}
			return nil, passledger.ErrConcurrentConflict
		}
		return nil, classify(err)
	}

	tokenID, err := id.ParsePassTokenID(rowID)
	if err != nil {
		return nil, err
	}
	return s.GetTokenByID(ctx, tokenID)
}

func (s *Store) GetToken(ctx context.Context, secret string) (*passtoken.Token, error) {
	m := new(passTokenModel)
	err := s.sdb.NewSelect(m).
		Where("token = ?", secret).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, passledger.ErrTokenNotFound
		}
		return nil, classify(err)
	}
	return fromPassTokenModel(m)
}

func (s *Store) GetTokenByID(ctx context.Context, tokenID id.PassTokenID) (*passtoken.Token, error) {
	m := new(passTokenModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", tokenID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, passledger.ErrTokenNotFound
		}
		return nil, classify(err)
	}
	return fromPassTokenModel(m)
}

func (s *Store) ListTokens(ctx context.Context, issuer string, opts passtoken.ListOpts) ([]*passtoken.Token, error) {
	var models []passTokenModel
	q := s.sdb.NewSelect(&models).Where("issuer = ?", issuer)

	switch opts.State {
	case passtoken.StateActive:
		q = q.Where("redeemer = ''")
	case passtoken.StateRedeemed:
		q = q.Where("redeemer <> ''")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, classify(err)
	}

	result := make([]*passtoken.Token, len(models))
	for i := range models {
		t, err := fromPassTokenModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = t
	}
	return result, nil
}

// ==================== Supply Store ====================

func (s *Store) InitSupply(ctx context.Context, capacity types.Amount) (*supply.Stats, error) {
	m := &supplyModel{
		ID:        supplyRowID,
		Cap:       capacity.Units(),
		UpdatedAt: now(),
	}
	_, err := s.sdb.NewInsert(m).
		OnConflict("(id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, classify(err)
	}

	stats, err := s.SupplyStats(ctx)
	if err != nil {
		return nil, err
	}
	if stats.Cap != capacity {
		return nil, passledger.ErrSupplyCapMismatch
	}
	return stats, nil
}

func (s *Store) SupplyStats(ctx context.Context) (*supply.Stats, error) {
	m := new(supplyModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", supplyRowID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, passledger.ErrSupplyNotReady
		}
		return nil, classify(err)
	}
	return fromSupplyModel(m), nil
}

func (s *Store) AuditSupply(ctx context.Context) (*supply.Audit, error) {
	stats, err := s.SupplyStats(ctx)
	if err != nil {
		return nil, err
	}

	var balances, accounts, outstanding, active int64
	err = s.sdb.NewRaw(`
		SELECT
			(SELECT COALESCE(SUM(balance), 0) FROM passledger_accounts),
			(SELECT COUNT(*) FROM passledger_accounts),
			(SELECT COALESCE(SUM(amount), 0) FROM passledger_pass_tokens WHERE redeemer = ''),
			(SELECT COUNT(*) FROM passledger_pass_tokens WHERE redeemer = '')
	`).Scan(ctx, &balances, &accounts, &outstanding, &active)
	if err != nil {
		return nil, classify(err)
	}

	return supply.NewAudit(types.Amount(balances), types.Amount(outstanding), accounts, active, stats, now()), nil
}

// Mint journals a grant; the grant triggers reserve the supply, create and
// credit the account, or abort the whole insert.
func (s *Store) Mint(ctx context.Context, accountID string, amount types.Amount, at time.Time) (*account.Account, error) {
	if !amount.IsPositive() {
		return nil, passledger.ErrInvalidAmount
	}
	at = at.UTC()
	g := &grantModel{
		AccountID:    accountID,
		Amount:       amount.Units(),
		CheckpointNS: at.UnixNano(),
		CreatedAt:    at,
	}
	if _, err := s.sdb.NewInsert(g).Exec(ctx); err != nil {
		return nil, classify(err)
	}
	return s.GetAccount(ctx, accountID)
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

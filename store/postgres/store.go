package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate"
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

// Store implements store.Store using PostgreSQL via Grove ORM.
//
// Every operation that touches more than one row is a single statement
// built from data-modifying CTEs, so it commits or fails as a unit without
// an explicit transaction.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("passledger/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("passledger/postgres: migration failed: %w", err)
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
	res, err := s.pg.NewInsert(m).
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
	err := s.pg.NewSelect(m).
		Where("id = $1", accountID).
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
	res, err := s.pg.NewUpdate((*accountModel)(nil)).
		Set("balance = balance - $1", amount.Units()).
		Set("updated_at = $2", now()).
		Where("id = $3", accountID).
		Where("balance >= $4", amount.Units()).
		Exec(ctx)
	if err != nil {
		return classify(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if rows == 0 {
		return s.debitFailure(ctx, accountID)
	}
	return nil
}

func (s *Store) Credit(ctx context.Context, accountID string, amount types.Amount) error {
	if !amount.IsPositive() {
		return passledger.ErrInvalidAmount
	}
	res, err := s.pg.NewUpdate((*accountModel)(nil)).
		Set("balance = balance + $1", amount.Units()).
		Set("updated_at = $2", now()).
		Where("id = $3", accountID).
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

// applyAccrualSQL locks the account row only while its checkpoint still
// matches, then reserves min(credit, cap - minted) on the supply row and
// credits exactly that. No row comes back when the account is missing or
// its checkpoint moved.
const applyAccrualSQL = `
WITH acct AS (
    SELECT id FROM passledger_accounts
    WHERE id = $1 AND checkpoint_ns = $2
    FOR UPDATE
), cur AS (
    SELECT LEAST($3::BIGINT, GREATEST(cap - minted, 0)) AS amt
    FROM passledger_supply
    WHERE id = 1 AND EXISTS (SELECT 1 FROM acct)
    FOR UPDATE
), sup AS (
    UPDATE passledger_supply s
    SET minted = s.minted + cur.amt, updated_at = $5
    FROM cur
    WHERE s.id = 1
    RETURNING cur.amt
)
UPDATE passledger_accounts a
SET balance = a.balance + sup.amt,
    last_credit = sup.amt,
    checkpoint_ns = $4,
    updated_at = $5
FROM sup
WHERE a.id = $1
RETURNING sup.amt, a.balance, a.checkpoint_ns`

func (s *Store) ApplyAccrual(ctx context.Context, u *account.AccrualUpdate) (*account.AccrualOutcome, error) {
	var granted, balance, checkpoint int64
	err := s.pg.NewRaw(applyAccrualSQL,
		u.AccountID,
		u.ExpectedCheckpoint.UnixNano(),
		u.Credit.Units(),
		u.NewCheckpoint.UnixNano(),
		now(),
	).Scan(ctx, &granted, &balance, &checkpoint)
	if err != nil {
		if isNoRows(err) {
			return nil, s.accrualFailure(ctx, u.AccountID)
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

// issueTokenSQL debits the issuer and inserts the token in one statement.
// A unique violation on id or token rolls the debit back with it.
const issueTokenSQL = `
WITH debit AS (
    UPDATE passledger_accounts
    SET balance = balance - $4, updated_at = $5
    WHERE id = $3 AND balance >= $4
    RETURNING id
)
INSERT INTO passledger_pass_tokens (id, token, issuer, amount, redeemer, created_at, updated_at)
SELECT $1::TEXT, $2::TEXT, debit.id, $4::BIGINT, '', $5::TIMESTAMPTZ, $5::TIMESTAMPTZ
FROM debit
RETURNING id`

func (s *Store) IssueToken(ctx context.Context, t *passtoken.Token) error {
	var inserted string
	err := s.pg.NewRaw(issueTokenSQL,
		t.ID.String(),
		t.Secret,
		t.Issuer,
		t.Amount.Units(),
		t.CreatedAt.UTC(),
	).Scan(ctx, &inserted)
	if err != nil {
		if isNoRows(err) {
			return s.debitFailure(ctx, t.Issuer)
		}
		if isUniqueViolation(err) {
			return passledger.ErrTokenExists
		}
		return classify(err)
	}
	return nil
}

// redeemTokenSQL flips the token from active to redeemed and credits the
// redeemer, creating the account on first contact. Concurrent redeemers
// serialize on the token row; every loser re-evaluates redeemer = '' and
// matches nothing.
const redeemTokenSQL = `
WITH tok AS (
    UPDATE passledger_pass_tokens
    SET redeemer = $2, redeemed_at = $3, updated_at = $3
    WHERE token = $1 AND redeemer = '' AND issuer <> $2
    RETURNING id, issuer, amount, created_at
), credit AS (
    INSERT INTO passledger_accounts (id, balance, checkpoint_ns, last_credit, created_at, updated_at)
    SELECT $2::TEXT, tok.amount, $4::BIGINT, 0, $3::TIMESTAMPTZ, $3::TIMESTAMPTZ
    FROM tok
    ON CONFLICT (id) DO UPDATE
    SET balance = passledger_accounts.balance + EXCLUDED.balance,
        updated_at = EXCLUDED.updated_at
    RETURNING id
)
SELECT tok.id, tok.issuer, tok.amount, tok.created_at
FROM tok, credit`

func (s *Store) RedeemToken(ctx context.Context, secret, redeemer string, at time.Time) (*passtoken.Token, error) {
	at = at.UTC()

	var (
		rowID     string
		issuer    string
		amount    int64
		createdAt time.Time
	)
	err := s.pg.NewRaw(redeemTokenSQL, secret, redeemer, at, at.UnixNano()).
		Scan(ctx, &rowID, &issuer, &amount, &createdAt)
	if err != nil {
		if isNoRows(err) {
			return nil, s.redeemFailure(ctx, secret, redeemer)
		}
		return nil, classify(err)
	}

	tokenID, err := id.ParsePassTokenID(rowID)
	if err != nil {
		return nil, err
	}
	t := &passtoken.Token{
		Entity: types.Entity{CreatedAt: createdAt.UTC()},
		ID:     tokenID,
		Secret: secret,
		Issuer: issuer,
		Amount: types.Amount(amount),
	}
	t.MarkRedeemed(redeemer, at)
	return t, nil
}

func (s *Store) GetToken(ctx context.Context, secret string) (*passtoken.Token, error) {
	m := new(passTokenModel)
	err := s.pg.NewSelect(m).
		Where("token = $1", secret).
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
	err := s.pg.NewSelect(m).
		Where("id = $1", tokenID.String()).
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
	q := s.pg.NewSelect(&models).Where("issuer = $1", issuer)

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
	_, err := s.pg.NewInsert(m).
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
	err := s.pg.NewSelect(m).
		Where("id = $1", supplyRowID).
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

	var balances, accounts int64
	err = s.pg.NewRaw(`
		SELECT COALESCE(SUM(balance), 0), COUNT(*) FROM passledger_accounts
	`).Scan(ctx, &balances, &accounts)
	if err != nil {
		return nil, classify(err)
	}

	var outstanding, active int64
	err = s.pg.NewRaw(`
		SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM passledger_pass_tokens
		WHERE redeemer = ''
	`).Scan(ctx, &outstanding, &active)
	if err != nil {
		return nil, classify(err)
	}

	return supply.NewAudit(types.Amount(balances), types.Amount(outstanding), accounts, active, stats, now()), nil
}

// mintSQL reserves exactly the amount, or nothing, and only then creates or
// credits the account. An existing account row is locked before the supply
// row, the same order accruals use.
const mintSQL = `
WITH acct AS (
    SELECT id FROM passledger_accounts WHERE id = $1 FOR UPDATE
), sup AS (
    UPDATE passledger_supply
    SET minted = minted + $2, updated_at = $3
    WHERE id = 1 AND cap - minted >= $2 AND (SELECT COUNT(*) FROM acct) >= 0
    RETURNING minted
)
INSERT INTO passledger_accounts AS a (id, balance, checkpoint_ns, last_credit, created_at, updated_at)
SELECT $1::TEXT, $2::BIGINT, $4::BIGINT, 0, $3::TIMESTAMPTZ, $3::TIMESTAMPTZ FROM sup
ON CONFLICT (id) DO UPDATE
SET balance = a.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at
RETURNING a.balance`

func (s *Store) Mint(ctx context.Context, accountID string, amount types.Amount, at time.Time) (*account.Account, error) {
	if !amount.IsPositive() {
		return nil, passledger.ErrInvalidAmount
	}
	at = at.UTC()

	var balance int64
	err := s.pg.NewRaw(mintSQL, accountID, amount.Units(), at, at.UnixNano()).Scan(ctx, &balance)
	if err != nil {
		if isNoRows(err) {
			if _, serr := s.SupplyStats(ctx); serr != nil {
				return nil, serr
			}
			return nil, passledger.ErrSupplyExhausted
		}
		return nil, classify(err)
	}
	return s.GetAccount(ctx, accountID)
}

// ==================== Helpers ====================

// debitFailure explains a conditional debit that matched no row.
func (s *Store) debitFailure(ctx context.Context, accountID string) error {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return err
	}
	return passledger.ErrInsufficientFunds
}

// accrualFailure explains an accrual statement that matched no row.
func (s *Store) accrualFailure(ctx context.Context, accountID string) error {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return err
	}
	if _, err := s.SupplyStats(ctx); err != nil {
		return err
	}
	return passledger.ErrCheckpointMoved
}

// redeemFailure explains a redemption that matched no token row.
func (s *Store) redeemFailure(ctx context.Context, secret, redeemer string) error {
	t, err := s.GetToken(ctx, secret)
	if err != nil {
		return err
	}
	switch t.Check(redeemer) {
	case passtoken.RejectAlreadyRedeemed:
		return passledger.ErrAlreadyRedeemed
	case passtoken.RejectSelfRedemption:
		return passledger.ErrSelfRedemption
	default:
		// Active and redeemable by this caller now, so a competing write
		// must have been rolled back in between.
		return passledger.ErrConcurrentConflict
	}
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

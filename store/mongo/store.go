package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	passledger "github.com/xraph/passledger"
	"github.com/xraph/passledger/account"
	"github.com/xraph/passledger/id"
	"github.com/xraph/passledger/passtoken"
	ledgerstore "github.com/xraph/passledger/store"
	"github.com/xraph/passledger/supply"
	"github.com/xraph/passledger/types"
)

// Collection name constants.
const (
	colAccounts   = "passledger_accounts"
	colPassTokens = "passledger_pass_tokens"
	colSupply     = "passledger_supply"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
//
// Steps that touch more than one document run in a multi-document
// transaction, which requires a replica set or sharded cluster.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all passledger collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("passledger/mongo: migrate %s indexes: %w", col, err)
		}
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
	res, err := s.mdb.Collection(colAccounts).UpdateOne(ctx,
		bson.M{"_id": accountID},
		bson.M{"$setOnInsert": bson.M{
			"balance":       m.Balance,
			"checkpoint_ns": m.CheckpointNS,
			"last_credit":   m.LastCredit,
			"created_at":    m.CreatedAt,
			"updated_at":    m.UpdatedAt,
		}},
		options.UpdateOne().SetUpsert(true),
	)
	created := false
	switch {
	case err == nil:
		created = res.UpsertedCount == 1
	case mongo.IsDuplicateKeyError(err):
		// Lost a concurrent upsert race; the winner created it.
	default:
		return nil, false, fmt.Errorf("passledger/mongo: ensure account: %w", classify(err))
	}

	a, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, false, err
	}
	return a, created, nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*account.Account, error) {
	var m accountModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": accountID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, passledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("passledger/mongo: get account: %w", classify(err))
	}
	return fromAccountModel(&m), nil
}

func (s *Store) Debit(ctx context.Context, accountID string, amount types.Amount) error {
	if !amount.IsPositive() {
		return passledger.ErrInvalidAmount
	}
	return s.debit(ctx, accountID, amount, now())
}

func (s *Store) Credit(ctx context.Context, accountID string, amount types.Amount) error {
	if !amount.IsPositive() {
		return passledger.ErrInvalidAmount
	}
	res, err := s.mdb.Collection(colAccounts).UpdateOne(ctx,
		bson.M{"_id": accountID},
		bson.M{
			"$inc": bson.M{"balance": amount.Units()},
			"$set": bson.M{"updated_at": now()},
		},
	)
	if err != nil {
		return fmt.Errorf("passledger/mongo: credit: %w", classify(err))
	}
	if res.MatchedCount == 0 {
		return passledger.ErrAccountNotFound
	}
	return nil
}

func (s *Store) ApplyAccrual(ctx context.Context, u *account.AccrualUpdate) (*account.AccrualOutcome, error) {
	var out *account.AccrualOutcome
	err := s.inTx(ctx, func(ctx context.Context) error {
		sup, err := s.readSupply(ctx)
		if err != nil {
			return err
		}
		granted := supply.Admit(u.Credit, types.Amount(sup.Cap), types.Amount(sup.Minted))
		t := now()

		var m accountModel
		err = s.mdb.Collection(colAccounts).FindOneAndUpdate(ctx,
			bson.M{"_id": u.AccountID, "checkpoint_ns": u.ExpectedCheckpoint.UnixNano()},
			bson.M{
				"$inc": bson.M{"balance": granted.Units()},
				"$set": bson.M{
					"last_credit":   granted.Units(),
					"checkpoint_ns": u.NewCheckpoint.UnixNano(),
					"updated_at":    t,
				},
			},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				if _, gerr := s.GetAccount(ctx, u.AccountID); gerr != nil {
					return gerr
				}
				return passledger.ErrCheckpointMoved
			}
			return classify(err)
		}

		if granted.IsPositive() {
			if err := s.reserve(ctx, sup.Minted, granted, t); err != nil {
				return err
			}
		}

		out = &account.AccrualOutcome{
			Granted:    granted,
			Balance:    types.Amount(m.Balance),
			Checkpoint: time.Unix(0, m.CheckpointNS).UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ==================== Pass Token Store ====================

func (s *Store) IssueToken(ctx context.Context, t *passtoken.Token) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		if err := s.debit(ctx, t.Issuer, t.Amount, t.CreatedAt.UTC()); err != nil {
			return err
		}
		_, err := s.mdb.Collection(colPassTokens).InsertOne(ctx, toPassTokenModel(t))
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return passledger.ErrTokenExists
			}
			return classify(err)
		}
		return nil
	})
}

func (s *Store) RedeemToken(ctx context.Context, secret, redeemer string, at time.Time) (*passtoken.Token, error) {
	at = at.UTC()

	var out *passtoken.Token
	err := s.inTx(ctx, func(ctx context.Context) error {
		var m passTokenModel
		err := s.mdb.Collection(colPassTokens).FindOneAndUpdate(ctx,
			bson.M{"token": secret, "redeemer": "", "issuer": bson.M{"$ne": redeemer}},
			bson.M{"$set": bson.M{
				"redeemer":    redeemer,
				"redeemed_at": at,
				"updated_at":  at,
			}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				return s.redeemFailure(ctx, secret, redeemer)
			}
			return classify(err)
		}

		_, err = s.mdb.Collection(colAccounts).UpdateOne(ctx,
			bson.M{"_id": redeemer},
			bson.M{
				"$inc": bson.M{"balance": m.Amount},
				"$set": bson.M{"updated_at": at},
				"$setOnInsert": bson.M{
					"checkpoint_ns": at.UnixNano(),
					"last_credit":   int64(0),
					"created_at":    at,
				},
			},
			options.UpdateOne().SetUpsert(true),
		)
		if err != nil {
			return classify(err)
		}

		out, err = fromPassTokenModel(&m)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetToken(ctx context.Context, secret string) (*passtoken.Token, error) {
	var m passTokenModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"token": secret}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, passledger.ErrTokenNotFound
		}
		return nil, fmt.Errorf("passledger/mongo: get pass token: %w", classify(err))
	}
	return fromPassTokenModel(&m)
}

func (s *Store) GetTokenByID(ctx context.Context, tokenID id.PassTokenID) (*passtoken.Token, error) {
	var m passTokenModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": tokenID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, passledger.ErrTokenNotFound
		}
		return nil, fmt.Errorf("passledger/mongo: get pass token: %w", classify(err))
	}
	return fromPassTokenModel(&m)
}

func (s *Store) ListTokens(ctx context.Context, issuer string, opts passtoken.ListOpts) ([]*passtoken.Token, error) {
	var models []passTokenModel

	filter := bson.M{"issuer": issuer}
	switch opts.State {
	case passtoken.StateActive:
		filter["redeemer"] = ""
	case passtoken.StateRedeemed:
		filter["redeemer"] = bson.M{"$ne": ""}
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("passledger/mongo: list pass tokens: %w", classify(err))
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
	_, err := s.mdb.Collection(colSupply).UpdateOne(ctx,
		bson.M{"_id": supplyDocID},
		bson.M{"$setOnInsert": bson.M{
			"cap":        capacity.Units(),
			"minted":     int64(0),
			"updated_at": now(),
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("passledger/mongo: init supply: %w", classify(err))
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
	var m supplyModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": supplyDocID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, passledger.ErrSupplyNotReady
		}
		return nil, fmt.Errorf("passledger/mongo: supply stats: %w", classify(err))
	}
	return fromSupplyModel(&m), nil
}

func (s *Store) AuditSupply(ctx context.Context) (*supply.Audit, error) {
	stats, err := s.SupplyStats(ctx)
	if err != nil {
		return nil, err
	}

	balances, accounts, err := s.sumField(ctx, colAccounts, bson.M{}, "$balance")
	if err != nil {
		return nil, err
	}
	outstanding, active, err := s.sumField(ctx, colPassTokens, bson.M{"redeemer": ""}, "$amount")
	if err != nil {
		return nil, err
	}

	return supply.NewAudit(types.Amount(balances), types.Amount(outstanding), accounts, active, stats, now()), nil
}

func (s *Store) Mint(ctx context.Context, accountID string, amount types.Amount, at time.Time) (*account.Account, error) {
	if !amount.IsPositive() {
		return nil, passledger.ErrInvalidAmount
	}
	at = at.UTC()

	var out *account.Account
	err := s.inTx(ctx, func(ctx context.Context) error {
		res, err := s.mdb.Collection(colSupply).UpdateOne(ctx,
			bson.M{
				"_id": supplyDocID,
				"$expr": bson.M{"$gte": bson.A{
					bson.M{"$subtract": bson.A{"$cap", "$minted"}},
					amount.Units(),
				}},
			},
			bson.M{
				"$inc": bson.M{"minted": amount.Units()},
				"$set": bson.M{"updated_at": at},
			},
		)
		if err != nil {
			return classify(err)
		}
		if res.MatchedCount == 0 {
			if _, serr := s.readSupply(ctx); serr != nil {
				return serr
			}
			return passledger.ErrSupplyExhausted
		}

		var m accountModel
		err = s.mdb.Collection(colAccounts).FindOneAndUpdate(ctx,
			bson.M{"_id": accountID},
			bson.M{
				"$inc": bson.M{"balance": amount.Units()},
				"$set": bson.M{"updated_at": at},
				"$setOnInsert": bson.M{
					"checkpoint_ns": at.UnixNano(),
					"last_credit":   int64(0),
					"created_at":    at,
				},
			},
			options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
		).Decode(&m)
		if err != nil {
			return classify(err)
		}
		out = fromAccountModel(&m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ==================== Helpers ====================

// inTx runs fn in a multi-document transaction. The driver retries fn on
// transient transaction errors; anything fn returns aborts the transaction.
func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	client := s.mdb.Collection(colAccounts).Database().Client()
	sess, err := client.StartSession()
	if err != nil {
		return fmt.Errorf("passledger/mongo: start session: %w", classify(err))
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return classify(err)
}

// debit conditionally subtracts amount from accountID.
func (s *Store) debit(ctx context.Context, accountID string, amount types.Amount, at time.Time) error {
	res, err := s.mdb.Collection(colAccounts).UpdateOne(ctx,
		bson.M{"_id": accountID, "balance": bson.M{"$gte": amount.Units()}},
		bson.M{
			"$inc": bson.M{"balance": -amount.Units()},
			"$set": bson.M{"updated_at": at},
		},
	)
	if err != nil {
		return classify(err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetAccount(ctx, accountID); err != nil {
			return err
		}
		return passledger.ErrInsufficientFunds
	}
	return nil
}

// reserve adds granted to minted, failing if minted moved since it was read.
func (s *Store) reserve(ctx context.Context, mintedBefore int64, granted types.Amount, at time.Time) error {
	res, err := s.mdb.Collection(colSupply).UpdateOne(ctx,
		bson.M{"_id": supplyDocID, "minted": mintedBefore},
		bson.M{
			"$inc": bson.M{"minted": granted.Units()},
			"$set": bson.M{"updated_at": at},
		},
	)
	if err != nil {
		return classify(err)
	}
	if res.MatchedCount == 0 {
		return passledger.ErrConcurrentConflict
	}
	return nil
}

func (s *Store) readSupply(ctx context.Context) (*supplyModel, error) {
	var m supplyModel
	err := s.mdb.Collection(colSupply).FindOne(ctx, bson.M{"_id": supplyDocID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, passledger.ErrSupplyNotReady
		}
		return nil, classify(err)
	}
	return &m, nil
}

// redeemFailure explains a redemption that matched no token document.
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
		return passledger.ErrConcurrentConflict
	}
}

// sumField totals field over the documents of col matching filter.
func (s *Store) sumField(ctx context.Context, col string, filter bson.M, field string) (sum, count int64, err error) {
	pipeline := bson.A{
		bson.M{"$match": filter},
		bson.M{
			"$group": bson.M{
				"_id":   nil,
				"total": bson.M{"$sum": field},
				"count": bson.M{"$sum": 1},
			},
		},
	}

	cursor, err := s.mdb.Collection(col).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, 0, fmt.Errorf("passledger/mongo: aggregate %s: %w", col, classify(err))
	}
	defer cursor.Close(ctx)

	var results []struct {
		Total int64 `bson:"total"`
		Count int64 `bson:"count"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return 0, 0, fmt.Errorf("passledger/mongo: aggregate decode: %w", err)
	}

	if len(results) == 0 {
		return 0, 0, nil
	}
	return results[0].Total, results[0].Count, nil
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all passledger collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colAccounts: {},
		colPassTokens: {
			{
				Keys:    bson.D{{Key: "token", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "issuer", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "issuer", Value: 1}, {Key: "redeemer", Value: 1}}},
		},
		colSupply: {},
	}
}

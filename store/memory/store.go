// Package memory provides an in-process store. All operations are serialized
// by a single lock, which makes every composed step trivially atomic; it is
// intended for tests and single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

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

// Store implements store.Store in memory.
type Store struct {
	mu sync.RWMutex

	// Account storage
	accounts map[string]*account.Account

	// Token storage, indexed by secret and by row id
	tokens     map[string]*passtoken.Token
	tokensByID map[string]*passtoken.Token

	// Supply counter, set by InitSupply
	meter *supply.Meter

	closed bool
}

// New creates an empty memory store.
func New() *Store {
	return &Store{
		accounts:   make(map[string]*account.Account),
		tokens:     make(map[string]*passtoken.Token),
		tokensByID: make(map[string]*passtoken.Token),
	}
}

// ==================== Account Store ====================

func (s *Store) EnsureAccount(_ context.Context, accountID string, now time.Time) (*account.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, passledger.ErrStoreClosed
	}
	if a, ok := s.accounts[accountID]; ok {
		return a.Clone(), false, nil
	}
	a := account.New(accountID, now)
	s.accounts[accountID] = a
	return a.Clone(), true, nil
}

func (s *Store) GetAccount(_ context.Context, accountID string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, passledger.ErrStoreClosed
	}
	if a, ok := s.accounts[accountID]; ok {
		return a.Clone(), nil
	}
	return nil, passledger.ErrAccountNotFound
}

func (s *Store) Debit(_ context.Context, accountID string, amount types.Amount) error {
	if !amount.IsPositive() {
		return passledger.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return passledger.ErrStoreClosed
	}
	return s.debitLocked(accountID, amount)
}

func (s *Store) Credit(_ context.Context, accountID string, amount types.Amount) error {
	if !amount.IsPositive() {
		return passledger.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return passledger.ErrStoreClosed
	}
	a, ok := s.accounts[accountID]
	if !ok {
		return passledger.ErrAccountNotFound
	}
	a.Balance += amount
	a.Touch(now())
	return nil
}

func (s *Store) ApplyAccrual(_ context.Context, u *account.AccrualUpdate) (*account.AccrualOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, passledger.ErrStoreClosed
	}
	if s.meter == nil {
		return nil, passledger.ErrSupplyNotReady
	}
	a, ok := s.accounts[u.AccountID]
	if !ok {
		return nil, passledger.ErrAccountNotFound
	}
	if !a.Checkpoint.Equal(u.ExpectedCheckpoint) {
		return nil, passledger.ErrCheckpointMoved
	}

	granted := s.meter.TryReserve(u.Credit)
	a.Balance += granted
	a.LastCredit = granted
	a.Checkpoint = u.NewCheckpoint.UTC()
	a.Touch(now())

	return &account.AccrualOutcome{
		Granted:    granted,
		Balance:    a.Balance,
		Checkpoint: a.Checkpoint,
	}, nil
}

// ==================== Pass Token Store ====================

func (s *Store) IssueToken(_ context.Context, t *passtoken.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return passledger.ErrStoreClosed
	}
	if _, exists := s.tokens[t.Secret]; exists {
		return passledger.ErrTokenExists
	}
	if _, exists := s.tokensByID[t.ID.String()]; exists {
		return passledger.ErrTokenExists
	}
	if err := s.debitLocked(t.Issuer, t.Amount); err != nil {
		return err
	}
	stored := t.Clone()
	s.tokens[stored.Secret] = stored
	s.tokensByID[stored.ID.String()] = stored
	return nil
}

func (s *Store) RedeemToken(_ context.Context, secret, redeemer string, at time.Time) (*passtoken.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, passledger.ErrStoreClosed
	}
	t, ok := s.tokens[secret]
	if !ok {
		return nil, passledger.ErrTokenNotFound
	}
	switch t.Check(redeemer) {
	case passtoken.RejectAlreadyRedeemed:
		return nil, passledger.ErrAlreadyRedeemed
	case passtoken.RejectSelfRedemption:
		return nil, passledger.ErrSelfRedemption
	}

	a, ok := s.accounts[redeemer]
	if !ok {
		a = account.New(redeemer, at)
		s.accounts[redeemer] = a
	}
	t.MarkRedeemed(redeemer, at)
	a.Balance += t.Amount
	a.Touch(at)

	return t.Clone(), nil
}

func (s *Store) GetToken(_ context.Context, secret string) (*passtoken.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.tokens[secret]; ok {
		return t.Clone(), nil
	}
	return nil, passledger.ErrTokenNotFound
}

func (s *Store) GetTokenByID(_ context.Context, tokenID id.PassTokenID) (*passtoken.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.tokensByID[tokenID.String()]; ok {
		return t.Clone(), nil
	}
	return nil, passledger.ErrTokenNotFound
}

func (s *Store) ListTokens(_ context.Context, issuer string, opts passtoken.ListOpts) ([]*passtoken.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*passtoken.Token
	for _, t := range s.tokens {
		if t.Issuer != issuer {
			continue
		}
		if opts.State != "" && t.State() != opts.State {
			continue
		}
		result = append(result, t.Clone())
	}

	// Newest first; row ids are time-ordered and break ties.
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID.String() > result[j].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return []*passtoken.Token{}, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(result) {
		result = result[:opts.Limit]
	}
	return result, nil
}

// ==================== Supply Store ====================

func (s *Store) InitSupply(_ context.Context, capacity types.Amount) (*supply.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.meter == nil {
		s.meter = supply.NewMeter(capacity)
		return s.meter.Stats(), nil
	}
	if s.meter.Cap() != capacity {
		return nil, passledger.ErrSupplyCapMismatch
	}
	return s.meter.Stats(), nil
}

func (s *Store) SupplyStats(_ context.Context) (*supply.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.meter == nil {
		return nil, passledger.ErrSupplyNotReady
	}
	return s.meter.Stats(), nil
}

func (s *Store) AuditSupply(_ context.Context) (*supply.Audit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.meter == nil {
		return nil, passledger.ErrSupplyNotReady
	}

	var balances, outstanding types.Amount
	var active int64
	for _, a := range s.accounts {
		balances += a.Balance
	}
	for _, t := range s.tokens {
		if !t.IsRedeemed() {
			outstanding += t.Amount
			active++
		}
	}
	return supply.NewAudit(balances, outstanding, int64(len(s.accounts)), active, s.meter.Stats(), now()), nil
}

func (s *Store) Mint(_ context.Context, accountID string, amount types.Amount, at time.Time) (*account.Account, error) {
	if !amount.IsPositive() {
		return nil, passledger.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, passledger.ErrStoreClosed
	}
	if s.meter == nil {
		return nil, passledger.ErrSupplyNotReady
	}
	if !s.meter.ReserveExact(amount) {
		return nil, passledger.ErrSupplyExhausted
	}
	a, ok := s.accounts[accountID]
	if !ok {
		a = account.New(accountID, at)
		s.accounts[accountID] = a
	}
	a.Balance += amount
	a.Touch(at)
	return a.Clone(), nil
}

// ==================== Core ====================

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports ErrStoreClosed after Close.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return passledger.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed; later mutations fail with ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ==================== Helpers ====================

func (s *Store) debitLocked(accountID string, amount types.Amount) error {
	a, ok := s.accounts[accountID]
	if !ok {
		return passledger.ErrAccountNotFound
	}
	if a.Balance < amount {
		return passledger.ErrInsufficientFunds
	}
	a.Balance -= amount
	a.Touch(now())
	return nil
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

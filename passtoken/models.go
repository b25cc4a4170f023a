// Package passtoken defines bearer pass tokens ("PassIDs") and their
// single-transition lifecycle.
//
// A token is created Active, carrying an amount already debited from its
// issuer, and becomes Redeemed exactly once when an account other than the
// issuer claims it. Tokens are never deleted.
package passtoken

import (
	"time"

	"github.com/xraph/passledger/id"
	"github.com/xraph/passledger/types"
)

// State is the lifecycle state of a token.
type State string

const (
	StateActive   State = "active"
	StateRedeemed State = "redeemed"
)

// Rejection explains why a redemption attempt cannot proceed.
type Rejection int

const (
	// RejectNone means the token may be redeemed by the caller.
	RejectNone Rejection = iota
	// RejectAlreadyRedeemed means the token is in its terminal state.
	RejectAlreadyRedeemed
	// RejectSelfRedemption means the caller issued the token.
	RejectSelfRedemption
)

// Token is a single-use bearer claim on a fixed amount.
type Token struct {
	types.Entity

	ID id.PassTokenID `json:"id"`

	// Secret is the bearer string. Anyone holding it can redeem the token,
	// so it is only returned to the issuer and never logged.
	Secret string `json:"token,omitempty"`

	Issuer     string       `json:"issuer"`
	Amount     types.Amount `json:"amount"`
	Redeemer   string       `json:"redeemer,omitempty"`
	RedeemedAt *time.Time   `json:"redeemed_at,omitempty"`
}

// New builds an Active token for issuer with a fresh secret.
func New(issuer string, amount types.Amount, now time.Time) (*Token, error) {
	secret, err := NewSecret()
	if err != nil {
		return nil, err
	}
	return &Token{
		Entity: types.NewEntity(now),
		ID:     id.NewPassTokenID(),
		Secret: secret,
		Issuer: issuer,
		Amount: amount,
	}, nil
}

// State returns the lifecycle state.
func (t *Token) State() State {
	if t.Redeemer != "" {
		return StateRedeemed
	}
	return StateActive
}

// IsRedeemed reports whether the token reached its terminal state.
func (t *Token) IsRedeemed() bool { return t.Redeemer != "" }

// Check evaluates a redemption attempt by redeemer without changing anything.
// Already-redeemed takes precedence so that every losing concurrent redeemer,
// including the issuer, observes the same outcome.
func (t *Token) Check(redeemer string) Rejection {
	switch {
	case t.IsRedeemed():
		return RejectAlreadyRedeemed
	case t.Issuer == redeemer:
		return RejectSelfRedemption
	default:
		return RejectNone
	}
}

// MarkRedeemed performs the Active to Redeemed transition. Callers must have
// checked the token with Check under the same lock or transaction.
func (t *Token) MarkRedeemed(redeemer string, at time.Time) {
	at = at.UTC()
	t.Redeemer = redeemer
	t.RedeemedAt = &at
	t.Touch(at)
}

// Redacted returns a copy without the bearer secret, for hooks and listings
// shown to anyone other than the issuer.
func (t *Token) Redacted() *Token {
	c := t.Clone()
	c.Secret = ""
	return c
}

// Clone returns a deep copy.
func (t *Token) Clone() *Token {
	c := *t
	if t.RedeemedAt != nil {
		at := *t.RedeemedAt
		c.RedeemedAt = &at
	}
	return &c
}

// ListOpts filters a lookup by issuer.
type ListOpts struct {
	State  State
	Limit  int
	Offset int
}

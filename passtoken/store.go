package passtoken

import (
	"context"
	"time"

	"github.com/xraph/passledger/id"
)

// Store defines the persistence contract for pass tokens.
type Store interface {
	// IssueToken debits t.Amount from t.Issuer and inserts t as Active in one
	// atomic step. On ErrInsufficientFunds or ErrAccountNotFound nothing changes.
	IssueToken(ctx context.Context, t *Token) error

	// RedeemToken marks the token Redeemed by redeemer and credits redeemer with
	// its amount in one atomic step, creating the redeemer account if needed.
	// It fails with ErrTokenNotFound, ErrAlreadyRedeemed or ErrSelfRedemption,
	// and of any number of concurrent calls for one token at most one succeeds.
	RedeemToken(ctx context.Context, secret, redeemer string, at time.Time) (*Token, error)

	// GetToken looks a token up by its bearer secret.
	GetToken(ctx context.Context, secret string) (*Token, error)

	// GetTokenByID looks a token up by its row id.
	GetTokenByID(ctx context.Context, tokenID id.PassTokenID) (*Token, error)

	// ListTokens returns tokens issued by issuer, newest first.
	ListTokens(ctx context.Context, issuer string, opts ListOpts) ([]*Token, error)
}

package passledger

import (
	"context"
	"errors"

	"github.com/xraph/passledger/id"
	"github.com/xraph/passledger/passtoken"
	"github.com/xraph/passledger/types"
)

// ──────────────────────────────────────────────────
// Pass tokens
// ──────────────────────────────────────────────────

// CreatePassToken debits amount from accountID and packages it into a new
// Active bearer token. The returned token carries the secret; it is the only
// time the secret is handed out by this call path.
func (l *Ledger) CreatePassToken(ctx context.Context, accountID string, amount types.Amount) (*passtoken.Token, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	if _, err := l.ensureAccount(ctx, accountID); err != nil {
		return nil, err
	}

	tok, err := passtoken.New(accountID, amount, l.now())
	if err != nil {
		return nil, err
	}

	_, err = retry(ctx, l, "issue_token", func() (struct{}, error) {
		err := l.store.IssueToken(ctx, tok)
		if errors.Is(err, ErrTokenExists) && l.issuedByEarlierAttempt(ctx, tok) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Debug("pass token issued",
		"token_id", tok.ID.String(),
		"issuer", accountID,
		"amount", amount.String(),
	)
	l.plugins.EmitTokenIssued(ctx, tok)

	return tok, nil
}

// issuedByEarlierAttempt reports whether tok is already stored, which happens
// when a retried insert had committed before its result was lost.
func (l *Ledger) issuedByEarlierAttempt(ctx context.Context, tok *passtoken.Token) bool {
	stored, err := l.store.GetTokenByID(ctx, tok.ID)
	return err == nil && stored.Secret == tok.Secret
}

// RedeemPassToken claims the token for redeemerID and returns the amount
// credited. The token string is trimmed and lower-cased first. It fails with
// ErrTokenNotFound, ErrAlreadyRedeemed or ErrSelfRedemption; of many
// concurrent redeemers exactly one succeeds.
func (l *Ledger) RedeemPassToken(ctx context.Context, token, redeemerID string) (types.Amount, error) {
	if err := validateAccountID(redeemerID); err != nil {
		return 0, err
	}

	secret := passtoken.NormalizeSecret(token)
	if !passtoken.ValidSecret(secret) {
		l.plugins.EmitRedemptionRejected(ctx, redeemerID, ErrTokenNotFound)
		return 0, ErrTokenNotFound
	}

	if _, err := l.ensureAccount(ctx, redeemerID); err != nil {
		return 0, err
	}

	var uncertain bool
	tok, err := retry(ctx, l, "redeem_token", func() (*passtoken.Token, error) {
		tok, err := l.store.RedeemToken(ctx, secret, redeemerID, l.now())
		if errors.Is(err, ErrAlreadyRedeemed) && uncertain {
			// An earlier attempt may have committed before its reply was lost.
			if stored, gerr := l.store.GetToken(ctx, secret); gerr == nil && stored.Redeemer == redeemerID {
				return stored, nil
			}
		}
		uncertain = errors.Is(err, ErrStoreUnavailable)
		return tok, err
	})
	if err != nil {
		if IsRejection(err) {
			l.logger.Debug("pass token redemption rejected",
				"redeemer", redeemerID,
				"reason", err,
			)
			l.plugins.EmitRedemptionRejected(ctx, redeemerID, err)
		}
		return 0, err
	}

	l.logger.Debug("pass token redeemed",
		"token_id", tok.ID.String(),
		"issuer", tok.Issuer,
		"redeemer", redeemerID,
		"amount", tok.Amount.String(),
	)
	l.plugins.EmitTokenRedeemed(ctx, tok)

	return tok.Amount, nil
}

// GetPassToken looks a token up by its bearer string.
func (l *Ledger) GetPassToken(ctx context.Context, token string) (*passtoken.Token, error) {
	secret := passtoken.NormalizeSecret(token)
	if !passtoken.ValidSecret(secret) {
		return nil, ErrTokenNotFound
	}
	return retry(ctx, l, "get_token", func() (*passtoken.Token, error) {
		return l.store.GetToken(ctx, secret)
	})
}

// GetPassTokenByID looks a token up by its row id. The secret is removed.
func (l *Ledger) GetPassTokenByID(ctx context.Context, tokenID id.PassTokenID) (*passtoken.Token, error) {
	tok, err := retry(ctx, l, "get_token_by_id", func() (*passtoken.Token, error) {
		return l.store.GetTokenByID(ctx, tokenID)
	})
	if err != nil {
		return nil, err
	}
	return tok.Redacted(), nil
}

// ListPassTokens returns the tokens issued by issuerID, newest first. Secrets
// are included, so only show the result to the issuer.
func (l *Ledger) ListPassTokens(ctx context.Context, issuerID string, opts passtoken.ListOpts) ([]*passtoken.Token, error) {
	if err := validateAccountID(issuerID); err != nil {
		return nil, err
	}
	switch opts.State {
	case "", passtoken.StateActive, passtoken.StateRedeemed:
	default:
		return nil, ValidationError{Field: "state", Message: "unknown token state " + string(opts.State)}
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, ValidationError{Field: "limit", Message: "must not be negative"}
	}
	return retry(ctx, l, "list_tokens", func() ([]*passtoken.Token, error) {
		return l.store.ListTokens(ctx, issuerID, opts)
	})
}

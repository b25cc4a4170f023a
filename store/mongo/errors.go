package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"

	passledger "github.com/xraph/passledger"
)

// Server error labels and codes the store reacts to.
const (
	labelTransientTransaction = "TransientTransactionError"
	labelRetryableWrite       = "RetryableWriteError"
	codeWriteConflict         = 112
)

// classify maps driver failures onto the ledger's retryable sentinels,
// keeping the original error in the chain. Ledger sentinels pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if passledger.IsRejection(err) || passledger.IsRetryable(err) ||
		errors.Is(err, passledger.ErrTokenExists) || errors.Is(err, passledger.ErrSupplyNotReady) {
		return err
	}

	if errors.Is(err, mongo.ErrClientDisconnected) || mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return fmt.Errorf("%w: %w", passledger.ErrStoreUnavailable, err)
	}

	var se mongo.ServerError
	if errors.As(err, &se) {
		switch {
		case se.HasErrorLabel(labelTransientTransaction), se.HasErrorCode(codeWriteConflict):
			return fmt.Errorf("%w: %w", passledger.ErrConcurrentConflict, err)
		case se.HasErrorLabel(labelRetryableWrite):
			return fmt.Errorf("%w: %w", passledger.ErrStoreUnavailable, err)
		}
	}
	return err
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	passledger "github.com/xraph/passledger"
)

// SQLSTATE codes the store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeAdminShutdown        = "57P01"
	codeCannotConnectNow     = "57P03"
)

// classify maps driver failures onto the ledger's retryable sentinels,
// keeping the original error in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeSerializationFailure, pgErr.Code == codeDeadlockDetected:
			return fmt.Errorf("%w: %w", passledger.ErrConcurrentConflict, err)
		case strings.HasPrefix(pgErr.Code, "08"),
			pgErr.Code == codeAdminShutdown,
			pgErr.Code == codeCannotConnectNow:
			return fmt.Errorf("%w: %w", passledger.ErrStoreUnavailable, err)
		}
		return err
	}

	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", passledger.ErrStoreUnavailable, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

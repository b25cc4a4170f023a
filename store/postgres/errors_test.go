package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	passledger "github.com/xraph/passledger"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		want      error
	}{
		{"serialization failure", &pgconn.PgError{Code: codeSerializationFailure}, true, passledger.ErrConcurrentConflict},
		{"deadlock", &pgconn.PgError{Code: codeDeadlockDetected}, true, passledger.ErrConcurrentConflict},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true, passledger.ErrStoreUnavailable},
		{"admin shutdown", &pgconn.PgError{Code: codeAdminShutdown}, true, passledger.ErrStoreUnavailable},
		{"wrapped conflict", fmt.Errorf("scan: %w", &pgconn.PgError{Code: codeSerializationFailure}), true, passledger.ErrConcurrentConflict},
		{"check violation", &pgconn.PgError{Code: "23514"}, false, nil},
		{"deadline", context.DeadlineExceeded, false, context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, tt.retryable, passledger.IsRetryable(got))
			if tt.want != nil {
				assert.ErrorIs(t, got, tt.want)
			}
			assert.ErrorIs(t, got, tt.err, "original error stays in the chain")
		})
	}

	assert.NoError(t, classify(nil))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: codeUniqueViolation})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23514"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
}

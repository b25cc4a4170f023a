package mongo

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/mongo"

	passledger "github.com/xraph/passledger"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "transient transaction",
			err:  mongo.CommandError{Code: 251, Labels: []string{labelTransientTransaction}},
			want: passledger.ErrConcurrentConflict,
		},
		{
			name: "write conflict",
			err:  mongo.CommandError{Code: codeWriteConflict, Name: "WriteConflict"},
			want: passledger.ErrConcurrentConflict,
		},
		{
			name: "retryable write",
			err:  mongo.CommandError{Code: 91, Labels: []string{labelRetryableWrite}},
			want: passledger.ErrStoreUnavailable,
		},
		{
			name: "client disconnected",
			err:  fmt.Errorf("find: %w", mongo.ErrClientDisconnected),
			want: passledger.ErrStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.True(t, passledger.IsRetryable(got))
		})
	}
}

func TestClassifyPassesThrough(t *testing.T) {
	for _, err := range []error{
		passledger.ErrInsufficientFunds,
		passledger.ErrCheckpointMoved,
		passledger.ErrTokenExists,
		passledger.ErrSupplyNotReady,
		context.DeadlineExceeded,
	} {
		assert.Equal(t, err, classify(err))
	}

	plain := errors.New("unauthorized")
	assert.Equal(t, plain, classify(plain))
	assert.NoError(t, classify(nil))
}

func TestMigrationIndexes(t *testing.T) {
	idx := migrationIndexes()
	assert.Contains(t, idx, colPassTokens)
	assert.NotEmpty(t, idx[colPassTokens])
}

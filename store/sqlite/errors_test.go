package sqlite

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	passledger "github.com/xraph/passledger"
)

type codedError struct {
	code int
	msg  string
}

func (e *codedError) Error() string { return e.msg }
func (e *codedError) Code() int     { return e.code }

func TestClassifyTriggerRaises(t *testing.T) {
	for _, sentinel := range raised {
		t.Run(sentinel.Error(), func(t *testing.T) {
			err := &codedError{code: codeConstraint, msg: "constraint failed: " + sentinel.Error() + " (1811)"}
			assert.ErrorIs(t, classify(err), sentinel)
		})
	}
}

func TestTriggersRaiseSentinelText(t *testing.T) {
	all := createAccountsSQL + createPassTokensSQL + createGrantsSQL
	for _, sentinel := range raised {
		assert.Contains(t, all, "'"+sentinel.Error()+"'")
	}
}

func TestClassifyBusy(t *testing.T) {
	busy := &codedError{code: codeBusy, msg: "database is locked (5) (SQLITE_BUSY)"}
	got := classify(fmt.Errorf("exec: %w", busy))
	assert.ErrorIs(t, got, passledger.ErrStoreUnavailable)
	assert.True(t, passledger.IsRetryable(got))

	locked := &codedError{code: 262, msg: "table locked"}
	assert.ErrorIs(t, classify(locked), passledger.ErrStoreUnavailable)

	plain := errors.New("no such table: passledger_accounts")
	assert.Equal(t, plain, classify(plain))
	assert.NoError(t, classify(nil))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&codedError{code: 2067, msg: "UNIQUE constraint failed: passledger_pass_tokens.token"}))
	assert.True(t, isUniqueViolation(errors.New("UNIQUE constraint failed: passledger_pass_tokens.id")))
	assert.False(t, isUniqueViolation(&codedError{code: codeBusy, msg: "UNIQUE constraint failed"}))
	assert.False(t, isUniqueViolation(nil))
}

package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	passledger "github.com/xraph/passledger"
)

// Primary result codes, see https://www.sqlite.org/rescode.html.
const (
	codeBusy       = 5
	codeLocked     = 6
	codeConstraint = 19
)

// coder is implemented by the SQLite driver errors grove surfaces.
type coder interface {
	Code() int
}

// raised lists the sentinels whose text the triggers RAISE verbatim.
var raised = []error{
	passledger.ErrAccountNotFound,
	passledger.ErrInsufficientFunds,
	passledger.ErrSupplyExhausted,
	passledger.ErrSupplyNotReady,
}

// classify maps driver failures onto ledger sentinels, keeping the
// original error in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := err.Error()
	for _, sentinel := range raised {
		if strings.Contains(msg, sentinel.Error()) {
			return fmt.Errorf("%w: %w", sentinel, err)
		}
	}

	var c coder
	if errors.As(err, &c) {
		switch c.Code() & 0xff {
		case codeBusy, codeLocked:
			return fmt.Errorf("%w: %w", passledger.ErrStoreUnavailable, err)
		}
	}
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return fmt.Errorf("%w: %w", passledger.ErrStoreUnavailable, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var c coder
	if errors.As(err, &c) && c.Code()&0xff != codeConstraint {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

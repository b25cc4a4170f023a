package passledger

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound     = errors.New("passledger: not found")
	ErrInvalidInput = errors.New("passledger: invalid input")

	// Account errors
	ErrAccountNotFound   = fmt.Errorf("%w: account", ErrNotFound)
	ErrInsufficientFunds = errors.New("passledger: insufficient funds")
	ErrInvalidAmount     = errors.New("passledger: amount must be positive")

	// Token errors
	ErrTokenNotFound   = fmt.Errorf("%w: pass token", ErrNotFound)
	ErrAlreadyRedeemed = errors.New("passledger: pass token already redeemed")
	ErrSelfRedemption  = errors.New("passledger: cannot redeem your own pass token")
	ErrTokenExists     = errors.New("passledger: pass token already exists")

	// Supply errors
	ErrSupplyExhausted   = errors.New("passledger: supply exhausted")
	ErrSupplyCapMismatch = errors.New("passledger: stored supply cap differs from configured cap")
	ErrSupplyNotReady    = errors.New("passledger: supply counter not initialized")

	// Concurrency errors
	ErrCheckpointMoved    = errors.New("passledger: accrual checkpoint moved")
	ErrConcurrentConflict = errors.New("passledger: concurrent conflict")

	// Store errors
	ErrStoreUnavailable = errors.New("passledger: store unavailable")
	ErrStoreClosed      = errors.New("passledger: store is closed")
	ErrMigrationFailed  = errors.New("passledger: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("passledger: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match validation failures.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "passledger: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("passledger: %d errors occurred", len(e.Errors))
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrorOrNil returns the multi-error if it holds anything, otherwise nil.
func (e MultiError) ErrorOrNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentConflict) ||
		errors.Is(err, ErrCheckpointMoved) ||
		errors.Is(err, ErrStoreUnavailable)
}

// IsRejection returns true for business outcomes that are reported to the
// caller as-is and never retried.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrAlreadyRedeemed) ||
		errors.Is(err, ErrSelfRedemption) ||
		errors.Is(err, ErrSupplyExhausted) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidInput) ||
		IsNotFound(err)
}

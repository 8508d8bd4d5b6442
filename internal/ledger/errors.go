package ledger

import (
	"errors"
	"fmt"
)

// Business-rule failures. These are deterministic for a given ledger
// state and are never retried.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrDestinationNotFound = errors.New("destination account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrForbidden           = errors.New("account does not belong to the requesting user")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrSelfTransfer        = errors.New("cannot transfer to the same account")
)

// ErrConflict reports that another writer changed an account balance
// between read and conditional write. The engine retries it internally;
// callers only ever see ErrTransient once the retry budget is spent.
var ErrConflict = errors.New("concurrent balance update detected")

// ErrTransient is surfaced after bounded conflict retries are exhausted.
// The request may be safely resubmitted.
var ErrTransient = errors.New("operation could not be completed due to concurrent activity")

// ValidationError rejects a malformed request before any account is
// touched.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is a request-validation failure.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

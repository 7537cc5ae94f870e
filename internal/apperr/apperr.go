// Package apperr defines the error kinds the weather core reports to its callers.
//
// Each kind is a sentinel usable with errors.Is. Operations wrap the underlying
// cause in an *Error so that both the kind and the cause stay reachable:
//
//	err := apperr.Persistence("insert reading", dbErr)
//	errors.Is(err, apperr.ErrPersistence) // true
//	errors.Is(err, dbErr)                 // true
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports an unknown station or alert id.
	ErrNotFound = errors.New("not found")
	// ErrValidation reports malformed input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrPersistence reports an unavailable store or a failed query.
	ErrPersistence = errors.New("persistence failure")
	// ErrTransactionAborted reports a rolled back transaction; retrying is safe.
	ErrTransactionAborted = errors.New("transaction aborted")
	// ErrAlertProcessing reports a rule or debounce failure after the reading was stored.
	ErrAlertProcessing = errors.New("alert processing failed")
)

type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func NotFound(op string) error { return &Error{Kind: ErrNotFound, Op: op} }

func Validation(op string, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

func Persistence(op string, err error) error {
	return &Error{Kind: ErrPersistence, Op: op, Err: err}
}

func TransactionAborted(op string, err error) error {
	return &Error{Kind: ErrTransactionAborted, Op: op, Err: err}
}

func AlertProcessing(op string, err error) error {
	return &Error{Kind: ErrAlertProcessing, Op: op, Err: err}
}

package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is; the typed errors below wrap one of these.
var (
	// ErrValidation marks a malformed submission. The caller must fix its input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned for unknown order or trade ids.
	ErrNotFound = errors.New("not found")

	// ErrInvalidStateTransition is returned when an operation targets a terminal
	// or otherwise ineligible order. Not retriable.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrNotAuthorized is returned when a cancel requester does not own the order.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrConsistency indicates the execution source disagrees with stored state
	// (overfill, symbol or side mismatch). Never corrected silently.
	ErrConsistency = errors.New("consistency violation")

	// ErrConflict is an optimistic version mismatch at the storage boundary.
	ErrConflict = errors.New("concurrent modification")

	// ErrTransient is returned once the retry budget for a storage operation is spent.
	ErrTransient = errors.New("transient failure")
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// ValidationError describes a rejected field of an order submission or query.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return "validation error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ValidationError) IsRetriable() bool {
	return false
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// OrderError carries a business error about a specific order.
type OrderError struct {
	Kind    error // one of the Err* kinds
	OrderID string
	Msg     string
}

func (e *OrderError) Error() string {
	if e.OrderID == "" {
		return e.Kind.Error() + ": " + e.Msg
	}
	return e.Kind.Error() + " [order " + e.OrderID + "]: " + e.Msg
}

func (e *OrderError) IsRetriable() bool {
	return false
}

func (e *OrderError) Unwrap() error {
	return e.Kind
}

// NewNotFoundError reports an unknown order or trade id.
func NewNotFoundError(id, what string) *OrderError {
	return &OrderError{Kind: ErrNotFound, OrderID: id, Msg: what + " does not exist"}
}

// NewStateError reports an operation against an ineligible order.
func NewStateError(orderID string, format string, args ...any) *OrderError {
	return &OrderError{Kind: ErrInvalidStateTransition, OrderID: orderID, Msg: fmt.Sprintf(format, args...)}
}

// NewConsistencyError reports an integrity problem in a fill event.
func NewConsistencyError(orderID string, format string, args ...any) *OrderError {
	return &OrderError{Kind: ErrConsistency, OrderID: orderID, Msg: fmt.Sprintf(format, args...)}
}

// NewAuthError reports an owner mismatch.
func NewAuthError(orderID, requesterID string) *OrderError {
	return &OrderError{Kind: ErrNotAuthorized, OrderID: orderID, Msg: "requester " + requesterID + " does not own this order"}
}

// StorageError represents a persistence failure that may be retriable
type StorageError struct {
	Op        string // Operation that failed (e.g., "lock orders", "update order")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *StorageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) IsRetriable() bool {
	return e.Retriable
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new retriable storage error
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err, Retriable: true}
}

// NewFatalStorageError creates a non-retriable storage error
func NewFatalStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err, Retriable: false}
}

// TransientError is surfaced after retries are exhausted. The caller may retry.
type TransientError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientError) IsRetriable() bool {
	return true
}

func (e *TransientError) Unwrap() []error {
	return []error{ErrTransient, e.Err}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

package types

import "errors"

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Browser pool errors. ErrPoolTimeout and ErrInstanceCreateFailed are
	// deliberately distinct: both mean "no instance available now", but only
	// a construction failure is worth retrying immediately.
	ErrPoolTimeout          = errors.New("timeout waiting for browser instance from pool")
	ErrPoolClosed           = errors.New("browser pool is closed")
	ErrInstanceUnhealthy    = errors.New("browser instance is unhealthy")
	ErrInstanceCreateFailed = errors.New("failed to create browser instance")
	ErrMemoryPressure       = errors.New("memory usage too high and no idle instances available")

	// Request errors
	ErrInvalidURL  = errors.New("invalid URL")
	ErrURLRequired = errors.New("url is required")

	// Context errors
	ErrContextCanceled = errors.New("operation canceled")
)

// PoolError provides detailed information about browser pool failures.
// It implements the error interface and supports error unwrapping.
type PoolError struct {
	Operation string // The operation that failed
	Message   string // Human-readable error message
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *PoolError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *PoolError) Unwrap() error {
	return e.Err
}

// NewPoolError creates a PoolError for an arbitrary pool operation.
func NewPoolError(operation, message string, err error) *PoolError {
	return &PoolError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// NewPoolAcquireError creates an error for pool acquire failures.
func NewPoolAcquireError(reason string, err error) *PoolError {
	return &PoolError{
		Operation: "acquire",
		Message:   "Failed to acquire browser instance: " + reason,
		Err:       err,
	}
}

// NewInstanceCreateError creates an error for instance construction failures.
func NewInstanceCreateError(reason string, err error) *PoolError {
	return &PoolError{
		Operation: "create",
		Message:   "Failed to create browser instance: " + reason,
		Err:       errors.Join(ErrInstanceCreateFailed, err),
	}
}

package services

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every ValidationError.
	ErrValidation = errors.New("order: validation failed")
	// ErrInsufficientStock is matched by every InsufficientStockError.
	ErrInsufficientStock = errors.New("order: insufficient stock")
	// ErrLogic is matched by every LogicError.
	ErrLogic = errors.New("order: invalid operation")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates a write collided with a concurrent change.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderRefExhausted is returned when no free reference or access key could be
	// reserved within the configured number of attempts.
	ErrOrderRefExhausted = errors.New("order: reference allocation exhausted")
	// ErrOrderUnavailable indicates the backing store could not be reached.
	ErrOrderUnavailable = errors.New("order: repository unavailable")
)

// DomainError is implemented by errors that carry a stable code and a message that is safe to
// show to API callers.
type DomainError interface {
	error
	Code() string
	SafeMessage() string
}

// ValidationError reports invalid input such as a product without a price.
type ValidationError struct {
	Reason string
}

func newValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string        { return fmt.Sprintf("%s: %s", ErrValidation, e.Reason) }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
func (e *ValidationError) Code() string         { return "validation_failed" }
func (e *ValidationError) SafeMessage() string  { return e.Reason }

// InsufficientStockError reports that committing a change would oversell an item.
type InsufficientStockError struct {
	ItemTitle string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: %q", ErrInsufficientStock, e.ItemTitle)
}
func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }
func (e *InsufficientStockError) Code() string         { return "insufficient_stock" }
func (e *InsufficientStockError) SafeMessage() string {
	return fmt.Sprintf("not enough stock available for %s", e.ItemTitle)
}

// LogicError reports an operation that is not allowed in the current state.
type LogicError struct {
	Reason string
}

func newLogicError(format string, args ...any) *LogicError {
	return &LogicError{Reason: fmt.Sprintf(format, args...)}
}

func (e *LogicError) Error() string        { return fmt.Sprintf("%s: %s", ErrLogic, e.Reason) }
func (e *LogicError) Is(target error) bool { return target == ErrLogic }
func (e *LogicError) Code() string         { return "invalid_operation" }
func (e *LogicError) SafeMessage() string  { return e.Reason }

var (
	_ DomainError = (*ValidationError)(nil)
	_ DomainError = (*InsufficientStockError)(nil)
	_ DomainError = (*LogicError)(nil)
)

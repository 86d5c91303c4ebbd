// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrSymbolNotFound     = errors.New("Symbol not found")
	ErrWatchlistNotFound  = errors.New("watchlist not found")
	ErrWatchlistExists    = errors.New("watchlist already exists")
	ErrStaleStaging       = errors.New("No staging data found. Please upload a CSV file first.")
	ErrNoSymbols          = errors.New("No valid symbols found in the file")
	ErrNoResolvedSymbols  = errors.New("none of the symbols in the file could be resolved")
	ErrNoAccount          = errors.New("Unable to determine account ID")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrUnexpectedResponse = errors.New("unexpected response from gateway")
	ErrConfigInvalid      = errors.New("invalid configuration")
)

// BrokerError represents an error from the broker gateway.
type BrokerError struct {
	Endpoint string
	Status   int
	Message  string
	Err      error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker error [%s %d]: %s: %v", e.Endpoint, e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("broker error [%s %d]: %s", e.Endpoint, e.Status, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(endpoint string, status int, message string, err error) *BrokerError {
	return &BrokerError{
		Endpoint: endpoint,
		Status:   status,
		Message:  message,
		Err:      err,
	}
}

// ValidationError represents a user input error. Message is safe to show to the user.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// PersistenceError represents a failure reading or writing the watchlist store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error [%s]: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError creates a new PersistenceError. A nil err yields nil.
func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// ResolutionError records why a single symbol could not be resolved.
type ResolutionError struct {
	Symbol string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Symbol, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Reason returns the user-facing failure reason.
func (e *ResolutionError) Reason() string {
	if e.Err == nil {
		return ErrSymbolNotFound.Error()
	}
	return e.Err.Error()
}

// NewResolutionError creates a new ResolutionError.
func NewResolutionError(symbol string, err error) *ResolutionError {
	return &ResolutionError{Symbol: symbol, Err: err}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

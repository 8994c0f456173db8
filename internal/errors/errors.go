// Package errors provides the typed error taxonomy used across the
// reconciliation engine. Every failure is fatal to the current call;
// there is no retry tier.
package errors

import (
	"fmt"
)

// Type identifies the category of error
type Type string

const (
	// TypeConfig indicates an unsupported or conflicting configuration value
	TypeConfig Type = "CONFIG_ERROR"

	// TypeStructural indicates a structural mismatch between the hierarchy
	// matrix and the forecast or history panels
	TypeStructural Type = "STRUCTURAL_ERROR"

	// TypeCapability indicates a strategy or interval method used without
	// an input it declares as required
	TypeCapability Type = "CAPABILITY_ERROR"

	// TypeDataQuality indicates non-numeric or null values in a model column
	TypeDataQuality Type = "DATA_QUALITY_ERROR"

	// TypeInternal indicates an internal error
	TypeInternal Type = "INTERNAL_ERROR"
)

// Error represents a domain error with context
type Error struct {
	Type    Type                   `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *Error) Is(t Type) bool {
	return e.Type == t
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new error
func New(errType Type, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new formatted error
func Newf(errType Type, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with context
func Wrap(errType Type, message string, cause error) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   cause,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, t Type) bool {
	if e, ok := err.(*Error); ok {
		return e.Type == t
	}
	return false
}

// Config creates a configuration error
func Config(message string) *Error {
	return New(TypeConfig, message)
}

// Configf creates a formatted configuration error
func Configf(format string, args ...interface{}) *Error {
	return Newf(TypeConfig, format, args...)
}

// Structural creates a structural mismatch error
func Structural(message string) *Error {
	return New(TypeStructural, message)
}

// Structuralf creates a formatted structural mismatch error
func Structuralf(format string, args ...interface{}) *Error {
	return Newf(TypeStructural, format, args...)
}

// Capability creates a capability mismatch error
func Capability(message string) *Error {
	return New(TypeCapability, message)
}

// Capabilityf creates a formatted capability mismatch error
func Capabilityf(format string, args ...interface{}) *Error {
	return Newf(TypeCapability, format, args...)
}

// DataQualityf creates a formatted data quality error
func DataQualityf(format string, args ...interface{}) *Error {
	return Newf(TypeDataQuality, format, args...)
}

// Internal creates an internal error
func Internal(message string, cause error) *Error {
	return Wrap(TypeInternal, message, cause)
}

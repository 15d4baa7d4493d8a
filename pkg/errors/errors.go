// Package errors provides custom error types for the cultivate system.
// Typed errors let HTTP handlers and the Discord bot map failures to the
// right user-facing response without string matching.
package errors

import (
	"errors"
	"fmt"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Is and As re-export the standard library helpers so callers need only
// this package.
var (
	Is = errors.Is
	As = errors.As
)

// Common sentinel errors for the cultivate system
var (
	// ErrNotFound indicates that a requested record was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a record already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that provided input was invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientFunds indicates a purchase the user cannot afford
	ErrInsufficientFunds = errors.New("insufficient spirit stones")

	// ErrConnectionClosed indicates a send on a connection that is no longer open
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSlowConsumer indicates a connection whose send queue overflowed
	ErrSlowConsumer = errors.New("slow consumer")

	// ErrRouterClosed indicates use of an event router after shutdown
	ErrRouterClosed = errors.New("router closed")
)

// NotFoundError represents an error when a record is not found
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// SendError describes a failed delivery to one live connection.
type SendError struct {
	ConnID   string
	ServerID string
	Err      error
}

// Error implements the error interface
func (e *SendError) Error() string {
	return fmt.Sprintf("send to connection %s (server %s): %v", e.ConnID, e.ServerID, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *SendError) Unwrap() error {
	return e.Err
}

// NewSendError creates a new SendError
func NewSendError(connID, serverID string, err error) *SendError {
	return &SendError{ConnID: connID, ServerID: serverID, Err: err}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Component string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError
func NewConfigError(component, message string, err error) *ConfigError {
	return &ConfigError{
		Component: component,
		Message:   message,
		Err:       err,
	}
}

// Helper functions for error checking

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsInsufficientFunds checks if an error is a failed purchase for lack of stones
func IsInsufficientFunds(err error) bool {
	return errors.Is(err, ErrInsufficientFunds)
}

// IsConnectionGone reports whether err means the peer can no longer receive.
func IsConnectionGone(err error) bool {
	return errors.Is(err, ErrConnectionClosed) || errors.Is(err, ErrSlowConsumer)
}

// WrapResource wraps a storage error with the operation and record it concerned.
func WrapResource(operation, resource, id string, err error) error {
	if err == nil {
		return nil
	}
	if id != "" {
		return fmt.Errorf("%s %s %s: %w", operation, resource, id, err)
	}
	return fmt.Errorf("%s %s: %w", operation, resource, err)
}

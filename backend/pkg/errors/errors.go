package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeConfig represents missing keys and unsupported providers
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeTransport represents HTTP and WebSocket failures
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeProtocol represents malformed or unexpected protocol events
	ErrorTypeProtocol ErrorType = "protocol"
	// ErrorTypePrecondition represents requests rejected before any work is queued
	ErrorTypePrecondition ErrorType = "precondition"
	// ErrorTypeTimeout represents bounded waits that expired
	ErrorTypeTimeout ErrorType = "timeout"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// Kind returns the error category. Typed wrappers inherit it through embedding.
func (e *BaseError) Kind() ErrorType {
	return e.Type
}

// Summary returns the message without the wrapped cause
func (e *BaseError) Summary() string {
	return e.Message
}

// kinded is satisfied by BaseError and every wrapper embedding it
type kinded interface {
	error
	Kind() ErrorType
	Summary() string
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Configuration Errors

// ErrConfigMissingKey is returned when a required credential or setting is absent
type ErrConfigMissingKey struct {
	*BaseError
	Field string
}

func NewConfigMissingKey(field string) *ErrConfigMissingKey {
	return &ErrConfigMissingKey{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// ErrConfigUnsupportedProvider is returned when a provider name is not recognized
type ErrConfigUnsupportedProvider struct {
	*BaseError
	Provider string
}

func NewConfigUnsupportedProvider(provider string) *ErrConfigUnsupportedProvider {
	return &ErrConfigUnsupportedProvider{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("unsupported provider: %q", provider), nil),
		Provider:  provider,
	}
}

// ErrNotInitialized is returned when a component is used before it was configured
var ErrNotInitialized = NewBaseError(ErrorTypeConfig, "component not initialized", nil)

// Transport Errors

// ErrTransport wraps HTTP and WebSocket failures
type ErrTransport struct {
	*BaseError
	Service string
}

func NewTransport(service, message string, err error) *ErrTransport {
	return &ErrTransport{
		BaseError: NewBaseError(ErrorTypeTransport, fmt.Sprintf("%s: %s", service, message), err),
		Service:   service,
	}
}

// Protocol Errors

// ErrProtocol is returned for malformed or unexpected protocol events
type ErrProtocol struct {
	*BaseError
	Event string
}

func NewProtocol(event, reason string, err error) *ErrProtocol {
	return &ErrProtocol{
		BaseError: NewBaseError(ErrorTypeProtocol, fmt.Sprintf("bad %s event: %s", event, reason), err),
		Event:     event,
	}
}

// Precondition Errors

// ErrPrecondition is returned when a request is rejected before queueing
type ErrPrecondition struct {
	*BaseError
	Reason string
}

func NewPrecondition(reason string) *ErrPrecondition {
	return &ErrPrecondition{
		BaseError: NewBaseError(ErrorTypePrecondition, reason, nil),
		Reason:    reason,
	}
}

// ErrNotConnected is returned when the guild has no active voice connection
var ErrNotConnected = NewPrecondition("Not connected to voice channel")

// ErrBotNotReady is returned when the Discord session is not ready to speak
var ErrBotNotReady = NewPrecondition("Bot not ready")

// Timeout Errors

// ErrTimeout is returned when a bounded wait expires
type ErrTimeout struct {
	*BaseError
	Operation string
	Timeout   time.Duration
}

func NewTimeout(operation string, timeout time.Duration) *ErrTimeout {
	return &ErrTimeout{
		BaseError: NewBaseError(ErrorTypeTimeout, fmt.Sprintf("%s timed out after %v", operation, timeout), nil),
		Operation: operation,
		Timeout:   timeout,
	}
}

// Helper functions

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	var k kinded
	if errors.As(err, &k) {
		return k.Kind() == errType
	}
	return false
}

// UserMessage maps an error to a short canned message safe to show in Discord.
// Raw error text never reaches users.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var k kinded
	if !errors.As(err, &k) {
		return "Something went wrong."
	}
	switch k.Kind() {
	case ErrorTypeConfig:
		return "Voice features are not configured on this bot."
	case ErrorTypePrecondition:
		return k.Summary()
	case ErrorTypeTransport:
		return "The voice service is unavailable right now, try again later."
	case ErrorTypeTimeout:
		return "That took too long, try again."
	default:
		return "Something went wrong."
	}
}

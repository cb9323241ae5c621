package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorMapper maps external errors to the hibiki error taxonomy
type ErrorMapper interface {
	MapError(err error) error
	IsRetryable(err error) bool
	Category(err error) string
}

// DefaultErrorMapper implements the hibiki error taxonomy mapping
type DefaultErrorMapper struct{}

// NewDefaultErrorMapper creates a new error mapper
func NewDefaultErrorMapper() *DefaultErrorMapper {
	return &DefaultErrorMapper{}
}

// MapError maps provider and transport errors to hibiki categories
func (m *DefaultErrorMapper) MapError(err error) error {
	if err == nil {
		return nil
	}

	// Propagate context errors as-is
	if errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timeout: %w", ErrTransient)
	}

	if category(err) != "" {
		return err
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "does not exist"):
		return fmt.Errorf("resource not found: %w", ErrNotFound)

	case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "too many requests"):
		return fmt.Errorf("rate limited: %w", ErrTransient)

	case strings.Contains(errStr, "invalid input"), strings.Contains(errStr, "bad request"):
		return fmt.Errorf("invalid request: %w", ErrInvalidInput)

	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return fmt.Errorf("request timeout: %w", ErrTransient)

	case strings.Contains(errStr, "network"), strings.Contains(errStr, "connection"), strings.Contains(errStr, "unreachable"),
		strings.Contains(errStr, "stream"):
		return fmt.Errorf("network error: %w", ErrTransport)

	default:
		return fmt.Errorf("internal error: %w", ErrInternal)
	}
}

// IsRetryable determines if an error should trigger a retry by the caller
func (m *DefaultErrorMapper) IsRetryable(err error) bool {
	return IsRetryable(err)
}

// Category returns the hibiki error category for an error
func (m *DefaultErrorMapper) Category(err error) string {
	if err == nil {
		return ""
	}
	if c := category(err); c != "" {
		return c
	}
	return "Unknown"
}

func category(err error) string {
	switch {
	case errors.Is(err, ErrMalformedStream):
		return "ErrMalformedStream"
	case errors.Is(err, ErrArgumentParse):
		return "ErrArgumentParse"
	case errors.Is(err, ErrUnknownTool):
		return "ErrUnknownTool"
	case errors.Is(err, ErrDuplicateTool):
		return "ErrDuplicateTool"
	case errors.Is(err, ErrToolTimeout):
		return "ErrToolTimeout"
	case errors.Is(err, ErrHandlerExecution):
		return "ErrHandlerExecution"
	case errors.Is(err, ErrTransport):
		return "ErrTransport"
	case errors.Is(err, ErrMaxTurns):
		return "ErrMaxTurns"
	case errors.Is(err, ErrInvalidInput):
		return "ErrInvalidInput"
	case errors.Is(err, ErrNotFound):
		return "ErrNotFound"
	case errors.Is(err, ErrTransient):
		return "ErrTransient"
	case errors.Is(err, ErrInternal):
		return "ErrInternal"
	default:
		return ""
	}
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", message, err)
}

// WrapWithCategory wraps an error with a specific hibiki category, keeping the cause text
func WrapWithCategory(err error, message string, category error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w: %v", message, category, err)
}

// IsCategory checks if error belongs to specific category
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}

// NotFound wraps error as not found
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// InvalidInput wraps error as invalid input
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// Transient wraps error as transient
func Transient(message string) error {
	return fmt.Errorf("%s: %w", message, ErrTransient)
}

// Internal wraps error as internal
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}

// MalformedStream wraps error as a malformed stream
func MalformedStream(message string) error {
	return fmt.Errorf("%s: %w", message, ErrMalformedStream)
}

// Transport wraps a cause as a transport error
func Transport(message string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", message, ErrTransport)
	}
	return fmt.Errorf("%s: %w: %v", message, ErrTransport, cause)
}

// UnknownTool reports a tool name that is not registered
func UnknownTool(name string) error {
	return fmt.Errorf("function '%s' not found: %w", name, ErrUnknownTool)
}

// DuplicateTool reports a tool name registered twice
func DuplicateTool(name string) error {
	return fmt.Errorf("tool %q already registered: %w", name, ErrDuplicateTool)
}

// IsRetryable checks if an error is transient or transport related, indicating the caller may retry
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrTransport)
}

package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrMalformedStream - call-name/args ordering violated by the stream (abort the turn, surface to caller)
	ErrMalformedStream = errors.New("malformed stream")

	// ErrArgumentParse - tool arguments are not valid JSON (fold back as tool result)
	ErrArgumentParse = errors.New("argument parse error")

	// ErrUnknownTool - tool name not registered (fold back as tool result)
	ErrUnknownTool = errors.New("unknown tool")

	// ErrDuplicateTool - tool name already registered (fail at startup)
	ErrDuplicateTool = errors.New("duplicate tool")

	// ErrHandlerExecution - tool handler returned an error or panicked (fold back as tool result)
	ErrHandlerExecution = errors.New("handler execution failed")

	// ErrToolTimeout - tool handler exceeded its time budget (fold back as tool result)
	ErrToolTimeout = errors.New("tool timeout")

	// ErrTransport - model stream failed to open or broke mid-sequence (end the loop, caller decides retry)
	ErrTransport = errors.New("transport error")

	// ErrMaxTurns - the engine re-entered streaming more often than allowed
	ErrMaxTurns = errors.New("max turns reached")

	// ErrInvalidInput - invalid input (show validation error in interactive mode)
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - resource not found
	ErrNotFound = errors.New("not found")

	// ErrTransient - transient error (retry hint)
	ErrTransient = errors.New("transient error")

	// ErrInternal - internal error
	ErrInternal = errors.New("internal error")
)

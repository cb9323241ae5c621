package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/hibiki/internal/concurrency"
	hibikiErrors "github.com/harunnryd/hibiki/internal/errors"
	"github.com/harunnryd/hibiki/internal/logger"
	"github.com/harunnryd/hibiki/internal/model/contract"
	"github.com/harunnryd/hibiki/internal/tool"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Resolver is the read side of a tool registry.
type Resolver interface {
	Resolve(name string) (tool.Tool, error)
	Schema(name string) *jsonschema.Schema
}

type Options struct {
	// Timeout bounds one handler invocation. Zero means no bound beyond the caller's ctx.
	Timeout time.Duration
	// StrictSchema turns schema violations into error results instead of warnings.
	StrictSchema bool
}

// Result is the outcome of one dispatched call. Payload is always JSON.
type Result struct {
	Status       contract.ToolStatus
	Payload      string
	FunctionName string
	CallID       string
	Arguments    string
	Duration     time.Duration
	// Err is the categorized cause for error results and nil on success.
	Err error
}

func (r Result) OK() bool {
	return r.Status == contract.ToolStatusOK
}

// Executor parses, resolves, validates and runs tool calls.
type Executor struct {
	resolver Resolver
	opts     Options
}

func NewExecutor(resolver Resolver, opts Options) *Executor {
	return &Executor{
		resolver: resolver,
		opts:     opts,
	}
}

// Invoke runs one call to completion. Every failure of the call itself is reported through
// the Result; the returned error is non-nil only when ctx was cancelled.
func (e *Executor) Invoke(ctx context.Context, call contract.ToolCall) (Result, error) {
	start := time.Now()
	res, err := e.invoke(ctx, call)
	res.Duration = time.Since(start)

	if err != nil {
		slog.Warn("Tool call cancelled", append([]any{"tool", call.Name, "duration", res.Duration, "error", err}, logger.Attrs(ctx)...)...)
		return res, err
	}

	attrs := append([]any{
		"tool", call.Name,
		"call_id", call.ID,
		"arguments", call.Arguments,
		"status", res.Status,
		"duration", res.Duration,
	}, logger.Attrs(ctx)...)
	if res.OK() {
		slog.Info("Tool call completed", append(attrs, "result", res.Payload)...)
	} else {
		slog.Warn("Tool call failed", append(attrs, "error", res.Err)...)
	}
	return res, nil
}

func (e *Executor) invoke(ctx context.Context, call contract.ToolCall) (Result, error) {
	res := Result{
		FunctionName: call.Name,
		CallID:       call.ID,
		Arguments:    call.Arguments,
	}

	args := bytes.TrimSpace([]byte(call.Arguments))
	if len(args) == 0 {
		args = []byte(`{}`)
	}

	var parsed interface{}
	if err := json.Unmarshal(args, &parsed); err != nil {
		return fail(res, hibikiErrors.WrapWithCategory(err, "parse arguments", hibikiErrors.ErrArgumentParse),
			fmt.Sprintf("argument parse error: %v", err)), nil
	}
	if _, ok := parsed.(map[string]interface{}); !ok {
		msg := fmt.Sprintf("arguments for function '%s' must be an object", call.Name)
		return fail(res, hibikiErrors.WrapWithCategory(errors.New(msg), "parse arguments", hibikiErrors.ErrArgumentParse), msg), nil
	}

	t, err := e.resolver.Resolve(call.Name)
	if err != nil {
		return fail(res, err, fmt.Sprintf("function '%s' not found", call.Name)), nil
	}

	if err := tool.ValidateInput(e.resolver.Schema(call.Name), args); err != nil {
		if e.opts.StrictSchema {
			return fail(res, hibikiErrors.WrapWithCategory(err, "validate arguments", hibikiErrors.ErrInvalidInput),
				fmt.Sprintf("argument validation error: %v", err)), nil
		}
		slog.Warn("Tool arguments do not match schema", append([]any{"tool", call.Name, "error", err}, logger.Attrs(ctx)...)...)
	}

	handlerCtx, cancel := e.handlerContext(ctx)
	defer cancel()

	done := concurrency.Go(func() (json.RawMessage, error) {
		return t.Execute(handlerCtx, json.RawMessage(args))
	})

	select {
	case out := <-done:
		if out.Err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if handlerCtx.Err() == context.DeadlineExceeded {
				return e.timedOut(res, call.Name), nil
			}
			return fail(res, hibikiErrors.WrapWithCategory(out.Err, "execute tool", hibikiErrors.ErrHandlerExecution),
				fmt.Sprintf("error executing function '%s': %v", call.Name, out.Err)), nil
		}
		res.Status = contract.ToolStatusOK
		res.Payload = encodePayload(out.Value)
		return res, nil

	case <-handlerCtx.Done():
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return e.timedOut(res, call.Name), nil
	}
}

func (e *Executor) handlerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.Timeout > 0 {
		return context.WithTimeout(ctx, e.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

func (e *Executor) timedOut(res Result, name string) Result {
	msg := fmt.Sprintf("function '%s' timed out after %s", name, e.opts.Timeout)
	return fail(res, fmt.Errorf("%s: %w", msg, hibikiErrors.ErrToolTimeout), msg)
}

func fail(res Result, err error, msg string) Result {
	res.Status = contract.ToolStatusError
	res.Err = err
	res.Payload = ErrorPayload(msg)
	return res
}

// ErrorPayload renders msg as {"error": msg}.
func ErrorPayload(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}

// encodePayload compacts JSON output. Anything else is encoded as a JSON string.
func encodePayload(out json.RawMessage) string {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return "null"
	}
	if json.Valid(trimmed) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err == nil {
			return buf.String()
		}
	}
	data, _ := json.Marshal(string(out))
	return string(data)
}

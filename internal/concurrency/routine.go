package concurrency

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// SafeGo runs a function in a goroutine with panic recovery.
func SafeGo(fn func(), onPanic func(interface{})) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				slog.Error("Panic recovered", "panic", r, "stack", string(stack))
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}

// Result carries the outcome of a function started with Go.
type Result[T any] struct {
	Value T
	Err   error
}

// Go runs fn in a recovered goroutine and delivers exactly one Result on the returned channel.
// The channel is buffered so the goroutine never blocks when nobody is left to receive.
func Go[T any](fn func() (T, error)) <-chan Result[T] {
	out := make(chan Result[T], 1)
	SafeGo(func() {
		v, err := fn()
		out <- Result[T]{Value: v, Err: err}
	}, func(r interface{}) {
		out <- Result[T]{Err: &PanicError{Value: r}}
	})
	return out
}

// PanicError wraps a recovered panic value.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

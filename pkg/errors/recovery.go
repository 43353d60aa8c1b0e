package errors

import (
	"fmt"
	"runtime/debug"
)

const maxStackBytes = 8 << 10

// RecoverPanic converts a recovered panic value into a fatal internal error.
// The panic value and a truncated stack go into Details for the logs; they
// must not be written to API responses.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}

	cause, ok := r.(error)
	if !ok {
		cause = fmt.Errorf("panic: %v", r)
	}

	stack := debug.Stack()
	if len(stack) > maxStackBytes {
		stack = stack[:maxStackBytes]
	}

	return ErrInternal.
		WithCause(cause).
		WithDetail("panic", true).
		WithDetail("panic_value", fmt.Sprint(r)).
		WithDetail("stack_trace", string(stack)).
		AsFatal()
}

package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic converts a recovered value into an internal *Error that
// carries the stack trace.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}

	var err error
	switch v := r.(type) {
	case error:
		err = v
	case string:
		err = fmt.Errorf("panic: %s", v)
	default:
		err = fmt.Errorf("panic: %v", v)
	}

	return ErrInternal.
		WithCause(err).
		WithDetail("panic", true).
		WithDetail("stack_trace", string(debug.Stack()))
}

// Guard runs fn and turns a panic into the returned error.
func Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = RecoverPanic(r)
		}
	}()
	return fn()
}

func IsPanic(err error) bool {
	var appErr *Error
	if As(err, &appErr) {
		panicked, _ := appErr.Details["panic"].(bool)
		return panicked
	}
	return false
}

package kernel

import (
	"fmt"
	"runtime/debug"
)

// PanicError reports a panic raised by a module hook or driver lifecycle call.
type PanicError struct {
	// Scope names the lifecycle call that panicked, for example "driver telegram Start".
	Scope string
	// Value is the recovered panic value.
	Value any
	// Stack is the goroutine stack captured at recovery.
	Stack []byte
}

// Error implements error.
func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: panic recovered: %v", e.Scope, e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// runSafely calls fn and tags its error with scope. A panic becomes a *PanicError.
func runSafely(scope string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &PanicError{Scope: scope, Value: recovered, Stack: debug.Stack()}
		}
	}()

	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", scope, err)
	}

	return nil
}

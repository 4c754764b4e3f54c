package try

import "fmt"

// Fataler is something having `Fatal`, like *testing.T or *log.Logger.
type Fataler interface {
	Fatal(...any)
}

// Result holds a (value, error) pair returned by a constructor.
//
// A Result with nil error is "ok" and its value is valid.
type Result[T any] struct {
	value T
	err   error
}

// To captures the return values of a function call.
func To[T any](value T, err error) Result[T] {
	if err != nil {
		return Result[T]{err: err}
	}
	return Result[T]{value: value}
}

// Get returns the pair back. When it is not ok, value is zero.
func (r Result[T]) Get() (T, error) {
	return r.value, r.err
}

// Note prefixes the error message, if any, keeping it unwrappable.
func (r Result[T]) Note(format string, args ...any) Result[T] {
	if r.err == nil {
		return r
	}
	return Result[T]{err: fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), r.err)}
}

// OrFatal returns the value when ok. Otherwise it calls ftl.Fatal(err)
// (and ftl.Helper() before that, if ftl has one).
func (r Result[T]) OrFatal(ftl Fataler) T {
	if r.err == nil {
		return r.value
	}
	if hlp, ok := ftl.(interface{ Helper() }); ok {
		hlp.Helper()
	}
	ftl.Fatal(r.err)
	return *new(T)
}

// OrDefault returns the value when ok, or d.
func (r Result[T]) OrDefault(d T) T {
	if r.err != nil {
		return d
	}
	return r.value
}

// Package try turns (T, error) pairs into one value, for mains and tests.
package try

// something have method `Fatal`.
//
// For example in standard libraries: *testing.T, log.Logger
type Fataler interface {
	Fatal(...any)
}

// Either wraps a pair of (T, error).
//
// When error is nil, it is "ok" and T is valid.
type Either[T any] struct {
	value T
	err   error
}

func To[T any](value T, err error) Either[T] {
	if err != nil {
		return Either[T]{err: err}
	}
	return Either[T]{value: value}
}

func (e Either[T]) Get() (T, error) {
	return e.value, e.err
}

// OrFatal returns T if ok. Otherwise, it calls ftl.Fatal(err).
//
// If ftl has "Helper()" method (like *testing.T), it is called before `Fatal`.
func (e Either[T]) OrFatal(ftl Fataler) T {
	if e.err == nil {
		return e.value
	}
	if hlp, ok := ftl.(interface{ Helper() }); ok {
		hlp.Helper()
	}
	ftl.Fatal(e.err)
	return *new(T)
}

func (e Either[T]) OrDefault(d T) T {
	if e.err != nil {
		return d
	}
	return e.value
}

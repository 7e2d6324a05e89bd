package rollwin

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed Engine.
	ErrClosed = errors.New("rollwin: engine closed")

	// ErrInvalidConfig is wrapped by every configuration error.
	ErrInvalidConfig = errors.New("rollwin: invalid configuration")

	// ErrNilFetcher is returned when New is called without a Fetcher.
	ErrNilFetcher = fmt.Errorf("%w: fetcher is nil", ErrInvalidConfig)
)

// ErrInvalidProfile indicates a Profile field outside its valid range.
//
// It unwraps to ErrInvalidConfig.
type ErrInvalidProfile struct {
	Field  string
	Value  any
	Reason string
}

func (e *ErrInvalidProfile) Error() string {
	return fmt.Sprintf("invalid profile: %s = %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ErrInvalidProfile) Unwrap() error { return ErrInvalidConfig }

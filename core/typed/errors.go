package typed

import (
	"errors"
	"fmt"
)

var ErrInvalidData = errors.New("invalid state data")

// DecodeError describes state data that does not fit the target type.
type DecodeError struct {
	Type string
	// Expected is the required size, or the required element size when
	// Multiple is set. Zero if the failure is not about size.
	Expected int
	Actual   int
	Multiple bool
	Err      error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("decode %s: %v", e.Type, e.Err)
	case e.Multiple:
		return fmt.Sprintf("decode %s: size %d is not a multiple of %d", e.Type, e.Actual, e.Expected)
	default:
		return fmt.Sprintf("decode %s: size %d, expected %d", e.Type, e.Actual, e.Expected)
	}
}

func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidData}
	}
	return []error{ErrInvalidData, e.Err}
}

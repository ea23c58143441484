package state

import "errors"

// MaxStateSize is the largest payload a state can hold.
const MaxStateSize = 0x1000

var (
	ErrNotFound    = errors.New("state not found")
	ErrConflict    = errors.New("change stamp conflict")
	ErrTooLarge    = errors.New("state data too large")
	ErrInvalidName = errors.New("invalid state name")
	ErrNotOwned    = errors.New("state is not owned by this process")
)

// Package channel is the boundary to the facility that owns versioned state.
//
// A Channel reads and writes state buffers and arms callbacks that the facility
// invokes, on goroutines it owns, whenever a state's change stamp moves. It is
// the lowest layer of the stack: it knows nothing about subscriptions, wait
// semantics or user types. Adapters live under adapters/.
package channel

import (
	"context"
	"errors"

	"github.com/codewandler/notify-go/core/state"
)

var ErrClosed = errors.New("channel closed")

// RegistrationID identifies one armed callback.
type RegistrationID string

// Notification is handed to a NotifyFunc when a state changed. Data is the
// payload written at Stamp; it must not be retained past the callback unless
// copied.
type Notification struct {
	Name  state.Name
	Stamp state.Stamp
	Data  []byte
}

// NotifyFunc is invoked by the facility. Implementations must return promptly.
type NotifyFunc func(Notification)

// CreateOptions configure a new state.
type CreateOptions struct {
	// Name requests a specific name, typically one from state.WellKnownName.
	// Creating a requested name that already exists is not an error. Zero lets
	// the facility allocate a fresh name.
	Name     state.Name
	Lifetime state.Lifetime
	Scope    state.Scope
	// MaxSize bounds the payload; 0 means state.MaxStateSize.
	MaxSize int
	// PersistData keeps the data of permanent states across facility restarts.
	PersistData bool
}

func (o CreateOptions) Limit() int {
	if o.MaxSize <= 0 || o.MaxSize > state.MaxStateSize {
		return state.MaxStateSize
	}
	return o.MaxSize
}

// Channel is the raw notification facility.
type Channel interface {
	// Create allocates a new, empty state with stamp 0.
	Create(ctx context.Context, opts CreateOptions) (state.Name, error)
	// Delete removes a state. Registrations on it stop receiving notifications.
	Delete(ctx context.Context, name state.Name) error
	// Read returns the current data and stamp or state.ErrNotFound.
	Read(ctx context.Context, name state.Name) (state.Snapshot, error)
	// Write replaces the data. With a non-nil expected stamp the write only
	// succeeds if the current stamp matches, otherwise state.ErrConflict.
	Write(ctx context.Context, name state.Name, data []byte, expected *state.Stamp) (state.Stamp, error)
	// Info describes the state without transferring data.
	Info(ctx context.Context, name state.Name) (state.Info, error)

	// Register arms fn for every change of name whose stamp differs from
	// after. If the current stamp already differs, one notification is
	// delivered promptly.
	Register(name state.Name, after state.Stamp, fn NotifyFunc) (RegistrationID, error)
	// Unregister disarms a callback. After it returns no new notification for
	// id is started; a notification already running is not waited for.
	// Unregistering an unknown or already removed id is a no-op.
	Unregister(id RegistrationID) error

	Close() error
}

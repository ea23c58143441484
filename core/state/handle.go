package state

import "log/slog"

// Ownership describes who is responsible for deleting a state.
type Ownership uint8

const (
	// OwnershipWellKnown states are referenced, never created or deleted here.
	OwnershipWellKnown Ownership = iota
	OwnershipPermanent
	OwnershipTemporary
	// OwnershipProcessLocal states are deleted when the owning process closes.
	OwnershipProcessLocal
)

func (o Ownership) String() string {
	switch o {
	case OwnershipWellKnown:
		return "well-known"
	case OwnershipPermanent:
		return "permanent"
	case OwnershipTemporary:
		return "temporary"
	case OwnershipProcessLocal:
		return "process-local"
	default:
		return "unknown"
	}
}

// Handle is an immutable reference to a state together with this process'
// ownership of it.
type Handle struct {
	Name      Name
	Ownership Ownership
}

// WellKnown returns a non-owning handle for name.
func WellKnown(name Name) Handle { return Handle{Name: name, Ownership: OwnershipWellKnown} }

// Equal reports whether h and other refer to the same state. Ownership is
// ignored.
func (h Handle) Equal(other Handle) bool { return h.Name == other.Name }

// Owned reports whether this process may delete the state.
func (h Handle) Owned() bool { return h.Ownership != OwnershipWellKnown }

func (h Handle) String() string { return h.Name.String() }

func (h Handle) SlogAttr() slog.Attr {
	return slog.Group("state",
		slog.String("name", h.Name.String()),
		slog.String("ownership", h.Ownership.String()),
	)
}

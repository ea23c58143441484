package state

import "bytes"

// Snapshot is a point-in-time, internally consistent view of a state.
type Snapshot struct {
	Name  Name
	Data  []byte
	Stamp Stamp
}

func (s Snapshot) Size() int { return len(s.Data) }

// Newer reports whether s was taken after other. Snapshots of different
// states are never newer than each other.
func (s Snapshot) Newer(other Snapshot) bool {
	return s.Name == other.Name && s.Stamp.After(other.Stamp)
}

// Same reports whether both snapshots carry the same stamp and byte-identical
// data. Equal stamps alone are not trusted to imply equal data.
func (s Snapshot) Same(other Snapshot) bool {
	return s.Name == other.Name && s.Stamp == other.Stamp && bytes.Equal(s.Data, other.Data)
}

// Info describes a state without transferring its data.
type Info struct {
	Name               Name
	Exists             bool
	Stamp              Stamp
	Size               int
	SubscribersPresent bool
}

// Quiescent reports whether the state exists and nobody listens to it.
func (i Info) Quiescent() bool { return i.Exists && !i.SubscribersPresent }

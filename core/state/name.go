package state

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const nameXORKey uint64 = 0x41C64E6DA3BC0074

// Lifetime controls how long a state outlives its creator.
type Lifetime uint8

const (
	LifetimeWellKnown Lifetime = iota
	LifetimePermanent
	LifetimePersistent
	LifetimeTemporary
)

func (l Lifetime) String() string {
	switch l {
	case LifetimeWellKnown:
		return "well-known"
	case LifetimePermanent:
		return "permanent"
	case LifetimePersistent:
		return "persistent"
	case LifetimeTemporary:
		return "temporary"
	default:
		return "unknown"
	}
}

// Scope is the visibility of a state's data.
type Scope uint8

const (
	ScopeSystem Scope = iota
	ScopeSession
	ScopeUser
	ScopeProcess
	ScopeMachine
	ScopePhysicalMachine
)

func (s Scope) String() string {
	switch s {
	case ScopeSystem:
		return "system"
	case ScopeSession:
		return "session"
	case ScopeUser:
		return "user"
	case ScopeProcess:
		return "process"
	case ScopeMachine:
		return "machine"
	case ScopePhysicalMachine:
		return "physical-machine"
	default:
		return fmt.Sprintf("scope(%d)", uint8(s))
	}
}

func (s Scope) valid() bool { return s <= ScopePhysicalMachine }

// Descriptor is the decoded form of a Name.
type Descriptor struct {
	Version   uint8
	Lifetime  Lifetime
	Scope     Scope
	Permanent bool
	UniqueID  uint32
	OwnerTag  uint32
}

// Name identifies a state. Two names are the same state iff their values are
// equal.
type Name uint64

// NewName encodes d into a Name.
func NewName(d Descriptor) (Name, error) {
	if d.Version >= 1<<4 {
		return 0, fmt.Errorf("%w: version %d out of range", ErrInvalidName, d.Version)
	}
	if d.UniqueID >= 1<<21 {
		return 0, fmt.Errorf("%w: unique id %d out of range", ErrInvalidName, d.UniqueID)
	}
	if d.Lifetime > LifetimeTemporary {
		return 0, fmt.Errorf("%w: lifetime %d out of range", ErrInvalidName, d.Lifetime)
	}
	if !d.Scope.valid() {
		return 0, fmt.Errorf("%w: scope %d out of range", ErrInvalidName, d.Scope)
	}

	var permanent uint64
	if d.Permanent {
		permanent = 1
	}
	v := uint64(d.Version) |
		uint64(d.Lifetime)<<4 |
		uint64(d.Scope)<<6 |
		permanent<<10 |
		uint64(d.UniqueID)<<11 |
		uint64(d.OwnerTag)<<32

	return Name(v ^ nameXORKey), nil
}

// MustName is like NewName but panics on an invalid descriptor.
func MustName(d Descriptor) Name {
	n, err := NewName(d)
	if err != nil {
		panic(err)
	}
	return n
}

// Descriptor decodes the name.
func (n Name) Descriptor() (Descriptor, error) {
	v := uint64(n) ^ nameXORKey
	scope := Scope((v >> 6) & 0b1111)
	if !scope.valid() {
		return Descriptor{}, fmt.Errorf("%w: invalid data scope %d", ErrInvalidName, uint8(scope))
	}
	return Descriptor{
		Version:   uint8(v & 0b1111),
		Lifetime:  Lifetime((v >> 4) & 0b11),
		Scope:     scope,
		Permanent: v&(1<<10) != 0,
		UniqueID:  uint32((v >> 11) & 0x1FFFFF),
		OwnerTag:  uint32(v >> 32),
	}, nil
}

func (n Name) Uint64() uint64 { return uint64(n) }

func (n Name) String() string { return fmt.Sprintf("0x%016x", uint64(n)) }

// ParseName parses the output of Name.String. A missing 0x prefix is accepted.
func ParseName(s string) (Name, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidName, s, err)
	}
	return Name(v), nil
}

// WellKnownName derives a deterministic, well-known machine scoped name from
// label. The same label always yields the same name.
func WellKnownName(label string) Name {
	sum := blake2b.Sum256([]byte(label))
	return MustName(Descriptor{
		Version:  1,
		Lifetime: LifetimeWellKnown,
		Scope:    ScopeMachine,
		UniqueID: binary.BigEndian.Uint32(sum[4:8]) & 0x1FFFFF,
		OwnerTag: binary.BigEndian.Uint32(sum[0:4]),
	})
}

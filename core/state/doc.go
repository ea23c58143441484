// Package state defines the vocabulary shared by every layer of the notification
// facility: opaque state names, their lifetime/ownership, change stamps and
// point-in-time snapshots.
//
// A state is a small, named, versioned byte buffer owned by the facility (see
// package channel). Every successful write advances the state's [Stamp]; a
// [Snapshot] pairs the data with the stamp it was read at.
//
// # Names
//
// A [Name] is an opaque 64-bit value. It encodes a [Descriptor] (version,
// lifetime, scope, permanence, unique id and owner tag) in an obfuscated form,
// which allows names to be exchanged between processes out of band:
//
//	name, err := state.NewName(state.Descriptor{
//	    Version:  1,
//	    Lifetime: state.LifetimeTemporary,
//	    Scope:    state.ScopeMachine,
//	    UniqueID: 42,
//	})
//
// [WellKnownName] derives a deterministic name from a label, so unrelated
// processes can meet on the same state without any handshake.
package state

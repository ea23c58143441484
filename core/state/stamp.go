package state

import "log/slog"

// Stamp is the change stamp of a state. It starts at 0 when the state is
// created and is advanced by the facility on every successful write. Stamps of
// different states are not comparable.
//
// A zero stamp does not imply the state exists.
type Stamp uint64

func (s Stamp) Uint64() uint64                       { return uint64(s) }
func (s Stamp) After(other Stamp) bool               { return s > other }
func (s Stamp) SlogAttr() slog.Attr                  { return slog.Uint64("stamp", uint64(s)) }
func (s Stamp) SlogAttrWithKey(key string) slog.Attr { return slog.Uint64(key, uint64(s)) }

// Ptr returns a pointer to a copy of s, handy for conditional writes.
func (s Stamp) Ptr() *Stamp { return &s }

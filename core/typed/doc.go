// Package typed layers Go values over the raw byte buffers of states.
//
// A Codec converts between a value and the bytes stored in a state. State
// combines a codec with a handle and a process.Process:
//
//	counter, err := typed.CreateTemporary(ctx, p, typed.Binary[uint32]())
//	_, err = counter.Set(ctx, 0)
//	next, err := counter.Apply(ctx, func(v uint32) uint32 { return v + 1 })
//
// Decoding failures are reported as *DecodeError, which matches
// ErrInvalidData with errors.Is.
package typed

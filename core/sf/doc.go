// Package sf deduplicates concurrent calls that share a key.
//
// If several goroutines call [Group.Do] with the same key while a call is in
// flight, only the first runs fn and the rest receive its result. The nats
// adapter uses it to collapse concurrent reads of the same state.
//
//	var reads sf.Group[state.Snapshot]
//	snap, shared, err := reads.Do(name.String(), func() (state.Snapshot, error) {
//	    return load(ctx, name)
//	})
package sf

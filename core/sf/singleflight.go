package sf

import "golang.org/x/sync/singleflight"

// Group deduplicates concurrent calls per key. The zero value is ready to use.
type Group[T any] struct {
	group singleflight.Group
}

// Do runs fn for key unless a call for key is already in flight, in which
// case it waits for that call. shared reports whether the result was handed
// to more than one caller.
func (g *Group[T]) Do(key string, fn func() (T, error)) (v T, shared bool, err error) {
	out, err, shared := g.group.Do(key, func() (any, error) {
		return fn()
	})
	if out != nil {
		v = out.(T)
	}
	return v, shared, err
}

// Result is what DoChan delivers.
type Result[T any] struct {
	Val    T
	Err    error
	Shared bool
}

// DoChan is like Do but returns a channel that receives the result, so a
// caller can stop waiting without affecting the others sharing the call.
func (g *Group[T]) DoChan(key string, fn func() (T, error)) <-chan Result[T] {
	in := g.group.DoChan(key, func() (any, error) {
		return fn()
	})
	out := make(chan Result[T], 1)
	go func() {
		r := <-in
		res := Result[T]{Err: r.Err, Shared: r.Shared}
		if r.Val != nil {
			res.Val = r.Val.(T)
		}
		out <- res
	}()
	return out
}

// Forget drops the in-flight record for key so the next Do runs fn again.
func (g *Group[T]) Forget(key string) {
	g.group.Forget(key)
}

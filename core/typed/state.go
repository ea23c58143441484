package typed

import (
	"context"
	"fmt"
	"time"

	"github.com/codewandler/notify-go/core/notify"
	"github.com/codewandler/notify-go/core/process"
	"github.com/codewandler/notify-go/core/state"
	"github.com/codewandler/notify-go/ports/channel"
)

// Stamped is a decoded value together with the stamp it was read at.
type Stamped[T any] struct {
	Value T
	Stamp state.Stamp
}

// State is a typed view of one state.
type State[T any] struct {
	p     *process.Process
	h     state.Handle
	codec Codec[T]
}

func New[T any](p *process.Process, h state.Handle, codec Codec[T]) *State[T] {
	return &State[T]{p: p, h: h, codec: codec}
}

func Create[T any](ctx context.Context, p *process.Process, codec Codec[T], opts channel.CreateOptions) (*State[T], error) {
	h, err := p.Create(ctx, opts)
	if err != nil {
		return nil, err
	}
	return New(p, h, codec), nil
}

func CreateTemporary[T any](ctx context.Context, p *process.Process, codec Codec[T]) (*State[T], error) {
	h, err := p.CreateTemporary(ctx)
	if err != nil {
		return nil, err
	}
	return New(p, h, codec), nil
}

// WellKnown opens, creating it if needed, the well-known state for label.
func WellKnown[T any](ctx context.Context, p *process.Process, label string, codec Codec[T]) (*State[T], error) {
	h, err := p.CreateWellKnown(ctx, label)
	if err != nil {
		return nil, err
	}
	return New(p, h, codec), nil
}

func (s *State[T]) Handle() state.Handle { return s.h }

func (s *State[T]) Delete(ctx context.Context) error { return s.p.Delete(ctx, s.h) }

func (s *State[T]) Get(ctx context.Context) (T, error) {
	v, err := s.Query(ctx)
	return v.Value, err
}

// Query returns the current value and its stamp.
func (s *State[T]) Query(ctx context.Context) (Stamped[T], error) {
	snap, err := s.p.Read(ctx, s.h)
	if err != nil {
		return Stamped[T]{}, err
	}
	return s.decode(snap)
}

func (s *State[T]) Set(ctx context.Context, v T) (state.Stamp, error) {
	data, err := s.codec.Encode(v)
	if err != nil {
		return 0, fmt.Errorf("encode: %w", err)
	}
	return s.p.Write(ctx, s.h, data)
}

// Update stores v only if the state is still at expected.
func (s *State[T]) Update(ctx context.Context, v T, expected state.Stamp) (bool, error) {
	data, err := s.codec.Encode(v)
	if err != nil {
		return false, fmt.Errorf("encode: %w", err)
	}
	_, ok, err := s.p.Update(ctx, s.h, data, expected)
	return ok, err
}

// Apply replaces the value with fn(current) and returns what was stored.
// fn may run several times when other writers interleave.
func (s *State[T]) Apply(ctx context.Context, fn func(T) T) (T, error) {
	return s.TryApply(ctx, func(v T) (T, error) { return fn(v), nil })
}

// TryApply is Apply with a fallible transform. An error from fn aborts
// without writing.
func (s *State[T]) TryApply(ctx context.Context, fn func(T) (T, error)) (T, error) {
	for {
		var zero T
		cur, err := s.Query(ctx)
		if err != nil {
			return zero, err
		}
		next, err := fn(cur.Value)
		if err != nil {
			return zero, err
		}
		ok, err := s.Update(ctx, next, cur.Stamp)
		if err != nil {
			return zero, err
		}
		if ok {
			return next, nil
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
	}
}

// Replace stores v and returns the value it replaced.
func (s *State[T]) Replace(ctx context.Context, v T) (T, error) {
	var old T
	_, err := s.TryApply(ctx, func(cur T) (T, error) {
		old = cur
		return v, nil
	})
	return old, err
}

// Subscribe calls fn with every new value. Values that fail to decode are
// reported through the registry's error handler.
func (s *State[T]) Subscribe(ctx context.Context, fn func(d *notify.Delivery, v Stamped[T]) error, opts ...notify.SubscribeOption) (*notify.Subscription, error) {
	return s.p.Subscribe(ctx, s.h, notify.ListenerFunc(func(d *notify.Delivery) error {
		v, err := s.decode(d.Snapshot())
		if err != nil {
			return err
		}
		return fn(d, v)
	}), opts...)
}

// Wait blocks until the state changes after the call. timeout <= 0 waits
// forever.
func (s *State[T]) Wait(ctx context.Context, timeout time.Duration) (state.Stamp, error) {
	info, err := s.p.Info(ctx, s.h)
	if err != nil {
		return 0, err
	}
	if !info.Exists {
		return 0, fmt.Errorf("wait %s: %w", s.h, state.ErrNotFound)
	}
	return s.p.Registry().WaitForChange(s.h.Name, info.Stamp, timeout)
}

// WaitContext is Wait bounded by ctx.
func (s *State[T]) WaitContext(ctx context.Context) (state.Stamp, error) {
	info, err := s.p.Info(ctx, s.h)
	if err != nil {
		return 0, err
	}
	if !info.Exists {
		return 0, fmt.Errorf("wait %s: %w", s.h, state.ErrNotFound)
	}
	return s.p.Registry().WaitForChangeContext(ctx, s.h.Name, info.Stamp)
}

// WaitUntil blocks until pred accepts the current value and returns it.
func (s *State[T]) WaitUntil(pred func(T) bool, timeout time.Duration) (T, error) {
	return notify.WaitUntil(s.p.Registry(), s.h.Name, s.Predicate(pred), timeout)
}

func (s *State[T]) WaitUntilContext(ctx context.Context, pred func(T) bool) (T, error) {
	return notify.WaitUntilContext(ctx, s.p.Registry(), s.h.Name, s.Predicate(pred))
}

// WaitUntilBoxed waits on a type-erased checker, for example one built by
// the predicate package.
func (s *State[T]) WaitUntilBoxed(c notify.Checker, timeout time.Duration) (any, error) {
	return notify.WaitUntilBoxed(s.p.Registry(), s.h.Name, c, timeout)
}

// Predicate lifts pred over decoded values. Data that fails to decode
// aborts the wait.
func (s *State[T]) Predicate(pred func(T) bool) notify.Predicate[T] {
	return func(snap state.Snapshot) (T, bool, error) {
		v, err := s.decode(snap)
		if err != nil {
			return v.Value, false, err
		}
		return v.Value, pred(v.Value), nil
	}
}

func (s *State[T]) decode(snap state.Snapshot) (Stamped[T], error) {
	v, err := s.codec.Decode(snap.Data)
	if err != nil {
		return Stamped[T]{Stamp: snap.Stamp}, err
	}
	return Stamped[T]{Value: v, Stamp: snap.Stamp}, nil
}

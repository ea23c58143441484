package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/codewandler/notify-go/core/state"
)

// Predicate inspects a snapshot. ok=true completes the wait with v; a non-nil
// error aborts it.
type Predicate[T any] func(snap state.Snapshot) (v T, ok bool, err error)

// Checker is the type-erased form of a Predicate, for callers that keep
// predicates over different value types behind one signature.
type Checker interface {
	Check(snap state.Snapshot) (any, bool, error)
}

type CheckerFunc func(snap state.Snapshot) (any, bool, error)

func (f CheckerFunc) Check(snap state.Snapshot) (any, bool, error) { return f(snap) }

// Boxed erases the value type of p.
func Boxed[T any](p Predicate[T]) Checker {
	return CheckerFunc(func(snap state.Snapshot) (any, bool, error) {
		v, ok, err := p(snap)
		return v, ok, err
	})
}

// ticket is the wake-up primitive of one blocking wait.
type ticket struct {
	mu       sync.Mutex
	cond     *sync.Cond
	notified bool
	expired  bool
	stamp    state.Stamp
}

func newTicket() *ticket {
	t := &ticket{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *ticket) notify(stamp state.Stamp) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.notified {
		return
	}
	t.notified = true
	t.stamp = stamp
	t.cond.Broadcast()
}

func (t *ticket) expire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expired = true
	t.cond.Broadcast()
}

// wait blocks until notify or expire. A notification wins over expiry.
func (t *ticket) wait() (state.Stamp, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.notified && !t.expired {
		t.cond.Wait()
	}
	return t.stamp, t.notified
}

// WaitForChange blocks until the stamp of name differs from baseline and
// returns the new stamp. A change that happened before the call returns
// immediately. timeout <= 0 waits forever; otherwise ErrTimedOut is returned
// once it elapses.
func (r *Registry) WaitForChange(name state.Name, baseline state.Stamp, timeout time.Duration) (stamp state.Stamp, err error) {
	const kind = "change"
	defer r.metrics.WaitDuration(kind).ObserveDuration()

	ctx, span := r.tracer.Start(context.Background(), "notify.wait_for_change", trace.WithAttributes(
		attribute.String("notify.state", name.String()),
		attribute.Int64("notify.baseline", int64(baseline)),
		attribute.Int64("notify.timeout_ms", timeout.Milliseconds()),
	))
	defer func() { endSpan(span, ignoreTimeout(err)) }()

	stamp, err = r.waitForChange(ctx, name, baseline, timeout)
	r.metrics.Wait(kind, waitOutcome(err, WaitChanged))
	return stamp, err
}

func (r *Registry) waitForChange(ctx context.Context, name state.Name, baseline state.Stamp, timeout time.Duration) (state.Stamp, error) {
	t := newTicket()
	sub, err := r.Subscribe(ctx, name, ListenerFunc(func(d *Delivery) error {
		t.notify(d.Stamp())
		return ErrStop
	}), WithDeliverPolicy(DeliverLast), WithBaseline(baseline), WithName("wait"))
	if err != nil {
		return 0, err
	}
	defer func() { _ = sub.Unsubscribe(context.Background()) }()

	if timeout > 0 {
		timer := time.AfterFunc(timeout, t.expire)
		defer timer.Stop()
	}

	stamp, ok := t.wait()
	if !ok {
		return 0, fmt.Errorf("%w after %s waiting for %s to leave stamp %d", ErrTimedOut, timeout, name, baseline)
	}
	return stamp, nil
}

// WaitUntil blocks until pred accepts the current snapshot of name. It reads
// first and returns without subscribing if pred is already satisfied.
// timeout <= 0 waits forever.
func WaitUntil[T any](r *Registry, name state.Name, pred Predicate[T], timeout time.Duration) (v T, err error) {
	const kind = "until"
	defer r.metrics.WaitDuration(kind).ObserveDuration()

	ctx, span := r.tracer.Start(context.Background(), "notify.wait_until", trace.WithAttributes(
		attribute.String("notify.state", name.String()),
		attribute.Int64("notify.timeout_ms", timeout.Milliseconds()),
	))
	defer func() { endSpan(span, ignoreTimeout(err)) }()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		snap, err := r.ch.Read(ctx, name)
		if err != nil {
			r.metrics.Wait(kind, WaitFailed)
			return v, err
		}
		v, ok, err := pred(snap)
		if err != nil {
			r.metrics.Wait(kind, WaitFailed)
			return v, err
		}
		if ok {
			r.metrics.Wait(kind, WaitSatisfied)
			return v, nil
		}

		var remaining time.Duration
		if !deadline.IsZero() {
			if remaining = time.Until(deadline); remaining <= 0 {
				r.metrics.Wait(kind, WaitTimedOut)
				return v, fmt.Errorf("%w after %s waiting for %s", ErrTimedOut, timeout, name)
			}
		}
		if _, err := r.waitForChange(ctx, name, snap.Stamp, remaining); err != nil {
			if errors.Is(err, ErrTimedOut) {
				r.metrics.Wait(kind, WaitTimedOut)
				return v, fmt.Errorf("%w after %s waiting for %s", ErrTimedOut, timeout, name)
			}
			r.metrics.Wait(kind, WaitFailed)
			return v, err
		}
	}
}

// WaitUntilBoxed is WaitUntil for a type-erased Checker.
func WaitUntilBoxed(r *Registry, name state.Name, c Checker, timeout time.Duration) (any, error) {
	return WaitUntil[any](r, name, c.Check, timeout)
}

func waitOutcome(err error, ok WaitOutcome) WaitOutcome {
	switch {
	case err == nil:
		return ok
	case errors.Is(err, ErrTimedOut):
		return WaitTimedOut
	case errors.Is(err, context.Canceled):
		return WaitCancelled
	default:
		return WaitFailed
	}
}

func ignoreTimeout(err error) error {
	if errors.Is(err, ErrTimedOut) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

package notify

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/codewandler/notify-go/core/state"
)

// WaitForChangeContext is WaitForChange bounded by ctx instead of a timeout.
// A cancelled ctx yields context.Canceled; an expired deadline yields an
// error matching both ErrTimedOut and context.DeadlineExceeded. The
// transient subscription is gone when it returns.
func (r *Registry) WaitForChangeContext(ctx context.Context, name state.Name, baseline state.Stamp) (stamp state.Stamp, err error) {
	const kind = "change_ctx"
	defer r.metrics.WaitDuration(kind).ObserveDuration()

	ctx, span := r.tracer.Start(ctx, "notify.wait_for_change", trace.WithAttributes(
		attribute.String("notify.state", name.String()),
		attribute.Int64("notify.baseline", int64(baseline)),
		attribute.Bool("notify.async", true),
	))
	defer func() { endSpan(span, ignoreTimeout(err)) }()

	stamp, err = r.waitForChangeContext(ctx, name, baseline)
	r.metrics.Wait(kind, waitOutcome(err, WaitChanged))
	return stamp, err
}

func (r *Registry) waitForChangeContext(ctx context.Context, name state.Name, baseline state.Stamp) (state.Stamp, error) {
	if err := ctx.Err(); err != nil {
		return 0, contextError(err)
	}

	// The listener runs on a channel goroutine: hand the stamp over and return.
	wake := make(chan state.Stamp, 1)
	sub, err := r.Subscribe(ctx, name, ListenerFunc(func(d *Delivery) error {
		select {
		case wake <- d.Stamp():
		default:
		}
		return ErrStop
	}), WithDeliverPolicy(DeliverLast), WithBaseline(baseline), WithName("wait"))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, contextError(ctxErr)
		}
		return 0, err
	}
	defer func() { _ = sub.Unsubscribe(context.WithoutCancel(ctx)) }()

	select {
	case stamp := <-wake:
		return stamp, nil
	case <-ctx.Done():
		// A notification that raced the cancellation still counts.
		select {
		case stamp := <-wake:
			return stamp, nil
		default:
		}
		return 0, contextError(ctx.Err())
	}
}

// WaitUntilContext is WaitUntil bounded by ctx. It re-reads and re-subscribes
// on every change and can be cancelled at each suspension point.
func WaitUntilContext[T any](ctx context.Context, r *Registry, name state.Name, pred Predicate[T]) (v T, err error) {
	const kind = "until_ctx"
	defer r.metrics.WaitDuration(kind).ObserveDuration()

	ctx, span := r.tracer.Start(ctx, "notify.wait_until", trace.WithAttributes(
		attribute.String("notify.state", name.String()),
		attribute.Bool("notify.async", true),
	))
	defer func() { endSpan(span, ignoreTimeout(err)) }()
	defer func() { r.metrics.Wait(kind, waitOutcome(err, WaitSatisfied)) }()

	for {
		if err := ctx.Err(); err != nil {
			return v, contextError(err)
		}
		snap, err := r.ch.Read(ctx, name)
		if err != nil {
			return v, err
		}
		v, ok, err := pred(snap)
		if err != nil || ok {
			return v, err
		}
		if _, err := r.waitForChangeContext(ctx, name, snap.Stamp); err != nil {
			return v, err
		}
	}
}

// WaitUntilBoxedContext is WaitUntilContext for a type-erased Checker.
func WaitUntilBoxedContext(ctx context.Context, r *Registry, name state.Name, c Checker) (any, error) {
	return WaitUntilContext[any](ctx, r, name, c.Check)
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimedOut, err)
	}
	return err
}

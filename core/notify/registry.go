package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/codewandler/notify-go/core/state"
	"github.com/codewandler/notify-go/ports/channel"
)

const tracerName = "github.com/codewandler/notify-go/core/notify"

// Registry owns every subscription of a process on one channel.
type Registry struct {
	ch      channel.Channel
	log     *slog.Logger
	metrics Metrics
	tracer  trace.Tracer
	onError func(*CallbackError)

	prefix string
	seq    atomic.Uint64

	mu     sync.RWMutex
	subs   map[Token]*subscription
	byName map[state.Name]map[Token]*subscription
	closed bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Active        int
	Unsubscribing int
	Issued        uint64
	Delivered     uint64
	Dropped       uint64
	Failed        uint64
}

func NewRegistry(ch channel.Channel, opts ...RegistryOption) *Registry {
	o := registryOpts{
		log:     slog.Default(),
		metrics: NopMetrics(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt.applyToRegistry(&o)
	}

	prefix := "sub-" + gonanoid.Must(8) + "-"
	r := &Registry{
		ch:      ch,
		log:     o.log.With(slog.String("registry", prefix[4:len(prefix)-1])),
		metrics: o.metrics,
		tracer:  o.tracer,
		onError: o.onError,
		prefix:  prefix,
		subs:    make(map[Token]*subscription),
		byName:  make(map[state.Name]map[Token]*subscription),
	}
	if r.onError == nil {
		r.onError = r.logCallbackError
	}
	return r
}

func (r *Registry) Channel() channel.Channel { return r.ch }

// Subscribe registers l for changes of name. It fails with
// ErrRegistrationFailed, leaving nothing behind, if the channel refuses the
// registration.
func (r *Registry) Subscribe(ctx context.Context, name state.Name, l Listener, opts ...SubscribeOption) (_ *Subscription, err error) {
	o := subscribeOpts{log: r.log, policy: DeliverNew}
	for _, opt := range opts {
		opt.applyToSubscribe(&o)
	}

	ctx, span := r.tracer.Start(ctx, "notify.subscribe", trace.WithAttributes(
		attribute.String("notify.state", name.String()),
		attribute.String("notify.policy", o.policy.String()),
	))
	defer func() { endSpan(span, err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	after := o.baseline
	if o.policy == DeliverNew {
		info, err := r.ch.Info(ctx, name)
		if err != nil {
			r.metrics.RegistrationFailed()
			return nil, fmt.Errorf("%w: %s: %w", ErrRegistrationFailed, name, err)
		}
		if !info.Exists {
			r.metrics.RegistrationFailed()
			return nil, fmt.Errorf("%w: %s: %w", ErrRegistrationFailed, name, state.ErrNotFound)
		}
		after = info.Stamp
	}

	token := Token(r.prefix + strconv.FormatUint(r.seq.Add(1), 10))
	log := o.log.With(slog.String("subscription", string(token)), slog.String("state", name.String()))
	if o.name != "" {
		log = log.With(slog.String("listener", o.name))
	}
	s := &subscription{
		registry: r,
		token:    token,
		name:     name,
		listener: l,
		force:    o.force,
		log:      log,
		last:     after,
		done:     make(chan struct{}),
	}
	span.SetAttributes(attribute.String("notify.token", string(token)))

	// The subscription must be visible before the channel can call back.
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	r.subs[token] = s
	if r.byName[name] == nil {
		r.byName[name] = make(map[Token]*subscription)
	}
	r.byName[name][token] = s
	r.mu.Unlock()
	r.metrics.SubscriptionOpened()

	id, err := r.ch.Register(name, after, func(n channel.Notification) {
		r.dispatch(token, n)
	})
	if err != nil {
		s.life.Store(int32(Unsubscribing))
		r.remove(s)
		s.life.Store(int32(Dead))
		close(s.done)
		r.metrics.SubscriptionClosed()
		r.metrics.RegistrationFailed()
		return nil, fmt.Errorf("%w: %s: %w", ErrRegistrationFailed, name, err)
	}
	s.regID.Store(&id)
	if s.liveness() != Active {
		// Stopped by an early delivery before the id was known.
		r.unregister(s)
	}

	log.Debug("subscribed", slog.String("policy", o.policy.String()), after.SlogAttrWithKey("after"))
	return &Subscription{registry: r, token: token, name: name}, nil
}

// Unsubscribe ends the subscription identified by token. It returns once no
// delivery for token runs or will run, unless ctx belongs to a running
// delivery of that same subscription, in which case it returns immediately
// and the subscription dies when the delivery returns. Waiting stops when ctx
// is done; the subscription still dies once its delivery returns.
// Unsubscribing a dead subscription is a no-op.
//
// A listener unsubscribing itself must pass its delivery's Context, or a
// context derived from it. Any other context that never ends blocks forever.
func (r *Registry) Unsubscribe(ctx context.Context, token Token) (err error) {
	r.mu.RLock()
	s := r.subs[token]
	r.mu.RUnlock()

	if s == nil {
		if !r.issued(token) {
			return fmt.Errorf("%w: %s", ErrUnknownSubscription, token)
		}
		return nil
	}

	if d := runningDelivery(ctx); d != nil && d.sub == s {
		r.stopFromDelivery(s)
		return nil
	}

	ctx, span := r.tracer.Start(ctx, "notify.unsubscribe", trace.WithAttributes(
		attribute.String("notify.token", string(token)),
	))
	defer func() { endSpan(span, err) }()

	if stopped, idle := s.stop(); stopped {
		r.unregister(s)
		if idle {
			r.finalize(s)
			return nil
		}
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("unsubscribe %s: %w", token, ctx.Err())
	}
}

// Status reports the liveness of token.
func (r *Registry) Status(token Token) (Liveness, error) {
	r.mu.RLock()
	s := r.subs[token]
	r.mu.RUnlock()
	if s != nil {
		return s.liveness(), nil
	}
	if r.issued(token) {
		return Dead, nil
	}
	return Dead, fmt.Errorf("%w: %s", ErrUnknownSubscription, token)
}

// SubscribersPresent reports whether this registry has an active
// subscription on name.
func (r *Registry) SubscribersPresent(name state.Name) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byName[name] {
		if s.liveness() == Active {
			return true
		}
	}
	return false
}

func (r *Registry) Stats() Stats {
	st := Stats{
		Issued:    r.seq.Load(),
		Delivered: r.delivered.Load(),
		Dropped:   r.dropped.Load(),
		Failed:    r.failed.Load(),
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.subs {
		switch s.liveness() {
		case Active:
			st.Active++
		case Unsubscribing:
			st.Unsubscribing++
		}
	}
	return st
}

// Close unsubscribes everything and rejects new subscriptions. It must not be
// called from inside a listener.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	tokens := make([]Token, 0, len(r.subs))
	for t := range r.subs {
		tokens = append(tokens, t)
	}
	r.mu.Unlock()

	var errs []error
	for _, t := range tokens {
		if err := r.Unsubscribe(context.Background(), t); err != nil {
			errs = append(errs, err)
		}
	}
	r.log.Debug("closed", slog.Int("subscriptions", len(tokens)))
	return errors.Join(errs...)
}

func (r *Registry) issued(token Token) bool {
	rest, ok := strings.CutPrefix(string(token), r.prefix)
	if !ok {
		return false
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	return err == nil && n > 0 && n <= r.seq.Load()
}

// dispatch is the upcall from the channel.
func (r *Registry) dispatch(token Token, n channel.Notification) {
	r.mu.RLock()
	s := r.subs[token]
	r.mu.RUnlock()

	if s == nil {
		r.drop(DeliveryDropped)
		return
	}
	r.deliver(s, n)
}

func (r *Registry) deliver(s *subscription, n channel.Notification) {
	if s.liveness() != Active {
		r.drop(DeliveryDropped)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.begin() {
		r.drop(DeliveryDropped)
		return
	}
	if !s.accept(n.Stamp) {
		if s.end() {
			r.finalize(s)
		}
		r.drop(DeliveryDuplicate)
		return
	}

	ctx, span := r.tracer.Start(context.Background(), "notify.deliver", trace.WithAttributes(
		attribute.String("notify.token", string(s.token)),
		attribute.Int64("notify.stamp", int64(n.Stamp)),
	))
	d := &Delivery{
		log: s.log.With(n.Stamp.SlogAttr()),
		sub: s,
		n:   n,
	}
	d.ctx = context.WithValue(ctx, deliveryKey{}, d)
	d.running.Store(true)

	err := r.invoke(s, d)
	d.running.Store(false)
	s.last = n.Stamp
	s.delivered = true

	switch {
	case err == nil:
		r.delivered.Add(1)
		r.metrics.Delivery(DeliveryDelivered)
	case errors.Is(err, ErrStop):
		r.delivered.Add(1)
		r.metrics.Delivery(DeliveryDelivered)
		r.stopFromDelivery(s)
		err = nil
	default:
		r.failed.Add(1)
		cbErr := &CallbackError{Token: s.token, Name: s.name, Stamp: n.Stamp, Err: err}
		var pe *panicError
		if errors.As(err, &pe) {
			cbErr.Err = ErrCallbackPanicked
			cbErr.Recovered = pe.recovered
			cbErr.Stack = pe.stack
			r.metrics.Delivery(DeliveryPanicked)
		} else {
			r.metrics.Delivery(DeliveryFailed)
		}
		r.report(cbErr)
		err = cbErr
	}
	endSpan(span, err)

	if s.end() {
		r.finalize(s)
	}
}

type panicError struct {
	recovered any
	stack     []byte
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.recovered) }

func (r *Registry) invoke(s *subscription, d *Delivery) (err error) {
	defer r.metrics.DeliveryDuration().ObserveDuration()
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{recovered: rec, stack: debug.Stack()}
		}
	}()
	return s.listener.Handle(d)
}

func (r *Registry) report(e *CallbackError) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("error handler panicked", slog.Any("recovered", rec))
		}
	}()
	r.onError(e)
}

func (r *Registry) logCallbackError(e *CallbackError) {
	attrs := []any{
		slog.String("subscription", string(e.Token)),
		slog.String("state", e.Name.String()),
		e.Stamp.SlogAttr(),
		slog.Any("error", e.Err),
	}
	if e.Panicked() {
		attrs = append(attrs, slog.Any("recovered", e.Recovered), slog.String("stack", string(e.Stack)))
		r.log.Error("listener panicked", attrs...)
		return
	}
	r.log.Error("listener failed", attrs...)
}

func (r *Registry) drop(outcome DeliveryOutcome) {
	r.dropped.Add(1)
	r.metrics.Delivery(outcome)
}

// stopFromDelivery marks s as unsubscribing without waiting. A running
// delivery finalizes it when it returns; with none running it dies here.
func (r *Registry) stopFromDelivery(s *subscription) {
	stopped, idle := s.stop()
	if !stopped {
		return
	}
	r.unregister(s)
	if idle {
		r.finalize(s)
	}
}

func (r *Registry) unregister(s *subscription) {
	id := s.regID.Load()
	if id == nil {
		return
	}
	if err := r.ch.Unregister(*id); err != nil {
		s.log.Warn("unregister failed", slog.Any("error", err))
	}
}

func (r *Registry) remove(s *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, s.token)
	if m := r.byName[s.name]; m != nil {
		delete(m, s.token)
		if len(m) == 0 {
			delete(r.byName, s.name)
		}
	}
}

// finalize moves s to Dead. No delivery of s runs or will run.
func (r *Registry) finalize(s *subscription) {
	s.finalize.Do(func() {
		r.remove(s)
		s.life.Store(int32(Dead))
		close(s.done)
		r.metrics.SubscriptionClosed()
		s.log.Debug("unsubscribed", s.last.SlogAttrWithKey("last"))
	})
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

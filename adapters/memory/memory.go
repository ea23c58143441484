// Package memory is a process-local channel.Channel. Stamps start at 0 and
// advance by exactly one per write. Callbacks run on goroutines owned by the
// channel, never on the writer's goroutine.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/notify-go/core/perkey"
	"github.com/codewandler/notify-go/core/state"
	"github.com/codewandler/notify-go/ports/channel"
)

// DeliveryMode selects how notifications reach callbacks.
type DeliveryMode int

const (
	// DeliverOrdered runs the callbacks of one registration one at a time in
	// stamp order.
	DeliverOrdered DeliveryMode = iota
	// DeliverConcurrent starts a goroutine per notification. Callbacks of one
	// registration may overlap and observe stamps out of order.
	DeliverConcurrent
)

type Option func(*Channel)

func WithLog(log *slog.Logger) Option {
	return func(c *Channel) { c.log = log.With(slog.String("channel", "memory")) }
}

func WithDeliveryMode(mode DeliveryMode) Option {
	return func(c *Channel) { c.mode = mode }
}

// WithMaxPending bounds the notifications queued per registration in ordered
// mode. Beyond it the oldest queued notification is dropped; the newest
// stamp is always delivered.
func WithMaxPending(n int) Option {
	return func(c *Channel) { c.maxPending = n }
}

// WithOwnerTag fixes the owner tag used for allocated names.
func WithOwnerTag(tag uint32) Option {
	return func(c *Channel) { c.ownerTag = tag }
}

type Channel struct {
	mu     sync.RWMutex
	log    *slog.Logger
	closed bool

	states map[state.Name]*entry
	regs   map[channel.RegistrationID]*registration

	mode       DeliveryMode
	maxPending int
	sched      *perkey.Scheduler[channel.RegistrationID]
	ownerTag uint32
	nextID   atomic.Uint32
}

type entry struct {
	opts  channel.CreateOptions
	data  []byte
	stamp state.Stamp
	regs  map[channel.RegistrationID]*registration
}

type registration struct {
	id     channel.RegistrationID
	name   state.Name
	fn     channel.NotifyFunc
	active atomic.Bool
}

func New(opts ...Option) *Channel {
	c := &Channel{
		log:      slog.Default().With(slog.String("channel", "memory")),
		states:   make(map[state.Name]*entry),
		regs:     make(map[channel.RegistrationID]*registration),
		ownerTag: rand.Uint32(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sched = perkey.New[channel.RegistrationID](perkey.WithMaxPending(c.maxPending))
	return c
}

func (c *Channel) Create(ctx context.Context, opts channel.CreateOptions) (state.Name, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, channel.ErrClosed
	}

	name := opts.Name
	if name != 0 {
		if _, err := name.Descriptor(); err != nil {
			return 0, err
		}
		if _, ok := c.states[name]; ok {
			return name, nil
		}
	} else {
		for {
			n, err := state.NewName(state.Descriptor{
				Version:   1,
				Lifetime:  opts.Lifetime,
				Scope:     opts.Scope,
				Permanent: opts.PersistData,
				UniqueID:  c.nextID.Add(1) & 0x1FFFFF,
				OwnerTag:  c.ownerTag,
			})
			if err != nil {
				return 0, err
			}
			if _, taken := c.states[n]; !taken {
				name = n
				break
			}
		}
	}

	c.states[name] = &entry{
		opts: opts,
		regs: make(map[channel.RegistrationID]*registration),
	}
	c.log.Debug("created", slog.String("name", name.String()), slog.String("lifetime", opts.Lifetime.String()))
	return name, nil
}

func (c *Channel) Delete(ctx context.Context, name state.Name) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return channel.ErrClosed
	}

	e, ok := c.states[name]
	if !ok {
		return fmt.Errorf("delete %s: %w", name, state.ErrNotFound)
	}
	for id, r := range e.regs {
		r.active.Store(false)
		delete(c.regs, id)
	}
	delete(c.states, name)
	c.log.Debug("deleted", slog.String("name", name.String()))
	return nil
}

func (c *Channel) Read(ctx context.Context, name state.Name) (state.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return state.Snapshot{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return state.Snapshot{}, channel.ErrClosed
	}

	e, ok := c.states[name]
	if !ok {
		return state.Snapshot{}, fmt.Errorf("read %s: %w", name, state.ErrNotFound)
	}
	return state.Snapshot{Name: name, Data: bytes.Clone(e.data), Stamp: e.stamp}, nil
}

func (c *Channel) Write(ctx context.Context, name state.Name, data []byte, expected *state.Stamp) (state.Stamp, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, channel.ErrClosed
	}
	e, ok := c.states[name]
	if !ok {
		c.mu.Unlock()
		return 0, fmt.Errorf("write %s: %w", name, state.ErrNotFound)
	}
	if limit := e.opts.Limit(); len(data) > limit {
		c.mu.Unlock()
		return 0, fmt.Errorf("write %s: %d > %d bytes: %w", name, len(data), limit, state.ErrTooLarge)
	}
	if expected != nil && *expected != e.stamp {
		current := e.stamp
		c.mu.Unlock()
		return 0, fmt.Errorf("write %s: expected stamp %d, current %d: %w", name, *expected, current, state.ErrConflict)
	}

	e.stamp++
	e.data = bytes.Clone(data)
	n := channel.Notification{Name: name, Stamp: e.stamp, Data: e.data}
	targets := make([]*registration, 0, len(e.regs))
	for _, r := range e.regs {
		targets = append(targets, r)
	}
	c.mu.Unlock()

	// Notify outside the lock; callbacks may call back into the channel.
	for _, r := range targets {
		c.deliver(r, n)
	}
	return n.Stamp, nil
}

func (c *Channel) Info(ctx context.Context, name state.Name) (state.Info, error) {
	if err := ctx.Err(); err != nil {
		return state.Info{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return state.Info{}, channel.ErrClosed
	}

	e, ok := c.states[name]
	if !ok {
		return state.Info{Name: name}, nil
	}
	return state.Info{
		Name:               name,
		Exists:             true,
		Stamp:              e.stamp,
		Size:               len(e.data),
		SubscribersPresent: len(e.regs) > 0,
	}, nil
}

func (c *Channel) Register(name state.Name, after state.Stamp, fn channel.NotifyFunc) (channel.RegistrationID, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", channel.ErrClosed
	}
	e, ok := c.states[name]
	if !ok {
		c.mu.Unlock()
		return "", fmt.Errorf("register %s: %w", name, state.ErrNotFound)
	}

	r := &registration{
		id:   channel.RegistrationID("reg-" + gonanoid.Must()),
		name: name,
		fn:   fn,
	}
	r.active.Store(true)
	e.regs[r.id] = r
	c.regs[r.id] = r

	pending := e.stamp != after
	n := channel.Notification{Name: name, Stamp: e.stamp, Data: e.data}
	c.mu.Unlock()

	c.log.Debug("registered",
		slog.String("registration", string(r.id)),
		slog.String("name", name.String()),
		after.SlogAttrWithKey("after"),
	)

	if pending {
		c.deliver(r, n)
	}
	return r.id, nil
}

func (c *Channel) Unregister(id channel.RegistrationID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.regs[id]
	if !ok {
		return nil
	}
	r.active.Store(false)
	delete(c.regs, id)
	if e, ok := c.states[r.name]; ok {
		delete(e.regs, id)
	}
	c.log.Debug("unregistered", slog.String("registration", string(id)))
	return nil
}

// Close disarms all callbacks and waits for queued ordered deliveries to
// finish. It must not be called from inside a callback.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for id, r := range c.regs {
		r.active.Store(false)
		delete(c.regs, id)
	}
	c.states = make(map[state.Name]*entry)
	c.mu.Unlock()

	c.sched.Close()
	c.log.Debug("closed", slog.Int("dropped", c.sched.Dropped()))
	return nil
}

// Dropped reports how many queued notifications WithMaxPending discarded.
func (c *Channel) Dropped() int { return c.sched.Dropped() }

func (c *Channel) deliver(r *registration, n channel.Notification) {
	run := func() {
		if r.active.Load() {
			r.fn(n)
		}
	}

	switch c.mode {
	case DeliverConcurrent:
		go run()
	default:
		if err := c.sched.Go(r.id, run); err != nil {
			c.log.Debug("notification dropped",
				slog.String("registration", string(r.id)),
				n.Stamp.SlogAttr(),
				slog.Any("error", err),
			)
		}
	}
}

var _ channel.Channel = (*Channel)(nil)

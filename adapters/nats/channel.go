package nats

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/notify-go/core/sf"
	"github.com/codewandler/notify-go/core/state"
	"github.com/codewandler/notify-go/ports/channel"
)

const (
	DefaultBucket = "notify_states"

	createAttempts = 16
	readTimeout    = 10 * time.Second
)

type ChannelConfig struct {
	Connect Connector
	Bucket  string
	// Storage defaults to jetstream.FileStorage.
	Storage jetstream.StorageType
	Log     *slog.Logger
	// OwnerTag is stamped into allocated names. Zero picks a random tag.
	OwnerTag uint32
}

// Channel is a channel.Channel backed by a JetStream key/value bucket, so
// processes connected to the same NATS server share states and see each
// other's writes.
type Channel struct {
	kv       jetstream.KeyValue
	log      *slog.Logger
	release  closeFunc
	ownerTag uint32

	reads sf.Group[jetstream.KeyValueEntry]

	mu     sync.Mutex
	closed bool
	regs   map[channel.RegistrationID]*registration
}

type registration struct {
	id      channel.RegistrationID
	name    state.Name
	fn      channel.NotifyFunc
	active  atomic.Bool
	cancel  context.CancelFunc
	watcher jetstream.KeyWatcher
}

func NewChannel(cfg ChannelConfig) (*Channel, error) {
	connect := cfg.Connect
	if connect == nil {
		connect = ConnectDefault()
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = DefaultBucket
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	ownerTag := cfg.OwnerTag
	if ownerTag == 0 {
		ownerTag = rand.Uint32()
	}

	nc, release, err := connect()
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		release()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:       bucket,
		Description:  "notify-go state channel",
		MaxValueSize: headerSize + state.MaxStateSize,
		History:      1,
		Storage:      cfg.Storage,
	})
	if err != nil {
		release()
		return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
	}

	return &Channel{
		kv:       kv,
		log:      log.With(slog.String("channel", "nats"), slog.String("bucket", bucket)),
		release:  release,
		ownerTag: ownerTag,
		regs:     make(map[channel.RegistrationID]*registration),
	}, nil
}

func (c *Channel) Create(ctx context.Context, opts channel.CreateOptions) (state.Name, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	initial := record{limit: opts.Limit()}.encode()

	if opts.Name != 0 {
		if _, err := opts.Name.Descriptor(); err != nil {
			return 0, err
		}
		_, err := c.kv.Create(ctx, keyFor(opts.Name), initial)
		if err != nil && !isWrongSequence(err) {
			return 0, fmt.Errorf("create %s: %w", opts.Name, err)
		}
		c.reads.Forget(keyFor(opts.Name))
		return opts.Name, nil
	}

	for range createAttempts {
		name, err := state.NewName(state.Descriptor{
			Version:   1,
			Lifetime:  opts.Lifetime,
			Scope:     opts.Scope,
			Permanent: opts.PersistData,
			UniqueID:  rand.Uint32N(1 << 21),
			OwnerTag:  c.ownerTag,
		})
		if err != nil {
			return 0, err
		}
		_, err = c.kv.Create(ctx, keyFor(name), initial)
		if isWrongSequence(err) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("create %s: %w", name, err)
		}
		c.reads.Forget(keyFor(name))
		c.log.Debug("created", slog.String("name", name.String()), slog.String("lifetime", opts.Lifetime.String()))
		return name, nil
	}
	return 0, fmt.Errorf("create: no free name after %d attempts", createAttempts)
}

func (c *Channel) Delete(ctx context.Context, name state.Name) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	key := keyFor(name)

	// Delete only the revision seen here, so a racing delete reports
	// ErrNotFound to one of the callers.
	for {
		entry, err := c.kv.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("delete %s: %w", name, mapNotFound(err))
		}
		err = c.kv.Delete(ctx, key, jetstream.LastRevision(entry.Revision()))
		if err == nil {
			break
		}
		if !isWrongSequence(err) {
			return fmt.Errorf("delete %s: %w", name, err)
		}
	}
	c.reads.Forget(key)

	c.mu.Lock()
	for id, r := range c.regs {
		if r.name == name {
			c.stopLocked(id, r)
		}
	}
	c.mu.Unlock()
	c.log.Debug("deleted", slog.String("name", name.String()))
	return nil
}

func (c *Channel) Read(ctx context.Context, name state.Name) (state.Snapshot, error) {
	if err := c.checkOpen(); err != nil {
		return state.Snapshot{}, err
	}
	entry, err := c.get(ctx, name)
	if err != nil {
		return state.Snapshot{}, fmt.Errorf("read %s: %w", name, err)
	}
	rec, err := decodeRecord(entry.Value())
	if err != nil {
		return state.Snapshot{}, fmt.Errorf("read %s: %w", name, err)
	}
	return state.Snapshot{Name: name, Data: bytes.Clone(rec.data), Stamp: rec.stamp}, nil
}

func (c *Channel) Write(ctx context.Context, name state.Name, data []byte, expected *state.Stamp) (state.Stamp, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}

	for {
		entry, err := c.kv.Get(ctx, keyFor(name))
		if err != nil {
			return 0, fmt.Errorf("write %s: %w", name, mapNotFound(err))
		}
		rec, err := decodeRecord(entry.Value())
		if err != nil {
			return 0, fmt.Errorf("write %s: %w", name, err)
		}
		if len(data) > rec.limit {
			return 0, fmt.Errorf("write %s: %d > %d bytes: %w", name, len(data), rec.limit, state.ErrTooLarge)
		}
		if expected != nil && *expected != rec.stamp {
			return 0, fmt.Errorf("write %s: expected stamp %d, current %d: %w", name, *expected, rec.stamp, state.ErrConflict)
		}

		next := record{stamp: rec.stamp + 1, limit: rec.limit, data: data}
		_, err = c.kv.Update(ctx, keyFor(name), next.encode(), entry.Revision())
		if err == nil {
			// Reads in flight may predate this write; later ones must not join them.
			c.reads.Forget(keyFor(name))
			return next.stamp, nil
		}
		if !isWrongSequence(err) {
			return 0, fmt.Errorf("write %s: %w", name, err)
		}
		// Lost a race with another writer; the next round re-checks the stamp.
		c.log.Debug("write raced", slog.String("name", name.String()), rec.stamp.SlogAttr())
	}
}

func (c *Channel) Info(ctx context.Context, name state.Name) (state.Info, error) {
	if err := c.checkOpen(); err != nil {
		return state.Info{}, err
	}
	info := state.Info{Name: name}

	entry, err := c.get(ctx, name)
	if errors.Is(err, state.ErrNotFound) {
		return info, nil
	}
	if err != nil {
		return info, fmt.Errorf("info %s: %w", name, err)
	}
	rec, err := decodeRecord(entry.Value())
	if err != nil {
		return info, fmt.Errorf("info %s: %w", name, err)
	}

	info.Exists = true
	info.Stamp = rec.stamp
	info.Size = len(rec.data)

	c.mu.Lock()
	for _, r := range c.regs {
		if r.name == name {
			info.SubscribersPresent = true
			break
		}
	}
	c.mu.Unlock()
	return info, nil
}

// Register watches the state's key. The watcher replays the current value
// first, which delivers a pending change if its stamp differs from after.
func (c *Channel) Register(name state.Name, after state.Stamp, fn channel.NotifyFunc) (channel.RegistrationID, error) {
	ctx, cancel := context.WithCancel(context.Background())

	if _, err := c.get(ctx, name); err != nil {
		cancel()
		return "", fmt.Errorf("register %s: %w", name, err)
	}

	w, err := c.kv.Watch(ctx, keyFor(name))
	if err != nil {
		cancel()
		return "", fmt.Errorf("register %s: %w", name, err)
	}

	r := &registration{
		id:      channel.RegistrationID("reg-" + gonanoid.Must()),
		name:    name,
		fn:      fn,
		cancel:  cancel,
		watcher: w,
	}
	r.active.Store(true)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = w.Stop()
		cancel()
		return "", channel.ErrClosed
	}
	c.regs[r.id] = r
	c.mu.Unlock()

	go c.pump(r, after)

	c.log.Debug("registered",
		slog.String("registration", string(r.id)),
		slog.String("name", name.String()),
		after.SlogAttrWithKey("after"),
	)
	return r.id, nil
}

func (c *Channel) pump(r *registration, after state.Stamp) {
	log := c.log.With(slog.String("registration", string(r.id)))
	last := after
	for entry := range r.watcher.Updates() {
		if !r.active.Load() {
			return
		}
		// nil marks the end of the initial replay.
		if entry == nil || entry.Operation() != jetstream.KeyValuePut {
			continue
		}
		rec, err := decodeRecord(entry.Value())
		if err != nil {
			log.Error("skipping corrupt record", slog.Uint64("revision", entry.Revision()), slog.Any("error", err))
			continue
		}
		if rec.stamp == last {
			continue
		}
		last = rec.stamp
		r.fn(channel.Notification{Name: r.name, Stamp: rec.stamp, Data: rec.data})
	}
}

func (c *Channel) Unregister(id channel.RegistrationID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.regs[id]; ok {
		c.stopLocked(id, r)
		c.log.Debug("unregistered", slog.String("registration", string(id)))
	}
	return nil
}

func (c *Channel) stopLocked(id channel.RegistrationID, r *registration) {
	r.active.Store(false)
	delete(c.regs, id)
	_ = r.watcher.Stop()
	r.cancel()
}

func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for id, r := range c.regs {
		c.stopLocked(id, r)
	}
	c.mu.Unlock()

	c.release()
	c.log.Debug("closed")
	return nil
}

func (c *Channel) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return channel.ErrClosed
	}
	return nil
}

// get collapses concurrent reads of the same key into one round trip. The
// shared call is detached from any single caller's cancellation; each caller
// stops waiting on its own ctx.
func (c *Channel) get(ctx context.Context, name state.Name) (jetstream.KeyValueEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := keyFor(name)
	res := c.reads.DoChan(key, func() (jetstream.KeyValueEntry, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), readTimeout)
		defer cancel()
		return c.kv.Get(ctx, key)
	})
	select {
	case r := <-res:
		return r.Val, mapNotFound(r.Err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return state.ErrNotFound
	}
	return err
}

func isWrongSequence(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

var _ channel.Channel = (*Channel)(nil)

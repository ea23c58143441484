package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codewandler/notify-go/core/notify"
	"github.com/codewandler/notify-go/core/state"
	"github.com/codewandler/notify-go/ports/channel"
)

var ErrClosed = errors.New("process closed")

type Config struct {
	Channel channel.Channel
	Log     *slog.Logger
	// Registry options are passed to notify.NewRegistry. The process logger
	// is prepended and may be overridden.
	Registry []notify.RegistryOption
	// KeepProcessLocal leaves process-local states in place on Close.
	KeepProcessLocal bool
}

type Process struct {
	ch       channel.Channel
	log      *slog.Logger
	registry *notify.Registry
	ledger   *notify.Ledger
	keep     bool

	mu     sync.Mutex
	local  map[state.Name]struct{}
	closed bool
}

func New(cfg Config) (*Process, error) {
	if cfg.Channel == nil {
		return nil, errors.New("process: channel is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	regOpts := append([]notify.RegistryOption{notify.WithLog(cfg.Log)}, cfg.Registry...)
	return &Process{
		ch:       cfg.Channel,
		log:      cfg.Log,
		registry: notify.NewRegistry(cfg.Channel, regOpts...),
		ledger:   notify.NewLedger(),
		keep:     cfg.KeepProcessLocal,
		local:    make(map[state.Name]struct{}),
	}, nil
}

func (p *Process) Registry() *notify.Registry { return p.registry }
func (p *Process) Ledger() *notify.Ledger     { return p.ledger }
func (p *Process) Channel() channel.Channel   { return p.ch }

// Create provisions a new state and returns an owning handle.
func (p *Process) Create(ctx context.Context, opts channel.CreateOptions) (state.Handle, error) {
	if err := p.checkOpen(); err != nil {
		return state.Handle{}, err
	}
	name, err := p.ch.Create(ctx, opts)
	if err != nil {
		return state.Handle{}, err
	}
	h := state.Handle{Name: name, Ownership: ownershipFor(opts)}

	if h.Ownership == state.OwnershipProcessLocal {
		p.mu.Lock()
		p.local[name] = struct{}{}
		p.mu.Unlock()
	}
	p.log.Debug("state created", h.SlogAttr())
	return h, nil
}

// CreateTemporary provisions a process-local temporary state.
func (p *Process) CreateTemporary(ctx context.Context) (state.Handle, error) {
	return p.Create(ctx, channel.CreateOptions{
		Lifetime: state.LifetimeTemporary,
		Scope:    state.ScopeProcess,
	})
}

// CreateWellKnown makes sure the well-known state for label exists and
// returns a non-owning handle to it.
func (p *Process) CreateWellKnown(ctx context.Context, label string) (state.Handle, error) {
	if err := p.checkOpen(); err != nil {
		return state.Handle{}, err
	}
	name := state.WellKnownName(label)
	if _, err := p.ch.Create(ctx, channel.CreateOptions{
		Name:     name,
		Lifetime: state.LifetimeWellKnown,
		Scope:    state.ScopeMachine,
	}); err != nil {
		return state.Handle{}, fmt.Errorf("create well-known %q: %w", label, err)
	}
	return state.WellKnown(name), nil
}

// Open references an existing state this process does not own.
func (p *Process) Open(name state.Name) state.Handle { return state.WellKnown(name) }

func (p *Process) Delete(ctx context.Context, h state.Handle) error {
	if !h.Owned() {
		return fmt.Errorf("delete %s: %w", h, state.ErrNotOwned)
	}
	if err := p.checkOpen(); err != nil {
		return err
	}
	if err := p.ch.Delete(ctx, h.Name); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.local, h.Name)
	p.mu.Unlock()
	p.ledger.Forget(h.Name)
	p.log.Debug("state deleted", h.SlogAttr())
	return nil
}

// Read returns the current snapshot and records its stamp in the ledger.
func (p *Process) Read(ctx context.Context, h state.Handle) (state.Snapshot, error) {
	if err := p.checkOpen(); err != nil {
		return state.Snapshot{}, err
	}
	snap, err := p.ch.Read(ctx, h.Name)
	if err != nil {
		return state.Snapshot{}, err
	}
	p.ledger.Observe(h.Name, snap.Stamp)
	return snap, nil
}

// ReadIfChanged transfers the data only if the stamp moved since this
// process last observed it. Without a change the returned snapshot carries
// the current stamp and no data.
func (p *Process) ReadIfChanged(ctx context.Context, h state.Handle) (snap state.Snapshot, changed bool, err error) {
	if err := p.checkOpen(); err != nil {
		return state.Snapshot{}, false, err
	}
	info, err := p.ch.Info(ctx, h.Name)
	if err != nil {
		return state.Snapshot{}, false, err
	}
	if !info.Exists {
		return state.Snapshot{}, false, fmt.Errorf("read %s: %w", h, state.ErrNotFound)
	}
	if !p.ledger.IsStale(h.Name, info.Stamp) {
		return state.Snapshot{Name: h.Name, Stamp: info.Stamp}, false, nil
	}
	snap, err = p.Read(ctx, h)
	if err != nil {
		return state.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (p *Process) Write(ctx context.Context, h state.Handle, data []byte) (state.Stamp, error) {
	if err := p.checkOpen(); err != nil {
		return 0, err
	}
	stamp, err := p.ch.Write(ctx, h.Name, data, nil)
	if err != nil {
		return 0, err
	}
	p.ledger.Observe(h.Name, stamp)
	return stamp, nil
}

// Update writes data only if the state is still at expected. A lost race
// is reported as ok=false without an error.
func (p *Process) Update(ctx context.Context, h state.Handle, data []byte, expected state.Stamp) (stamp state.Stamp, ok bool, err error) {
	if err := p.checkOpen(); err != nil {
		return 0, false, err
	}
	stamp, err = p.ch.Write(ctx, h.Name, data, &expected)
	if errors.Is(err, state.ErrConflict) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	p.ledger.Observe(h.Name, stamp)
	return stamp, true, nil
}

func (p *Process) Info(ctx context.Context, h state.Handle) (state.Info, error) {
	if err := p.checkOpen(); err != nil {
		return state.Info{}, err
	}
	return p.ch.Info(ctx, h.Name)
}

func (p *Process) Exists(ctx context.Context, h state.Handle) (bool, error) {
	info, err := p.Info(ctx, h)
	return info.Exists, err
}

// SubscribersPresent reports whether anybody, in this process or, where
// the channel can tell, elsewhere, is subscribed to h.
func (p *Process) SubscribersPresent(ctx context.Context, h state.Handle) (bool, error) {
	if p.registry.SubscribersPresent(h.Name) {
		return true, nil
	}
	info, err := p.Info(ctx, h)
	return info.SubscribersPresent, err
}

// IsQuiescent reports whether h exists and nobody listens to it.
func (p *Process) IsQuiescent(ctx context.Context, h state.Handle) (bool, error) {
	info, err := p.Info(ctx, h)
	if err != nil {
		return false, err
	}
	return info.Quiescent() && !p.registry.SubscribersPresent(h.Name), nil
}

func (p *Process) Subscribe(ctx context.Context, h state.Handle, l notify.Listener, opts ...notify.SubscribeOption) (*notify.Subscription, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	return p.registry.Subscribe(ctx, h.Name, l, opts...)
}

// Close ends every subscription and deletes process-local states.
func (p *Process) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	local := make([]state.Name, 0, len(p.local))
	for name := range p.local {
		local = append(local, name)
	}
	p.local = nil
	p.mu.Unlock()

	errs := []error{p.registry.Close()}
	if !p.keep {
		ctx := context.Background()
		for _, name := range local {
			if err := p.ch.Delete(ctx, name); err != nil && !errors.Is(err, state.ErrNotFound) {
				errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
			}
		}
	}
	p.log.Debug("process closed", slog.Int("deleted", len(local)))
	return errors.Join(errs...)
}

func (p *Process) checkOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return nil
}

func ownershipFor(opts channel.CreateOptions) state.Ownership {
	switch {
	case opts.Lifetime == state.LifetimeWellKnown && opts.Name != 0:
		return state.OwnershipWellKnown
	case opts.Scope == state.ScopeProcess:
		return state.OwnershipProcessLocal
	case opts.PersistData || opts.Lifetime == state.LifetimePermanent || opts.Lifetime == state.LifetimePersistent:
		return state.OwnershipPermanent
	default:
		return state.OwnershipTemporary
	}
}

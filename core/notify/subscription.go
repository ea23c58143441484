package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/codewandler/notify-go/core/state"
	"github.com/codewandler/notify-go/ports/channel"
)

// Token identifies a subscription for its whole lifetime, including after it
// is dead.
type Token string

// Liveness is a subscription's lifecycle state.
type Liveness int32

const (
	Active Liveness = iota
	Unsubscribing
	Dead
)

func (l Liveness) String() string {
	switch l {
	case Active:
		return "active"
	case Unsubscribing:
		return "unsubscribing"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Subscription is the caller's reference to a registered listener.
type Subscription struct {
	registry *Registry
	token    Token
	name     state.Name
}

func (s *Subscription) Token() Token     { return s.token }
func (s *Subscription) Name() state.Name { return s.name }

// Unsubscribe is Registry.Unsubscribe for this subscription.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	return s.registry.Unsubscribe(ctx, s.token)
}

func (s *Subscription) Status() Liveness {
	l, _ := s.registry.Status(s.token)
	return l
}

type subscription struct {
	registry *Registry
	token    Token
	name     state.Name
	listener Listener
	force    bool
	log      *slog.Logger

	regID atomic.Pointer[channel.RegistrationID]
	life  atomic.Int32

	// mu is held for the duration of a delivery.
	mu        sync.Mutex
	last      state.Stamp
	delivered bool

	// gate orders liveness transitions against the start and end of a
	// delivery.
	gate    sync.Mutex
	running bool

	done     chan struct{}
	finalize sync.Once
}

func (s *subscription) liveness() Liveness { return Liveness(s.life.Load()) }

// begin marks a delivery as running. It fails once s has left Active.
func (s *subscription) begin() bool {
	s.gate.Lock()
	defer s.gate.Unlock()
	if s.liveness() != Active {
		return false
	}
	s.running = true
	return true
}

// end clears the running mark and reports whether s was stopped meanwhile,
// in which case the caller finalizes it.
func (s *subscription) end() (stopped bool) {
	s.gate.Lock()
	defer s.gate.Unlock()
	s.running = false
	return s.liveness() != Active
}

// stop moves s from Active to Unsubscribing. idle reports that no delivery
// was running at that moment, so finalizing is up to the caller; otherwise
// the running delivery finalizes s when it ends.
func (s *subscription) stop() (stopped, idle bool) {
	s.gate.Lock()
	defer s.gate.Unlock()
	stopped = s.life.CompareAndSwap(int32(Active), int32(Unsubscribing))
	return stopped, !s.running
}

// accept reports whether stamp should be delivered. The first delivery only
// needs to differ from the baseline; later ones must be newer than the last
// delivered stamp. Caller holds s.mu.
func (s *subscription) accept(stamp state.Stamp) bool {
	if s.force {
		return true
	}
	if !s.delivered {
		return stamp != s.last
	}
	return stamp.After(s.last)
}

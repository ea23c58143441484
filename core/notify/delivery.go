package notify

import (
	"bytes"
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/codewandler/notify-go/core/state"
	"github.com/codewandler/notify-go/ports/channel"
)

// Listener handles deliveries for one subscription. Handle is never called
// concurrently for the same subscription. Returning ErrStop ends the
// subscription; any other error is reported and delivery continues.
type Listener interface {
	Handle(d *Delivery) error
}

type ListenerFunc func(d *Delivery) error

func (f ListenerFunc) Handle(d *Delivery) error { return f(d) }

// Delivery is one invocation of a listener. It is only valid during Handle.
type Delivery struct {
	ctx context.Context
	log *slog.Logger
	sub *subscription
	n   channel.Notification

	running atomic.Bool
}

type deliveryKey struct{}

// Context is marked as belonging to this delivery. Passing it to
// Registry.Unsubscribe for the same token while Handle runs does not wait on
// the delivery. Once Handle returned it is an ordinary context.
func (d *Delivery) Context() context.Context { return d.ctx }
func (d *Delivery) Log() *slog.Logger        { return d.log }
func (d *Delivery) Token() Token             { return d.sub.token }
func (d *Delivery) Name() state.Name         { return d.n.Name }
func (d *Delivery) Stamp() state.Stamp       { return d.n.Stamp }

// Data is the payload written at Stamp. It must not be modified or retained.
func (d *Delivery) Data() []byte { return d.n.Data }

// Snapshot copies the delivered payload.
func (d *Delivery) Snapshot() state.Snapshot {
	return state.Snapshot{Name: d.n.Name, Data: bytes.Clone(d.n.Data), Stamp: d.n.Stamp}
}

// Unsubscribe ends the subscription. Called during Handle it takes effect
// when the delivery returns.
func (d *Delivery) Unsubscribe() {
	d.sub.registry.stopFromDelivery(d.sub)
}

// runningDelivery returns the delivery ctx belongs to if its Handle is still
// running.
func runningDelivery(ctx context.Context) *Delivery {
	if ctx == nil {
		return nil
	}
	d, _ := ctx.Value(deliveryKey{}).(*Delivery)
	if d == nil || !d.running.Load() {
		return nil
	}
	return d
}

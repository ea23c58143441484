package notify

import "github.com/codewandler/notify-go/core/metrics"

// DeliveryOutcome classifies what happened to one notification.
type DeliveryOutcome string

const (
	DeliveryDelivered DeliveryOutcome = "delivered"
	// DeliveryDropped: the subscription was no longer active.
	DeliveryDropped DeliveryOutcome = "dropped"
	// DeliveryDuplicate: the stamp was not newer than the last delivered one.
	DeliveryDuplicate DeliveryOutcome = "duplicate"
	DeliveryFailed    DeliveryOutcome = "failed"
	DeliveryPanicked  DeliveryOutcome = "panicked"
)

// WaitOutcome classifies how a wait ended.
type WaitOutcome string

const (
	WaitChanged   WaitOutcome = "changed"
	WaitSatisfied WaitOutcome = "satisfied"
	WaitTimedOut  WaitOutcome = "timed_out"
	WaitCancelled WaitOutcome = "cancelled"
	WaitFailed    WaitOutcome = "failed"
)

// Metrics receives registry instrumentation. Implementations must be safe for
// concurrent use.
type Metrics interface {
	SubscriptionOpened()
	SubscriptionClosed()
	RegistrationFailed()

	DeliveryDuration() metrics.Timer
	Delivery(outcome DeliveryOutcome)

	WaitDuration(kind string) metrics.Timer
	Wait(kind string, outcome WaitOutcome)
}

type nopMetrics struct{}

func (nopMetrics) SubscriptionOpened() {}
func (nopMetrics) SubscriptionClosed() {}
func (nopMetrics) RegistrationFailed() {}

func (nopMetrics) DeliveryDuration() metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) Delivery(DeliveryOutcome)        {}

func (nopMetrics) WaitDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) Wait(string, WaitOutcome)          {}

// NopMetrics returns a Metrics that discards everything.
func NopMetrics() Metrics { return nopMetrics{} }

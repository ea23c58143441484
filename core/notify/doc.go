// Package notify delivers state change notifications to subscribers and
// builds blocking and context-aware waits on top of them.
//
// A [Registry] sits on top of a channel.Channel. Each subscription registers
// exactly one callback with the channel; the channel invokes it on goroutines
// it owns and the registry routes the notification to the subscriber's
// [Listener]. Deliveries to one subscription never overlap and never go
// backwards in stamp order. Deliveries to different subscriptions run
// independently.
//
// # Lifecycle
//
// A subscription is Active until someone unsubscribes it, becomes
// Unsubscribing while a delivery may still be running, and is Dead once no
// delivery runs and none ever will. Unsubscribe from another goroutine waits
// for the in-flight delivery. Inside a listener use [Delivery.Unsubscribe],
// return [ErrStop], or pass [Delivery.Context] to [Registry.Unsubscribe]; none
// of those wait on the running delivery.
//
// # Waits
//
// [Registry.WaitForChange] and [WaitUntil] block the calling goroutine with an
// optional timeout. [Registry.WaitForChangeContext] and [WaitUntilContext]
// stop when the context is done instead. Every wait owns a transient
// subscription that is Dead when the wait returns.
package notify

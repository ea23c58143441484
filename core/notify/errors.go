package notify

import (
	"errors"
	"fmt"

	"github.com/codewandler/notify-go/core/state"
)

var (
	ErrTimedOut            = errors.New("wait timed out")
	ErrRegistrationFailed  = errors.New("registration failed")
	ErrCallbackPanicked    = errors.New("callback panicked")
	ErrUnknownSubscription = errors.New("unknown subscription")
	ErrRegistryClosed      = errors.New("registry closed")

	// ErrStop is returned by a Listener to end its own subscription.
	ErrStop = errors.New("stop subscription")
)

// CallbackError reports a listener that failed or panicked during a delivery.
// The subscription stays active.
type CallbackError struct {
	Token Token
	Name  state.Name
	Stamp state.Stamp
	// Err is the listener's error, or ErrCallbackPanicked.
	Err error
	// Recovered and Stack are set for panics.
	Recovered any
	Stack     []byte
}

func (e *CallbackError) Error() string {
	if e.Recovered != nil {
		return fmt.Sprintf("subscription %s: delivery of stamp %d for %s: %v: %v", e.Token, e.Stamp, e.Name, e.Err, e.Recovered)
	}
	return fmt.Sprintf("subscription %s: delivery of stamp %d for %s: %v", e.Token, e.Stamp, e.Name, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// Panicked reports whether the listener panicked.
func (e *CallbackError) Panicked() bool { return errors.Is(e.Err, ErrCallbackPanicked) }

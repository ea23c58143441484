package notify

import (
	"sync"

	"github.com/codewandler/notify-go/core/state"
)

// Ledger remembers the last stamp observed per state. It is used for
// compare-and-retrieve reads and staleness checks.
type Ledger struct {
	mu     sync.RWMutex
	stamps map[state.Name]state.Stamp
}

func NewLedger() *Ledger {
	return &Ledger{stamps: make(map[state.Name]state.Stamp)}
}

// Observe records stamp for name and reports whether it differs from what
// was recorded before. A stamp lower than the recorded one is ignored.
func (l *Ledger) Observe(name state.Name, stamp state.Stamp) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	last, ok := l.stamps[name]
	if ok && !stamp.After(last) {
		return false
	}
	l.stamps[name] = stamp
	return true
}

// Last returns the recorded stamp for name.
func (l *Ledger) Last(name state.Name) (state.Stamp, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.stamps[name]
	return s, ok
}

// IsStale reports whether current differs from the recorded stamp. Names
// that were never observed are stale.
func (l *Ledger) IsStale(name state.Name, current state.Stamp) bool {
	last, ok := l.Last(name)
	return !ok || last != current
}

func (l *Ledger) Forget(name state.Name) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.stamps, name)
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.stamps)
}

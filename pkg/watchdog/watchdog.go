// Package watchdog detects stalled conversations and drives escalating
// recovery. A session arms the timer whenever it starts waiting and disarms
// it on any forward progress; the last escalation level hangs up.
package watchdog

import (
	"sync"
	"time"
)

// DefaultGraceBudget is how many timer fires are tolerated while telephony
// acknowledgements are still outstanding before recovery starts.
const DefaultGraceBudget = 3

// RecoveryFunc performs one user-visible recovery action. It returns the
// next escalation to arm, or nil when recovery is complete. Earlier levels
// must be non-destructive; only the last level may hang up.
type RecoveryFunc func() RecoveryFunc

// PendingFunc reports how many telephony operations are still awaiting
// acknowledgement.
type PendingFunc func() int

// Watchdog is a per-session inactivity timer. Arm replaces any existing
// timer (last wins), so a missed Disarm cannot double-fire.
type Watchdog struct {
	pending PendingFunc

	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	budget   int
	timeout  time.Duration
	recovery RecoveryFunc
}

// New creates a Watchdog with the default grace budget.
func New(pending PendingFunc) *Watchdog {
	if pending == nil {
		pending = func() int { return 0 }
	}
	return &Watchdog{pending: pending, budget: DefaultGraceBudget}
}

// Arm (re)starts the timer. Any previously armed timer is cancelled and the
// grace budget is reset.
func (w *Watchdog) Arm(recovery RecoveryFunc, timeout time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.gen++
	w.budget = DefaultGraceBudget
	w.timeout = timeout
	w.recovery = recovery
	w.startLocked()
}

// Disarm cancels any pending timer. Safe to call when not armed.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.gen++
	w.recovery = nil
}

func (w *Watchdog) startLocked() {
	gen := w.gen
	w.timer = time.AfterFunc(w.timeout, func() { w.fire(gen) })
}

func (w *Watchdog) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watchdog) fire(gen uint64) {
	w.mu.Lock()
	if gen != w.gen || w.recovery == nil {
		// stale timer, a later Arm/Disarm superseded it
		w.mu.Unlock()
		return
	}

	if w.pending() > 0 && w.budget > 0 {
		// acknowledgements still outstanding, plausibly just slow
		w.budget--
		w.startLocked()
		w.mu.Unlock()
		return
	}

	recovery := w.recovery
	w.recovery = nil
	w.mu.Unlock()

	// Recovery runs outside the lock: it may speak, hang up, or re-arm.
	next := recovery()

	w.mu.Lock()
	if next != nil && gen == w.gen {
		w.gen++
		w.budget = DefaultGraceBudget
		w.recovery = next
		w.startLocked()
	}
	w.mu.Unlock()
}

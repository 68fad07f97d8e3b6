package timectrl

import (
	"context"
	"sync"
	"time"
)

// Clock is the time source used by components with timing-based transitions
// (liveness sweep, activity activation/completion). Production code uses
// RealClock; tests substitute a fake.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock in UTC.
type RealClock struct{}

// Now returns the current wall-clock time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// TickController drives a fixed-interval tick and notifies registered
// listeners sequentially. Listeners never run concurrently with one another,
// which is what lets the execution engine treat each tick as one consistent
// scan-then-mutate pass.
type TickController struct {
	mu       sync.RWMutex
	interval time.Duration

	currentTime time.Time
	listeners   []func(time.Time)
}

// NewTickController constructs a controller with the given tick interval.
func NewTickController(interval time.Duration) *TickController {
	return &TickController{
		interval:    interval,
		currentTime: time.Now().UTC(),
	}
}

// Now returns the time of the most recent tick. Implements Clock.
func (tc *TickController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// AddListener registers a callback invoked on every tick. Listeners must be
// registered before Run starts.
func (tc *TickController) AddListener(fn func(time.Time)) {
	if fn == nil {
		return
	}
	tc.listeners = append(tc.listeners, fn)
}

// Run ticks until ctx is cancelled. Each tick stamps the controller time and
// invokes every listener in registration order before the next tick fires.
func (tc *TickController) Run(ctx context.Context) {
	ticker := time.NewTicker(tc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			tc.mu.Lock()
			tc.currentTime = now
			tc.mu.Unlock()

			for _, fn := range tc.listeners {
				fn(now)
			}
		}
	}
}

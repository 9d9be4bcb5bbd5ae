// Package sched provides the small pieces of concurrency glue every
// daemon needs to stand in for the firmware's cooperative RTOS tasks
// (spec.md §5): a periodic task runner and a watchdog primitive that
// either reboots the process or, in hosted test builds, simply records
// that it expired for the test to observe.
package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// RunPeriodic calls fn every interval until ctx is cancelled, standing
// in for one of the firmware's fixed-cadence RTOS tasks. fn is called
// from the same goroutine RunPeriodic runs on; it should not block
// longer than interval.
func RunPeriodic(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// RebootFunc performs the actual reset. It stands in for the
// firmware's watchdog-starvation pattern, but a hosted process can't
// hit a hardware reset register, so it's a hook rather than a fixed
// action: tests
// substitute one that records the call instead of exiting.
type RebootFunc func(reason string)

// Watchdog mirrors the firmware's hardware watchdog: armed once at
// startup, fed periodically by whichever task is supposed to still be
// alive, and calling its reboot hook if not fed within its period.
// Unlike a single global hardware watchdog, a process can have as many
// of these as it has independent liveness conditions to track (the
// sensor daemon keeps one for the ADC sampling task and one for the
// message task, per spec.md §4.4/§5).
type Watchdog struct {
	period time.Duration
	reboot RebootFunc
	reason string

	mu       sync.Mutex
	lastFeed time.Time
	fired    int32
}

// NewWatchdog arms a Watchdog with the given period and reboot hook.
// reason is passed to reboot verbatim if the watchdog expires, so logs
// and tests can tell which watchdog fired.
func NewWatchdog(period time.Duration, reason string, reboot RebootFunc) *Watchdog {
	return &Watchdog{period: period, reboot: reboot, reason: reason, lastFeed: time.Now()}
}

// Feed resets the watchdog's expiry clock. Call this from whatever task
// the watchdog is meant to supervise, once per iteration.
func (w *Watchdog) Feed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastFeed = time.Now()
}

// Fired reports whether this watchdog has already expired and called
// its reboot hook. A fired Watchdog can still be fed and will resume
// normal expiry checking; the firmware's hardware watchdog only
// distinguishes "about to reset" from "just reset", so there is no
// corresponding "un-fire".
func (w *Watchdog) Fired() bool {
	return atomic.LoadInt32(&w.fired) != 0
}

// checkExpiry fires reboot exactly once per expiry if the watchdog
// hasn't been fed within period.
func (w *Watchdog) checkExpiry() {
	w.mu.Lock()
	expired := time.Since(w.lastFeed) > w.period
	if expired {
		// re-arm, so the next fire needs another full unfed period
		w.lastFeed = time.Now()
	}
	w.mu.Unlock()
	if expired {
		atomic.StoreInt32(&w.fired, 1)
		w.reboot(w.reason)
	}
}

// Run polls the watchdog for expiry at a cadence finer than its
// period, until ctx is cancelled. The firmware's hardware watchdog is
// a free-running timer with no such poll loop; this is the hosted
// equivalent of "the timer reaches zero".
func (w *Watchdog) Run(ctx context.Context) {
	pollInterval := w.period / 10
	if pollInterval <= 0 {
		pollInterval = time.Millisecond
	}
	RunPeriodic(ctx, pollInterval, w.checkExpiry)
}

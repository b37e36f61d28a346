package sampled

import (
	"sync"
	"sync/atomic"
	"time"
)

// IntervalTimer delivers ticks at a settable interval, correcting for drift.
// One goroutine (the sampler loop) calls NextTick; any goroutine may call
// SetInterval or Stop.
type IntervalTimer struct {
	intervalNs atomic.Int64  // nominal interval in nanoseconds; <= 0 means free-running
	rearm      chan struct{} // poked when the interval changes, to interrupt a pending wait
	abort      chan struct{}
	stopOnce   sync.Once

	// The fields below belong to the goroutine calling NextTick.
	mark     time.Time // scheduled time of the previous tick
	lastFire time.Time // wall-clock time the previous tick was delivered
}

// NewIntervalTimer creates a timer with the given nominal interval. The first
// tick is scheduled one interval after creation (or after Reset).
func NewIntervalTimer(interval time.Duration) *IntervalTimer {
	t := &IntervalTimer{
		rearm: make(chan struct{}, 1),
		abort: make(chan struct{}),
	}
	t.intervalNs.Store(int64(interval))
	t.Reset()
	return t
}

// Interval returns the current nominal interval.
func (t *IntervalTimer) Interval() time.Duration {
	return time.Duration(t.intervalNs.Load())
}

// SetInterval changes the nominal interval. A wait already in progress is
// re-armed against the new interval, so the change is effective no later than
// the next tick.
func (t *IntervalTimer) SetInterval(interval time.Duration) {
	t.intervalNs.Store(int64(interval))
	select {
	case t.rearm <- struct{}{}:
	default: // a re-arm is already pending
	}
}

// Reset re-anchors the tick schedule at the present moment.
func (t *IntervalTimer) Reset() {
	now := time.Now()
	t.mark = now
	t.lastFire = now
}

// Stop interrupts any pending wait and makes all future NextTick calls return
// ErrTimerStopped. Safe to call more than once and from any goroutine.
func (t *IntervalTimer) Stop() {
	t.stopOnce.Do(func() { close(t.abort) })
}

// Stopped reports whether Stop has been called.
func (t *IntervalTimer) Stopped() bool {
	select {
	case <-t.abort:
		return true
	default:
		return false
	}
}

// NextTick blocks until the interval has elapsed since the previous tick (or
// since creation/Reset for the first one), then returns the measured
// wall-clock time since the previous tick. The wait is computed against the
// previous tick's scheduled time, not its delivery time, so a late tick
// shortens the following wait instead of compounding the delay. A tick that is
// already overdue is delivered immediately with the true (oversized) elapsed
// time. With a non-positive interval, NextTick returns at once.
func (t *IntervalTimer) NextTick() (time.Duration, error) {
	for {
		if t.Stopped() {
			return 0, ErrTimerStopped
		}
		interval := t.Interval()
		if interval <= 0 {
			return t.fire(time.Now(), time.Now()), nil
		}
		deadline := t.mark.Add(interval)
		wait := time.Until(deadline)
		if wait <= 0 {
			// Overdue. Deliver now; if we are more than a whole interval
			// behind, re-anchor the schedule so one long stall does not
			// produce a burst of catch-up ticks.
			now := time.Now()
			sched := deadline
			if now.Sub(deadline) > interval {
				sched = now
			}
			return t.fire(now, sched), nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-t.abort:
			timer.Stop()
			return 0, ErrTimerStopped
		case <-t.rearm:
			timer.Stop()
			continue
		case now := <-timer.C:
			return t.fire(now, deadline), nil
		}
	}
}

func (t *IntervalTimer) fire(now, scheduled time.Time) time.Duration {
	elapsed := now.Sub(t.lastFire)
	t.lastFire = now
	t.mark = scheduled
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed
}

package sampled

import (
	"fmt"
	"sync"
	"time"

	"github.com/karstlab/sampled/internal/unboundedchan"
)

// EventKind labels the structured status events emitted by samplers and
// channels.
type EventKind int

// The possible values of EventKind.
const (
	EventStarted           EventKind = iota // sampling loop began
	EventPaused                             // ticking suspended
	EventResumed                            // ticking resumed
	EventStopped                            // sampling loop exited
	EventReadError                          // a read failed; loop continues
	EventReadResumed                        // reads succeed again after failures
	EventDroppedSample                      // best-effort channel evicted its oldest sample
	EventUnrecoverableDrop                  // durable channel timed out; recording integrity lost
	EventJoinTimeout                        // Stop gave up waiting for the loop goroutine
	EventTickStats                          // periodic timing statistics
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventPaused:
		return "paused"
	case EventResumed:
		return "resumed"
	case EventStopped:
		return "stopped"
	case EventReadError:
		return "read-error"
	case EventReadResumed:
		return "read-resumed"
	case EventDroppedSample:
		return "dropped-sample"
	case EventUnrecoverableDrop:
		return "unrecoverable-drop"
	case EventJoinTimeout:
		return "join-timeout"
	case EventTickStats:
		return "tick-stats"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// MarshalJSON encodes the kind by name, for status-socket subscribers.
func (k EventKind) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", k.String())), nil
}

// Event is one entry on the error/status channel.
type Event struct {
	Source string
	Kind   EventKind
	Detail string
	Time   time.Time
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s: %s", e.Source, e.Kind, e.Detail)
}

// EventBus fans status events out to any number of subscribers. Publish never
// blocks, whatever the subscribers are doing: the bus and every subscription
// are backed by unbounded queues, because a stalled logger must not stall a
// timing loop, and no event may be silently discarded.
type EventBus struct {
	input *unboundedchan.UnboundedChannel[Event]

	mu     sync.Mutex
	subs   []*unboundedchan.UnboundedChannel[Event]
	closed bool
	done   chan struct{}
}

// NewEventBus creates a running EventBus.
func NewEventBus() *EventBus {
	bus := &EventBus{
		input: unboundedchan.NewUnboundedChannel[Event](),
		done:  make(chan struct{}),
	}
	go bus.dispatch()
	return bus
}

// Publish submits an event. A zero Time is filled in with the current time.
// Warning-grade events are also written to the ProblemLogger, so that
// recording-integrity problems are visible even with no bus subscribers.
func (bus *EventBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	switch e.Kind {
	case EventUnrecoverableDrop, EventJoinTimeout:
		ProblemLogger.Printf("WARNING %s", e)
	case EventReadError:
		ProblemLogger.Printf("%s", e)
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if bus.closed {
		return
	}
	bus.input.In() <- e
}

// Subscribe registers a new bus listener and returns its channel. The channel
// is closed when the bus closes. Subscribers added after events were published
// do not see the past events.
func (bus *EventBus) Subscribe() <-chan Event {
	sub := unboundedchan.NewUnboundedChannel[Event]()
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if bus.closed {
		close(sub.In())
	} else {
		bus.subs = append(bus.subs, sub)
	}
	return sub.Out()
}

// Close shuts the bus down after all pending events have been delivered.
func (bus *EventBus) Close() {
	bus.mu.Lock()
	if bus.closed {
		bus.mu.Unlock()
		return
	}
	bus.closed = true
	close(bus.input.In())
	bus.mu.Unlock()
	<-bus.done
}

func (bus *EventBus) dispatch() {
	for e := range bus.input.Out() {
		bus.mu.Lock()
		subs := bus.subs
		bus.mu.Unlock()
		for _, sub := range subs {
			sub.In() <- e
		}
	}
	bus.mu.Lock()
	for _, sub := range bus.subs {
		close(sub.In())
	}
	bus.subs = nil
	bus.mu.Unlock()
	close(bus.done)
}

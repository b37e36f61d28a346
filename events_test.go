package sampled

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventKindNames(t *testing.T) {
	cases := []struct {
		kind EventKind
		want string
	}{
		{EventStarted, "started"},
		{EventReadError, "read-error"},
		{EventDroppedSample, "dropped-sample"},
		{EventUnrecoverableDrop, "unrecoverable-drop"},
		{EventJoinTimeout, "join-timeout"},
		{EventKind(99), "EventKind(99)"},
	}
	for _, c := range cases {
		if got := c.kind.String(); got != c.want {
			t.Errorf("EventKind.String() = %q, want %q", got, c.want)
		}
	}

	blob, err := json.Marshal(EventReadError)
	if err != nil {
		t.Fatal(err)
	}
	if string(blob) != `"read-error"` {
		t.Errorf("marshaled kind is %s", blob)
	}
}

func TestEventBusFanOut(t *testing.T) {
	bus := NewEventBus()
	a := bus.Subscribe()
	b := bus.Subscribe()

	const n = 100
	for i := 0; i < n; i++ {
		bus.Publish(Event{Source: "test", Kind: EventTickStats})
	}
	bus.Close()

	for name, sub := range map[string]<-chan Event{"a": a, "b": b} {
		count := 0
		for e := range sub {
			if e.Time.IsZero() {
				t.Errorf("subscriber %s: event %d has a zero timestamp", name, count)
			}
			count++
		}
		if count != n {
			t.Errorf("subscriber %s received %d events, want %d", name, count, n)
		}
	}
}

func TestEventBusPublishNeverBlocks(t *testing.T) {
	bus := NewEventBus()
	_ = bus.Subscribe() // a subscriber that never reads

	start := time.Now()
	for i := 0; i < 10000; i++ {
		bus.Publish(Event{Source: "test", Kind: EventTickStats})
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("10000 publishes with a stalled subscriber took %v", d)
	}
	bus.Close()

	// Publishing after Close must not panic.
	bus.Publish(Event{Source: "test", Kind: EventTickStats})
	bus.Close() // and a second Close is harmless

	// Subscribing after Close yields a closed, empty channel.
	late := bus.Subscribe()
	if _, ok := <-late; ok {
		t.Error("late subscriber received an event from a closed bus")
	}
}

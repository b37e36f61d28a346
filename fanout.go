package sampled

import (
	"fmt"
	"sync"
	"time"

	"github.com/karstlab/sampled/internal/ringbuf"
)

// ChannelPolicy selects what a fan-out channel does when its consumer cannot
// keep up with the producer.
type ChannelPolicy int

const (
	// BestEffort channels never block the producer: at capacity, the oldest
	// unread sample is evicted to make room. For viewers and plotters.
	BestEffort ChannelPolicy = iota
	// Durable channels block the producer up to a bounded timeout, and report
	// an unrecoverable drop when the timeout expires. For recorders.
	Durable
)

// Default queue depths and the durable push timeout.
const (
	DefaultBestEffortCapacity = 64
	DefaultDurableCapacity    = 1024
	DefaultPushTimeout        = 5 * time.Second
)

// SubscribeOptions configures one fan-out channel.
type SubscribeOptions struct {
	Policy      ChannelPolicy
	Capacity    int           // queue depth; 0 means the policy's default
	PushTimeout time.Duration // durable only; 0 means DefaultPushTimeout
}

// Channel is the ordered queue connecting one sampler to one consumer. The
// sampler pushes; the consumer calls Next (blocking) or TryNext. Samples
// arrive in tick order.
type Channel struct {
	id     string
	policy ChannelPolicy

	ring   *ringbuf.Ring[*Sample] // best-effort backing
	notify chan struct{}          // best-effort wakeup

	queue   chan *Sample // durable backing
	timeout time.Duration

	closed    chan struct{}
	closeOnce sync.Once
}

// ID returns the consumer identifier this channel was subscribed with.
func (c *Channel) ID() string { return c.id }

// Policy returns the channel's backpressure policy.
func (c *Channel) Policy() ChannelPolicy { return c.policy }

// Len returns the number of samples currently queued.
func (c *Channel) Len() int {
	if c.policy == BestEffort {
		return c.ring.Len()
	}
	return len(c.queue)
}

// Next blocks until a sample is available and returns it. It returns ok=false
// once the channel has been closed and every queued sample was delivered.
func (c *Channel) Next() (*Sample, bool) {
	if c.policy == Durable {
		for {
			select {
			case s := <-c.queue:
				return s, true
			case <-c.closed:
				// Closed: hand out whatever is still queued, then report end.
				select {
				case s := <-c.queue:
					return s, true
				default:
					return nil, false
				}
			}
		}
	}
	for {
		if s, ok := c.ring.Pop(); ok {
			return s, true
		}
		select {
		case <-c.notify:
		case <-c.closed:
			s, ok := c.ring.Pop()
			return s, ok
		}
	}
}

// TryNext returns the next queued sample without blocking.
func (c *Channel) TryNext() (*Sample, bool) {
	if c.policy == Durable {
		select {
		case s := <-c.queue:
			return s, true
		default:
			return nil, false
		}
	}
	return c.ring.Pop()
}

// Closed returns a channel that is closed when no more samples will be pushed.
func (c *Channel) Closed() <-chan struct{} { return c.closed }

func (c *Channel) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// push delivers one sample according to the channel policy. It reports an
// eviction or an unrecoverable drop through the returned event kind.
func (c *Channel) push(s *Sample) (EventKind, bool) {
	if c.policy == BestEffort {
		if _, evicted := c.ring.Push(s); evicted {
			c.wake()
			return EventDroppedSample, true
		}
		c.wake()
		return 0, false
	}

	select {
	case c.queue <- s:
		return 0, false
	case <-c.closed:
		return 0, false
	default:
	}
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case c.queue <- s:
		return 0, false
	case <-c.closed:
		return 0, false
	case <-timer.C:
		return EventUnrecoverableDrop, true
	}
}

func (c *Channel) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Broadcaster replicates each pushed sample onto every subscribed channel.
// There is exactly one Broadcaster per sampler; fan-out happens at push time,
// so consumers never share a queue and never affect one another.
type Broadcaster struct {
	source string
	events *EventBus

	mu       sync.Mutex
	channels map[string]*Channel
	order    []string // subscription order, so pushes are deterministic
}

// NewBroadcaster creates a Broadcaster for the named source, reporting drops
// on the given bus.
func NewBroadcaster(source string, events *EventBus) *Broadcaster {
	return &Broadcaster{
		source:   source,
		events:   events,
		channels: make(map[string]*Channel),
	}
}

// Subscribe registers a new consumer queue. It is safe while the sampler runs.
func (b *Broadcaster) Subscribe(id string, opts SubscribeOptions) (*Channel, error) {
	capacity := opts.Capacity
	if capacity <= 0 {
		if opts.Policy == Durable {
			capacity = DefaultDurableCapacity
		} else {
			capacity = DefaultBestEffortCapacity
		}
	}
	timeout := opts.PushTimeout
	if timeout <= 0 {
		timeout = DefaultPushTimeout
	}

	c := &Channel{
		id:      id,
		policy:  opts.Policy,
		timeout: timeout,
		closed:  make(chan struct{}),
	}
	if opts.Policy == BestEffort {
		c.ring = ringbuf.New[*Sample](capacity)
		c.notify = make(chan struct{}, 1)
	} else {
		c.queue = make(chan *Sample, capacity)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.channels[id]; exists {
		return nil, fmt.Errorf("consumer %q is already subscribed to source %s", id, b.source)
	}
	b.channels[id] = c
	b.order = append(b.order, id)
	return c, nil
}

// Unsubscribe removes and closes one consumer queue. Safe while running; a
// no-op for unknown ids.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	c, ok := b.channels[id]
	if ok {
		delete(b.channels, id)
		for i, name := range b.order {
			if name == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
	b.mu.Unlock()
	if ok {
		c.close()
	}
}

// Push delivers one sample to every subscribed channel, reporting evictions
// and unrecoverable drops on the event bus.
func (b *Broadcaster) Push(s *Sample) {
	b.mu.Lock()
	targets := make([]*Channel, 0, len(b.order))
	for _, id := range b.order {
		targets = append(targets, b.channels[id])
	}
	b.mu.Unlock()

	for _, c := range targets {
		if kind, bad := c.push(s); bad {
			b.events.Publish(Event{
				Source: b.source,
				Kind:   kind,
				Detail: fmt.Sprintf("consumer %q: sample of %s", c.id, s.Time.Format(time.RFC3339Nano)),
			})
		}
	}
}

// NumChannels returns the number of subscribed consumers.
func (b *Broadcaster) NumChannels() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels)
}

// Close closes every subscribed channel. Consumers see the end of the stream
// after draining what is already queued.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	channels := make([]*Channel, 0, len(b.channels))
	for _, c := range b.channels {
		channels = append(channels, c)
	}
	b.mu.Unlock()
	for _, c := range channels {
		c.close()
	}
}

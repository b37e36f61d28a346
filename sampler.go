package sampled

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// SamplerState is used to indicate the lifecycle state of a sampler.
type SamplerState int

// Names for the possible values of SamplerState.
const (
	Created SamplerState = iota // registered, loop not yet spawned
	Running                     // loop ticking and reading
	Paused                      // loop ticking, reads suspended
	Stopped                     // loop exited; terminal
)

func (s SamplerState) String() string {
	switch s {
	case Created:
		return "Created"
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	case Stopped:
		return "Stopped"
	}
	return fmt.Sprintf("SamplerState(%d)", int(s))
}

// How often the sampling loop publishes an EventTickStats summary.
const statsReportInterval = 10 * time.Second

// Sampler drives one Source with one IntervalTimer on a dedicated goroutine,
// fanning each produced sample out to every subscribed channel. All control
// methods are safe from any goroutine; the timing loop itself runs nothing
// but wait-read-push.
type Sampler struct {
	name   string
	source Source
	timer  *IntervalTimer
	events *EventBus
	fanout *Broadcaster
	stats  *TickStats

	config  atomic.Pointer[SamplerConfig]
	writeMu sync.Mutex // serializes config writers; readers just Load

	stateMu  sync.Mutex
	state    SamplerState
	paused   atomic.Bool
	requests chan func() // executed by the loop at tick boundaries
	loopDone chan struct{}

	// JoinTimeout bounds how long Stop waits for the loop goroutine beyond
	// one interval. Zero means the default of 2 s.
	JoinTimeout time.Duration

	lastStamp time.Time // loop-private; enforces monotonic sample times
}

// NewSampler creates a sampler in the Created state. The config's interval
// and parameters become the initial settings; parameters are validated later,
// on Start, once the source is open.
func NewSampler(source Source, config SamplerConfig, events *EventBus) *Sampler {
	s := &Sampler{
		name:     source.Name(),
		source:   source,
		timer:    NewIntervalTimer(config.Interval),
		events:   events,
		stats:    NewTickStats(1000),
		requests: make(chan func(), 64),
		loopDone: make(chan struct{}),
	}
	s.fanout = NewBroadcaster(s.name, events)
	s.config.Store(config.clone())
	return s
}

// Name returns the source name this sampler was created for.
func (s *Sampler) Name() string { return s.name }

// State returns the lifecycle state in a race-free fashion.
func (s *Sampler) State() SamplerState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Running reports whether the sampling loop is live (Running or Paused).
func (s *Sampler) Running() bool {
	state := s.State()
	return state == Running || state == Paused
}

// Config returns the current config snapshot. The returned value must not be
// mutated.
func (s *Sampler) Config() SamplerConfig { return *s.config.Load() }

// Stats returns a snapshot of the measured tick-period statistics.
func (s *Sampler) Stats() TickStatsSummary { return s.stats.Summary() }

// Subscribe registers a consumer queue on this sampler's fan-out.
func (s *Sampler) Subscribe(id string, opts SubscribeOptions) (*Channel, error) {
	return s.fanout.Subscribe(id, opts)
}

// Unsubscribe removes a consumer queue.
func (s *Sampler) Unsubscribe(id string) { s.fanout.Unsubscribe(id) }

// Start acquires the source's scoped resource (if it has one) and spawns the
// timing loop. A sampler starts at most once; ErrAlreadyRunning otherwise.
func (s *Sampler) Start() error {
	s.stateMu.Lock()
	if s.state != Created {
		s.stateMu.Unlock()
		return fmt.Errorf("sampler %s is %v: %w", s.name, s.state, ErrAlreadyRunning)
	}
	s.state = Running
	s.stateMu.Unlock()

	opened := false
	if op, ok := s.source.(Openable); ok {
		if err := op.Open(); err != nil {
			s.setState(Stopped)
			close(s.loopDone)
			s.fanout.Close()
			return &AcquisitionError{Source: s.name, Err: err}
		}
		opened = true
	}

	// Apply the initial parameter settings now that the source is open.
	cfg := s.config.Load()
	for name, value := range cfg.Parameters {
		if err := s.applyParameter(name, value); err != nil {
			if opened {
				s.source.(Openable).Close()
			}
			s.setState(Stopped)
			close(s.loopDone)
			s.fanout.Close()
			return &AcquisitionError{Source: s.name, Err: err}
		}
	}

	s.timer.Reset()
	s.lastStamp = time.Now()
	go s.loop(opened)
	s.events.Publish(Event{Source: s.name, Kind: EventStarted, Detail: fmt.Sprintf("interval %v", cfg.Interval)})
	return nil
}

func (s *Sampler) setState(state SamplerState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

// loop is the timing loop: wait for tick, run queued control requests, read
// the source, wrap and fan out. It exits only when the timer is stopped.
func (s *Sampler) loop(opened bool) {
	defer close(s.loopDone)
	defer s.fanout.Close()
	if opened {
		defer func() {
			if err := s.source.(Openable).Close(); err != nil {
				ProblemLogger.Printf("source %s: release failed: %v", s.name, err)
			}
		}()
	}

	failedReading := false
	lastStatsReport := time.Now()

	for {
		elapsed, err := s.timer.NextTick()
		if err != nil {
			// Cancelled at a tick boundary. Requests already queued still
			// run, so a parameter write racing Stop reaches the source.
			s.drainRequests()
			return
		}
		s.drainRequests()
		if s.paused.Load() {
			continue
		}
		s.stats.Record(elapsed)

		payload, readErr := s.source.Read()
		if readErr != nil {
			// A transient fault must not kill the loop. Report once when
			// entering the failed state, once more when reads resume.
			if !failedReading {
				failedReading = true
				s.events.Publish(Event{Source: s.name, Kind: EventReadError, Detail: readErr.Error()})
			}
			continue
		}
		if failedReading {
			failedReading = false
			s.events.Publish(Event{Source: s.name, Kind: EventReadResumed, Detail: "reading resumed"})
		}

		now := time.Now()
		if now.Before(s.lastStamp) {
			now = s.lastStamp // wall clock stepped back; keep the stream monotonic
		}
		s.lastStamp = now
		s.fanout.Push(&Sample{
			SourceName: s.name,
			Time:       now,
			Elapsed:    elapsed,
			Payload:    payload,
		})

		if now.Sub(lastStatsReport) >= statsReportInterval {
			lastStatsReport = now
			s.events.Publish(Event{Source: s.name, Kind: EventTickStats, Detail: s.stats.Summary().String()})
		}
	}
}

func (s *Sampler) drainRequests() {
	for {
		select {
		case req := <-s.requests:
			req()
		default:
			return
		}
	}
}

// enqueue hands fn to the timing loop, which runs it at the next tick
// boundary, never concurrently with Read. If the loop is gone (never started,
// or already exited), fn runs on the caller: there is no concurrency left to
// protect against.
func (s *Sampler) enqueue(fn func()) {
	select {
	case <-s.loopDone:
		fn()
		return
	default:
	}
	select {
	case s.requests <- fn:
	case <-s.loopDone:
		fn()
	}
}

// Pause suspends reads without stopping the timer, so Resume does not produce
// a burst of catch-up reads. Idempotent.
func (s *Sampler) Pause() {
	s.stateMu.Lock()
	if s.state != Running {
		s.stateMu.Unlock()
		return
	}
	s.state = Paused
	s.paused.Store(true)
	s.stateMu.Unlock()
	s.events.Publish(Event{Source: s.name, Kind: EventPaused})
}

// Resume re-enables reads after Pause. Idempotent.
func (s *Sampler) Resume() {
	s.stateMu.Lock()
	if s.state != Paused {
		s.stateMu.Unlock()
		return
	}
	s.state = Running
	s.paused.Store(false)
	s.stateMu.Unlock()
	s.events.Publish(Event{Source: s.name, Kind: EventResumed})
}

// Stop cancels the timing loop, waits for it to exit, and releases the
// source's resource. The loop observes cancellation at the next tick
// boundary, so Stop latency is bounded by one interval plus read time, plus
// the join timeout as slack. Safe to call from any goroutine; the second and
// later calls are no-ops.
func (s *Sampler) Stop() error {
	s.stateMu.Lock()
	if s.state == Stopped {
		s.stateMu.Unlock()
		return nil
	}
	if s.state == Created {
		s.state = Stopped
		s.stateMu.Unlock()
		close(s.loopDone)
		s.fanout.Close()
		return nil
	}
	s.state = Stopped
	s.paused.Store(false)
	s.stateMu.Unlock()

	s.timer.Stop()

	join := s.JoinTimeout
	if join <= 0 {
		join = 2 * time.Second
	}
	if iv := s.timer.Interval(); iv > 0 {
		join += iv
	}
	timer := time.NewTimer(join)
	defer timer.Stop()
	select {
	case <-s.loopDone:
		s.events.Publish(Event{Source: s.name, Kind: EventStopped, Detail: s.stats.Summary().String()})
		return nil
	case <-timer.C:
		s.events.Publish(Event{Source: s.name, Kind: EventJoinTimeout,
			Detail: fmt.Sprintf("loop did not exit within %v; goroutine leaked", join)})
		return fmt.Errorf("sampler %s: %w", s.name, ErrJoinTimeout)
	}
}

// SetInterval changes the sampling interval, effective no later than the next
// tick: a wait already in progress is re-armed.
func (s *Sampler) SetInterval(interval time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	cfg := s.config.Load().clone()
	cfg.Interval = interval
	s.config.Store(cfg)
	s.timer.SetInterval(interval)
	return nil
}

// SetParameter validates a named source parameter and schedules it for
// application at the next tick boundary. The config snapshot is swapped
// immediately; ErrInvalidValue is returned, and nothing changes, when the
// source rejects the value.
func (s *Sampler) SetParameter(name string, value any) error {
	if v, ok := s.source.(ParameterValidator); ok {
		if err := v.ValidateParameter(name, value); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
	} else if _, ok := s.source.(ParameterSetter); !ok {
		return fmt.Errorf("%w: source %s has no settable parameters", ErrInvalidValue, s.name)
	}

	s.writeMu.Lock()
	cfg := s.config.Load().clone()
	if cfg.Parameters == nil {
		cfg.Parameters = make(map[string]any)
	}
	cfg.Parameters[name] = value
	s.config.Store(cfg)
	s.writeMu.Unlock()

	s.enqueue(func() {
		if err := s.applyParameter(name, value); err != nil {
			s.events.Publish(Event{Source: s.name, Kind: EventReadError,
				Detail: fmt.Sprintf("applying %s=%v: %v", name, value, err)})
		}
	})
	return nil
}

func (s *Sampler) applyParameter(name string, value any) error {
	setter, ok := s.source.(ParameterSetter)
	if !ok {
		return nil // validated but the source keeps no live state for it
	}
	return setter.SetParameter(name, value)
}

package sampled

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// This file holds simulated sources. They stand in for real instruments in
// tests and demos, and document what a Source implementation looks like.

// CounterSource returns an incrementing integer count on every read.
type CounterSource struct {
	name  string
	count int64
}

// NewCounterSource creates a CounterSource with the given name.
func NewCounterSource(name string) *CounterSource {
	return &CounterSource{name: name}
}

// Name returns the source name.
func (cs *CounterSource) Name() string { return cs.name }

// Read returns the next count.
func (cs *CounterSource) Read() (Payload, error) {
	cs.count++
	return ScalarPayload(cs.count), nil
}

// SineSource synthesizes a noisy sine wave of settable amplitude. It
// demonstrates the parameter validation and live-update hooks.
type SineSource struct {
	name      string
	period    time.Duration
	noise     float64
	epoch     time.Time
	mu        sync.Mutex
	amplitude float64
}

// NewSineSource creates a SineSource with the given period and amplitude.
func NewSineSource(name string, period time.Duration, amplitude float64) *SineSource {
	return &SineSource{
		name:      name,
		period:    period,
		amplitude: amplitude,
		epoch:     time.Now(),
	}
}

// Name returns the source name.
func (ss *SineSource) Name() string { return ss.name }

// Amplitude returns the current amplitude.
func (ss *SineSource) Amplitude() float64 {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.amplitude
}

// Read returns the instantaneous value of the wave.
func (ss *SineSource) Read() (Payload, error) {
	phase := 2 * math.Pi * float64(time.Since(ss.epoch)) / float64(ss.period)
	v := ss.Amplitude() * math.Sin(phase)
	if ss.noise > 0 {
		v += ss.noise * (2*rand.Float64() - 1)
	}
	return ScalarPayload(v), nil
}

// ValidateParameter accepts "amplitude" with a positive numeric value.
func (ss *SineSource) ValidateParameter(name string, value any) error {
	if name != "amplitude" {
		return fmt.Errorf("source %s has no parameter %q", ss.name, name)
	}
	a, ok := toFloat64(value)
	if !ok {
		return fmt.Errorf("amplitude wants a number, got %T", value)
	}
	if a <= 0 {
		return fmt.Errorf("amplitude must be positive, got %g", a)
	}
	return nil
}

// SetParameter applies a validated parameter change.
func (ss *SineSource) SetParameter(name string, value any) error {
	if err := ss.ValidateParameter(name, value); err != nil {
		return err
	}
	a, _ := toFloat64(value)
	ss.mu.Lock()
	ss.amplitude = a
	ss.mu.Unlock()
	return nil
}

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// BurstSource simulates a board that acquires a whole buffer of points within
// each tick, like a digitizer. Each read returns npts values with synthetic
// per-point timestamps spread over the time since the previous read.
type BurstSource struct {
	name     string
	npts     int
	lastRead time.Time
	opened   bool
	OpenErr  error // test hook: returned by Open when non-nil
}

// NewBurstSource creates a BurstSource returning npts points per read.
func NewBurstSource(name string, npts int) *BurstSource {
	return &BurstSource{name: name, npts: npts}
}

// Name returns the source name.
func (bs *BurstSource) Name() string { return bs.name }

// Open acquires the simulated board.
func (bs *BurstSource) Open() error {
	if bs.OpenErr != nil {
		return bs.OpenErr
	}
	bs.opened = true
	bs.lastRead = time.Now()
	return nil
}

// Close releases the simulated board.
func (bs *BurstSource) Close() error {
	bs.opened = false
	return nil
}

// Opened reports whether the board is currently acquired.
func (bs *BurstSource) Opened() bool { return bs.opened }

// Read returns one burst of points.
func (bs *BurstSource) Read() (Payload, error) {
	if !bs.opened {
		return nil, fmt.Errorf("burst source %s read before Open", bs.name)
	}
	now := time.Now()
	span := now.Sub(bs.lastRead)
	bs.lastRead = now

	times := make([]time.Time, bs.npts)
	data := make([]float64, bs.npts)
	for i := 0; i < bs.npts; i++ {
		frac := float64(i+1) / float64(bs.npts)
		times[i] = now.Add(-span + time.Duration(frac*float64(span)))
		data[i] = 0.7 + 0.1*rand.Float64()
	}
	return BurstPayload{Times: times, Data: data}, nil
}

// FlakySource wraps another source and fails reads on chosen ticks. Test use.
type FlakySource struct {
	Source
	failOn map[int]bool
	tick   int
}

// NewFlakySource wraps src so that reads numbered failTicks (1-based) fail.
func NewFlakySource(src Source, failTicks ...int) *FlakySource {
	fs := &FlakySource{Source: src, failOn: make(map[int]bool)}
	for _, n := range failTicks {
		fs.failOn[n] = true
	}
	return fs
}

// Read fails on the configured ticks and otherwise delegates.
func (fs *FlakySource) Read() (Payload, error) {
	fs.tick++
	if fs.failOn[fs.tick] {
		return nil, fmt.Errorf("simulated read failure on tick %d", fs.tick)
	}
	return fs.Source.Read()
}

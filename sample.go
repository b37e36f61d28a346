package sampled

import "time"

// Payload is the source-defined body of a sample: a scalar, a tuple of
// scalars, or a burst with embedded sub-timestamps. The concrete types are
// ScalarPayload, TuplePayload and BurstPayload.
type Payload interface {
	// Values returns the payload flattened to float64s, for writers that
	// serialize column-wise.
	Values() []float64
}

// ScalarPayload holds a single reading.
type ScalarPayload float64

// Values implements Payload.
func (p ScalarPayload) Values() []float64 { return []float64{float64(p)} }

// TuplePayload holds one reading per channel of a multi-channel source.
type TuplePayload []float64

// Values implements Payload.
func (p TuplePayload) Values() []float64 { return p }

// BurstPayload holds a batch of readings acquired within one tick by a
// burst-capable source, each with its own timestamp.
type BurstPayload struct {
	Times []time.Time
	Data  []float64
}

// Values implements Payload.
func (p BurstPayload) Values() []float64 { return p.Data }

// Sample is one immutable timestamped reading produced by a sampler tick.
// Within one source's stream, Time is monotonically non-decreasing and
// Elapsed is the measured (not nominal) time since the previous tick.
type Sample struct {
	SourceName string
	Time       time.Time
	Elapsed    time.Duration // wall-clock time since the previous tick; >= 0
	Payload    Payload
}

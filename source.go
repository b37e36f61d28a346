package sampled

// Source is the interface for hardware or simulated sensors that produce one
// reading at a time. Read is called from the sampler's own goroutine only.
// An error from Read is transient: it is reported and the loop continues with
// the next tick.
type Source interface {
	Name() string
	Read() (Payload, error)
}

// Openable is implemented by sources that need scoped acquisition of a
// physical resource. Open is called exactly once when the sampler starts,
// Close exactly once when it stops, on every exit path including a failed
// start.
type Openable interface {
	Open() error
	Close() error
}

// ParameterValidator is implemented by sources that accept named parameters.
// ValidateParameter must reject a (name, value) pair with a descriptive error
// without changing any state.
type ParameterValidator interface {
	ValidateParameter(name string, value any) error
}

// ParameterSetter is implemented by sources whose named parameters can be
// changed while sampling. SetParameter is called from the sampler's goroutine
// between ticks, never concurrently with Read.
type ParameterSetter interface {
	SetParameter(name string, value any) error
}

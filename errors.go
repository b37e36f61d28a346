package sampled

import (
	"errors"
	"fmt"
)

// Sentinel errors for the conditions callers are expected to test for.
var (
	// ErrTimerStopped is returned by IntervalTimer.NextTick after Stop.
	ErrTimerStopped = errors.New("interval timer was stopped")

	// ErrAlreadyRunning is returned by Sampler.Start when the sampler has
	// already been started (running, paused, or stopped).
	ErrAlreadyRunning = errors.New("sampler was already started")

	// ErrNotRunning is returned by operations that require a live sampling loop.
	ErrNotRunning = errors.New("sampler is not running")

	// ErrInvalidValue is returned when a source rejects a parameter write.
	// The sampler's state is unchanged when this is returned.
	ErrInvalidValue = errors.New("invalid property value")

	// ErrUnknownProperty is returned by Orchestrator.SetProperty for a
	// property path that was never registered.
	ErrUnknownProperty = errors.New("unknown property")

	// ErrJoinTimeout is returned by Sampler.Stop when the sampling goroutine
	// did not exit within the join timeout. The goroutine is then considered
	// leaked; the process should not assume a clean shutdown.
	ErrJoinTimeout = errors.New("timed out joining sampling goroutine")
)

// AcquisitionError wraps a failure to open a source's scoped resource on
// Start. It is fatal to that one sampler only.
type AcquisitionError struct {
	Source string
	Err    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("source %s: resource acquisition failed: %v", e.Source, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

package sampled

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrchestratorRegisterAndProperties(t *testing.T) {
	events := NewEventBus()
	defer events.Close()
	o := NewOrchestrator(events)

	_, err := o.Register(NewCounterSource("pressure"), SamplerConfig{Interval: time.Second})
	require.NoError(t, err)
	_, err = o.Register(NewSineSource("sine", time.Second, 1.0),
		SamplerConfig{Interval: 100 * time.Millisecond, Parameters: map[string]any{"amplitude": 1.0}})
	require.NoError(t, err)
	_, err = o.Register(NewCounterSource("pressure"), SamplerConfig{Interval: time.Second})
	assert.Error(t, err, "duplicate source name must be rejected")

	assert.Equal(t, []string{"pressure", "sine"}, o.Names())

	props := o.Properties()
	var paths []string
	for _, p := range props {
		paths = append(paths, p.Path)
	}
	assert.Equal(t, []string{"pressure.interval", "sine.amplitude", "sine.interval"}, paths)

	path, ok := o.LookupCommand("dt", "sine")
	require.True(t, ok)
	assert.Equal(t, "sine.interval", path)
	path, ok = o.LookupCommand("amplitude", "sine")
	require.True(t, ok)
	assert.Equal(t, "sine.amplitude", path)
	_, ok = o.LookupCommand("dt", "nosuch")
	assert.False(t, ok)
	_, ok = o.LookupCommand("gain", "sine")
	assert.False(t, ok)
}

func TestOrchestratorSetProperty(t *testing.T) {
	events := NewEventBus()
	defer events.Close()
	o := NewOrchestrator(events)
	sine := NewSineSource("sine", time.Second, 1.0)
	s, err := o.Register(sine,
		SamplerConfig{Interval: time.Second, Parameters: map[string]any{"amplitude": 1.0}})
	require.NoError(t, err)

	// Interval accepts a duration, a duration string, or numeric seconds.
	require.NoError(t, o.SetProperty("sine.interval", 50*time.Millisecond))
	assert.Equal(t, 50*time.Millisecond, s.Config().Interval)
	require.NoError(t, o.SetProperty("sine.interval", "25ms"))
	assert.Equal(t, 25*time.Millisecond, s.Config().Interval)
	require.NoError(t, o.SetProperty("sine.interval", 0.5))
	assert.Equal(t, 500*time.Millisecond, s.Config().Interval)

	err = o.SetProperty("sine.interval", "not a duration")
	assert.ErrorIs(t, err, ErrInvalidValue)
	err = o.SetProperty("sine.interval", []int{1})
	assert.ErrorIs(t, err, ErrInvalidValue)

	err = o.SetProperty("sine.gain", 2.0)
	assert.ErrorIs(t, err, ErrUnknownProperty)
	err = o.SetProperty("nosuch.interval", 1.0)
	assert.ErrorIs(t, err, ErrUnknownProperty)

	// Parameter sets flow through the sampler's validation.
	err = o.SetProperty("sine.amplitude", -1.0)
	assert.ErrorIs(t, err, ErrInvalidValue)
	require.NoError(t, o.SetProperty("sine.amplitude", 2.0))
	assert.Equal(t, 2.0, s.Config().Parameters["amplitude"])
	assert.Equal(t, 1.0, sine.Amplitude(), "live value changes only at a tick boundary")
}

func TestOrchestratorStartAllPartialFailure(t *testing.T) {
	events := NewEventBus()
	defer events.Close()
	o := NewOrchestrator(events)
	bad := NewBurstSource("bad", 4)
	bad.OpenErr = fmt.Errorf("no such device")
	_, err := o.Register(bad, SamplerConfig{Interval: 10 * time.Millisecond})
	require.NoError(t, err)
	good, err := o.Register(NewCounterSource("good"), SamplerConfig{Interval: 10 * time.Millisecond})
	require.NoError(t, err)
	ch, err := good.Subscribe("test", SubscribeOptions{Policy: Durable})
	require.NoError(t, err)

	err = o.StartAll()
	require.Error(t, err)
	var acqErr *AcquisitionError
	assert.True(t, errors.As(err, &acqErr), "want the open failure wrapped as an acquisition error")

	// The healthy source keeps running despite its sibling's failure.
	assert.True(t, o.Running())
	assert.Equal(t, Running, good.State())
	assert.Equal(t, Stopped, o.Sampler("bad").State())
	samples := collect(t, ch, 2, time.Second)
	assert.GreaterOrEqual(t, len(samples), 2)

	require.NoError(t, o.StopAll())
	assert.False(t, o.Running())
	require.NoError(t, o.StopAll(), "StopAll must be idempotent")
	o.Wait()
}

func TestOrchestratorPauseResumeAll(t *testing.T) {
	events := NewEventBus()
	defer events.Close()
	o := NewOrchestrator(events)
	a, err := o.Register(NewCounterSource("a"), SamplerConfig{Interval: 10 * time.Millisecond})
	require.NoError(t, err)
	b, err := o.Register(NewCounterSource("b"), SamplerConfig{Interval: 10 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, o.StartAll())
	defer o.StopAll()

	o.PauseAll()
	assert.Equal(t, Paused, a.State())
	assert.Equal(t, Paused, b.State())
	o.ResumeAll()
	assert.Equal(t, Running, a.State())
	assert.Equal(t, Running, b.State())

	st := o.Status()
	assert.True(t, st.Running)
	require.Len(t, st.Sources, 2)
	assert.Equal(t, "a", st.Sources[0].Name)
	assert.Equal(t, "Running", st.Sources[0].State)
	assert.Equal(t, 0.01, st.Sources[0].Interval)
}

func TestWriteSessionMetadata(t *testing.T) {
	events := NewEventBus()
	defer events.Close()
	o := NewOrchestrator(events)
	_, err := o.Register(NewSineSource("sine", time.Second, 1.0),
		SamplerConfig{Interval: 250 * time.Millisecond, Parameters: map[string]any{"amplitude": 1.0}})
	require.NoError(t, err)

	dir := t.TempDir()
	path, err := o.WriteSessionMetadata(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "session_metadata.json"), path)

	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	var md struct {
		Version string `json:"version"`
		Sources map[string]struct {
			IntervalSeconds float64        `json:"interval_s"`
			Parameters      map[string]any `json:"parameters"`
		} `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(blob, &md))
	assert.Equal(t, Build.Version, md.Version)
	require.Contains(t, md.Sources, "sine")
	assert.Equal(t, 0.25, md.Sources["sine"].IntervalSeconds)
	assert.Equal(t, 1.0, md.Sources["sine"].Parameters["amplitude"])

	// A second session in the same directory must not clobber the first file.
	path2, err := o.WriteSessionMetadata(dir)
	require.NoError(t, err)
	assert.NotEqual(t, path, path2)
	assert.FileExists(t, path)
	assert.FileExists(t, path2)
}

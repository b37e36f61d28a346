package sampled

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// memWriter is a SampleWriter that keeps everything in memory.
type memWriter struct {
	mu      sync.Mutex
	samples []*Sample
	closed  bool
}

func (w *memWriter) WriteSample(s *Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, s)
	return nil
}

func (w *memWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *memWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}

func TestRecorderDrainsEverythingBeforeClose(t *testing.T) {
	events := NewEventBus()
	defer events.Close()
	s := NewSampler(NewCounterSource("counter"),
		SamplerConfig{Interval: 5 * time.Millisecond}, events)

	// A second durable channel sees the same stream; the recorder must not
	// lose anything relative to it.
	witness, err := s.Subscribe("witness", SubscribeOptions{Policy: Durable})
	require.NoError(t, err)
	w := &memWriter{}
	rec, err := NewRecorder(s, "recorder", w, SubscribeOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Start())
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, s.Stop())
	require.NoError(t, rec.Close())
	assert.True(t, w.closed)

	pushed := 0
	for {
		if _, ok := witness.Next(); !ok {
			break
		}
		pushed++
	}
	require.Greater(t, pushed, 10, "sampler produced too few samples for the test to mean anything")
	assert.Equal(t, pushed, w.count(), "recorder lost samples that were pushed before Stop")

	// The recorded stream is the counter sequence, in order.
	for i, smp := range w.samples {
		require.Equal(t, float64(i+1), smp.Payload.Values()[0])
	}
}

func TestRecorderDuplicateID(t *testing.T) {
	events := NewEventBus()
	defer events.Close()
	s := NewSampler(NewCounterSource("counter"), SamplerConfig{Interval: time.Second}, events)
	rec, err := NewRecorder(s, "rec", &memWriter{}, SubscribeOptions{})
	require.NoError(t, err)
	_, err = NewRecorder(s, "rec", &memWriter{}, SubscribeOptions{})
	assert.Error(t, err)
	require.NoError(t, s.Stop())
	require.NoError(t, rec.Close())
}

func TestCSVWriterFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pressure.tsv")
	w, err := NewCSVWriter(path, []string{"p (mbar)"}, "")
	require.NoError(t, err)

	when := time.Unix(1700000000, 500000000)
	require.NoError(t, w.WriteSample(&Sample{
		SourceName: "pressure",
		Time:       when,
		Elapsed:    100 * time.Millisecond,
		Payload:    ScalarPayload(1013.25),
	}))
	require.NoError(t, w.WriteSample(&Sample{
		SourceName: "pressure",
		Time:       when.Add(100 * time.Millisecond),
		Elapsed:    100 * time.Millisecond,
		Payload:    TuplePayload{1.5, -2.5},
	}))
	require.NoError(t, w.Close())

	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(blob), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "time (unix)\tdt (s)\tp (mbar)", lines[0])
	assert.Equal(t, "1700000000.500000\t0.100000\t1013.25", lines[1])
	assert.Equal(t, "1700000000.600000\t0.100000\t1.5\t-2.5", lines[2])
}

func TestNPYWriterBurstFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := NewNPYWriter(dir, "img")
	require.NoError(t, err)

	base := time.Unix(1700000000, 0)
	burst := BurstPayload{
		Times: []time.Time{base, base.Add(10 * time.Millisecond), base.Add(20 * time.Millisecond)},
		Data:  []float64{0.5, 0.6, 0.7},
	}
	require.NoError(t, w.WriteSample(&Sample{SourceName: "cam", Time: base, Payload: burst}))
	require.NoError(t, w.WriteSample(&Sample{SourceName: "cam", Time: base, Payload: burst}))
	assert.Equal(t, 2, w.Count())
	require.NoError(t, w.Close())

	// Files are numbered in write order and round-trip as 2xN arrays.
	for _, name := range []string{"img_000000.npy", "img_000001.npy"} {
		f, err := os.Open(filepath.Join(dir, name))
		require.NoError(t, err, "missing %s", name)
		var m mat.Dense
		require.NoError(t, npyio.Read(f, &m))
		f.Close()
		rows, cols := m.Dims()
		assert.Equal(t, 2, rows)
		assert.Equal(t, 3, cols)
		assert.InDelta(t, 1700000000.0, m.At(0, 0), 1e-6)
		assert.InDelta(t, 1700000000.02, m.At(0, 2), 1e-6)
		assert.Equal(t, 0.7, m.At(1, 2))
	}

	// An empty burst is legal and simply produces no file.
	require.NoError(t, w.WriteSample(&Sample{SourceName: "cam", Time: base, Payload: BurstPayload{}}))
	assert.Equal(t, 2, w.Count())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// A scalar sample degenerates to a single-column file.
	require.NoError(t, w.WriteSample(&Sample{
		SourceName: "cam",
		Time:       base,
		Payload:    ScalarPayload(42),
	}))
	f, err := os.Open(filepath.Join(dir, "img_000002.npy"))
	require.NoError(t, err)
	defer f.Close()
	var m mat.Dense
	require.NoError(t, npyio.Read(f, &m))
	rows, cols := m.Dims()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 1, cols)
	assert.Equal(t, 42.0, m.At(1, 0))
}

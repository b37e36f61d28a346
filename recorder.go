package sampled

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/karstlab/sampled/internal/asyncbufio"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// SampleWriter is the storage side of a Recorder: something that persists one
// sample at a time. WriteSample is called from the recorder's goroutine only.
type SampleWriter interface {
	WriteSample(s *Sample) error
	Close() error
}

// Recorder pairs one sampler with one durable consumer: it subscribes a
// durable channel, drains it on its own goroutine, and hands every sample to
// a SampleWriter. Nothing is dropped unless the durable push timeout expires
// on the producer side, which is independently reported.
type Recorder struct {
	sampler *Sampler
	channel *Channel
	writer  SampleWriter
	id      string
	done    chan struct{}
}

// NewRecorder subscribes a durable channel on the sampler under the given
// consumer id and starts draining into w.
func NewRecorder(sampler *Sampler, id string, w SampleWriter, opts SubscribeOptions) (*Recorder, error) {
	opts.Policy = Durable
	ch, err := sampler.Subscribe(id, opts)
	if err != nil {
		return nil, err
	}
	r := &Recorder{
		sampler: sampler,
		channel: ch,
		writer:  w,
		id:      id,
		done:    make(chan struct{}),
	}
	go r.run()
	return r, nil
}

func (r *Recorder) run() {
	defer close(r.done)
	for {
		s, ok := r.channel.Next()
		if !ok {
			return
		}
		if err := r.writer.WriteSample(s); err != nil {
			ProblemLogger.Printf("recorder %s: writing sample failed: %v", r.id, err)
		}
	}
}

// Close detaches the recorder from its sampler, finishes writing everything
// already queued, and closes the writer. Call after the sampler has stopped
// (or to tear the recorder down early).
func (r *Recorder) Close() error {
	r.sampler.Unsubscribe(r.id)
	<-r.done
	return r.writer.Close()
}

// CSVWriter persists samples as tab-separated lines through an asynchronous
// buffered writer, one line per sample:
//
//	time (unix s) <tab> dt (s) <tab> value ...
type CSVWriter struct {
	file *os.File
	aw   *asyncbufio.Writer
	sep  string
}

// NewCSVWriter creates the file (truncating an existing one) and writes a
// header line naming the value columns.
func NewCSVWriter(filename string, valueColumns []string, sep string) (*CSVWriter, error) {
	if sep == "" {
		sep = "\t"
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	w := &CSVWriter{
		file: f,
		aw:   asyncbufio.NewWriter(f, 1024, time.Second),
		sep:  sep,
	}
	cols := append([]string{"time (unix)", "dt (s)"}, valueColumns...)
	if _, err := w.aw.WriteString(strings.Join(cols, sep) + "\n"); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// WriteSample appends one line.
func (w *CSVWriter) WriteSample(s *Sample) error {
	fields := make([]string, 0, 2+len(s.Payload.Values()))
	fields = append(fields,
		strconv.FormatFloat(float64(s.Time.UnixNano())/1e9, 'f', 6, 64),
		strconv.FormatFloat(s.Elapsed.Seconds(), 'f', 6, 64))
	for _, v := range s.Payload.Values() {
		fields = append(fields, strconv.FormatFloat(v, 'g', -1, 64))
	}
	_, err := w.aw.WriteString(strings.Join(fields, w.sep) + "\n")
	return err
}

// Flush forces queued lines onto disk.
func (w *CSVWriter) Flush() error { return w.aw.Flush() }

// Close flushes and closes the file.
func (w *CSVWriter) Close() error {
	err := w.aw.Close()
	if err2 := w.file.Close(); err == nil {
		err = err2
	}
	return err
}

// NPYWriter persists burst payloads, one numbered .npy file per burst, each
// holding a 2xN array of (sub-timestamp in unix seconds, value). Non-burst
// payloads are written as a 2x1 array using the sample's own timestamp.
type NPYWriter struct {
	dir     string
	prefix  string
	counter int
	ndigits int
}

// NewNPYWriter creates dir if needed and returns a writer producing files
// named prefix_000000.npy, prefix_000001.npy, ...
func NewNPYWriter(dir, prefix string) (*NPYWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &NPYWriter{dir: dir, prefix: prefix, ndigits: 6}, nil
}

// WriteSample writes one .npy file.
func (w *NPYWriter) WriteSample(s *Sample) error {
	var times []time.Time
	var values []float64
	if burst, ok := s.Payload.(BurstPayload); ok {
		times = burst.Times
		values = burst.Data
	} else {
		times = []time.Time{s.Time}
		values = s.Payload.Values()
	}
	if len(times) != len(values) {
		return fmt.Errorf("burst has %d timestamps but %d values", len(times), len(values))
	}

	n := len(values)
	if n == 0 {
		return nil // an empty burst produces no file
	}
	data := make([]float64, 2*n)
	for i, t := range times {
		data[i] = float64(t.UnixNano()) / 1e9
	}
	copy(data[n:], values)

	name := fmt.Sprintf("%s_%0*d.npy", w.prefix, w.ndigits, w.counter)
	f, err := os.Create(filepath.Join(w.dir, name))
	if err != nil {
		return err
	}
	defer f.Close()
	if err := npyio.Write(f, mat.NewDense(2, n, data)); err != nil {
		return err
	}
	w.counter++
	return nil
}

// Count returns how many files have been written.
func (w *NPYWriter) Count() int { return w.counter }

// Close implements SampleWriter; the files are already closed per burst.
func (w *NPYWriter) Close() error { return nil }

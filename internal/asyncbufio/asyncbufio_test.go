package asyncbufio

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestWriterDeliversInOrder(t *testing.T) {
	var buf bytes.Buffer
	aw := NewWriter(&buf, 16, time.Hour)
	var want bytes.Buffer
	for i := 0; i < 100; i++ {
		line := fmt.Sprintf("line %d\n", i)
		want.WriteString(line)
		if _, err := aw.WriteString(line); err != nil {
			t.Fatal(err)
		}
	}
	if err := aw.Close(); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != want.String() {
		t.Errorf("underlying writer holds %d bytes, want %d, content differs", len(got), want.Len())
	}
}

func TestWriterFlush(t *testing.T) {
	var buf bytes.Buffer
	aw := NewWriter(&buf, 16, time.Hour)
	if _, err := aw.WriteString("hello"); err != nil {
		t.Fatal(err)
	}
	if err := aw.Flush(); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "hello" {
		t.Errorf("after Flush the underlying writer holds %q", got)
	}
	if err := aw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestWriterPeriodicFlush(t *testing.T) {
	var buf safeBuffer
	aw := NewWriter(&buf, 16, 10*time.Millisecond)
	defer aw.Close()
	if _, err := aw.WriteString("tick"); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(time.Second)
	for buf.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("data was not flushed by the periodic ticker")
		case <-time.After(time.Millisecond):
		}
	}
	if got := buf.String(); got != "tick" {
		t.Errorf("flushed content is %q", got)
	}
}

func TestWriterReportsWriteError(t *testing.T) {
	fail := errors.New("disk full")
	aw := NewWriter(failingWriter{err: fail}, 4, time.Hour)
	// bufio only hits the underlying writer on flush for small writes.
	if _, err := aw.WriteString("doomed"); err != nil {
		t.Fatal(err)
	}
	if err := aw.Flush(); !errors.Is(err, fail) {
		t.Errorf("Flush returned %v, want the write error", err)
	}
	if err := aw.Close(); !errors.Is(err, fail) {
		t.Errorf("Close returned %v, want the retained first error", err)
	}
}

type failingWriter struct{ err error }

func (w failingWriter) Write(p []byte) (int, error) { return 0, w.err }

// safeBuffer guards a bytes.Buffer so the test can poll while the write loop
// appends.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

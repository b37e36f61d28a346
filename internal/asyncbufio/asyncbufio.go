// Package asyncbufio provides buffered writing on a background goroutine,
// with periodic flushing, so producers are decoupled from disk latency.
package asyncbufio

import (
	"bufio"
	"io"
	"time"
)

// Writer moves byte chunks from a channel to a bufio.Writer on its own
// goroutine and flushes the buffer at a fixed cadence. Write blocks when the
// channel is full, so no data is ever discarded.
type Writer struct {
	w             *bufio.Writer
	data          chan []byte
	flushNow      chan struct{}
	flushComplete chan struct{}
	flushInterval time.Duration
	err           error // first write error seen by the loop
}

// NewWriter creates a Writer over w with the given channel depth and flush
// cadence, and starts its goroutine.
func NewWriter(w io.Writer, channelDepth int, flushInterval time.Duration) *Writer {
	aw := &Writer{
		w:             bufio.NewWriter(w),
		data:          make(chan []byte, channelDepth),
		flushNow:      make(chan struct{}),
		flushComplete: make(chan struct{}),
		flushInterval: flushInterval,
	}
	go aw.run()
	return aw
}

// Write queues p for writing. The caller must not reuse p's backing array.
// Blocks if the queue is full.
func (aw *Writer) Write(p []byte) (int, error) {
	aw.data <- p
	return len(p), nil
}

// WriteString queues s for writing.
func (aw *Writer) WriteString(s string) (int, error) {
	return aw.Write([]byte(s))
}

// Flush drains everything queued so far to the underlying writer and flushes
// it. Blocks until done, and returns the first error the write loop has seen.
func (aw *Writer) Flush() error {
	aw.flushNow <- struct{}{}
	<-aw.flushComplete
	return aw.err
}

// Close drains and flushes remaining data, then stops the goroutine. Write or
// Flush after Close will panic; don't do that.
func (aw *Writer) Close() error {
	close(aw.flushNow)
	<-aw.flushComplete
	return aw.err
}

func (aw *Writer) run() {
	ticker := time.NewTicker(aw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case p := <-aw.data:
			aw.write(p)
		case _, ok := <-aw.flushNow:
			aw.drainAndFlush()
			aw.flushComplete <- struct{}{}
			if !ok {
				return
			}
		case <-ticker.C:
			aw.drainAndFlush()
		}
	}
}

func (aw *Writer) write(p []byte) {
	if _, err := aw.w.Write(p); err != nil && aw.err == nil {
		aw.err = err
	}
}

func (aw *Writer) drainAndFlush() {
	for {
		select {
		case p := <-aw.data:
			aw.write(p)
		default:
			if err := aw.w.Flush(); err != nil && aw.err == nil {
				aw.err = err
			}
			return
		}
	}
}

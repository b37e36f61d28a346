// Package unboundedchan provides a queue with channel endpoints and no fixed
// capacity, so senders never block.
package unboundedchan

// UnboundedChannel is a FIFO queue fed and drained through channels. A send on
// In never blocks; buffered items survive until a receiver drains Out.
// Beware! You almost certainly want T to be a primitive type or a pointer;
// large values are copied into the internal buffer.
type UnboundedChannel[T any] struct {
	in    chan T
	out   chan T
	queue []T
	head  int
}

// NewUnboundedChannel creates and starts an UnboundedChannel.
func NewUnboundedChannel[T any]() *UnboundedChannel[T] {
	uc := &UnboundedChannel[T]{
		in:  make(chan T),
		out: make(chan T),
	}
	go uc.run()
	return uc
}

// In returns the channel for sending. Close it to shut the queue down; Out is
// closed after all buffered items have been delivered.
func (uc *UnboundedChannel[T]) In() chan<- T { return uc.in }

// Out returns the channel for receiving.
func (uc *UnboundedChannel[T]) Out() <-chan T { return uc.out }

func (uc *UnboundedChannel[T]) run() {
	for {
		if uc.head == len(uc.queue) {
			// Buffer empty: only new input can make progress.
			val, ok := <-uc.in
			if !ok {
				close(uc.out)
				return
			}
			uc.push(val)
			continue
		}
		select {
		case uc.out <- uc.queue[uc.head]:
			var zero T
			uc.queue[uc.head] = zero
			uc.head++
		case val, ok := <-uc.in:
			if !ok {
				// Input closed: deliver the backlog, then close the output.
				for _, item := range uc.queue[uc.head:] {
					uc.out <- item
				}
				close(uc.out)
				return
			}
			uc.push(val)
		}
	}
}

func (uc *UnboundedChannel[T]) push(val T) {
	// Reclaim the drained prefix occasionally instead of growing forever.
	if uc.head > 64 && uc.head*2 >= len(uc.queue) {
		n := copy(uc.queue, uc.queue[uc.head:])
		uc.queue = uc.queue[:n]
		uc.head = 0
	}
	uc.queue = append(uc.queue, val)
}

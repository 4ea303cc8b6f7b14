package bus

import "context"

// Queue is the dispatch boundary between the fast acknowledgment phase and
// the deferred processing phase. The interaction handler publishes a work
// descriptor; the pipeline worker consumes it on its own goroutine.
type Queue struct {
	work chan Invocation
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{work: make(chan Invocation, size)}
}

// Publish enqueues an invocation. It blocks only if the queue is full, which
// keeps the acknowledgment phase fast under normal load.
func (q *Queue) Publish(inv Invocation) {
	q.work <- inv
}

// Consume blocks until an invocation is available or ctx is done.
func (q *Queue) Consume(ctx context.Context) (Invocation, bool) {
	select {
	case <-ctx.Done():
		return Invocation{}, false
	case inv, ok := <-q.work:
		return inv, ok
	}
}

func (q *Queue) Len() int {
	return len(q.work)
}

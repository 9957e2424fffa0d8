// Package transcribe owns the audio-to-text pipeline: per-speaker ingest
// queues, session workers streaming to the recognition transport, and the
// registry enforcing at-most-one live session per (meeting, speaker) key.
package transcribe

import (
	"sync"
	"time"
)

// Queue is an unbounded FIFO buffer bridging push-style chunk arrival (client
// send events) and the pull-style consumption of the recognition stream.
// Unbounded is a deliberate choice: sessions are short-lived and bounded by
// an explicit stop, so memory is capped by session length, not by the queue.
type Queue struct {
	mu     sync.Mutex
	chunks [][]byte
	notify chan struct{}
	closed bool
}

func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push appends a chunk to the tail. Never blocks; pushes after Close are
// dropped.
func (q *Queue) Push(chunk []byte) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.chunks = append(q.chunks, chunk)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pull returns the next chunk in pushed order, waiting up to timeout for one
// to arrive. ok=false means the wait timed out or the queue is closed and
// drained; the caller re-checks its stop condition and pulls again.
func (q *Queue) Pull(timeout time.Duration) (chunk []byte, ok bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.chunks) > 0 {
			chunk = q.chunks[0]
			q.chunks = q.chunks[1:]
			q.mu.Unlock()
			return chunk, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-q.notify:
		case <-deadline.C:
			return nil, false
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

// Close rejects further pushes. Chunks already queued remain pullable so the
// worker can drain before shutting down.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

package linkset

import (
	"context"
	"io"
	"sync"
	"time"

	"firestige.xyz/isup/internal/core"
)

// frameQueue is a bounded FIFO of frames. Producers get core.ErrQueueFull
// (push) or wait for room (pushWait); frames are never overwritten.
type frameQueue struct {
	mu       sync.Mutex
	frames   [][]byte
	capacity int
	closed   bool
	// wake is closed and replaced whenever the queue changes.
	wake chan struct{}
}

func newFrameQueue(capacity int) *frameQueue {
	return &frameQueue{capacity: capacity, wake: make(chan struct{})}
}

func (q *frameQueue) broadcastLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

func (q *frameQueue) push(frame []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return core.ErrClosed
	}
	if len(q.frames) >= q.capacity {
		return core.ErrQueueFull
	}
	q.frames = append(q.frames, append([]byte(nil), frame...))
	q.broadcastLocked()
	return nil
}

func (q *frameQueue) pushWait(ctx context.Context, frame []byte) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return core.ErrClosed
		}
		if len(q.frames) < q.capacity {
			q.frames = append(q.frames, append([]byte(nil), frame...))
			q.broadcastLocked()
			q.mu.Unlock()
			return nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pop copies the head frame into buf. A buffer too small for the head frame
// leaves it queued and returns io.ErrShortBuffer.
func (q *frameQueue) pop(buf []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		if q.closed {
			return 0, core.ErrClosed
		}
		return 0, nil
	}
	f := q.frames[0]
	if len(buf) < len(f) {
		return 0, io.ErrShortBuffer
	}
	n := copy(buf, f)
	q.frames[0] = nil
	q.frames = q.frames[1:]
	q.broadcastLocked()
	return n, nil
}

// waitReadable blocks up to timeout for a frame to be queued.
func (q *frameQueue) waitReadable(timeout time.Duration) (bool, error) {
	var deadline <-chan time.Time
	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			q.mu.Unlock()
			return true, nil
		}
		if q.closed {
			q.mu.Unlock()
			return false, core.ErrClosed
		}
		wake := q.wake
		q.mu.Unlock()

		if timeout <= 0 {
			return false, nil
		}
		if deadline == nil {
			t := time.NewTimer(timeout)
			defer t.Stop()
			deadline = t.C
		}
		select {
		case <-wake:
		case <-deadline:
			return false, nil
		}
	}
}

func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// close wakes all waiters. Frames already queued can still be popped.
func (q *frameQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

// discard closes the queue and drops every queued frame. It returns the
// number of frames dropped.
func (q *frameQueue) discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.frames)
	q.frames = nil
	if !q.closed {
		q.closed = true
		q.broadcastLocked()
	}
	return n
}

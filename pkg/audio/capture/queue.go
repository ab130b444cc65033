package capture

import (
	"sync"

	"github.com/MrWong99/tapedeck/pkg/audio"
)

// FrameQueue is a fixed-capacity ring of captured frames sitting between one
// capture goroutine and the mixer. When the queue is full the oldest frame is
// overwritten — the capture side must never block waiting for the consumer,
// or the hardware callback stalls and the device glitches.
type FrameQueue struct {
	mu    sync.Mutex
	buf   []audio.Frame
	head  int // index of next write position
	count int // number of valid frames
	drops uint64
}

// NewFrameQueue creates a queue holding at most capacity frames.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = DefaultQueueFrames
	}
	return &FrameQueue{buf: make([]audio.Frame, capacity)}
}

// Push appends a frame. If the queue is full, the oldest frame is dropped to
// make room and the drop counter is incremented. Push never blocks.
func (q *FrameQueue) Push(f audio.Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.buf[q.head] = f
	q.head = (q.head + 1) % len(q.buf)
	if q.count < len(q.buf) {
		q.count++
	} else {
		q.drops++
	}
}

// Pop removes and returns the oldest frame. ok is false when the queue is
// empty; the caller substitutes silence for that tick.
func (q *FrameQueue) Pop() (f audio.Frame, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return audio.Frame{}, false
	}
	start := (q.head - q.count + len(q.buf)) % len(q.buf)
	f = q.buf[start]
	q.buf[start] = audio.Frame{}
	q.count--
	return f, true
}

// Len returns the number of frames currently buffered.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Drops returns the number of frames discarded due to overflow.
func (q *FrameQueue) Drops() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drops
}

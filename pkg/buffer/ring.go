package buffer

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Write after the buffer has been closed.
var ErrClosed = errors.New("buffer closed")

// Statistics tracks buffer activity. Values are cumulative since creation.
type Statistics struct {
	Writes    int64
	Reads     int64
	Drops     int64
	Overflows int64
	HighWater int
}

// ring is a thread-safe circular buffer with configurable overflow policy.
type ring[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    Statistics
	opts     *options[T]
	closed   bool
}

func newRing[T any](capacity int, opts *options[T]) *ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		opts:     opts,
	}
}

func (r *ring[T]) Write(item T) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}

	var dropped T
	var didDrop bool

	if r.size == r.capacity {
		r.stats.Overflows++
		r.stats.Drops++

		switch r.opts.overflowPolicy {
		case DropOldest:
			dropped = r.items[r.tail]
			didDrop = true
			r.tail = (r.tail + 1) % r.capacity
			r.size--
		case DropNewest:
			r.mu.Unlock()
			if r.opts.dropCallback != nil {
				r.opts.dropCallback(item)
			}
			return nil
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++
	r.stats.Writes++
	if r.size > r.stats.HighWater {
		r.stats.HighWater = r.size
	}
	r.mu.Unlock()

	// Callback runs outside the lock so it can safely re-enter the buffer.
	if didDrop && r.opts.dropCallback != nil {
		r.opts.dropCallback(dropped)
	}
	return nil
}

func (r *ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	item := r.items[r.tail]
	r.items[r.tail] = zero // release reference
	r.tail = (r.tail + 1) % r.capacity
	r.size--
	r.stats.Reads++
	return item, true
}

func (r *ring[T]) ReadBatch(max int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 || max <= 0 {
		return nil
	}

	n := max
	if n > r.size {
		n = r.size
	}

	var zero T
	batch := make([]T, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, r.items[r.tail])
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % r.capacity
		r.size--
		r.stats.Reads++
	}
	return batch
}

func (r *ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *ring[T]) Capacity() int {
	return r.capacity
}

func (r *ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.size = 0
	r.head = 0
	r.tail = 0
}

func (r *ring[T]) Stats() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

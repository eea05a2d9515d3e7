// Package buffer provides a generic, thread-safe bounded queue used for
// per-session outbound packet queues. A fixed-capacity ring with
// configurable overflow policies keeps a slow or stalled client from
// exhausting server memory; statistics are always collected so backpressure
// is observable.
package buffer

// Queue is the interface satisfied by all buffer implementations, generic
// over the queued item type.
type Queue[T any] interface {
	// Write adds an item. Behavior when full depends on the overflow policy.
	Write(item T) error

	// Read retrieves and removes one item. The second return is false when
	// the buffer is empty.
	Read() (T, bool)

	// ReadBatch retrieves and removes up to max items.
	ReadBatch(max int) []T

	// Size returns the current number of queued items.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// Clear removes all items.
	Clear()

	// Stats returns buffer statistics.
	Stats() Statistics

	// Close shuts down the buffer; subsequent writes fail.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items while the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is invoked with each item dropped due to the overflow policy.
type DropCallback[T any] func(item T)

// Option configures buffer behavior using the functional options pattern.
type Option[T any] func(*options[T])

type options[T any] struct {
	overflowPolicy OverflowPolicy
	dropCallback   DropCallback[T]
}

// WithOverflowPolicy sets the overflow behavior. Defaults to DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(opts *options[T]) {
		opts.overflowPolicy = policy
	}
}

// WithDropCallback sets a callback invoked for every dropped item.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(opts *options[T]) {
		opts.dropCallback = callback
	}
}

func applyOptions[T any](opts ...Option[T]) *options[T] {
	cfg := &options[T]{overflowPolicy: DropOldest}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}

// NewRing creates a fixed-capacity ring buffer with the given options.
func NewRing[T any](capacity int, opts ...Option[T]) Queue[T] {
	return newRing(capacity, applyOptions(opts...))
}

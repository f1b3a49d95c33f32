package journal

import (
	"sync"
)

// Buffer is a thread-safe ring buffer that doubles its capacity when it
// reaches 70% full, up to a hard maximum. At the maximum a full buffer
// rejects sends instead of blocking, so a stalled database sheds events
// rather than stalling the shards behind it.
type Buffer[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	max      int // 0 = unbounded
	closed   bool

	// Stats
	received int64
	drained  int64
	rejected int64
	grows    int
}

// NewBuffer creates a buffer with the given initial capacity, growable
// up to max. A max of 0 means unbounded.
func NewBuffer[T any](initial, max int) *Buffer[T] {
	if initial < 1 {
		initial = 1
	}
	if max > 0 && initial > max {
		initial = max
	}
	return &Buffer[T]{
		buf:      make([]T, initial),
		capacity: initial,
		max:      max,
	}
}

// Send adds an item to the buffer. It returns false when the buffer is
// closed, or full and unable to grow further.
func (b *Buffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.rejected++
		return false
	}

	// Grow when at or above 70% capacity after adding this item.
	threshold := (b.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold {
		b.grow()
	}

	if b.count == b.capacity {
		b.rejected++
		return false
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.received++
	return true
}

// TryReceive removes and returns an item without blocking. The second
// return is false when the buffer is empty.
func (b *Buffer[T]) TryReceive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}

	item := b.buf[b.head]
	var zero T
	b.buf[b.head] = zero // Clear reference for GC
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.drained++

	return item, true
}

// DrainTo removes up to max items in FIFO order, or everything when max
// is 0. Returns nil when the buffer is empty.
func (b *Buffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = b.buf[b.head]
		var zero T
		b.buf[b.head] = zero
		b.head = (b.head + 1) % b.capacity
		b.count--
		b.drained++
	}

	return result
}

// Close closes the buffer. After closing, Send returns false; buffered
// items remain receivable.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// Len returns the current number of items in the buffer.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current capacity of the buffer.
func (b *Buffer[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// BufferStats contains buffer statistics.
type BufferStats struct {
	Count    int
	Capacity int
	Received int64
	Drained  int64
	Rejected int64
	Grows    int
}

// Stats returns buffer statistics.
func (b *Buffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:    b.count,
		Capacity: b.capacity,
		Received: b.received,
		Drained:  b.drained,
		Rejected: b.rejected,
		Grows:    b.grows,
	}
}

// grow doubles the capacity, clamped to max. Must be called with lock
// held. No-op when already at max.
func (b *Buffer[T]) grow() {
	newCapacity := b.capacity * 2
	if b.max > 0 && newCapacity > b.max {
		newCapacity = b.max
	}
	if newCapacity <= b.capacity {
		return
	}

	newBuf := make([]T, newCapacity)
	if b.count > 0 {
		if b.head < b.tail {
			copy(newBuf, b.buf[b.head:b.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(newBuf, b.buf[b.head:])
			copy(newBuf[n:], b.buf[:b.tail])
		}
	}

	b.buf = newBuf
	b.head = 0
	b.tail = b.count
	b.capacity = newCapacity
	b.grows++
}

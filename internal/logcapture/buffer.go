// Copyright 2025 Joseph Cumines
//
// Bounded FIFO event buffer

package logcapture

// MaxLogs is the capacity of each event buffer.
const MaxLogs = 100

// Buffer is a FIFO store holding at most its capacity of entries. Pushing onto a
// full buffer evicts the oldest entry. Buffer is not safe for concurrent use.
type Buffer[T any] struct {
	items    []T
	capacity int
}

// NewBuffer returns an empty buffer. A capacity below 1 uses MaxLogs.
func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = MaxLogs
	}
	return &Buffer[T]{capacity: capacity, items: make([]T, 0, capacity)}
}

// Push appends v, evicting the oldest entry when the buffer is full.
func (b *Buffer[T]) Push(v T) {
	if len(b.items) == b.capacity {
		copy(b.items, b.items[1:])
		b.items = b.items[:len(b.items)-1]
	}
	b.items = append(b.items, v)
}

// Len returns the number of stored entries.
func (b *Buffer[T]) Len() int { return len(b.items) }

// Cap returns the buffer's capacity.
func (b *Buffer[T]) Cap() int { return b.capacity }

// Reset empties the buffer.
func (b *Buffer[T]) Reset() {
	clear(b.items)
	b.items = b.items[:0]
}

// Select returns up to limit entries accepted by match, oldest first. A nil match
// accepts everything; a limit below 1 means no limit.
func (b *Buffer[T]) Select(match func(T) bool, limit int) []T {
	out := make([]T, 0, min(len(b.items), max(limit, 0)))
	for _, v := range b.items {
		if limit > 0 && len(out) == limit {
			break
		}
		if match == nil || match(v) {
			out = append(out, v)
		}
	}
	return out
}

// Snapshot returns a copy of every entry, oldest first.
func (b *Buffer[T]) Snapshot() []T {
	return b.Select(nil, 0)
}

// Package history implements the fixed-capacity rolling sample history.
package history

import "hostwatch/internal/models"

// DefaultCapacity is the number of samples kept when none is configured.
const DefaultCapacity = 100

// Buffer is a ring buffer of samples ordered by insertion.
// It is not safe for concurrent use; the state store serializes access.
type Buffer struct {
	items []models.Sample
	head  int // index of the oldest sample
	size  int
}

// Checkpoint captures enough of the buffer to undo a single Push.
type Checkpoint struct {
	head    int
	size    int
	slot    int
	evicted models.Sample
}

// New creates a buffer holding at most capacity samples.
// A non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{items: make([]models.Sample, capacity)}
}

// Push appends s, evicting the oldest sample when the buffer is full.
func (b *Buffer) Push(s models.Sample) {
	if b.size < len(b.items) {
		b.items[(b.head+b.size)%len(b.items)] = s
		b.size++
		return
	}
	b.items[b.head] = s
	b.head = (b.head + 1) % len(b.items)
}

// Checkpoint records the state needed to undo the next Push.
func (b *Buffer) Checkpoint() Checkpoint {
	slot := (b.head + b.size) % len(b.items)
	return Checkpoint{
		head:    b.head,
		size:    b.size,
		slot:    slot,
		evicted: b.items[slot],
	}
}

// Restore rolls the buffer back to cp. Only valid for the Push that
// immediately followed the call to Checkpoint.
func (b *Buffer) Restore(cp Checkpoint) {
	b.items[cp.slot] = cp.evicted
	b.head = cp.head
	b.size = cp.size
}

// Snapshot returns an independent copy, oldest first.
func (b *Buffer) Snapshot() []models.Sample {
	out := make([]models.Sample, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

// Latest returns the most recently pushed sample.
func (b *Buffer) Latest() (models.Sample, bool) {
	if b.size == 0 {
		return models.Sample{}, false
	}
	return b.items[(b.head+b.size-1)%len(b.items)], true
}

// Len returns the number of samples currently held.
func (b *Buffer) Len() int { return b.size }

// Cap returns the maximum number of samples held.
func (b *Buffer) Cap() int { return len(b.items) }

// Package framebuffer provides the single-slot hand-off cell between the
// pipeline producer and the display consumer.
//
// Semantics are latest-wins: Publish overwrites whatever is stored, and a
// consumer that falls behind silently skips frames. The mutex is held only
// for the clone and pointer swap; no decoding, inference or rendering
// happens under it.
package framebuffer

import (
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-inspect/frame"
)

// Buffer holds nothing or exactly one most-recent frame.
type Buffer struct {
	mu     sync.Mutex
	latest *frame.Frame
	unread bool

	published uint64
	taken     uint64
	dropped   uint64
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Publish stores a private copy of f, replacing any previous frame.
// If the previous frame was never taken it is counted as dropped.
// Non-blocking apart from the short critical section.
func (b *Buffer) Publish(f *frame.Frame) {
	if f == nil {
		return
	}
	c := f.Clone()

	b.mu.Lock()
	if b.unread {
		atomic.AddUint64(&b.dropped, 1)
	}
	b.latest = c
	b.unread = true
	b.mu.Unlock()

	atomic.AddUint64(&b.published, 1)
}

// TakeLatest returns a copy of the most recent frame if one was published
// since the last take. It never blocks waiting for a frame.
func (b *Buffer) TakeLatest() (*frame.Frame, bool) {
	b.mu.Lock()
	if !b.unread || b.latest == nil {
		b.mu.Unlock()
		return nil, false
	}
	f := b.latest
	b.unread = false
	b.mu.Unlock()

	atomic.AddUint64(&b.taken, 1)
	// Stored frames are never mutated after Publish, so copying outside
	// the lock is safe.
	return f.Clone(), true
}

// Latest returns a copy of the most recent frame regardless of whether it
// was already taken. Used for snapshots.
func (b *Buffer) Latest() (*frame.Frame, bool) {
	b.mu.Lock()
	f := b.latest
	b.mu.Unlock()

	if f == nil {
		return nil, false
	}
	return f.Clone(), true
}

// Clear empties the buffer. Called by the producer when a session ends.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.latest = nil
	b.unread = false
	b.mu.Unlock()
}

// Stats reports hand-off counters.
type Stats struct {
	Published uint64
	Taken     uint64
	Dropped   uint64
}

// Stats returns a snapshot of the buffer counters.
func (b *Buffer) Stats() Stats {
	return Stats{
		Published: atomic.LoadUint64(&b.published),
		Taken:     atomic.LoadUint64(&b.taken),
		Dropped:   atomic.LoadUint64(&b.dropped),
	}
}

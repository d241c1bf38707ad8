// Package replay implements the sequence-indexed, TTL-and-capacity-bounded
// history of outbound envelopes that lets a reconnecting subscriber catch up
// without loss. Built directly on buffers.RingBuffer, which already gives us
// drop-oldest-on-capacity; this package adds the TTL prune pass and the
// seq-keyed get_after query.
package replay

import (
	"sync"
	"time"

	"github.com/loquilex/sessiond/internal/buffers"
	"github.com/loquilex/sessiond/internal/events"
	"github.com/loquilex/sessiond/internal/queue"
)

// Record is one stamped envelope retained for replay.
type Record struct {
	Seq       uint64
	Envelope  events.Envelope
	Timestamp time.Time
}

// Buffer is a capacity- and TTL-bounded history of envelopes for one session.
// Thread-safe.
type Buffer struct {
	mu    sync.Mutex
	ttl   time.Duration
	ring  *buffers.RingBuffer[Record]
	drops queue.DropMetrics
}

// New constructs a replay buffer with the given capacity and TTL. ttl == 0
// disables TTL-based pruning; only the capacity bound applies.
func New(capacity int, ttl time.Duration) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		ttl:  ttl,
		ring: buffers.NewRingBuffer[Record](capacity),
	}
}

// Add prunes expired records from the head, then appends env stamped with
// seq, timestamped now. Capacity overflow uses the underlying RingBuffer's
// drop-oldest policy.
func (b *Buffer) Add(seq uint64, env events.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	if b.ring.Len() >= b.ring.Cap() {
		b.recordDropLocked(queue.DropCapacity)
	}
	b.ring.WriteOne(Record{Seq: seq, Envelope: env, Timestamp: time.Now()})
}

// GetAfter prunes expired records, then returns the envelopes of every
// remaining record whose Seq is greater than lastSeq, in increasing seq
// order.
func (b *Buffer) GetAfter(lastSeq uint64) []events.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()

	all := b.ring.ReadAll()
	out := make([]events.Envelope, 0, len(all))
	for _, rec := range all {
		if rec.Seq > lastSeq {
			out = append(out, rec.Envelope)
		}
	}
	return out
}

// Telemetry reports size/capacity/drop counters for this replay buffer,
// reusing the same snapshot shape as a bounded queue.
func (b *Buffer) Telemetry(name string) queue.Telemetry {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	size := b.ring.Len()
	cap := b.ring.Cap()
	t := queue.Telemetry{
		Name:           name,
		Size:           size,
		Capacity:       cap,
		Utilization:    float64(size) / float64(cap),
		TotalDropped:   b.drops.TotalDropped,
		RecentDrops:    b.drops.DropsSinceRead,
		LastDropTime:   b.drops.LastDropTime,
		LastDropReason: b.drops.LastDropReason,
	}
	b.drops.DropsSinceRead = 0
	return t
}

// pruneLocked evicts records older than ttl from the head. Caller must hold
// b.mu. No-op when ttl == 0.
func (b *Buffer) pruneLocked() {
	if b.ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-b.ttl)
	evicted := b.ring.EvictOlderThan(cutoff)
	for i := 0; i < evicted; i++ {
		b.recordDropLocked(queue.DropTTL)
	}
}

func (b *Buffer) recordDropLocked(reason queue.DropReason) {
	b.drops.TotalDropped++
	b.drops.DropsSinceRead++
	b.drops.LastDropTime = time.Now()
	b.drops.LastDropReason = reason
}

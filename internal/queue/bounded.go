// bounded.go — Fixed-capacity FIFO with drop-oldest overflow and drop telemetry.
// put() never blocks and never rejects: once the queue is at capacity, the
// oldest item is discarded to make room and a drop is recorded. Backed by a
// buffers.RingBuffer so overwrite-at-capacity semantics come for free; this
// package layers consuming get()/drain() and telemetry on top.
// Thread-safe: all operations guarded by a per-queue mutex.
package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/loquilex/sessiond/internal/buffers"
)

// DropReason classifies why an item was evicted before being read.
type DropReason string

const (
	DropNone     DropReason = ""
	DropCapacity DropReason = "capacity"
	DropTTL      DropReason = "ttl_expired"
)

// DropMetrics is a snapshot of overflow telemetry for a queue.
type DropMetrics struct {
	TotalDropped    int64      `json:"total_dropped"`
	DropsSinceRead  int64      `json:"drops_since_last_read"`
	LastDropTime    time.Time  `json:"last_drop_time"`
	LastDropReason  DropReason `json:"last_drop_reason"`
}

// Telemetry is the public snapshot returned for a queue.
type Telemetry struct {
	Name          string     `json:"name"`
	Size          int        `json:"size"`
	Capacity      int        `json:"capacity"`
	Utilization   float64    `json:"utilization"`
	TotalDropped  int64      `json:"total_dropped"`
	RecentDrops   int64      `json:"recent_drops"`
	LastDropTime  time.Time  `json:"last_drop_time"`
	LastDropReason DropReason `json:"last_drop_reason"`
}

// ErrInvalidCapacity is returned by New when capacity is not positive.
var ErrInvalidCapacity = errors.New("queue: capacity must be >= 1")

// Bounded is a fixed-capacity, drop-oldest FIFO queue of T.
type Bounded[T any] struct {
	mu       sync.Mutex
	name     string
	capacity int
	ring     *buffers.RingBuffer[T]
	drops    DropMetrics
}

// New constructs a Bounded queue of the given name and capacity. Construction
// fails if capacity <= 0.
func New[T any](name string, capacity int) (*Bounded[T], error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Bounded[T]{
		name:     name,
		capacity: capacity,
		ring:     buffers.NewRingBuffer[T](capacity),
	}, nil
}

// Put appends item, evicting the oldest item first if the queue is already
// at capacity. Never blocks, never returns an error.
func (q *Bounded[T]) Put(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ring.Len() >= q.capacity {
		q.recordDropLocked(DropCapacity)
	}
	q.ring.WriteOne(item)
}

// Get removes and returns the oldest item. ok is false if the queue is empty.
func (q *Bounded[T]) Get() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.PopFront()
}

// Peek returns the oldest item without removing it.
func (q *Bounded[T]) Peek() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	all := q.ring.ReadAll()
	if len(all) == 0 {
		var zero T
		return zero, false
	}
	return all[0], true
}

// Size returns the number of items currently queued.
func (q *Bounded[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.Len()
}

// Clear removes all queued items without affecting drop telemetry.
func (q *Bounded[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ring.Clear()
}

// Drain removes and returns every queued item, oldest first.
func (q *Bounded[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.ring.ReadAll()
	q.ring.Clear()
	return items
}

// DrainUpTo removes and returns up to n items, oldest first. Used by the
// pump to bound per-tick work per session.
func (q *Bounded[T]) DrainUpTo(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		item, ok := q.ring.PopFront()
		if !ok {
			break
		}
		out = append(out, item)
	}
	return out
}

// recordDropLocked records an eviction for the given reason and increments
// the "since last read" counter (Telemetry resets it). Caller must hold q.mu.
func (q *Bounded[T]) recordDropLocked(reason DropReason) {
	q.drops.TotalDropped++
	q.drops.DropsSinceRead++
	q.drops.LastDropTime = time.Now()
	q.drops.LastDropReason = reason
}

// RecordExternalDrop lets a wrapping type (e.g. the replay buffer, which
// evicts for TTL reasons this queue doesn't know about) attribute a drop to
// this queue's telemetry.
func (q *Bounded[T]) RecordExternalDrop(reason DropReason) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.recordDropLocked(reason)
}

// Telemetry returns a point-in-time snapshot of size and drop counters, and
// resets DropsSinceRead to zero (it counts drops since the last snapshot).
func (q *Bounded[T]) Telemetry() Telemetry {
	q.mu.Lock()
	defer q.mu.Unlock()
	size := q.ring.Len()
	t := Telemetry{
		Name:           q.name,
		Size:           size,
		Capacity:       q.capacity,
		Utilization:    float64(size) / float64(q.capacity),
		TotalDropped:   q.drops.TotalDropped,
		RecentDrops:    q.drops.DropsSinceRead,
		LastDropTime:   q.drops.LastDropTime,
		LastDropReason: q.drops.LastDropReason,
	}
	q.drops.DropsSinceRead = 0
	return t
}

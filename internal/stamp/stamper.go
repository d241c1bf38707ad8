// Package stamp assigns the per-session monotonic sequence number and dual
// timestamps (wall clock and session-relative) that every other subsystem —
// replay, storage, the subscriber hub — relies on for ordering.
package stamp

import (
	"sync"
	"time"

	"github.com/loquilex/sessiond/internal/events"
)

// Stamper serializes sequence assignment for one session. Stamping across
// different sessions has no implied ordering; within a session, Stamp is
// safe to call from several goroutines, and its mutex orders the calls.
type Stamper struct {
	mu      sync.Mutex
	start   time.Time
	nextSeq uint64
	now     func() time.Time
}

// New creates a Stamper whose session-relative clock starts now.
func New() *Stamper {
	return &Stamper{start: time.Now(), nextSeq: 1, now: time.Now}
}

// Stamp returns a copy of env with Seq, TsServer and TsSession assigned.
// Seq starts at 1 and increases by exactly 1 on every call.
func (s *Stamper) Stamp(env events.Envelope) events.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	env.Seq = s.nextSeq
	s.nextSeq++
	env.TsServer = float64(now.UnixNano()) / 1e9
	env.TsSession = now.Sub(s.start).Seconds()
	return env
}

// NextSeq reports the sequence number the next Stamp call will assign,
// without consuming it. Useful for tests and diagnostics.
func (s *Stamper) NextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq
}

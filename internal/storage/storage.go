// Package storage holds the rolling, capped archive of finalized commits for
// a single session: every durable transcript, translation, or status
// transition the session has produced, subject to count/byte/age caps so
// memory never grows unbounded across a long-running session.
package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CommitType classifies a stored commit.
type CommitType string

const (
	CommitTranscript  CommitType = "transcript"
	CommitTranslation CommitType = "translation"
	CommitStatus      CommitType = "status"
)

// Commit is a durable, finalized record retained subject to Config's caps.
type Commit struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Seq       uint64         `json:"seq"`
	Type      CommitType     `json:"commit_type"`
	Data      map[string]any `json:"data"`
	SizeBytes int            `json:"size_bytes"`
}

// Config bounds a Storage instance. All three caps must be positive.
type Config struct {
	MaxCommits    int
	MaxSizeBytes  int64
	MaxAgeSeconds float64
}

// Validate reports whether every cap is a positive value, as required by
// the component contract.
func (c Config) Validate() error {
	if c.MaxCommits <= 0 {
		return errCap("max_commits")
	}
	if c.MaxSizeBytes <= 0 {
		return errCap("max_size_bytes")
	}
	if c.MaxAgeSeconds <= 0 {
		return errCap("max_age_seconds")
	}
	return nil
}

type capError struct{ field string }

func (e capError) Error() string { return "storage: " + e.field + " must be positive" }
func errCap(field string) error  { return capError{field} }

// Stats is the telemetry snapshot for a Storage instance.
type Stats struct {
	TotalCommits   int   `json:"total_commits"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
	CommitsDropped int64 `json:"commits_dropped"`
}

// Snapshot is the JSON-serializable record returned by GetSnapshot.
type Snapshot struct {
	SessionID      string    `json:"session_id"`
	Timestamp      time.Time `json:"timestamp"`
	TotalCommits   int       `json:"total_commits"`
	RecentCommits  []Commit  `json:"recent_commits"`
	StorageStats   Stats     `json:"storage_stats"`
}

// Storage holds commits for a single session. Thread-safe via a per-instance
// mutex; every public method enforces limits before returning.
type Storage struct {
	mu        sync.Mutex
	sessionID string
	cfg       Config
	commits   []Commit // insertion order, oldest first
	totalSize int64
	dropped   int64
	idgen     func() string
	now       func() time.Time
}

// New constructs a Storage for sessionID bounded by cfg. cfg must validate.
func New(sessionID string, cfg Config) (*Storage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Storage{
		sessionID: sessionID,
		cfg:       cfg,
		idgen:     defaultIDGen,
		now:       time.Now,
	}, nil
}

// AddCommit creates a commit of the given type stamped now, appends it, then
// enforces limits in order: age, then count, then byte total.
func (s *Storage) AddCommit(typ CommitType, data map[string]any, seq uint64) Commit {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := Commit{
		ID:        s.idgen(),
		Timestamp: s.now(),
		Seq:       seq,
		Type:      typ,
		Data:      data,
		SizeBytes: estimateSize(data),
	}
	s.commits = append(s.commits, c)
	s.totalSize += int64(c.SizeBytes)
	s.enforceLimitsLocked()
	return c
}

// enforceLimitsLocked applies, in order: (1) age cap, (2) count cap, (3) byte
// cap. Caller must hold s.mu.
func (s *Storage) enforceLimitsLocked() {
	cutoff := s.now().Add(-time.Duration(s.cfg.MaxAgeSeconds * float64(time.Second)))
	for len(s.commits) > 0 && s.commits[0].Timestamp.Before(cutoff) {
		s.dropOldestLocked()
	}
	for len(s.commits) > s.cfg.MaxCommits {
		s.dropOldestLocked()
	}
	for s.totalSize > s.cfg.MaxSizeBytes && len(s.commits) > 0 {
		s.dropOldestLocked()
	}
}

func (s *Storage) dropOldestLocked() {
	oldest := s.commits[0]
	s.commits = s.commits[1:]
	s.totalSize -= int64(oldest.SizeBytes)
	s.dropped++
}

// GetCommits runs enforce_limits, optionally filters by type and minimum
// timestamp, sorts by timestamp descending (newest first), then limits.
// limit <= 0 means unlimited.
func (s *Storage) GetCommits(limit int, typ CommitType, since time.Time) []Commit {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enforceLimitsLocked()

	filtered := make([]Commit, 0, len(s.commits))
	for _, c := range s.commits {
		if typ != "" && c.Type != typ {
			continue
		}
		if !since.IsZero() && c.Timestamp.Before(since) {
			continue
		}
		filtered = append(filtered, c)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.After(filtered[j].Timestamp)
	})

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered
}

// GetSnapshot runs enforce_limits, then returns a JSON-serializable snapshot
// with at most max recent commits (newest first).
func (s *Storage) GetSnapshot(max int) Snapshot {
	recent := s.GetCommits(max, "", time.Time{})
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionID:     s.sessionID,
		Timestamp:     s.now(),
		TotalCommits:  len(s.commits),
		RecentCommits: recent,
		StorageStats: Stats{
			TotalCommits:   len(s.commits),
			TotalSizeBytes: s.totalSize,
			CommitsDropped: s.dropped,
		},
	}
}

// Clear removes all commits, resetting counts but not CommitsDropped.
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = nil
	s.totalSize = 0
}

// Stats runs enforce_limits, then returns the count/size/dropped counters.
func (s *Storage) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enforceLimitsLocked()
	return Stats{
		TotalCommits:   len(s.commits),
		TotalSizeBytes: s.totalSize,
		CommitsDropped: s.dropped,
	}
}

// estimateSize is a cheap, deterministic size estimate for a commit's data,
// used for byte-cap enforcement. It sums the byte length of string-valued
// fields and a fixed overhead per key, which tracks the dominant cost
// (transcript/translation text) without requiring a full JSON encode on
// every commit.
func estimateSize(data map[string]any) int {
	const perKeyOverhead = 16
	size := 0
	for k, v := range data {
		size += len(k) + perKeyOverhead
		switch val := v.(type) {
		case string:
			size += len(val)
		default:
			size += 8
		}
	}
	if size == 0 {
		size = perKeyOverhead
	}
	return size
}

func defaultIDGen() string {
	return uuid.NewString()
}

// Package download implements background model-artifact fetch jobs,
// grounded on the original SessionManager's start_download_job/
// _download_worker split (api/supervisor.py): a detached worker reports
// progress on the reserved "_download" broadcast channel, never on a
// per-session channel.
package download

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/loquilex/sessiond/internal/events"
	"github.com/loquilex/sessiond/internal/hub"
)

// Fetcher performs the actual artifact transfer for a repo id of the
// given type ("asr", "mt", "other"), reporting coarse progress via
// progress(0..100). Implementations need not report 100: Manager
// broadcasts 0 before and 100 after a successful Fetch. Kept as an interface so tests can substitute a fake
// transfer without touching the network or a real model cache.
type Fetcher interface {
	Fetch(repoID, typ string, progress func(pct int)) error
}

// Manager spawns and tracks download jobs, broadcasting their progress
// and terminal state on the hub's reserved download channel.
type Manager struct {
	hub     *hub.Hub
	fetcher Fetcher
}

// New constructs a Manager broadcasting through h using fetcher to
// perform transfers.
func New(h *hub.Hub, fetcher Fetcher) *Manager {
	return &Manager{hub: h, fetcher: fetcher}
}

// Start spawns a detached job fetching repoID (of the given type),
// returning its job id immediately. Progress and any terminal error are
// broadcast asynchronously on events.DownloadChannel; best-effort
// granularity, per spec — only start and completion are guaranteed.
func (m *Manager) Start(repoID, typ string) string {
	jobID := uuid.NewString()
	go m.run(jobID, repoID, typ)
	return jobID
}

func (m *Manager) run(jobID, repoID, typ string) {
	m.broadcastProgress(jobID, repoID, 0)

	err := m.fetcher.Fetch(repoID, typ, func(pct int) {
		m.broadcastProgress(jobID, repoID, pct)
	})
	if err != nil {
		m.hub.Broadcast(events.DownloadChannel, events.New(events.TypeError, map[string]any{
			"job_id": jobID,
			"error":  err.Error(),
		}))
		return
	}
	m.broadcastProgress(jobID, repoID, 100)
}

func (m *Manager) broadcastProgress(jobID, repoID string, pct int) {
	m.hub.Broadcast(events.DownloadChannel, events.New(events.TypeDownloadProgress, map[string]any{
		"job_id":   jobID,
		"repo_id":  repoID,
		"progress": pct,
	}))
}

// ErrUnsupportedType is returned by fetchers that only handle a known
// subset of artifact types.
func ErrUnsupportedType(typ string) error {
	return fmt.Errorf("download: unsupported artifact type %q", typ)
}

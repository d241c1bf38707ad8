package download

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loquilex/sessiond/internal/events"
	"github.com/loquilex/sessiond/internal/hub"
)

type recordingSub struct {
	mu  sync.Mutex
	got []events.Envelope
}

func (r *recordingSub) ID() string { return "rec" }
func (r *recordingSub) Send(env events.Envelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, env)
	return true
}
func (r *recordingSub) Close() {}

func (r *recordingSub) snapshot() []events.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Envelope, len(r.got))
	copy(out, r.got)
	return out
}

type fakeFetcher struct {
	fail bool
}

func (f *fakeFetcher) Fetch(repoID, typ string, progress func(pct int)) error {
	progress(50)
	if f.fail {
		return errors.New("network unreachable")
	}
	return nil
}

func TestStartBroadcastsStartAndCompletion(t *testing.T) {
	h := hub.New()
	sub := &recordingSub{}
	h.Register(events.DownloadChannel, sub)

	m := New(h, &fakeFetcher{})
	jobID := m.Start("org/model", "asr")
	if jobID == "" {
		t.Fatal("expected a non-empty job id")
	}

	waitFor(t, func() bool { return len(sub.snapshot()) >= 3 })

	got := sub.snapshot()
	if got[0].Fields["progress"] != 0 {
		t.Fatalf("expected first event to report 0%% progress, got %v", got[0].Fields)
	}
	last := got[len(got)-1]
	if last.Fields["progress"] != 100 {
		t.Fatalf("expected final event to report 100%% progress, got %v", last.Fields)
	}
	for _, env := range got {
		if env.Fields["job_id"] != jobID {
			t.Fatalf("expected every event to carry job id %q, got %v", jobID, env.Fields)
		}
	}
}

func TestStartEmitsErrorEventOnFailure(t *testing.T) {
	h := hub.New()
	sub := &recordingSub{}
	h.Register(events.DownloadChannel, sub)

	m := New(h, &fakeFetcher{fail: true})
	m.Start("org/model", "mt")

	waitFor(t, func() bool {
		for _, env := range sub.snapshot() {
			if env.Type == events.TypeError {
				return true
			}
		}
		return false
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

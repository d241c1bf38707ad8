package session

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/loquilex/sessiond/internal/events"
	"github.com/loquilex/sessiond/internal/hub"
	"github.com/loquilex/sessiond/internal/worker"
)

func newFakeLauncher() (WorkerLauncher, *worker.Worker) {
	// The Session Supervisor only interacts with *worker.Worker through its
	// exported surface (DrainUpTo, Exited, Stop), so for unit coverage we
	// spawn a real, short-lived shell process that prints fixed lines and
	// then blocks, giving deterministic control over when it exits.
	var w *worker.Worker
	launch := func(cfg worker.Env) (*worker.Worker, error) {
		var err error
		w, err = worker.Spawn("/bin/sh", []string{"-c",
			"printf 'EN \xe2\x89\xab hello\\n'; printf 'EN(final): hello world\\n'; printf 'Ready \xe2\x80\x94 start speaking now\\n'; trap 'exit 0' TERM; while true; do sleep 0.01; done"},
			cfg)
		return w, err
	}
	return launch, w
}

type recordingSub struct {
	id  string
	got []events.Envelope
}

func (r *recordingSub) ID() string { return r.id }
func (r *recordingSub) Send(env events.Envelope) bool {
	r.got = append(r.got, env)
	return true
}
func (r *recordingSub) Close() {}

func TestAdmissionRejectsSecondConcurrentCUDASession(t *testing.T) {
	h := hub.New()
	launch, _ := newFakeLauncher()
	sv := New(t.TempDir(), 1, h, launch)

	cfg := Config{Name: "s", ASRModelID: "base.en", Device: DeviceCUDA}
	first, err := sv.Create(cfg)
	if err != nil {
		t.Fatalf("first cuda session should be admitted: %v", err)
	}
	defer sv.Stop(first.ID)

	_, err = sv.Create(cfg)
	var admErr *AdmissionError
	if err == nil {
		t.Fatal("expected admission failure for second concurrent cuda session")
	}
	if ok := asAdmissionError(err, &admErr); !ok || admErr.Code != "GPU_BUSY" {
		t.Fatalf("expected GPU_BUSY admission error, got %v", err)
	}

	if err := sv.Stop(first.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	second, err := sv.Create(cfg)
	if err != nil {
		t.Fatalf("cuda session should be admitted after slot release: %v", err)
	}
	_ = sv.Stop(second.ID)
}

func asAdmissionError(err error, target **AdmissionError) bool {
	if ae, ok := err.(*AdmissionError); ok {
		*target = ae
		return true
	}
	return false
}

func TestStopUnknownSessionReturnsNotFound(t *testing.T) {
	h := hub.New()
	launch, _ := newFakeLauncher()
	sv := New(t.TempDir(), 1, h, launch)

	err := sv.Stop("does-not-exist")
	if _, ok := err.(*NotFoundError); !ok {
		t.Fatalf("expected NotFoundError, got %v (%T)", err, err)
	}
}

func TestPumpRoutesWorkerLinesToStorageReplayAndHub(t *testing.T) {
	h := hub.New()
	launch, _ := newFakeLauncher()
	sv := New(t.TempDir(), 1, h, launch)

	sess, err := sv.Create(Config{Name: "s", ASRModelID: "base.en", Device: DeviceCPU})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sub := &recordingSub{id: "watcher"}
	h.Register(sess.ID, sub)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		sv.pumpOne(sess)
		if sess.State() == StateOperational {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if sess.State() != StateOperational {
		t.Fatalf("expected session to reach operational state, got %v", sess.State())
	}

	var sawFinal bool
	for _, env := range sub.got {
		if env.Type == events.TypeFinalEN {
			sawFinal = true
		}
	}
	if !sawFinal {
		t.Fatal("expected a final_en envelope to be broadcast to the subscriber")
	}

	commits := sess.Storage.GetCommits(0, "", time.Time{})
	if len(commits) == 0 {
		t.Fatal("expected at least one durable commit recorded for the final line")
	}

	transcript, err := os.ReadFile(sess.RunDir + "/transcript_en.txt")
	if err != nil {
		t.Fatalf("expected a rolling transcript file: %v", err)
	}
	if !strings.Contains(string(transcript), "hello world") {
		t.Fatalf("expected transcript to contain the finalized line, got %q", transcript)
	}

	captions, err := os.ReadFile(sess.RunDir + "/captions_en.vtt")
	if err != nil {
		t.Fatalf("expected a WebVTT captions file: %v", err)
	}
	if !strings.HasPrefix(string(captions), "WEBVTT") {
		t.Fatalf("expected captions file to start with WEBVTT header, got %q", captions)
	}

	_ = sv.Stop(sess.ID)
}

// Package session implements the Session Supervisor: admission control,
// lifecycle state tracking, the shared pump that drains worker inboxes, and
// the audio-level meter task. It is the orchestrator tying the Worker,
// Event Stamper, Replay Buffer, Session Storage, and Subscriber Registry
// together into one running control plane, grounded on the original
// SessionManager's start/stop/log-pump/vu-pump split.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loquilex/sessiond/internal/events"
	"github.com/loquilex/sessiond/internal/hub"
	"github.com/loquilex/sessiond/internal/replay"
	"github.com/loquilex/sessiond/internal/stamp"
	"github.com/loquilex/sessiond/internal/storage"
	"github.com/loquilex/sessiond/internal/textio"
	"github.com/loquilex/sessiond/internal/vtt"
	"github.com/loquilex/sessiond/internal/worker"
)

// State is a session's lifecycle stage.
type State string

const (
	StateInitializing State = "initializing"
	StateOperational   State = "operational"
	StateStopping      State = "stopping"
	StateStopped       State = "stopped"
	StateFailed        State = "failed"
)

// Device preferences accepted by SessionConfig.
const (
	DeviceAuto = "auto"
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"
)

// SaveAudio modes accepted by SessionConfig.
const (
	SaveAudioOff  = "off"
	SaveAudioWAV  = "wav"
	SaveAudioFLAC = "flac"
)

// Config is the immutable session configuration supplied at creation.
type Config struct {
	Name           string
	ASRModelID     string
	MTEnabled      bool
	MTModelID      string
	DestLang       string
	Device         string
	VAD            bool
	Beams          int
	PauseFlushSec  float64
	SegmentMaxSec  float64
	PartialWordCap int
	SaveAudio      string
}

// AdmissionError reports resource exhaustion at session creation, e.g. a
// saturated CUDA slot pool. It is surfaced by the HTTP layer as a 400.
type AdmissionError struct {
	Code    string
	Message string
}

func (e *AdmissionError) Error() string { return e.Message }

// NotFoundError reports an unknown session id.
type NotFoundError struct {
	SessionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %q not found", e.SessionID)
}

// Session is one end-to-end transcription/translation pipeline: its
// configuration, run directory, worker handle, and the per-session state
// that the pump feeds (stamper, replay buffer, durable commit storage).
// Exclusively owned by the Supervisor; never constructed directly by callers.
type Session struct {
	ID        string
	Config    Config
	RunDir    string
	CreatedAt time.Time

	Worker  *worker.Worker
	Stamper *stamp.Stamper
	Replay  *replay.Buffer
	Storage *storage.Storage

	transcriptEN *textio.RollingWriter
	transcriptZH *textio.RollingWriter
	partialEN    *textio.PartialWriter
	partialZH    *textio.PartialWriter

	cueMu          sync.Mutex
	cuesEN         []vtt.Cue
	cuesZH         []vtt.Cue
	subtitlePathEN string
	subtitlePathZH string

	mu            sync.Mutex
	state         State
	stopRequested bool
}

// State returns the session's current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) markStopRequested() {
	s.mu.Lock()
	s.stopRequested = true
	s.mu.Unlock()
}

func (s *Session) wasStopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

// ReplayBufferCapacity and ReplayTTL size the per-session replay buffer.
// DefaultStorageConfig sizes the per-session durable commit archive.
var (
	ReplayBufferCapacity = 500
	ReplayTTL            = 5 * time.Minute

	DefaultStorageConfig = storage.Config{
		MaxCommits:    2000,
		MaxSizeBytes:  32 * 1024 * 1024,
		MaxAgeSeconds: 24 * 60 * 60,
	}
)

// pumpTickInterval and vuTickInterval are the fixed cadences of the two
// background supervisor tasks.
const (
	pumpTickInterval = 200 * time.Millisecond
	vuTickInterval   = 500 * time.Millisecond
	drainPerTick     = 20
)

// WorkerLauncher starts the external inference pipeline process for a
// session. Supplied by the caller so tests can substitute a fake command.
type WorkerLauncher func(cfg worker.Env) (*worker.Worker, error)

// Supervisor is the process-wide owner of all live sessions: admission
// control, the session registry, and the background pump/VU tasks. One
// Supervisor value is constructed at program entry and passed by reference
// into HTTP handlers; there is no ambient/global state.
type Supervisor struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cudaUsed int

	outputRoot      string
	maxCUDASessions int
	hub             *hub.Hub
	launch          WorkerLauncher
	log             *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Supervisor. maxCUDASessions <= 0 is treated as 1, the
// spec's default. Logging defaults to a no-op sink; call SetLogger to wire
// a real one (see internal/log).
func New(outputRoot string, maxCUDASessions int, h *hub.Hub, launch WorkerLauncher) *Supervisor {
	if maxCUDASessions <= 0 {
		maxCUDASessions = 1
	}
	return &Supervisor{
		sessions:        make(map[string]*Session),
		outputRoot:      outputRoot,
		maxCUDASessions: maxCUDASessions,
		hub:             h,
		launch:          launch,
		log:             zap.NewNop(),
		stopCh:          make(chan struct{}),
	}
}

// SetLogger installs the structured logger used for admission rejections,
// spawn failures, and lifecycle transitions. Safe to call once before Start.
func (sv *Supervisor) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	sv.log = l
}

// Start launches the shared pump and VU meter background tasks. Safe to
// call once per Supervisor lifetime.
func (sv *Supervisor) Start() {
	sv.wg.Add(2)
	go sv.pumpLoop()
	go sv.vuLoop()
}

// Shutdown stops the background tasks and every live session's worker.
func (sv *Supervisor) Shutdown() {
	sv.stopOnce.Do(func() { close(sv.stopCh) })
	sv.wg.Wait()

	sv.mu.Lock()
	sessions := make([]*Session, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		sessions = append(sessions, s)
	}
	sv.mu.Unlock()

	for _, s := range sessions {
		_ = sv.Stop(s.ID)
	}
}

// Create admits and starts a new session. Admission fails synchronously
// (no state is published) when the CUDA slot pool is saturated.
func (sv *Supervisor) Create(cfg Config) (*Session, error) {
	if cfg.Device == DeviceCUDA {
		sv.mu.Lock()
		full := sv.cudaUsed >= sv.maxCUDASessions
		sv.mu.Unlock()
		if full {
			sv.log.Warn("admission rejected", zap.String("code", "GPU_BUSY"), zap.Int("max_cuda_sessions", sv.maxCUDASessions))
			return nil, &AdmissionError{
				Code:    "GPU_BUSY",
				Message: "GPU busy: maximum concurrent CUDA sessions reached",
			}
		}
	}

	sid := uuid.NewString()
	runDir := filepath.Join(sv.outputRoot, sid)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	workerEnv := worker.Env{
		ASRModelID:     cfg.ASRModelID,
		MTModelID:      cfg.MTModelID,
		Device:         cfg.Device,
		VAD:            cfg.VAD,
		Beams:          cfg.Beams,
		PauseFlushSec:  cfg.PauseFlushSec,
		SegmentMaxSec:  cfg.SegmentMaxSec,
		PartialWordCap: cfg.PartialWordCap,
		OutputDir:      runDir,
		SaveAudio:      cfg.SaveAudio,
	}
	w, err := sv.launch(workerEnv)
	if err != nil {
		sv.log.Error("worker spawn failed", zap.String("asr_model_id", cfg.ASRModelID), zap.Error(err))
		return nil, fmt.Errorf("spawn worker: %w", err)
	}

	st, err := storage.New(sid, DefaultStorageConfig)
	if err != nil {
		return nil, fmt.Errorf("init session storage: %w", err)
	}

	sess := &Session{
		ID:             sid,
		Config:         cfg,
		RunDir:         runDir,
		CreatedAt:      time.Now(),
		Worker:         w,
		Stamper:        stamp.New(),
		Replay:         replay.New(ReplayBufferCapacity, ReplayTTL),
		Storage:        st,
		transcriptEN:   textio.NewRollingWriter(filepath.Join(runDir, "transcript_en.txt"), 0),
		transcriptZH:   textio.NewRollingWriter(filepath.Join(runDir, "transcript_zh.txt"), 0),
		partialEN:      textio.NewPartialWriter(filepath.Join(runDir, "partial_en.txt")),
		partialZH:      textio.NewPartialWriter(filepath.Join(runDir, "partial_zh.txt")),
		subtitlePathEN: filepath.Join(runDir, "captions_en.vtt"),
		subtitlePathZH: filepath.Join(runDir, "captions_zh.vtt"),
		state:          StateInitializing,
	}

	sv.mu.Lock()
	sv.sessions[sid] = sess
	if cfg.Device == DeviceCUDA {
		sv.cudaUsed++
	}
	sv.mu.Unlock()

	sv.log.Info("session created", zap.String("session_id", sid), zap.String("device", cfg.Device))
	sv.emit(sess, events.New(events.TypeStatus, map[string]any{"stage": events.StageInitializing}))
	return sess, nil
}

// Get returns the session for sid, if live.
func (sv *Supervisor) Get(sid string) (*Session, bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	s, ok := sv.sessions[sid]
	return s, ok
}

// Stop removes sid from the registry, requests graceful worker shutdown,
// and emits the terminal stopped event. Releases the session's admission
// slot, if any.
func (sv *Supervisor) Stop(sid string) error {
	sv.mu.Lock()
	sess, ok := sv.sessions[sid]
	if ok {
		delete(sv.sessions, sid)
		if sess.Config.Device == DeviceCUDA {
			sv.cudaUsed--
		}
	}
	sv.mu.Unlock()

	if !ok {
		return &NotFoundError{SessionID: sid}
	}

	sess.markStopRequested()
	sess.setState(StateStopping)
	_ = sess.Worker.Stop()
	sess.setState(StateStopped)
	sv.log.Info("session stopped", zap.String("session_id", sid))
	sv.emit(sess, events.New(events.TypeStatus, map[string]any{"stage": events.StageStopped}))
	return nil
}

// snapshot returns a copy of the live session list, safe to iterate
// without holding the registry lock.
func (sv *Supervisor) snapshot() []*Session {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	out := make([]*Session, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		out = append(out, s)
	}
	return out
}

func (sv *Supervisor) pumpLoop() {
	defer sv.wg.Done()
	ticker := time.NewTicker(pumpTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sv.stopCh:
			return
		case <-ticker.C:
			for _, s := range sv.snapshot() {
				sv.pumpOne(s)
			}
		}
	}
}

func (sv *Supervisor) pumpOne(s *Session) {
	envs := s.Worker.DrainUpTo(drainPerTick)
	for _, env := range envs {
		stamped := s.Stamper.Stamp(env)
		s.Replay.Add(stamped.Seq, stamped)

		if isDurable(stamped) {
			s.Storage.AddCommit(commitTypeFor(stamped), stamped.Fields, stamped.Seq)
		}
		sv.writeOutputArtifacts(s, stamped)
		sv.reactToLifecycle(s, stamped)
		sv.hub.Broadcast(s.ID, stamped)
	}

	if s.Worker.Exited() && !s.wasStopRequested() && s.State() != StateFailed {
		s.setState(StateFailed)
		sv.log.Warn("session worker exited unexpectedly", zap.String("session_id", s.ID))
		sv.emit(s, events.New(events.TypeStatus, map[string]any{"stage": events.StageFailed}))
		sv.mu.Lock()
		if _, ok := sv.sessions[s.ID]; ok {
			delete(sv.sessions, s.ID)
			if s.Config.Device == DeviceCUDA {
				sv.cudaUsed--
			}
		}
		sv.mu.Unlock()
	}
}

// reactToLifecycle transitions Initializing -> Operational the first time
// the worker's ready marker is observed, per the state machine in §4.H.
func (sv *Supervisor) reactToLifecycle(s *Session, env events.Envelope) {
	if env.Type != events.TypeStatus {
		return
	}
	if stage, _ := env.Fields["stage"].(string); stage == events.StageOperational {
		if s.State() == StateInitializing {
			s.setState(StateOperational)
			sv.log.Info("session operational", zap.String("session_id", s.ID))
		}
	}
}

func isDurable(env events.Envelope) bool {
	switch env.Type {
	case events.TypeFinalEN, events.TypeFinalZH, events.TypeStatus:
		return true
	default:
		return false
	}
}

func commitTypeFor(env events.Envelope) storage.CommitType {
	switch env.Type {
	case events.TypeFinalEN, events.TypeFinalZH:
		if env.Type == events.TypeFinalZH {
			return storage.CommitTranslation
		}
		return storage.CommitTranscript
	default:
		return storage.CommitStatus
	}
}

// writeOutputArtifacts persists the human-readable output files described
// by the persisted state layout (rolling transcript text, latest partial
// draft, WebVTT captions) from the parsed event stream. In the original
// implementation the worker process itself owns these files; here the
// supervisor derives them from the same stamped events it already routes
// to storage and the hub, since the worker is treated as an opaque child
// process whose stdout protocol carries no file-writing side effects.
func (sv *Supervisor) writeOutputArtifacts(s *Session, env events.Envelope) {
	text, _ := env.Fields["text"].(string)

	var err error
	switch env.Type {
	case events.TypePartialEN:
		err = s.partialEN.Set(text)
	case events.TypePartialZH:
		err = s.partialZH.Set(text)
	case events.TypeFinalEN:
		err = s.transcriptEN.Append(text)
		sv.appendCue(s, &s.cuesEN, s.subtitlePathEN, text)
	case events.TypeFinalZH:
		err = s.transcriptZH.Append(text)
		sv.appendCue(s, &s.cuesZH, s.subtitlePathZH, text)
	}
	if err != nil {
		sv.log.Warn("write transcript file failed", zap.String("session_id", s.ID), zap.Error(err))
	}
}

// appendCue adds one subtitle cue spanning from the end of the previous cue
// to a duration estimated from the finalized text's length (the worker's
// line protocol carries no real segment timing), then rewrites the WebVTT
// file with the full, clamped cue list.
func (sv *Supervisor) appendCue(s *Session, cues *[]vtt.Cue, path string, text string) {
	s.cueMu.Lock()
	defer s.cueMu.Unlock()

	start := 0.0
	if n := len(*cues); n > 0 {
		start = (*cues)[n-1].End
	}
	*cues = append(*cues, vtt.Cue{Start: start, End: start + estimateCueDuration(text), Text: text})

	if err := vtt.Write(*cues, path); err != nil {
		sv.log.Warn("write subtitle file failed", zap.String("session_id", s.ID), zap.Error(err))
	}
}

// estimateCueDuration approximates how long a finalized line would take to
// read aloud, at roughly 15 characters per second with a 0.6s floor.
func estimateCueDuration(text string) float64 {
	const charsPerSecond = 15.0
	const minDuration = 0.6
	d := float64(utf8.RuneCountInString(text)) / charsPerSecond
	if d < minDuration {
		return minDuration
	}
	return d
}

// vuLoop emits a best-effort audio-level meter event per active session.
// The source measures nothing real here either: substituting measured
// RMS/peak from the capture path is an open question left to implementers.
func (sv *Supervisor) vuLoop() {
	defer sv.wg.Done()
	ticker := time.NewTicker(vuTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sv.stopCh:
			return
		case <-ticker.C:
			for _, s := range sv.snapshot() {
				if s.State() != StateOperational {
					continue
				}
				vu := events.New(events.TypeVU, map[string]any{
					"rms":  0.05 + rand.Float64()*0.30,
					"peak": 0.20 + rand.Float64()*0.60,
				})
				sv.emit(s, vu)
			}
		}
	}
}

// emit stamps, records, and broadcasts an event generated by the
// supervisor itself (as opposed to one parsed from worker output).
func (sv *Supervisor) emit(s *Session, env events.Envelope) {
	stamped := s.Stamper.Stamp(env)
	s.Replay.Add(stamped.Seq, stamped)
	sv.hub.Broadcast(s.ID, stamped)
}

// WaitStopped blocks until ctx is done or the session's worker has exited.
func WaitStopped(ctx context.Context, s *Session) error {
	return s.Worker.Wait(ctx)
}

// Package worker owns the external inference pipeline child process for one
// session: spawning it with a frozen environment, draining its merged
// stdout/stderr line-by-line into a bounded inbox, and tearing it down with
// a graceful-then-forced shutdown sequence. A Worker value exclusively owns
// its child process handle, its reader goroutine, and its inbox; stopping it
// terminates the child and waits for the reader to drain and exit.
package worker

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loquilex/sessiond/internal/events"
	"github.com/loquilex/sessiond/internal/queue"
	"github.com/loquilex/sessiond/internal/util"
)

// InboxCapacity is the fixed size of each worker's bounded stdout inbox.
const InboxCapacity = 1000

// GracefulTimeout is how long Stop waits after a graceful terminate request
// before force-killing the child process.
const GracefulTimeout = 3 * time.Second

const readyMarker = "Ready — start speaking now"

// Env carries the SessionConfig fields that are frozen into the worker's
// environment at spawn time (the §6 worker environment contract). All
// values are passed through os/exec as strings. ToEnviron sets every
// variable on every spawn: a zero-valued field is passed as an empty
// string or "0", not left out of the environment.
type Env struct {
	ASRModelID     string
	MTModelID      string
	Device         string
	VAD            bool
	Beams          int
	PauseFlushSec  float64
	SegmentMaxSec  float64
	PartialWordCap int
	OutputDir      string
	SaveAudio      string
}

// ToEnviron renders e as NAME=value pairs appended to the process
// environment, using the GF_-prefixed names the inference pipeline expects.
func (e Env) ToEnviron(base []string) []string {
	vad := "0"
	if e.VAD {
		vad = "1"
	}
	out := append([]string{}, base...)
	out = append(out,
		"GF_ASR_MODEL="+e.ASRModelID,
		"GF_MT_MODEL="+e.MTModelID,
		"GF_DEVICE="+e.Device,
		"GF_ASR_VAD="+vad,
		"GF_ASR_BEAM="+strconv.Itoa(e.Beams),
		"GF_PAUSE_FLUSH_SEC="+strconv.FormatFloat(e.PauseFlushSec, 'f', -1, 64),
		"GF_SEGMENT_MAX_SEC="+strconv.FormatFloat(e.SegmentMaxSec, 'f', -1, 64),
		"GF_PARTIAL_WORD_CAP="+strconv.Itoa(e.PartialWordCap),
		"GF_OUT_DIR="+e.OutputDir,
		"GF_SAVE_AUDIO="+e.SaveAudio,
	)
	return out
}

// Worker supervises one child process and its stdout pump.
type Worker struct {
	cmd    *exec.Cmd
	inbox  *queue.Bounded[string]
	wg     sync.WaitGroup
	mu     sync.Mutex
	exited bool
	exitErr error
}

// Spawn starts command/args with env frozen from cfg, merging stdout and
// stderr into a single stream consumed by a dedicated reader goroutine that
// drains into a bounded, drop-oldest inbox. Spawn failures are returned
// synchronously and publish no session state, matching the supervisor's
// failure contract.
func Spawn(command string, args []string, cfg Env) (*Worker, error) {
	inbox, err := queue.New[string]("worker-inbox", InboxCapacity)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(command, args...)
	cmd.Env = cfg.ToEnviron(os.Environ())
	util.SetDetachedProcess(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	w := &Worker{cmd: cmd, inbox: inbox}
	w.wg.Add(1)
	util.SafeGo(func() { w.pumpStdout(stdout) })
	return w, nil
}

// pumpStdout reads lines until the pipe closes (the process exited and the
// stream is drained), pushing each into the bounded inbox. Never blocks on a
// full inbox: overflow drops the oldest buffered line.
func (w *Worker) pumpStdout(r io.Reader) {
	defer w.wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		w.inbox.Put(scanner.Text())
	}
	w.mu.Lock()
	w.exited = true
	w.mu.Unlock()
}

// DrainUpTo removes up to n decoded lines from the inbox, converting each to
// a typed event per the worker line protocol. Used by the pump to bound
// per-session work each tick.
func (w *Worker) DrainUpTo(n int) []events.Envelope {
	lines := w.inbox.DrainUpTo(n)
	out := make([]events.Envelope, 0, len(lines))
	for _, line := range lines {
		out = append(out, ParseLine(line))
	}
	return out
}

// InboxTelemetry exposes the bounded inbox's drop telemetry.
func (w *Worker) InboxTelemetry() queue.Telemetry {
	return w.inbox.Telemetry()
}

// Exited reports whether the child process has exited, independent of
// whether Stop was ever called.
func (w *Worker) Exited() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exited
}

// Stop requests graceful termination, waits up to GracefulTimeout, then
// force-kills if the process is still alive. Blocks until the reader
// goroutine has drained the stream and exited.
func (w *Worker) Stop() error {
	if w.cmd.Process == nil {
		return nil
	}
	_ = w.cmd.Process.Signal(gracefulSignal())

	done := make(chan error, 1)
	go func() { done <- w.cmd.Wait() }()

	select {
	case err := <-done:
		w.wg.Wait()
		w.recordExit(err)
		return nil
	case <-time.After(GracefulTimeout):
		_ = w.cmd.Process.Kill()
		err := <-done
		w.wg.Wait()
		w.recordExit(err)
		return nil
	}
}

// Wait blocks until the process has exited (however that happened) without
// requesting termination, honoring ctx cancellation.
func (w *Worker) Wait(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- w.cmd.Wait() }()
	select {
	case err := <-done:
		w.wg.Wait()
		w.recordExit(err)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) recordExit(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.exited = true
	w.exitErr = err
}

// ParseLine classifies one decoded stdout line per the worker line protocol
// and returns the corresponding unstamped event envelope.
func ParseLine(line string) events.Envelope {
	trimmed := strings.TrimRight(line, "\r\n")
	switch {
	case strings.HasPrefix(trimmed, "EN ≫ "):
		text := strings.TrimSpace(strings.TrimPrefix(trimmed, "EN ≫ "))
		return events.New(events.TypePartialEN, map[string]any{"text": text})
	case strings.HasPrefix(trimmed, "ZH* ≫ "):
		text := strings.TrimSpace(strings.TrimPrefix(trimmed, "ZH* ≫ "))
		return events.New(events.TypePartialZH, map[string]any{"text": text})
	case strings.HasPrefix(trimmed, "EN(final):"):
		text := strings.TrimSpace(after(trimmed, ":"))
		return events.New(events.TypeFinalEN, map[string]any{"text": text})
	case strings.HasPrefix(trimmed, "ZH:"):
		text := strings.TrimSpace(after(trimmed, ":"))
		return events.New(events.TypeFinalZH, map[string]any{"text": text})
	case strings.Contains(trimmed, readyMarker):
		return events.New(events.TypeStatus, map[string]any{"stage": events.StageOperational, "log": trimmed})
	default:
		return events.New(events.TypeStatus, map[string]any{"log": trimmed})
	}
}

func after(s, sep string) string {
	i := strings.Index(s, sep)
	if i < 0 {
		return s
	}
	return s[i+len(sep):]
}


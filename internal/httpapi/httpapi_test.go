package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/loquilex/sessiond/internal/download"
	"github.com/loquilex/sessiond/internal/hub"
	"github.com/loquilex/sessiond/internal/models"
	"github.com/loquilex/sessiond/internal/session"
	"github.com/loquilex/sessiond/internal/worker"
)

type noopFetcher struct{}

func (noopFetcher) Fetch(repoID, typ string, progress func(pct int)) error {
	progress(100)
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	h := hub.New()
	outRoot := t.TempDir()
	launch := func(cfg worker.Env) (*worker.Worker, error) {
		return worker.Spawn("/bin/sh", []string{"-c", "trap 'exit 0' TERM; while true; do sleep 0.01; done"}, cfg)
	}
	sv := session.New(outRoot, 1, h, launch)
	registry := models.NewRegistry(t.TempDir(), t.TempDir())
	dl := download.New(h, noopFetcher{})
	return New(sv, h, registry, dl, outRoot, "s3cret")
}

func TestCreateSessionReturns400OnAdmissionFailure(t *testing.T) {
	srv := newTestServer(t)

	body1, _ := json.Marshal(map[string]any{"asr_model_id": "base.en", "device": "cuda"})
	req1 := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(body1))
	rec1 := httptest.NewRecorder()
	srv.Engine.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected first cuda session to succeed, got %d: %s", rec1.Code, rec1.Body.String())
	}

	req2 := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(body1))
	rec2 := httptest.NewRecorder()
	srv.Engine.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusBadRequest {
		t.Fatalf("expected second concurrent cuda session to be rejected with 400, got %d", rec2.Code)
	}
}

func TestStopUnknownSessionReturns404(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodDelete, "/sessions/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.Engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAdminRouteRequiresBearerToken(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/cache/clear", nil)
	rec := httptest.NewRecorder()
	srv.Engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no credential, got %d", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/admin/cache/clear", nil)
	req2.Header.Set("Authorization", "Bearer wrong")
	rec2 := httptest.NewRecorder()
	srv.Engine.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with a bad credential, got %d", rec2.Code)
	}

	req3 := httptest.NewRequest(http.MethodPost, "/admin/cache/clear", nil)
	req3.Header.Set("Authorization", "Bearer s3cret")
	rec3 := httptest.NewRecorder()
	srv.Engine.ServeHTTP(rec3, req3)
	if rec3.Code != http.StatusOK {
		t.Fatalf("expected 200 with the correct credential, got %d", rec3.Code)
	}
}

func TestStartDownloadReturnsJobID(t *testing.T) {
	srv := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"repo_id": "org/model", "type": "asr"})
	req := httptest.NewRequest(http.MethodPost, "/models/download", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["job_id"] == "" {
		t.Fatal("expected a non-empty job_id")
	}
}

func TestStaticOutMountServesFiles(t *testing.T) {
	srv := newTestServer(t)

	sess, err := srv.supervisor.Create(session.Config{ASRModelID: "base.en", Device: session.DeviceCPU})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer srv.supervisor.Stop(sess.ID)

	filePath := sess.RunDir + "/transcript_en.txt"
	if err := os.WriteFile(filePath, []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/out/"+sess.ID+"/transcript_en.txt", nil)
	rec := httptest.NewRecorder()
	srv.Engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 serving the static file, got %d", rec.Code)
	}
	if rec.Body.String() != "hello\n" {
		t.Fatalf("expected file contents to round-trip, got %q", rec.Body.String())
	}
}

package log

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestNewWritesJSONLinesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessiond.jsonl")
	logger, err := New(path, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("session created", zap.String("session_id", "abc123"))
	if err := logger.Sync(); err != nil {
		t.Logf("sync: %v (acceptable on some platforms for stderr cores)", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(firstLine(data), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v\nraw: %s", err, data)
	}
	if entry["msg"] != "session created" {
		t.Fatalf("expected msg field, got %v", entry["msg"])
	}
	if entry["session_id"] != "abc123" {
		t.Fatalf("expected session_id field, got %v", entry["session_id"])
	}
}

func TestNewWithEmptyPathDisablesFileSink(t *testing.T) {
	logger, err := New("", false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("no file sink configured")
}

func firstLine(data []byte) []byte {
	for i, b := range data {
		if b == '\n' {
			return data[:i]
		}
	}
	return data
}

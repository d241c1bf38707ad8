package textio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRollingWriterKeepsLastNLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript_en.txt")
	w := NewRollingWriter(path, 3)

	for i := 0; i < 5; i++ {
		if err := w.Append(line(i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	got := strings.TrimRight(string(data), "\n")
	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 surviving lines, got %d: %v", len(lines), lines)
	}
	if lines[0] != line(2) || lines[2] != line(4) {
		t.Fatalf("expected the last 3 lines to survive in order, got %v", lines)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Fatal("expected file to end with a trailing newline")
	}
}

func TestRollingWriterToleratesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does", "not", "exist", "transcript.txt")
	w := NewRollingWriter(path, 10)
	if err := w.Append("first line"); err != nil {
		t.Fatalf("Append should create parent dirs and file: %v", err)
	}
}

func TestPartialWriterAlwaysHoldsOneLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial_en.txt")
	w := NewPartialWriter(path)

	if err := w.Set("draft one"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := w.Set("draft two, longer than the first"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	got := strings.TrimRight(string(data), "\n")
	if got != "draft two, longer than the first" {
		t.Fatalf("expected only the latest draft to survive, got %q", got)
	}
	if strings.Count(string(data), "\n") != 1 {
		t.Fatalf("expected exactly one line in the partial file, got %q", data)
	}
}

func line(i int) string {
	return "line " + string(rune('0'+i))
}

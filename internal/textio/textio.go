// Package textio implements the rolling transcript and partial-draft text
// files described by the persisted state layout: a finalized-text file
// capped at the last N lines, and a partial-draft file that always holds
// exactly the latest single line. Grounded on the original's
// RuntimeDefaults.max_lines convention (config/defaults.py). Writes are
// synchronous on the caller's goroutine.
package textio

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultMaxLines is the rolling final-transcript cap used when a writer
// is not constructed with an explicit override.
const DefaultMaxLines = 1000

// RollingWriter appends finalized lines to a file, keeping only the last
// MaxLines lines. Safe for concurrent use by multiple goroutines writing
// to the same logical stream (e.g. the pump and a manual flush path).
type RollingWriter struct {
	mu       sync.Mutex
	path     string
	maxLines int
}

// NewRollingWriter returns a writer over path, capped at maxLines (or
// DefaultMaxLines if maxLines <= 0).
func NewRollingWriter(path string, maxLines int) *RollingWriter {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &RollingWriter{path: path, maxLines: maxLines}
}

// Append adds line to the file, then truncates to the last MaxLines
// lines. The file always ends with a trailing newline.
func (w *RollingWriter) Append(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	lines, err := readLines(w.path)
	if err != nil {
		return err
	}
	lines = append(lines, line)
	if len(lines) > w.maxLines {
		lines = lines[len(lines)-w.maxLines:]
	}
	return writeLines(w.path, lines)
}

// PartialWriter rewrites a file in place with exactly one line: the
// latest draft text. Used for partial (non-final) transcript output.
type PartialWriter struct {
	mu   sync.Mutex
	path string
}

// NewPartialWriter returns a writer over path.
func NewPartialWriter(path string) *PartialWriter {
	return &PartialWriter{path: path}
}

// Set overwrites the file's sole line with text.
func (w *PartialWriter) Set(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return writeLines(w.path, []string{text})
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("textio: open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("textio: read %s: %w", path, err)
	}
	return lines, nil
}

func writeLines(path string, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("textio: create parent dir: %w", err)
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("textio: write %s: %w", path, err)
	}
	return nil
}

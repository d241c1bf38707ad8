// Package retention implements the filesystem TTL and size-cap garbage
// collector that sweeps a session output root: old files age out first, and
// if the tree still exceeds a byte budget, the oldest survivors are deleted
// next until it fits. Individual file errors are logged and skipped; the
// sweep itself never fails because one file couldn't be removed.
package retention

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Policy bounds one retention sweep.
type Policy struct {
	TTLSeconds float64 // <= 0 disables the TTL pass
	MaxBytes   int64   // <= 0 disables the size pass
}

// Logger receives one call per file the sweep could not delete, for
// diagnostics. Retention never raises on a per-file error.
type Logger func(path string, err error)

// Result summarizes one completed sweep.
type Result struct {
	DeletedCount   int
	RemainingBytes int64
}

type fileInfo struct {
	path  string
	mtime time.Time
	size  int64
}

// Sweep walks root recursively, deletes every file older than
// policy.TTLSeconds (TTL pass), then re-enumerates and — if policy.MaxBytes
// is set and the tree still exceeds it — deletes files oldest-mtime-first
// (size pass) until it fits. Missing files are tolerated silently; any other
// per-file error is reported to log (which may be nil) and the sweep
// continues. Idempotent: sweeping an already-compliant tree deletes nothing.
func Sweep(root string, policy Policy, log Logger) Result {
	deleted := 0

	if policy.TTLSeconds > 0 {
		cutoff := time.Now().Add(-time.Duration(policy.TTLSeconds * float64(time.Second)))
		for _, f := range enumerate(root) {
			if f.mtime.Before(cutoff) && deleteFile(f.path, log) {
				deleted++
			}
		}
	}

	if policy.MaxBytes > 0 {
		files := enumerate(root)
		sort.Slice(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })

		var total int64
		for _, f := range files {
			total += f.size
		}
		for _, f := range files {
			if total <= policy.MaxBytes {
				break
			}
			if deleteFile(f.path, log) {
				total -= f.size
				deleted++
			}
		}
	}

	var remainingBytes int64
	for _, f := range enumerate(root) {
		remainingBytes += f.size
	}
	return Result{DeletedCount: deleted, RemainingBytes: remainingBytes}
}

func enumerate(root string) []fileInfo {
	var out []fileInfo
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // tolerate transient stat errors, continue the walk
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out = append(out, fileInfo{path: path, mtime: info.ModTime(), size: info.Size()})
		return nil
	})
	return out
}

func deleteFile(path string, log Logger) bool {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return true
		}
		if log != nil {
			log(path, err)
		}
		return false
	}
	return true
}

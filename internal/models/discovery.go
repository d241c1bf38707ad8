// Package models discovers locally cached ASR/MT model artifacts and
// reports their capabilities, grounded on the original's
// loquilex/capabilities/asr.py probe and api/server.py's /models/* routes.
// ML internals are a non-goal (spec.md §1); this package never loads a
// model, it only inspects a cache directory's layout and an in-repo
// fallback language table for well-known model families.
package models

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Info describes one discovered model artifact.
type Info struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

// Capabilities describes what a named ASR model supports.
type Capabilities struct {
	Kind         string            `json:"kind"`
	Model        string            `json:"model"`
	SupportsAuto bool              `json:"supports_auto"`
	Languages    []string          `json:"languages"`
	Tokens       map[string]string `json:"tokens"`
}

// Registry discovers models under an HF-cache-style directory
// (models--<org>--<name>) and caches the listing until invalidated by a
// filesystem change or an explicit Clear call. One Registry covers both
// the ASR and MT cache roots.
type Registry struct {
	asrRoot string
	mtRoot  string

	mu       sync.RWMutex
	asrCache []Info
	mtCache  []Info
	primed   bool

	watcher *fsnotify.Watcher
}

// NewRegistry constructs a Registry over the given cache roots. If
// fsnotify.NewWatcher fails (e.g. inotify limits exhausted), the registry
// still works but only invalidates its cache on an explicit Clear call.
func NewRegistry(asrRoot, mtRoot string) *Registry {
	r := &Registry{asrRoot: asrRoot, mtRoot: mtRoot}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return r
	}
	_ = w.Add(asrRoot)
	if mtRoot != asrRoot {
		_ = w.Add(mtRoot)
	}
	r.watcher = w
	go r.watchLoop()
	return r
}

func (r *Registry) watchLoop() {
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				r.Clear()
			}
		case _, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the underlying filesystem watch, if any.
func (r *Registry) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// Clear invalidates the cached listings so the next ListASR/ListMT call
// re-scans the cache directories.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.primed = false
	r.mu.Unlock()
}

// ListASR returns discovered ASR models.
func (r *Registry) ListASR() []Info {
	r.ensurePrimed()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Info(nil), r.asrCache...)
}

// ListMT returns discovered MT models.
func (r *Registry) ListMT() []Info {
	r.ensurePrimed()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Info(nil), r.mtCache...)
}

func (r *Registry) ensurePrimed() {
	r.mu.RLock()
	primed := r.primed
	r.mu.RUnlock()
	if primed {
		return
	}

	asr := scanCacheDir(r.asrRoot)
	mt := scanCacheDir(r.mtRoot)

	r.mu.Lock()
	r.asrCache = asr
	r.mtCache = mt
	r.primed = true
	r.mu.Unlock()
}

// scanCacheDir lists immediate subdirectories named models--<org>--<name>
// (the Hugging Face hub cache convention) and derives a human-readable
// name and id from each.
func scanCacheDir(root string) []Info {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var out []Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "models--") {
			continue
		}
		id := strings.TrimPrefix(name, "models--")
		id = strings.ReplaceAll(id, "--", "/")
		out = append(out, Info{
			ID:   id,
			Name: id,
			Path: filepath.Join(root, name),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Package state centralizes filesystem locations for sessiond runtime artifacts.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// StateDirEnv overrides the default runtime state root.
	StateDirEnv = "LX_STATE_DIR"

	// OutRootEnv overrides the default session output root.
	OutRootEnv = "LX_OUT_ROOT"

	xdgStateHomeEnv = "XDG_STATE_HOME"
	appName         = "sessiond"
)

// RootDir returns the runtime state root for sessiond.
// Resolution order:
//  1. LX_STATE_DIR (if set)
//  2. XDG_STATE_HOME/sessiond (if XDG_STATE_HOME is set)
//  3. os.UserConfigDir()/sessiond (cross-platform fallback)
func RootDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv(StateDirEnv)); override != "" {
		return normalizePath(override)
	}

	if xdg := strings.TrimSpace(os.Getenv(xdgStateHomeEnv)); xdg != "" {
		root, err := normalizePath(xdg)
		if err != nil {
			return "", err
		}
		return filepath.Join(root, appName), nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	root, err := normalizePath(configDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, appName), nil
}

// LogsDir returns the logs directory under RootDir.
func LogsDir() (string, error) {
	return InRoot("logs")
}

// DefaultLogFile returns the default structured log file path.
func DefaultLogFile() (string, error) {
	return InRoot("logs", "sessiond.jsonl")
}

// PIDFile returns the PID file path for the given server port.
func PIDFile(port int) (string, error) {
	return InRoot("run", "sessiond-"+strconv.Itoa(port)+".pid")
}

// OutRoot returns the session output root: the directory under which every
// session's run directory (<out_root>/<session_id>/...) is created.
// Resolution order: LX_OUT_ROOT env override, else <RootDir>/out.
func OutRoot() (string, error) {
	if override := strings.TrimSpace(os.Getenv(OutRootEnv)); override != "" {
		return normalizePath(override)
	}
	return InRoot("out")
}

// InRoot returns a path rooted under RootDir with additional path elements.
func InRoot(parts ...string) (string, error) {
	root, err := RootDir()
	if err != nil {
		return "", err
	}
	all := make([]string, 0, len(parts)+1)
	all = append(all, root)
	all = append(all, parts...)
	return filepath.Join(all...), nil
}

// SafeJoin joins rel onto root and confines the result to root, rejecting any
// path that escapes it via ".." segments. An absolute rel is joined under
// root like a relative one. No other package in this repository calls it:
// the /out/... mount relies on gin's Static (http.Dir) for confinement, and
// the retention sweep walks the output root directly.
func SafeJoin(root, rel string) (string, error) {
	cleanRoot, err := normalizePath(root)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(cleanRoot, rel)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes root %q", rel, cleanRoot)
	}
	return joined, nil
}

func normalizePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path %q: %w", path, err)
	}
	return filepath.Clean(absPath), nil
}

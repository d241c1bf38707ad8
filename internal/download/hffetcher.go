package download

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// HFFetcher downloads a single-file model artifact from the Hugging Face
// Hub resolve endpoint into cacheDir, grounded on the original's reliance
// on huggingface_hub.snapshot_download (api/supervisor.py
// _download_worker) — reimplemented here with net/http since no example
// repo in the pack vendors an HF client library (see DESIGN.md).
type HFFetcher struct {
	CacheDir string
	Client   *http.Client
}

// NewHFFetcher builds a fetcher rooted at cacheDir using http.DefaultClient.
func NewHFFetcher(cacheDir string) *HFFetcher {
	return &HFFetcher{CacheDir: cacheDir, Client: http.DefaultClient}
}

const hfResolveURLFormat = "https://huggingface.co/%s/resolve/main/%s"

// Fetch downloads repoID's config.json into a HF-cache-style directory
// (models--org--name/snapshots/main/), reporting fixed milestones: 10 once
// the response headers arrive and 90 once the body is written. typ must be
// "asr" or "mt" (anything else returns ErrUnsupportedType); both use the
// same resolve layout.
func (f *HFFetcher) Fetch(repoID, typ string, progress func(pct int)) error {
	if typ != "asr" && typ != "mt" {
		return ErrUnsupportedType(typ)
	}

	dirName := "models--" + sanitizeRepoID(repoID)
	destDir := filepath.Join(f.CacheDir, dirName, "snapshots", "main")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("download: create cache dir: %w", err)
	}

	url := fmt.Sprintf(hfResolveURLFormat, repoID, "config.json")
	resp, err := f.Client.Get(url)
	if err != nil {
		return fmt.Errorf("download: fetch %s: %w", repoID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download: %s returned status %s", repoID, resp.Status)
	}

	out, err := os.Create(filepath.Join(destDir, "config.json"))
	if err != nil {
		return fmt.Errorf("download: create destination file: %w", err)
	}
	defer out.Close()

	progress(10)
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("download: write %s: %w", repoID, err)
	}
	progress(90)
	return nil
}

func sanitizeRepoID(repoID string) string {
	out := make([]byte, 0, len(repoID))
	for i := 0; i < len(repoID); i++ {
		if repoID[i] == '/' {
			out = append(out, '-', '-')
			continue
		}
		out = append(out, repoID[i])
	}
	return string(out)
}

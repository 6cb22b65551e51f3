package usecase

import (
	"log/slog"
	"os"
	"sync"
)

// artifacts tracks the temp files and dirs a job owns. Everything registered
// is removed by cleanup unless it was handed over with keep.
type artifacts struct {
	mu    sync.Mutex
	files []string
	dirs  []string
	kept  map[string]bool
}

func newArtifacts() *artifacts {
	return &artifacts{kept: map[string]bool{}}
}

func (a *artifacts) add(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files = append(a.files, path)
}

func (a *artifacts) addDir(dir string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dirs = append(a.dirs, dir)
}

func (a *artifacts) keep(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kept[path] = true
}

func (a *artifacts) cleanup(logger *slog.Logger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, f := range a.files {
		if a.kept[f] {
			continue
		}
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			logger.Warn("remove temp file", "path", f, "error", err)
		}
	}
	for _, d := range a.dirs {
		if err := os.RemoveAll(d); err != nil {
			logger.Warn("remove temp dir", "path", d, "error", err)
		}
	}
	a.files, a.dirs = nil, nil
}

// Package watch drives continuous incremental refresh from filesystem
// change events, supplementing the engine's single-shot update operation
// with the driver a long-lived deployment actually uses.
package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vecindex/engine/internal/config"
	"github.com/vecindex/engine/internal/refresh"
	"github.com/vecindex/engine/pkg/types"
)

// Watcher watches a project directory and issues incremental refresh
// updates against a single tag as files change.
type Watcher struct {
	config      *config.Config
	coordinator *refresh.Coordinator
	tag         types.Tag
	repoName    string
	projectDir  string

	fsw *fsnotify.Watcher

	pendingMu    sync.Mutex
	pendingFiles map[string]time.Time
	debounceTime time.Duration

	knownMu   sync.Mutex
	knownKeys map[string]string // path -> cacheKey most recently marked complete
}

// Config configures a Watcher.
type Config struct {
	ProjectDir   string
	Config       *config.Config
	Coordinator  *refresh.Coordinator
	Tag          types.Tag
	RepoName     string
	DebounceTime time.Duration // default 500ms
}

// New creates a Watcher.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounceTime := cfg.DebounceTime
	if debounceTime == 0 {
		debounceTime = 500 * time.Millisecond
	}

	return &Watcher{
		config:       cfg.Config,
		coordinator:  cfg.Coordinator,
		tag:          cfg.Tag,
		repoName:     cfg.RepoName,
		projectDir:   cfg.ProjectDir,
		fsw:          fsw,
		pendingFiles: make(map[string]time.Time),
		debounceTime: debounceTime,
		knownKeys:    make(map[string]string),
	}, nil
}

// Watch blocks, issuing incremental refreshes as matching files change,
// until ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := w.addWatchDirs(); err != nil {
		return err
	}

	slog.Info("watching for file changes", "dir", w.projectDir)

	go w.processDebounced(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping watcher")
			return w.fsw.Close()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "error", err)
		}
	}
}

// Close closes the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) addWatchDirs() error {
	return filepath.WalkDir(w.projectDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		relPath, _ := filepath.Rel(w.projectDir, path)
		for _, pattern := range w.config.Index.Exclude {
			if matchGlob(pattern, relPath+"/") {
				return filepath.SkipDir
			}
		}
		if strings.HasPrefix(d.Name(), ".") && d.Name() != ".vecindex" && path != w.projectDir {
			return filepath.SkipDir
		}

		if err := w.fsw.Add(path); err != nil {
			slog.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	path := event.Name
	relPath, err := filepath.Rel(w.projectDir, path)
	if err != nil {
		return
	}

	included := false
	for _, pattern := range w.config.Index.Include {
		if matchGlob(pattern, relPath) {
			included = true
			break
		}
	}
	if !included {
		return
	}
	for _, pattern := range w.config.Index.Exclude {
		if matchGlob(pattern, relPath) {
			return
		}
	}

	w.pendingMu.Lock()
	w.pendingFiles[path] = time.Now()
	w.pendingMu.Unlock()

	slog.Debug("file changed", "path", relPath, "op", event.Op.String())
}

func (w *Watcher) processDebounced(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processPendingFiles(ctx)
		}
	}
}

func (w *Watcher) processPendingFiles(ctx context.Context) {
	w.pendingMu.Lock()
	now := time.Now()
	var toProcess []string
	for path, changedAt := range w.pendingFiles {
		if now.Sub(changedAt) >= w.debounceTime {
			toProcess = append(toProcess, path)
			delete(w.pendingFiles, path)
		}
	}
	w.pendingMu.Unlock()

	if len(toProcess) == 0 {
		return
	}
	w.refreshFiles(ctx, toProcess)
}

// refreshFiles builds a minimal RefreshResults diff for the changed paths
// and drives one coordinator update per batch.
func (w *Watcher) refreshFiles(ctx context.Context, paths []string) {
	var compute, del []types.RefreshItem

	for _, path := range paths {
		relPath, err := filepath.Rel(w.projectDir, path)
		if err != nil {
			relPath = path
		}

		info, statErr := os.Stat(path)
		if os.IsNotExist(statErr) {
			w.knownMu.Lock()
			lastKey, known := w.knownKeys[relPath]
			delete(w.knownKeys, relPath)
			w.knownMu.Unlock()
			if known {
				del = append(del, types.RefreshItem{Path: relPath, CacheKey: lastKey})
			}
			continue
		}
		if statErr != nil || info.IsDir() {
			continue
		}

		contents, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("watch: failed to read changed file", "path", relPath, "error", err)
			continue
		}
		cacheKey := hashContents(contents)

		w.knownMu.Lock()
		lastKey, known := w.knownKeys[relPath]
		w.knownMu.Unlock()
		if known && lastKey == cacheKey {
			continue
		}

		compute = append(compute, types.RefreshItem{Path: relPath, CacheKey: cacheKey})
	}

	if len(compute) == 0 && len(del) == 0 {
		return
	}

	slog.Info("re-refreshing changed files", "compute", len(compute), "delete", len(del))

	markComplete := func(items []types.RefreshItem, kind types.ResultKind) {
		if kind != types.ResultCompute {
			return
		}
		w.knownMu.Lock()
		for _, item := range items {
			w.knownKeys[item.Path] = item.CacheKey
		}
		w.knownMu.Unlock()
	}

	results := types.RefreshResults{Compute: compute, Del: del}
	for ev := range w.coordinator.Update(ctx, w.tag, results, markComplete, w.repoName) {
		if ev.Err != nil {
			slog.Error("watch: refresh failed", "error", ev.Err)
			continue
		}
		if ev.Done {
			slog.Debug("watch: refresh batch complete")
		}
	}
}

// hashContents returns a stable cache key for file contents.
func hashContents(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// matchGlob matches a path against a glob pattern, supporting a leading
// "**/" wildcard segment in addition to filepath.Match's syntax.
func matchGlob(pattern, path string) bool {
	if strings.Contains(pattern, "**") {
		parts := strings.Split(pattern, "**")
		if len(parts) == 2 {
			prefix := strings.TrimSuffix(parts[0], "/")
			suffix := strings.TrimPrefix(parts[1], "/")

			if prefix != "" && !strings.HasPrefix(path, prefix) {
				return false
			}
			if suffix == "" {
				return true
			}
			if strings.Contains(suffix, "*") {
				base := filepath.Base(path)
				if matched, _ := filepath.Match(suffix, base); matched {
					return true
				}
				remaining := path
				if prefix != "" {
					remaining = strings.TrimPrefix(remaining, prefix)
					remaining = strings.TrimPrefix(remaining, "/")
				}
				matched, _ := filepath.Match(suffix, remaining)
				return matched
			}
			return strings.HasSuffix(path, suffix) || strings.Contains(path, suffix)
		}
	}

	if matched, _ := filepath.Match(pattern, path); matched {
		return true
	}
	matched, _ := filepath.Match(pattern, filepath.Base(path))
	return matched
}

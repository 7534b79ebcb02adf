package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/vecindex/engine/internal/config"
	"github.com/vecindex/engine/pkg/types"
)

// manifest is the CLI's own record of the last cacheKey observed for every
// indexed path. The engine has no upstream refresh-result producer of its
// own (that component is out of scope); this is the trivial local one the
// refresh command uses to compute compute/del diffs between runs.
type manifest struct {
	ConfigHash string            `json:"config_hash"`
	Files      map[string]string `json:"files"`
}

func manifestPath(projectRoot string) string {
	return filepath.Join(config.ConfigDir(projectRoot), "manifest.json")
}

func loadManifest(projectRoot string) *manifest {
	data, err := os.ReadFile(manifestPath(projectRoot))
	if err != nil {
		return &manifest{Files: make(map[string]string)}
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return &manifest{Files: make(map[string]string)}
	}
	if m.Files == nil {
		m.Files = make(map[string]string)
	}
	return &m
}

func saveManifest(projectRoot string, m *manifest) error {
	if err := os.MkdirAll(config.ConfigDir(projectRoot), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(manifestPath(projectRoot), data, 0644)
}

// computeDiff walks projectRoot honoring cfg's include/exclude globs and
// diffs the observed file set against m, producing a RefreshResults with
// only Compute and Del populated (this CLI never uses addTag/removeTag,
// since it drives exactly one tag per project).
func computeDiff(projectRoot string, cfg *config.Config, m *manifest) (types.RefreshResults, map[string]string) {
	seen := make(map[string]string)
	var compute []types.RefreshItem

	filepath.WalkDir(projectRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		relPath, relErr := filepath.Rel(projectRoot, path)
		if relErr != nil {
			return nil
		}

		if d.IsDir() {
			for _, pattern := range cfg.Index.Exclude {
				if matched, _ := filepath.Match(pattern, d.Name()); matched {
					return filepath.SkipDir
				}
			}
			if strings.HasPrefix(d.Name(), ".") && d.Name() != "." {
				return filepath.SkipDir
			}
			return nil
		}

		if !includedPath(cfg, relPath) {
			return nil
		}

		contents, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		sum := sha256.Sum256(contents)
		cacheKey := hex.EncodeToString(sum[:])
		seen[relPath] = cacheKey

		if m.Files[relPath] != cacheKey {
			compute = append(compute, types.RefreshItem{Path: relPath, CacheKey: cacheKey})
		}
		return nil
	})

	var del []types.RefreshItem
	for path, cacheKey := range m.Files {
		if _, ok := seen[path]; !ok {
			del = append(del, types.RefreshItem{Path: path, CacheKey: cacheKey})
		}
	}

	return types.RefreshResults{Compute: compute, Del: del}, seen
}

func includedPath(cfg *config.Config, relPath string) bool {
	included := false
	for _, pattern := range cfg.Index.Include {
		if matched, _ := filepath.Match(strings.TrimPrefix(pattern, "**/"), filepath.Base(relPath)); matched {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, pattern := range cfg.Index.Exclude {
		if matched, _ := filepath.Match(pattern, relPath); matched {
			return false
		}
		if strings.Contains(relPath, strings.Trim(pattern, "*/")) && strings.Contains(pattern, "**") {
			return false
		}
	}
	return true
}

// Package discovery implements a deterministic "what changed" scanner used
// to summarize a primary agent's workspace for the integrator prompt. Given
// a workspace root, it walks the tree (skipping .git and other noise
// directories), ranks files by modification recency and size, and returns a
// bounded candidate list. The traversal order and ranking are stable – the
// same workspace snapshot always yields the same summary.
package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultIgnoredDirs lists directory names that are skipped during the scan.
var DefaultIgnoredDirs = []string{".git", "node_modules", ".idea", ".cache", "dist", "build"}

// Config configures the workspace change scan.
type Config struct {
	Root          string
	IgnoreDirs    []string
	MaxCandidates int
}

// DefaultConfig returns a Config populated with deterministic defaults.
func DefaultConfig(root string) Config {
	return Config{
		Root:          root,
		IgnoreDirs:    append([]string{}, DefaultIgnoredDirs...),
		MaxCandidates: 20,
	}
}

// FileChange describes one file found under a workspace root.
type FileChange struct {
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Summary is a deterministic, bounded description of a workspace's content,
// used to tell the integrator what a primary agent produced without
// shelling out to a diff tool against a workspace that is a plain directory
// copy rather than a git checkout of the agent's own commits.
type Summary struct {
	Root        string       `json:"root"`
	GeneratedAt time.Time    `json:"generated_at"`
	TotalFiles  int          `json:"total_files"`
	Truncated   bool         `json:"truncated"`
	MostRecent  []FileChange `json:"most_recent"`
	Largest     []FileChange `json:"largest"`
}

// Discover scans the configured workspace and returns a bounded summary of
// its files, ranked by recency and by size.
func Discover(cfg Config) (*Summary, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, errors.New("discovery: root is required")
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolve root: %w", err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("discovery: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("discovery: root is not a directory: %s", root)
	}

	ignoreDirs := make(map[string]struct{}, len(cfg.IgnoreDirs))
	for _, name := range cfg.IgnoreDirs {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			ignoreDirs[trimmed] = struct{}{}
		}
	}
	if len(ignoreDirs) == 0 {
		for _, name := range DefaultIgnoredDirs {
			ignoreDirs[name] = struct{}{}
		}
	}

	var files []FileChange
	if err := walk(root, root, ignoreDirs, &files); err != nil {
		return nil, err
	}

	limit := cfg.MaxCandidates
	if limit <= 0 {
		limit = 20
	}

	byRecency := append([]FileChange{}, files...)
	sort.SliceStable(byRecency, func(i, j int) bool {
		if !byRecency[i].ModifiedAt.Equal(byRecency[j].ModifiedAt) {
			return byRecency[i].ModifiedAt.After(byRecency[j].ModifiedAt)
		}
		return byRecency[i].Path < byRecency[j].Path
	})

	bySize := append([]FileChange{}, files...)
	sort.SliceStable(bySize, func(i, j int) bool {
		if bySize[i].SizeBytes != bySize[j].SizeBytes {
			return bySize[i].SizeBytes > bySize[j].SizeBytes
		}
		return bySize[i].Path < bySize[j].Path
	})

	summary := &Summary{
		Root:        root,
		GeneratedAt: time.Now().UTC(),
		TotalFiles:  len(files),
		Truncated:   len(files) > limit,
		MostRecent:  truncate(byRecency, limit),
		Largest:     truncate(bySize, limit),
	}

	return summary, nil
}

func truncate(files []FileChange, limit int) []FileChange {
	if limit >= len(files) {
		return files
	}
	return files[:limit]
}

func walk(path, root string, ignoreDirs map[string]struct{}, files *[]FileChange) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("discovery: read dir %s: %w", path, err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			if _, ignored := ignoreDirs[name]; ignored {
				continue
			}
			child := filepath.Join(path, name)
			if err := walk(child, root, ignoreDirs, files); err != nil {
				return err
			}
			continue
		}

		fullPath := filepath.Join(path, name)
		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("discovery: stat %s: %w", fullPath, err)
		}

		rel, err := filepath.Rel(root, fullPath)
		if err != nil {
			return fmt.Errorf("discovery: relative path error for %s: %w", fullPath, err)
		}

		*files = append(*files, FileChange{
			Path:       filepath.ToSlash(rel),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime().UTC(),
		})
	}

	return nil
}

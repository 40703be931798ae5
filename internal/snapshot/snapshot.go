// Package snapshot computes a content digest of an entire materialized
// workspace tree: total size (for quota enforcement) and a per-file
// checksum manifest (to check whether a workspace's content changed between
// two digests).
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/agentswarm/swarmd/internal/checksum"
	"github.com/agentswarm/swarmd/internal/fsutil"
	"github.com/agentswarm/swarmd/internal/idempotency"
)

// FileInfo is one file's entry in a digest manifest.
type FileInfo struct {
	Path   string    `json:"path"`
	SHA256 string    `json:"sha256"`
	Size   int64     `json:"size"`
	Mtime  time.Time `json:"mtime"`
}

// Manifest is a content digest of a workspace tree at a point in time.
type Manifest struct {
	SnapshotID    string     `json:"snapshot_id"`
	CreatedAt     time.Time  `json:"created_at"`
	WorkspaceRoot string     `json:"workspace_root"`
	TotalBytes    int64      `json:"total_bytes"`
	Files         []FileInfo `json:"files"`
}

// excludedDirs are directories that should never be counted towards a
// workspace's materialized size or content digest.
var excludedDirs = map[string]bool{
	".git": true,
}

// ComputeDigest walks workspaceRoot and returns a manifest of every file
// under it (excluding .git), with a deterministic SnapshotID derived from
// the sorted file list. Used both for Workspace Manager size-at-init/quota
// enforcement and for before/after mutation checks in tests.
func ComputeDigest(workspaceRoot string) (*Manifest, error) {
	var files []FileInfo
	var totalBytes int64

	err := filepath.Walk(workspaceRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if excludedDirs[filepath.Base(path)] {
				return filepath.SkipDir
			}
			return nil
		}

		relPath, err := filepath.Rel(workspaceRoot, path)
		if err != nil {
			return fmt.Errorf("failed to compute relative path: %w", err)
		}
		relPath = filepath.ToSlash(relPath)

		hash, err := checksum.SHA256File(path)
		if err != nil {
			return fmt.Errorf("failed to compute checksum for %s: %w", relPath, err)
		}

		totalBytes += info.Size()
		files = append(files, FileInfo{
			Path:   relPath,
			SHA256: hash,
			Size:   info.Size(),
			Mtime:  info.ModTime().UTC(),
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk workspace %s: %w", workspaceRoot, err)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})

	manifest := &Manifest{
		CreatedAt:     time.Now().UTC(),
		WorkspaceRoot: "./",
		TotalBytes:    totalBytes,
		Files:         files,
	}

	snapshotID, err := computeSnapshotID(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to compute snapshot ID: %w", err)
	}
	manifest.SnapshotID = snapshotID

	return manifest, nil
}

// computeSnapshotID generates the snapshot ID from the manifest content.
// Format: "snap-" + first 12 hex chars of SHA256(canonical_json(manifest)),
// hashed with SnapshotID and CreatedAt cleared so the ID depends only on the
// file list and total size.
func computeSnapshotID(manifest *Manifest) (string, error) {
	originalID := manifest.SnapshotID
	originalCreatedAt := manifest.CreatedAt
	manifest.SnapshotID = ""
	manifest.CreatedAt = time.Time{}
	defer func() {
		manifest.SnapshotID = originalID
		manifest.CreatedAt = originalCreatedAt
	}()

	manifestJSON, err := idempotency.CanonicalJSON(manifest)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize manifest: %w", err)
	}

	hash := checksum.SHA256Bytes(manifestJSON)
	if len(hash) < 19 {
		return "", fmt.Errorf("hash too short: %s", hash)
	}

	return "snap-" + hash[7:19], nil
}

// Equal reports whether two manifests describe identical file content,
// ignoring SnapshotID/CreatedAt/WorkspaceRoot/Mtime, so two digests of one
// workspace taken at different times show whether its content changed.
func Equal(a, b *Manifest) bool {
	if a.TotalBytes != b.TotalBytes || len(a.Files) != len(b.Files) {
		return false
	}
	for i := range a.Files {
		if a.Files[i].Path != b.Files[i].Path || a.Files[i].SHA256 != b.Files[i].SHA256 || a.Files[i].Size != b.Files[i].Size {
			return false
		}
	}
	return true
}

// SaveSnapshot writes a digest manifest to disk atomically.
func SaveSnapshot(manifest *Manifest, path string) error {
	return fsutil.AtomicWriteJSON(path, manifest)
}

// LoadSnapshot reads a digest manifest from disk.
func LoadSnapshot(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &manifest, nil
}

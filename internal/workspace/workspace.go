// Package workspace allocates and releases the isolated filesystem
// sandboxes each AgentInstance runs in: a fresh directory materialized
// either by a shallow git clone of a remote source or a plain copy of a
// local directory tree.
package workspace

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentswarm/swarmd/internal/protocol"
	"github.com/agentswarm/swarmd/internal/snapshot"
)

// Source describes where an AgentInstance's workspace content comes from.
type Source struct {
	// RemoteURL, when set, is cloned with `git clone --depth 1`.
	RemoteURL string
	// LocalPath, when set (and RemoteURL is empty), is copied directly.
	LocalPath string
	// Ref is an optional branch or tag, used only with RemoteURL.
	Ref string
}

// Allocation is the result of materializing one AgentInstance's workspace.
type Allocation struct {
	Path         string
	SizeAtInitGB float64
}

// Manager materializes and tears down per-(JobId, AgentKey) workspaces
// rooted under a single WorkspaceRoot directory.
type Manager struct {
	WorkspaceRoot string
	SizeLimitGB   float64
	CloneTimeout  time.Duration
}

// NewManager constructs a Manager rooted at workspaceRoot, enforcing
// sizeLimitGB per allocated workspace.
func NewManager(workspaceRoot string, sizeLimitGB float64) *Manager {
	return &Manager{
		WorkspaceRoot: workspaceRoot,
		SizeLimitGB:   sizeLimitGB,
		CloneTimeout:  2 * time.Minute,
	}
}

// Allocate materializes a fresh workspace for (jobID, agentKey) from src,
// returning its path and size-at-init. It fails closed if the target
// directory already exists and is non-empty, and enforces the configured
// size quota before returning control to the caller.
func (m *Manager) Allocate(ctx context.Context, jobID string, agentKey protocol.AgentKey, src Source) (*Allocation, error) {
	path := filepath.Join(m.WorkspaceRoot, jobID, string(agentKey))

	if entries, err := os.ReadDir(path); err == nil && len(entries) > 0 {
		return nil, fmt.Errorf("workspace: target directory %s already exists and is not empty", path)
	}

	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("workspace: create directory %s: %w", path, err)
	}

	var materializeErr error
	if src.RemoteURL != "" {
		materializeErr = m.cloneRemote(ctx, path, src)
	} else if src.LocalPath != "" {
		materializeErr = copyLocalTree(src.LocalPath, path)
	} else {
		materializeErr = fmt.Errorf("workspace: source spec has neither remote URL nor local path")
	}
	if materializeErr != nil {
		_ = os.RemoveAll(path)
		return nil, fmt.Errorf("workspace: materialize %s: %w", path, materializeErr)
	}

	digest, err := snapshot.ComputeDigest(path)
	if err != nil {
		_ = os.RemoveAll(path)
		return nil, fmt.Errorf("workspace: compute size-at-init digest: %w", err)
	}

	sizeGB := float64(digest.TotalBytes) / (1024 * 1024 * 1024)
	if m.SizeLimitGB > 0 && sizeGB > m.SizeLimitGB {
		_ = os.RemoveAll(path)
		return nil, fmt.Errorf("workspace: materialized size %.3fGB exceeds quota %.3fGB", sizeGB, m.SizeLimitGB)
	}

	return &Allocation{Path: path, SizeAtInitGB: sizeGB}, nil
}

// Release idempotently removes a workspace directory. It is invoked
// unconditionally during job teardown, including for workspaces that
// failed to materialize.
func (m *Manager) Release(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("workspace: release %s: %w", path, err)
	}
	return nil
}

func (m *Manager) cloneRemote(ctx context.Context, dest string, src Source) error {
	cloneCtx, cancel := context.WithTimeout(ctx, m.CloneTimeout)
	defer cancel()

	args := []string{"clone", "--depth", "1", "--single-branch"}
	if src.Ref != "" {
		args = append(args, "--branch", src.Ref)
	}
	args = append(args, src.RemoteURL, dest)

	cmd := exec.CommandContext(cloneCtx, "git", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git clone failed: %v: %s", err, stderr.String())
	}
	return nil
}

// copyLocalTree copies src into dest using a deterministic directory walk,
// preserving regular-file contents and directory structure. Symlinks are
// skipped rather than followed, to avoid escaping the source tree.
func copyLocalTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", path, err)
		}
		target := filepath.Join(dest, rel)

		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			return os.MkdirAll(target, 0700)
		}

		if !d.Type().IsRegular() {
			return nil
		}

		return copyFile(path, target)
	})
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return fmt.Errorf("create parent for %s: %w", dest, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dest, err)
	}
	return out.Sync()
}

// ResolvePrimaryPath validates that primaryWorkspace is one of the three
// recognized primary workspace directories ("primary-1", "primary-2",
// "primary-3") and that it actually lives under jobDir as a sibling of the
// integrator's own workspace, for the integrator adapter's read-only view.
// It rejects any primary path that has escaped the Job's own workspace
// tree, whether by a bad key or a path traversal.
func ResolvePrimaryPath(jobDir string, primaryWorkspace string) (string, error) {
	abs, err := filepath.Abs(primaryWorkspace)
	if err != nil {
		return "", fmt.Errorf("workspace: resolve primary path: %w", err)
	}
	if !strings.HasSuffix(abs, string(filepath.Separator)+string(protocol.AgentKeyPrimary1)) &&
		!strings.HasSuffix(abs, string(filepath.Separator)+string(protocol.AgentKeyPrimary2)) &&
		!strings.HasSuffix(abs, string(filepath.Separator)+string(protocol.AgentKeyPrimary3)) {
		return "", fmt.Errorf("workspace: %s is not a recognized primary workspace", primaryWorkspace)
	}

	absJobDir, err := filepath.Abs(jobDir)
	if err != nil {
		return "", fmt.Errorf("workspace: resolve job directory: %w", err)
	}
	if filepath.Dir(abs) != absJobDir {
		return "", fmt.Errorf("workspace: %s does not live under job directory %s", primaryWorkspace, jobDir)
	}

	return abs, nil
}

// LinkPrimaries exposes the three primary workspaces inside the
// integrator's own workspace at the fixed relative names the integrator
// adapter's prompt promises ("primary-1", "primary-2", "primary-3"), as
// symlinks into the Job's other per-agent workspace directories. Each
// primary path is validated with ResolvePrimaryPath before the symlink is
// created, so a path that isn't actually one of the Job's own primary
// workspaces is rejected rather than silently linked in. A primary that
// never materialized (its path is empty, e.g. workspace allocation failed)
// is skipped rather than linked.
func LinkPrimaries(integratorWorkspace string, primaryWorkspaces map[protocol.AgentKey]string) error {
	jobDir := filepath.Dir(integratorWorkspace)
	for _, key := range protocol.PrimaryAgentKeys {
		primaryPath := primaryWorkspaces[key]
		if primaryPath == "" {
			continue
		}
		resolved, err := ResolvePrimaryPath(jobDir, primaryPath)
		if err != nil {
			return fmt.Errorf("workspace: link primary %s into integrator workspace: %w", key, err)
		}
		link := filepath.Join(integratorWorkspace, string(key))
		if err := os.Symlink(resolved, link); err != nil {
			return fmt.Errorf("workspace: symlink %s -> %s: %w", link, resolved, err)
		}
	}
	return nil
}

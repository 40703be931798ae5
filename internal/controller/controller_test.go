package controller

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentswarm/swarmd/internal/config"
	"github.com/agentswarm/swarmd/internal/ledger"
	"github.com/agentswarm/swarmd/internal/protocol"
	"github.com/agentswarm/swarmd/internal/receipt"
	"github.com/agentswarm/swarmd/internal/scheduler"
	"github.com/agentswarm/swarmd/internal/supervisor"
	"github.com/agentswarm/swarmd/internal/workspace"
)

type fakeHandle struct {
	events chan *protocol.ProgressEvent
	result supervisor.Result
}

func (f *fakeHandle) Events() <-chan *protocol.ProgressEvent { return f.events }
func (f *fakeHandle) Result() supervisor.Result               { return f.result }

func newFakeHandle(cls protocol.Classification) *fakeHandle {
	events := make(chan *protocol.ProgressEvent)
	close(events)
	now := time.Now().UTC()
	return &fakeHandle{events: events, result: supervisor.Result{Classification: cls, StartedAt: now, EndedAt: now}}
}

type alwaysSucceedLauncher struct{}

func (alwaysSucceedLauncher) Launch(ctx context.Context, jobID string, agentKey protocol.AgentKey, argv, env []string, workDir string, timeout time.Duration) (scheduler.AgentHandle, error) {
	if agentKey == protocol.AgentKeyIntegrator {
		_ = os.WriteFile(filepath.Join(workDir, "final_report.md"), []byte("# Report\n\nall good\n"), 0644)
	}
	return newFakeHandle(protocol.ClassificationSucceeded), nil
}

func testCreds() config.Credentials {
	return config.Credentials{
		AnthropicCred: "a", GeminiCred: "g", OpenAICred: "o",
		ClaudeModel: "claude-3", GeminiModel: "gemini-pro", OpenAIModel: "gpt-4", IntegrationModel: "gemini-pro",
	}
}

func newTestController(t *testing.T) (*Controller, string) {
	root := t.TempDir()
	srcDir := filepath.Join(t.TempDir(), "src")
	require.NoError(t, os.MkdirAll(srcDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "main.go"), []byte("package main"), 0644))

	ws := workspace.NewManager(root, 5)
	sem := scheduler.NewSemaphore(4)
	runStateRoot := t.TempDir()

	ctl := New(ws, sem, testCreds(), config.Policy{
		AgentTimeoutMinutes: 5,
		Retry:               config.Retry{MaxAttempts: 1, Backoff: config.Backoff{InitialMs: 1, MaxMs: 5, Multiplier: 2}},
	}, slog.Default())
	ctl.Launcher = alwaysSucceedLauncher{}
	ctl.RunStateRoot = runStateRoot

	return ctl, srcDir
}

func drainToComplete(t *testing.T, handle *Handle) protocol.ProgressEvent {
	for {
		select {
		case evt, ok := <-handle.Sub.Events():
			require.True(t, ok, "hub closed before a complete event arrived")
			if evt.Kind == protocol.EventKindComplete {
				return *evt
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for job completion")
		}
	}
}

func TestControllerHappyPath(t *testing.T) {
	ctl, srcDir := newTestController(t)

	handle, err := ctl.Start(context.Background(), protocol.JobRequest{
		Source:    srcDir,
		Objective: "add a readme",
	})
	require.NoError(t, err)
	require.NotEmpty(t, handle.JobID)

	complete := drainToComplete(t, handle)
	var summary protocol.JobSummary
	require.NoError(t, json.Unmarshal([]byte(complete.Payload), &summary), "complete event payload should be a JSON-encoded JobSummary")
	assert.Equal(t, protocol.ClassificationSucceeded, summary.Classification)
	assert.Len(t, summary.Agents, 4)

	_, err = os.Stat(filepath.Join(ctl.RunStateRoot, handle.JobID, "run_state.json"))
	assert.NoError(t, err)

	log, err := ledger.ReadLedger(filepath.Join(ctl.RunStateRoot, handle.JobID, "events.ndjson"))
	require.NoError(t, err)
	last := log.LastEvent()
	require.NotNil(t, last)
	assert.Equal(t, protocol.EventKindComplete, last.Kind, "event log should end with the job's terminal event")
	var loggedSummary protocol.JobSummary
	require.NoError(t, json.Unmarshal([]byte(last.Payload), &loggedSummary))
	assert.Equal(t, protocol.ClassificationSucceeded, loggedSummary.Classification)

	receiptPath := receipt.GetReceiptPath(ctl.RunStateRoot, handle.JobID)
	loadedReceipt, err := receipt.ReadReceipt(receiptPath)
	require.NoError(t, err)
	assert.Equal(t, protocol.ClassificationSucceeded, loadedReceipt.Classification)

	entries, err := os.ReadDir(ctl.WS.WorkspaceRoot)
	require.NoError(t, err)
	for _, e := range entries {
		if e.Name() != handle.JobID {
			continue
		}
		jobDir := filepath.Join(ctl.WS.WorkspaceRoot, e.Name())
		children, err := os.ReadDir(jobDir)
		require.NoError(t, err)
		assert.Empty(t, children, "workspaces should be released after job completion")
	}
}

func TestControllerRejectsInvalidRequestBeforeAllocating(t *testing.T) {
	ctl, _ := newTestController(t)

	handle, err := ctl.Start(context.Background(), protocol.JobRequest{Objective: "missing source"})
	require.NoError(t, err)

	events := drainAll(t, handle)
	require.Len(t, events, 2, "expected a synthetic error event followed by complete(failed)")
	assert.Equal(t, protocol.EventKindError, events[0].Kind)
	assert.Equal(t, protocol.EventKindComplete, events[1].Kind)
	var summary protocol.JobSummary
	require.NoError(t, json.Unmarshal([]byte(events[1].Payload), &summary))
	assert.Equal(t, protocol.ClassificationFailed, summary.Classification)

	entries, err := os.ReadDir(ctl.WS.WorkspaceRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "no workspace should be allocated for a request that fails validation")
}

func TestControllerMissingCredentialFailsFast(t *testing.T) {
	ctl, srcDir := newTestController(t)
	ctl.Credentials = config.Credentials{}

	handle, err := ctl.Start(context.Background(), protocol.JobRequest{
		Source:    srcDir,
		Objective: "add a readme",
	})
	require.NoError(t, err)

	complete := drainToComplete(t, handle)
	var summary protocol.JobSummary
	require.NoError(t, json.Unmarshal([]byte(complete.Payload), &summary))
	assert.Equal(t, protocol.ClassificationFailed, summary.Classification)
}

func drainAll(t *testing.T, handle *Handle) []protocol.ProgressEvent {
	t.Helper()
	var events []protocol.ProgressEvent
	for {
		select {
		case evt, ok := <-handle.Sub.Events():
			if !ok {
				return events
			}
			events = append(events, *evt)
			if evt.Kind == protocol.EventKindComplete {
				return events
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for job completion")
		}
	}
}

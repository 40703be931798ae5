package testharness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentswarm/swarmd/internal/protocol"
)

func TestRunSmokeAllSucceed(t *testing.T) {
	result, sourceDir := runSmokeScenario(t, ScenarioAllSucceed)
	_ = sourceDir

	if result.RunErr != nil {
		t.Fatalf("swarmd run returned error: %v\nstdout:%s\nstderr:%s", result.RunErr, result.Stdout, result.Stderr)
	}
	if result.RunState == nil {
		t.Fatal("expected run state to be captured")
	}
	if result.RunState.Classification != protocol.ClassificationSucceeded {
		t.Fatalf("expected succeeded, got %s", result.RunState.Classification)
	}
	if result.RunState.FinalArtifact == nil {
		t.Fatal("expected a final artifact from the integrator")
	}
}

func TestRunSmokeOnePrimaryFails(t *testing.T) {
	result, _ := runSmokeScenario(t, ScenarioOnePrimaryFails)

	if result.RunState == nil {
		t.Fatal("expected run state to be captured")
	}
	if result.RunState.Classification != protocol.ClassificationPartialFailure {
		t.Fatalf("expected partial-failure, got %s", result.RunState.Classification)
	}

	var failedPrimary bool
	for _, a := range result.RunState.Agents {
		if a.AgentKey == protocol.AgentKeyPrimary2 && a.Classification == protocol.ClassificationFailed {
			failedPrimary = true
		}
	}
	if !failedPrimary {
		t.Fatalf("expected primary-2 to be recorded as failed, agents: %+v", result.RunState.Agents)
	}
}

func TestRunSmokeEverythingFails(t *testing.T) {
	result, _ := runSmokeScenario(t, ScenarioEverythingFails)

	if result.RunState == nil {
		t.Fatal("expected run state to be captured")
	}
	if result.RunState.Classification != protocol.ClassificationFailed {
		t.Fatalf("expected failed, got %s", result.RunState.Classification)
	}
}

func runSmokeScenario(t *testing.T, scenario Scenario) (*SmokeResult, string) {
	t.Helper()

	repoRoot, err := DetectRepoRoot()
	if err != nil {
		t.Fatalf("failed to locate repo root: %v", err)
	}

	tempDir := t.TempDir()
	binDir := filepath.Join(tempDir, "bin")
	cacheDir := filepath.Join(tempDir, "gocache")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		t.Fatalf("failed to create gocache: %v", err)
	}
	t.Setenv("GOCACHE", cacheDir)

	ctx := context.Background()
	swarmdBin, fixtureAgentBin, err := BuildBinaries(ctx, repoRoot, binDir)
	if err != nil {
		t.Fatalf("failed to build binaries: %v", err)
	}

	sourceDir := filepath.Join(tempDir, "source")
	if err := os.MkdirAll(sourceDir, 0o755); err != nil {
		t.Fatalf("failed to create source dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sourceDir, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatalf("failed to seed source dir: %v", err)
	}

	result, err := RunSmoke(ctx, SmokeOptions{
		Scenario:         scenario,
		SwarmdBinary:     swarmdBin,
		FixtureAgentPath: fixtureAgentBin,
		SourceDir:        sourceDir,
		WorkspaceRoot:    filepath.Join(tempDir, "workspaces"),
	})
	if err != nil {
		t.Fatalf("RunSmoke returned error: %v", err)
	}

	return result, sourceDir
}

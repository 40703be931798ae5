package testharness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/agentswarm/swarmd/internal/config"
	"github.com/agentswarm/swarmd/internal/protocol"
	"github.com/agentswarm/swarmd/internal/runstate"
)

// shimNames are the real agent CLI names the adapters exec. RunSmoke puts a
// fixtureagent-backed shim on PATH under each of these names so a swarmd run
// never touches a real claude/gemini/codex installation.
var shimNames = []string{"claude-flow", "gemini", "node"}

// Scenario drives one fixtureagent-backed run: the flags passed to
// fixtureagent for each agent slot, keyed by the workspace directory name
// the scheduler allocates for that slot (matching protocol.AgentKey).
type Scenario struct {
	Name      string
	Objective string
	// AgentArgs holds the fixtureagent flag string run for each agent key.
	// A key with no entry runs fixtureagent with no flags (plain success).
	AgentArgs map[protocol.AgentKey]string
}

// ScenarioAllSucceed exercises the full happy path: three primaries and the
// integrator all succeed, and the integrator writes final_report.md.
var ScenarioAllSucceed = Scenario{
	Name:      "all-succeed",
	Objective: "add integration tests",
	AgentArgs: map[protocol.AgentKey]string{
		protocol.AgentKeyPrimary1:   "-stdout implementing,done",
		protocol.AgentKeyPrimary2:   "-stdout implementing,done",
		protocol.AgentKeyPrimary3:   "-stdout implementing,done",
		protocol.AgentKeyIntegrator: "-stdout synthesizing -write-file final_report.md",
	},
}

// ScenarioOnePrimaryFails exercises the partial-failure composition rule:
// one primary fails outright but the integrator still succeeds.
var ScenarioOnePrimaryFails = Scenario{
	Name:      "one-primary-fails",
	Objective: "add integration tests",
	AgentArgs: map[protocol.AgentKey]string{
		protocol.AgentKeyPrimary1:   "-stdout implementing,done",
		protocol.AgentKeyPrimary2:   "-exit-code 1 -stderr boom",
		protocol.AgentKeyPrimary3:   "-stdout implementing,done",
		protocol.AgentKeyIntegrator: "-stdout synthesizing -write-file final_report.md",
	},
}

// ScenarioEverythingFails exercises the worst-case composition: every
// primary and the integrator fail.
var ScenarioEverythingFails = Scenario{
	Name:      "everything-fails",
	Objective: "add integration tests",
	AgentArgs: map[protocol.AgentKey]string{
		protocol.AgentKeyPrimary1:   "-exit-code 1 -stderr boom",
		protocol.AgentKeyPrimary2:   "-exit-code 1 -stderr boom",
		protocol.AgentKeyPrimary3:   "-exit-code 1 -stderr boom",
		protocol.AgentKeyIntegrator: "-exit-code 1 -stderr boom",
	},
}

// SmokeOptions configures RunSmoke.
type SmokeOptions struct {
	Scenario         Scenario
	SwarmdBinary     string
	FixtureAgentPath string
	SourceDir        string
	WorkspaceRoot    string
	Env              map[string]string
}

// SmokeResult captures the outcome of a smoke scenario.
type SmokeResult struct {
	Scenario   Scenario
	JobID      string
	Stdout     string
	Stderr     string
	RunErr     error
	RunState   *runstate.RunState
	ConfigPath string
}

// RunSmoke executes a scenario end to end against the swarmd binary, with
// every agent CLI name resolved to a shim that execs fixtureagent.
func RunSmoke(ctx context.Context, opts SmokeOptions) (*SmokeResult, error) {
	if opts.SwarmdBinary == "" {
		return nil, fmt.Errorf("swarmd binary path is required")
	}
	if opts.FixtureAgentPath == "" {
		return nil, fmt.Errorf("fixtureagent binary path is required")
	}
	if opts.SourceDir == "" {
		return nil, fmt.Errorf("source directory is required")
	}

	workspaceRoot := opts.WorkspaceRoot
	if workspaceRoot == "" {
		var err error
		workspaceRoot, err = os.MkdirTemp("", "swarmd-smoke-")
		if err != nil {
			return nil, fmt.Errorf("failed to create workspace root: %w", err)
		}
	} else if err := os.MkdirAll(workspaceRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}

	shimDir, err := writeShims(filepath.Dir(workspaceRoot), opts.FixtureAgentPath)
	if err != nil {
		return nil, err
	}

	policy := config.GenerateDefault()
	policy.AgentTimeoutMinutes = 1
	configPath := filepath.Join(workspaceRoot, "swarmd-smoke.json")
	if err := policy.SaveToFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to write policy file: %w", err)
	}

	cmd := exec.CommandContext(ctx, opts.SwarmdBinary, "run",
		"--config", configPath,
		"--source", opts.SourceDir,
		"--objective", opts.Scenario.Objective,
		"--workspace-root", workspaceRoot,
	)
	cmd.Env = mergeEnv(baseSmokeEnv(shimDir), opts.Scenario.AgentArgs, opts.Env)

	var stdOut, stdErr bytes.Buffer
	cmd.Stdout = &stdOut
	cmd.Stderr = &stdErr

	runErr := cmd.Run()

	result := &SmokeResult{
		Scenario:   opts.Scenario,
		Stdout:     stdOut.String(),
		Stderr:     stdErr.String(),
		RunErr:     runErr,
		ConfigPath: configPath,
	}

	jobID, err := jobIDFromRunStates(workspaceRoot)
	if err == nil {
		result.JobID = jobID
		if st, err := runstate.Load(runstate.PathFor(workspaceRoot, jobID)); err == nil {
			result.RunState = st
		}
	}

	return result, nil
}

// writeShims creates one executable shell script per shimNames entry,
// dispatching to fixtureAgentPath with the flags RunSmoke selects for
// whichever agent key the current working directory's basename names.
func writeShims(dir, fixtureAgentPath string) (string, error) {
	shimDir, err := os.MkdirTemp(dir, "swarmd-shims-")
	if err != nil {
		return "", fmt.Errorf("failed to create shim directory: %w", err)
	}

	script := fmt.Sprintf(`#!/bin/sh
key=$(basename "$PWD")
case "$key" in
  %s) args="$FIXTURE_PRIMARY_1" ;;
  %s) args="$FIXTURE_PRIMARY_2" ;;
  %s) args="$FIXTURE_PRIMARY_3" ;;
  %s) args="$FIXTURE_INTEGRATOR" ;;
  *) args="" ;;
esac
exec %q $args
`, protocol.AgentKeyPrimary1, protocol.AgentKeyPrimary2, protocol.AgentKeyPrimary3, protocol.AgentKeyIntegrator, fixtureAgentPath)

	for _, name := range shimNames {
		path := filepath.Join(shimDir, name)
		if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
			return "", fmt.Errorf("failed to write shim %s: %w", name, err)
		}
	}

	return shimDir, nil
}

func baseSmokeEnv(shimDir string) []string {
	env := os.Environ()
	env = setEnv(env, "PATH", shimDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	env = setEnv(env, "ANTHROPIC_CRED", "smoke-anthropic-cred")
	env = setEnv(env, "GEMINI_CRED", "smoke-gemini-cred")
	env = setEnv(env, "OPENAI_CRED", "smoke-openai-cred")
	env = setEnv(env, "CLAUDE_MODEL", "claude-smoke")
	env = setEnv(env, "GEMINI_MODEL", "gemini-smoke")
	env = setEnv(env, "OPENAI_MODEL", "codex-smoke")
	env = setEnv(env, "INTEGRATION_MODEL", "gemini-smoke-integrator")
	return env
}

func mergeEnv(base []string, agentArgs map[protocol.AgentKey]string, overrides map[string]string) []string {
	result := setEnv(base, "FIXTURE_PRIMARY_1", agentArgs[protocol.AgentKeyPrimary1])
	result = setEnv(result, "FIXTURE_PRIMARY_2", agentArgs[protocol.AgentKeyPrimary2])
	result = setEnv(result, "FIXTURE_PRIMARY_3", agentArgs[protocol.AgentKeyPrimary3])
	result = setEnv(result, "FIXTURE_INTEGRATOR", agentArgs[protocol.AgentKeyIntegrator])
	for k, v := range overrides {
		result = setEnv(result, k, v)
	}
	return result
}

// jobIDFromRunStates returns the sole job ID directory RunSmoke's swarmd
// invocation created under workspaceRoot.
func jobIDFromRunStates(workspaceRoot string) (string, error) {
	entries, err := os.ReadDir(workspaceRoot)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(workspaceRoot, e.Name(), "run_state.json")); err == nil {
			return e.Name(), nil
		}
	}
	return "", fmt.Errorf("no run_state.json found under %s", workspaceRoot)
}

// DetectRepoRoot locates the repository root by searching for go.mod.
func DetectRepoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found (starting from %s)", dir)
		}
		dir = parent
	}
}

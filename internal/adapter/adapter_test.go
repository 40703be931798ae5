package adapter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentswarm/swarmd/internal/config"
	"github.com/agentswarm/swarmd/internal/protocol"
)

func TestForKindDispatch(t *testing.T) {
	cases := []struct {
		kind protocol.AgentKind
		want protocol.AgentKind
	}{
		{protocol.AgentKindClaude, protocol.AgentKindClaude},
		{protocol.AgentKindGemini, protocol.AgentKindGemini},
		{protocol.AgentKindCodex, protocol.AgentKindCodex},
		{protocol.AgentKindIntegrator, protocol.AgentKindIntegrator},
	}
	for _, c := range cases {
		a, err := ForKind(c.kind)
		require.NoError(t, err)
		assert.Equal(t, c.want, a.Kind())
	}
}

func TestForKindUnknown(t *testing.T) {
	_, err := ForKind(protocol.AgentKind("unknown"))
	assert.Error(t, err)
}

func TestInferPhase(t *testing.T) {
	rules := []ProgressRule{
		{Pattern: "planning", Phase: "planning"},
		{Pattern: "done", Phase: "finalizing"},
	}
	assert.Equal(t, "planning", InferPhase(rules, "Now Planning the approach"))
	assert.Equal(t, "finalizing", InferPhase(rules, "all done"))
	assert.Equal(t, "", InferPhase(rules, "nothing matches here"))
}

func TestClaudeAdapterPlan(t *testing.T) {
	dir := t.TempDir()
	a := &ClaudeAdapter{}

	plan, err := a.Plan(PlanRequest{
		Objective:    "build a widget",
		Model:        "claude-3",
		WorkspaceDir: dir,
		Credentials:  config.Credentials{AnthropicCred: "secret"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"claude-flow", "swarm", "build a widget"}, plan.Argv)
	assert.Contains(t, plan.Env, "ANTHROPIC_MODEL=claude-3")
	assert.Contains(t, plan.Env, "ANTHROPIC_API_KEY=secret")

	_, err = os.Stat(filepath.Join(dir, ".claude-flow-swarm", "CLAUDE.md"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, ".claude-flow-swarm", "claude-flow.config.json"))
	assert.NoError(t, err)
}

func TestClaudeAdapterMissingCredential(t *testing.T) {
	dir := t.TempDir()
	a := &ClaudeAdapter{}
	_, err := a.Plan(PlanRequest{
		Objective:    "build a widget",
		Model:        "claude-3",
		WorkspaceDir: dir,
		Credentials:  config.Credentials{},
	})
	assert.ErrorContains(t, err, "ANTHROPIC_CRED")
}

func TestClaudeAdapterRequiresObjectiveAndModel(t *testing.T) {
	a := &ClaudeAdapter{}
	_, err := a.Plan(PlanRequest{WorkspaceDir: t.TempDir(), Credentials: config.Credentials{AnthropicCred: "x"}})
	assert.Error(t, err)
}

func TestGeminiAdapterPlan(t *testing.T) {
	a := &GeminiAdapter{}
	plan, err := a.Plan(PlanRequest{
		Objective:   "summarize the repo",
		Model:       "gemini-pro",
		Credentials: config.Credentials{GeminiCred: "secret"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini", "--model", "gemini-pro", "summarize the repo"}, plan.Argv)
	assert.Contains(t, plan.Env, "GEMINI_MODEL=gemini-pro")
	assert.Contains(t, plan.Env, "GEMINI_API_KEY=secret")
}

func TestGeminiAdapterMissingCredential(t *testing.T) {
	a := &GeminiAdapter{}
	_, err := a.Plan(PlanRequest{Objective: "x", Model: "gemini-pro"})
	assert.ErrorContains(t, err, "GEMINI_CRED")
}

func TestCodexAdapterPlan(t *testing.T) {
	dir := t.TempDir()
	a := &CodexAdapter{}

	plan, err := a.Plan(PlanRequest{
		Objective:    "refactor the parser",
		Model:        "gpt-4",
		WorkspaceDir: dir,
		Credentials:  config.Credentials{OpenAICred: "secret"},
	})
	require.NoError(t, err)
	require.Len(t, plan.Argv, 2)
	assert.Equal(t, "node", plan.Argv[0])
	assert.Equal(t, filepath.Join(dir, codexScriptRelPath), plan.Argv[1])
	assert.Contains(t, plan.Env, "OPENAI_MODEL=gpt-4")
	assert.Contains(t, plan.Env, "OPENAI_API_KEY=secret")

	content, err := os.ReadFile(filepath.Join(dir, codexScriptRelPath))
	require.NoError(t, err)
	assert.Contains(t, string(content), "require('openai')")
}

func TestCodexAdapterMissingCredential(t *testing.T) {
	a := &CodexAdapter{}
	_, err := a.Plan(PlanRequest{Objective: "x", Model: "gpt-4", WorkspaceDir: t.TempDir()})
	assert.ErrorContains(t, err, "OPENAI_CRED")
}

func TestIntegratorAdapterPlan(t *testing.T) {
	p1, p2, p3 := t.TempDir(), t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(p1, "main.go"), []byte("package main"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(p2, "main.go"), []byte("package main"), 0644))
	// p3 left empty to exercise the "no files produced" branch.

	a := &IntegratorAdapter{}
	plan, err := a.Plan(PlanRequest{
		Objective: "build a widget",
		Model:     "gemini-pro",
		Credentials: config.Credentials{GeminiCred: "secret"},
		PrimaryWorkspaces: map[protocol.AgentKey]string{
			protocol.AgentKeyPrimary1: p1,
			protocol.AgentKeyPrimary2: p2,
			protocol.AgentKeyPrimary3: p3,
		},
	})
	require.NoError(t, err)
	require.Len(t, plan.Argv, 4)
	assert.Equal(t, "gemini", plan.Argv[0])
	assert.Equal(t, "--model", plan.Argv[1])
	assert.Equal(t, "gemini-pro", plan.Argv[2])
	prompt := plan.Argv[3]
	assert.Contains(t, prompt, "build a widget")
	assert.Contains(t, prompt, "./primary-1")
	assert.Contains(t, prompt, "./primary-2")
	assert.Contains(t, prompt, "./primary-3")
	assert.Contains(t, prompt, "No files produced")
	assert.Contains(t, prompt, "final_report.md")
	assert.Contains(t, plan.Env, "GEMINI_MODEL=gemini-pro")
}

func TestIntegratorAdapterRequiresThreePrimaries(t *testing.T) {
	a := &IntegratorAdapter{}
	_, err := a.Plan(PlanRequest{
		Objective:   "build a widget",
		Model:       "gemini-pro",
		Credentials: config.Credentials{GeminiCred: "secret"},
		PrimaryWorkspaces: map[protocol.AgentKey]string{
			protocol.AgentKeyPrimary1: t.TempDir(),
		},
	})
	assert.Error(t, err)
}

func TestIntegratorAdapterMissingCredential(t *testing.T) {
	a := &IntegratorAdapter{}
	_, err := a.Plan(PlanRequest{
		Objective: "build a widget",
		Model:     "gemini-pro",
		PrimaryWorkspaces: map[protocol.AgentKey]string{
			protocol.AgentKeyPrimary1: t.TempDir(),
			protocol.AgentKeyPrimary2: t.TempDir(),
			protocol.AgentKeyPrimary3: t.TempDir(),
		},
	})
	assert.ErrorContains(t, err, "GEMINI_CRED")
}

package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/agentswarm/swarmd/internal/fsutil"
	"github.com/agentswarm/swarmd/internal/protocol"
)

const claudeMDContent = `# Constitution

This configuration optimizes the agent for direct, efficient pair
programming: generate complete, working code realizing the objective below.
Avoid partial implementations, mocks, or placeholders.
`

// ClaudeAdapter targets a swarm-mode CLI, binding the model via environment
// and pre-materializing a configuration directory in the workspace.
type ClaudeAdapter struct{}

func (a *ClaudeAdapter) Kind() protocol.AgentKind { return protocol.AgentKindClaude }

func (a *ClaudeAdapter) Plan(req PlanRequest) (Plan, error) {
	if req.Objective == "" {
		return Plan{}, fmt.Errorf("adapter(claude): objective is required")
	}
	if req.Model == "" {
		return Plan{}, fmt.Errorf("adapter(claude): model is required")
	}

	configDir := ".claude-flow-swarm"
	if _, err := fsutil.WriteArtifactAtomic(req.WorkspaceDir, configDir+"/CLAUDE.md", []byte(claudeMDContent)); err != nil {
		return Plan{}, fmt.Errorf("adapter(claude): write CLAUDE.md: %w", err)
	}

	flowConfig := map[string]any{
		"orchestrator": map[string]any{
			"maxConcurrentAgents": 10,
			"taskQueueSize":       100,
			"agentTimeoutMs":      1800000,
			"defaultAgentConfig": map[string]any{
				"model":       req.Model,
				"temperature": 0.7,
			},
		},
		"swarm": map[string]any{
			"strategy": "development",
			"maxAgents": 5,
			"maxDepth":  3,
			"timeout":   180,
		},
	}
	configJSON, err := json.MarshalIndent(flowConfig, "", "  ")
	if err != nil {
		return Plan{}, fmt.Errorf("adapter(claude): marshal claude-flow config: %w", err)
	}
	if _, err := fsutil.WriteArtifactAtomic(req.WorkspaceDir, configDir+"/claude-flow.config.json", configJSON); err != nil {
		return Plan{}, fmt.Errorf("adapter(claude): write claude-flow.config.json: %w", err)
	}

	cred, ok := req.Credentials.CredentialFor("claude")
	if !ok {
		return Plan{}, fmt.Errorf("adapter(claude): missing ANTHROPIC_CRED")
	}

	env := baseEnv()
	env = append(env,
		"ANTHROPIC_MODEL="+req.Model,
		"ANTHROPIC_API_KEY="+cred,
	)

	return Plan{
		Argv: []string{"claude-flow", "swarm", req.Objective},
		Env:  env,
	}, nil
}

func (a *ClaudeAdapter) ProgressRules() []ProgressRule {
	return []ProgressRule{
		{Pattern: "spawning agent", Phase: "planning"},
		{Pattern: "analyzing", Phase: "planning"},
		{Pattern: "writing file", Phase: "implementing"},
		{Pattern: "running tests", Phase: "verifying"},
		{Pattern: "swarm complete", Phase: "finalizing"},
	}
}

package adapter

import (
	"fmt"

	"github.com/agentswarm/swarmd/internal/agent/script"
	"github.com/agentswarm/swarmd/internal/fsutil"
	"github.com/agentswarm/swarmd/internal/protocol"
)

const codexScriptRelPath = ".codex-wrapper/run.js"

// CodexAdapter targets a third CLI with a non-interactive flag; here it is
// a small generated Node.js wrapper script execed with `node`, following
// the original's "quote-unsafe prompt embedded in a generated script"
// technique but with the objective JSON-escaped instead of raw-interpolated.
type CodexAdapter struct{}

func (a *CodexAdapter) Kind() protocol.AgentKind { return protocol.AgentKindCodex }

func (a *CodexAdapter) Plan(req PlanRequest) (Plan, error) {
	if req.Objective == "" {
		return Plan{}, fmt.Errorf("adapter(codex): objective is required")
	}
	if req.Model == "" {
		return Plan{}, fmt.Errorf("adapter(codex): model is required")
	}

	cred, ok := req.Credentials.CredentialFor("codex")
	if !ok {
		return Plan{}, fmt.Errorf("adapter(codex): missing OPENAI_CRED")
	}

	source, err := script.RenderCodexScript(script.CodexRequest{
		Model:     req.Model,
		Objective: req.Objective,
	})
	if err != nil {
		return Plan{}, fmt.Errorf("adapter(codex): render wrapper script: %w", err)
	}

	artifact, err := fsutil.WriteArtifactAtomic(req.WorkspaceDir, codexScriptRelPath, []byte(source))
	if err != nil {
		return Plan{}, fmt.Errorf("adapter(codex): write wrapper script: %w", err)
	}

	env := baseEnv()
	env = append(env,
		"OPENAI_MODEL="+req.Model,
		"OPENAI_API_KEY="+cred,
	)

	return Plan{
		Argv: []string{"node", req.WorkspaceDir + "/" + artifact.Path},
		Env:  env,
	}, nil
}

func (a *CodexAdapter) ProgressRules() []ProgressRule {
	return []ProgressRule{
		{Pattern: "requesting completion", Phase: "planning"},
		{Pattern: "choices", Phase: "finalizing"},
	}
}

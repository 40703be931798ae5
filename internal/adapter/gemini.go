package adapter

import (
	"fmt"

	"github.com/agentswarm/swarmd/internal/protocol"
)

// GeminiAdapter targets a separate CLI, binding the model via a
// command-line flag and passing the objective as a positional argument.
type GeminiAdapter struct{}

func (a *GeminiAdapter) Kind() protocol.AgentKind { return protocol.AgentKindGemini }

func (a *GeminiAdapter) Plan(req PlanRequest) (Plan, error) {
	if req.Objective == "" {
		return Plan{}, fmt.Errorf("adapter(gemini): objective is required")
	}
	if req.Model == "" {
		return Plan{}, fmt.Errorf("adapter(gemini): model is required")
	}

	cred, ok := req.Credentials.CredentialFor("gemini")
	if !ok {
		return Plan{}, fmt.Errorf("adapter(gemini): missing GEMINI_CRED")
	}

	env := baseEnv()
	env = append(env,
		"GEMINI_MODEL="+req.Model,
		"GEMINI_API_KEY="+cred,
	)

	return Plan{
		Argv: []string{"gemini", "--model", req.Model, req.Objective},
		Env:  env,
	}, nil
}

func (a *GeminiAdapter) ProgressRules() []ProgressRule {
	return []ProgressRule{
		{Pattern: "planning", Phase: "planning"},
		{Pattern: "generating", Phase: "implementing"},
		{Pattern: "applying patch", Phase: "implementing"},
		{Pattern: "done", Phase: "finalizing"},
	}
}

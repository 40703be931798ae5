package adapter

import (
	"fmt"
	"strings"

	"github.com/agentswarm/swarmd/internal/discovery"
	"github.com/agentswarm/swarmd/internal/protocol"
)

// IntegratorAdapter runs the same command family as the Gemini-kind
// primary, but against the integration workspace, with the three primary
// workspaces symlinked in at fixed relative paths (see
// internal/workspace.LinkPrimaries) and described in an augmented
// objective built from a deterministic change summary of each. The
// symlinks are read-only by convention only: nothing in the scheduler
// stops the integrator process from writing through them, the same
// assumption the teacher's git-checkout-based workspaces relied on.
type IntegratorAdapter struct{}

func (a *IntegratorAdapter) Kind() protocol.AgentKind { return protocol.AgentKindIntegrator }

func (a *IntegratorAdapter) Plan(req PlanRequest) (Plan, error) {
	if req.Objective == "" {
		return Plan{}, fmt.Errorf("adapter(integrator): objective is required")
	}
	if req.Model == "" {
		return Plan{}, fmt.Errorf("adapter(integrator): model is required")
	}
	if len(req.PrimaryWorkspaces) != 3 {
		return Plan{}, fmt.Errorf("adapter(integrator): expected 3 primary workspaces, got %d", len(req.PrimaryWorkspaces))
	}

	cred, ok := req.Credentials.CredentialFor("gemini")
	if !ok {
		return Plan{}, fmt.Errorf("adapter(integrator): missing GEMINI_CRED")
	}

	prompt, err := buildIntegrationPrompt(req.Objective, req.PrimaryWorkspaces)
	if err != nil {
		return Plan{}, fmt.Errorf("adapter(integrator): build integration prompt: %w", err)
	}

	env := baseEnv()
	env = append(env,
		"GEMINI_MODEL="+req.Model,
		"GEMINI_API_KEY="+cred,
	)

	return Plan{
		Argv: []string{"gemini", "--model", req.Model, prompt},
		Env:  env,
	}, nil
}

func (a *IntegratorAdapter) ProgressRules() []ProgressRule {
	return []ProgressRule{
		{Pattern: "reading primary-1", Phase: "analyzing"},
		{Pattern: "reading primary-2", Phase: "analyzing"},
		{Pattern: "reading primary-3", Phase: "analyzing"},
		{Pattern: "synthesizing", Phase: "integrating"},
		{Pattern: "final_report", Phase: "finalizing"},
	}
}

var relativePrimaryPaths = map[protocol.AgentKey]string{
	protocol.AgentKeyPrimary1: "./primary-1",
	protocol.AgentKeyPrimary2: "./primary-2",
	protocol.AgentKeyPrimary3: "./primary-3",
}

// buildIntegrationPrompt augments the objective with a per-primary change
// summary in place of the original's raw `git diff`: the primary
// workspaces here are plain directory copies, not git checkouts of the
// agent's own commits, so a deterministic file-walk summary shows the
// integrator what each primary produced.
func buildIntegrationPrompt(objective string, primaryWorkspaces map[protocol.AgentKey]string) (string, error) {
	var b strings.Builder
	b.WriteString("You are an expert software integration specialist. ")
	b.WriteString("Analyze the solutions from three independent agents below, each materialized ")
	b.WriteString("as a read-only directory tree, and synthesize the best combined solution.\n\n")
	fmt.Fprintf(&b, "Original objective: %s\n\n", objective)

	for _, key := range protocol.PrimaryAgentKeys {
		path := primaryWorkspaces[key]

		fmt.Fprintf(&b, "--- %s (available read-only at %s) ---\n", key, relativePrimaryPaths[key])

		if path == "" {
			b.WriteString("Workspace unavailable (this agent never ran).\n\n")
			continue
		}

		summary, err := discovery.Discover(discovery.DefaultConfig(path))
		if err != nil {
			b.WriteString("Workspace unavailable (this agent never ran).\n\n")
			continue
		}

		if summary.TotalFiles == 0 {
			b.WriteString("No files produced.\n\n")
			continue
		}
		fmt.Fprintf(&b, "%d files total. Most recently modified:\n", summary.TotalFiles)
		for _, f := range summary.MostRecent {
			fmt.Fprintf(&b, "  %s (%d bytes)\n", f.Path, f.SizeBytes)
		}
		b.WriteString("\n")
	}

	b.WriteString("Produce a cohesive, production-ready integrated solution. ")
	b.WriteString("Write your final result to final_report.md in the current working directory.\n")

	return b.String(), nil
}

// Package adapter translates a logical AgentInstance configuration into a
// concrete command vector, environment, and output-interpretation rules. It
// is the only package aware of any specific agent CLI's invocation details.
package adapter

import (
	"fmt"
	"os"
	"strings"

	"github.com/agentswarm/swarmd/internal/config"
	"github.com/agentswarm/swarmd/internal/protocol"
)

// Plan is the result of an Adapter planning one AgentInstance's launch.
type Plan struct {
	Argv  []string
	Env   []string
	Stdin string
}

// ProgressRule maps a substring found in an agent's stdout line to a named
// phase, for the best-effort progress-inference spec.md §4.3 describes.
// Matching is best-effort and never gates correctness.
type ProgressRule struct {
	Pattern string
	Phase   string
}

// Adapter plans the launch of one AgentInstance and supplies its
// progress-inference rules.
type Adapter interface {
	Kind() protocol.AgentKind
	Plan(req PlanRequest) (Plan, error)
	ProgressRules() []ProgressRule
}

// PlanRequest carries everything an Adapter needs to plan a launch.
type PlanRequest struct {
	JobID        string
	AgentKey     protocol.AgentKey
	Model        string
	Objective    string
	WorkspaceDir string
	Credentials  config.Credentials

	// PrimaryWorkspaces is populated only for the Integrator-kind adapter:
	// the on-disk paths of the three primary workspaces, keyed by their
	// AgentKey, so it can summarize what each one produced.
	PrimaryWorkspaces map[protocol.AgentKey]string
}

// InferPhase applies rules in order and returns the first matching phase,
// or "" if no rule matches.
func InferPhase(rules []ProgressRule, line string) string {
	lower := strings.ToLower(line)
	for _, r := range rules {
		if strings.Contains(lower, strings.ToLower(r.Pattern)) {
			return r.Phase
		}
	}
	return ""
}

// baseEnv returns the inherited process environment as a starting point for
// an adapter's Plan, per spec.md §5's note that the environment is read at
// job-creation time.
func baseEnv() []string {
	return os.Environ()
}

// ForKind returns the Adapter implementation for kind.
func ForKind(kind protocol.AgentKind) (Adapter, error) {
	switch kind {
	case protocol.AgentKindClaude:
		return &ClaudeAdapter{}, nil
	case protocol.AgentKindGemini:
		return &GeminiAdapter{}, nil
	case protocol.AgentKindCodex:
		return &CodexAdapter{}, nil
	case protocol.AgentKindIntegrator:
		return &IntegratorAdapter{}, nil
	default:
		return nil, fmt.Errorf("adapter: unknown agent kind %q", kind)
	}
}

// Package activation validates a job-start request and translates it into
// the four AgentInstance specs the scheduler runs. It is the fail-fast
// boundary for configuration errors: no workspace is allocated and no
// process is ever launched for a job that fails here.
package activation

import (
	"fmt"

	"github.com/agentswarm/swarmd/internal/config"
	"github.com/agentswarm/swarmd/internal/protocol"
)

// AgentInstance is the validated, concrete specification for one agent slot
// of a job: its kind, its resolved model identifier, and its credential.
// Scheduler and Workspace Manager operate on this, never on the raw
// JobRequest.
type AgentInstance struct {
	AgentKey   protocol.AgentKey
	Kind       protocol.AgentKind
	Model      string
	Credential string
}

// kindForKey fixes the agent kind bound to each slot. The integrator's
// underlying CLI family is an Agent Adapter concern (it may reuse any
// primary kind's command shape); its AgentKind is always Integrator.
var kindForKey = map[protocol.AgentKey]protocol.AgentKind{
	protocol.AgentKeyPrimary1:   protocol.AgentKindClaude,
	protocol.AgentKeyPrimary2:   protocol.AgentKindGemini,
	protocol.AgentKeyPrimary3:   protocol.AgentKindCodex,
	protocol.AgentKeyIntegrator: protocol.AgentKindIntegrator,
}

// ConfigurationError marks a job-start request as invalid: missing
// credential, empty objective, unknown agent kind. It is fatal at job
// creation — the job is never started.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func configErr(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// BuildAgentInstances validates req against creds and returns the four
// AgentInstance specs for the job, in PrimaryAgentKeys order followed by the
// integrator. Any validation failure returns a *ConfigurationError.
func BuildAgentInstances(req protocol.JobRequest, creds config.Credentials) ([]AgentInstance, error) {
	if req.Source == "" {
		return nil, configErr("source is required")
	}
	if req.Objective == "" {
		return nil, configErr("objective is required")
	}
	if req.AgentModels == nil {
		req.AgentModels = map[protocol.AgentKey]string{}
	}

	keys := append(append([]protocol.AgentKey{}, protocol.PrimaryAgentKeys...), protocol.AgentKeyIntegrator)

	instances := make([]AgentInstance, 0, len(keys))
	for _, key := range keys {
		kind, ok := kindForKey[key]
		if !ok {
			return nil, configErr("unknown agent key %q", key)
		}

		model := req.AgentModels[key]
		if model == "" {
			model = defaultModelFor(kind, creds)
		}
		if model == "" {
			return nil, configErr("missing model for %s", key)
		}

		credKind := string(kind)
		if kind == protocol.AgentKindIntegrator {
			// The integrator shares the Gemini-kind CLI family (see
			// internal/adapter.IntegratorAdapter).
			credKind = "gemini"
		}
		credString, ok := creds.CredentialFor(credKind)
		if !ok {
			return nil, configErr("missing credential for %s (kind %s)", key, kind)
		}

		instances = append(instances, AgentInstance{
			AgentKey:   key,
			Kind:       kind,
			Model:      model,
			Credential: credString,
		})
	}

	return instances, nil
}

// defaultModelFor falls back to the environment model-override contract
// when the job request did not specify a model for this slot.
func defaultModelFor(kind protocol.AgentKind, creds config.Credentials) string {
	switch kind {
	case protocol.AgentKindClaude:
		return creds.ClaudeModel
	case protocol.AgentKindGemini:
		return creds.GeminiModel
	case protocol.AgentKindCodex:
		return creds.OpenAIModel
	case protocol.AgentKindIntegrator:
		return creds.IntegrationModel
	default:
		return ""
	}
}

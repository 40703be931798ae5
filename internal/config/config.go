// Package config resolves the orchestration engine's policy settings from a
// policy file (JSON or YAML) and the credential/model-override environment
// contract, read once at job-creation time.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy contains orchestrator-wide settings that are not specific to any
// one job: concurrency cap, retry/backoff, timeouts, and workspace quota.
type Policy struct {
	Concurrency          int     `json:"concurrency" yaml:"concurrency"`
	AgentTimeoutMinutes  int     `json:"agent_timeout_minutes" yaml:"agent_timeout_minutes"`
	WorkspaceSizeLimitGB float64 `json:"workspace_size_limit_gb" yaml:"workspace_size_limit_gb"`
	MessageMaxBytes      int     `json:"message_max_bytes" yaml:"message_max_bytes"`
	MaxLineBytes         int     `json:"max_line_bytes" yaml:"max_line_bytes"`
	Retry                Retry   `json:"retry" yaml:"retry"`
	RedactSecretsInLogs  bool    `json:"redact_secrets_in_logs" yaml:"redact_secrets_in_logs"`
}

// Retry contains retry policy configuration for transient launch failures.
type Retry struct {
	MaxAttempts int     `json:"max_attempts" yaml:"max_attempts"`
	Backoff     Backoff `json:"backoff" yaml:"backoff"`
}

// Backoff contains exponential backoff configuration.
type Backoff struct {
	InitialMs  int     `json:"initial_ms" yaml:"initial_ms"`
	MaxMs      int     `json:"max_ms" yaml:"max_ms"`
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`
	Jitter     string  `json:"jitter" yaml:"jitter"`
}

// GenerateDefault returns the built-in default Policy.
func GenerateDefault() *Policy {
	return &Policy{
		Concurrency:          4,
		AgentTimeoutMinutes:  30,
		WorkspaceSizeLimitGB: 5,
		MessageMaxBytes:      262144,
		MaxLineBytes:         32768,
		Retry: Retry{
			MaxAttempts: 3,
			Backoff: Backoff{
				InitialMs:  1000,
				MaxMs:      60000,
				Multiplier: 2.0,
				Jitter:     "full",
			},
		},
		RedactSecretsInLogs: true,
	}
}

// Validate checks the policy for errors.
func (p *Policy) Validate() error {
	if p.Concurrency < 1 {
		return fmt.Errorf("configuration error: 'concurrency' must be >= 1, got %d", p.Concurrency)
	}
	if p.AgentTimeoutMinutes < 1 {
		return fmt.Errorf("configuration error: 'agent_timeout_minutes' must be >= 1, got %d", p.AgentTimeoutMinutes)
	}
	if p.WorkspaceSizeLimitGB <= 0 {
		return fmt.Errorf("configuration error: 'workspace_size_limit_gb' must be > 0, got %f", p.WorkspaceSizeLimitGB)
	}
	if p.Retry.MaxAttempts < 1 {
		return fmt.Errorf("configuration error: 'retry.max_attempts' must be >= 1, got %d", p.Retry.MaxAttempts)
	}
	return nil
}

// LoadPolicyFile loads a Policy from a JSON or YAML file, detected by
// extension (.yaml/.yml vs anything else).
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}

	policy := GenerateDefault()
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		if err := yaml.Unmarshal(data, policy); err != nil {
			return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
		}
	} else {
		if err := json.Unmarshal(data, policy); err != nil {
			return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
		}
	}

	return policy, nil
}

// SaveToFile writes the policy to a JSON file with 0600 permissions.
func (p *Policy) SaveToFile(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write policy file %s: %w", path, err)
	}
	return nil
}

// Credentials holds the per-provider credential/model-override contract
// read from the environment once at job-creation time. Missing credentials
// for a required agent are a fatal job-creation error, never a retry.
type Credentials struct {
	AnthropicCred    string
	GeminiCred       string
	OpenAICred       string
	ClaudeModel      string
	GeminiModel      string
	OpenAIModel      string
	IntegrationModel string
}

// EnvOverrides captures the subset of the contract that can adjust policy
// on a per-process basis, distinct from per-provider credentials.
type EnvOverrides struct {
	MaxParallelAgents    *int
	AgentTimeoutMinutes  *int
	WorkspaceSizeLimitGB *float64
}

// LoadCredentialsFromEnv reads ANTHROPIC_CRED, GEMINI_CRED, OPENAI_CRED, and
// the four model-override variables from the environment.
func LoadCredentialsFromEnv() Credentials {
	return Credentials{
		AnthropicCred:    os.Getenv("ANTHROPIC_CRED"),
		GeminiCred:       os.Getenv("GEMINI_CRED"),
		OpenAICred:       os.Getenv("OPENAI_CRED"),
		ClaudeModel:      os.Getenv("CLAUDE_MODEL"),
		GeminiModel:      os.Getenv("GEMINI_MODEL"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		IntegrationModel: os.Getenv("INTEGRATION_MODEL"),
	}
}

// LoadEnvOverridesFromEnv reads MAX_PARALLEL_AGENTS, AGENT_TIMEOUT_MINUTES,
// and WORKSPACE_SIZE_LIMIT_GB from the environment. Unset or unparseable
// values leave the corresponding field nil so callers fall back to Policy.
func LoadEnvOverridesFromEnv() EnvOverrides {
	var out EnvOverrides

	if raw := os.Getenv("MAX_PARALLEL_AGENTS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			out.MaxParallelAgents = &v
		}
	}
	if raw := os.Getenv("AGENT_TIMEOUT_MINUTES"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			out.AgentTimeoutMinutes = &v
		}
	}
	if raw := os.Getenv("WORKSPACE_SIZE_LIMIT_GB"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			out.WorkspaceSizeLimitGB = &v
		}
	}

	return out
}

// ApplyOverrides returns a copy of p with any non-nil EnvOverrides fields
// applied on top.
func (p Policy) ApplyOverrides(o EnvOverrides) Policy {
	if o.MaxParallelAgents != nil {
		p.Concurrency = *o.MaxParallelAgents
	}
	if o.AgentTimeoutMinutes != nil {
		p.AgentTimeoutMinutes = *o.AgentTimeoutMinutes
	}
	if o.WorkspaceSizeLimitGB != nil {
		p.WorkspaceSizeLimitGB = *o.WorkspaceSizeLimitGB
	}
	return p
}

// CredentialFor returns the credential string required for the given agent
// kind, and reports whether it is present. Integrator kind never requires a
// dedicated credential beyond its underlying model provider's.
func (c Credentials) CredentialFor(kind string) (string, bool) {
	switch kind {
	case "claude":
		return c.AnthropicCred, c.AnthropicCred != ""
	case "gemini":
		return c.GeminiCred, c.GeminiCred != ""
	case "codex":
		return c.OpenAICred, c.OpenAICred != ""
	default:
		return "", false
	}
}

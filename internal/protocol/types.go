// Package protocol defines the wire-shape shared by every component of the
// orchestration engine: the job-start request, the progress event stream,
// and the terminal job summary.
package protocol

import "time"

// AgentKey identifies one of the four agent slots within a Job. The zero
// value is invalid; use AgentKeyJob for scheduler/job-level events that are
// not attributable to a single agent.
type AgentKey string

const (
	AgentKeyPrimary1   AgentKey = "primary-1"
	AgentKeyPrimary2   AgentKey = "primary-2"
	AgentKeyPrimary3   AgentKey = "primary-3"
	AgentKeyIntegrator AgentKey = "integrator"

	// AgentKeyJob is the sentinel AgentKey for events describing the job
	// itself rather than a single agent (phase transitions, fatal
	// configuration errors).
	AgentKeyJob AgentKey = "job"
)

// PrimaryAgentKeys lists the three phase-A agent slots in a fixed order.
var PrimaryAgentKeys = []AgentKey{AgentKeyPrimary1, AgentKeyPrimary2, AgentKeyPrimary3}

// AgentKind is the logical family an AgentInstance belongs to. Each kind is
// bound to exactly one Agent Adapter.
type AgentKind string

const (
	AgentKindClaude     AgentKind = "claude"
	AgentKindGemini     AgentKind = "gemini"
	AgentKindCodex      AgentKind = "codex"
	AgentKindIntegrator AgentKind = "integrator"
)

// EventKind enumerates the closed set of ProgressEvent kinds spec.md §3
// defines. No other kind is ever emitted.
type EventKind string

const (
	EventKindStatus   EventKind = "status"
	EventKindStdout   EventKind = "stdout"
	EventKindStderr   EventKind = "stderr"
	EventKindPhase    EventKind = "phase"
	EventKindWarning  EventKind = "warning"
	EventKindError    EventKind = "error"
	EventKindComplete EventKind = "complete"
)

// Classification is the terminal state of an AgentInstance or the aggregate
// terminal state of a Job. Values are ordered worst-last, matching the
// composition rule in spec.md §4.4:
// succeeded < warnings-only < partial-failure < failed < timeout < cancelled
type Classification string

const (
	ClassificationSucceeded      Classification = "succeeded"
	ClassificationWarningsOnly   Classification = "warnings-only"
	ClassificationPartialFailure Classification = "partial-failure"
	ClassificationFailed         Classification = "failed"
	ClassificationTimeout        Classification = "timeout"
	ClassificationCancelled      Classification = "cancelled"
)

var classificationRank = map[Classification]int{
	ClassificationSucceeded:      0,
	ClassificationWarningsOnly:   1,
	ClassificationPartialFailure: 2,
	ClassificationFailed:         3,
	ClassificationTimeout:        4,
	ClassificationCancelled:      5,
}

// Worse returns the classification that ranks higher (is worse) of a and b.
// An unrecognized classification ranks below ClassificationSucceeded so a
// valid classification always wins against a zero value.
func Worse(a, b Classification) Classification {
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// rank returns c's position in the composition order, or -1 for an
// unrecognized classification.
func rank(c Classification) int {
	if r, ok := classificationRank[c]; ok {
		return r
	}
	return -1
}

// ProgressEvent is the tagged record streamed from the orchestration engine
// to exactly one observing client per job, per spec.md §3 and §6.
type ProgressEvent struct {
	JobID    string   `json:"job_id"`
	AgentKey AgentKey `json:"agent_key"`
	Kind     EventKind `json:"kind"`
	Payload  string   `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	// MonotonicSeq disambiguates events sharing a wall-clock Timestamp and
	// gives the Event Hub a stable per-stream production order.
	MonotonicSeq uint64 `json:"monotonic_seq"`
}

// TimestampMS renders the event's wall-clock timestamp in the
// milliseconds-since-epoch form spec.md §6 specifies for the wire record.
func (e *ProgressEvent) TimestampMS() int64 {
	return e.Timestamp.UnixMilli()
}

// JobRequest is the client-to-server start message spec.md §6 defines.
type JobRequest struct {
	// Source is either a remote repository URL or a local directory path.
	Source      string              `json:"source"`
	Ref         string              `json:"ref,omitempty"`
	Objective   string              `json:"objective"`
	AgentModels map[AgentKey]string `json:"agent_models"`
	Config      *JobConfigOverrides `json:"config,omitempty"`
}

// JobConfigOverrides carries the optional per-job overrides spec.md §6
// allows in the start message's "config" field.
type JobConfigOverrides struct {
	AgentTimeoutMinutes   *int `json:"agent_timeout_minutes,omitempty"`
	ConcurrencyCapRequest *int `json:"concurrency_cap_request,omitempty"`
}

// Artifact describes one file produced by a job, with a checksum for
// tamper-evident reference, mirroring the receipt manifest entries.
type Artifact struct {
	Path      string `json:"path"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
}

// AgentSummary is the per-agent block carried in the terminal complete
// event's payload, supplemented per SPEC_FULL.md §5 with an attempt count
// and per-agent duration.
type AgentSummary struct {
	AgentKey       AgentKey       `json:"agent_key"`
	Kind           AgentKind      `json:"kind"`
	Classification Classification `json:"classification"`
	Attempts       int            `json:"attempts"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	EndedAt        *time.Time     `json:"ended_at,omitempty"`
	Artifact       *Artifact      `json:"artifact,omitempty"`
	Detail         string         `json:"detail,omitempty"`
}

// JobSummary is the aggregate terminal record carried as the complete
// event's payload (JSON-encoded into ProgressEvent.Payload).
type JobSummary struct {
	JobID          string         `json:"job_id"`
	Classification Classification `json:"classification"`
	Agents         []AgentSummary `json:"agents"`
	FinalArtifact  *Artifact      `json:"final_artifact,omitempty"`
}

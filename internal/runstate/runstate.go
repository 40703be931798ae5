// Package runstate persists a terminal audit record of a Job after the
// Scheduler reaches a final classification. It is not resumable state:
// spec.md's Non-goals exclude durable job persistence across process
// restarts, so this is a write-once receipt for post-mortem inspection, not
// something a future run reads back to continue work.
package runstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agentswarm/swarmd/internal/fsutil"
	"github.com/agentswarm/swarmd/internal/protocol"
)

// RunState is the persisted terminal record of one Job.
type RunState struct {
	JobID          string                  `json:"job_id"`
	Classification protocol.Classification `json:"classification"`
	Objective      string                  `json:"objective"`
	StartedAt      time.Time               `json:"started_at"`
	CompletedAt    *time.Time              `json:"completed_at,omitempty"`
	Agents         []protocol.AgentSummary `json:"agents"`
	FinalArtifact  *protocol.Artifact      `json:"final_artifact,omitempty"`
}

// NewRunState creates the in-progress record for a Job at start time.
func NewRunState(jobID, objective string) *RunState {
	return &RunState{
		JobID:     jobID,
		Objective: objective,
		StartedAt: time.Now().UTC(),
	}
}

// Finish populates the terminal fields from a completed protocol.JobSummary.
func (s *RunState) Finish(summary protocol.JobSummary) {
	s.Classification = summary.Classification
	s.Agents = summary.Agents
	s.FinalArtifact = summary.FinalArtifact
	now := time.Now().UTC()
	s.CompletedAt = &now
}

// Save writes state to disk atomically.
func Save(state *RunState, path string) error {
	return fsutil.AtomicWriteJSON(path, state)
}

// Load reads a persisted RunState back from disk.
func Load(path string) (*RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run state: %w", err)
	}
	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal run state: %w", err)
	}
	return &state, nil
}

// PathFor returns the standard on-disk location for a Job's run state,
// alongside its materialized workspaces.
func PathFor(workspaceRoot, jobID string) string {
	return filepath.Join(workspaceRoot, jobID, "run_state.json")
}

// Package receipt records the final artifact manifest for a completed job:
// the integrator's final_report.md plus a per-agent summary, written once a
// job reaches a terminal state.
package receipt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agentswarm/swarmd/internal/fsutil"
	"github.com/agentswarm/swarmd/internal/protocol"
)

// Receipt is the durable record of a job's outcome, written after the
// integrator (or, if it never ran, the job itself) reaches terminal state.
type Receipt struct {
	JobID          string                  `json:"job_id"`
	Classification protocol.Classification `json:"classification"`
	Agents         []protocol.AgentSummary `json:"agents"`
	FinalArtifact  *protocol.Artifact      `json:"final_artifact,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
}

// NewReceipt builds a Receipt from a job's terminal summary.
func NewReceipt(summary *protocol.JobSummary) *Receipt {
	return &Receipt{
		JobID:          summary.JobID,
		Classification: summary.Classification,
		Agents:         summary.Agents,
		FinalArtifact:  summary.FinalArtifact,
		CreatedAt:      time.Now().UTC(),
	}
}

// WriteReceipt writes a receipt to disk atomically.
func WriteReceipt(receipt *Receipt, path string) error {
	return fsutil.AtomicWriteJSON(path, receipt)
}

// ReadReceipt reads a receipt from disk.
func ReadReceipt(path string) (*Receipt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt: %w", err)
	}

	var receipt Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}

	return &receipt, nil
}

// GetReceiptPath returns the standard path for a job's receipt.
// Format: <workspace_root>/<JobId>/receipt.json
func GetReceiptPath(workspaceRoot, jobID string) string {
	return filepath.Join(workspaceRoot, jobID, "receipt.json")
}

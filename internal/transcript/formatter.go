package transcript

import (
	"encoding/json"
	"fmt"

	"github.com/agentswarm/swarmd/internal/protocol"
)

// Formatter formats ProgressEvents for console output.
type Formatter struct{}

// NewFormatter creates a new transcript formatter.
func NewFormatter() *Formatter {
	return &Formatter{}
}

// FormatEvent formats one ProgressEvent for console display.
func (f *Formatter) FormatEvent(evt *protocol.ProgressEvent) string {
	switch evt.Kind {
	case protocol.EventKindStdout:
		return fmt.Sprintf("[%s] %s", evt.AgentKey, evt.Payload)
	case protocol.EventKindStderr:
		return fmt.Sprintf("[%s!] %s", evt.AgentKey, evt.Payload)
	case protocol.EventKindPhase:
		return fmt.Sprintf("[%s] phase: %s", evt.AgentKey, evt.Payload)
	case protocol.EventKindWarning:
		return fmt.Sprintf("[%s] WARNING: %s", evt.AgentKey, evt.Payload)
	case protocol.EventKindError:
		return fmt.Sprintf("[%s] ERROR: %s", evt.AgentKey, evt.Payload)
	case protocol.EventKindComplete:
		var summary protocol.JobSummary
		if err := json.Unmarshal([]byte(evt.Payload), &summary); err == nil && summary.Classification != "" {
			return fmt.Sprintf("[%s] complete:\n%s", evt.AgentKey, f.FormatSummary(summary))
		}
		return fmt.Sprintf("[%s] complete: %s", evt.AgentKey, evt.Payload)
	default:
		return fmt.Sprintf("[%s] %s: %s", evt.AgentKey, evt.Kind, evt.Payload)
	}
}

// FormatSummary formats a terminal JobSummary for console display.
func (f *Formatter) FormatSummary(summary protocol.JobSummary) string {
	result := fmt.Sprintf("job %s: %s", summary.JobID, summary.Classification)
	for _, agent := range summary.Agents {
		result += fmt.Sprintf("\n  %s (%s): %s, attempts=%d", agent.AgentKey, agent.Kind, agent.Classification, agent.Attempts)
		if agent.Artifact != nil {
			result += fmt.Sprintf(", artifact=%s (%s)", agent.Artifact.Path, f.formatSize(agent.Artifact.SizeBytes))
		}
	}
	return result
}

func (f *Formatter) formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GiB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MiB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KiB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

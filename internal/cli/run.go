package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentswarm/swarmd/internal/config"
	"github.com/agentswarm/swarmd/internal/controller"
	"github.com/agentswarm/swarmd/internal/protocol"
	"github.com/agentswarm/swarmd/internal/scheduler"
	"github.com/agentswarm/swarmd/internal/transcript"
	"github.com/agentswarm/swarmd/internal/workspace"
)

const policyFileName = "swarmd.json"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a new orchestration job",
	Long: `Start a new orchestration job. Flags describe the job directly; with
no --objective flag, a JSON-encoded JobRequest is read from standard input,
mirroring the start-message contract a remote client would send.`,
	RunE: runRun,
}

func init() {
	// Registered on rootCmd, not runCmd, so both `swarmd --objective ...` and
	// `swarmd run --objective ...` parse against the same flag set: root's
	// RunE forwards to runRun without cobra's own subcommand dispatch, so
	// cobra parses args against whichever command is actually invoked.
	rootCmd.PersistentFlags().String("source", "", "Git remote URL or local path to materialize into each agent's workspace")
	rootCmd.PersistentFlags().String("ref", "", "Branch or tag to check out, when --source is a remote URL")
	rootCmd.PersistentFlags().String("objective", "", "Objective text given to every agent; if empty, a JobRequest is read as JSON from stdin")
	rootCmd.PersistentFlags().String("workspace-root", "", "Root directory for materialized agent workspaces (default: ./swarmd-workspaces)")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	outWriter := cmd.OutOrStdout()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	policy, policySource, err := loadOrCreatePolicy(configPath, logger)
	if err != nil {
		return err
	}
	logger.Info("loaded policy", "source", policySource)

	overrides := config.LoadEnvOverridesFromEnv()
	*policy = policy.ApplyOverrides(overrides)
	if err := policy.Validate(); err != nil {
		return err
	}

	creds := config.LoadCredentialsFromEnv()

	req, err := buildJobRequest(cmd)
	if err != nil {
		return err
	}

	workspaceRoot, err := cmd.Flags().GetString("workspace-root")
	if err != nil {
		return err
	}
	if workspaceRoot == "" {
		workspaceRoot = "swarmd-workspaces"
	}
	if err := os.MkdirAll(workspaceRoot, 0700); err != nil {
		return fmt.Errorf("create workspace root: %w", err)
	}

	ws := workspace.NewManager(workspaceRoot, policy.WorkspaceSizeLimitGB)
	sem := scheduler.NewSemaphore(policy.Concurrency)

	ctl := controller.New(ws, sem, creds, *policy, logger)
	ctl.RunStateRoot = workspaceRoot

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	handle, err := ctl.Start(ctx, req)
	if err != nil {
		return fmt.Errorf("job rejected: %w", err)
	}
	logger.Info("job started", "job_id", handle.JobID)

	formatter := transcript.NewFormatter()
	var finalClassification protocol.Classification

	for evt := range handle.Sub.Events() {
		fmt.Fprintln(outWriter, formatter.FormatEvent(evt))
		if evt.Kind == protocol.EventKindComplete {
			var summary protocol.JobSummary
			if err := json.Unmarshal([]byte(evt.Payload), &summary); err != nil {
				logger.Warn("complete event payload was not a JSON job summary", "job_id", handle.JobID, "error", err)
				finalClassification = protocol.Classification(evt.Payload)
				continue
			}
			finalClassification = summary.Classification
		}
	}

	switch finalClassification {
	case protocol.ClassificationSucceeded, protocol.ClassificationWarningsOnly, "":
		return nil
	default:
		return fmt.Errorf("job %s finished with classification %s", handle.JobID, finalClassification)
	}
}

func buildJobRequest(cmd *cobra.Command) (protocol.JobRequest, error) {
	objective, err := cmd.Flags().GetString("objective")
	if err != nil {
		return protocol.JobRequest{}, err
	}

	if objective == "" {
		return readJobRequestFromStdin(cmd.InOrStdin())
	}

	source, err := cmd.Flags().GetString("source")
	if err != nil {
		return protocol.JobRequest{}, err
	}
	ref, err := cmd.Flags().GetString("ref")
	if err != nil {
		return protocol.JobRequest{}, err
	}

	return protocol.JobRequest{Source: source, Ref: ref, Objective: objective}, nil
}

func readJobRequestFromStdin(r io.Reader) (protocol.JobRequest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return protocol.JobRequest{}, fmt.Errorf("read job request from stdin: %w", err)
	}
	var req protocol.JobRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return protocol.JobRequest{}, fmt.Errorf("parse job request: %w", err)
	}
	return req, nil
}

// loadOrCreatePolicy finds an existing policy file or creates a default one,
// searching up the directory tree the way the teacher's config discovery did.
func loadOrCreatePolicy(explicitPath string, logger *slog.Logger) (*config.Policy, string, error) {
	if explicitPath != "" {
		policy, err := config.LoadPolicyFile(explicitPath)
		if err != nil {
			return nil, "", err
		}
		return policy, explicitPath, nil
	}

	found, err := findPolicyInTree()
	if err != nil {
		return nil, "", err
	}
	if found != "" {
		policy, err := config.LoadPolicyFile(found)
		if err != nil {
			return nil, "", err
		}
		return policy, found, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("determine working directory: %w", err)
	}
	defaultPath := filepath.Join(cwd, policyFileName)
	policy := config.GenerateDefault()
	if err := policy.SaveToFile(defaultPath); err != nil {
		return nil, "", fmt.Errorf("save default policy: %w", err)
	}
	logger.Info("created default policy", "path", defaultPath)
	return policy, defaultPath, nil
}

func findPolicyInTree() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("determine working directory: %w", err)
	}

	for {
		candidate := filepath.Join(dir, policyFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "swarmd",
	Short: "Agent swarm orchestration engine",
	Long: `swarmd fans a single objective out to three independent coding agents
(Claude-kind, Gemini-kind, Codex-kind), runs them concurrently in isolated
workspaces, then fans in to an integrator agent that synthesizes the three
results into a final report.

Running 'swarmd' without a subcommand is equivalent to 'swarmd run'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to swarmd.json policy file (default: search up directory tree)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

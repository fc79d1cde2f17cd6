package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var startMaxIterations int

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the agent process",
	RunE: func(cmd *cobra.Command, args []string) error {
		if startMaxIterations <= 0 {
			return fmt.Errorf("--max-iterations must be positive")
		}
		if dryRun {
			ui.DryRunMsg("Would start the agent with max iterations %d", startMaxIterations)
			return nil
		}
		if err := newClient().StartAgent(cmd.Context(), startMaxIterations); err != nil {
			return err
		}
		ui.Success("Agent started (max iterations %d)", startMaxIterations)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running agent process",
	RunE: func(cmd *cobra.Command, args []string) error {
		if dryRun {
			ui.DryRunMsg("Would stop the agent")
			return nil
		}
		if err := newClient().StopAgent(cmd.Context()); err != nil {
			return err
		}
		ui.Success("Agent stopped")
		return nil
	},
}

func init() {
	startCmd.Flags().IntVar(&startMaxIterations, "max-iterations", 10, "Iteration budget for the run")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
}

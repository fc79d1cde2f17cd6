package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/zbstctc/botool/internal/models"
	"github.com/zbstctc/botool/internal/output"
	"github.com/zbstctc/botool/internal/status"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the agent's current run-state",
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := newClient().AgentStatus(cmd.Context())
		if err != nil {
			return fmt.Errorf("fetch status: %w", err)
		}
		v := status.Derive(rec, "", time.Now())
		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}
		printStatus(v)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw status record as JSON")
	rootCmd.AddCommand(statusCmd)
}

// printStatus renders a status view as a short block.
func printStatus(v status.View) {
	if v.Err != "" {
		ui.Error("%s", v.Err)
	}
	if v.Record == nil {
		ui.Info("No status yet")
		return
	}
	r := v.Record
	fmt.Fprintf(ui.Out, "  %-12s %s\n", "Status:", output.AgentStatusColor(r.Status))
	if r.Message != "" {
		fmt.Fprintf(ui.Out, "  %-12s %s\n", "Message:", r.Message)
	}
	fmt.Fprintf(ui.Out, "  %-12s %d/%d\n", "Iteration:", r.Iteration, r.MaxIterations)
	fmt.Fprintf(ui.Out, "  %-12s %s %d/%d (%.0f%%)\n", "Tasks:",
		output.Bar(float64(r.Completed), float64(r.Total), 20), r.Completed, r.Total, v.Progress)
	if r.CurrentTask != "" {
		fmt.Fprintf(ui.Out, "  %-12s %s\n", "Current:", output.Cyan(r.CurrentTask))
	}
	if r.RetryCount > 0 {
		fmt.Fprintf(ui.Out, "  %-12s %d\n", "Retries:", r.RetryCount)
	}
	if v.Elapsed > 0 {
		fmt.Fprintf(ui.Out, "  %-12s %s\n", "Elapsed:", output.Duration(v.Elapsed.Seconds()))
	}
	if r.Status == models.AgentStatusMaxIterations {
		ui.Warning("Iteration budget exhausted")
	}
}

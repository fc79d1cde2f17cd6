package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zbstctc/botool/internal/batch"
	"github.com/zbstctc/botool/internal/output"
)

var batchesCmd = &cobra.Command{
	Use:   "batches <prd.json>",
	Short: "Layer a PRD's task graph into concurrent batches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read prd: %w", err)
		}
		tasks, err := batch.ParsePRD(string(data))
		if err != nil {
			return err
		}
		res := batch.ComputeBatches(tasks)
		printBatches(res)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(batchesCmd)
}

func printBatches(res batch.Result) {
	if len(res.Batches) == 0 && len(res.Unscheduled) == 0 {
		ui.Info("No tasks")
		return
	}
	table := ui.Table([]string{"Batch", "Tasks", "Count"})
	for i, b := range res.Batches {
		table.Append([]string{fmt.Sprintf("%d", i), strings.Join(b, ", "), fmt.Sprintf("%d", len(b))})
	}
	table.Render()

	if len(res.Unscheduled) > 0 {
		ui.Warning("Unscheduled (dependency cycle): %s", output.Red(strings.Join(res.Unscheduled, ", ")))
	}
}

package cmd

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show or reset recorded batch assignments",
	Long: `Show or reset the batch index each task was first seen in.

Assignments are kept per scope (server URL plus project). Running bare
'botool history' is the same as 'botool history show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyShowRun(cmd)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show batch assignments for the current scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyShowRun(cmd)
	},
}

var historyResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget batch assignments for the current scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyResetRun(cmd)
	},
}

func init() {
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyResetCmd)
	rootCmd.AddCommand(historyCmd)
}

func historyShowRun(cmd *cobra.Command) error {
	engine, closeHistory, err := newEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = closeHistory() }()

	hist, err := engine.History(cmd.Context())
	if err != nil {
		return err
	}
	ui.Info("Scope: %s", engine.Scope())
	if len(hist) == 0 {
		ui.Info("No batch assignments recorded")
		return nil
	}

	ids := make([]string, 0, len(hist))
	for id := range hist {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		if c := cmp.Compare(hist[a], hist[b]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	table := ui.Table([]string{"Task", "Batch"})
	for _, id := range ids {
		table.Append([]string{id, fmt.Sprintf("%d", hist[id])})
	}
	table.Render()
	return nil
}

func historyResetRun(cmd *cobra.Command) error {
	engine, closeHistory, err := newEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = closeHistory() }()

	if dryRun {
		ui.DryRunMsg("Would reset batch history for %s", engine.Scope())
		return nil
	}
	if err := engine.ResetScope(cmd.Context()); err != nil {
		return err
	}
	ui.Success("Batch history reset for %s", engine.Scope())
	return nil
}

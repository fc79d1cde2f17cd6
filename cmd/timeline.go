package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/zbstctc/botool/internal/models"
	"github.com/zbstctc/botool/internal/output"
	"github.com/zbstctc/botool/internal/timing"
)

var (
	timelinePRD       string
	timelineProgress  string
	timelineTeammates string
	timelineStatus    string
	timelineJSON      bool
)

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Reconcile a task timeline from files on disk",
	Long: `Reconcile per-task timings offline from a PRD, a progress log, an
optional teammates file and an optional status record. Batch assignments
are recorded in the history store like a live pass.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		prd, err := readOptional(timelinePRD)
		if err != nil {
			return err
		}
		progress, err := readOptional(timelineProgress)
		if err != nil {
			return err
		}
		var cohort *models.CohortFile
		if timelineTeammates != "" {
			cohort = &models.CohortFile{}
			if err := readJSON(timelineTeammates, cohort); err != nil {
				return err
			}
		}
		var rec *models.AgentStatusRecord
		if timelineStatus != "" {
			rec = &models.AgentStatusRecord{}
			if err := readJSON(timelineStatus, rec); err != nil {
				return err
			}
		}

		in, err := timing.BuildInput(prd, progress, rec, cohort)
		if err != nil {
			return err
		}

		engine, closeHistory, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = closeHistory() }()

		tl, err := engine.Reconcile(ctx, in)
		if err != nil {
			return err
		}
		if timelineJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(tl)
		}
		printTimeline(tl)
		return nil
	},
}

func init() {
	timelineCmd.Flags().StringVar(&timelinePRD, "prd", "prd.json", "PRD document")
	timelineCmd.Flags().StringVar(&timelineProgress, "progress", "progress.txt", "Progress log")
	timelineCmd.Flags().StringVar(&timelineTeammates, "teammates", "", "Teammates (cohort) JSON file")
	timelineCmd.Flags().StringVar(&timelineStatus, "status", "", "Agent status record JSON file")
	timelineCmd.Flags().BoolVar(&timelineJSON, "json", false, "Print the timeline as JSON")
	rootCmd.AddCommand(timelineCmd)
}

// readOptional returns nil when path is empty or the file does not exist.
func readOptional(path string) (*string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	s := string(data)
	return &s, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// printTimeline renders the lanes of a timeline with a bar per task scaled
// to the longest task.
func printTimeline(tl *timing.Timeline) {
	c := tl.Cohort
	fmt.Fprintf(ui.Out, "Cohort: %s batch %d [%s]", output.Cyan(string(c.Source)), c.BatchIndex, strings.Join(c.TaskIDs, ", "))
	if c.Stale {
		fmt.Fprint(ui.Out, output.Yellow(" (stale teammates file)"))
	}
	fmt.Fprintln(ui.Out)

	if len(tl.Timings) == 0 {
		ui.Info("No task timings yet")
		return
	}

	scale := tl.MaxDuration
	for _, t := range tl.Timings {
		scale = max(scale, t.Duration)
	}
	table := ui.Table([]string{"Batch", "Task", "Start", "Duration", "", "Source"})
	for _, lane := range tl.Lanes {
		for _, t := range lane.Timings {
			dur := output.Duration(t.Duration)
			if t.InProgress() {
				dur += " " + output.Cyan("running")
			}
			table.Append([]string{
				fmt.Sprintf("%d", lane.Index),
				t.TaskID,
				t.StartTime.Local().Format(time.TimeOnly),
				dur,
				output.Bar(t.Duration, scale, 20),
				output.SourceColor(t.Source),
			})
		}
	}
	table.Render()

	fmt.Fprintf(ui.Out, "Average %s  Max %s  Total %s",
		output.Duration(tl.AverageDuration), output.Duration(tl.MaxDuration), output.Duration(tl.TotalElapsed))
	if tl.InFlight {
		fmt.Fprintf(ui.Out, "  Active %s", output.Duration(tl.ActiveElapsed))
	}
	fmt.Fprintln(ui.Out)
	if len(tl.Unscheduled) > 0 {
		ui.Warning("Unscheduled (dependency cycle): %s", strings.Join(tl.Unscheduled, ", "))
	}
}

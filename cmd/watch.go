package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/zbstctc/botool/internal/api"
	"github.com/zbstctc/botool/internal/filesync"
	"github.com/zbstctc/botool/internal/health"
	"github.com/zbstctc/botool/internal/models"
	"github.com/zbstctc/botool/internal/output"
	"github.com/zbstctc/botool/internal/status"
	"github.com/zbstctc/botool/internal/timing"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the agent live: status, documents and task timeline",
	Long: `Follow the agent live. botool mirrors the PRD and progress log, tracks
the run-state, polls the teammates file and re-reconciles the task
timeline whenever any of them change (and every second while a task is in
flight). Press Ctrl-C to exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// fileSource picks the document source from files.source.
func fileSource(client *api.Client) filesync.Source {
	if viper.GetString("files.source") == "local" {
		return filesync.NewLocalSource(viper.GetString("files.dir"))
	}
	return filesync.NewRemoteSource(client)
}

// cohortPoller keeps the latest teammates file.
type cohortPoller struct {
	client   *api.Client
	interval time.Duration
	changed  func()

	mu     sync.Mutex
	cohort *models.CohortFile
}

func (p *cohortPoller) latest() *models.CohortFile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cohort
}

func (p *cohortPoller) run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		cf, err := p.client.Teammates(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			log.Debug().Err(err).Msg("Teammates poll failed")
		default:
			p.mu.Lock()
			changed := !sameCohort(p.cohort, cf)
			p.cohort = cf
			p.mu.Unlock()
			if changed {
				p.changed()
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func sameCohort(a, b *models.CohortFile) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.UpdatedAt.Equal(b.UpdatedAt.Time) && len(a.Teammates) == len(b.Teammates)
}

// supervise re-runs a channel after its reconnect budget is spent, waiting
// one health interval between rounds.
func supervise(ctx context.Context, name string, wait time.Duration, run func(context.Context) error) error {
	for {
		err := run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, health.ErrDisconnected) {
			return err
		}
		log.Warn().Err(err).Str("channel", name).Dur("retry_in", wait).Msg("Channel disconnected")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func watchRun(ctx context.Context) error {
	engine, closeHistory, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = closeHistory() }()

	mode, err := status.ParseMode(viper.GetString("status.mode"))
	if err != nil {
		return err
	}

	client := newClient()
	policy := reconnectPolicy()
	pollInterval := viper.GetDuration("status.poll_interval")
	healthInterval := viper.GetDuration("health.interval")

	files := filesync.New(fileSource(client), filesync.WithPolicy(policy))
	statusCh := status.New(status.NewFeed(mode, client, pollInterval, policy), client)

	var live *timing.Live
	trigger := func() {
		if live != nil {
			live.Trigger()
		}
	}
	cohorts := &cohortPoller{client: client, interval: pollInterval, changed: trigger}

	live = timing.NewLive(engine, func() timing.Input {
		prd, _ := files.Content(filesync.DocPRD)
		progress, _ := files.Content(filesync.DocProgress)
		in, err := timing.BuildInput(prd, progress, statusCh.View().Record, cohorts.latest())
		if err != nil {
			log.Warn().Err(err).Msg("Ignoring unreadable PRD")
		}
		return in
	})

	server := health.NewTracker("server")
	mon := health.NewMonitor(server, client.Health,
		health.WithInterval(healthInterval),
		health.WithFailureThreshold(viper.GetInt("health.failure_threshold")),
	)

	for _, doc := range filesync.Docs {
		files.OnUpdate(doc, func(*string) { trigger() })
	}
	statusCh.OnChange(func(status.View) { trigger() })
	files.Tracker().OnChange(func(s models.ConnectionState) {
		log.Info().Str("channel", "files").Str("state", string(s)).Msg("Connection changed")
	})
	server.OnChange(func(s models.ConnectionState) {
		log.Info().Str("channel", "server").Str("state", string(s)).Msg("Connection changed")
	})

	r := &watchRenderer{clear: isatty.IsTerminal(os.Stdout.Fd())}
	live.OnUpdate(func(tl *timing.Timeline) {
		r.render(statusCh.View(), files.State(), server.State(), tl)
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return supervise(ctx, "files", healthInterval, files.Run) })
	g.Go(func() error { return supervise(ctx, "status", healthInterval, statusCh.Run) })
	g.Go(func() error { return cohorts.run(ctx) })
	g.Go(func() error { return live.Run(ctx) })
	g.Go(func() error { return mon.Run(ctx) })
	return g.Wait()
}

// watchRenderer redraws the whole view per timeline.
type watchRenderer struct {
	mu    sync.Mutex
	clear bool
}

func (r *watchRenderer) render(v status.View, files, server models.ConnectionState, tl *timing.Timeline) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clear {
		fmt.Fprint(ui.Out, "\033[H\033[2J")
	}
	fmt.Fprintf(ui.Out, "%s  server %s  files %s\n\n",
		output.Faint(tl.ComputedAt.Local().Format(time.TimeOnly)),
		output.ConnectionColor(server), output.ConnectionColor(files))
	printStatus(v)
	fmt.Fprintln(ui.Out)
	printTimeline(tl)
}

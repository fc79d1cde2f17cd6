package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zbstctc/botool/internal/api"
	"github.com/zbstctc/botool/internal/health"
	"github.com/zbstctc/botool/internal/output"
	"github.com/zbstctc/botool/internal/store"
	"github.com/zbstctc/botool/internal/timing"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui *output.UI

	verbose bool
	dryRun  bool

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "botool",
	Short: "Operator console for a multi-task coding agent",
	Long: `botool keeps an operator's view of a remote coding agent in sync:
chat with tool-call answers, the mirrored PRD and progress log, the agent's
run-state, and a reconciled per-task timeline grouped into batches.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/botool/config.yaml)")
	rootCmd.PersistentFlags().String("server", "", "Agent server URL (overrides server.url)")
	rootCmd.PersistentFlags().String("project", "", "Project scope sent with every call")

	_ = viper.BindPFlag("server.url", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("BOTOOL")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	dir, _ := configDirFunc()
	setDefaults(dir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func setDefaults(dir string) {
	viper.SetDefault("server.url", "http://localhost:3000")
	viper.SetDefault("project", "")
	viper.SetDefault("chat.mode", "default")
	viper.SetDefault("reconnect.max_attempts", health.DefaultMaxAttempts)
	viper.SetDefault("reconnect.delay", health.DefaultDelay)
	viper.SetDefault("health.interval", health.DefaultCheckInterval)
	viper.SetDefault("health.failure_threshold", health.DefaultFailureThreshold)
	viper.SetDefault("status.mode", "poll")
	viper.SetDefault("status.poll_interval", 2*time.Second)
	viper.SetDefault("cohort.stale_after", 60*time.Second)
	viper.SetDefault("history.backend", store.BackendSQLite)
	viper.SetDefault("history.db_path", filepath.Join(dir, "history.db"))
	viper.SetDefault("files.source", "remote")
	viper.SetDefault("files.dir", "tasks")
	viper.SetDefault("log.level", "info")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	level, err := zerolog.ParseLevel(viper.GetString("log.level"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if verbose && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
}

// newClient builds the API client from configuration.
func newClient() *api.Client {
	return api.NewClient(viper.GetString("server.url"), api.WithProject(viper.GetString("project")))
}

// reconnectPolicy reads the shared reconnect settings.
func reconnectPolicy() health.ReconnectPolicy {
	p := health.DefaultPolicy()
	p.MaxAttempts = viper.GetInt("reconnect.max_attempts")
	p.Delay = viper.GetDuration("reconnect.delay")
	return p
}

// historyScope names the batch history bucket for the configured server
// and project.
func historyScope() string {
	if p := viper.GetString("project"); p != "" {
		return viper.GetString("server.url") + "#" + p
	}
	return viper.GetString("server.url")
}

// newEngine opens the batch history and returns an engine over it. The
// returned close func releases the store.
func newEngine(ctx context.Context) (*timing.Engine, func() error, error) {
	hist, err := store.Open(ctx, viper.GetString("history.backend"), viper.GetString("history.db_path"))
	if err != nil {
		return nil, nil, fmt.Errorf("open history: %w", err)
	}
	e := timing.NewEngine(hist, historyScope(),
		timing.WithStaleAfter(viper.GetDuration("cohort.stale_after")),
	)
	return e, hist.Close, nil
}

package cmd

import (
	"bytes"
	"cmp"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// envKeyReplacer maps nested keys to env names: server.url -> BOTOOL_SERVER_URL.
var envKeyReplacer = strings.NewReplacer(".", "_")

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "botool"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage botool configuration.

Running bare 'botool config' is the same as 'botool config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)

	for i := range configKeys {
		configKeys[i].EnvVar = envVarFor(configKeys[i].Key)
	}
}

// configKey is one documented setting.
type configKey struct {
	Key     string
	Comment string
	EnvVar  string
}

var configKeys = []configKey{
	{Key: "server.url", Comment: "Base URL of the agent server"},
	{Key: "project", Comment: "Project scope sent as ?project= on every call (empty: unscoped)"},
	{Key: "chat.mode", Comment: "Mode forwarded with every chat request"},
	{Key: "reconnect.max_attempts", Comment: "Retries after a dropped connection before giving up"},
	{Key: "reconnect.delay"},
	{Key: "health.interval", Comment: "Idle check interval"},
	{Key: "health.failure_threshold", Comment: "Consecutive check failures before disconnecting"},
	{Key: "status.mode", Comment: `"poll" or "push"`},
	{Key: "status.poll_interval"},
	{Key: "cohort.stale_after", Comment: "Teammates file age after which an active agent's cohort is inferred"},
	{Key: "history.backend", Comment: `"sqlite" or "memory"`},
	{Key: "history.db_path"},
	{Key: "files.source", Comment: `"remote" (server watch stream) or "local" (watch files.dir)`},
	{Key: "files.dir"},
	{Key: "log.level"},
}

// envVarFor returns the environment variable viper reads for key.
func envVarFor(key string) string {
	return "BOTOOL_" + strings.ToUpper(envKeyReplacer.Replace(key))
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// renderConfig writes the effective value of every key as commented YAML.
func renderConfig() ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	sections := map[string]*yaml.Node{}
	for _, k := range configKeys {
		parent, name := root, k.Key
		if section, leaf, ok := strings.Cut(k.Key, "."); ok {
			if sections[section] == nil {
				sections[section] = &yaml.Node{Kind: yaml.MappingNode}
				root.Content = append(root.Content,
					&yaml.Node{Kind: yaml.ScalarNode, Value: section}, sections[section])
			}
			parent, name = sections[section], leaf
		}
		val := viper.Get(k.Key)
		if d, ok := val.(time.Duration); ok {
			val = d.String()
		}
		var v yaml.Node
		if err := v.Encode(val); err != nil {
			return nil, fmt.Errorf("encode %s: %w", k.Key, err)
		}
		parent.Content = append(parent.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: name, HeadComment: comment(k.Comment)}, &v)
	}
	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: "# botool configuration\n# See: botool config show (for effective values and sources)",
		Content:     []*yaml.Node{root},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return buf.Bytes(), nil
}

func comment(s string) string {
	if s == "" {
		return ""
	}
	return "# " + s
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	data, err := renderConfig()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintf(ui.Out, "\n%s", data)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(cfgPath, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintf(ui.Out, "\n%s", data)
	return nil
}

func configShowRun() error {
	if used := viper.ConfigFileUsed(); used != "" {
		ui.Info("Config file: %s", used)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	for _, k := range configKeys {
		fmt.Fprintf(ui.Out, "  %-26s %v  %s\n", k.Key, viper.Get(k.Key), detectSource(k.Key, k.EnvVar))
	}
	return nil
}

// detectSource reports where viper found key: env, the loaded file, or a default.
func detectSource(key, envVar string) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if viper.InConfig(key) {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := cmp.Or(os.Getenv("EDITOR"), os.Getenv("VISUAL"))
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'botool config init' first)", cfgPath)
	}
	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin, editCmd.Stdout, editCmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	return editCmd.Run()
}

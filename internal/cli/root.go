// Package cli implements bridgectl, a desktop harness for the bridge: it
// probes model files, runs one-shot generations and serves the debug HTTP API.
package cli

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"llamabridge/internal/bridge"
	"llamabridge/internal/config"
	"llamabridge/internal/engine"
	"llamabridge/internal/logging"
	"llamabridge/internal/metrics"
)

// Function variables swapped by tests.
var (
	fnNewEngine = engine.New
	fnServe     = func(srv *http.Server) error { return srv.ListenAndServe() }
)

// app carries state shared by every command of one invocation.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg config.Config
	log zerolog.Logger
	out io.Writer
	err io.Writer
}

// setup loads the config file and builds the logger. Flags win over the file.
func (a *app) setup() error {
	var err error
	switch {
	case a.configPath != "":
		a.cfg, err = config.Load(a.configPath)
	default:
		a.cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	level, format := a.cfg.LogLevel, a.cfg.LogFormat
	if a.logLevel != "" {
		level = a.logLevel
	}
	if a.logFormat != "" {
		format = a.logFormat
	}
	if format == "" {
		format = "console"
	}
	a.log, err = logging.New(level, format, a.err)
	return err
}

// newBridge builds an uninitialized bridge from the loaded config.
func (a *app) newBridge(m *metrics.Metrics) *bridge.Bridge {
	bc := a.cfg.BridgeConfig()
	bc.Engine = fnNewEngine()
	bc.Logger = a.log
	bc.Metrics = m
	return bridge.NewWithConfig(bc)
}

func buildRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "bridgectl",
		Short:         "Probe GGUF models and drive the llama bridge from a desktop",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.out)
	root.SetErr(a.err)

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (.yaml|.json|.toml); defaults to $"+config.EnvPath)
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug|info|warn|error|off")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format: console|json")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error { return a.setup() }

	root.AddCommand(
		newProbeCmd(a),
		newModelsCmd(a),
		newInfoCmd(a),
		newGenerateCmd(a),
		newServeCmd(a),
	)

	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(a.out) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(a.out) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(a.out, true) }})
	completionCmd.AddCommand(&cobra.Command{Use: "powershell", Short: "PowerShell completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenPowerShellCompletionWithDesc(a.out) }})
	root.AddCommand(completionCmd)
	return root
}

// run executes args and returns the process exit code.
func run(args []string, out, errOut io.Writer) int {
	a := &app{out: out, err: errOut}
	root := buildRootCmd(a)
	if len(args) == 0 {
		_ = root.Usage()
		return 2
	}
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 1
	}
	return 0
}

// MainWithArgs runs bridgectl with args and returns an exit code.
func MainWithArgs(args []string) int { return run(args, os.Stdout, os.Stderr) }

// Main returns an exit code for use by cmd/bridgectl.
func Main() int { return MainWithArgs(os.Args[1:]) }

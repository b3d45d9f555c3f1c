// Package cli defines the claude-executor command tree.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"phobos.org.uk/executor/internal/admission"
	"phobos.org.uk/executor/internal/config"
	"phobos.org.uk/executor/internal/executor"
	"phobos.org.uk/executor/internal/invoke"
	"phobos.org.uk/executor/internal/logging"
	"phobos.org.uk/executor/internal/runlog"
	"phobos.org.uk/executor/internal/schema"
)

// Execute runs the root command with process arguments.
func Execute(version string) error {
	return NewRootCmd(version, os.Stdout, os.Stderr).Execute()
}

// globals holds flags shared by every subcommand.
type globals struct {
	cfgFile string
	version string
	stderr  io.Writer
}

// NewRootCmd builds the command tree. Output goes to stdout; logs go to stderr.
func NewRootCmd(version string, stdout, stderr io.Writer) *cobra.Command {
	g := &globals{version: version, stderr: stderr}

	root := &cobra.Command{
		Use:           "claude-executor",
		Short:         "Run Claude CLI tasks with structured output",
		Long:          `Invokes the Claude CLI as a subprocess, decodes its JSON output against a schema, and records every run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&g.cfgFile, "config", "", "config file (default: built-in defaults plus environment)")

	root.AddCommand(
		newServeCmd(g),
		newInvokeCmd(g),
		newSchemasCmd(g),
		newVersionCmd(g),
	)
	return root
}

// loadConfig reads the config file if one was given, then applies environment
// overrides. Environment always wins.
func (g *globals) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if g.cfgFile != "" {
		var err error
		cfg, err = config.Load(g.cfgFile)
		if err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (g *globals) newLogger(cfg *config.Config) *logging.Logger {
	level, ok := logging.ParseLevel(cfg.LogLevel)
	if !ok {
		level = logging.LevelInfo
	}
	return logging.New(logging.Config{
		Output:     g.stderr,
		Level:      level,
		Component:  "executor",
		MaxEntries: 1000,
	})
}

// app is the assembled service graph shared by serve and invoke.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	schemas  *schema.Registry
	runs     *runlog.Store
	executor *executor.Executor
}

func (g *globals) build() (*app, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	log := g.newLogger(cfg)

	registry := schema.NewRegistry(cfg.SchemasDir(), log)
	if _, err := registry.Load(); err != nil {
		return nil, err
	}

	runs, err := runlog.NewStore(cfg.RunsDir)
	if err != nil {
		return nil, err
	}

	svc := invoke.New(cfg.Executor, invoke.WithLogger(log))
	gate := admission.New(cfg.Executor.Limits.MaxConcurrent)

	return &app{
		cfg:      cfg,
		log:      log,
		schemas:  registry,
		runs:     runs,
		executor: executor.New(svc, gate, runs, log, invoke.Model(cfg.Executor.Defaults.Model)),
	}, nil
}

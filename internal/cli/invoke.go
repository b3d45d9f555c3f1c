package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"phobos.org.uk/executor/internal/executor"
	"phobos.org.uk/executor/internal/invoke"
)

// errFailed marks an invocation whose failure body was already printed.
var errFailed = errors.New("invocation failed")

type invokeFlags struct {
	taskType     string
	prompt       string
	promptFile   string
	schemaName   string
	schemaFile   string
	model        string
	timeout      time.Duration
	allowedTools []string
	agent        string
}

func newInvokeCmd(g *globals) *cobra.Command {
	f := &invokeFlags{}

	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Run a single invocation and print the outcome as JSON",
		Long: `Runs one task through the same path the HTTP service uses: admission,
retries, decoding, and run logging. The outcome is printed to stdout in the
execute response shape. The exit code is 1 when the invocation fails.`,
		Example: `  # Inline prompt with a schema file
  claude-executor invoke --prompt "Classify this ticket" --schema-file ticket.json

  # Prompt from a file, named schema, faster model
  claude-executor invoke --prompt-file prompt.txt --schema ticket --model haiku`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(cmd, g, f)
		},
	}

	cmd.Flags().StringVar(&f.taskType, "task-type", "cli", "task type recorded with the run")
	cmd.Flags().StringVarP(&f.prompt, "prompt", "p", "", "prompt text")
	cmd.Flags().StringVar(&f.promptFile, "prompt-file", "", "read the prompt from a file")
	cmd.Flags().StringVar(&f.schemaName, "schema", "", "name of a schema in the workspace")
	cmd.Flags().StringVar(&f.schemaFile, "schema-file", "", "path to a JSON Schema file")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "model: haiku, sonnet, or opus (default from config)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "per-attempt timeout (default from config)")
	cmd.Flags().StringSliceVar(&f.allowedTools, "allowed-tools", nil, "comma-separated tools the CLI may use")
	cmd.Flags().StringVar(&f.agent, "agent", "", "agent name recorded with the run")
	cmd.MarkFlagsMutuallyExclusive("prompt", "prompt-file")
	cmd.MarkFlagsOneRequired("prompt", "prompt-file")
	cmd.MarkFlagsMutuallyExclusive("schema", "schema-file")
	cmd.MarkFlagsOneRequired("schema", "schema-file")
	return cmd
}

func runInvoke(cmd *cobra.Command, g *globals, f *invokeFlags) error {
	model, err := invoke.ParseModel(f.model)
	if err != nil {
		return err
	}

	prompt := f.prompt
	if f.promptFile != "" {
		data, err := os.ReadFile(f.promptFile)
		if err != nil {
			return fmt.Errorf("reading prompt file: %w", err)
		}
		prompt = string(data)
	}

	a, err := g.build()
	if err != nil {
		return err
	}

	var doc map[string]any
	switch {
	case f.schemaFile != "":
		data, err := os.ReadFile(f.schemaFile)
		if err != nil {
			return fmt.Errorf("reading schema file: %w", err)
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing schema file: %w", err)
		}
	default:
		doc, err = a.schemas.Get(f.schemaName)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := a.executor.Execute(ctx, executor.Task{
		TaskType: f.taskType,
		Agent:    f.agent,
		Request: invoke.Request{
			Prompt:       prompt,
			Schema:       doc,
			Model:        model,
			Timeout:      f.timeout,
			AllowedTools: f.allowedTools,
		},
	})

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if err != nil {
		fail := executor.AsFailure(err)
		if encErr := enc.Encode(fail.Response()); encErr != nil {
			return encErr
		}
		return fmt.Errorf("%w: %s", errFailed, fail.Err.Kind)
	}
	return enc.Encode(res.Response())
}

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"phobos.org.uk/executor/internal/server"
)

// shutdownTimeout bounds how long in-flight invocations may drain.
const shutdownTimeout = 30 * time.Second

func newServeCmd(g *globals) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Example: `  # Serve with defaults on :3000
  claude-executor serve

  # Serve with a config file and a port override
  claude-executor serve --config executor.yaml --port 8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.build()
			if err != nil {
				return err
			}
			if port > 0 {
				a.cfg.Port = port
			}

			srv := server.New(a.cfg, g.version, server.Deps{
				Executor: a.executor,
				Schemas:  a.schemas,
				Runs:     a.runs,
				Log:      a.log,
			})

			// Handle shutdown signals
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				a.log.Info("received signal", map[string]any{"signal": sig.String()})
			}

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}
			return <-errCh
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "port to listen on (overrides config)")
	return cmd
}

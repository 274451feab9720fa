// ABOUTME: Serve command for HTTP webhook server mode
// ABOUTME: Starts an HTTP server that triggers pipeline runs on request

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/riffml/riff/internal/server"
)

var (
	servePort       int
	serveProjectDir string
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for webhook-triggered pipeline runs",
	Long: `Start an HTTP server that accepts run requests and executes pipelines
asynchronously.

Endpoints:
  POST /run        Trigger a run ({"project": "...", "version": "...", "overrides": [...]})
  GET  /runs       List triggered runs
  GET  /runs/{id}  Show run details
  GET  /status     Server status
  GET  /health     Health check

Examples:
  riff serve --port 8080
  riff serve --port 9000 --base-dir /srv/pipelines`,
	RunE: startServer,
}

func startServer(cmd *cobra.Command, args []string) error {
	orch, err := newOrchestrator(false)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	ws := server.New(&server.Config{
		Port:         servePort,
		ProjectDir:   serveProjectDir,
		Logger:       GetLogger(),
		Orchestrator: orch,
	})

	// Shut down cleanly on SIGINT/SIGTERM
	errCh := make(chan error, 1)
	go func() {
		errCh <- ws.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return ws.Stop(ctx)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP server port")
	serveCmd.Flags().StringVar(&serveProjectDir, "base-dir", "", "base directory for relative project paths in run requests")
}

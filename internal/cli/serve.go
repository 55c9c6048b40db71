// serve.go implements "specflow serve", the HTTP API.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/specflow/specflow/internal/metrics"
	"github.com/specflow/specflow/internal/poller"
	"github.com/specflow/specflow/internal/server"
	"github.com/specflow/specflow/internal/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the workflow HTTP API",
	Long: `Serve the workflow API, session log streams and Prometheus metrics.
Detached executions are reconciled in the background while serving.`,
	RunE: runServe,
}

var (
	addrFlag      string
	accessLogFlag bool
)

// reconcileEvery is the period of the background reconcile sweep.
const reconcileEvery = 30 * time.Second

func init() {
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (default: server.addr from config)")
	serveCmd.Flags().BoolVar(&accessLogFlag, "access-log", false, "Log every request to stderr")
}

func runServe(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	addr := addrFlag
	if addr == "" {
		addr = e.cfg.Server.Addr
	}

	pm := poller.New(e.cfg.ClaudeProjectsDir(), e.cfg.SessionPollInterval(), metrics.Default)
	defer pm.Close()

	opts := server.Options{
		Service:        e.svc,
		Poller:         pm,
		ClaudeProjects: e.cfg.ClaudeProjectsDir(),
		Gatherer:       prometheus.DefaultGatherer,
	}
	if accessLogFlag {
		opts.LogOutput = os.Stderr
	}
	srv := server.New(opts)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "specflow listening on %s\n", addr)
		return srv.Run(ctx, addr)
	})
	g.Go(func() error {
		reconcileLoop(ctx, e.svc)
		return nil
	})
	return g.Wait()
}

func reconcileLoop(ctx context.Context, svc *workflow.Service) {
	t := time.NewTicker(reconcileEvery)
	defer t.Stop()
	for {
		if changed, err := svc.ReconcileActive(ctx); err == nil {
			for _, ex := range changed {
				fmt.Fprintf(os.Stderr, "reconciled %s: %s\n", ex.ID, ex.Status)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

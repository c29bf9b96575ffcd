/**
 * `docprocd serve`: the long-running process. Runs the Smart Processing
 * Orchestrator behind an SSE HTTP endpoint, the intake-directory watcher,
 * and background maintenance as independent goroutines, grounded on the
 * teacher's cmd/worker/main.go startup-log/graceful-shutdown shape.
 *
 * golang.org/x/sync/errgroup coordinates these goroutines: unlike
 * internal/ocr/rotation.go's candidate-angle probes (which share a single
 * non-thread-safe MuPDF document handle and cannot be parallelized safely),
 * these three goroutines own disjoint resources and a first-error-cancels
 * shutdown is exactly the behavior wanted here.
 */

package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docprocd/docprocd/internal/maintenance"
	"github.com/docprocd/docprocd/internal/orchestrator"
	"github.com/docprocd/docprocd/internal/sse"
	"github.com/docprocd/docprocd/internal/store"
	"github.com/docprocd/docprocd/internal/watch"
)

var serveListenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator, progress-stream API, intake watcher, and background maintenance",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "127.0.0.1:8089", "address for the progress-stream HTTP API")
}

func runServe(cmd *cobra.Command, _ []string) error {
	c, err := wire()
	if err != nil {
		return err
	}
	defer c.store.Close()

	logger := c.logger
	logger.Info("docprocd starting",
		zap.String("intake_dir", c.cfg.IntakeDir),
		zap.String("filing_cabinet_dir", c.cfg.FilingCabinetDir),
		zap.Int("worker_concurrency", c.cfg.WorkerConcurrency),
		zap.String("listen", serveListenAddr))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler := sse.NewHandler(c.runtime, logger.Named("sse"))
	mux := http.NewServeMux()
	mux.HandleFunc("/smart-process", handler.HandleStart)
	mux.HandleFunc("/smart-process/cancel", func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		handler.HandleCancel(w, r, token)
	})
	httpServer := &http.Server{Addr: serveListenAddr, Handler: mux}

	maintenanceRunner := maintenance.NewRunner(c.cache, store.NewBatchGuard(c.store), c.runtime, maintenance.Config{
		NormalizedCacheMaxAge:     time.Duration(c.cfg.NormalizedCacheMaxAgeDays) * 24 * time.Hour,
		SmartTokenCleanupInterval: secondsToDuration(c.cfg.SmartTokenTTLSeconds) / 2,
	}, logger.Named("maintenance"))

	onIntakeArrival := func(paths []string) {
		logger.Info("intake watcher detected new files", zap.Int("count", len(paths)))
		token, events := c.runtime.StartRun(paths)
		logger.Info("smart processing started from intake watch", zap.String("token", token))
		go drainEvents(events)
	}
	intakeWatcher, err := watch.New(c.cfg.IntakeDir, 2*time.Second, 30*time.Second, onIntakeArrival, logger.Named("watch"))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		maintenanceRunner.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := intakeWatcher.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		intakeWatcher.Stop()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("docprocd exited with error", zap.Error(err))
		return err
	}
	logger.Info("docprocd shutdown complete")
	return nil
}

// drainEvents consumes a run's progress channel to completion when nothing
// else is listening, so StartRun's worker goroutines never block on a full
// buffer for a run nobody is streaming (e.g. one triggered by the intake
// watcher rather than an API caller).
func drainEvents(events <-chan orchestrator.Event) {
	for range events {
	}
}

package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"plantlab/internal/adapters/httpapi"
	"plantlab/internal/adapters/reports"
	"plantlab/internal/blob"
	"plantlab/internal/core"
	"plantlab/internal/logging"
	"plantlab/internal/metrics"
)

func newServeCmd(g *globals) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API and the report worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				g.cfg.HTTP.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, g)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides http.addr")
	return cmd
}

func serve(ctx context.Context, g *globals) error {
	cfg := g.cfg
	logger := logging.New("plantlab", cfg.Logging.Level)

	recorder, err := metrics.NewRecorder()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	svc, closeSvc, err := g.openService(ctx, logger,
		core.WithMetrics(core.MultiMetrics(recorder, core.NewExpvarRecorder("plantlab_operations"))))
	if err != nil {
		return err
	}
	defer closeSvc()

	store, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	worker := reports.NewWorker(svc, store,
		reports.WithLogger(logger.With("reports")),
		reports.WithAudit(reportAudit{logger: logger.With("reports")}),
		reports.WithObserver(recorder),
		reports.WithQueueSize(cfg.Reports.QueueSize),
		reports.WithKeyPrefix(cfg.Reports.KeyPrefix),
		reports.WithRetention(cfg.Reports.Retention()),
		reports.WithPlanningParams(cfg.Planning),
	)

	handler := httpapi.NewHandler(svc,
		httpapi.WithReports(worker),
		httpapi.WithLogger(logger.With("http")),
		httpapi.WithMetrics(recorder, recorder.Handler()),
		httpapi.WithDebugVars(expvar.Handler()),
		httpapi.WithPlanningParams(cfg.Planning),
	)
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout(),
		WriteTimeout: cfg.HTTP.WriteTimeout(),
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return worker.Run(gctx) })
	group.Go(func() error {
		logger.Info("listening", "addr", cfg.HTTP.Addr, "storage", cfg.Storage.Driver, "blob", string(store.Driver()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout())
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

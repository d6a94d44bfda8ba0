package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/errorparty/backend/internal/config"
	"github.com/errorparty/backend/internal/db"
	"github.com/errorparty/backend/internal/handlers"
	"github.com/errorparty/backend/internal/httpserver"
	"github.com/errorparty/backend/internal/logging"
	"github.com/errorparty/backend/internal/middleware"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot session, roster reconciler and admin HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(os.Stdout, cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc, cleanup, err := buildDependencies(ctx, pool, cfg, logger)
	if err != nil {
		return err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	svc.Manager.Start()

	reconcilerDone := make(chan struct{})
	go func() {
		defer close(reconcilerDone)
		if err := svc.Reconciler.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("roster reconciler stopped", "error", err)
		}
	}()

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, svc.HTTP)

	handler := middleware.RequestLogger(logger)(middleware.Throttle(svc.AdminLimiter, "/api/")(mux))

	srv := httpserver.New(cfg.AppPort, handler,
		httpserver.WithWriteTimeout(cfg.Coordinator.RequestTimeout+10*time.Second),
		httpserver.WithBaseContext(runCtx),
	)

	logger.Info("starting http server", "port", cfg.AppPort, "vendor", cfg.Vendor, "backupConfigured", cfg.HasBackup())

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("context canceled, shutting down")
	case sig := <-signalCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-srvErr:
		runErr = err
	case <-svc.Manager.Done():
		logger.Warn("bot session stopped, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	cancelRun()
	<-reconcilerDone

	if err := cleanup(shutdownCtx); err != nil {
		logger.Warn("dependency cleanup", "error", err)
	}
	return runErr
}

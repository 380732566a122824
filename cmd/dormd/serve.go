package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dormitory-access-backend/internal/api"
	"dormitory-access-backend/internal/billing"
	"dormitory-access-backend/internal/schedule"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "serve",
		Short:        "Run the HTTP API and the scheduled device sync",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
}

func runServe(opts *rootOptions) error {
	a, err := newApp(opts.configPath)
	if err != nil {
		return err
	}
	defer a.close()
	cfg := a.cfg

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.alerts != nil {
		a.alerts.Start(ctx)
	}

	sched, err := schedule.NewService(cfg.Sync.Schedule, a.store, a.residents, a.log.Named("schedule"))
	if err != nil {
		return err
	}
	go sched.Run(ctx)

	handler := api.NewHandler(a.store, a.residents, a.webpush,
		api.WithHorizon(billing.Horizon{Month: time.Month(cfg.Billing.CutoffMonth), Day: cfg.Billing.CutoffDay}),
		api.WithMaxPhotoBytes(cfg.Sync.MaxPhotoBytes),
		api.WithLogger(a.log.Named("api")),
	)
	router := api.NewRouter(handler, api.RouterConfig{
		RateLimitPerSec: cfg.Server.RateLimitPerSec,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
		ClientKeyHeader: cfg.Server.ClientKeyHeader,
		CacheTTL:        time.Duration(cfg.Server.CacheTTLSeconds) * time.Second,
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received, stopping services")
	case err := <-errCh:
		return fmt.Errorf("HTTP server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	a.log.Info("server gracefully stopped")
	return nil
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"credits/internal/app"
	"credits/internal/credit/handler"
	"credits/internal/platform/config"
	"credits/internal/platform/httpserver"
	"credits/internal/platform/logger"
	"credits/internal/platform/metrics"
	"credits/pkg/platform/httputil"
	"credits/pkg/platform/middleware/admin"
	"credits/pkg/platform/middleware/metadata"
	"credits/pkg/platform/middleware/requesttime"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal/credit.
func main() {
	if err := run(); err != nil {
		slog.Error("credits server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Server.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ledger, err := app.Build(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			log.Warn("closing backends", "error", err)
		}
	}()

	router := newRouter(cfg, log, reg, ledger)
	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting credits server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		log.Info("shutting down credits server")
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.Credits.WorkerEnabled {
		g.Go(func() error {
			if err := ledger.Worker.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func newRouter(cfg config.Config, log *slog.Logger, reg *prometheus.Registry, ledger *app.App) http.Handler {
	httpMetrics := metrics.New(reg)

	r := chi.NewRouter()
	r.Use(metadata.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(requesttime.Middleware)
	r.Use(httpMetrics.Middleware)
	r.Use(metadata.AccessLog(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ledger.Health(ctx); err != nil {
			log.WarnContext(ctx, "health check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		handler.New(ledger.Service, log).Register(r)
		if cfg.Server.AdminToken != "" {
			r.Route("/admin", func(r chi.Router) {
				r.Use(admin.RequireAdminToken(cfg.Server.AdminToken, log))
				handler.NewAdmin(ledger.Service, cfg.Credits.ExpiringSoonDays, log).Register(r)
			})
		}
	})
	return r
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	jwttoken "promptvault/internal/jwt_token"
	"promptvault/internal/platform/config"
	"promptvault/internal/platform/httpserver"
	"promptvault/internal/platform/logger"
	platformmetrics "promptvault/internal/platform/metrics"
	platformredis "promptvault/internal/platform/redis"
	"promptvault/internal/prompt/audit"
	"promptvault/internal/prompt/handler"
	promptmetrics "promptvault/internal/prompt/metrics"
	"promptvault/internal/prompt/service"
	"promptvault/internal/prompt/store/cache"
	"promptvault/internal/prompt/store/factory"
)

// main wires the configured backend, the audit ledger and the HTTP surface.
// All versioning logic lives in internal/prompt; main only assembles and
// supervises.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := factory.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize backend", "error", err)
		os.Exit(1)
	}
	defer func() { _ = closeBackend() }()

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		backend = cache.New(backend, redisClient.Client, cfg.CacheTTL, log)
		log.Info("redis cache enabled", "ttl", cfg.CacheTTL.String())
	}

	sink, closeSink, err := factory.NewAuditSink(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize audit sink", "error", err)
		os.Exit(1)
	}
	defer func() { _ = closeSink() }()
	asyncLedger := audit.NewAsyncLedger(sink, cfg.AuditBuffer, log)

	pm := platformmetrics.New()
	svc := service.New(backend, audit.NewPublisher(asyncLedger), log, promptmetrics.New(), service.Options{
		LockTimeout:    cfg.LockTimeout,
		RetryAttempts:  uint(cfg.RetryAttempts),
		RetryBaseDelay: cfg.RetryBaseDelay,
	})

	validator := jwttoken.NewService(cfg.JWTSigningKey, cfg.JWTIssuer)

	router := chi.NewRouter()
	handler.New(svc, log, pm, validator).Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := httpserver.New(cfg.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return asyncLedger.Run(groupCtx)
	})
	group.Go(func() error {
		log.Info("starting promptvault",
			"addr", cfg.Addr,
			"backend", cfg.BackendMode,
			"audit_sink", cfg.AuditSink,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return httpserver.Shutdown(srv, 10*time.Second)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

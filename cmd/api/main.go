package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hookrelay/hookrelay/internal/api"
	"github.com/hookrelay/hookrelay/internal/auth"
	"github.com/hookrelay/hookrelay/internal/config"
	"github.com/hookrelay/hookrelay/internal/db"
	"github.com/hookrelay/hookrelay/internal/delivery"
	"github.com/hookrelay/hookrelay/internal/dlq"
	"github.com/hookrelay/hookrelay/internal/health"
	"github.com/hookrelay/hookrelay/internal/idempotency"
	"github.com/hookrelay/hookrelay/internal/logging"
	"github.com/hookrelay/hookrelay/internal/metrics"
	"github.com/hookrelay/hookrelay/internal/store"
	"github.com/hookrelay/hookrelay/internal/task"
	"github.com/hookrelay/hookrelay/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New("hookrelay-api")

	shutdown, err := tracing.InitTracing(ctx, "hookrelay-api")
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	submitter, err := task.NewSubmitter(cfg.NSQ.NsqdTCPAddr, cfg.NSQ.DeliveriesTopic)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer failed")
	}
	defer submitter.Stop()

	st := store.New(pool)
	orch := delivery.NewOrchestrator(st, submitter, cfg.Delivery.MaxAttempts, logger)
	deadLetters := dlq.NewService(st, nil, "", logger)
	guard := idempotency.NewGuard(st, logger)

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := api.NewServer(st, orch, deadLetters, guard, logger)
	srv.Routes(mux)

	var handler http.Handler = mux
	if cfg.Auth.JWTPublicKeyPEM != "" {
		validator, err := auth.NewJWTValidator(cfg.Auth.JWTPublicKeyPEM, cfg.Auth.Issuer, cfg.Auth.Audience)
		if err != nil {
			logger.Plain().WithError(err).Fatal("jwt validator init failed")
		}
		handler = validator.HTTPMiddleware(mux)
		logger.Plain().Info("JWT auth enabled")
	}

	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: handler}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("api HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("api HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("Shutting down api service")
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("api service stopped")
}

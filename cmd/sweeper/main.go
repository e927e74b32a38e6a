package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hookrelay/hookrelay/internal/config"
	"github.com/hookrelay/hookrelay/internal/db"
	"github.com/hookrelay/hookrelay/internal/delivery"
	"github.com/hookrelay/hookrelay/internal/health"
	"github.com/hookrelay/hookrelay/internal/logging"
	"github.com/hookrelay/hookrelay/internal/metrics"
	"github.com/hookrelay/hookrelay/internal/store"
	"github.com/hookrelay/hookrelay/internal/task"
	"github.com/hookrelay/hookrelay/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.New("hookrelay-sweeper")

	shutdown, err := tracing.InitTracing(ctx, "hookrelay-sweeper")
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

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("sweeper HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("sweeper HTTP server failed")
		}
	}()

	sweeper := delivery.NewSweeper(store.New(pool), submitter, cfg.Sweeper.Interval, cfg.Sweeper.BatchSize, logger)
	go sweeper.Run(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("Shutting down sweeper service")
	cancel()
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("sweeper service stopped")
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hookrelay/hookrelay/internal/config"
	"github.com/hookrelay/hookrelay/internal/db"
	"github.com/hookrelay/hookrelay/internal/delivery"
	"github.com/hookrelay/hookrelay/internal/dlq"
	"github.com/hookrelay/hookrelay/internal/health"
	"github.com/hookrelay/hookrelay/internal/logging"
	"github.com/hookrelay/hookrelay/internal/metrics"
	"github.com/hookrelay/hookrelay/internal/store"
	"github.com/hookrelay/hookrelay/internal/task"
	"github.com/hookrelay/hookrelay/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New("hookrelay-worker")

	shutdown, err := tracing.InitTracing(ctx, "hookrelay-worker")
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Worker.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	st := store.New(pool)

	// Optional NSQ mirror of dead-lettered tasks for external consumers.
	var dlqProducer *nsq.Producer
	if cfg.Task.PublishDLQTopic {
		dlqProducer, err = nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq producer for DLQ creation failed")
		}
		defer dlqProducer.Stop()
	}
	deadLetters := dlq.NewService(st, topicPublisher(dlqProducer), cfg.NSQ.DLQTopic, logger)

	exec := delivery.NewExecutor(st, cfg.Delivery.RetrySchedule, cfg.Delivery.Timeout, cfg.Delivery.ResponseBodyLimit, logger)

	policy := task.Policy{
		MaxRetries: cfg.Task.MaxRetries,
		Backoff:    cfg.Task.Backoff,
		JitterPct:  cfg.Task.JitterPercent,
	}
	runner, err := task.NewRunner(cfg.NSQ.DeliveriesTopic, cfg.NSQ.WorkerChannel, cfg.Worker.MaxInFlight, policy, deadLetters.Hook, logger)
	if err != nil {
		logger.Plain().WithError(err).Fatal("task runner creation failed")
	}
	runner.Register(delivery.TaskName, exec.Handle)

	startBacklogMonitor(cfg)

	if err := runner.Connect(cfg.NSQ.NsqdTCPAddr, cfg.NSQ.LookupHTTPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("queue connect failed")
	}

	logger.Plain().Info("worker service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("Shutting down worker service")
	runner.Stop()
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("worker service stopped")
}

// topicPublisher wraps an optional producer as a dlq.TopicPublisher,
// preserving a typed nil when mirroring is disabled.
func topicPublisher(p *nsq.Producer) dlq.TopicPublisher {
	if p == nil {
		return nil
	}
	return p
}

// startBacklogMonitor periodically scrapes nsqd's stats endpoint and exports
// the depth of the deliveries channel.
func startBacklogMonitor(cfg config.Config) {
	go func() {
		logger := logging.New("hookrelay-worker-monitor")
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		httpClient := &http.Client{Timeout: 5 * time.Second}

		for range ticker.C {
			// nsqd HTTP port sits one above its TCP port
			nsqdHTTPAddr := strings.Replace(cfg.NSQ.NsqdTCPAddr, ":4150", ":4151", 1)
			resp, err := httpClient.Get(fmt.Sprintf("http://%s/stats?format=json", nsqdHTTPAddr))
			if err != nil {
				logger.Plain().WithError(err).Error("Failed to get NSQ stats")
				continue
			}

			var stats struct {
				Topics []struct {
					Name     string `json:"topic_name"`
					Channels []struct {
						Name  string `json:"channel_name"`
						Depth int64  `json:"depth"`
					} `json:"channels"`
				} `json:"topics"`
			}

			if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
				resp.Body.Close()
				logger.Plain().WithError(err).Error("Failed to decode NSQ stats")
				continue
			}
			resp.Body.Close()

			for _, topic := range stats.Topics {
				if topic.Name != cfg.NSQ.DeliveriesTopic {
					continue
				}
				for _, channel := range topic.Channels {
					if channel.Name == cfg.NSQ.WorkerChannel {
						metrics.UpdateWorkerBacklog(float64(channel.Depth))
					}
				}
			}
		}
	}()
}

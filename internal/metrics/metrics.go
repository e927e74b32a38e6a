package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsTriggeredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_events_triggered_total",
			Help: "Total number of events triggered for fan-out.",
		},
		[]string{"tenant_id", "event_type"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_deliveries_total",
			Help: "Total number of delivery attempts by outcome.",
		},
		[]string{"outcome"}, // success, retrying, failed
	)

	DeliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hookrelay_delivery_latency_seconds",
			Help:    "Latency of outbound webhook HTTP calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"http_status"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network, other
	)

	DeadLettersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookrelay_dead_letters_total",
			Help: "Total number of tasks parked in the dead-letter store.",
		},
	)

	DeadLetterActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_dead_letter_actions_total",
			Help: "Total operator actions on dead-letter records.",
		},
		[]string{"action"}, // resolve, retry, ignore
	)

	DuplicateEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookrelay_duplicate_events_total",
			Help: "Total inbound events suppressed by the idempotency guard.",
		},
	)

	SweepBatchSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookrelay_sweep_batch_size",
			Help: "Number of due retries claimed by the last sweep.",
		},
	)

	WorkerBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookrelay_worker_backlog",
			Help: "Depth of the deliveries channel as seen by workers.",
		},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		EventsTriggeredTotal,
		DeliveriesTotal,
		DeliveryLatency,
		RetriesTotal,
		DeadLettersTotal,
		DeadLetterActionsTotal,
		DuplicateEventsTotal,
		SweepBatchSize,
		WorkerBacklog,
	)
}

func RecordEventTriggered(tenantID, eventType string) {
	EventsTriggeredTotal.WithLabelValues(tenantID, eventType).Inc()
}

func RecordDelivery(outcome string, httpStatus string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(outcome).Inc()
	if latency > 0 {
		DeliveryLatency.WithLabelValues(httpStatus).Observe(latency.Seconds())
	}
}

func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

func RecordDeadLetter() {
	DeadLettersTotal.Inc()
}

func RecordDeadLetterAction(action string) {
	DeadLetterActionsTotal.WithLabelValues(action).Inc()
}

func RecordDuplicateEvent() {
	DuplicateEventsTotal.Inc()
}

func UpdateSweepBatchSize(n float64) {
	SweepBatchSize.Set(n)
}

func UpdateWorkerBacklog(depth float64) {
	WorkerBacklog.Set(depth)
}

package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegister(t *testing.T) {
	registry := prometheus.NewRegistry()

	// This should not panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("MustRegister() panicked: %v", r)
		}
	}()

	MustRegister(registry)

	// Record some values so metrics appear in Gather()
	RecordEventTriggered("test-tenant", "user.created")
	RecordDelivery("success", "200", 100*time.Millisecond)
	RecordRetry("timeout")
	RecordDeadLetter()
	RecordDeadLetterAction("resolve")
	RecordDuplicateEvent()
	UpdateSweepBatchSize(12)
	UpdateWorkerBacklog(5)

	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Errorf("Registry.Gather() error: %v", err)
	}

	expectedMetrics := []string{
		"hookrelay_events_triggered_total",
		"hookrelay_deliveries_total",
		"hookrelay_delivery_latency_seconds",
		"hookrelay_retries_total",
		"hookrelay_dead_letters_total",
		"hookrelay_dead_letter_actions_total",
		"hookrelay_duplicate_events_total",
		"hookrelay_sweep_batch_size",
		"hookrelay_worker_backlog",
	}

	registeredMetrics := make(map[string]bool)
	for _, mf := range metricFamilies {
		registeredMetrics[mf.GetName()] = true
	}

	for _, expected := range expectedMetrics {
		if !registeredMetrics[expected] {
			t.Errorf("Expected metric %s not found in registry", expected)
		}
	}
}

func TestRecordEventTriggered(t *testing.T) {
	// Reset metric before testing
	EventsTriggeredTotal.Reset()

	tests := []struct {
		name      string
		tenantID  string
		eventType string
		calls     int
	}{
		{
			name:      "single event triggered",
			tenantID:  "tenant-123",
			eventType: "user.created",
			calls:     1,
		},
		{
			name:      "multiple events triggered",
			tenantID:  "tenant-456",
			eventType: "payment.succeeded",
			calls:     5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < tt.calls; i++ {
				RecordEventTriggered(tt.tenantID, tt.eventType)
			}

			counter := EventsTriggeredTotal.WithLabelValues(tt.tenantID, tt.eventType)
			value := testutil.ToFloat64(counter)
			if value != float64(tt.calls) {
				t.Errorf("RecordEventTriggered() counter value = %f, want %f", value, float64(tt.calls))
			}
		})
	}
}

func TestRecordDelivery(t *testing.T) {
	// Reset metrics before testing
	DeliveriesTotal.Reset()
	DeliveryLatency.Reset()

	tests := []struct {
		name       string
		outcome    string
		httpStatus string
		latency    time.Duration
		calls      int
	}{
		{
			name:       "successful delivery",
			outcome:    "success",
			httpStatus: "200",
			latency:    100 * time.Millisecond,
			calls:      1,
		},
		{
			name:       "retrying delivery",
			outcome:    "retrying",
			httpStatus: "503",
			latency:    2 * time.Second,
			calls:      3,
		},
		{
			name:       "failed transport with no latency sample",
			outcome:    "retrying",
			httpStatus: "",
			latency:    0,
			calls:      1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			DeliveriesTotal.Reset()

			for i := 0; i < tt.calls; i++ {
				RecordDelivery(tt.outcome, tt.httpStatus, tt.latency)
			}

			counter := DeliveriesTotal.WithLabelValues(tt.outcome)
			value := testutil.ToFloat64(counter)
			if value != float64(tt.calls) {
				t.Errorf("RecordDelivery() counter value = %f, want %f", value, float64(tt.calls))
			}
		})
	}
}

func TestRecordRetry(t *testing.T) {
	// Reset metric before testing
	RetriesTotal.Reset()

	tests := []struct {
		name   string
		reason string
		calls  int
	}{
		{
			name:   "HTTP 5xx retry",
			reason: "http_5xx",
			calls:  1,
		},
		{
			name:   "timeout retry",
			reason: "timeout",
			calls:  3,
		},
		{
			name:   "network retry",
			reason: "network",
			calls:  2,
		},
		{
			name:   "DNS error retry",
			reason: "dns_error",
			calls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < tt.calls; i++ {
				RecordRetry(tt.reason)
			}

			counter := RetriesTotal.WithLabelValues(tt.reason)
			value := testutil.ToFloat64(counter)
			if value != float64(tt.calls) {
				t.Errorf("RecordRetry() counter value = %f, want %f", value, float64(tt.calls))
			}
		})
	}
}

func TestRecordDeadLetterAction(t *testing.T) {
	// Reset metric before testing
	DeadLetterActionsTotal.Reset()

	tests := []struct {
		name   string
		action string
		calls  int
	}{
		{
			name:   "resolve action",
			action: "resolve",
			calls:  1,
		},
		{
			name:   "retry action",
			action: "retry",
			calls:  2,
		},
		{
			name:   "ignore action",
			action: "ignore",
			calls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < tt.calls; i++ {
				RecordDeadLetterAction(tt.action)
			}

			counter := DeadLetterActionsTotal.WithLabelValues(tt.action)
			value := testutil.ToFloat64(counter)
			if value != float64(tt.calls) {
				t.Errorf("RecordDeadLetterAction() counter value = %f, want %f", value, float64(tt.calls))
			}
		})
	}
}

func TestGauges(t *testing.T) {
	tests := []struct {
		name     string
		updateFn func(float64)
		gauge    prometheus.Gauge
		value    float64
	}{
		{
			name:     "sweep batch size",
			updateFn: UpdateSweepBatchSize,
			gauge:    SweepBatchSize,
			value:    42,
		},
		{
			name:     "worker backlog",
			updateFn: UpdateWorkerBacklog,
			gauge:    WorkerBacklog,
			value:    10000,
		},
		{
			name:     "zero backlog",
			updateFn: UpdateWorkerBacklog,
			gauge:    WorkerBacklog,
			value:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.updateFn(tt.value)

			value := testutil.ToFloat64(tt.gauge)
			if value != tt.value {
				t.Errorf("gauge value = %f, want %f", value, tt.value)
			}
		})
	}
}

func TestPrometheusTextOutput(t *testing.T) {
	registry := prometheus.NewRegistry()
	MustRegister(registry)

	RecordEventTriggered("test-tenant", "user.created")
	UpdateWorkerBacklog(42)

	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Errorf("Registry.Gather() error: %v", err)
	}

	if len(metricFamilies) == 0 {
		t.Error("Expected non-empty metrics output")
	}

	// Check that metric names follow expected pattern
	for _, mf := range metricFamilies {
		name := mf.GetName()
		if !strings.HasPrefix(name, "hookrelay_") {
			t.Errorf("Metric name %s does not have expected prefix 'hookrelay_'", name)
		}
	}
}

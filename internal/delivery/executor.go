package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hookrelay/hookrelay/internal/logging"
	"github.com/hookrelay/hookrelay/internal/metrics"
	"github.com/hookrelay/hookrelay/internal/store"
	"github.com/hookrelay/hookrelay/internal/task"
	"github.com/hookrelay/hookrelay/internal/tracing"
)

// TaskName is the queue task executed by the delivery worker.
const TaskName = "webhook.deliver"

// ExecutorStore is the slice of persistence the executor needs. A delivery
// row is mutated only by the executor processing that id.
type ExecutorStore interface {
	GetDelivery(ctx context.Context, id string) (*store.Delivery, error)
	GetSubscription(ctx context.Context, id string) (*store.Subscription, error)
	RecordAttempt(ctx context.Context, deliveryID, subscriptionID string) (int, error)
	MarkDeliverySuccess(ctx context.Context, deliveryID, subscriptionID string, httpStatus int, body string) error
	MarkDeliveryRetrying(ctx context.Context, deliveryID, subscriptionID string, httpStatus int, body, errMsg string, nextRetryAt time.Time) error
	MarkDeliveryFailed(ctx context.Context, deliveryID, subscriptionID string, httpStatus int, body, errMsg string) error
	FailDeliveryImmediate(ctx context.Context, deliveryID, reason string) error
}

// Executor performs one signed HTTP POST per delivery attempt and
// classifies the outcome.
type Executor struct {
	store     ExecutorStore
	client    *http.Client
	schedule  []time.Duration
	bodyLimit int
	logger    *logging.Logger
	now       func() time.Time
}

// NewExecutor creates an executor. schedule is the tiered next-retry
// offsets (capped at the last tier); timeout bounds the outbound call.
func NewExecutor(st ExecutorStore, schedule []time.Duration, timeout time.Duration, bodyLimit int, logger *logging.Logger) *Executor {
	return &Executor{
		store:     st,
		client:    &http.Client{Timeout: timeout},
		schedule:  schedule,
		bodyLimit: bodyLimit,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle is the task.Handler for delivery envelopes.
func (e *Executor) Handle(ctx context.Context, env task.Envelope) error {
	return e.Deliver(ctx, env.DeliveryID)
}

// Deliver executes one attempt for the given delivery id.
func (e *Executor) Deliver(ctx context.Context, deliveryID string) error {
	ctx, span := tracing.StartSpan(ctx, "delivery.deliver",
		attribute.String("delivery_id", deliveryID),
	)
	defer span.End()

	d, err := e.store.GetDelivery(ctx, deliveryID)
	if errors.Is(err, store.ErrNotFound) {
		// The trigger path publishes before its transaction commits, so a
		// fast worker can race the row into visibility. Requeue rather than
		// discard: the row appears on redelivery, and an id that never
		// appears dead-letters once the queue budget runs out.
		return fmt.Errorf("delivery %s not visible yet", deliveryID)
	}
	if err != nil {
		return fmt.Errorf("load delivery: %w", err)
	}
	if d.Status == store.DeliverySuccess || d.Status == store.DeliveryFailed {
		// Duplicate queue redelivery of an already-terminal record.
		return task.Discard(fmt.Errorf("delivery %s already %s", d.ID, d.Status))
	}

	span.SetAttributes(
		attribute.String("tenant_id", d.TenantID),
		attribute.String("subscription_id", d.SubscriptionID),
		attribute.String("event_type", d.EventType),
		attribute.Int("attempt_count", d.AttemptCount),
	)

	sub, err := e.store.GetSubscription(ctx, d.SubscriptionID)
	if errors.Is(err, store.ErrNotFound) {
		// Configuration outcome, not an infrastructure failure: terminal,
		// no retry, no dead letter.
		tracing.AddSpanEvent(ctx, "delivery.subscription_missing")
		if err := e.store.FailDeliveryImmediate(ctx, d.ID, "subscription missing"); err != nil {
			return fmt.Errorf("fail delivery: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}
	if !sub.Active {
		tracing.AddSpanEvent(ctx, "delivery.subscription_inactive")
		if err := e.store.FailDeliveryImmediate(ctx, d.ID, "subscription inactive"); err != nil {
			return fmt.Errorf("fail delivery: %w", err)
		}
		return nil
	}

	// Audit invariant: counted exactly once per attempt, before the
	// outcome is known.
	attempt, err := e.store.RecordAttempt(ctx, d.ID, sub.ID)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	span.SetAttributes(attribute.Int("attempt", attempt))

	body, err := json.Marshal(NewPayload(d.EventType, d.Payload, d.ID, sub.ID, e.now()))
	if err != nil {
		return task.Permanent(fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return task.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(sub.Secret, body))
	req.Header.Set(EventHeader, d.EventType)
	req.Header.Set(DeliveryHeader, d.ID)
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	tracing.AddSpanEvent(ctx, "http.send_webhook")
	start := e.now()
	resp, doErr := e.client.Do(req)
	latency := time.Since(start)

	status := 0
	respBody := ""
	if doErr == nil {
		status = resp.StatusCode
		b, _ := io.ReadAll(io.LimitReader(resp.Body, int64(e.bodyLimit)))
		respBody = string(b)
		_ = resp.Body.Close()
	}

	span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.Int64("http.latency_ms", latency.Milliseconds()),
	)

	if doErr == nil && status >= 200 && status < 300 {
		tracing.AddSpanEvent(ctx, "delivery.success")
		if err := e.store.MarkDeliverySuccess(ctx, d.ID, sub.ID, status, respBody); err != nil {
			return fmt.Errorf("mark success: %w", err)
		}
		metrics.RecordDelivery("success", strconv.Itoa(status), latency)
		return nil
	}

	reason := classifyReason(doErr, status)
	span.SetAttributes(attribute.String("failure_reason", reason))
	metrics.RecordRetry(reason)

	errMsg := reason
	if doErr != nil {
		errMsg = doErr.Error()
	}

	if attempt < d.MaxAttempts {
		next := e.now().Add(retryTier(e.schedule, attempt))
		tracing.AddSpanEvent(ctx, "delivery.retry_scheduled",
			attribute.Int("attempt", attempt),
			attribute.String("next_retry_at", next.UTC().Format(time.RFC3339)),
		)
		if err := e.store.MarkDeliveryRetrying(ctx, d.ID, sub.ID, status, respBody, errMsg, next); err != nil {
			return fmt.Errorf("mark retrying: %w", err)
		}
		metrics.RecordDelivery("retrying", strconv.Itoa(status), latency)
		e.logger.WithContext(ctx).WithDelivery(d.ID).WithSubscription(sub.ID).WithFields(map[string]any{
			"attempt": attempt,
			"reason":  reason,
		}).Info("delivery attempt failed, retry scheduled")
		return nil
	}

	// Retry budget spent: terminal failure, escalated to the task
	// substrate's failure path which parks a dead letter.
	tracing.AddSpanEvent(ctx, "delivery.exhausted", attribute.Int("attempt", attempt))
	if err := e.store.MarkDeliveryFailed(ctx, d.ID, sub.ID, status, respBody, errMsg); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	metrics.RecordDelivery("failed", strconv.Itoa(status), latency)
	e.logger.WithContext(ctx).WithDelivery(d.ID).WithSubscription(sub.ID).WithFields(map[string]any{
		"attempt": attempt,
		"reason":  reason,
	}).Error("delivery exhausted retry budget")

	return task.Permanent(fmt.Errorf("delivery %s exhausted %d attempts, last status=%d, err=%s", d.ID, attempt, status, errMsg))
}

// retryTier maps a 1-based attempt number onto the tier schedule, capped
// at the last tier.
func retryTier(schedule []time.Duration, attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}

package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hookrelay/hookrelay/internal/event"
	"github.com/hookrelay/hookrelay/internal/logging"
	"github.com/hookrelay/hookrelay/internal/metrics"
	"github.com/hookrelay/hookrelay/internal/store"
	"github.com/hookrelay/hookrelay/internal/task"
	"github.com/hookrelay/hookrelay/internal/tracing"
)

// OrchestratorStore is the slice of persistence the orchestrator needs.
type OrchestratorStore interface {
	ListActiveSubscriptions(ctx context.Context, tenantID, eventType string) ([]store.Subscription, error)
	CreateDelivery(ctx context.Context, d *store.Delivery) error
	CreateDeliveryTx(ctx context.Context, tx pgx.Tx, d *store.Delivery) error
}

// Publisher submits task envelopes onto the durable queue.
type Publisher interface {
	Submit(ctx context.Context, env task.Envelope) error
}

// Orchestrator fans a single domain event out to one delivery per matching
// subscription. It does not deduplicate outbound triggers; that is the
// caller's responsibility.
type Orchestrator struct {
	store       OrchestratorStore
	pub         Publisher
	maxAttempts int
	logger      *logging.Logger
}

// NewOrchestrator creates an orchestrator. maxAttempts is stamped onto
// each created delivery as its retry budget.
func NewOrchestrator(st OrchestratorStore, pub Publisher, maxAttempts int, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{store: st, pub: pub, maxAttempts: maxAttempts, logger: logger}
}

// TriggerEvent creates one pending delivery per active matching
// subscription, snapshots the payload, and submits one task per delivery.
// Zero matches is a valid no-op. Returns the created delivery ids.
func (o *Orchestrator) TriggerEvent(ctx context.Context, tenantID, eventType string, payload json.RawMessage) ([]string, error) {
	return o.fanOut(ctx, tenantID, eventType, payload, o.store.CreateDelivery)
}

// TriggerEventTx is TriggerEvent with delivery inserts inside a
// caller-owned transaction, so fan-out commits atomically with the
// idempotency ledger entry guarding an inbound event. Queue submission
// precedes commit: a task for a delivery whose insert never commits is
// discarded by the executor as unknown.
func (o *Orchestrator) TriggerEventTx(ctx context.Context, tx pgx.Tx, tenantID, eventType string, payload json.RawMessage) ([]string, error) {
	return o.fanOut(ctx, tenantID, eventType, payload, func(ctx context.Context, d *store.Delivery) error {
		return o.store.CreateDeliveryTx(ctx, tx, d)
	})
}

func (o *Orchestrator) fanOut(ctx context.Context, tenantID, eventType string, payload json.RawMessage, create func(context.Context, *store.Delivery) error) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "delivery.trigger_event",
		attribute.String("tenant_id", tenantID),
		attribute.String("event_type", eventType),
	)
	defer span.End()

	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if !event.Valid(eventType) {
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	subs, err := o.store.ListActiveSubscriptions(ctx, tenantID, eventType)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	span.SetAttributes(attribute.Int("subscribers_count", len(subs)))

	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		d := &store.Delivery{
			ID:             uuid.NewString(),
			SubscriptionID: sub.ID,
			TenantID:       tenantID,
			EventType:      eventType,
			Payload:        payload,
			Status:         store.DeliveryPending,
			MaxAttempts:    o.maxAttempts,
		}
		if err := create(ctx, d); err != nil {
			tracing.SetSpanError(ctx, err)
			return ids, fmt.Errorf("create delivery: %w", err)
		}

		env := task.Envelope{
			TaskName:       TaskName,
			DeliveryID:     d.ID,
			TenantID:       tenantID,
			SubscriptionID: sub.ID,
			EventType:      eventType,
		}
		if err := o.pub.Submit(ctx, env); err != nil {
			tracing.SetSpanError(ctx, err)
			return ids, fmt.Errorf("submit delivery task: %w", err)
		}
		ids = append(ids, d.ID)
	}

	metrics.RecordEventTriggered(tenantID, eventType)
	span.SetAttributes(attribute.Int("fanout_count", len(ids)))
	o.logger.WithContext(ctx).WithTenant(tenantID).WithFields(map[string]any{
		"event_type": eventType,
		"fanout":     len(ids),
	}).Info("event fanned out")

	return ids, nil
}

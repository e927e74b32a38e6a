// Package idempotency suppresses duplicate processing of inbound
// at-least-once events (e.g. payment-provider webhooks) keyed by a
// globally unique external event id.
package idempotency

import (
	"context"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hookrelay/hookrelay/internal/logging"
	"github.com/hookrelay/hookrelay/internal/metrics"
	"github.com/hookrelay/hookrelay/internal/tracing"
)

// Outcome of guarded processing.
type Outcome string

const (
	// Processed means the domain effect ran and committed together with
	// the ledger entry.
	Processed Outcome = "processed"
	// Duplicate means the external event id was already recorded; no side
	// effects occurred. Not an error.
	Duplicate Outcome = "duplicate_event"
)

// Ledger runs fn at most once per external event id, with the ledger
// insert and fn's writes in one transaction. Implemented by
// store.Store.ProcessOnce.
type Ledger interface {
	ProcessOnce(ctx context.Context, externalEventID, eventType string, fn func(ctx context.Context, tx pgx.Tx) error) (bool, error)
}

// Guard fronts any inbound externally-triggered processing path.
type Guard struct {
	ledger Ledger
	logger *logging.Logger
}

// NewGuard creates a guard over a ledger.
func NewGuard(ledger Ledger, logger *logging.Logger) *Guard {
	return &Guard{ledger: ledger, logger: logger}
}

// Process runs fn under the dedup ledger. A duplicate id short-circuits
// with Outcome Duplicate and a nil error.
func (g *Guard) Process(ctx context.Context, externalEventID, eventType string, fn func(ctx context.Context, tx pgx.Tx) error) (Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "idempotency.process",
		attribute.String("external_event_id", externalEventID),
		attribute.String("event_type", eventType),
	)
	defer span.End()

	inserted, err := g.ledger.ProcessOnce(ctx, externalEventID, eventType, fn)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return "", err
	}
	if !inserted {
		tracing.AddSpanEvent(ctx, "duplicate_event_detected")
		metrics.RecordDuplicateEvent()
		g.logger.WithContext(ctx).WithField("external_event_id", externalEventID).Info("duplicate inbound event suppressed")
		return Duplicate, nil
	}
	return Processed, nil
}

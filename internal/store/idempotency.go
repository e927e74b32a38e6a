package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ProcessOnce runs fn exactly once per external event id. The ledger
// insert and the domain effect share one transaction: a crash mid-way
// commits neither, so a redelivered event is replayed cleanly rather than
// half-applied. Returns false with no side effects when the id was already
// recorded.
//
// The conflict target is the idempotency ledger's own unique external id;
// deduplication lives here and nowhere else.
func (st *Store) ProcessOnce(ctx context.Context, externalEventID, eventType string, fn func(ctx context.Context, tx pgx.Tx) error) (bool, error) {
	tx, err := st.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		INSERT INTO hookrelay.idempotency_keys(external_event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (external_event_id) DO NOTHING`,
		externalEventID, eventType)
	if err != nil {
		return false, fmt.Errorf("insert idempotency key: %w", err)
	}
	if ct.RowsAffected() == 0 {
		// Already processed (or mid-processing elsewhere): short-circuit.
		return false, nil
	}

	if err := fn(ctx, tx); err != nil {
		// Rollback discards the ledger entry too, keeping the event
		// retryable.
		return false, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE hookrelay.idempotency_keys
		SET processed = true, processed_at = now()
		WHERE external_event_id = $1`, externalEventID,
	); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

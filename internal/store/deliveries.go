package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const deliveryColumns = `
	id, subscription_id, tenant_id, event_type, payload, status,
	http_status, response_body, error, attempt_count, max_attempts,
	next_retry_at, created_at, delivered_at`

func scanDelivery(row pgx.Row) (*Delivery, error) {
	var d Delivery
	err := row.Scan(
		&d.ID, &d.SubscriptionID, &d.TenantID, &d.EventType, &d.Payload, &d.Status,
		&d.HTTPStatus, &d.ResponseBody, &d.Error, &d.AttemptCount, &d.MaxAttempts,
		&d.NextRetryAt, &d.CreatedAt, &d.DeliveredAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDelivery inserts a pending delivery record with its payload
// snapshot. The id is assigned by the caller.
func (st *Store) CreateDelivery(ctx context.Context, d *Delivery) error {
	_, err := st.pool.Exec(ctx, `
		INSERT INTO hookrelay.deliveries(id, subscription_id, tenant_id, event_type, payload, status, max_attempts)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)`,
		d.ID, d.SubscriptionID, d.TenantID, d.EventType, d.Payload, d.MaxAttempts)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// CreateDeliveryTx is CreateDelivery inside a caller-owned transaction,
// used when fan-out must commit atomically with an idempotency ledger
// entry.
func (st *Store) CreateDeliveryTx(ctx context.Context, tx pgx.Tx, d *Delivery) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO hookrelay.deliveries(id, subscription_id, tenant_id, event_type, payload, status, max_attempts)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)`,
		d.ID, d.SubscriptionID, d.TenantID, d.EventType, d.Payload, d.MaxAttempts)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// GetDelivery loads one delivery by id.
func (st *Store) GetDelivery(ctx context.Context, id string) (*Delivery, error) {
	row := st.pool.QueryRow(ctx, `
		SELECT`+deliveryColumns+`
		FROM hookrelay.deliveries
		WHERE id = $1`, id)
	return scanDelivery(row)
}

// ListDeliveries returns deliveries filtered by subscription and/or
// status, newest first.
func (st *Store) ListDeliveries(ctx context.Context, subscriptionID, status string, limit, offset int) ([]Delivery, error) {
	args := []any{limit, offset}
	where := "1=1"
	argn := 2
	if subscriptionID != "" {
		argn++
		where += fmt.Sprintf(" AND subscription_id = $%d", argn)
		args = append(args, subscriptionID)
	}
	if status != "" {
		argn++
		where += fmt.Sprintf(" AND status = $%d", argn)
		args = append(args, status)
	}

	q := fmt.Sprintf(`
		SELECT`+deliveryColumns+`
		FROM hookrelay.deliveries
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, where)

	rows, err := st.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// RecordAttempt increments the delivery attempt counter and the owning
// subscription's lifetime total, and stamps last_delivery_at. Runs once
// per attempt regardless of the attempt's outcome.
func (st *Store) RecordAttempt(ctx context.Context, deliveryID, subscriptionID string) (int, error) {
	tx, err := st.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var attempt int
	if err := tx.QueryRow(ctx, `
		UPDATE hookrelay.deliveries
		SET attempt_count = attempt_count + 1
		WHERE id = $1
		RETURNING attempt_count`, deliveryID,
	).Scan(&attempt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE hookrelay.subscriptions
		SET total_deliveries = total_deliveries + 1, last_delivery_at = now(), updated_at = now()
		WHERE id = $1`, subscriptionID,
	); err != nil {
		return 0, err
	}

	return attempt, tx.Commit(ctx)
}

// MarkDeliverySuccess finalizes a successful attempt and bumps the
// subscription success counters.
func (st *Store) MarkDeliverySuccess(ctx context.Context, deliveryID, subscriptionID string, httpStatus int, body string) error {
	tx, err := st.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE hookrelay.deliveries
		SET status = 'success', http_status = $2, response_body = $3,
		    error = '', next_retry_at = NULL, delivered_at = now()
		WHERE id = $1`, deliveryID, httpStatus, body,
	); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE hookrelay.subscriptions
		SET successful_deliveries = successful_deliveries + 1, last_success_at = now(), updated_at = now()
		WHERE id = $1`, subscriptionID,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// MarkDeliveryRetrying schedules the next attempt and bumps the
// subscription failure counters. next_retry_at is only ever set here.
func (st *Store) MarkDeliveryRetrying(ctx context.Context, deliveryID, subscriptionID string, httpStatus int, body, errMsg string, nextRetryAt time.Time) error {
	tx, err := st.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE hookrelay.deliveries
		SET status = 'retrying', http_status = $2, response_body = $3,
		    error = $4, next_retry_at = $5
		WHERE id = $1`, deliveryID, httpStatus, body, errMsg, nextRetryAt,
	); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE hookrelay.subscriptions
		SET failed_deliveries = failed_deliveries + 1, last_failure_at = now(), updated_at = now()
		WHERE id = $1`, subscriptionID,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// MarkDeliveryFailed finalizes an exhausted delivery and bumps the
// subscription failure counters. The status is terminal.
func (st *Store) MarkDeliveryFailed(ctx context.Context, deliveryID, subscriptionID string, httpStatus int, body, errMsg string) error {
	tx, err := st.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE hookrelay.deliveries
		SET status = 'failed', http_status = $2, response_body = $3,
		    error = $4, next_retry_at = NULL
		WHERE id = $1`, deliveryID, httpStatus, body, errMsg,
	); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE hookrelay.subscriptions
		SET failed_deliveries = failed_deliveries + 1, last_failure_at = now(), updated_at = now()
		WHERE id = $1`, subscriptionID,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// FailDeliveryImmediate terminally fails a delivery without touching
// subscription counters: a configuration outcome (subscription missing or
// inactive), not a delivery attempt.
func (st *Store) FailDeliveryImmediate(ctx context.Context, deliveryID, reason string) error {
	_, err := st.pool.Exec(ctx, `
		UPDATE hookrelay.deliveries
		SET status = 'failed', error = $2, next_retry_at = NULL
		WHERE id = $1`, deliveryID, reason)
	return err
}

// ClaimDueRetries atomically flips due retrying deliveries back to pending
// and returns them. SKIP LOCKED keeps two overlapping sweeps from claiming
// the same row.
func (st *Store) ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]Delivery, error) {
	rows, err := st.pool.Query(ctx, `
		UPDATE hookrelay.deliveries d
		SET status = 'pending', next_retry_at = NULL
		FROM (
			SELECT id FROM hookrelay.deliveries
			WHERE status = 'retrying' AND next_retry_at <= $1
			ORDER BY next_retry_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		) due
		WHERE d.id = due.id
		RETURNING`+deliveryColumnsPrefixed("d"),
		now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ReleaseRetry puts a claimed delivery back on the retry schedule, used
// when resubmission to the queue fails after a claim.
func (st *Store) ReleaseRetry(ctx context.Context, deliveryID string, nextRetryAt time.Time) error {
	_, err := st.pool.Exec(ctx, `
		UPDATE hookrelay.deliveries
		SET status = 'retrying', next_retry_at = $2
		WHERE id = $1 AND status = 'pending'`, deliveryID, nextRetryAt)
	return err
}

// Stats aggregates delivery and dead-letter counts for the operator API.
func (st *Store) Stats(ctx context.Context) (*DeliveryStats, error) {
	stats := &DeliveryStats{
		ByStatus:     make(map[string]int64),
		DeadByStatus: make(map[string]int64),
	}

	rows, err := st.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM hookrelay.deliveries GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := st.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM hookrelay.deliveries
		WHERE status = 'failed' AND created_at >= now() - interval '24 hours'`,
	).Scan(&stats.FailedLast24h); err != nil {
		return nil, err
	}

	dlRows, err := st.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM hookrelay.dead_letters GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer dlRows.Close()
	for dlRows.Next() {
		var status string
		var n int64
		if err := dlRows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.DeadByStatus[status] = n
	}
	if err := dlRows.Err(); err != nil {
		return nil, err
	}

	if err := st.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM hookrelay.dead_letters
		WHERE failed_at >= now() - interval '24 hours'`,
	).Scan(&stats.DeadLast24h); err != nil {
		return nil, err
	}

	return stats, nil
}

func deliveryColumnsPrefixed(alias string) string {
	return `
	` + alias + `.id, ` + alias + `.subscription_id, ` + alias + `.tenant_id, ` + alias + `.event_type, ` + alias + `.payload, ` + alias + `.status,
	` + alias + `.http_status, ` + alias + `.response_body, ` + alias + `.error, ` + alias + `.attempt_count, ` + alias + `.max_attempts,
	` + alias + `.next_retry_at, ` + alias + `.created_at, ` + alias + `.delivered_at`
}

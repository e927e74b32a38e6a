package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const subscriptionColumns = `
	id, tenant_id, url, secret, event_types, active,
	total_deliveries, successful_deliveries, failed_deliveries,
	last_delivery_at, last_success_at, last_failure_at,
	created_at, updated_at`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var s Subscription
	err := row.Scan(
		&s.ID, &s.TenantID, &s.URL, &s.Secret, &s.EventTypes, &s.Active,
		&s.TotalDeliveries, &s.SuccessfulDeliveries, &s.FailedDeliveries,
		&s.LastDeliveryAt, &s.LastSuccessAt, &s.LastFailureAt,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSubscription registers an endpoint and returns the stored row.
func (st *Store) CreateSubscription(ctx context.Context, tenantID, url, secret string, eventTypes []string) (*Subscription, error) {
	row := st.pool.QueryRow(ctx, `
		INSERT INTO hookrelay.subscriptions(tenant_id, url, secret, event_types)
		VALUES ($1, $2, $3, $4)
		RETURNING`+subscriptionColumns,
		tenantID, url, secret, eventTypes,
	)
	return scanSubscription(row)
}

// GetSubscription loads one subscription by id.
func (st *Store) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	row := st.pool.QueryRow(ctx, `
		SELECT`+subscriptionColumns+`
		FROM hookrelay.subscriptions
		WHERE id = $1`, id)
	return scanSubscription(row)
}

// ListSubscriptions returns a tenant's subscriptions, newest first.
func (st *Store) ListSubscriptions(ctx context.Context, tenantID string, limit, offset int) ([]Subscription, error) {
	rows, err := st.pool.Query(ctx, `
		SELECT`+subscriptionColumns+`
		FROM hookrelay.subscriptions
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ListActiveSubscriptions returns the tenant's active subscriptions whose
// event set contains eventType. This is the fan-out query.
func (st *Store) ListActiveSubscriptions(ctx context.Context, tenantID, eventType string) ([]Subscription, error) {
	rows, err := st.pool.Query(ctx, `
		SELECT`+subscriptionColumns+`
		FROM hookrelay.subscriptions
		WHERE tenant_id = $1 AND active AND $2 = ANY(event_types)`,
		tenantID, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// UpdateSubscription mutates url, event set, and active flag. The secret
// is immutable after creation and is deliberately absent here.
func (st *Store) UpdateSubscription(ctx context.Context, id, url string, eventTypes []string, active bool) (*Subscription, error) {
	row := st.pool.QueryRow(ctx, `
		UPDATE hookrelay.subscriptions
		SET url = $2, event_types = $3, active = $4, updated_at = now()
		WHERE id = $1
		RETURNING`+subscriptionColumns,
		id, url, eventTypes, active)
	return scanSubscription(row)
}

// DeactivateSubscription flips the active flag off. Already-dispatched
// attempts are not cancelled; the flag is checked at attempt start.
func (st *Store) DeactivateSubscription(ctx context.Context, id string) error {
	ct, err := st.pool.Exec(ctx, `
		UPDATE hookrelay.subscriptions
		SET active = false, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSubscription removes the subscription; deliveries cascade.
func (st *Store) DeleteSubscription(ctx context.Context, id string) error {
	ct, err := st.pool.Exec(ctx, `
		DELETE FROM hookrelay.subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Package store is the pgx-backed persistence layer: subscriptions,
// delivery attempt records, the dead-letter store, and the idempotency
// ledger. All cross-worker coordination happens through these tables.
package store

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a state transition is not allowed from
	// the row's current status.
	ErrConflict = errors.New("conflict")
)

// Delivery statuses. success and failed are terminal.
const (
	DeliveryPending  = "pending"
	DeliverySuccess  = "success"
	DeliveryRetrying = "retrying"
	DeliveryFailed   = "failed"
)

// Dead-letter statuses. resolved and ignored are terminal.
const (
	DeadLetterFailed   = "failed"
	DeadLetterRetried  = "retried"
	DeadLetterResolved = "resolved"
	DeadLetterIgnored  = "ignored"
)

// Subscription is a tenant's registered webhook endpoint. The secret is
// immutable after creation.
type Subscription struct {
	ID                   string     `json:"id"`
	TenantID             string     `json:"tenant_id"`
	URL                  string     `json:"url"`
	Secret               string     `json:"-"`
	EventTypes           []string   `json:"event_types"`
	Active               bool       `json:"active"`
	TotalDeliveries      int64      `json:"total_deliveries"`
	SuccessfulDeliveries int64      `json:"successful_deliveries"`
	FailedDeliveries     int64      `json:"failed_deliveries"`
	LastDeliveryAt       *time.Time `json:"last_delivery_at,omitempty"`
	LastSuccessAt        *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt        *time.Time `json:"last_failure_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Delivery is one tracked attempt series for sending a single event to a
// single subscription. The payload is an immutable snapshot taken at
// trigger time. next_retry_at is set if and only if status is retrying.
type Delivery struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	TenantID       string          `json:"tenant_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Status         string          `json:"status"`
	HTTPStatus     int             `json:"http_status,omitempty"`
	ResponseBody   string          `json:"response_body,omitempty"`
	Error          string          `json:"error,omitempty"`
	AttemptCount   int             `json:"attempt_count"`
	MaxAttempts    int             `json:"max_attempts"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
}

// DeadLetter is a task that exhausted its retry budget, parked for manual
// operator review. Created only by the task substrate's failure hook.
type DeadLetter struct {
	ID              string          `json:"id"`
	TaskID          string          `json:"task_id"`
	TaskName        string          `json:"task_name"`
	Args            json.RawMessage `json:"args"`
	Error           string          `json:"error"`
	Trace           string          `json:"trace,omitempty"`
	RetryCount      int             `json:"retry_count"`
	Status          string          `json:"status"`
	ResolutionNotes string          `json:"resolution_notes,omitempty"`
	ResolvedBy      string          `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	FailedAt        time.Time       `json:"failed_at"`
}

// DeliveryStats are operator-facing aggregates for the stats endpoint.
type DeliveryStats struct {
	ByStatus      map[string]int64 `json:"by_status"`
	FailedLast24h int64            `json:"failed_last_24h"`
	DeadByStatus  map[string]int64 `json:"dead_letters_by_status"`
	DeadLast24h   int64            `json:"dead_letters_last_24h"`
}

// Store wraps a pgx pool with typed accessors.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store over an established pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

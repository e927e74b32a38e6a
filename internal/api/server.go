// Package api is the HTTP JSON surface: the trigger endpoint, thin
// subscription CRUD, delivery inspection, the dead-letter operator
// workflow, aggregate stats, and the guarded inbound webhook path.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/hookrelay/hookrelay/internal/idempotency"
	"github.com/hookrelay/hookrelay/internal/logging"
	"github.com/hookrelay/hookrelay/internal/store"
)

// Store is the persistence surface the handlers need.
type Store interface {
	CreateSubscription(ctx context.Context, tenantID, url, secret string, eventTypes []string) (*store.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*store.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID string, limit, offset int) ([]store.Subscription, error)
	UpdateSubscription(ctx context.Context, id, url string, eventTypes []string, active bool) (*store.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	GetDelivery(ctx context.Context, id string) (*store.Delivery, error)
	ListDeliveries(ctx context.Context, subscriptionID, status string, limit, offset int) ([]store.Delivery, error)
	Stats(ctx context.Context) (*store.DeliveryStats, error)
}

// Triggerer fans an event out to matching subscriptions.
type Triggerer interface {
	TriggerEvent(ctx context.Context, tenantID, eventType string, payload json.RawMessage) ([]string, error)
	TriggerEventTx(ctx context.Context, tx pgx.Tx, tenantID, eventType string, payload json.RawMessage) ([]string, error)
}

// DeadLetters is the operator workflow over the dead-letter store.
type DeadLetters interface {
	Get(ctx context.Context, id string) (*store.DeadLetter, error)
	List(ctx context.Context, status string, limit, offset int) ([]store.DeadLetter, error)
	Resolve(ctx context.Context, id, notes, resolvedBy string) (*store.DeadLetter, error)
	Retry(ctx context.Context, id, resolvedBy string) (*store.DeadLetter, error)
	Ignore(ctx context.Context, id, notes, resolvedBy string) (*store.DeadLetter, error)
}

// Guard dedups inbound externally-sourced events.
type Guard interface {
	Process(ctx context.Context, externalEventID, eventType string, fn func(ctx context.Context, tx pgx.Tx) error) (idempotency.Outcome, error)
}

// Server wires the handlers.
type Server struct {
	store  Store
	trig   Triggerer
	dead   DeadLetters
	guard  Guard
	logger *logging.Logger
}

// NewServer creates the API server.
func NewServer(st Store, trig Triggerer, dead DeadLetters, guard Guard, logger *logging.Logger) *Server {
	return &Server{store: st, trig: trig, dead: dead, guard: guard, logger: logger}
}

// Routes registers all handlers on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/events", s.handleTriggerEvent)
	mux.HandleFunc("GET /v1/event-types", s.handleListEventTypes)

	mux.HandleFunc("POST /v1/subscriptions", s.handleCreateSubscription)
	mux.HandleFunc("GET /v1/subscriptions", s.handleListSubscriptions)
	mux.HandleFunc("GET /v1/subscriptions/{id}", s.handleGetSubscription)
	mux.HandleFunc("PATCH /v1/subscriptions/{id}", s.handleUpdateSubscription)
	mux.HandleFunc("DELETE /v1/subscriptions/{id}", s.handleDeleteSubscription)

	mux.HandleFunc("GET /v1/deliveries", s.handleListDeliveries)
	mux.HandleFunc("GET /v1/deliveries/{id}", s.handleGetDelivery)

	mux.HandleFunc("GET /v1/deadletters", s.handleListDeadLetters)
	mux.HandleFunc("GET /v1/deadletters/{id}", s.handleGetDeadLetter)
	mux.HandleFunc("POST /v1/deadletters/{id}/resolve", s.handleResolveDeadLetter)
	mux.HandleFunc("POST /v1/deadletters/{id}/retry", s.handleRetryDeadLetter)
	mux.HandleFunc("POST /v1/deadletters/{id}/ignore", s.handleIgnoreDeadLetter)

	mux.HandleFunc("GET /v1/stats", s.handleStats)

	mux.HandleFunc("POST /v1/inbound/payments", s.handleInboundPayment)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Error string `json:"error"`
}

// writeError maps store sentinels onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, apiError{Error: "not found"})
	case errors.Is(err, store.ErrConflict):
		writeJSON(w, http.StatusConflict, apiError{Error: err.Error()})
	default:
		s.logger.WithContext(r.Context()).WithError(err).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal error"})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, apiError{Error: msg})
}

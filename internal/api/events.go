package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/hookrelay/hookrelay/internal/event"
	"github.com/hookrelay/hookrelay/internal/idempotency"
)

type triggerEventRequest struct {
	TenantID  string          `json:"tenant_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type triggerEventResponse struct {
	DeliveryIDs []string `json:"delivery_ids"`
	FanoutCount int      `json:"fanout_count"`
}

// handleTriggerEvent is the inbound trigger for domain collaborators.
// Failures after fan-out begins are never propagated back as delivery
// errors; the caller only learns whether the trigger itself was accepted.
func (s *Server) handleTriggerEvent(w http.ResponseWriter, r *http.Request) {
	var req triggerEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.TenantID == "" || req.EventType == "" || req.Payload == nil {
		badRequest(w, "tenant_id, event_type, and payload are required")
		return
	}
	if !event.Valid(req.EventType) {
		badRequest(w, "unknown event type "+req.EventType)
		return
	}

	ids, err := s.trig.TriggerEvent(r.Context(), req.TenantID, req.EventType, req.Payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, triggerEventResponse{DeliveryIDs: ids, FanoutCount: len(ids)})
}

func (s *Server) handleListEventTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"event_types": event.All()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// inboundPaymentRequest is the shape of a payment-provider webhook. The id
// is the provider's globally unique event id.
type inboundPaymentRequest struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	TenantID string          `json:"tenant_id"`
	Data     json.RawMessage `json:"data"`
}

type inboundPaymentResponse struct {
	Status      idempotency.Outcome `json:"status"`
	DeliveryIDs []string            `json:"delivery_ids,omitempty"`
}

// handleInboundPayment processes an at-least-once provider event behind
// the idempotency guard. The outbound fan-out shares the ledger
// transaction, so a crash mid-processing leaves both or neither.
func (s *Server) handleInboundPayment(w http.ResponseWriter, r *http.Request) {
	var req inboundPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.ID == "" || req.Type == "" || req.TenantID == "" {
		badRequest(w, "id, type, and tenant_id are required")
		return
	}
	if !event.Valid(req.Type) {
		badRequest(w, "unknown event type "+req.Type)
		return
	}

	var ids []string
	outcome, err := s.guard.Process(r.Context(), req.ID, req.Type, func(ctx context.Context, tx pgx.Tx) error {
		var trigErr error
		ids, trigErr = s.trig.TriggerEventTx(ctx, tx, req.TenantID, req.Type, req.Data)
		return trigErr
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, inboundPaymentResponse{Status: outcome, DeliveryIDs: ids})
}

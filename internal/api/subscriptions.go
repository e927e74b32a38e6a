package api

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hookrelay/hookrelay/internal/event"
	"github.com/hookrelay/hookrelay/internal/store"
)

// generateSecret generates a random base64-encoded string of n bytes.
func generateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type createSubscriptionRequest struct {
	TenantID   string   `json:"tenant_id"`
	URL        string   `json:"url"`
	Secret     string   `json:"secret,omitempty"`
	EventTypes []string `json:"event_types"`
}

type createSubscriptionResponse struct {
	Subscription *store.Subscription `json:"subscription"`
	// Returned exactly once, at creation. The secret is immutable and is
	// never readable afterwards.
	Secret string `json:"secret"`
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.TenantID == "" || req.URL == "" {
		badRequest(w, "tenant_id and url are required")
		return
	}
	if _, err := url.ParseRequestURI(req.URL); err != nil {
		badRequest(w, "invalid url")
		return
	}
	if len(req.EventTypes) == 0 {
		badRequest(w, "event_types is required")
		return
	}
	if err := event.ValidateAll(req.EventTypes); err != nil {
		badRequest(w, err.Error())
		return
	}

	secret := req.Secret
	if secret == "" {
		var err error
		secret, err = generateSecret(32) // 256-bit
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	sub, err := s.store.CreateSubscription(r.Context(), req.TenantID, req.URL, secret, req.EventTypes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSubscriptionResponse{Subscription: sub, Secret: secret})
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		badRequest(w, "tenant_id is required")
		return
	}
	limit, offset := pagination(r, 50)

	subs, err := s.store.ListSubscriptions(r.Context(), tenantID, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.store.GetSubscription(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type updateSubscriptionRequest struct {
	URL        string   `json:"url"`
	EventTypes []string `json:"event_types"`
	Active     *bool    `json:"active"`
}

func (s *Server) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	cur, err := s.store.GetSubscription(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req updateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	newURL := cur.URL
	if req.URL != "" {
		if _, err := url.ParseRequestURI(req.URL); err != nil {
			badRequest(w, "invalid url")
			return
		}
		newURL = req.URL
	}
	newTypes := cur.EventTypes
	if req.EventTypes != nil {
		if err := event.ValidateAll(req.EventTypes); err != nil {
			badRequest(w, err.Error())
			return
		}
		newTypes = req.EventTypes
	}
	newActive := cur.Active
	if req.Active != nil {
		newActive = *req.Active
	}

	sub, err := s.store.UpdateSubscription(r.Context(), id, newURL, newTypes, newActive)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSubscription(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pagination reads limit/offset query params with a default page size.
func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

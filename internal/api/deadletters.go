package api

import (
	"encoding/json"
	"net/http"

	"github.com/hookrelay/hookrelay/internal/auth"
)

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)

	records, err := s.dead.List(r.Context(), r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": records})
}

func (s *Server) handleGetDeadLetter(w http.ResponseWriter, r *http.Request) {
	dl, err := s.dead.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dl)
}

type deadLetterActionRequest struct {
	Notes      string `json:"notes,omitempty"`
	ResolvedBy string `json:"resolved_by,omitempty"`
}

// operatorFrom prefers the authenticated operator over the body field.
func operatorFrom(r *http.Request, req deadLetterActionRequest) string {
	if op, ok := auth.GetOperatorIDFromContext(r.Context()); ok {
		return op
	}
	return req.ResolvedBy
}

func (s *Server) handleResolveDeadLetter(w http.ResponseWriter, r *http.Request) {
	var req deadLetterActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	dl, err := s.dead.Resolve(r.Context(), r.PathValue("id"), req.Notes, operatorFrom(r, req))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dl)
}

func (s *Server) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	var req deadLetterActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	dl, err := s.dead.Retry(r.Context(), r.PathValue("id"), operatorFrom(r, req))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dl)
}

func (s *Server) handleIgnoreDeadLetter(w http.ResponseWriter, r *http.Request) {
	var req deadLetterActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	dl, err := s.dead.Ignore(r.Context(), r.PathValue("id"), req.Notes, operatorFrom(r, req))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dl)
}

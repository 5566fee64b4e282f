package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quantgate/signalgate/internal/domain"
	"github.com/quantgate/signalgate/internal/ingress"
)

func (s *Server) handleSubmitSignal(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")
	var signal domain.Signal
	if err := json.NewDecoder(r.Body).Decode(&signal); err != nil {
		writeError(w, http.StatusBadRequest, "malformed signal body")
		return
	}

	decision, err := s.pipeline.Submit(r.Context(), tenantFrom(r), profileID, signal)
	if writeFaultOrError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")
	var signals []domain.Signal
	if err := json.NewDecoder(r.Body).Decode(&signals); err != nil {
		writeError(w, http.StatusBadRequest, "malformed signal batch body")
		return
	}
	if len(signals) > ingress.MaxBatch {
		writeError(w, http.StatusBadRequest, "batch exceeds max size")
		return
	}

	decisions, err := s.pipeline.SubmitBatch(r.Context(), tenantFrom(r), profileID, signals)
	if err != nil && len(decisions) == 0 {
		writeFaultOrError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decisions)
}

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quantgate/signalgate/internal/domain"
	"github.com/quantgate/signalgate/internal/evidence"
	"github.com/quantgate/signalgate/internal/utils"
)

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	d, err := s.repo.GetDecision(r.Context(), chi.URLParam(r, "decisionID"))
	if writeFaultOrError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleGetChain(w http.ResponseWriter, r *http.Request) {
	d, err := s.repo.GetDecision(r.Context(), chi.URLParam(r, "decisionID"))
	if writeFaultOrError(w, err) {
		return
	}
	chain, err := s.repo.GetChain(r.Context(), d.ChainID)
	if writeFaultOrError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

// handleEvidenceExport builds the compliance evidence package for the
// caller's decisions matching the query parameters and streams the zip
// back. If an S3 uploader is configured the bundle is also durably
// uploaded and its location is reported in a response header.
func (s *Server) handleEvidenceExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// profile_ids accepts a comma-separated list for a multi-profile bundle;
	// profile_id (singular) still works for the single-profile case.
	profileIDs := utils.ParseCSV(q.Get("profile_ids"))
	if len(profileIDs) == 0 {
		profileIDs = []string{q.Get("profile_id")}
	}

	base := domain.ProvenanceQuery{
		Outcome: domain.Outcome(q.Get("outcome")),
		Since:   q.Get("since"),
		Until:   q.Get("until"),
		Limit:   500,
	}

	tenant := tenantFrom(r)
	var decisions []domain.Decision
	for _, pid := range profileIDs {
		profile, err := s.repo.GetProfile(r.Context(), pid)
		if writeFaultOrError(w, err) {
			return
		}
		if profile.TenantID != tenant.ID {
			writeError(w, http.StatusNotFound, "profile not visible to tenant")
			return
		}
		pq := base
		pq.ProfileID = pid
		batch, err := s.repo.QueryDecisions(r.Context(), pq)
		if writeFaultOrError(w, err) {
			return
		}
		decisions = append(decisions, batch...)
	}

	seen := make(map[string]bool)
	var chains []domain.DecisionChain
	for _, d := range decisions {
		if d.ChainID == "" || seen[d.ChainID] {
			continue
		}
		seen[d.ChainID] = true
		chain, err := s.repo.GetChain(r.Context(), d.ChainID)
		if err == nil {
			chains = append(chains, chain)
		}
	}

	defer utils.OperationTimer("evidence_export", s.log)()

	packageID := s.ids.NewID()
	zipBytes, err := evidence.Package(packageID, decisions, chains, s.clock.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "evidence package build failed")
		return
	}

	if s.uploader != nil {
		if loc, err := s.uploader.Upload(r.Context(), packageID+".zip", zipBytes); err == nil {
			w.Header().Set("X-Evidence-Location", loc)
		} else {
			s.log.Warn().Err(err).Msg("evidence upload failed; serving local copy only")
		}
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename="+packageID+".zip")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(zipBytes)
}

package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quantgate/signalgate/internal/admin"
	"github.com/quantgate/signalgate/internal/domain"
)

func (s *Server) handleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.admin.Dashboard(r.Context())
	if writeFaultOrError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	users, err := s.admin.Users(r.Context(), admin.UserFilter{
		Search: q.Get("search"),
		Tier:   domain.Tier(q.Get("tier")),
	})
	if writeFaultOrError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleAdminPatchUser(w http.ResponseWriter, r *http.Request) {
	var patch admin.UserPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "malformed patch body")
		return
	}
	t, err := s.admin.PatchUser(r.Context(), tenantFrom(r).ID, chi.URLParam(r, "tenantID"), patch)
	if writeFaultOrError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleAdminSuspendTenant(w http.ResponseWriter, r *http.Request) {
	err := s.admin.SuspendTenant(r.Context(), tenantFrom(r).ID, chi.URLParam(r, "tenantID"))
	if writeFaultOrError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "suspended"})
}

func (s *Server) handleAdminProfiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	profiles, err := s.admin.Profiles(r.Context(), admin.ProfileFilter{
		TenantID:        q.Get("tenant_id"),
		ConnectionState: q.Get("connection_state"),
		Broker:          q.Get("broker"),
	})
	if writeFaultOrError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (s *Server) handleAdminPatchProfile(w http.ResponseWriter, r *http.Request) {
	var patch admin.ProfilePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "malformed patch body")
		return
	}
	p, err := s.admin.PatchProfile(r.Context(), tenantFrom(r).ID, chi.URLParam(r, "profileID"), patch)
	if writeFaultOrError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAdminForceDisconnect(w http.ResponseWriter, r *http.Request) {
	err := s.admin.ForceDisconnectProfile(r.Context(), tenantFrom(r).ID, chi.URLParam(r, "profileID"))
	if writeFaultOrError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *Server) handleAdminAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.SystemEventFilter{
		Type:     q.Get("type"),
		TenantID: q.Get("tenant_id"),
		ProfileID: q.Get("profile_id"),
	}
	if sev := q.Get("severity"); sev != "" {
		s := domain.Severity(sev)
		filter.Severity = &s
	}
	if ack := q.Get("acknowledged"); ack != "" {
		v := ack == "true"
		filter.Acknowledged = &v
	}
	alerts, err := s.admin.Alerts(r.Context(), filter)
	if writeFaultOrError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleAdminCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Severity  domain.Severity `json:"severity"`
		Type      string          `json:"type"`
		TenantID  string          `json:"tenant_id"`
		ProfileID string          `json:"profile_id"`
		Message   string          `json:"message"`
		Details   map[string]any  `json:"details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed alert body")
		return
	}
	e, err := s.admin.CreateAlert(r.Context(), tenantFrom(r).ID, req.Severity, req.Type, req.TenantID, req.ProfileID, req.Message, req.Details)
	if writeFaultOrError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleAdminAckAlert(w http.ResponseWriter, r *http.Request) {
	err := s.admin.AcknowledgeAlert(r.Context(), tenantFrom(r).ID, chi.URLParam(r, "alertID"))
	if writeFaultOrError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (s *Server) handleAdminActivateKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed kill-switch body")
		return
	}
	profileID := chi.URLParam(r, "profileID")
	err := s.admin.ActivateKillSwitch(r.Context(), tenantFrom(r).ID, profileID, req.Reason)
	if writeFaultOrError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "kill_switch_activated"})
}

func (s *Server) handleAdminReenableKillSwitch(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")
	err := s.admin.ReenableKillSwitch(r.Context(), tenantFrom(r).ID, profileID)
	if writeFaultOrError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "kill_switch_reenabled"})
}

func (s *Server) handleAdminTriggerPanicHedge(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")
	state, err := s.admin.TriggerPanicHedge(r.Context(), tenantFrom(r).ID, profileID)
	if writeFaultOrError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleAdminBroadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed broadcast body")
		return
	}
	if err := s.admin.Broadcast(r.Context(), tenantFrom(r).ID, req.Message); writeFaultOrError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "broadcast"})
}

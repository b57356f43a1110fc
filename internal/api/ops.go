package api

import (
	"net/http"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	"monexa/pkg/protocol"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.respondError(w, r, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	stats := s.registry.Stats()
	s.respondJSON(w, r, http.StatusOK, map[string]any{
		"status":        "ok",
		"live_devices":  stats["live_devices"],
		"live_sessions": stats["live_sessions"],
	})
}

type orgWebhookRequest struct {
	OrgID  string `json:"orgId"`
	Action string `json:"action"`
}

// handleOrgWebhook mirrors organization lifecycle events from the upstream
// account system: "created" provisions the org row, "deleted" purges every
// record scoped to it.
func (s *Server) handleOrgWebhook(w http.ResponseWriter, r *http.Request) {
	var req orgWebhookRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	if !protocol.IsValidOrgID(req.OrgID) {
		s.respondError(w, r, http.StatusBadRequest, "invalid orgId")
		return
	}

	switch req.Action {
	case "created":
		if err := s.store.EnsureOrg(r.Context(), req.OrgID); err != nil {
			s.respondStoreError(w, r, err)
			return
		}
	case "deleted":
		if err := s.store.PurgeOrg(r.Context(), req.OrgID); err != nil {
			s.respondStoreError(w, r, err)
			return
		}
		s.presence.Kick()
	default:
		s.respondError(w, r, http.StatusBadRequest, "unknown action")
		return
	}

	s.logger.Info("org webhook processed",
		zap.String("org_id", req.OrgID), zap.String("action", req.Action))
	s.respondJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

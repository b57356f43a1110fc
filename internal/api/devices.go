package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"monexa/internal/session"
	"monexa/internal/store"
)

// deviceView decorates the stored record with live-session state.
type deviceView struct {
	*store.Device
	IsLive bool `json:"isLive"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	orgID := orgFrom(r)
	devices, err := s.store.ListDevices(r.Context(), orgID)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}

	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, deviceView{
			Device: d,
			IsLive: s.registry.IsLive(session.Identity{OrgID: orgID, DeviceID: d.DeviceID}),
		})
	}
	s.respondJSON(w, r, http.StatusOK, views)
}

func (s *Server) handleRenameDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil || req.Name == "" {
		s.respondError(w, r, http.StatusBadRequest, "name is required")
		return
	}

	orgID := orgFrom(r)
	deviceID := chi.URLParam(r, "deviceID")
	if err := s.store.RenameDevice(r.Context(), orgID, deviceID, req.Name); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, map[string]string{"name": req.Name})
}

// handleToggleBlocked flips the persisted block flag and kicks the reconciler
// so live sessions get the new state without waiting for the next tick.
func (s *Server) handleToggleBlocked(w http.ResponseWriter, r *http.Request) {
	orgID := orgFrom(r)
	deviceID := chi.URLParam(r, "deviceID")

	blocked, err := s.store.ToggleBlocked(r.Context(), orgID, deviceID)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.presence.Kick()
	s.respondJSON(w, r, http.StatusOK, map[string]bool{"isBlocked": blocked})
}

// handleSetOffline marks the device offline. The reconciler observes the
// status and force-closes any live sessions.
func (s *Server) handleSetOffline(w http.ResponseWriter, r *http.Request) {
	orgID := orgFrom(r)
	deviceID := chi.URLParam(r, "deviceID")

	if err := s.store.SetStatus(r.Context(), orgID, deviceID, store.StatusOffline); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.presence.Kick()
	s.respondJSON(w, r, http.StatusOK, map[string]string{"status": store.StatusOffline})
}

func (s *Server) handleAssignRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomID *string `json:"roomId"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}

	orgID := orgFrom(r)
	deviceID := chi.URLParam(r, "deviceID")
	if err := s.store.AssignRoom(r.Context(), orgID, deviceID, req.RoomID); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, map[string]*string{"roomId": req.RoomID})
}

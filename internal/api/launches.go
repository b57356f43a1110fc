package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"monexa/internal/command"
	"monexa/internal/store"
)

type launchRequest struct {
	SurveyID string   `json:"surveyId"`
	Targets  []string `json:"targets,omitempty"`
	Rooms    []string `json:"rooms,omitempty"`
	Style    string   `json:"style,omitempty"`
}

type launchResponse struct {
	Launch *store.Launch   `json:"launch"`
	Report *command.Report `json:"report"`
}

func (s *Server) handleListLaunches(w http.ResponseWriter, r *http.Request) {
	launches, err := s.store.ListLaunches(r.Context(), orgFrom(r))
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, launches)
}

func (s *Server) handleCreateLaunch(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil || req.SurveyID == "" {
		s.respondError(w, r, http.StatusBadRequest, "surveyId is required")
		return
	}

	targets := command.Targets{Devices: req.Targets, Rooms: req.Rooms}
	launch, report, err := s.orchestrator.Launch(r.Context(), orgFrom(r), req.SurveyID, targets, req.Style)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusCreated, launchResponse{Launch: launch, Report: report})
}

func (s *Server) handleStartLaunch(w http.ResponseWriter, r *http.Request) {
	launchID := chi.URLParam(r, "launchID")
	report, err := s.orchestrator.Start(r.Context(), orgFrom(r), launchID)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, report)
}

func (s *Server) handleCancelLaunch(w http.ResponseWriter, r *http.Request) {
	launchID := chi.URLParam(r, "launchID")
	report, err := s.orchestrator.Cancel(r.Context(), orgFrom(r), launchID)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, report)
}

func (s *Server) handleRemoveLaunch(w http.ResponseWriter, r *http.Request) {
	launchID := chi.URLParam(r, "launchID")
	if err := s.orchestrator.Remove(r.Context(), orgFrom(r), launchID); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListResponses(w http.ResponseWriter, r *http.Request) {
	orgID := orgFrom(r)
	launchID := chi.URLParam(r, "launchID")

	// A missing launch distinguishes a bad ID from a launch nobody has
	// answered yet.
	if _, err := s.store.GetLaunch(r.Context(), orgID, launchID); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	responses, err := s.store.ListResponses(r.Context(), orgID, launchID)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, responses)
}

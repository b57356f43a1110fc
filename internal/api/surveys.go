package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"monexa/internal/store"
	"monexa/pkg/protocol"
)

type surveyRequest struct {
	Title  string          `json:"title"`
	Status string          `json:"status,omitempty"`
	Steps  []protocol.Step `json:"steps"`
}

func (s *Server) handleListSurveys(w http.ResponseWriter, r *http.Request) {
	surveys, err := s.store.ListSurveys(r.Context(), orgFrom(r))
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, surveys)
}

func (s *Server) handleCreateSurvey(w http.ResponseWriter, r *http.Request) {
	var req surveyRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil || req.Title == "" {
		s.respondError(w, r, http.StatusBadRequest, "title is required")
		return
	}

	sv := &store.Survey{
		OrgID:  orgFrom(r),
		Title:  req.Title,
		Status: req.Status,
		Steps:  req.Steps,
	}
	if err := s.store.CreateSurvey(r.Context(), sv); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusCreated, sv)
}

func (s *Server) handleGetSurvey(w http.ResponseWriter, r *http.Request) {
	sv, err := s.store.GetSurvey(r.Context(), orgFrom(r), chi.URLParam(r, "surveyID"))
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, sv)
}

func (s *Server) handleUpdateSurvey(w http.ResponseWriter, r *http.Request) {
	var req surveyRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil || req.Title == "" {
		s.respondError(w, r, http.StatusBadRequest, "title is required")
		return
	}

	sv := &store.Survey{
		ID:     chi.URLParam(r, "surveyID"),
		OrgID:  orgFrom(r),
		Title:  req.Title,
		Status: req.Status,
		Steps:  req.Steps,
	}
	if err := s.store.UpdateSurvey(r.Context(), sv); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, sv)
}

// handleDeleteSurvey removes the survey definition. Launches keep running on
// their own copy of the targets; only answer validation loses its reference.
func (s *Server) handleDeleteSurvey(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSurvey(r.Context(), orgFrom(r), chi.URLParam(r, "surveyID")); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	"monexa/internal/store"
	"monexa/internal/survey"
	"monexa/pkg/protocol"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) respondJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: message})
}

// respondStoreError maps domain errors onto HTTP statuses; anything
// unrecognized is logged and reported as a 500.
func (s *Server) respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrDeviceNotFound),
		errors.Is(err, store.ErrRoomNotFound),
		errors.Is(err, store.ErrSurveyNotFound),
		errors.Is(err, store.ErrLaunchNotFound),
		errors.Is(err, store.ErrOrgNotFound):
		s.respondError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicateResponse):
		s.respondError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, survey.ErrInvalidTransition):
		s.respondError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, survey.ErrNoTargets),
		errors.Is(err, protocol.ErrInvalidStep),
		errors.Is(err, protocol.ErrInvalidAnswer),
		errors.Is(err, protocol.ErrInvalidDeviceID),
		errors.Is(err, protocol.ErrInvalidOrgID):
		s.respondError(w, r, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		s.respondError(w, r, http.StatusInternalServerError, "internal error")
	}
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.store.ListRooms(r.Context(), orgFrom(r))
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, rooms)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil || req.Name == "" {
		s.respondError(w, r, http.StatusBadRequest, "name is required")
		return
	}

	room, err := s.store.CreateRoom(r.Context(), orgFrom(r), req.Name)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusCreated, room)
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if err := s.store.DeleteRoom(r.Context(), orgFrom(r), roomID); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

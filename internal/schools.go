package internal

import (
	"net/http"

	"rtb-inventory-api/internal/models"

	"github.com/go-chi/chi/v5"
)

func (s *Server) createSchool(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req models.CreateSchoolRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	school, err := s.Controller.CreateSchool(r.Context(), a, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, school)
}

func (s *Server) listSchools(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	schools, err := s.Controller.ListSchools(r.Context(), a)
	if err != nil {
		writeError(w, err)
		return
	}
	if schools == nil {
		schools = []models.School{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": schools, "count": len(schools)})
}

func (s *Server) getSchool(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	school, err := s.Controller.GetSchool(r.Context(), a, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, school)
}

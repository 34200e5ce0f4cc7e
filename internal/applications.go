package internal

import (
	"net/http"

	"rtb-inventory-api/internal/models"

	"github.com/go-chi/chi/v5"
)

func (s *Server) submitApplication(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req models.SubmitApplicationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := s.Controller.Submit(r.Context(), a, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (s *Server) listApplications(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	f := applicationFilter(r)
	apps, err := s.Controller.ListApplications(r.Context(), a, f)
	if err != nil {
		writeError(w, err)
		return
	}
	if apps == nil {
		apps = []models.DeviceApplication{}
	}
	writeJSON(w, http.StatusOK, listResponse{Data: apps, Limit: f.Limit, Offset: f.Offset, Count: len(apps)})
}

func (s *Server) getApplication(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	app, err := s.Controller.GetApplication(r.Context(), a, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) applicationHistory(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	changes, err := s.Controller.History(r.Context(), a, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if changes == nil {
		changes = []models.StatusChange{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": changes})
}

func (s *Server) reviewApplication(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req models.ReviewApplicationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := s.Controller.Review(r.Context(), a, chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) setEligibility(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req models.SetEligibilityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := s.Controller.SetEligibility(r.Context(), a, chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) assignDevices(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req models.AssignDevicesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.Controller.Assign(r.Context(), a, chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"application": res.Application,
		"devices":     res.Devices,
		"asset_tags":  res.Tags,
	})
}

func (s *Server) confirmReceipt(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req models.ConfirmReceiptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := s.Controller.ConfirmReceipt(r.Context(), a, chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) cancelApplication(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req models.CancelApplicationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := s.Controller.Cancel(r.Context(), a, chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

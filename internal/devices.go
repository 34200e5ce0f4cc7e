package internal

import (
	"net/http"

	"rtb-inventory-api/internal/models"

	"github.com/go-chi/chi/v5"
)

type unassignRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) createDevice(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req models.CreateDeviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	d, err := s.Controller.RegisterDevice(r.Context(), a, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	f := deviceFilter(r)
	devices, err := s.Controller.ListDevices(r.Context(), a, f)
	if err != nil {
		writeError(w, err)
		return
	}
	if devices == nil {
		devices = []models.Device{}
	}
	writeJSON(w, http.StatusOK, listResponse{Data: devices, Limit: f.Limit, Offset: f.Offset, Count: len(devices)})
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	d, err := s.Controller.GetDevice(r.Context(), a, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) updateDeviceStatus(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req models.UpdateDeviceStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	d, err := s.Controller.UpdateDeviceStatus(r.Context(), a, chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) unassignDevice(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req unassignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	d, err := s.Controller.UnassignDevice(r.Context(), a, chi.URLParam(r, "id"), req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) deleteDevice(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	if err := s.Controller.DeleteDevice(r.Context(), a, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) bulkRegisterDevices(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var rows []models.CreateDeviceRequest
	if err := decodeJSON(r, &rows); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.Controller.BulkRegisterDevices(r.Context(), a, rows)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) bulkAssignDevices(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var items []models.BulkAssignItem
	if err := decodeJSON(r, &items); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.Controller.BulkAssign(r.Context(), a, items)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

package internal

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"rtb-inventory-api/internal/apperr"
	"rtb-inventory-api/internal/auth"
	"rtb-inventory-api/internal/models"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a workflow or store error onto its HTTP status. Internal
// errors are not echoed to the client.
func writeError(w http.ResponseWriter, err error) {
	status, code := apperr.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	auth.WriteError(w, status, code, msg)
}

// decodeJSON decodes the request body into v. An empty body leaves v at
// its zero value.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation("body", "invalid JSON: %v", err)
	}
	return nil
}

// actor returns the authenticated caller or writes a 401
func actor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	a, ok := auth.ActorFromContext(r.Context())
	if !ok {
		auth.WriteError(w, http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "Authentication required")
	}
	return a, ok
}

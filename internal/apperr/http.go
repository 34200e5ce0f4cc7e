package apperr

import (
	"errors"
	"net/http"
)

// HTTPStatus maps err onto a response status and a machine readable code.
// Errors outside the taxonomy are internal errors.
func HTTPStatus(err error) (int, string) {
	var (
		validation *ValidationError
		transition *InvalidTransitionError
		forbidden  *ForbiddenError
		conflict   *ConflictError
		notFound   *NotFoundError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.As(err, &transition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.As(err, &forbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.As(err, &conflict):
		return http.StatusConflict, "CONFLICT"
	case errors.As(err, &notFound):
		return http.StatusNotFound, "NOT_FOUND"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

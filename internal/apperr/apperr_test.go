package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	conflict := Conflict("device", "d1", "already assigned")
	wrapped := fmt.Errorf("assign: %w", conflict)

	assert.True(t, Retryable(conflict))
	assert.True(t, Retryable(wrapped))
	assert.False(t, Retryable(Validation("device_ids", "must not be empty")))
	assert.False(t, Retryable(NotFound("device", "d1")))
	assert.False(t, Retryable(Transition("application", "a1", "Received", "Received")))
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "device d1 not found", NotFound("device", "d1").Error())
	assert.Equal(t, "application a1 cannot move from Pending to Assigned",
		Transition("application", "a1", "Pending", "Assigned").Error())
	assert.Equal(t, "validation failed on requested: at least one quantity must be positive",
		Validation("requested", "at least one quantity must be positive").Error())
	assert.Equal(t, "forbidden: role school cannot review", Forbidden("role %s cannot review", "school").Error())
	assert.True(t, IsNotFound(fmt.Errorf("x: %w", NotFound("school", "s1"))))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{Validation("letter_ref", "is required"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{Transition("application", "a1", "Pending", "Assigned"), http.StatusConflict, "INVALID_TRANSITION"},
		{Forbidden("nope"), http.StatusForbidden, "FORBIDDEN"},
		{fmt.Errorf("claim: %w", Conflict("device", "d1", "taken")), http.StatusConflict, "CONFLICT"},
		{NotFound("school", "s1"), http.StatusNotFound, "NOT_FOUND"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		status, code := HTTPStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

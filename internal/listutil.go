package internal

import (
	"net/http"
	"strconv"
	"strings"

	"rtb-inventory-api/internal/models"
	"rtb-inventory-api/internal/store"
)

// listParams holds common query parameters for list endpoints
type listParams struct {
	limit    int
	offset   int
	status   string
	schoolID string
}

// parseListParams parses limit, offset, status and school_id from the request
// Defaults: limit=50 (max 200), offset=0
func parseListParams(r *http.Request) listParams {
	values := r.URL.Query()

	limit := 50
	if s := strings.TrimSpace(values.Get("limit")); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			if v > 200 {
				v = 200
			}
			limit = v
		}
	}

	offset := 0
	if s := strings.TrimSpace(values.Get("offset")); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}

	return listParams{
		limit:    limit,
		offset:   offset,
		status:   strings.TrimSpace(values.Get("status")),
		schoolID: strings.TrimSpace(values.Get("school_id")),
	}
}

func applicationFilter(r *http.Request) store.ApplicationFilter {
	p := parseListParams(r)
	return store.ApplicationFilter{
		Status:   models.ApplicationStatus(p.status),
		SchoolID: p.schoolID,
		DeviceID: strings.TrimSpace(r.URL.Query().Get("device_id")),
		Limit:    p.limit,
		Offset:   p.offset,
	}
}

func deviceFilter(r *http.Request) store.DeviceFilter {
	p := parseListParams(r)
	return store.DeviceFilter{
		Status:   models.DeviceStatus(p.status),
		Category: models.DeviceCategory(strings.TrimSpace(r.URL.Query().Get("category"))),
		SchoolID: p.schoolID,
		Limit:    p.limit,
		Offset:   p.offset,
	}
}

// listResponse is the envelope for list endpoints
type listResponse struct {
	Data   any `json:"data"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

//go:build integration

package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"rtb-inventory-api/internal"
	"rtb-inventory-api/internal/auth"
	"rtb-inventory-api/internal/config"
	"rtb-inventory-api/internal/events"
	"rtb-inventory-api/internal/models"
	"rtb-inventory-api/internal/store/postgres"
	"rtb-inventory-api/internal/testutil"
	"rtb-inventory-api/internal/workflow"
)

// newServer builds a server over a freshly migrated test database
func newServer(t *testing.T) *internal.Server {
	t.Helper()
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	testutil.ResetSchema(t, db)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := postgres.New(db, 500*time.Millisecond)
	ctl := workflow.NewController(st, events.Discard{}, logger)
	cfg := &config.Config{
		JWTSecret:     "supersecretkeyforintegrationtestingonly",
		JWTIssuer:     "rtb-inventory-api",
		JWTAudience:   "rtb-inventory-api",
		JWTExpiry:     24 * time.Hour,
		EnableMetrics: true,
	}
	srv, err := internal.NewServer(st, ctl, cfg, logger)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return srv
}

func bearer(t *testing.T, srv *internal.Server, userID string, role models.Role, schoolID string) string {
	t.Helper()
	tok, err := srv.JWTManager.GenerateToken(userID, role, schoolID)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	return "Bearer " + tok
}

func do(t *testing.T, srv *internal.Server, method, path, authz string, body, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("Failed to decode %s %s response %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code
}

func TestHealthEndpoint(t *testing.T) {
	srv := newServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Errorf("Expected body 'ok', got '%s'", w.Body.String())
	}
}

func TestUnauthorizedAccess(t *testing.T) {
	srv := newServer(t)

	var errBody auth.ErrorResponse
	if code := do(t, srv, "GET", "/devices", "", nil, &errBody); code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", code)
	}
	if code := do(t, srv, "GET", "/devices", "Bearer invalid.token.here", nil, &errBody); code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for invalid token, got %d", code)
	}
}

func setupApproved(t *testing.T, srv *internal.Server, staff string, n int) (*models.School, string, []string) {
	t.Helper()
	var school models.School
	if code := do(t, srv, "POST", "/schools", staff, models.CreateSchoolRequest{Name: "GS Remera", Code: "gsr02", District: "Gasabo"}, &school); code != http.StatusCreated {
		t.Fatalf("Failed to create school: %d", code)
	}
	head := bearer(t, srv, "head-1", models.RoleHeadteacher, school.ID)

	apps := make([]string, n)
	for i := range apps {
		var app models.DeviceApplication
		code := do(t, srv, "POST", "/applications", head, models.SubmitApplicationRequest{
			Requested: models.RequestedQuantities{Laptops: 1},
			Purpose:   "Lab",
			LetterRef: "letters/gsr02.pdf",
		}, &app)
		if code != http.StatusCreated {
			t.Fatalf("Failed to submit application: %d", code)
		}
		if code := do(t, srv, "POST", "/applications/"+app.ID+"/review", staff, models.ReviewApplicationRequest{Status: models.StatusApproved}, &app); code != http.StatusOK {
			t.Fatalf("Failed to approve application: %d", code)
		}
		apps[i] = app.ID
	}
	return &school, head, apps
}

func TestAssignmentOverPostgres(t *testing.T) {
	srv := newServer(t)
	staff := bearer(t, srv, "staff-1", models.RoleRTBStaff, "")
	_, head, apps := setupApproved(t, srv, staff, 1)

	var device models.Device
	code := do(t, srv, "POST", "/devices", staff, models.CreateDeviceRequest{
		SerialNumber: "PG-LAP-1",
		Category:     models.CategoryLaptop,
		Brand:        "HP",
		Model:        "ProBook",
		Condition:    models.ConditionNew,
	}, &device)
	if code != http.StatusCreated {
		t.Fatalf("Failed to register device: %d", code)
	}

	var res struct {
		AssetTags []string `json:"asset_tags"`
	}
	if code := do(t, srv, "POST", "/applications/"+apps[0]+"/assign", staff, models.AssignDevicesRequest{DeviceIDs: []string{device.ID}}, &res); code != http.StatusOK {
		t.Fatalf("Expected assign to succeed, got %d", code)
	}
	if len(res.AssetTags) != 1 || res.AssetTags[0] != "LAP/GAS/GSR02/0001" {
		t.Errorf("Unexpected asset tags %v", res.AssetTags)
	}

	var app models.DeviceApplication
	if code := do(t, srv, "POST", "/applications/"+apps[0]+"/confirm-receipt", head, models.ConfirmReceiptRequest{}, &app); code != http.StatusOK {
		t.Fatalf("Expected confirm to succeed, got %d", code)
	}
	if app.Status != models.StatusReceived {
		t.Errorf("Expected Received, got %s", app.Status)
	}

	var errBody auth.ErrorResponse
	if code := do(t, srv, "DELETE", "/devices/"+device.ID, staff, nil, &errBody); code != http.StatusConflict {
		t.Errorf("Expected deleting an assigned device to fail with 409, got %d", code)
	}
}

func TestConcurrentAssignOverPostgres(t *testing.T) {
	srv := newServer(t)
	staff := bearer(t, srv, "staff-1", models.RoleRTBStaff, "")
	_, _, apps := setupApproved(t, srv, staff, 2)

	var device models.Device
	code := do(t, srv, "POST", "/devices", staff, models.CreateDeviceRequest{
		SerialNumber: "PG-LAP-RACE",
		Category:     models.CategoryLaptop,
		Brand:        "HP",
		Model:        "ProBook",
		Condition:    models.ConditionNew,
	}, &device)
	if code != http.StatusCreated {
		t.Fatalf("Failed to register device: %d", code)
	}

	codes := make([]int, len(apps))
	bodies := make([]auth.ErrorResponse, len(apps))
	var wg sync.WaitGroup
	for i, id := range apps {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			codes[i] = do(t, srv, "POST", "/applications/"+id+"/assign", staff, models.AssignDevicesRequest{DeviceIDs: []string{device.ID}}, &bodies[i])
		}(i, id)
	}
	wg.Wait()

	ok, conflict := 0, 0
	for i, c := range codes {
		switch c {
		case http.StatusOK:
			ok++
		case http.StatusConflict:
			conflict++
			if bodies[i].Code != "CONFLICT" {
				t.Errorf("Expected CONFLICT code, got %s", bodies[i].Code)
			}
		default:
			t.Errorf("Unexpected status %d", c)
		}
	}
	if ok != 1 || conflict != 1 {
		t.Errorf("Expected one winner and one conflict, got ok=%d conflict=%d", ok, conflict)
	}
}

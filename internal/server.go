package internal

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"rtb-inventory-api/internal/auth"
	"rtb-inventory-api/internal/config"
	"rtb-inventory-api/internal/handlers"
	"rtb-inventory-api/internal/store"
	"rtb-inventory-api/internal/workflow"

	"github.com/go-chi/chi/v5"
)

type Server struct {
	Router     *chi.Mux
	Controller *workflow.Controller
	Store      store.Store
	JWTManager *auth.JWTManager
	Metrics    *Metrics
	Logger     *slog.Logger
}

// NewServer builds the HTTP surface over a controller and its store. The
// controller's observer is replaced with the server's metrics.
func NewServer(st store.Store, ctl *workflow.Controller, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTExpiry)
	if err := jwtManager.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("JWT configuration validation failed: %w", err)
	}

	metrics := NewMetrics()
	ctl.SetObserver(metrics)

	s := &Server{
		Router:     chi.NewRouter(),
		Controller: ctl,
		Store:      st,
		JWTManager: jwtManager,
		Metrics:    metrics,
		Logger:     logger,
	}

	s.Router.Use(requestLogger(logger))
	if cfg.EnableMetrics {
		s.Router.Use(s.Metrics.Middleware())
		s.Router.Get("/metrics", s.Metrics.Handler().ServeHTTP)
	}

	s.Router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	s.Router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(s.JWTManager))
		r.Use(withUser)
		s.mountProtectedRoutes(r, handlers.NewImportsHandler(ctl, cfg.ImportMapping, logger))
	})

	return s, nil
}

// Close releases the store
func (s *Server) Close(ctx context.Context) error {
	if s.Store != nil {
		return s.Store.Close()
	}
	return nil
}

// mountProtectedRoutes mounts all protected routes that require authentication.
// Role and ownership checks beyond MustStaff happen in the controller.
func (s *Server) mountProtectedRoutes(r chi.Router, imports *handlers.ImportsHandler) {
	staff := r.With(auth.MustStaff())

	r.Post("/applications", s.submitApplication)
	r.Get("/applications", s.listApplications)
	r.Get("/applications/{id}", s.getApplication)
	r.Get("/applications/{id}/history", s.applicationHistory)
	staff.Post("/applications/{id}/review", s.reviewApplication)
	staff.Post("/applications/{id}/eligibility", s.setEligibility)
	staff.Post("/applications/{id}/assign", s.assignDevices)
	r.Post("/applications/{id}/confirm-receipt", s.confirmReceipt)
	r.Post("/applications/{id}/cancel", s.cancelApplication)

	staff.Post("/devices", s.createDevice)
	r.Get("/devices", s.listDevices)
	r.Get("/devices/{id}", s.getDevice)
	staff.Patch("/devices/{id}/status", s.updateDeviceStatus)
	staff.Post("/devices/{id}/unassign", s.unassignDevice)
	staff.Delete("/devices/{id}", s.deleteDevice)
	staff.Post("/devices/bulk", s.bulkRegisterDevices)
	staff.Post("/devices/bulk-assign", s.bulkAssignDevices)

	staff.Post("/schools", s.createSchool)
	staff.Get("/schools", s.listSchools)
	r.Get("/schools/{id}", s.getSchool)

	staff.Post("/imports/excel", imports.UploadExcel)
}

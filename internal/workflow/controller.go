// Package workflow is the device application state machine and the
// assignment engine behind it. Every operation takes the calling actor
// explicitly and checks its role before touching the store.
package workflow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"rtb-inventory-api/internal/apperr"
	"rtb-inventory-api/internal/events"
	"rtb-inventory-api/internal/models"
	"rtb-inventory-api/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Controller exposes the permitted transitions of a device application
type Controller struct {
	store    store.Store
	engine   *Engine
	events   events.Publisher
	logger   *slog.Logger
	validate *validator.Validate
	observer Observer
	now      func() time.Time
}

// NewController wires a controller and its assignment engine to a store.
// pub and logger may be nil.
func NewController(st store.Store, pub events.Publisher, logger *slog.Logger) *Controller {
	engine := NewEngine(st, pub, logger)
	return &Controller{
		store:    st,
		engine:   engine,
		events:   engine.events,
		logger:   engine.logger,
		validate: newValidator(),
		observer: noopObserver{},
		now:      engine.now,
	}
}

// SetObserver installs o on the controller and its engine
func (c *Controller) SetObserver(o Observer) {
	if o == nil {
		o = noopObserver{}
	}
	c.observer = o
	c.engine.observer = o
}

// Engine returns the assignment engine the controller delegates to
func (c *Controller) Engine() *Engine {
	return c.engine
}

func requireStaff(actor models.Actor) error {
	if !actor.Role.IsStaff() {
		return apperr.Forbidden("role %s may not perform staff operations", actor.Role)
	}
	return nil
}

func requireSchool(actor models.Actor) error {
	if !actor.Role.IsSchool() {
		return apperr.Forbidden("role %s does not act for a school", actor.Role)
	}
	if actor.SchoolID == "" {
		return apperr.Forbidden("actor %s is not bound to a school", actor.UserID)
	}
	return nil
}

// Submit creates a Pending application for the actor's school
func (c *Controller) Submit(ctx context.Context, actor models.Actor, req models.SubmitApplicationRequest) (*models.DeviceApplication, error) {
	if err := requireSchool(actor); err != nil {
		return nil, err
	}
	if err := c.checkStruct(req); err != nil {
		return nil, err
	}
	if req.Requested.Total() == 0 {
		return nil, apperr.Validation("requested", "at least one device quantity must be greater than zero")
	}
	if strings.TrimSpace(req.LetterRef) == "" {
		return nil, apperr.Validation("letter_ref", "is required")
	}

	now := c.now()
	app := &models.DeviceApplication{
		ID:            uuid.NewString(),
		SchoolID:      actor.SchoolID,
		RequestedBy:   actor.UserID,
		Requested:     req.Requested,
		Purpose:       strings.TrimSpace(req.Purpose),
		Justification: req.Justification,
		LetterRef:     strings.TrimSpace(req.LetterRef),
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := c.store.RunInTx(ctx, func(tx store.Store) error {
		if _, err := tx.GetSchool(ctx, actor.SchoolID); err != nil {
			return err
		}
		if err := tx.CreateApplication(ctx, app); err != nil {
			return err
		}
		return tx.AppendStatusChange(ctx, models.StatusChange{
			ApplicationID: app.ID,
			To:            models.StatusPending,
			ActorID:       actor.UserID,
			At:            now,
		})
	})
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "application submitted",
		"application_id", app.ID,
		"school_id", app.SchoolID,
		"requested", app.Requested.Total(),
	)
	c.observer.Transitioned("", models.StatusPending)
	c.events.Publish(models.ApplicationSubmitted{Actor: actor, Application: app.Clone(), At: now})
	return app, nil
}

// Review records a staff decision on a Pending or UnderReview application.
// An eligibility override is only accepted with an approval.
func (c *Controller) Review(ctx context.Context, actor models.Actor, id string, req models.ReviewApplicationRequest) (*models.DeviceApplication, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if err := c.checkStruct(req); err != nil {
		return nil, err
	}
	if req.IsEligible != nil && req.Status != models.StatusApproved {
		return nil, apperr.Validation("is_eligible", "can only be set when approving")
	}
	return c.transition(ctx, actor, id, req.Status, nil, func(app *models.DeviceApplication, now time.Time) error {
		switch {
		case app.Status == models.StatusPending:
		case app.Status == models.StatusUnderReview && req.Status != models.StatusUnderReview:
		default:
			return apperr.Transition("application", app.ID, string(app.Status), string(req.Status))
		}

		reviewer := actor.UserID
		app.IsEligible = Evaluate(req.Status, req.IsEligible)
		if req.EligibilityNotes != nil {
			app.EligibilityNotes = req.EligibilityNotes
		}
		if req.ReviewNotes != "" {
			notes := req.ReviewNotes
			app.ReviewNotes = &notes
		}
		app.ReviewedBy = &reviewer
		app.ReviewedAt = &now
		return nil
	})
}

// SetEligibility changes the eligibility flag of an Approved application
// that has no devices yet.
func (c *Controller) SetEligibility(ctx context.Context, actor models.Actor, id string, req models.SetEligibilityRequest) (*models.DeviceApplication, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if err := c.checkStruct(req); err != nil {
		return nil, err
	}

	var app *models.DeviceApplication
	var previous *bool
	now := c.now()
	err := c.store.RunInTx(ctx, func(tx store.Store) error {
		var err error
		app, err = tx.LockApplication(ctx, id)
		if err != nil {
			return err
		}
		if app.Status != models.StatusApproved || len(app.AssignedDevices) > 0 {
			return apperr.Transition("application", app.ID, string(app.Status), "eligibility update")
		}
		previous = app.IsEligible
		v := *req.IsEligible
		app.IsEligible = &v
		if req.Notes != "" {
			notes := req.Notes
			app.EligibilityNotes = &notes
		}
		app.UpdatedAt = now
		return tx.UpdateApplication(ctx, app)
	})
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "eligibility updated", "application_id", id, "is_eligible", *app.IsEligible, "actor", actor.UserID)
	c.events.Publish(models.EligibilityChanged{
		Actor:         actor,
		ApplicationID: app.ID,
		SchoolID:      app.SchoolID,
		RequestedBy:   app.RequestedBy,
		Previous:      previous,
		IsEligible:    *app.IsEligible,
		Notes:         req.Notes,
		At:            now,
	})
	return app, nil
}

// Assign hands an approved application to the assignment engine
func (c *Controller) Assign(ctx context.Context, actor models.Actor, id string, req models.AssignDevicesRequest) (*AssignmentResult, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if err := checkDeviceIDs(req.DeviceIDs); err != nil {
		return nil, err
	}
	return c.engine.Assign(ctx, actor, id, req.DeviceIDs)
}

// ConfirmReceipt lets the owning school mark its devices as received
func (c *Controller) ConfirmReceipt(ctx context.Context, actor models.Actor, id string, req models.ConfirmReceiptRequest) (*models.DeviceApplication, error) {
	if err := requireSchool(actor); err != nil {
		return nil, err
	}
	if err := c.checkStruct(req); err != nil {
		return nil, err
	}
	var notes *string
	if req.Notes != "" {
		notes = &req.Notes
	}
	return c.transition(ctx, actor, id, models.StatusReceived, notes, func(app *models.DeviceApplication, now time.Time) error {
		if !actor.OwnsSchool(app.SchoolID) {
			return apperr.Forbidden("application %s belongs to another school", app.ID)
		}
		if app.Status != models.StatusAssigned {
			return apperr.Transition("application", app.ID, string(app.Status), string(models.StatusReceived))
		}
		app.ConfirmedAt = &now
		app.ConfirmationNotes = notes
		return nil
	})
}

// Cancel withdraws a Pending application on behalf of its school
func (c *Controller) Cancel(ctx context.Context, actor models.Actor, id string, req models.CancelApplicationRequest) (*models.DeviceApplication, error) {
	if err := requireSchool(actor); err != nil {
		return nil, err
	}
	if err := c.checkStruct(req); err != nil {
		return nil, err
	}
	var reason *string
	if req.Reason != "" {
		reason = &req.Reason
	}
	return c.transition(ctx, actor, id, models.StatusCancelled, reason, func(app *models.DeviceApplication, now time.Time) error {
		if !actor.OwnsSchool(app.SchoolID) {
			return apperr.Forbidden("application %s belongs to another school", app.ID)
		}
		if app.Status != models.StatusPending {
			return apperr.Transition("application", app.ID, string(app.Status), string(models.StatusCancelled))
		}
		app.CancelledAt = &now
		return nil
	})
}

// transition locks the application, lets apply validate and mutate it,
// then moves it to status to and records the history row.
func (c *Controller) transition(ctx context.Context, actor models.Actor, id string, to models.ApplicationStatus, notes *string,
	apply func(app *models.DeviceApplication, now time.Time) error) (*models.DeviceApplication, error) {
	var app *models.DeviceApplication
	var from models.ApplicationStatus
	now := c.now()

	err := c.store.RunInTx(ctx, func(tx store.Store) error {
		var err error
		app, err = tx.LockApplication(ctx, id)
		if err != nil {
			return err
		}
		from = app.Status
		if err := apply(app, now); err != nil {
			return err
		}
		app.Status = to
		app.UpdatedAt = now
		if err := tx.UpdateApplication(ctx, app); err != nil {
			return err
		}
		return tx.AppendStatusChange(ctx, models.StatusChange{
			ApplicationID: app.ID,
			From:          from,
			To:            to,
			ActorID:       actor.UserID,
			Notes:         notes,
			At:            now,
		})
	})
	if err != nil {
		c.logger.InfoContext(ctx, "application transition rejected",
			"application_id", id, "to", to, "actor", actor.UserID, "error", err)
		return nil, err
	}

	c.logger.InfoContext(ctx, "application transitioned",
		"application_id", id, "from", from, "to", to, "actor", actor.UserID)
	c.observer.Transitioned(from, to)
	c.events.Publish(models.ApplicationTransitioned{
		Actor:       actor,
		Application: app.Clone(),
		From:        from,
		To:          to,
		Notes:       notes,
		At:          now,
	})
	return app, nil
}

// GetApplication returns an application to staff or to its own school
func (c *Controller) GetApplication(ctx context.Context, actor models.Actor, id string) (*models.DeviceApplication, error) {
	app, err := c.store.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canRead(actor, app.SchoolID); err != nil {
		return nil, err
	}
	return app, nil
}

// ListApplications lists applications. School actors only ever see their
// own school's applications.
func (c *Controller) ListApplications(ctx context.Context, actor models.Actor, f store.ApplicationFilter) ([]models.DeviceApplication, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation("status", "unknown application status %q", f.Status)
	}
	switch {
	case actor.Role.IsStaff():
	case actor.Role.IsSchool():
		if f.SchoolID != "" && f.SchoolID != actor.SchoolID {
			return nil, apperr.Forbidden("school actors may only list their own applications")
		}
		f.SchoolID = actor.SchoolID
	default:
		return nil, apperr.Forbidden("role %s may not list applications", actor.Role)
	}
	return c.store.ListApplications(ctx, f)
}

// History returns the status changes of an application, oldest first
func (c *Controller) History(ctx context.Context, actor models.Actor, id string) ([]models.StatusChange, error) {
	if _, err := c.GetApplication(ctx, actor, id); err != nil {
		return nil, err
	}
	return c.store.ListStatusChanges(ctx, id)
}

func canRead(actor models.Actor, schoolID string) error {
	if actor.Role.IsStaff() || actor.OwnsSchool(schoolID) {
		return nil
	}
	return apperr.Forbidden("actor %s may not read records of school %s", actor.UserID, schoolID)
}

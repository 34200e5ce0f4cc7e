package workflow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"rtb-inventory-api/internal/apperr"
	"rtb-inventory-api/internal/assettag"
	"rtb-inventory-api/internal/events"
	"rtb-inventory-api/internal/models"
	"rtb-inventory-api/internal/store"
)

// Observer receives workflow outcomes for metrics
type Observer interface {
	Transitioned(from, to models.ApplicationStatus)
	DevicesAssigned(n int)
	AssignmentConflict()
}

type noopObserver struct{}

func (noopObserver) Transitioned(models.ApplicationStatus, models.ApplicationStatus) {}
func (noopObserver) DevicesAssigned(int)                                             {}
func (noopObserver) AssignmentConflict()                                             {}

// AssignmentResult is the state after a committed assignment. Application
// is nil for a direct school assignment. Devices and Tags follow the order
// of the requested ids.
type AssignmentResult struct {
	Application *models.DeviceApplication `json:"application,omitempty"`
	Devices     []models.Device           `json:"devices"`
	Tags        []string                  `json:"tags"`
}

// Engine binds inventory devices to schools. Every call is a single store
// transaction: either all devices and the application move together or
// nothing changes.
type Engine struct {
	store    store.Store
	events   events.Publisher
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// NewEngine creates an assignment engine
func NewEngine(st store.Store, pub events.Publisher, logger *slog.Logger) *Engine {
	if pub == nil {
		pub = events.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    st,
		events:   pub,
		logger:   logger,
		observer: noopObserver{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Assign binds deviceIDs to an approved, eligible application that has no
// devices yet, generating one asset tag per device.
func (e *Engine) Assign(ctx context.Context, actor models.Actor, applicationID string, deviceIDs []string) (*AssignmentResult, error) {
	if err := checkDeviceIDs(deviceIDs); err != nil {
		return nil, err
	}

	var result *AssignmentResult
	var from models.ApplicationStatus
	now := e.now()

	err := e.store.RunInTx(ctx, func(tx store.Store) error {
		app, err := tx.LockApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		from = app.Status
		if !Assignable(*app) {
			return apperr.Transition("application", app.ID, string(app.Status), string(models.StatusAssigned))
		}

		devices, err := tx.LockDevices(ctx, deviceIDs)
		if err != nil {
			return err
		}
		if err := checkQuantities(app.Requested, devices); err != nil {
			return err
		}

		school, err := tx.GetSchool(ctx, app.SchoolID)
		if err != nil {
			return err
		}
		tags, err := e.claim(ctx, tx, school, devices, now)
		if err != nil {
			return err
		}

		assigner := actor.UserID
		app.AssignedDevices = append([]string(nil), deviceIDs...)
		app.Status = models.StatusAssigned
		app.AssignedBy = &assigner
		app.AssignedAt = &now
		app.UpdatedAt = now
		if err := tx.UpdateApplication(ctx, app); err != nil {
			return err
		}
		if err := tx.AppendStatusChange(ctx, models.StatusChange{
			ApplicationID: app.ID,
			From:          from,
			To:            models.StatusAssigned,
			ActorID:       actor.UserID,
			At:            now,
		}); err != nil {
			return err
		}

		result = &AssignmentResult{Application: app, Devices: devices, Tags: tags}
		return nil
	})
	if err != nil {
		e.logFailure(ctx, "assign devices", applicationID, err)
		return nil, err
	}

	e.logger.InfoContext(ctx, "devices assigned",
		"application_id", applicationID,
		"school_id", result.Application.SchoolID,
		"count", len(result.Devices),
		"actor", actor.UserID,
	)
	e.observer.DevicesAssigned(len(result.Devices))
	e.observer.Transitioned(from, models.StatusAssigned)
	for _, d := range result.Devices {
		e.events.Publish(models.DeviceAssignedEvent{Actor: actor, Device: d.Clone(), ApplicationID: applicationID, At: now})
	}
	e.events.Publish(models.ApplicationTransitioned{
		Actor:       actor,
		Application: result.Application.Clone(),
		From:        from,
		To:          models.StatusAssigned,
		At:          now,
	})
	return result, nil
}

// AssignToSchool binds deviceIDs to a school without an application, as
// used by bulk assignment. Tags come from the same per school sequence.
func (e *Engine) AssignToSchool(ctx context.Context, actor models.Actor, schoolID string, deviceIDs []string) (*AssignmentResult, error) {
	if err := checkDeviceIDs(deviceIDs); err != nil {
		return nil, err
	}

	var result *AssignmentResult
	now := e.now()

	err := e.store.RunInTx(ctx, func(tx store.Store) error {
		school, err := tx.GetSchool(ctx, schoolID)
		if err != nil {
			return err
		}
		devices, err := tx.LockDevices(ctx, deviceIDs)
		if err != nil {
			return err
		}
		tags, err := e.claim(ctx, tx, school, devices, now)
		if err != nil {
			return err
		}
		result = &AssignmentResult{Devices: devices, Tags: tags}
		return nil
	})
	if err != nil {
		e.logFailure(ctx, "assign devices to school", schoolID, err)
		return nil, err
	}

	e.logger.InfoContext(ctx, "devices assigned to school",
		"school_id", schoolID,
		"count", len(result.Devices),
		"actor", actor.UserID,
	)
	e.observer.DevicesAssigned(len(result.Devices))
	for _, d := range result.Devices {
		e.events.Publish(models.DeviceAssignedEvent{Actor: actor, Device: d.Clone(), At: now})
	}
	return result, nil
}

// Unassign returns an assigned device to the available pool. The tag
// sequence is not rewound, so the released tag is never issued again.
// Devices of an application still awaiting receipt stay put.
func (e *Engine) Unassign(ctx context.Context, actor models.Actor, deviceID, notes string) (*models.Device, error) {
	var out *models.Device
	now := e.now()

	err := e.store.RunInTx(ctx, func(tx store.Store) error {
		locked, err := tx.LockDevices(ctx, []string{deviceID})
		if err != nil {
			return err
		}
		d := locked[0]
		if d.Status != models.DeviceAssigned {
			return apperr.Transition("device", d.ID, string(d.Status), string(models.DeviceAvailable))
		}
		if err := checkNotInTransit(ctx, tx, d.ID, models.DeviceAvailable); err != nil {
			return err
		}
		d.Release(models.DeviceAvailable)
		if notes != "" {
			d.Notes = &notes
		}
		d.UpdatedAt = now
		if err := tx.UpdateDevice(ctx, &d); err != nil {
			return err
		}
		out = &d
		return nil
	})
	if err != nil {
		e.logFailure(ctx, "unassign device", deviceID, err)
		return nil, err
	}

	e.logger.InfoContext(ctx, "device unassigned", "device_id", deviceID, "actor", actor.UserID)
	e.events.Publish(models.DeviceStatusChanged{
		Actor:  actor,
		Device: out.Clone(),
		From:   models.DeviceAssigned,
		To:     models.DeviceAvailable,
		At:     now,
	})
	return out, nil
}

// checkNotInTransit refuses to release a device that an Assigned application
// still lists. Once the school confirms receipt the device may be released.
func checkNotInTransit(ctx context.Context, tx store.Store, deviceID string, to models.DeviceStatus) error {
	apps, err := tx.ListApplications(ctx, store.ApplicationFilter{
		Status:   models.StatusAssigned,
		DeviceID: deviceID,
		Limit:    1,
	})
	if err != nil {
		return err
	}
	if len(apps) > 0 {
		return apperr.Transition("device", deviceID, string(models.DeviceAssigned), string(to))
	}
	return nil
}

// claim tags and assigns devices in place. Availability of every device is
// checked before the first sequence number is drawn.
func (e *Engine) claim(ctx context.Context, tx store.Store, school *models.School, devices []models.Device, now time.Time) ([]string, error) {
	for _, d := range devices {
		if d.Status != models.DeviceAvailable {
			return nil, apperr.Conflict("device", d.ID, "not available (status %s)", d.Status)
		}
	}

	tags := make([]string, 0, len(devices))
	for i := range devices {
		d := &devices[i]
		seq, err := tx.NextTagSequence(ctx, school.ID, d.Category)
		if err != nil {
			return nil, err
		}
		tag, err := assettag.Generate(d.Category, school.District, school.Code, seq)
		if err != nil {
			return nil, apperr.Validation("category", "%v", err)
		}
		schoolID := school.ID
		d.Status = models.DeviceAssigned
		d.SchoolID = &schoolID
		d.AssetTag = &tag
		d.UpdatedAt = now
		if err := tx.ClaimDevice(ctx, d); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

func (e *Engine) logFailure(ctx context.Context, op, id string, err error) {
	if apperr.IsConflict(err) {
		e.observer.AssignmentConflict()
		e.logger.WarnContext(ctx, op+" conflict", "id", id, "error", err)
		return
	}
	e.logger.InfoContext(ctx, op+" rejected", "id", id, "error", err)
}

func checkDeviceIDs(ids []string) error {
	if len(ids) == 0 {
		return apperr.Validation("device_ids", "at least one device is required")
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return apperr.Validation("device_ids", "device id must not be empty")
		}
		if _, dup := seen[id]; dup {
			return apperr.Validation("device_ids", "device %s listed more than once", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func checkQuantities(requested models.RequestedQuantities, devices []models.Device) error {
	counts := map[models.DeviceCategory]int{}
	for _, d := range devices {
		counts[d.Category]++
	}
	for _, cat := range models.Categories {
		if n, want := counts[cat], requested.Of(cat); n > want {
			return apperr.Validation("device_ids", "%d %s device(s) exceed the %d requested", n, cat, want)
		}
	}
	return nil
}

package workflow

import (
	"context"
	"strings"

	"rtb-inventory-api/internal/apperr"
	"rtb-inventory-api/internal/models"
	"rtb-inventory-api/internal/store"

	"github.com/google/uuid"
)

// maintenance edits outside the assignment engine
var deviceEdits = map[models.DeviceStatus][]models.DeviceStatus{
	models.DeviceAvailable:   {models.DeviceMaintenance, models.DeviceWrittenOff},
	models.DeviceAssigned:    {models.DeviceMaintenance, models.DeviceWrittenOff},
	models.DeviceMaintenance: {models.DeviceAvailable, models.DeviceWrittenOff},
}

func deviceEditAllowed(from, to models.DeviceStatus) bool {
	for _, s := range deviceEdits[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RegisterDevice adds one Available device to the inventory
func (c *Controller) RegisterDevice(ctx context.Context, actor models.Actor, req models.CreateDeviceRequest) (*models.Device, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	req.SerialNumber = strings.TrimSpace(req.SerialNumber)
	if err := c.checkStruct(req); err != nil {
		return nil, err
	}

	now := c.now()
	d := &models.Device{
		ID:           uuid.NewString(),
		SerialNumber: req.SerialNumber,
		Category:     req.Category,
		Brand:        strings.TrimSpace(req.Brand),
		Model:        strings.TrimSpace(req.Model),
		Condition:    req.Condition,
		Status:       models.DeviceAvailable,
		Notes:        req.Notes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := c.store.CreateDevice(ctx, d); err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "device registered", "device_id", d.ID, "serial_number", d.SerialNumber, "category", d.Category)
	c.events.Publish(models.DeviceStatusChanged{Actor: actor, Device: d.Clone(), To: models.DeviceAvailable, At: now})
	return d, nil
}

// GetDevice returns a device to staff, or to the school holding it
func (c *Controller) GetDevice(ctx context.Context, actor models.Actor, id string) (*models.Device, error) {
	d, err := c.store.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role.IsStaff() {
		return d, nil
	}
	if d.SchoolID == nil || !actor.OwnsSchool(*d.SchoolID) {
		return nil, apperr.Forbidden("device %s is not held by the actor's school", id)
	}
	return d, nil
}

// ListDevices lists inventory. School actors see only devices held by
// their school.
func (c *Controller) ListDevices(ctx context.Context, actor models.Actor, f store.DeviceFilter) ([]models.Device, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation("status", "unknown device status %q", f.Status)
	}
	if f.Category != "" && !f.Category.Valid() {
		return nil, apperr.Validation("category", "unknown device category %q", f.Category)
	}
	switch {
	case actor.Role.IsStaff():
	case actor.Role.IsSchool():
		if f.SchoolID != "" && f.SchoolID != actor.SchoolID {
			return nil, apperr.Forbidden("school actors may only list their own devices")
		}
		f.SchoolID = actor.SchoolID
	default:
		return nil, apperr.Forbidden("role %s may not list devices", actor.Role)
	}
	return c.store.ListDevices(ctx, f)
}

// UpdateDeviceStatus applies a maintenance edit. Leaving Assigned clears
// the tag and school; WrittenOff is final.
func (c *Controller) UpdateDeviceStatus(ctx context.Context, actor models.Actor, id string, req models.UpdateDeviceStatusRequest) (*models.Device, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if err := c.checkStruct(req); err != nil {
		return nil, err
	}

	var out *models.Device
	var from models.DeviceStatus
	now := c.now()
	err := c.store.RunInTx(ctx, func(tx store.Store) error {
		locked, err := tx.LockDevices(ctx, []string{id})
		if err != nil {
			return err
		}
		d := locked[0]
		from = d.Status
		if !deviceEditAllowed(from, req.Status) {
			return apperr.Transition("device", d.ID, string(from), string(req.Status))
		}
		if from == models.DeviceAssigned {
			if err := checkNotInTransit(ctx, tx, d.ID, req.Status); err != nil {
				return err
			}
		}
		d.Release(req.Status)
		if req.Notes != nil {
			d.Notes = req.Notes
		}
		d.UpdatedAt = now
		if err := tx.UpdateDevice(ctx, &d); err != nil {
			return err
		}
		out = &d
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "device status updated", "device_id", id, "from", from, "to", req.Status, "actor", actor.UserID)
	c.events.Publish(models.DeviceStatusChanged{Actor: actor, Device: out.Clone(), From: from, To: req.Status, At: now})
	return out, nil
}

// UnassignDevice returns an assigned device to the pool
func (c *Controller) UnassignDevice(ctx context.Context, actor models.Actor, id, notes string) (*models.Device, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	return c.engine.Unassign(ctx, actor, id, notes)
}

// DeleteDevice removes a device that is not assigned
func (c *Controller) DeleteDevice(ctx context.Context, actor models.Actor, id string) error {
	if err := requireStaff(actor); err != nil {
		return err
	}
	err := c.store.RunInTx(ctx, func(tx store.Store) error {
		locked, err := tx.LockDevices(ctx, []string{id})
		if err != nil {
			return err
		}
		if locked[0].Status == models.DeviceAssigned {
			return apperr.Transition("device", id, string(models.DeviceAssigned), "Deleted")
		}
		return tx.DeleteDevice(ctx, id)
	})
	if err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "device deleted", "device_id", id, "actor", actor.UserID)
	return nil
}

// CreateSchool registers a school. Codes are stored upper case.
func (c *Controller) CreateSchool(ctx context.Context, actor models.Actor, req models.CreateSchoolRequest) (*models.School, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	if err := c.checkStruct(req); err != nil {
		return nil, err
	}
	s := &models.School{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(req.Name),
		Code:      req.Code,
		District:  strings.TrimSpace(req.District),
		CreatedAt: c.now(),
	}
	if err := c.store.CreateSchool(ctx, s); err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "school created", "school_id", s.ID, "code", s.Code)
	return s, nil
}

// GetSchool returns a school by id
func (c *Controller) GetSchool(ctx context.Context, actor models.Actor, id string) (*models.School, error) {
	if err := canRead(actor, id); err != nil {
		return nil, err
	}
	return c.store.GetSchool(ctx, id)
}

// ListSchools lists schools for staff
func (c *Controller) ListSchools(ctx context.Context, actor models.Actor) ([]models.School, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	return c.store.ListSchools(ctx)
}

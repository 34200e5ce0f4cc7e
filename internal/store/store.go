// Package store defines the persistence contract for devices, schools,
// applications and tag sequences. Workflow code depends only on these
// interfaces; memory and postgres provide implementations.
package store

import (
	"context"

	"rtb-inventory-api/internal/models"
)

// DeviceFilter narrows ListDevices. Zero values match everything.
type DeviceFilter struct {
	Status   models.DeviceStatus
	Category models.DeviceCategory
	SchoolID string
	Limit    int
	Offset   int
}

// ApplicationFilter narrows ListApplications. Zero values match everything.
type ApplicationFilter struct {
	Status   models.ApplicationStatus
	SchoolID string
	// DeviceID matches applications whose AssignedDevices hold the id
	DeviceID string
	Limit    int
	Offset   int
}

// InventoryStore holds devices
type InventoryStore interface {
	// CreateDevice returns a ConflictError when the serial number is taken.
	CreateDevice(ctx context.Context, d *models.Device) error
	GetDevice(ctx context.Context, id string) (*models.Device, error)
	GetDeviceBySerial(ctx context.Context, serial string) (*models.Device, error)
	ListDevices(ctx context.Context, f DeviceFilter) ([]models.Device, error)
	// LockDevices returns the devices in the order of ids, locked for the
	// rest of the enclosing transaction. A NotFoundError is returned if any
	// id is unknown and a ConflictError if a row is locked by another
	// transaction.
	LockDevices(ctx context.Context, ids []string) ([]models.Device, error)
	UpdateDevice(ctx context.Context, d *models.Device) error
	// ClaimDevice writes d, which must carry status Assigned, only if the
	// stored device is still Available. Otherwise it returns a ConflictError.
	ClaimDevice(ctx context.Context, d *models.Device) error
	DeleteDevice(ctx context.Context, id string) error
}

// ApplicationStore holds applications and their status history
type ApplicationStore interface {
	CreateApplication(ctx context.Context, a *models.DeviceApplication) error
	GetApplication(ctx context.Context, id string) (*models.DeviceApplication, error)
	// LockApplication reads an application and locks it for the rest of the
	// enclosing transaction.
	LockApplication(ctx context.Context, id string) (*models.DeviceApplication, error)
	ListApplications(ctx context.Context, f ApplicationFilter) ([]models.DeviceApplication, error)
	UpdateApplication(ctx context.Context, a *models.DeviceApplication) error
	AppendStatusChange(ctx context.Context, c models.StatusChange) error
	ListStatusChanges(ctx context.Context, applicationID string) ([]models.StatusChange, error)
}

// SchoolStore holds the schools devices are allocated to
type SchoolStore interface {
	CreateSchool(ctx context.Context, s *models.School) error
	GetSchool(ctx context.Context, id string) (*models.School, error)
	GetSchoolByCode(ctx context.Context, code string) (*models.School, error)
	ListSchools(ctx context.Context) ([]models.School, error)
}

// SequenceStore hands out asset tag sequence numbers
type SequenceStore interface {
	// NextTagSequence returns the next number for (schoolID, category),
	// starting at 1. Calls for the same key are serialized and never return
	// the same number twice once committed.
	NextTagSequence(ctx context.Context, schoolID string, category models.DeviceCategory) (int, error)
}

// Store is the full persistence surface
type Store interface {
	InventoryStore
	ApplicationStore
	SchoolStore
	SequenceStore

	// RunInTx runs fn in a single atomic unit. Either every write made
	// through tx is committed or none is. Calling RunInTx on a tx runs fn
	// inside the existing unit.
	RunInTx(ctx context.Context, fn func(tx Store) error) error
	Close() error
}

package models

import "time"

// DeviceCategory is the kind of device held in inventory
type DeviceCategory string

const (
	CategoryLaptop    DeviceCategory = "Laptop"
	CategoryDesktop   DeviceCategory = "Desktop"
	CategoryTablet    DeviceCategory = "Tablet"
	CategoryProjector DeviceCategory = "Projector"
	CategoryOthers    DeviceCategory = "Others"
)

// Categories lists every category in display order
var Categories = []DeviceCategory{
	CategoryLaptop,
	CategoryDesktop,
	CategoryTablet,
	CategoryProjector,
	CategoryOthers,
}

// Valid reports whether c is a known category
func (c DeviceCategory) Valid() bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// DeviceCondition is the physical condition recorded at intake
type DeviceCondition string

const (
	ConditionNew    DeviceCondition = "New"
	ConditionGood   DeviceCondition = "Good"
	ConditionFair   DeviceCondition = "Fair"
	ConditionFaulty DeviceCondition = "Faulty"
)

// Valid reports whether c is a known condition
func (c DeviceCondition) Valid() bool {
	switch c {
	case ConditionNew, ConditionGood, ConditionFair, ConditionFaulty:
		return true
	}
	return false
}

// DeviceStatus is the inventory status of a device
type DeviceStatus string

const (
	DeviceAvailable   DeviceStatus = "Available"
	DeviceAssigned    DeviceStatus = "Assigned"
	DeviceMaintenance DeviceStatus = "Maintenance"
	DeviceWrittenOff  DeviceStatus = "WrittenOff"
)

// Valid reports whether s is a known device status
func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceAvailable, DeviceAssigned, DeviceMaintenance, DeviceWrittenOff:
		return true
	}
	return false
}

// Device represents a single physical inventory item.
// AssetTag and SchoolID are set if and only if Status is DeviceAssigned.
type Device struct {
	ID           string          `json:"id"`
	SerialNumber string          `json:"serial_number"`
	Category     DeviceCategory  `json:"category"`
	Brand        string          `json:"brand"`
	Model        string          `json:"model"`
	Condition    DeviceCondition `json:"condition"`
	Status       DeviceStatus    `json:"status"`
	SchoolID     *string         `json:"school_id,omitempty"`
	AssetTag     *string         `json:"asset_tag,omitempty"`
	Notes        *string         `json:"notes,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of the device
func (d Device) Clone() Device {
	out := d
	out.SchoolID = cloneString(d.SchoolID)
	out.AssetTag = cloneString(d.AssetTag)
	out.Notes = cloneString(d.Notes)
	return out
}

// Release clears the assignment fields and puts the device in status s
func (d *Device) Release(s DeviceStatus) {
	d.Status = s
	d.SchoolID = nil
	d.AssetTag = nil
}

// CreateDeviceRequest represents the request body for inventory intake
type CreateDeviceRequest struct {
	SerialNumber string          `json:"serial_number" validate:"required,max=100"`
	Category     DeviceCategory  `json:"category" validate:"required,oneof=Laptop Desktop Tablet Projector Others"`
	Brand        string          `json:"brand" validate:"required,max=100"`
	Model        string          `json:"model" validate:"required,max=100"`
	Condition    DeviceCondition `json:"condition" validate:"required,oneof=New Good Fair Faulty"`
	Notes        *string         `json:"notes,omitempty"`
}

// UpdateDeviceStatusRequest represents a maintenance edit
type UpdateDeviceStatusRequest struct {
	Status DeviceStatus `json:"status" validate:"required,oneof=Available Maintenance WrittenOff"`
	Notes  *string      `json:"notes,omitempty"`
}

// BulkAssignItem pairs a device serial with the code of its receiving school
type BulkAssignItem struct {
	SerialNumber string `json:"serial_number" validate:"required"`
	SchoolCode   string `json:"school_code" validate:"required"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

package models

import "time"

// ApplicationStatus is a state of the device application lifecycle
type ApplicationStatus string

const (
	StatusPending     ApplicationStatus = "Pending"
	StatusUnderReview ApplicationStatus = "UnderReview"
	StatusApproved    ApplicationStatus = "Approved"
	StatusRejected    ApplicationStatus = "Rejected"
	StatusAssigned    ApplicationStatus = "Assigned"
	StatusReceived    ApplicationStatus = "Received"
	StatusCancelled   ApplicationStatus = "Cancelled"
)

// Valid reports whether s is a known application status
func (s ApplicationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusUnderReview, StatusApproved, StatusRejected,
		StatusAssigned, StatusReceived, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s
func (s ApplicationStatus) Terminal() bool {
	return s == StatusRejected || s == StatusReceived || s == StatusCancelled
}

// RequestedQuantities holds the number of devices requested per category
type RequestedQuantities struct {
	Laptops    int `json:"laptops" validate:"gte=0"`
	Desktops   int `json:"desktops" validate:"gte=0"`
	Tablets    int `json:"tablets" validate:"gte=0"`
	Projectors int `json:"projectors" validate:"gte=0"`
	Others     int `json:"others" validate:"gte=0"`
}

// Of returns the requested quantity for a category
func (q RequestedQuantities) Of(c DeviceCategory) int {
	switch c {
	case CategoryLaptop:
		return q.Laptops
	case CategoryDesktop:
		return q.Desktops
	case CategoryTablet:
		return q.Tablets
	case CategoryProjector:
		return q.Projectors
	case CategoryOthers:
		return q.Others
	}
	return 0
}

// Total returns the sum of all requested quantities
func (q RequestedQuantities) Total() int {
	return q.Laptops + q.Desktops + q.Tablets + q.Projectors + q.Others
}

// DeviceApplication represents a school's request for devices.
// AssignedDevices is non-empty only in StatusAssigned or StatusReceived,
// and IsEligible is nil while the application is pending.
type DeviceApplication struct {
	ID                string              `json:"id"`
	SchoolID          string              `json:"school_id"`
	RequestedBy       string              `json:"requested_by"`
	Requested         RequestedQuantities `json:"requested"`
	Purpose           string              `json:"purpose"`
	Justification     *string             `json:"justification,omitempty"`
	LetterRef         string              `json:"letter_ref"`
	Status            ApplicationStatus   `json:"status"`
	IsEligible        *bool               `json:"is_eligible"`
	EligibilityNotes  *string             `json:"eligibility_notes,omitempty"`
	ReviewNotes       *string             `json:"review_notes,omitempty"`
	ReviewedBy        *string             `json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time          `json:"reviewed_at,omitempty"`
	AssignedDevices   []string            `json:"assigned_devices"`
	AssignedBy        *string             `json:"assigned_by,omitempty"`
	AssignedAt        *time.Time          `json:"assigned_at,omitempty"`
	ConfirmedAt       *time.Time          `json:"confirmed_at,omitempty"`
	ConfirmationNotes *string             `json:"confirmation_notes,omitempty"`
	CancelledAt       *time.Time          `json:"cancelled_at,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// Clone returns a deep copy of the application
func (a DeviceApplication) Clone() DeviceApplication {
	out := a
	out.Justification = cloneString(a.Justification)
	out.EligibilityNotes = cloneString(a.EligibilityNotes)
	out.ReviewNotes = cloneString(a.ReviewNotes)
	out.ReviewedBy = cloneString(a.ReviewedBy)
	out.AssignedBy = cloneString(a.AssignedBy)
	out.ConfirmationNotes = cloneString(a.ConfirmationNotes)
	out.ReviewedAt = cloneTime(a.ReviewedAt)
	out.AssignedAt = cloneTime(a.AssignedAt)
	out.ConfirmedAt = cloneTime(a.ConfirmedAt)
	out.CancelledAt = cloneTime(a.CancelledAt)
	if a.IsEligible != nil {
		v := *a.IsEligible
		out.IsEligible = &v
	}
	if a.AssignedDevices != nil {
		out.AssignedDevices = append([]string(nil), a.AssignedDevices...)
	}
	return out
}

// StatusChange is one entry of an application's status history
type StatusChange struct {
	ApplicationID string            `json:"application_id"`
	From          ApplicationStatus `json:"from"`
	To            ApplicationStatus `json:"to"`
	ActorID       string            `json:"actor_id"`
	Notes         *string           `json:"notes,omitempty"`
	At            time.Time         `json:"at"`
}

// SubmitApplicationRequest represents the request body for a new application
type SubmitApplicationRequest struct {
	Requested     RequestedQuantities `json:"requested"`
	Purpose       string              `json:"purpose" validate:"required,max=2000"`
	Justification *string             `json:"justification,omitempty" validate:"omitempty,max=4000"`
	LetterRef     string              `json:"letter_ref" validate:"required,max=512"`
}

// ReviewApplicationRequest represents a staff review decision.
// IsEligible overrides the eligibility implied by the decision; notes never do.
type ReviewApplicationRequest struct {
	Status           ApplicationStatus `json:"status" validate:"required,oneof=UnderReview Approved Rejected"`
	ReviewNotes      string            `json:"review_notes" validate:"max=4000"`
	EligibilityNotes *string           `json:"eligibility_notes,omitempty" validate:"omitempty,max=4000"`
	IsEligible       *bool             `json:"is_eligible,omitempty"`
}

// SetEligibilityRequest represents an explicit eligibility update
type SetEligibilityRequest struct {
	IsEligible *bool  `json:"is_eligible" validate:"required"`
	Notes      string `json:"notes" validate:"max=4000"`
}

// AssignDevicesRequest represents the devices chosen for an application
type AssignDevicesRequest struct {
	DeviceIDs []string `json:"device_ids" validate:"required,min=1,dive,required"`
}

// ConfirmReceiptRequest represents a school's receipt confirmation
type ConfirmReceiptRequest struct {
	Notes string `json:"notes" validate:"max=4000"`
}

// CancelApplicationRequest represents a school withdrawing a pending application
type CancelApplicationRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

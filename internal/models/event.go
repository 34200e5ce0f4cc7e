package models

import "time"

// Event is a domain event emitted after a committed workflow change.
// The concrete types below form a closed union: switch on them rather
// than inspecting a generic payload.
type Event interface {
	EventType() string
	OccurredAt() time.Time
}

// ApplicationSubmitted is emitted when a school submits an application
type ApplicationSubmitted struct {
	Actor       Actor
	Application DeviceApplication
	At          time.Time
}

// ApplicationTransitioned is emitted on every status change after submission
type ApplicationTransitioned struct {
	Actor       Actor
	Application DeviceApplication
	From        ApplicationStatus
	To          ApplicationStatus
	Notes       *string
	At          time.Time
}

// EligibilityChanged is emitted when staff set eligibility explicitly
type EligibilityChanged struct {
	Actor         Actor
	ApplicationID string
	SchoolID      string
	RequestedBy   string
	Previous      *bool
	IsEligible    bool
	Notes         string
	At            time.Time
}

// DeviceAssignedEvent is emitted once per device bound to a school
type DeviceAssignedEvent struct {
	Actor         Actor
	Device        Device
	ApplicationID string
	At            time.Time
}

// DeviceStatusChanged is emitted for intake, maintenance edits and unassignment
type DeviceStatusChanged struct {
	Actor  Actor
	Device Device
	From   DeviceStatus
	To     DeviceStatus
	At     time.Time
}

func (e ApplicationSubmitted) EventType() string    { return "application.submitted" }
func (e ApplicationTransitioned) EventType() string { return "application.transitioned" }
func (e EligibilityChanged) EventType() string      { return "application.eligibility_changed" }
func (e DeviceAssignedEvent) EventType() string     { return "device.assigned" }
func (e DeviceStatusChanged) EventType() string     { return "device.status_changed" }

func (e ApplicationSubmitted) OccurredAt() time.Time    { return e.At }
func (e ApplicationTransitioned) OccurredAt() time.Time { return e.At }
func (e EligibilityChanged) OccurredAt() time.Time      { return e.At }
func (e DeviceAssignedEvent) OccurredAt() time.Time     { return e.At }
func (e DeviceStatusChanged) OccurredAt() time.Time     { return e.At }

// Package events delivers committed workflow events to the audit and
// notification collaborators. Delivery is fire-and-forget: failures are
// logged and never reach the operation that produced the event.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"rtb-inventory-api/internal/models"
)

// Publisher accepts events after the producing transaction has committed
type Publisher interface {
	Publish(ev models.Event)
}

// AuditEntry is the boundary shape handed to the audit collaborator.
// Changes is the only place typed events are flattened into a map.
type AuditEntry struct {
	Actor        models.Actor
	Action       string
	TargetEntity string
	TargetID     string
	Changes      map[string]any
	At           time.Time
}

// AuditSink records audit entries
type AuditSink interface {
	Record(ctx context.Context, e AuditEntry) error
}

// Notification is a message for a single user
type Notification struct {
	UserID    string
	Type      string
	Title     string
	Message   string
	ActionURL string
}

// Notifier delivers notifications
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// AuditEntryFor converts an event into its audit entry
func AuditEntryFor(ev models.Event) AuditEntry {
	switch e := ev.(type) {
	case models.ApplicationSubmitted:
		return AuditEntry{
			Actor:        e.Actor,
			Action:       e.EventType(),
			TargetEntity: "application",
			TargetID:     e.Application.ID,
			Changes: map[string]any{
				"status":    string(e.Application.Status),
				"school_id": e.Application.SchoolID,
				"requested": e.Application.Requested,
			},
			At: e.At,
		}
	case models.ApplicationTransitioned:
		changes := map[string]any{
			"from": string(e.From),
			"to":   string(e.To),
		}
		if e.Notes != nil {
			changes["notes"] = *e.Notes
		}
		if e.Application.IsEligible != nil {
			changes["is_eligible"] = *e.Application.IsEligible
		}
		if e.To == models.StatusAssigned {
			changes["assigned_devices"] = append([]string(nil), e.Application.AssignedDevices...)
		}
		return AuditEntry{
			Actor:        e.Actor,
			Action:       e.EventType(),
			TargetEntity: "application",
			TargetID:     e.Application.ID,
			Changes:      changes,
			At:           e.At,
		}
	case models.EligibilityChanged:
		changes := map[string]any{
			"is_eligible": e.IsEligible,
			"notes":       e.Notes,
		}
		if e.Previous != nil {
			changes["previous"] = *e.Previous
		}
		return AuditEntry{
			Actor:        e.Actor,
			Action:       e.EventType(),
			TargetEntity: "application",
			TargetID:     e.ApplicationID,
			Changes:      changes,
			At:           e.At,
		}
	case models.DeviceAssignedEvent:
		changes := map[string]any{
			"status": string(e.Device.Status),
		}
		if e.Device.SchoolID != nil {
			changes["school_id"] = *e.Device.SchoolID
		}
		if e.Device.AssetTag != nil {
			changes["asset_tag"] = *e.Device.AssetTag
		}
		if e.ApplicationID != "" {
			changes["application_id"] = e.ApplicationID
		}
		return AuditEntry{
			Actor:        e.Actor,
			Action:       e.EventType(),
			TargetEntity: "device",
			TargetID:     e.Device.ID,
			Changes:      changes,
			At:           e.At,
		}
	case models.DeviceStatusChanged:
		return AuditEntry{
			Actor:        e.Actor,
			Action:       e.EventType(),
			TargetEntity: "device",
			TargetID:     e.Device.ID,
			Changes: map[string]any{
				"from":          string(e.From),
				"to":            string(e.To),
				"serial_number": e.Device.SerialNumber,
			},
			At: e.At,
		}
	}
	return AuditEntry{Action: ev.EventType(), At: ev.OccurredAt()}
}

// NotificationsFor returns the notifications an event triggers: the
// requesting user hears about submission, review decisions and assignment,
// and the assigning staff member hears about receipt.
func NotificationsFor(ev models.Event) []Notification {
	switch e := ev.(type) {
	case models.ApplicationSubmitted:
		return []Notification{{
			UserID:    e.Application.RequestedBy,
			Type:      "application_submitted",
			Title:     "Application submitted",
			Message:   fmt.Sprintf("Your application for %d device(s) was received and is pending review.", e.Application.Requested.Total()),
			ActionURL: applicationURL(e.Application.ID),
		}}
	case models.ApplicationTransitioned:
		a := e.Application
		switch e.To {
		case models.StatusUnderReview, models.StatusApproved, models.StatusRejected:
			return []Notification{{
				UserID:    a.RequestedBy,
				Type:      "application_reviewed",
				Title:     "Application " + reviewWord(e.To),
				Message:   fmt.Sprintf("Your application is now %s.", e.To),
				ActionURL: applicationURL(a.ID),
			}}
		case models.StatusAssigned:
			return []Notification{{
				UserID:    a.RequestedBy,
				Type:      "devices_assigned",
				Title:     "Devices assigned",
				Message:   fmt.Sprintf("%d device(s) have been assigned to your school. Please confirm receipt on delivery.", len(a.AssignedDevices)),
				ActionURL: applicationURL(a.ID),
			}}
		case models.StatusReceived:
			if a.AssignedBy == nil {
				return nil
			}
			return []Notification{{
				UserID:    *a.AssignedBy,
				Type:      "receipt_confirmed",
				Title:     "Receipt confirmed",
				Message:   fmt.Sprintf("The school confirmed receipt of %d device(s).", len(a.AssignedDevices)),
				ActionURL: applicationURL(a.ID),
			}}
		}
	}
	return nil
}

func reviewWord(s models.ApplicationStatus) string {
	switch s {
	case models.StatusUnderReview:
		return "under review"
	case models.StatusApproved:
		return "approved"
	}
	return "rejected"
}

func applicationURL(id string) string {
	return "/applications/" + id
}

// LogAuditSink writes audit entries to a structured logger
type LogAuditSink struct {
	Logger *slog.Logger
}

func (s LogAuditSink) Record(ctx context.Context, e AuditEntry) error {
	s.Logger.InfoContext(ctx, "audit",
		"action", e.Action,
		"actor", e.Actor.UserID,
		"role", e.Actor.Role.String(),
		"entity", e.TargetEntity,
		"target_id", e.TargetID,
		"changes", e.Changes,
	)
	return nil
}

// LogNotifier writes notifications to a structured logger
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, msg Notification) error {
	n.Logger.InfoContext(ctx, "notification",
		"user_id", msg.UserID,
		"type", msg.Type,
		"title", msg.Title,
		"action_url", msg.ActionURL,
	)
	return nil
}

// Notifiers fans a notification out to several notifiers. Every notifier
// is tried; the first error is returned.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, msg Notification) error {
	var first error
	for _, n := range ns {
		if err := n.Notify(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}

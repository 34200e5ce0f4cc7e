package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"rtb-inventory-api/internal/models"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSink struct {
	mu      sync.Mutex
	entries []AuditEntry
	notes   []Notification
	fail    bool
}

func (r *recordingSink) Record(_ context.Context, e AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	if r.fail {
		return errors.New("sink down")
	}
	return nil
}

func (r *recordingSink) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	if r.fail {
		return errors.New("sink down")
	}
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleApp(status models.ApplicationStatus) models.DeviceApplication {
	staff := "staff-1"
	return models.DeviceApplication{
		ID:              "app-1",
		SchoolID:        "school-1",
		RequestedBy:     "head-1",
		Requested:       models.RequestedQuantities{Laptops: 2, Tablets: 1},
		Status:          status,
		AssignedDevices: []string{"d1", "d2", "d3"},
		AssignedBy:      &staff,
	}
}

func TestDispatcherDeliversInOrderAndDrainsOnClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, sink, quietLogger(), 16)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	d.Publish(models.ApplicationSubmitted{Application: sampleApp(models.StatusPending), At: at})
	d.Publish(models.ApplicationTransitioned{Application: sampleApp(models.StatusApproved), From: models.StatusPending, To: models.StatusApproved, At: at})
	d.Close()

	require.Len(t, sink.entries, 2)
	assert.Equal(t, "application.submitted", sink.entries[0].Action)
	assert.Equal(t, "application.transitioned", sink.entries[1].Action)
	require.Len(t, sink.notes, 2)
	assert.Equal(t, "application_submitted", sink.notes[0].Type)
	assert.Equal(t, "Application approved", sink.notes[1].Title)

	// publishing after close must not panic
	d.Publish(models.ApplicationSubmitted{})
	d.Close()
}

func TestDispatcherSurvivesSinkErrors(t *testing.T) {
	sink := &recordingSink{fail: true}
	d := NewDispatcher(sink, sink, quietLogger(), 4)
	d.Publish(models.DeviceAssignedEvent{Device: models.Device{ID: "d1"}})
	d.Publish(models.DeviceAssignedEvent{Device: models.Device{ID: "d2"}})
	d.Close()

	assert.Len(t, sink.entries, 2)
}

func TestAuditEntryForDeviceAssigned(t *testing.T) {
	school, tag := "school-1", "LAP/GAS/GSK01/0001"
	e := AuditEntryFor(models.DeviceAssignedEvent{
		Actor:         models.Actor{UserID: "staff-1", Role: models.RoleRTBStaff},
		Device:        models.Device{ID: "d1", Status: models.DeviceAssigned, SchoolID: &school, AssetTag: &tag},
		ApplicationID: "app-1",
	})

	assert.Equal(t, "device", e.TargetEntity)
	assert.Equal(t, "d1", e.TargetID)
	assert.Equal(t, "staff-1", e.Actor.UserID)
	assert.Equal(t, tag, e.Changes["asset_tag"])
	assert.Equal(t, "app-1", e.Changes["application_id"])
}

func TestNotificationsFor(t *testing.T) {
	tests := []struct {
		name   string
		event  models.Event
		userID string
		typ    string
	}{
		{"submitted", models.ApplicationSubmitted{Application: sampleApp(models.StatusPending)}, "head-1", "application_submitted"},
		{"rejected", models.ApplicationTransitioned{Application: sampleApp(models.StatusRejected), To: models.StatusRejected}, "head-1", "application_reviewed"},
		{"assigned", models.ApplicationTransitioned{Application: sampleApp(models.StatusAssigned), To: models.StatusAssigned}, "head-1", "devices_assigned"},
		{"received", models.ApplicationTransitioned{Application: sampleApp(models.StatusReceived), To: models.StatusReceived}, "staff-1", "receipt_confirmed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NotificationsFor(tt.event)
			require.Len(t, got, 1)
			assert.Equal(t, tt.userID, got[0].UserID)
			assert.Equal(t, tt.typ, got[0].Type)
			assert.Equal(t, "/applications/app-1", got[0].ActionURL)
		})
	}

	assert.Empty(t, NotificationsFor(models.ApplicationTransitioned{Application: sampleApp(models.StatusCancelled), To: models.StatusCancelled}))
	assert.Empty(t, NotificationsFor(models.DeviceAssignedEvent{}))
}

type fakePoster struct {
	channel string
	calls   int
	err     error
}

func (f *fakePoster) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	f.channel = channelID
	f.calls++
	return channelID, "1234.5678", f.err
}

func TestSlackNotifier(t *testing.T) {
	poster := &fakePoster{}
	n := &SlackNotifier{client: poster, channel: "#rtb-devices"}

	require.NoError(t, n.Notify(context.Background(), Notification{Title: "Devices assigned", Message: "3 device(s)"}))
	assert.Equal(t, "#rtb-devices", poster.channel)

	poster.err = errors.New("channel_not_found")
	err := Notifiers{LogNotifier{Logger: quietLogger()}, n}.Notify(context.Background(), Notification{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
	assert.Equal(t, 2, poster.calls)
}

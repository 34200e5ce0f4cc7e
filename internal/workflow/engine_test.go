package workflow

import (
	"fmt"
	"sync"
	"testing"

	"rtb-inventory-api/internal/apperr"
	"rtb-inventory-api/internal/assettag"
	"rtb-inventory-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentAssignSameDevice(t *testing.T) {
	f := newFixture(t)
	device := f.addDevices(t, models.CategoryLaptop, 1)[0]
	a := f.approved(t, models.RequestedQuantities{Laptops: 1})
	b := f.approved(t, models.RequestedQuantities{Laptops: 1})

	start := make(chan struct{})
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, id := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, appID string) {
			defer wg.Done()
			<-start
			_, errs[i] = f.ctl.Assign(f.ctx, f.staff, appID, models.AssignDevicesRequest{DeviceIDs: []string{device}})
		}(i, id)
	}
	close(start)
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.IsConflict(err):
			conflicts++
			assert.True(t, apperr.Retryable(err))
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	d, err := f.store.GetDevice(f.ctx, device)
	require.NoError(t, err)
	assert.Equal(t, models.DeviceAssigned, d.Status)
	assert.Equal(t, "LAP/GAS/GSK01/0001", *d.AssetTag)

	var holders int
	for _, id := range []string{a.ID, b.ID} {
		app, err := f.store.GetApplication(f.ctx, id)
		require.NoError(t, err)
		if len(app.AssignedDevices) > 0 {
			holders++
			assert.Equal(t, models.StatusAssigned, app.Status)
		} else {
			assert.Equal(t, models.StatusApproved, app.Status)
		}
	}
	assert.Equal(t, 1, holders)
	f.checkInvariants(t)
}

func TestQuantityCeiling(t *testing.T) {
	f := newFixture(t)
	ids := f.addDevices(t, models.CategoryLaptop, 3)
	app := f.approved(t, models.RequestedQuantities{Laptops: 2})

	_, err := f.ctl.Assign(f.ctx, f.staff, app.ID, models.AssignDevicesRequest{DeviceIDs: ids})
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)

	for _, id := range ids {
		d, err := f.store.GetDevice(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.DeviceAvailable, d.Status)
		assert.Nil(t, d.AssetTag)
	}
	got, err := f.store.GetApplication(f.ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
	assert.Empty(t, got.AssignedDevices)

	tablets := f.addDevices(t, models.CategoryTablet, 1)
	_, err = f.ctl.Assign(f.ctx, f.staff, app.ID, models.AssignDevicesRequest{DeviceIDs: []string{ids[0], tablets[0]}})
	require.ErrorAs(t, err, &verr, "tablets were not requested")

	res, err := f.ctl.Assign(f.ctx, f.staff, app.ID, models.AssignDevicesRequest{DeviceIDs: ids[:2]})
	require.NoError(t, err)
	assert.Equal(t, []string{"LAP/GAS/GSK01/0001", "LAP/GAS/GSK01/0002"}, res.Tags, "failed attempts consume no sequence numbers")
	assert.Len(t, f.events.ofType("device.assigned"), 2, "rejected attempts publish nothing")
}

func TestAssignIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ids := f.addDevices(t, models.CategoryLaptop, 3)
	app := f.approved(t, models.RequestedQuantities{Laptops: 3})

	_, err := f.ctl.UpdateDeviceStatus(f.ctx, f.staff, ids[2], models.UpdateDeviceStatusRequest{Status: models.DeviceMaintenance})
	require.NoError(t, err)

	_, err = f.ctl.Assign(f.ctx, f.staff, app.ID, models.AssignDevicesRequest{DeviceIDs: ids})
	assert.True(t, apperr.IsConflict(err), "got %v", err)

	_, err = f.ctl.Assign(f.ctx, f.staff, app.ID, models.AssignDevicesRequest{DeviceIDs: []string{ids[0], "missing"}})
	assert.True(t, apperr.IsNotFound(err))

	for _, id := range ids[:2] {
		d, err := f.store.GetDevice(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.DeviceAvailable, d.Status)
	}
	assert.Empty(t, f.events.ofType("device.assigned"))

	var verr *apperr.ValidationError
	_, err = f.ctl.Assign(f.ctx, f.staff, app.ID, models.AssignDevicesRequest{DeviceIDs: []string{ids[0], ids[0]}})
	assert.ErrorAs(t, err, &verr)
	_, err = f.ctl.Assign(f.ctx, f.staff, app.ID, models.AssignDevicesRequest{})
	assert.ErrorAs(t, err, &verr)
	f.checkInvariants(t)
}

func TestAssignIsOneShot(t *testing.T) {
	f := newFixture(t)
	ids := f.addDevices(t, models.CategoryDesktop, 2)
	app := f.approved(t, models.RequestedQuantities{Desktops: 2})

	_, err := f.ctl.Assign(f.ctx, f.staff, app.ID, models.AssignDevicesRequest{DeviceIDs: ids[:1]})
	require.NoError(t, err)

	var terr *apperr.InvalidTransitionError
	_, err = f.ctl.Assign(f.ctx, f.staff, app.ID, models.AssignDevicesRequest{DeviceIDs: ids[1:]})
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "Assigned", terr.From)

	pending := f.submit(t, models.RequestedQuantities{Desktops: 1})
	_, err = f.ctl.Assign(f.ctx, f.staff, pending.ID, models.AssignDevicesRequest{DeviceIDs: ids[1:]})
	require.ErrorAs(t, err, &terr)

	var ferr *apperr.ForbiddenError
	_, err = f.ctl.Assign(f.ctx, f.head, pending.ID, models.AssignDevicesRequest{DeviceIDs: ids[1:]})
	assert.ErrorAs(t, err, &ferr)
}

func TestThousandSequentialTags(t *testing.T) {
	f := newFixture(t)
	ids := f.addDevices(t, models.CategoryLaptop, 1000)

	seen := make(map[string]bool, len(ids))
	for i, id := range ids {
		res, err := f.ctl.Engine().AssignToSchool(f.ctx, f.staff, f.school.ID, []string{id})
		require.NoError(t, err)
		tag := res.Tags[0]
		require.False(t, seen[tag], "duplicate tag %s", tag)
		seen[tag] = true

		want := fmt.Sprintf("LAP/GAS/GSK01/%04d", i+1)
		require.Equal(t, want, tag)
		parsed, err := assettag.Parse(tag)
		require.NoError(t, err)
		require.Equal(t, i+1, parsed.Sequence)
	}
	assert.Len(t, seen, 1000)
	f.checkInvariants(t)
}

func TestConcurrentSequencesDoNotCollide(t *testing.T) {
	f := newFixture(t)
	ids := f.addDevices(t, models.CategoryTablet, 40)

	tags := make([]string, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			res, err := f.ctl.Engine().AssignToSchool(f.ctx, f.staff, f.school.ID, []string{id})
			if err == nil {
				tags[i] = res.Tags[0]
			}
		}(i, id)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, tag := range tags {
		require.NotEmpty(t, tag)
		require.False(t, seen[tag], "duplicate tag %s", tag)
		seen[tag] = true
	}
	for n := 1; n <= len(ids); n++ {
		assert.True(t, seen[fmt.Sprintf("TAB/GAS/GSK01/%04d", n)], "missing sequence %d", n)
	}
}

func TestUnassignNeverReusesTag(t *testing.T) {
	f := newFixture(t)
	id := f.addDevices(t, models.CategoryProjector, 1)[0]

	res, err := f.ctl.Engine().AssignToSchool(f.ctx, f.staff, f.school.ID, []string{id})
	require.NoError(t, err)
	assert.Equal(t, "PROJ/GAS/GSK01/0001", res.Tags[0])

	d, err := f.ctl.UnassignDevice(f.ctx, f.staff, id, "returned for repair")
	require.NoError(t, err)
	assert.Equal(t, models.DeviceAvailable, d.Status)
	assert.Nil(t, d.AssetTag)
	assert.Nil(t, d.SchoolID)

	var terr *apperr.InvalidTransitionError
	_, err = f.ctl.UnassignDevice(f.ctx, f.staff, id, "")
	assert.ErrorAs(t, err, &terr)

	res, err = f.ctl.Engine().AssignToSchool(f.ctx, f.staff, f.school.ID, []string{id})
	require.NoError(t, err)
	assert.Equal(t, "PROJ/GAS/GSK01/0002", res.Tags[0])
	f.checkInvariants(t)
}

func TestDeviceMaintenanceEdits(t *testing.T) {
	f := newFixture(t)
	ids := f.addDevices(t, models.CategoryLaptop, 2)
	var terr *apperr.InvalidTransitionError

	_, err := f.ctl.Engine().AssignToSchool(f.ctx, f.staff, f.school.ID, ids[:1])
	require.NoError(t, err)

	err = f.ctl.DeleteDevice(f.ctx, f.staff, ids[0])
	require.ErrorAs(t, err, &terr, "assigned devices cannot be deleted")

	d, err := f.ctl.UpdateDeviceStatus(f.ctx, f.staff, ids[0], models.UpdateDeviceStatusRequest{Status: models.DeviceMaintenance})
	require.NoError(t, err)
	assert.Equal(t, models.DeviceMaintenance, d.Status)
	assert.Nil(t, d.AssetTag, "leaving Assigned clears the tag")

	d, err = f.ctl.UpdateDeviceStatus(f.ctx, f.staff, ids[0], models.UpdateDeviceStatusRequest{Status: models.DeviceAvailable})
	require.NoError(t, err)
	assert.Equal(t, models.DeviceAvailable, d.Status)

	_, err = f.ctl.UpdateDeviceStatus(f.ctx, f.staff, ids[1], models.UpdateDeviceStatusRequest{Status: models.DeviceAvailable})
	assert.ErrorAs(t, err, &terr, "available to available is not an edit")

	_, err = f.ctl.UpdateDeviceStatus(f.ctx, f.staff, ids[1], models.UpdateDeviceStatusRequest{Status: models.DeviceWrittenOff})
	require.NoError(t, err)
	_, err = f.ctl.UpdateDeviceStatus(f.ctx, f.staff, ids[1], models.UpdateDeviceStatusRequest{Status: models.DeviceAvailable})
	assert.ErrorAs(t, err, &terr, "written off is final")

	var verr *apperr.ValidationError
	_, err = f.ctl.UpdateDeviceStatus(f.ctx, f.staff, ids[1], models.UpdateDeviceStatusRequest{Status: models.DeviceAssigned})
	assert.ErrorAs(t, err, &verr, "assignment only goes through the engine")

	require.NoError(t, f.ctl.DeleteDevice(f.ctx, f.staff, ids[1]))
	_, err = f.store.GetDevice(f.ctx, ids[1])
	assert.True(t, apperr.IsNotFound(err))
	f.checkInvariants(t)
}

func TestDevicesStayWithApplicationUntilReceived(t *testing.T) {
	f := newFixture(t)
	id := f.addDevices(t, models.CategoryLaptop, 1)[0]
	first := f.approved(t, models.RequestedQuantities{Laptops: 1})

	_, err := f.ctl.Assign(f.ctx, f.staff, first.ID, models.AssignDevicesRequest{DeviceIDs: []string{id}})
	require.NoError(t, err)

	var terr *apperr.InvalidTransitionError
	_, err = f.ctl.UnassignDevice(f.ctx, f.staff, id, "")
	require.ErrorAs(t, err, &terr, "devices in transit cannot be released")
	assert.Equal(t, "Assigned", terr.From)
	_, err = f.ctl.UpdateDeviceStatus(f.ctx, f.staff, id, models.UpdateDeviceStatusRequest{Status: models.DeviceMaintenance})
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "Maintenance", terr.To)
	f.checkInvariants(t)

	_, err = f.ctl.ConfirmReceipt(f.ctx, f.head, first.ID, models.ConfirmReceiptRequest{})
	require.NoError(t, err)
	d, err := f.ctl.UnassignDevice(f.ctx, f.staff, id, "returned after term")
	require.NoError(t, err)
	assert.Equal(t, models.DeviceAvailable, d.Status)

	second := f.approved(t, models.RequestedQuantities{Laptops: 1})
	res, err := f.ctl.Assign(f.ctx, f.staff, second.ID, models.AssignDevicesRequest{DeviceIDs: []string{id}})
	require.NoError(t, err)
	assert.Equal(t, "LAP/GAS/GSK01/0002", res.Tags[0])
	f.checkInvariants(t)
}

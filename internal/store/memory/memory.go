// Package memory is an in-process Store. RunInTx runs against a copy of
// the state that replaces the live state only when the transaction
// function succeeds, so transactions are serialized and all-or-nothing.
// The copy is of the whole state, so a transaction costs time linear in
// the inventory size. Single writes outside RunInTx skip the copy.
package memory

import (
	"context"
	"slices"
	"sync"

	"rtb-inventory-api/internal/apperr"
	"rtb-inventory-api/internal/models"
	"rtb-inventory-api/internal/store"
)

type seqKey struct {
	schoolID string
	category models.DeviceCategory
}

type state struct {
	devices     map[string]models.Device
	deviceOrder []string
	serials     map[string]string

	schools     map[string]models.School
	schoolOrder []string
	schoolCodes map[string]string

	apps     map[string]models.DeviceApplication
	appOrder []string
	history  map[string][]models.StatusChange

	sequences map[seqKey]int
}

func newState() *state {
	return &state{
		devices:     map[string]models.Device{},
		serials:     map[string]string{},
		schools:     map[string]models.School{},
		schoolCodes: map[string]string{},
		apps:        map[string]models.DeviceApplication{},
		history:     map[string][]models.StatusChange{},
		sequences:   map[seqKey]int{},
	}
}

func (s *state) clone() *state {
	out := &state{
		devices:     make(map[string]models.Device, len(s.devices)),
		deviceOrder: append([]string(nil), s.deviceOrder...),
		serials:     make(map[string]string, len(s.serials)),
		schools:     make(map[string]models.School, len(s.schools)),
		schoolOrder: append([]string(nil), s.schoolOrder...),
		schoolCodes: make(map[string]string, len(s.schoolCodes)),
		apps:        make(map[string]models.DeviceApplication, len(s.apps)),
		appOrder:    append([]string(nil), s.appOrder...),
		history:     make(map[string][]models.StatusChange, len(s.history)),
		sequences:   make(map[seqKey]int, len(s.sequences)),
	}
	for k, v := range s.devices {
		out.devices[k] = v.Clone()
	}
	for k, v := range s.serials {
		out.serials[k] = v
	}
	for k, v := range s.schools {
		out.schools[k] = v
	}
	for k, v := range s.schoolCodes {
		out.schoolCodes[k] = v
	}
	for k, v := range s.apps {
		out.apps[k] = v.Clone()
	}
	for k, v := range s.history {
		out.history[k] = append([]models.StatusChange(nil), v...)
	}
	for k, v := range s.sequences {
		out.sequences[k] = v
	}
	return out
}

// Store is a mutex guarded in-memory implementation of store.Store
type Store struct {
	mu sync.RWMutex
	st *state
}

var _ store.Store = (*Store)(nil)

// New returns an empty store
func New() *Store {
	return &Store{st: newState()}
}

// RunInTx runs fn against a private copy of the state and publishes the
// copy if fn returns nil.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) read() *tx {
	return &tx{st: s.st}
}

// write applies one tx method to the live state. Every tx method checks
// before it mutates, so a failed call leaves the state untouched.
func (s *Store) write(ctx context.Context, fn func(t store.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&tx{st: s.st})
}

// Close is a no-op
func (s *Store) Close() error { return nil }

func (s *Store) CreateDevice(ctx context.Context, d *models.Device) error {
	return s.write(ctx, func(t store.Store) error { return t.CreateDevice(ctx, d) })
}

func (s *Store) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetDevice(ctx, id)
}

func (s *Store) GetDeviceBySerial(ctx context.Context, serial string) (*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetDeviceBySerial(ctx, serial)
}

func (s *Store) ListDevices(ctx context.Context, f store.DeviceFilter) ([]models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListDevices(ctx, f)
}

func (s *Store) LockDevices(ctx context.Context, ids []string) ([]models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().LockDevices(ctx, ids)
}

func (s *Store) UpdateDevice(ctx context.Context, d *models.Device) error {
	return s.write(ctx, func(t store.Store) error { return t.UpdateDevice(ctx, d) })
}

func (s *Store) ClaimDevice(ctx context.Context, d *models.Device) error {
	return s.write(ctx, func(t store.Store) error { return t.ClaimDevice(ctx, d) })
}

func (s *Store) DeleteDevice(ctx context.Context, id string) error {
	return s.write(ctx, func(t store.Store) error { return t.DeleteDevice(ctx, id) })
}

func (s *Store) CreateApplication(ctx context.Context, a *models.DeviceApplication) error {
	return s.write(ctx, func(t store.Store) error { return t.CreateApplication(ctx, a) })
}

func (s *Store) GetApplication(ctx context.Context, id string) (*models.DeviceApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetApplication(ctx, id)
}

func (s *Store) LockApplication(ctx context.Context, id string) (*models.DeviceApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().LockApplication(ctx, id)
}

func (s *Store) ListApplications(ctx context.Context, f store.ApplicationFilter) ([]models.DeviceApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListApplications(ctx, f)
}

func (s *Store) UpdateApplication(ctx context.Context, a *models.DeviceApplication) error {
	return s.write(ctx, func(t store.Store) error { return t.UpdateApplication(ctx, a) })
}

func (s *Store) AppendStatusChange(ctx context.Context, c models.StatusChange) error {
	return s.write(ctx, func(t store.Store) error { return t.AppendStatusChange(ctx, c) })
}

func (s *Store) ListStatusChanges(ctx context.Context, applicationID string) ([]models.StatusChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListStatusChanges(ctx, applicationID)
}

func (s *Store) CreateSchool(ctx context.Context, sc *models.School) error {
	return s.write(ctx, func(t store.Store) error { return t.CreateSchool(ctx, sc) })
}

func (s *Store) GetSchool(ctx context.Context, id string) (*models.School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetSchool(ctx, id)
}

func (s *Store) GetSchoolByCode(ctx context.Context, code string) (*models.School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetSchoolByCode(ctx, code)
}

func (s *Store) ListSchools(ctx context.Context) ([]models.School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListSchools(ctx)
}

func (s *Store) NextTagSequence(ctx context.Context, schoolID string, category models.DeviceCategory) (int, error) {
	var n int
	err := s.write(ctx, func(t store.Store) error {
		var err error
		n, err = t.NextTagSequence(ctx, schoolID, category)
		return err
	})
	return n, err
}

// tx operates on a state owned by the caller. Methods never lock.
type tx struct {
	st *state
}

func (t *tx) RunInTx(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

func (t *tx) Close() error { return nil }

func (t *tx) CreateDevice(_ context.Context, d *models.Device) error {
	if _, ok := t.st.devices[d.ID]; ok {
		return apperr.Conflict("device", d.ID, "id already exists")
	}
	if _, ok := t.st.serials[d.SerialNumber]; ok {
		return apperr.Conflict("device", d.SerialNumber, "serial number already registered")
	}
	t.st.devices[d.ID] = d.Clone()
	t.st.serials[d.SerialNumber] = d.ID
	t.st.deviceOrder = append(t.st.deviceOrder, d.ID)
	return nil
}

func (t *tx) GetDevice(_ context.Context, id string) (*models.Device, error) {
	d, ok := t.st.devices[id]
	if !ok {
		return nil, apperr.NotFound("device", id)
	}
	out := d.Clone()
	return &out, nil
}

func (t *tx) GetDeviceBySerial(ctx context.Context, serial string) (*models.Device, error) {
	id, ok := t.st.serials[serial]
	if !ok {
		return nil, apperr.NotFound("device", serial)
	}
	return t.GetDevice(ctx, id)
}

func (t *tx) ListDevices(_ context.Context, f store.DeviceFilter) ([]models.Device, error) {
	out := []models.Device{}
	skipped := 0
	for _, id := range t.st.deviceOrder {
		d := t.st.devices[id]
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.Category != "" && d.Category != f.Category {
			continue
		}
		if f.SchoolID != "" && (d.SchoolID == nil || *d.SchoolID != f.SchoolID) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, d.Clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (t *tx) LockDevices(ctx context.Context, ids []string) ([]models.Device, error) {
	out := make([]models.Device, 0, len(ids))
	for _, id := range ids {
		d, err := t.GetDevice(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func (t *tx) UpdateDevice(_ context.Context, d *models.Device) error {
	cur, ok := t.st.devices[d.ID]
	if !ok {
		return apperr.NotFound("device", d.ID)
	}
	if cur.SerialNumber != d.SerialNumber {
		return apperr.Validation("serial_number", "serial number is immutable")
	}
	t.st.devices[d.ID] = d.Clone()
	return nil
}

func (t *tx) ClaimDevice(ctx context.Context, d *models.Device) error {
	cur, ok := t.st.devices[d.ID]
	if !ok {
		return apperr.NotFound("device", d.ID)
	}
	if cur.Status != models.DeviceAvailable {
		return apperr.Conflict("device", d.ID, "no longer available (status %s)", cur.Status)
	}
	return t.UpdateDevice(ctx, d)
}

func (t *tx) DeleteDevice(_ context.Context, id string) error {
	d, ok := t.st.devices[id]
	if !ok {
		return apperr.NotFound("device", id)
	}
	delete(t.st.devices, id)
	delete(t.st.serials, d.SerialNumber)
	t.st.deviceOrder = removeID(t.st.deviceOrder, id)
	return nil
}

func (t *tx) CreateApplication(_ context.Context, a *models.DeviceApplication) error {
	if _, ok := t.st.apps[a.ID]; ok {
		return apperr.Conflict("application", a.ID, "id already exists")
	}
	t.st.apps[a.ID] = a.Clone()
	t.st.appOrder = append(t.st.appOrder, a.ID)
	return nil
}

func (t *tx) GetApplication(_ context.Context, id string) (*models.DeviceApplication, error) {
	a, ok := t.st.apps[id]
	if !ok {
		return nil, apperr.NotFound("application", id)
	}
	out := a.Clone()
	return &out, nil
}

func (t *tx) LockApplication(ctx context.Context, id string) (*models.DeviceApplication, error) {
	return t.GetApplication(ctx, id)
}

func (t *tx) ListApplications(_ context.Context, f store.ApplicationFilter) ([]models.DeviceApplication, error) {
	out := []models.DeviceApplication{}
	skipped := 0
	for _, id := range t.st.appOrder {
		a := t.st.apps[id]
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.SchoolID != "" && a.SchoolID != f.SchoolID {
			continue
		}
		if f.DeviceID != "" && !slices.Contains(a.AssignedDevices, f.DeviceID) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, a.Clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (t *tx) UpdateApplication(_ context.Context, a *models.DeviceApplication) error {
	if _, ok := t.st.apps[a.ID]; !ok {
		return apperr.NotFound("application", a.ID)
	}
	t.st.apps[a.ID] = a.Clone()
	return nil
}

func (t *tx) AppendStatusChange(_ context.Context, c models.StatusChange) error {
	if _, ok := t.st.apps[c.ApplicationID]; !ok {
		return apperr.NotFound("application", c.ApplicationID)
	}
	t.st.history[c.ApplicationID] = append(t.st.history[c.ApplicationID], c)
	return nil
}

func (t *tx) ListStatusChanges(_ context.Context, applicationID string) ([]models.StatusChange, error) {
	if _, ok := t.st.apps[applicationID]; !ok {
		return nil, apperr.NotFound("application", applicationID)
	}
	return append([]models.StatusChange{}, t.st.history[applicationID]...), nil
}

func (t *tx) CreateSchool(_ context.Context, s *models.School) error {
	if _, ok := t.st.schools[s.ID]; ok {
		return apperr.Conflict("school", s.ID, "id already exists")
	}
	if _, ok := t.st.schoolCodes[s.Code]; ok {
		return apperr.Conflict("school", s.Code, "school code already registered")
	}
	t.st.schools[s.ID] = *s
	t.st.schoolCodes[s.Code] = s.ID
	t.st.schoolOrder = append(t.st.schoolOrder, s.ID)
	return nil
}

func (t *tx) GetSchool(_ context.Context, id string) (*models.School, error) {
	s, ok := t.st.schools[id]
	if !ok {
		return nil, apperr.NotFound("school", id)
	}
	return &s, nil
}

func (t *tx) GetSchoolByCode(ctx context.Context, code string) (*models.School, error) {
	id, ok := t.st.schoolCodes[code]
	if !ok {
		return nil, apperr.NotFound("school", code)
	}
	return t.GetSchool(ctx, id)
}

func (t *tx) ListSchools(_ context.Context) ([]models.School, error) {
	out := make([]models.School, 0, len(t.st.schoolOrder))
	for _, id := range t.st.schoolOrder {
		out = append(out, t.st.schools[id])
	}
	return out, nil
}

func (t *tx) NextTagSequence(_ context.Context, schoolID string, category models.DeviceCategory) (int, error) {
	k := seqKey{schoolID: schoolID, category: category}
	t.st.sequences[k]++
	return t.st.sequences[k], nil
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

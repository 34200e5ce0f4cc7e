// Package postgres implements store.Store on PostgreSQL through
// database/sql and the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"rtb-inventory-api/internal/apperr"
	"rtb-inventory-api/internal/models"
	"rtb-inventory-api/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
)

// SQLSTATE codes mapped onto the error taxonomy
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeLockNotAvailable     = "55P03"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeInvalidText          = "22P02"
)

// DefaultLockTimeout bounds how long a transaction waits on a row lock
// before the operation fails with a ConflictError.
const DefaultLockTimeout = 2 * time.Second

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a PostgreSQL backed store.Store
type Store struct {
	*conn
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn with the pgx driver and pings the server. A zero
// lockTimeout selects DefaultLockTimeout.
func Open(ctx context.Context, dsn string, lockTimeout time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if lockTimeout == 0 {
		lockTimeout = DefaultLockTimeout
	}
	return New(db, lockTimeout), nil
}

// New wraps an existing pool
func New(db *sql.DB, lockTimeout time.Duration) *Store {
	return &Store{
		conn: &conn{q: db, lockTimeout: lockTimeout},
		db:   db,
	}
}

// DB exposes the underlying pool
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the pool
func (s *Store) Close() error { return s.db.Close() }

// RunInTx runs fn inside a READ COMMITTED transaction with a bounded lock
// wait. Row locks are taken explicitly by LockDevices and LockApplication.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			sqlTx.Rollback()
		}
	}()

	if s.lockTimeout > 0 {
		ms := s.lockTimeout.Milliseconds()
		if _, err := sqlTx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms)); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err := fn(&txStore{conn: &conn{q: sqlTx, lockTimeout: s.lockTimeout}}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapErr("transaction", "", err)
	}
	committed = true
	return nil
}

type txStore struct {
	*conn
}

func (t *txStore) RunInTx(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

func (t *txStore) Close() error { return nil }

type conn struct {
	q           querier
	lockTimeout time.Duration
}

const deviceColumns = `id, serial_number, category, brand, model, condition, status, school_id, asset_tag, notes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(r rowScanner) (*models.Device, error) {
	var d models.Device
	var schoolID, tag, notes sql.NullString
	if err := r.Scan(&d.ID, &d.SerialNumber, &d.Category, &d.Brand, &d.Model, &d.Condition, &d.Status,
		&schoolID, &tag, &notes, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.SchoolID = nullable(schoolID)
	d.AssetTag = nullable(tag)
	d.Notes = nullable(notes)
	return &d, nil
}

func (c *conn) CreateDevice(ctx context.Context, d *models.Device) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.SerialNumber, d.Category, d.Brand, d.Model, d.Condition, d.Status,
		d.SchoolID, d.AssetTag, d.Notes, d.CreatedAt, d.UpdatedAt)
	return mapErr("device", d.SerialNumber, err)
}

func (c *conn) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	d, err := scanDevice(c.q.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr("device", id, err)
	}
	return d, nil
}

func (c *conn) GetDeviceBySerial(ctx context.Context, serial string) (*models.Device, error) {
	d, err := scanDevice(c.q.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE serial_number = $1`, serial))
	if err != nil {
		return nil, mapErr("device", serial, err)
	}
	return d, nil
}

func (c *conn) ListDevices(ctx context.Context, f store.DeviceFilter) ([]models.Device, error) {
	clauses := []string{}
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		clauses = append(clauses, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.SchoolID != "" {
		args = append(args, f.SchoolID)
		clauses = append(clauses, fmt.Sprintf("school_id = $%d", len(args)))
	}

	sqlStr := `SELECT ` + deviceColumns + ` FROM devices`
	if len(clauses) > 0 {
		sqlStr += " WHERE " + strings.Join(clauses, " AND ")
	}
	sqlStr += " ORDER BY created_at ASC, id ASC" + limitOffset(f.Limit, f.Offset)

	rows, err := c.q.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	out := []models.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// LockDevices takes FOR UPDATE NOWAIT row locks in id order so two
// assignments touching overlapping sets cannot deadlock; a held lock fails
// fast as a ConflictError.
func (c *conn) LockDevices(ctx context.Context, ids []string) ([]models.Device, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+deviceColumns+` FROM devices
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE NOWAIT`, pq.Array(ids))
	if err != nil {
		return nil, mapErr("device", "", err)
	}
	defer rows.Close()

	byID := make(map[string]models.Device, len(ids))
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		byID[d.ID] = *d
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("device", "", err)
	}

	out := make([]models.Device, 0, len(ids))
	for _, id := range ids {
		d, ok := byID[id]
		if !ok {
			return nil, apperr.NotFound("device", id)
		}
		out = append(out, d)
	}
	return out, nil
}

func (c *conn) UpdateDevice(ctx context.Context, d *models.Device) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE devices
		SET serial_number = $10, brand = $2, model = $3, condition = $4, status = $5,
		    school_id = $6, asset_tag = $7, notes = $8, updated_at = $9
		WHERE id = $1`,
		d.ID, d.Brand, d.Model, d.Condition, d.Status, d.SchoolID, d.AssetTag, d.Notes, d.UpdatedAt, d.SerialNumber)
	if err != nil {
		return mapErr("device", d.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("device", d.ID)
	}
	return nil
}

// ClaimDevice guards the write on the stored status so a claim fails even
// if the caller skipped LockDevices.
func (c *conn) ClaimDevice(ctx context.Context, d *models.Device) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE devices
		SET status = $2, school_id = $3, asset_tag = $4, notes = $5, updated_at = $6
		WHERE id = $1 AND status = 'Available'`,
		d.ID, d.Status, d.SchoolID, d.AssetTag, d.Notes, d.UpdatedAt)
	if err != nil {
		return mapErr("device", d.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := c.GetDevice(ctx, d.ID); err != nil {
			return err
		}
		return apperr.Conflict("device", d.ID, "no longer available")
	}
	return nil
}

func (c *conn) DeleteDevice(ctx context.Context, id string) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return mapErr("device", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("device", id)
	}
	return nil
}

const applicationColumns = `id, school_id, requested_by, requested_laptops, requested_desktops, requested_tablets,
	requested_projectors, requested_others, purpose, justification, letter_ref, status, is_eligible,
	eligibility_notes, review_notes, reviewed_by, reviewed_at, assigned_devices, assigned_by, assigned_at,
	confirmed_at, confirmation_notes, cancelled_at, created_at, updated_at`

func scanApplication(r rowScanner) (*models.DeviceApplication, error) {
	var a models.DeviceApplication
	var justification, eligNotes, reviewNotes, reviewedBy, assignedBy, confNotes sql.NullString
	var eligible sql.NullBool
	var reviewedAt, assignedAt, confirmedAt, cancelledAt sql.NullTime
	var devices pq.StringArray
	if err := r.Scan(&a.ID, &a.SchoolID, &a.RequestedBy,
		&a.Requested.Laptops, &a.Requested.Desktops, &a.Requested.Tablets, &a.Requested.Projectors, &a.Requested.Others,
		&a.Purpose, &justification, &a.LetterRef, &a.Status, &eligible,
		&eligNotes, &reviewNotes, &reviewedBy, &reviewedAt, &devices, &assignedBy, &assignedAt,
		&confirmedAt, &confNotes, &cancelledAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Justification = nullable(justification)
	a.EligibilityNotes = nullable(eligNotes)
	a.ReviewNotes = nullable(reviewNotes)
	a.ReviewedBy = nullable(reviewedBy)
	a.AssignedBy = nullable(assignedBy)
	a.ConfirmationNotes = nullable(confNotes)
	if eligible.Valid {
		v := eligible.Bool
		a.IsEligible = &v
	}
	a.ReviewedAt = nullableTime(reviewedAt)
	a.AssignedAt = nullableTime(assignedAt)
	a.ConfirmedAt = nullableTime(confirmedAt)
	a.CancelledAt = nullableTime(cancelledAt)
	if len(devices) > 0 {
		a.AssignedDevices = []string(devices)
	}
	return &a, nil
}

func (c *conn) CreateApplication(ctx context.Context, a *models.DeviceApplication) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO applications (id, school_id, requested_by, requested_laptops, requested_desktops,
			requested_tablets, requested_projectors, requested_others, purpose, justification, letter_ref,
			status, is_eligible, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		a.ID, a.SchoolID, a.RequestedBy, a.Requested.Laptops, a.Requested.Desktops, a.Requested.Tablets,
		a.Requested.Projectors, a.Requested.Others, a.Purpose, a.Justification, a.LetterRef,
		a.Status, a.IsEligible, a.CreatedAt, a.UpdatedAt)
	return mapErr("application", a.ID, err)
}

func (c *conn) GetApplication(ctx context.Context, id string) (*models.DeviceApplication, error) {
	a, err := scanApplication(c.q.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr("application", id, err)
	}
	return a, nil
}

func (c *conn) LockApplication(ctx context.Context, id string) (*models.DeviceApplication, error) {
	a, err := scanApplication(c.q.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1 FOR UPDATE NOWAIT`, id))
	if err != nil {
		return nil, mapErr("application", id, err)
	}
	return a, nil
}

func (c *conn) ListApplications(ctx context.Context, f store.ApplicationFilter) ([]models.DeviceApplication, error) {
	clauses := []string{}
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.SchoolID != "" {
		args = append(args, f.SchoolID)
		clauses = append(clauses, fmt.Sprintf("school_id = $%d", len(args)))
	}
	if f.DeviceID != "" {
		args = append(args, f.DeviceID)
		clauses = append(clauses, fmt.Sprintf("$%d = ANY(assigned_devices)", len(args)))
	}
	sqlStr := `SELECT ` + applicationColumns + ` FROM applications`
	if len(clauses) > 0 {
		sqlStr += " WHERE " + strings.Join(clauses, " AND ")
	}
	sqlStr += " ORDER BY created_at ASC, id ASC" + limitOffset(f.Limit, f.Offset)

	rows, err := c.q.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	out := []models.DeviceApplication{}
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (c *conn) UpdateApplication(ctx context.Context, a *models.DeviceApplication) error {
	devices := a.AssignedDevices
	if devices == nil {
		devices = []string{}
	}
	res, err := c.q.ExecContext(ctx, `
		UPDATE applications
		SET status = $2, is_eligible = $3, eligibility_notes = $4, review_notes = $5, reviewed_by = $6,
		    reviewed_at = $7, assigned_devices = $8, assigned_by = $9, assigned_at = $10,
		    confirmed_at = $11, confirmation_notes = $12, cancelled_at = $13, updated_at = $14
		WHERE id = $1`,
		a.ID, a.Status, a.IsEligible, a.EligibilityNotes, a.ReviewNotes, a.ReviewedBy,
		a.ReviewedAt, pq.Array(devices), a.AssignedBy, a.AssignedAt,
		a.ConfirmedAt, a.ConfirmationNotes, a.CancelledAt, a.UpdatedAt)
	if err != nil {
		return mapErr("application", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("application", a.ID)
	}
	return nil
}

func (c *conn) AppendStatusChange(ctx context.Context, ch models.StatusChange) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO application_status_changes (application_id, from_status, to_status, actor_id, notes, at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ch.ApplicationID, ch.From, ch.To, ch.ActorID, ch.Notes, ch.At)
	return mapErr("application", ch.ApplicationID, err)
}

func (c *conn) ListStatusChanges(ctx context.Context, applicationID string) ([]models.StatusChange, error) {
	if _, err := c.GetApplication(ctx, applicationID); err != nil {
		return nil, err
	}
	rows, err := c.q.QueryContext(ctx, `
		SELECT application_id, from_status, to_status, actor_id, notes, at
		FROM application_status_changes
		WHERE application_id = $1
		ORDER BY id ASC`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list status changes: %w", err)
	}
	defer rows.Close()

	out := []models.StatusChange{}
	for rows.Next() {
		var ch models.StatusChange
		var notes sql.NullString
		if err := rows.Scan(&ch.ApplicationID, &ch.From, &ch.To, &ch.ActorID, &notes, &ch.At); err != nil {
			return nil, fmt.Errorf("scan status change: %w", err)
		}
		ch.Notes = nullable(notes)
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (c *conn) CreateSchool(ctx context.Context, s *models.School) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO schools (id, name, code, district, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.Name, s.Code, s.District, s.CreatedAt)
	return mapErr("school", s.Code, err)
}

func (c *conn) GetSchool(ctx context.Context, id string) (*models.School, error) {
	var s models.School
	err := c.q.QueryRowContext(ctx, `SELECT id, name, code, district, created_at FROM schools WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.Code, &s.District, &s.CreatedAt)
	if err != nil {
		return nil, mapErr("school", id, err)
	}
	return &s, nil
}

func (c *conn) GetSchoolByCode(ctx context.Context, code string) (*models.School, error) {
	var s models.School
	err := c.q.QueryRowContext(ctx, `SELECT id, name, code, district, created_at FROM schools WHERE code = $1`, code).
		Scan(&s.ID, &s.Name, &s.Code, &s.District, &s.CreatedAt)
	if err != nil {
		return nil, mapErr("school", code, err)
	}
	return &s, nil
}

func (c *conn) ListSchools(ctx context.Context) ([]models.School, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT id, name, code, district, created_at FROM schools ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list schools: %w", err)
	}
	defer rows.Close()

	out := []models.School{}
	for rows.Next() {
		var s models.School
		if err := rows.Scan(&s.ID, &s.Name, &s.Code, &s.District, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan school: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// NextTagSequence increments the (school, category) counter with an upsert.
// The row lock taken by the upsert serializes concurrent callers until the
// enclosing transaction ends.
func (c *conn) NextTagSequence(ctx context.Context, schoolID string, category models.DeviceCategory) (int, error) {
	var n int
	err := c.q.QueryRowContext(ctx, `
		INSERT INTO tag_sequences (school_id, category, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (school_id, category)
		DO UPDATE SET last_value = tag_sequences.last_value + 1
		RETURNING last_value`, schoolID, category).Scan(&n)
	if err != nil {
		return 0, mapErr("tag sequence", schoolID+"/"+string(category), err)
	}
	return n, nil
}

func mapErr(entity, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(entity, id)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return apperr.Conflict(entity, id, "already exists (%s)", pgErr.ConstraintName)
		case codeLockNotAvailable:
			return apperr.Conflict(entity, id, "locked by a concurrent operation")
		case codeSerializationFailure, codeDeadlockDetected:
			return apperr.Conflict(entity, id, "concurrent update, retry")
		case codeInvalidText:
			return apperr.NotFound(entity, id)
		case codeForeignKeyViolation:
			return apperr.Validation(pgErr.ConstraintName, "references a missing record")
		case codeCheckViolation:
			return apperr.Validation(pgErr.ConstraintName, "%s", pgErr.Message)
		}
	}
	return fmt.Errorf("%s %s: %w", entity, id, err)
}

func limitOffset(limit, offset int) string {
	s := ""
	if limit > 0 {
		s += fmt.Sprintf(" LIMIT %d", limit)
	}
	if offset > 0 {
		s += fmt.Sprintf(" OFFSET %d", offset)
	}
	return s
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

/*
Package sqlite provides a SQLite-backed implementation of the attendance collaborators.

PURPOSE:
  Implements attendance.RecordStore, attendance.RecordLister and
  attendance.PolicyProvider on one database, so a single *Store can be handed
  to attendance.NewLedger for both roles.

INTERFACES IMPLEMENTED:
  attendance.RecordStore:    One record per employee per calendar day
  attendance.RecordLister:   Date-range history queries
  attendance.PolicyProvider: Store settings, parsed from JSON on every read

KEY TABLES:
  attendance_records: One row per (employee_id, work_date)
  store_settings:     One JSON settings document per store (versioned)

INDEXES:
  - idx_unique_employee_day: Enforces one record per employee per day. This is
    what protects several ledger processes writing the same database.
  - idx_records_store_date: Per-store daily views

CONDITIONAL UPDATES:
  Update reads, checks ExpectStatus and writes inside one SQL transaction, and
  the UPDATE itself is guarded by "AND status = ?". A concurrent clock-out that
  already completed the record makes the second one fail with
  attendance.ErrStatusConflict.

TIME STORAGE:
  Instants are stored as RFC3339Nano in UTC. Work dates are stored as
  YYYY-MM-DD strings so they sort and compare lexically.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety within a process. WAL mode plus a busy
  timeout handles other processes.

USAGE:
  store, err := sqlite.New("./data/attendance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := attendance.NewLedger(store, store)

SEE ALSO:
  - attendance/store.go: Interface definitions
  - attendance/store/memory.go: In-memory implementation for testing
  - factory/settings.go: Settings document schema
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/punch-engine/attendance"
	"github.com/warp/punch-engine/factory"
	"github.com/warp/punch-engine/geo"
)

// Store implements the attendance storage interfaces using SQLite.
type Store struct {
	db       *sql.DB
	mu       sync.RWMutex
	settings *factory.SettingsFactory
}

var (
	_ attendance.RecordStore    = (*Store)(nil)
	_ attendance.RecordLister   = (*Store)(nil)
	_ attendance.PolicyProvider = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise open its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, settings: factory.NewSettingsFactory()}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Attendance records (one per employee per calendar day)
	CREATE TABLE IF NOT EXISTS attendance_records (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		store_id TEXT NOT NULL,
		work_date TEXT NOT NULL,
		clock_in_time TEXT,
		clock_out_time TEXT,
		manual_break_minutes INTEGER NOT NULL DEFAULT 0,
		total_break_minutes INTEGER NOT NULL DEFAULT 0,
		total_work_minutes INTEGER NOT NULL DEFAULT 0,
		overtime_minutes INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		clock_in_check_json TEXT,
		clock_out_check_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: an employee has at most one record per calendar day
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_employee_day
		ON attendance_records(employee_id, work_date);

	CREATE INDEX IF NOT EXISTS idx_records_store_date
		ON attendance_records(store_id, work_date);

	-- Store settings (geofence + attendance policy as JSON)
	CREATE TABLE IF NOT EXISTS store_settings (
		store_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		config_json TEXT NOT NULL,
		version INTEGER DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RECORD STORE (attendance.RecordStore interface)
// =============================================================================

const recordColumns = `id, employee_id, store_id, work_date, clock_in_time, clock_out_time,
	manual_break_minutes, total_break_minutes, total_work_minutes, overtime_minutes, status,
	clock_in_check_json, clock_out_check_json, created_at, updated_at`

// FindRecord returns the employee's record for date in any status.
func (s *Store) FindRecord(ctx context.Context, employeeID attendance.EmployeeID, date attendance.WorkDate) (*attendance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryOne(ctx, s.db,
		"SELECT "+recordColumns+" FROM attendance_records WHERE employee_id = ? AND work_date = ?",
		employeeID, date.String(),
	)
}

// Create inserts a record. The unique index turns a second record for the
// same (employee, date) into attendance.ErrRecordExists.
func (s *Store) Create(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inCheck, err := encodeCheck(rec.ClockInCheck)
	if err != nil {
		return attendance.Record{}, err
	}
	outCheck, err := encodeCheck(rec.ClockOutCheck)
	if err != nil {
		return attendance.Record{}, err
	}

	query := `
		INSERT INTO attendance_records
		(id, employee_id, store_id, work_date, clock_in_time, clock_out_time,
		 manual_break_minutes, total_break_minutes, total_work_minutes, overtime_minutes, status,
		 clock_in_check_json, clock_out_check_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.EmployeeID,
		rec.StoreID,
		rec.Date.String(),
		nullTime(rec.ClockInTime),
		nullTime(rec.ClockOutTime),
		rec.ManualBreakMinutes,
		rec.TotalBreakMinutes,
		rec.TotalWorkMinutes,
		rec.OvertimeMinutes,
		rec.Status,
		inCheck,
		outCheck,
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
	)
	if err != nil {
		if isEmployeeDayConflict(err) {
			return attendance.Record{}, attendance.ErrRecordExists
		}
		return attendance.Record{}, fmt.Errorf("failed to insert attendance record: %w", err)
	}

	created, err := s.queryOne(ctx, s.db, "SELECT "+recordColumns+" FROM attendance_records WHERE id = ?", rec.ID)
	if err != nil {
		return attendance.Record{}, err
	}
	return *created, nil
}

// Update applies fields inside one SQL transaction.
func (s *Store) Update(ctx context.Context, id attendance.RecordID, fields attendance.RecordUpdate) (attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return attendance.Record{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	current, err := s.queryOne(ctx, sqlTx, "SELECT "+recordColumns+" FROM attendance_records WHERE id = ?", id)
	if err != nil {
		return attendance.Record{}, err
	}
	if current == nil {
		return attendance.Record{}, fmt.Errorf("%w: %s", attendance.ErrRecordNotFound, id)
	}
	if fields.ExpectStatus != "" && current.Status != fields.ExpectStatus {
		return attendance.Record{}, attendance.ErrStatusConflict
	}

	next := fields.Apply(*current)
	outCheck, err := encodeCheck(next.ClockOutCheck)
	if err != nil {
		return attendance.Record{}, err
	}

	res, err := sqlTx.ExecContext(ctx, `
		UPDATE attendance_records SET
			clock_in_time = ?,
			clock_out_time = ?,
			manual_break_minutes = ?,
			total_break_minutes = ?,
			total_work_minutes = ?,
			overtime_minutes = ?,
			status = ?,
			clock_out_check_json = ?,
			updated_at = ?
		WHERE id = ? AND status = ?
	`,
		nullTime(next.ClockInTime),
		nullTime(next.ClockOutTime),
		next.ManualBreakMinutes,
		next.TotalBreakMinutes,
		next.TotalWorkMinutes,
		next.OvertimeMinutes,
		next.Status,
		outCheck,
		formatTime(next.UpdatedAt),
		id,
		current.Status,
	)
	if err != nil {
		return attendance.Record{}, fmt.Errorf("failed to update attendance record: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return attendance.Record{}, err
	} else if n == 0 {
		return attendance.Record{}, attendance.ErrStatusConflict
	}

	updated, err := s.queryOne(ctx, sqlTx, "SELECT "+recordColumns+" FROM attendance_records WHERE id = ?", id)
	if err != nil {
		return attendance.Record{}, err
	}
	if err := sqlTx.Commit(); err != nil {
		return attendance.Record{}, fmt.Errorf("failed to commit attendance record: %w", err)
	}
	return *updated, nil
}

// Get retrieves a record by ID. Returns nil when it does not exist.
func (s *Store) Get(ctx context.Context, id attendance.RecordID) (*attendance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryOne(ctx, s.db, "SELECT "+recordColumns+" FROM attendance_records WHERE id = ?", id)
}

// ListRecords returns the employee's records with from <= work_date <= to.
func (s *Store) ListRecords(ctx context.Context, employeeID attendance.EmployeeID, from, to attendance.WorkDate) ([]attendance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRecords(ctx,
		"SELECT "+recordColumns+` FROM attendance_records
		 WHERE employee_id = ? AND work_date >= ? AND work_date <= ?
		 ORDER BY work_date`,
		employeeID, from.String(), to.String(),
	)
}

// ListStoreDay returns every record at a store for one calendar day.
func (s *Store) ListStoreDay(ctx context.Context, storeID attendance.StoreID, date attendance.WorkDate) ([]attendance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRecords(ctx,
		"SELECT "+recordColumns+" FROM attendance_records WHERE store_id = ? AND work_date = ? ORDER BY clock_in_time",
		storeID, date.String(),
	)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) queryOne(ctx context.Context, db queryer, query string, args ...any) (*attendance.Record, error) {
	rec, err := scanRecord(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]attendance.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []attendance.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (attendance.Record, error) {
	var (
		rec                        attendance.Record
		workDate                   string
		clockIn, clockOut          sql.NullString
		inCheck, outCheck          sql.NullString
		status, createdAt, updated string
	)
	err := row.Scan(
		&rec.ID, &rec.EmployeeID, &rec.StoreID, &workDate, &clockIn, &clockOut,
		&rec.ManualBreakMinutes, &rec.TotalBreakMinutes, &rec.TotalWorkMinutes, &rec.OvertimeMinutes, &status,
		&inCheck, &outCheck, &createdAt, &updated,
	)
	if err != nil {
		return attendance.Record{}, err
	}

	if rec.Date, err = attendance.ParseWorkDate(workDate); err != nil {
		return attendance.Record{}, err
	}
	rec.Status = attendance.Status(status)
	if rec.ClockInTime, err = parseNullTime(clockIn); err != nil {
		return attendance.Record{}, err
	}
	if rec.ClockOutTime, err = parseNullTime(clockOut); err != nil {
		return attendance.Record{}, err
	}
	if rec.ClockInCheck, err = decodeCheck(inCheck); err != nil {
		return attendance.Record{}, err
	}
	if rec.ClockOutCheck, err = decodeCheck(outCheck); err != nil {
		return attendance.Record{}, err
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return attendance.Record{}, err
	}
	if rec.UpdatedAt, err = parseTime(updated); err != nil {
		return attendance.Record{}, err
	}
	return rec, nil
}

// =============================================================================
// SETTINGS STORE (attendance.PolicyProvider interface)
// =============================================================================

// SettingsRecord is a stored settings document.
type SettingsRecord struct {
	StoreID    string
	Name       string
	ConfigJSON string
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SaveSettings validates and stores a settings document, bumping its version.
func (s *Store) SaveSettings(ctx context.Context, configJSON string) (*SettingsRecord, error) {
	parsed, err := s.settings.ParseSettings(configJSON)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	query := `
		INSERT INTO store_settings (store_id, name, config_json, version, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(store_id) DO UPDATE SET
			name = excluded.name,
			config_json = excluded.config_json,
			version = store_settings.version + 1,
			updated_at = excluded.updated_at
	`
	now := formatTime(time.Now())
	_, err = s.db.ExecContext(ctx, query, string(parsed.StoreID), parsed.Name, configJSON, now, now)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to save store settings: %w", err)
	}

	return s.GetSettings(ctx, parsed.StoreID)
}

// GetSettings retrieves a settings document, or nil.
func (s *Store) GetSettings(ctx context.Context, storeID attendance.StoreID) (*SettingsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r SettingsRecord
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT store_id, name, config_json, version, created_at, updated_at FROM store_settings WHERE store_id = ?",
		storeID,
	).Scan(&r.StoreID, &r.Name, &r.ConfigJSON, &r.Version, &createdAt, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// StoreSettings returns the parsed settings for a store.
func (s *Store) StoreSettings(ctx context.Context, storeID attendance.StoreID) (*factory.Settings, error) {
	rec, err := s.GetSettings(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", attendance.ErrStoreNotFound, storeID)
	}
	return s.settings.ParseSettings(rec.ConfigJSON)
}

// Policy implements attendance.PolicyProvider.
func (s *Store) Policy(ctx context.Context, storeID attendance.StoreID) (attendance.Policy, error) {
	settings, err := s.StoreSettings(ctx, storeID)
	if err != nil {
		return attendance.Policy{}, err
	}
	return settings.Policy, nil
}

// StoreLocation implements attendance.PolicyProvider.
func (s *Store) StoreLocation(ctx context.Context, storeID attendance.StoreID) (geo.StoreLocation, error) {
	settings, err := s.StoreSettings(ctx, storeID)
	if err != nil {
		return geo.StoreLocation{}, err
	}
	return settings.Location, nil
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data (for testing).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM attendance_records; DELETE FROM store_settings;")
	return err
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// checkJSON is the stored form of attendance.LocationCheck.
type checkJSON struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	DistanceMeters float64 `json:"distance_meters"`
	RadiusMeters   int     `json:"radius_meters"`
	WithinRadius   bool    `json:"within_radius"`
	Enforced       bool    `json:"enforced"`
}

func encodeCheck(c *attendance.LocationCheck) (sql.NullString, error) {
	if c == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(checkJSON{
		Latitude:       c.Reported.Latitude,
		Longitude:      c.Reported.Longitude,
		DistanceMeters: c.DistanceMeters,
		RadiusMeters:   c.RadiusMeters,
		WithinRadius:   c.WithinRadius,
		Enforced:       c.Enforced,
	})
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode location check: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeCheck(ns sql.NullString) (*attendance.LocationCheck, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var cj checkJSON
	if err := json.Unmarshal([]byte(ns.String), &cj); err != nil {
		return nil, fmt.Errorf("invalid stored location check: %w", err)
	}
	return &attendance.LocationCheck{
		Reported:       geo.Coordinate{Latitude: cj.Latitude, Longitude: cj.Longitude},
		DistanceMeters: cj.DistanceMeters,
		RadiusMeters:   cj.RadiusMeters,
		WithinRadius:   cj.WithinRadius,
		Enforced:       cj.Enforced,
	}, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

// isEmployeeDayConflict matches a violation of idx_unique_employee_day. SQLite
// reports the indexed columns rather than the index name.
func isEmployeeDayConflict(err error) bool {
	return isUniqueConstraintError(err) &&
		strings.Contains(err.Error(), "attendance_records.employee_id")
}

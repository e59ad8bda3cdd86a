/*
store.go - Collaborator interfaces consumed by the ledger

KEY INTERFACES:
  RecordStore:    Attendance record persistence (find, create, update, get)
  RecordLister:   Optional range queries for history screens
  PolicyProvider: Per-store policy and geofence, read fresh on every punch

UNIQUENESS CONTRACT:
  Create must fail with ErrRecordExists when a record for (EmployeeID, Date)
  already exists. The ledger also serializes per key, but the store constraint
  is what protects multiple ledger instances sharing one database.

ATOMIC UPDATES:
  Update applies every field of a RecordUpdate or none of them. When
  ExpectStatus is set and the stored status differs, Update fails with
  ErrStatusConflict and changes nothing.

IMPLEMENTATIONS:
  - attendance/store/memory.go: In-memory for tests and development
  - store/sqlite/sqlite.go: SQLite
*/
package attendance

import (
	"context"

	"github.com/warp/punch-engine/geo"
)

// RecordStore persists attendance records.
type RecordStore interface {
	// FindRecord returns the record for (employeeID, date) in any status,
	// or nil when the employee has none that day.
	FindRecord(ctx context.Context, employeeID EmployeeID, date WorkDate) (*Record, error)

	// Create inserts a new record. Returns ErrRecordExists on a (employee, date) conflict.
	Create(ctx context.Context, rec Record) (Record, error)

	// Update applies fields to the record atomically and returns the result.
	Update(ctx context.Context, id RecordID, fields RecordUpdate) (Record, error)

	// Get returns a record by ID, or nil when no such record exists.
	Get(ctx context.Context, id RecordID) (*Record, error)
}

// RecordLister is implemented by stores that can answer range queries.
type RecordLister interface {
	// ListRecords returns the employee's records with from <= Date <= to, ordered by Date.
	ListRecords(ctx context.Context, employeeID EmployeeID, from, to WorkDate) ([]Record, error)
}

// PolicyProvider supplies store settings. The ledger calls it on every punch
// and never caches the result.
type PolicyProvider interface {
	Policy(ctx context.Context, storeID StoreID) (Policy, error)
	StoreLocation(ctx context.Context, storeID StoreID) (geo.StoreLocation, error)
}

/*
errors.go - Error types for the attendance ledger

ERROR CATEGORIES:
  1. Input errors - malformed punches (ErrInvalidPunch, geo.ErrInvalidCoordinate)
  2. Rule violations - OutOfRange, DuplicatePunch, NoOpenRecord, clock order
  3. Store errors - collaborator failures (ErrStoreUnavailable)

Every rejection is returned to the caller. The ledger never logs or drops one.

USAGE:
  if errors.Is(err, attendance.ErrDuplicatePunch) {
      // "already clocked in"
  }
  var oor *attendance.OutOfRangeError
  if errors.As(err, &oor) {
      fmt.Printf("%.0f m away, %d m allowed\n", oor.DistanceMeters, oor.RadiusMeters)
  }
*/
package attendance

import (
	"errors"
	"fmt"
	"time"

	"github.com/warp/punch-engine/geo"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidPunch is returned for a punch missing identifiers or a timestamp,
	// or carrying a negative manual break.
	ErrInvalidPunch = errors.New("invalid punch")

	// ErrOutOfRange is returned when a punch fails the geofence in strict mode.
	ErrOutOfRange = errors.New("punch location out of range")

	// ErrDuplicatePunch is returned for a clock-in on a day that already has a record.
	ErrDuplicatePunch = errors.New("already clocked in")

	// ErrNoOpenRecord is returned for a clock-out with nothing to close.
	ErrNoOpenRecord = errors.New("no open attendance record")

	// ErrClockOutNotAfterClockIn is returned when clock-out is not strictly after clock-in.
	ErrClockOutNotAfterClockIn = errors.New("clock-out must be after clock-in")

	// ErrStoreUnavailable marks failures of the record store or policy provider.
	ErrStoreUnavailable = errors.New("attendance store unavailable")

	// ErrStoreNotFound is returned by a PolicyProvider for an unknown store.
	ErrStoreNotFound = errors.New("store not found")

	// ErrRecordNotFound is returned when a record ID does not exist.
	ErrRecordNotFound = errors.New("attendance record not found")

	// ErrRecordExists is returned by RecordStore.Create when (employee, date) is taken.
	ErrRecordExists = errors.New("attendance record already exists")

	// ErrStatusConflict is returned by RecordStore.Update when ExpectStatus no longer holds.
	ErrStatusConflict = errors.New("attendance record status changed")

	// ErrStoreRequired is returned when an operation needs an optional store capability.
	ErrStoreRequired = errors.New("operation requires extended store interface")

	// ErrInvalidCorrection is returned for an administrative edit that breaks record invariants.
	ErrInvalidCorrection = errors.New("invalid correction")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// OutOfRangeError carries the measured distance and allowed radius for display.
type OutOfRangeError struct {
	StoreID        StoreID
	DistanceMeters float64
	RadiusMeters   int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("punch location out of range: %.1f m from store %s (allowed %d m)",
		e.DistanceMeters, e.StoreID, e.RadiusMeters)
}

func (e *OutOfRangeError) Unwrap() error { return ErrOutOfRange }

// DuplicatePunchError identifies the record that blocks a clock-in.
type DuplicatePunchError struct {
	EmployeeID EmployeeID
	Date       WorkDate
	ExistingID RecordID
	Status     Status
}

func (e *DuplicatePunchError) Error() string {
	if e.ExistingID == "" {
		return fmt.Sprintf("already clocked in: %s on %s", e.EmployeeID, e.Date)
	}
	return fmt.Sprintf("already clocked in: %s on %s (record %s, %s)",
		e.EmployeeID, e.Date, e.ExistingID, e.Status)
}

func (e *DuplicatePunchError) Unwrap() error { return ErrDuplicatePunch }

// NoOpenRecordError explains why a clock-out had nothing to close.
type NoOpenRecordError struct {
	EmployeeID EmployeeID
	Date       WorkDate
	ExistingID RecordID // set when the day's record is already completed
}

func (e *NoOpenRecordError) Error() string {
	if e.ExistingID != "" {
		return fmt.Sprintf("no open attendance record: %s already clocked out on %s (record %s)",
			e.EmployeeID, e.Date, e.ExistingID)
	}
	return fmt.Sprintf("no open attendance record: %s has not clocked in on %s", e.EmployeeID, e.Date)
}

func (e *NoOpenRecordError) Unwrap() error { return ErrNoOpenRecord }

// ClockOrderError reports a clock-out at or before the clock-in instant.
type ClockOrderError struct {
	RecordID RecordID
	ClockIn  time.Time
	ClockOut time.Time
}

func (e *ClockOrderError) Error() string {
	return fmt.Sprintf("clock-out %s must be after clock-in %s (record %s)",
		e.ClockOut.Format(time.RFC3339), e.ClockIn.Format(time.RFC3339), e.RecordID)
}

func (e *ClockOrderError) Unwrap() error { return ErrClockOutNotAfterClockIn }

// StoreError wraps a collaborator failure. It matches both ErrStoreUnavailable
// and the underlying cause.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("attendance store unavailable: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStoreUnavailable, e.Err} }

// storeErr passes domain sentinels through and wraps everything else.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreNotFound) || errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrRecordExists) || errors.Is(err, ErrStatusConflict) ||
		errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the punch itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPunch) ||
		errors.Is(err, geo.ErrInvalidCoordinate) ||
		errors.Is(err, ErrOutOfRange) ||
		errors.Is(err, ErrDuplicatePunch) ||
		errors.Is(err, ErrNoOpenRecord) ||
		errors.Is(err, ErrClockOutNotAfterClockIn) ||
		errors.Is(err, ErrInvalidCorrection)
}

// IsRetryable returns true if the same punch might succeed on retry.
// OutOfRange is retryable by the employee moving closer.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrOutOfRange)
}

// IsNotFound returns true if the error indicates a missing store or record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStoreNotFound) || errors.Is(err, ErrRecordNotFound)
}

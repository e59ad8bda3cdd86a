/*
Package attendance records clock-in/clock-out punches and accounts for work time.

PURPOSE:
  The Ledger owns one employee's attendance record per calendar day. It accepts
  punches, checks them against the store's geofence, guards against duplicate and
  out-of-order punches, and derives break, work, and overtime minutes from the
  store's policy.

KEY CONCEPTS IN THIS FILE (types.go):
  - Record: One employee's attendance for one calendar day
  - Status: NOT_STARTED -> IN_PROGRESS -> COMPLETED
  - WorkDate: A calendar day in the store's timezone (no time of day)
  - PunchEvent: A single clock-in or clock-out request
  - LocationCheck: The geofence outcome attached to each accepted punch

RECORD INVARIANTS:
  1. At most one record per (EmployeeID, Date)
  2. ClockOutTime, when set, is strictly after ClockInTime
  3. IN_PROGRESS iff clocked in and not out; COMPLETED iff both
  4. TotalWorkMinutes = elapsed - TotalBreakMinutes, floored at 0
  5. OvertimeMinutes = max(0, TotalWorkMinutes - OvertimeThresholdMinutes)
  6. TotalBreakMinutes = max(ManualBreakMinutes, auto-break when it applies)

IDENTIFIERS:
  EmployeeID and StoreID are opaque. Resolving a user (email, session) to an
  EmployeeID happens before the ledger is called.

SEE ALSO:
  - ledger.go: State machine
  - accounting.go: Minute arithmetic
  - store.go: Collaborator interfaces
*/
package attendance

import (
	"fmt"
	"time"

	"github.com/warp/punch-engine/geo"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type StoreID string
type RecordID string

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// StatusFor derives the status implied by the clock fields.
func StatusFor(clockIn, clockOut *time.Time) Status {
	switch {
	case clockIn == nil:
		return StatusNotStarted
	case clockOut == nil:
		return StatusInProgress
	default:
		return StatusCompleted
	}
}

// =============================================================================
// WORK DATE - Calendar day, no time of day
// =============================================================================

const workDateLayout = "2006-01-02"

// WorkDate is a calendar day. It is the day part of a record's identity and is
// never compared with instants directly.
type WorkDate struct {
	Year  int
	Month time.Month
	Day   int
}

// WorkDateOf returns the calendar day of t as observed in loc.
func WorkDateOf(t time.Time, loc *time.Location) WorkDate {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return WorkDate{Year: y, Month: m, Day: d}
}

// ParseWorkDate parses YYYY-MM-DD.
func ParseWorkDate(s string) (WorkDate, error) {
	t, err := time.Parse(workDateLayout, s)
	if err != nil {
		return WorkDate{}, fmt.Errorf("invalid work date %q: %w", s, err)
	}
	return WorkDate{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

func (d WorkDate) midnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d WorkDate) AddDays(n int) WorkDate {
	t := d.midnight().AddDate(0, 0, n)
	return WorkDate{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

func (d WorkDate) Prev() WorkDate { return d.AddDays(-1) }
func (d WorkDate) Before(other WorkDate) bool { return d.midnight().Before(other.midnight()) }
func (d WorkDate) After(other WorkDate) bool { return d.midnight().After(other.midnight()) }
func (d WorkDate) IsZero() bool { return d == WorkDate{} }
func (d WorkDate) String() string { return d.midnight().Format(workDateLayout) }

// =============================================================================
// PUNCH EVENT
// =============================================================================

type Action string

const (
	ActionClockIn  Action = "CLOCK_IN"
	ActionClockOut Action = "CLOCK_OUT"
)

// PunchEvent is one clock-in or clock-out request. It is not persisted as such;
// its effect is the created or updated Record.
type PunchEvent struct {
	EmployeeID EmployeeID
	StoreID    StoreID
	Action     Action
	Coordinate geo.Coordinate
	Timestamp  time.Time

	// ManualBreakMinutes is break time recorded outside the ledger.
	// Only meaningful for CLOCK_OUT.
	ManualBreakMinutes *int
}

// =============================================================================
// RECORD
// =============================================================================

// LocationCheck is the geofence outcome for one punch. A punch accepted outside
// the radius (strict mode off) keeps WithinRadius=false here for audit.
type LocationCheck struct {
	Reported       geo.Coordinate
	DistanceMeters float64
	RadiusMeters   int
	WithinRadius   bool
	Enforced       bool // store was in strict mode when the punch was evaluated
}

// Warning reports whether the punch was accepted outside the geofence.
func (c *LocationCheck) Warning() bool {
	return c != nil && !c.WithinRadius
}

// Record is one employee's attendance for one calendar day.
type Record struct {
	ID         RecordID
	EmployeeID EmployeeID
	StoreID    StoreID
	Date       WorkDate

	ClockInTime  *time.Time
	ClockOutTime *time.Time

	// ManualBreakMinutes is the break entered by hand. TotalBreakMinutes is
	// derived from it and the auto-break policy.
	ManualBreakMinutes int
	TotalBreakMinutes  int // derived
	TotalWorkMinutes   int // derived
	OvertimeMinutes    int // derived
	Status             Status

	ClockInCheck  *LocationCheck
	ClockOutCheck *LocationCheck

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasLocationWarning reports whether either punch was accepted outside the geofence.
func (r Record) HasLocationWarning() bool {
	return r.ClockInCheck.Warning() || r.ClockOutCheck.Warning()
}

// Validate checks the record invariants that do not depend on policy.
func (r Record) Validate() error {
	if r.ManualBreakMinutes < 0 || r.TotalBreakMinutes < 0 || r.TotalWorkMinutes < 0 || r.OvertimeMinutes < 0 {
		return fmt.Errorf("record %s: negative minute totals", r.ID)
	}
	if r.ClockInTime == nil && r.ClockOutTime != nil {
		return fmt.Errorf("record %s: clock-out without clock-in", r.ID)
	}
	if r.ClockInTime != nil && r.ClockOutTime != nil && !r.ClockOutTime.After(*r.ClockInTime) {
		return fmt.Errorf("record %s: clock-out %s not after clock-in %s",
			r.ID, r.ClockOutTime.Format(time.RFC3339), r.ClockInTime.Format(time.RFC3339))
	}
	if want := StatusFor(r.ClockInTime, r.ClockOutTime); r.Status != want {
		return fmt.Errorf("record %s: status %s does not match clock fields (%s)", r.ID, r.Status, want)
	}
	return nil
}

// RecordUpdate is the set of fields changed by one all-or-nothing store update.
// Nil fields are left untouched. ExpectStatus, when set, makes the update
// conditional on the stored record still having that status.
type RecordUpdate struct {
	ClockInTime        *time.Time
	ClockOutTime       *time.Time
	ManualBreakMinutes *int
	TotalBreakMinutes  *int
	TotalWorkMinutes   *int
	OvertimeMinutes    *int
	Status             *Status
	ClockOutCheck      *LocationCheck
	UpdatedAt          time.Time

	ExpectStatus Status
}

// Apply returns r with the update applied. Stores use it to keep field
// semantics identical across implementations.
func (u RecordUpdate) Apply(r Record) Record {
	if u.ClockInTime != nil {
		t := *u.ClockInTime
		r.ClockInTime = &t
	}
	if u.ClockOutTime != nil {
		t := *u.ClockOutTime
		r.ClockOutTime = &t
	}
	if u.ManualBreakMinutes != nil {
		r.ManualBreakMinutes = *u.ManualBreakMinutes
	}
	if u.TotalBreakMinutes != nil {
		r.TotalBreakMinutes = *u.TotalBreakMinutes
	}
	if u.TotalWorkMinutes != nil {
		r.TotalWorkMinutes = *u.TotalWorkMinutes
	}
	if u.OvertimeMinutes != nil {
		r.OvertimeMinutes = *u.OvertimeMinutes
	}
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.ClockOutCheck != nil {
		c := *u.ClockOutCheck
		r.ClockOutCheck = &c
	}
	if !u.UpdatedAt.IsZero() {
		r.UpdatedAt = u.UpdatedAt
	}
	return r
}

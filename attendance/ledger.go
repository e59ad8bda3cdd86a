/*
ledger.go - Attendance state machine and punch validation

PURPOSE:
  The Ledger is the only writer of attendance transitions. It turns punches
  into record creations and updates, after checking them against the
  current record, the store's geofence, and the store's policy.

STATE MACHINE (per employee per calendar day):
  NOT_STARTED --CLOCK_IN--> IN_PROGRESS --CLOCK_OUT--> COMPLETED

  CLOCK_IN  with a record of any status that day     -> DuplicatePunch
  CLOCK_OUT with no record, or a completed one       -> NoOpenRecord
  CLOCK_OUT at or before the clock-in instant        -> ClockOutNotAfterClockIn
  Outside the geofence, strict mode on               -> OutOfRange
  Outside the geofence, strict mode off              -> accepted, LocationCheck kept

  COMPLETED is terminal for punches. Corrections go through Correct.

OVERNIGHT SHIFTS:
  A record's date is the calendar day of its clock-in in the store's timezone.
  A CLOCK_OUT first looks at its own day; when that day has no record at all it
  falls back to the previous day's IN_PROGRESS record, so 22:00 -> 06:00 closes
  the shift that started the night before.

CONCURRENCY:
  The find-then-create and find-then-update sequences run under a per
  (employee, date) lock. Different employees, or the same employee on different
  days, never wait on each other. Stores additionally enforce uniqueness and
  conditional updates, which covers several Ledger instances sharing a database.

IDEMPOTENCE:
  Replaying the same punch hits the duplicate / no-open-record preconditions.
  No event log is kept.

FRESH POLICY:
  Every punch reads the store's policy and location from the PolicyProvider.
  Nothing is cached between calls.

EXAMPLE:
  ledger := attendance.NewLedger(records, settings)
  rec, err := ledger.ClockIn(ctx, "emp-1", "store-1", coord, time.Now())
  if errors.Is(err, attendance.ErrDuplicatePunch) { ... }
*/
package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/punch-engine/geo"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger validates punches and owns the derived fields of attendance records.
type Ledger struct {
	records  RecordStore
	policies PolicyProvider
	locks    *keyLocker
	now      func() time.Time
	newID    func() RecordID
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the clock used for CreatedAt/UpdatedAt audit fields.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator sets how new record IDs are minted.
func WithIDGenerator(gen func() RecordID) Option {
	return func(l *Ledger) { l.newID = gen }
}

// NewLedger creates a ledger over the given collaborators. Construct one per
// process and share it; the per-key locks only serialize callers of the same Ledger.
func NewLedger(records RecordStore, policies PolicyProvider, opts ...Option) *Ledger {
	l := &Ledger{
		records:  records,
		policies: policies,
		locks:    newKeyLocker(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() RecordID { return RecordID(uuid.NewString()) },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// =============================================================================
// PUNCH OPERATIONS
// =============================================================================

// ClockIn opens the employee's record for the punch's calendar day.
func (l *Ledger) ClockIn(ctx context.Context, employeeID EmployeeID, storeID StoreID, at geo.Coordinate, timestamp time.Time) (Record, error) {
	return l.Punch(ctx, PunchEvent{
		EmployeeID: employeeID,
		StoreID:    storeID,
		Action:     ActionClockIn,
		Coordinate: at,
		Timestamp:  timestamp,
	})
}

// ClockOut closes the employee's open record. manualBreakMinutes, when given,
// replaces any break already recorded on the record before the auto-break
// policy is applied.
func (l *Ledger) ClockOut(ctx context.Context, employeeID EmployeeID, storeID StoreID, at geo.Coordinate, timestamp time.Time, manualBreakMinutes *int) (Record, error) {
	return l.Punch(ctx, PunchEvent{
		EmployeeID:         employeeID,
		StoreID:            storeID,
		Action:             ActionClockOut,
		Coordinate:         at,
		Timestamp:          timestamp,
		ManualBreakMinutes: manualBreakMinutes,
	})
}

// Punch validates ev and applies it.
func (l *Ledger) Punch(ctx context.Context, ev PunchEvent) (Record, error) {
	if err := validatePunch(ev); err != nil {
		return Record{}, err
	}

	snap, err := l.snapshot(ctx, ev.StoreID)
	if err != nil {
		return Record{}, err
	}

	switch ev.Action {
	case ActionClockIn:
		return l.clockIn(ctx, ev, snap)
	case ActionClockOut:
		return l.clockOut(ctx, ev, snap)
	default:
		return Record{}, fmt.Errorf("%w: unknown action %q", ErrInvalidPunch, ev.Action)
	}
}

// CheckLocation evaluates a coordinate against the store's geofence without
// touching any record.
func (l *Ledger) CheckLocation(ctx context.Context, storeID StoreID, at geo.Coordinate) (geo.Check, error) {
	if storeID == "" {
		return geo.Check{}, fmt.Errorf("%w: store id is required", ErrInvalidPunch)
	}
	loc, err := l.policies.StoreLocation(ctx, storeID)
	if err != nil {
		return geo.Check{}, storeErr("store location", err)
	}
	return geo.CheckWithinRadius(loc, at)
}

func (l *Ledger) clockIn(ctx context.Context, ev PunchEvent, snap settingsSnapshot) (Record, error) {
	date := WorkDateOf(ev.Timestamp, snap.tz)

	unlock := l.locks.Lock(recordKey{EmployeeID: ev.EmployeeID, Date: date})
	defer unlock()

	existing, err := l.records.FindRecord(ctx, ev.EmployeeID, date)
	if err != nil {
		return Record{}, storeErr("find record", err)
	}
	if existing != nil {
		return Record{}, &DuplicatePunchError{
			EmployeeID: ev.EmployeeID,
			Date:       date,
			ExistingID: existing.ID,
			Status:     existing.Status,
		}
	}

	check, err := locate(ev, snap)
	if err != nil {
		return Record{}, err
	}

	now := l.now()
	in := ev.Timestamp
	rec := Record{
		ID:           l.newID(),
		EmployeeID:   ev.EmployeeID,
		StoreID:      ev.StoreID,
		Date:         date,
		ClockInTime:  &in,
		Status:       StatusInProgress,
		ClockInCheck: &check,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	created, err := l.records.Create(ctx, rec)
	if errors.Is(err, ErrRecordExists) {
		return Record{}, &DuplicatePunchError{EmployeeID: ev.EmployeeID, Date: date}
	}
	if err != nil {
		return Record{}, storeErr("create record", err)
	}
	return created, nil
}

func (l *Ledger) clockOut(ctx context.Context, ev PunchEvent, snap settingsSnapshot) (Record, error) {
	date := WorkDateOf(ev.Timestamp, snap.tz)

	rec, found, err := l.closeOn(ctx, ev, snap, date, false)
	if found || err != nil {
		return rec, err
	}

	rec, found, err = l.closeOn(ctx, ev, snap, date.Prev(), true)
	if found || err != nil {
		return rec, err
	}

	return Record{}, &NoOpenRecordError{EmployeeID: ev.EmployeeID, Date: date}
}

// closeOn tries to close the record dated date. found is false when there is
// nothing on that date for the caller to act on. With overnightOnly, a
// non-open record counts as nothing.
func (l *Ledger) closeOn(ctx context.Context, ev PunchEvent, snap settingsSnapshot, date WorkDate, overnightOnly bool) (Record, bool, error) {
	unlock := l.locks.Lock(recordKey{EmployeeID: ev.EmployeeID, Date: date})
	defer unlock()

	rec, err := l.records.FindRecord(ctx, ev.EmployeeID, date)
	if err != nil {
		return Record{}, true, storeErr("find record", err)
	}
	if rec == nil {
		return Record{}, false, nil
	}
	if rec.Status != StatusInProgress || rec.ClockInTime == nil || rec.ClockOutTime != nil {
		if overnightOnly {
			return Record{}, false, nil
		}
		noOpen := &NoOpenRecordError{EmployeeID: ev.EmployeeID, Date: date}
		if rec.Status == StatusCompleted {
			noOpen.ExistingID = rec.ID
		}
		return Record{}, true, noOpen
	}

	in := *rec.ClockInTime
	if !ev.Timestamp.After(in) {
		return Record{}, true, &ClockOrderError{RecordID: rec.ID, ClockIn: in, ClockOut: ev.Timestamp}
	}

	check, err := locate(ev, snap)
	if err != nil {
		return Record{}, true, err
	}

	manual := rec.ManualBreakMinutes
	if ev.ManualBreakMinutes != nil {
		manual = *ev.ManualBreakMinutes
	}
	totals := Summarize(snap.policy, in, ev.Timestamp, manual)

	out := ev.Timestamp
	status := StatusCompleted
	updated, err := l.records.Update(ctx, rec.ID, RecordUpdate{
		ClockOutTime:       &out,
		ManualBreakMinutes: &manual,
		TotalBreakMinutes:  &totals.BreakMinutes,
		TotalWorkMinutes:   &totals.WorkMinutes,
		OvertimeMinutes:    &totals.OvertimeMinutes,
		Status:             &status,
		ClockOutCheck:      &check,
		UpdatedAt:          l.now(),
		ExpectStatus:       StatusInProgress,
	})
	if errors.Is(err, ErrStatusConflict) {
		return Record{}, true, &NoOpenRecordError{EmployeeID: ev.EmployeeID, Date: date, ExistingID: rec.ID}
	}
	if err != nil {
		return Record{}, true, storeErr("update record", err)
	}
	return updated, true, nil
}

// =============================================================================
// ADMINISTRATIVE CORRECTION
// =============================================================================

// Correction is an administrative edit. Nil fields keep their current value.
type Correction struct {
	ClockInTime       *time.Time
	ClockOutTime      *time.Time
	TotalBreakMinutes *int
}

// Correct applies an administrative edit and recomputes the derived fields
// with the store's current policy. The geofence is not re-evaluated. An
// explicit TotalBreakMinutes is used as given and becomes the manual break;
// otherwise the break is recomputed from the recorded manual break, so an
// auto-break disappears when a shift is shortened below the threshold.
func (l *Ledger) Correct(ctx context.Context, id RecordID, c Correction) (Record, error) {
	current, err := l.records.Get(ctx, id)
	if err != nil {
		return Record{}, storeErr("get record", err)
	}
	if current == nil {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}

	unlock := l.locks.Lock(recordKey{EmployeeID: current.EmployeeID, Date: current.Date})
	defer unlock()

	// Re-read under the lock; a clock-out may have landed in between.
	current, err = l.records.Get(ctx, id)
	if err != nil {
		return Record{}, storeErr("get record", err)
	}
	if current == nil {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}

	snap, err := l.snapshot(ctx, current.StoreID)
	if err != nil {
		return Record{}, err
	}

	in, out := current.ClockInTime, current.ClockOutTime
	if c.ClockInTime != nil {
		in = c.ClockInTime
	}
	if c.ClockOutTime != nil {
		out = c.ClockOutTime
	}
	manual := current.ManualBreakMinutes
	if c.TotalBreakMinutes != nil {
		manual = *c.TotalBreakMinutes
	}
	brk := manual

	switch {
	case manual < 0:
		return Record{}, fmt.Errorf("%w: break minutes must be >= 0", ErrInvalidCorrection)
	case in == nil:
		return Record{}, fmt.Errorf("%w: clock-in is required", ErrInvalidCorrection)
	case WorkDateOf(*in, snap.tz) != current.Date:
		return Record{}, fmt.Errorf("%w: clock-in %s is not on %s",
			ErrInvalidCorrection, in.Format(time.RFC3339), current.Date)
	case out != nil && !out.After(*in):
		return Record{}, fmt.Errorf("%w: %w", ErrInvalidCorrection,
			&ClockOrderError{RecordID: id, ClockIn: *in, ClockOut: *out})
	}

	work, overtime := 0, 0
	if out != nil {
		elapsed := ElapsedMinutes(*in, *out)
		if c.TotalBreakMinutes == nil {
			brk = BreakMinutes(snap.policy, elapsed, manual)
		}
		work = WorkMinutes(elapsed, brk)
		overtime = OvertimeMinutes(snap.policy, work)
	}
	status := StatusFor(in, out)

	updated, err := l.records.Update(ctx, id, RecordUpdate{
		ClockInTime:        in,
		ClockOutTime:       out,
		ManualBreakMinutes: &manual,
		TotalBreakMinutes:  &brk,
		TotalWorkMinutes:   &work,
		OvertimeMinutes:    &overtime,
		Status:             &status,
		UpdatedAt:          l.now(),
		ExpectStatus:       current.Status,
	})
	if err != nil {
		return Record{}, storeErr("update record", err)
	}
	return updated, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Record returns a record by ID.
func (l *Ledger) Record(ctx context.Context, id RecordID) (Record, error) {
	rec, err := l.records.Get(ctx, id)
	if err != nil {
		return Record{}, storeErr("get record", err)
	}
	if rec == nil {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return *rec, nil
}

// DateAt returns the calendar day of t in the store's timezone, the date a
// punch at t would be recorded under.
func (l *Ledger) DateAt(ctx context.Context, storeID StoreID, t time.Time) (WorkDate, error) {
	snap, err := l.snapshot(ctx, storeID)
	if err != nil {
		return WorkDate{}, err
	}
	return WorkDateOf(t, snap.tz), nil
}

// Records returns an employee's records in [from, to].
// Requires the RecordStore to implement RecordLister.
func (l *Ledger) Records(ctx context.Context, employeeID EmployeeID, from, to WorkDate) ([]Record, error) {
	lister, ok := l.records.(RecordLister)
	if !ok {
		return nil, ErrStoreRequired
	}
	if from.IsZero() || to.IsZero() {
		return nil, fmt.Errorf("%w: date range is required", ErrInvalidPunch)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: range end %s before start %s", ErrInvalidPunch, to, from)
	}
	recs, err := lister.ListRecords(ctx, employeeID, from, to)
	if err != nil {
		return nil, storeErr("list records", err)
	}
	return recs, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// settingsSnapshot is one punch's view of store settings.
type settingsSnapshot struct {
	policy   Policy
	location geo.StoreLocation
	tz       *time.Location
}

func (l *Ledger) snapshot(ctx context.Context, storeID StoreID) (settingsSnapshot, error) {
	policy, err := l.policies.Policy(ctx, storeID)
	if err != nil {
		return settingsSnapshot{}, storeErr("policy", err)
	}
	if err := policy.Validate(); err != nil {
		return settingsSnapshot{}, fmt.Errorf("store %s policy: %w", storeID, err)
	}
	loc, err := l.policies.StoreLocation(ctx, storeID)
	if err != nil {
		return settingsSnapshot{}, storeErr("store location", err)
	}
	tz, _ := policy.Location() // validated above
	return settingsSnapshot{policy: policy, location: loc, tz: tz}, nil
}

// locate runs the geofence for a punch and applies strict mode.
func locate(ev PunchEvent, snap settingsSnapshot) (LocationCheck, error) {
	res, err := geo.CheckWithinRadius(snap.location, ev.Coordinate)
	if err != nil {
		return LocationCheck{}, err
	}
	check := LocationCheck{
		Reported:       ev.Coordinate,
		DistanceMeters: res.DistanceMeters,
		RadiusMeters:   res.RadiusMeters,
		WithinRadius:   res.WithinRadius,
		Enforced:       snap.policy.LocationStrictMode,
	}
	if !res.WithinRadius && snap.policy.LocationStrictMode {
		return check, &OutOfRangeError{
			StoreID:        ev.StoreID,
			DistanceMeters: res.DistanceMeters,
			RadiusMeters:   res.RadiusMeters,
		}
	}
	return check, nil
}

func validatePunch(ev PunchEvent) error {
	switch {
	case ev.EmployeeID == "":
		return fmt.Errorf("%w: employee id is required", ErrInvalidPunch)
	case strings.Contains(string(ev.EmployeeID), "@"):
		return fmt.Errorf("%w: employee id must be an opaque identifier, not an email address", ErrInvalidPunch)
	case ev.StoreID == "":
		return fmt.Errorf("%w: store id is required", ErrInvalidPunch)
	case ev.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp is required", ErrInvalidPunch)
	case ev.ManualBreakMinutes != nil && *ev.ManualBreakMinutes < 0:
		return fmt.Errorf("%w: manual break minutes must be >= 0", ErrInvalidPunch)
	}
	return ev.Coordinate.Validate()
}

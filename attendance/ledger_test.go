package attendance_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/punch-engine/attendance"
	"github.com/warp/punch-engine/attendance/store"
	"github.com/warp/punch-engine/geo"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	storeID  attendance.StoreID    = "store-shibuya"
	employee attendance.EmployeeID = "emp-1"
)

var storeCoord = geo.Coordinate{Latitude: 35.681236, Longitude: 139.767125}

// ~100 m due north of the store.
var farCoord = geo.Coordinate{Latitude: storeCoord.Latitude + 0.0009, Longitude: storeCoord.Longitude}

type fixture struct {
	ledger   *attendance.Ledger
	records  *store.Memory
	settings *store.Settings
}

func newFixture(t *testing.T, policy attendance.Policy) fixture {
	t.Helper()
	records := store.NewMemory()
	settings := store.NewSettings()
	settings.Put(storeID, policy, geo.StoreLocation{Coordinate: storeCoord, RadiusMeters: 50})
	return fixture{
		ledger:   attendance.NewLedger(records, settings),
		records:  records,
		settings: settings,
	}
}

func at(day, hour, minute int) time.Time {
	return time.Date(2025, time.March, day, hour, minute, 0, 0, time.UTC)
}

func minutes(n int) *int { return &n }

func march(day int) attendance.WorkDate {
	return attendance.WorkDate{Year: 2025, Month: time.March, Day: day}
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestLedger_ClockInClockOut_Transitions(t *testing.T) {
	f := newFixture(t, attendance.DefaultPolicy())
	ctx := context.Background()

	// GIVEN: No record yet, so the day is NOT_STARTED
	existing, err := f.records.FindRecord(ctx, employee, march(10))
	require.NoError(t, err)
	require.Nil(t, existing)
	assert.Equal(t, attendance.StatusNotStarted, attendance.StatusFor(nil, nil))

	// WHEN: Clocking in
	rec, err := f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 0))
	require.NoError(t, err)

	// THEN: IN_PROGRESS with clock-in set
	assert.Equal(t, attendance.StatusInProgress, rec.Status)
	assert.Equal(t, march(10), rec.Date)
	require.NotNil(t, rec.ClockInTime)
	assert.Equal(t, at(10, 9, 0), *rec.ClockInTime)
	assert.Nil(t, rec.ClockOutTime)
	assert.NotEmpty(t, rec.ID)
	require.NoError(t, rec.Validate())

	// WHEN: Clocking out
	done, err := f.ledger.ClockOut(ctx, employee, storeID, storeCoord, at(10, 18, 0), minutes(60))
	require.NoError(t, err)

	// THEN: COMPLETED, same record
	assert.Equal(t, rec.ID, done.ID)
	assert.Equal(t, attendance.StatusCompleted, done.Status)
	require.NotNil(t, done.ClockOutTime)
	assert.Equal(t, at(10, 18, 0), *done.ClockOutTime)
	assert.Equal(t, 480, done.TotalWorkMinutes)
	assert.Equal(t, 0, done.OvertimeMinutes)
	require.NoError(t, done.Validate())

	stored, err := f.ledger.Record(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusCompleted, stored.Status)
}

func TestLedger_DoubleClockIn_Rejected(t *testing.T) {
	f := newFixture(t, attendance.DefaultPolicy())
	ctx := context.Background()

	first, err := f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 0))
	require.NoError(t, err)

	// Identical replay
	_, err = f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 0))
	require.ErrorIs(t, err, attendance.ErrDuplicatePunch)

	var dup *attendance.DuplicatePunchError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.ExistingID)
	assert.Equal(t, attendance.StatusInProgress, dup.Status)

	// Later the same day
	_, err = f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 13, 0))
	assert.ErrorIs(t, err, attendance.ErrDuplicatePunch)

	recs, err := f.ledger.Records(ctx, employee, march(10), march(10))
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestLedger_ClockInAfterCompleted_Rejected(t *testing.T) {
	f := newFixture(t, attendance.DefaultPolicy())
	ctx := context.Background()

	_, err := f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 0))
	require.NoError(t, err)
	_, err = f.ledger.ClockOut(ctx, employee, storeID, storeCoord, at(10, 12, 0), nil)
	require.NoError(t, err)

	_, err = f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 13, 0))
	assert.ErrorIs(t, err, attendance.ErrDuplicatePunch)

	var dup *attendance.DuplicatePunchError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, attendance.StatusCompleted, dup.Status)
}

func TestLedger_ClockOutWithoutClockIn_Rejected(t *testing.T) {
	f := newFixture(t, attendance.DefaultPolicy())

	_, err := f.ledger.ClockOut(context.Background(), employee, storeID, storeCoord, at(10, 18, 0), nil)

	assert.ErrorIs(t, err, attendance.ErrNoOpenRecord)
	var noOpen *attendance.NoOpenRecordError
	require.ErrorAs(t, err, &noOpen)
	assert.Empty(t, noOpen.ExistingID)
	assert.Equal(t, march(10), noOpen.Date)
}

func TestLedger_ClockOutTwice_Rejected(t *testing.T) {
	f := newFixture(t, attendance.DefaultPolicy())
	ctx := context.Background()

	rec, err := f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 0))
	require.NoError(t, err)
	first, err := f.ledger.ClockOut(ctx, employee, storeID, storeCoord, at(10, 18, 0), minutes(60))
	require.NoError(t, err)

	// Identical replay, then a later punch
	for _, ts := range []time.Time{at(10, 18, 0), at(10, 19, 0)} {
		_, err = f.ledger.ClockOut(ctx, employee, storeID, storeCoord, ts, minutes(60))
		require.ErrorIs(t, err, attendance.ErrNoOpenRecord)

		var noOpen *attendance.NoOpenRecordError
		require.ErrorAs(t, err, &noOpen)
		assert.Equal(t, rec.ID, noOpen.ExistingID)
	}

	// Time was not counted twice
	stored, err := f.ledger.Record(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, first.TotalWorkMinutes, stored.TotalWorkMinutes)
	assert.Equal(t, at(10, 18, 0), *stored.ClockOutTime)
}

func TestLedger_ClockOutNotAfterClockIn_Rejected(t *testing.T) {
	f := newFixture(t, attendance.DefaultPolicy())
	ctx := context.Background()

	rec, err := f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 0))
	require.NoError(t, err)

	for _, ts := range []time.Time{at(10, 9, 0), at(10, 8, 59)} {
		_, err = f.ledger.ClockOut(ctx, employee, storeID, storeCoord, ts, nil)
		assert.ErrorIs(t, err, attendance.ErrClockOutNotAfterClockIn)
	}

	stored, err := f.ledger.Record(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusInProgress, stored.Status, "rejected clock-out leaves the record open")
}

// =============================================================================
// TIME ACCOUNTING
// =============================================================================

func TestLedger_TimeAccounting(t *testing.T) {
	tests := []struct {
		name         string
		in, out      time.Time
		breakMinutes int
		wantDate     attendance.WorkDate
		wantWork     int
		wantOvertime int
	}{
		{"regular day", at(10, 9, 0), at(10, 18, 0), 60, march(10), 480, 0},
		{"overtime", at(10, 9, 0), at(10, 19, 30), 60, march(10), 570, 90},
		{"overnight shift", at(10, 22, 0), at(11, 6, 0), 60, march(10), 420, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, attendance.DefaultPolicy())
			ctx := context.Background()

			_, err := f.ledger.ClockIn(ctx, employee, storeID, storeCoord, tt.in)
			require.NoError(t, err)

			rec, err := f.ledger.ClockOut(ctx, employee, storeID, storeCoord, tt.out, minutes(tt.breakMinutes))
			require.NoError(t, err)

			assert.Equal(t, tt.wantDate, rec.Date)
			assert.Equal(t, tt.breakMinutes, rec.TotalBreakMinutes)
			assert.Equal(t, tt.wantWork, rec.TotalWorkMinutes)
			assert.Equal(t, tt.wantOvertime, rec.OvertimeMinutes)
			assert.Equal(t, attendance.StatusCompleted, rec.Status)
		})
	}
}

func TestLedger_OvernightClockOut_SecondIsRejected(t *testing.T) {
	f := newFixture(t, attendance.DefaultPolicy())
	ctx := context.Background()

	_, err := f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 22, 0))
	require.NoError(t, err)
	_, err = f.ledger.ClockOut(ctx, employee, storeID, storeCoord, at(11, 6, 0), nil)
	require.NoError(t, err)

	_, err = f.ledger.ClockOut(ctx, employee, storeID, storeCoord, at(11, 6, 30), nil)
	assert.ErrorIs(t, err, attendance.ErrNoOpenRecord)
}

func TestLedger_ClockOutPrefersSameDayRecord(t *testing.T) {
	// GIVEN: A forgotten open record yesterday and a completed one today
	f := newFixture(t, attendance.DefaultPolicy())
	ctx := context.Background()

	yesterday, err := f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 0))
	require.NoError(t, err)
	_, err = f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(11, 9, 0))
	require.NoError(t, err)
	_, err = f.ledger.ClockOut(ctx, employee, storeID, storeCoord, at(11, 17, 0), nil)
	require.NoError(t, err)

	// WHEN: Clocking out again today
	_, err = f.ledger.ClockOut(ctx, employee, storeID, storeCoord, at(11, 18, 0), nil)

	// THEN: Today's completed record decides; yesterday stays open
	assert.ErrorIs(t, err, attendance.ErrNoOpenRecord)
	stored, err := f.ledger.Record(ctx, yesterday.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusInProgress, stored.Status)
}

func TestLedger_AutoBreak(t *testing.T) {
	policy := attendance.DefaultPolicy()
	policy.AutoBreakEnabled = true
	policy.AutoBreakStartHours = 6
	policy.AutoBreakDurationMinutes = 45

	tests := []struct {
		name      string
		out       time.Time
		manual    *int
		wantBreak int
		wantWork  int
	}{
		{"long shift gets auto break", at(10, 18, 0), nil, 45, 495},
		{"manual break above auto is kept", at(10, 18, 0), minutes(60), 60, 480},
		{"manual break below auto is raised", at(10, 18, 0), minutes(30), 45, 495},
		{"exactly at threshold", at(10, 15, 0), nil, 45, 315},
		{"short shift has no auto break", at(10, 14, 59), nil, 0, 359},
		{"short shift keeps manual break", at(10, 14, 0), minutes(15), 15, 285},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, policy)
			ctx := context.Background()

			_, err := f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 0))
			require.NoError(t, err)
			rec, err := f.ledger.ClockOut(ctx, employee, storeID, storeCoord, tt.out, tt.manual)
			require.NoError(t, err)

			assert.Equal(t, tt.wantBreak, rec.TotalBreakMinutes)
			assert.Equal(t, tt.wantWork, rec.TotalWorkMinutes)
		})
	}
}

func TestLedger_WorkMinutesRoundToNearest(t *testing.T) {
	in := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		out  time.Time
		want int
	}{
		{"just under half a minute", in.Add(8*time.Hour + 29*time.Second + 999*time.Millisecond), 480},
		{"half a minute rounds up", in.Add(8*time.Hour + 30*time.Second), 481},
		{"just under a minute", in.Add(8*time.Hour + 59*time.Second), 481},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, attendance.DefaultPolicy())
			ctx := context.Background()

			_, err := f.ledger.ClockIn(ctx, employee, storeID, storeCoord, in)
			require.NoError(t, err)
			rec, err := f.ledger.ClockOut(ctx, employee, storeID, storeCoord, tt.out, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.TotalWorkMinutes)
		})
	}
}

func TestLedger_BreakLongerThanShift_FloorsAtZero(t *testing.T) {
	f := newFixture(t, attendance.DefaultPolicy())
	ctx := context.Background()

	_, err := f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 0))
	require.NoError(t, err)
	rec, err := f.ledger.ClockOut(ctx, employee, storeID, storeCoord, at(10, 9, 30), minutes(60))
	require.NoError(t, err)

	assert.Equal(t, 0, rec.TotalWorkMinutes)
	assert.Equal(t, 0, rec.OvertimeMinutes)
}

// =============================================================================
// GEOFENCE
// =============================================================================

func TestLedger_StrictMode_RejectsOutOfRange(t *testing.T) {
	policy := attendance.DefaultPolicy()
	policy.LocationStrictMode = true
	f := newFixture(t, policy)
	ctx := context.Background()

	_, err := f.ledger.ClockIn(ctx, employee, storeID, farCoord, at(10, 9, 0))

	require.ErrorIs(t, err, attendance.ErrOutOfRange)
	var oor *attendance.OutOfRangeError
	require.ErrorAs(t, err, &oor)
	assert.InDelta(t, 100, oor.DistanceMeters, 1.0)
	assert.Equal(t, 50, oor.RadiusMeters)

	existing, err := f.records.FindRecord(ctx, employee, march(10))
	require.NoError(t, err)
	assert.Nil(t, existing, "rejected punch creates nothing")

	// Moving closer and retrying succeeds
	rec, err := f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 2))
	require.NoError(t, err)
	assert.False(t, rec.HasLocationWarning())
}

func TestLedger_StrictMode_RejectsOutOfRangeClockOut(t *testing.T) {
	policy := attendance.DefaultPolicy()
	policy.LocationStrictMode = true
	f := newFixture(t, policy)
	ctx := context.Background()

	rec, err := f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 0))
	require.NoError(t, err)

	_, err = f.ledger.ClockOut(ctx, employee, storeID, farCoord, at(10, 18, 0), nil)
	require.ErrorIs(t, err, attendance.ErrOutOfRange)

	stored, err := f.ledger.Record(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusInProgress, stored.Status)
}

func TestLedger_LenientMode_AcceptsAndAnnotates(t *testing.T) {
	f := newFixture(t, attendance.DefaultPolicy()) // strict mode off
	ctx := context.Background()

	rec, err := f.ledger.ClockIn(ctx, employee, storeID, farCoord, at(10, 9, 0))
	require.NoError(t, err)

	require.NotNil(t, rec.ClockInCheck)
	assert.False(t, rec.ClockInCheck.WithinRadius)
	assert.False(t, rec.ClockInCheck.Enforced)
	assert.InDelta(t, 100, rec.ClockInCheck.DistanceMeters, 1.0)
	assert.Equal(t, 50, rec.ClockInCheck.RadiusMeters)
	assert.Equal(t, farCoord, rec.ClockInCheck.Reported)
	assert.True(t, rec.HasLocationWarning())

	done, err := f.ledger.ClockOut(ctx, employee, storeID, storeCoord, at(10, 18, 0), nil)
	require.NoError(t, err)
	require.NotNil(t, done.ClockOutCheck)
	assert.True(t, done.ClockOutCheck.WithinRadius)
	assert.True(t, done.HasLocationWarning(), "clock-in warning survives clock-out")
}

func TestLedger_PolicyIsReadFreshOnEveryPunch(t *testing.T) {
	f := newFixture(t, attendance.DefaultPolicy())
	ctx := context.Background()

	_, err := f.ledger.ClockIn(ctx, employee, storeID, farCoord, at(10, 9, 0))
	require.NoError(t, err, "lenient store accepts")

	// WHEN: The administrator turns strict mode on
	strict := attendance.DefaultPolicy()
	strict.LocationStrictMode = true
	f.settings.Put(storeID, strict, geo.StoreLocation{Coordinate: storeCoord, RadiusMeters: 50})

	// THEN: The very next punch is enforced
	_, err = f.ledger.ClockIn(ctx, "emp-2", storeID, farCoord, at(10, 9, 5))
	assert.ErrorIs(t, err, attendance.ErrOutOfRange)

	// WHEN: The radius is widened
	f.settings.Put(storeID, strict, geo.StoreLocation{Coordinate: storeCoord, RadiusMeters: 150})
	_, err = f.ledger.ClockIn(ctx, "emp-2", storeID, farCoord, at(10, 9, 6))
	assert.NoError(t, err)
}

func TestLedger_DuplicateCheckedBeforeLocation(t *testing.T) {
	policy := attendance.DefaultPolicy()
	policy.LocationStrictMode = true
	f := newFixture(t, policy)
	ctx := context.Background()

	_, err := f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 0))
	require.NoError(t, err)

	_, err = f.ledger.ClockIn(ctx, employee, storeID, farCoord, at(10, 9, 1))
	assert.ErrorIs(t, err, attendance.ErrDuplicatePunch)
}

func TestLedger_CheckLocation(t *testing.T) {
	f := newFixture(t, attendance.DefaultPolicy())
	ctx := context.Background()

	check, err := f.ledger.CheckLocation(ctx, storeID, farCoord)
	require.NoError(t, err)
	assert.False(t, check.WithinRadius)
	assert.InDelta(t, 100, check.DistanceMeters, 1.0)

	check, err = f.ledger.CheckLocation(ctx, storeID, storeCoord)
	require.NoError(t, err)
	assert.True(t, check.WithinRadius)

	_, err = f.ledger.CheckLocation(ctx, "nowhere", storeCoord)
	assert.ErrorIs(t, err, attendance.ErrStoreNotFound)

	recs, err := f.ledger.Records(ctx, employee, march(1), march(31))
	require.NoError(t, err)
	assert.Empty(t, recs, "CheckLocation never mutates")
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestLedger_InvalidPunches(t *testing.T) {
	f := newFixture(t, attendance.DefaultPolicy())
	ctx := context.Background()

	tests := []struct {
		name  string
		event attendance.PunchEvent
		want  error
	}{
		{"latitude out of range", attendance.PunchEvent{EmployeeID: employee, StoreID: storeID, Action: attendance.ActionClockIn, Coordinate: geo.Coordinate{Latitude: 91}, Timestamp: at(10, 9, 0)}, geo.ErrInvalidCoordinate},
		{"longitude out of range", attendance.PunchEvent{EmployeeID: employee, StoreID: storeID, Action: attendance.ActionClockIn, Coordinate: geo.Coordinate{Longitude: -190}, Timestamp: at(10, 9, 0)}, geo.ErrInvalidCoordinate},
		{"missing employee", attendance.PunchEvent{StoreID: storeID, Action: attendance.ActionClockIn, Coordinate: storeCoord, Timestamp: at(10, 9, 0)}, attendance.ErrInvalidPunch},
		{"email as employee id", attendance.PunchEvent{EmployeeID: "jane@example.com", StoreID: storeID, Action: attendance.ActionClockIn, Coordinate: storeCoord, Timestamp: at(10, 9, 0)}, attendance.ErrInvalidPunch},
		{"missing store", attendance.PunchEvent{EmployeeID: employee, Action: attendance.ActionClockIn, Coordinate: storeCoord, Timestamp: at(10, 9, 0)}, attendance.ErrInvalidPunch},
		{"missing timestamp", attendance.PunchEvent{EmployeeID: employee, StoreID: storeID, Action: attendance.ActionClockIn, Coordinate: storeCoord}, attendance.ErrInvalidPunch},
		{"negative break", attendance.PunchEvent{EmployeeID: employee, StoreID: storeID, Action: attendance.ActionClockOut, Coordinate: storeCoord, Timestamp: at(10, 9, 0), ManualBreakMinutes: minutes(-5)}, attendance.ErrInvalidPunch},
		{"unknown action", attendance.PunchEvent{EmployeeID: employee, StoreID: storeID, Action: "BREAK", Coordinate: storeCoord, Timestamp: at(10, 9, 0)}, attendance.ErrInvalidPunch},
		{"unknown store", attendance.PunchEvent{EmployeeID: employee, StoreID: "nowhere", Action: attendance.ActionClockIn, Coordinate: storeCoord, Timestamp: at(10, 9, 0)}, attendance.ErrStoreNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.Punch(ctx, tt.event)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	recs, err := f.ledger.Records(ctx, employee, march(1), march(31))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestLedger_DateUsesStoreTimezone(t *testing.T) {
	policy := attendance.DefaultPolicy()
	policy.Timezone = "Asia/Tokyo"
	f := newFixture(t, policy)

	// 23:30 UTC on March 10 is 08:30 on March 11 in Tokyo
	rec, err := f.ledger.ClockIn(context.Background(), employee, storeID, storeCoord, at(10, 23, 30))
	require.NoError(t, err)
	assert.Equal(t, march(11), rec.Date)
}

func TestLedger_InvalidPolicyTimezone(t *testing.T) {
	policy := attendance.DefaultPolicy()
	policy.Timezone = "Mars/Olympus_Mons"
	f := newFixture(t, policy)

	_, err := f.ledger.ClockIn(context.Background(), employee, storeID, storeCoord, at(10, 9, 0))
	assert.Error(t, err)
}

// =============================================================================
// STORE FAILURES
// =============================================================================

// flakyStore fails selected operations.
type flakyStore struct {
	*store.Memory
	findErr   error
	createErr error
	updateErr error
}

func (s *flakyStore) FindRecord(ctx context.Context, id attendance.EmployeeID, d attendance.WorkDate) (*attendance.Record, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.Memory.FindRecord(ctx, id, d)
}

func (s *flakyStore) Create(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	if s.createErr != nil {
		return attendance.Record{}, s.createErr
	}
	return s.Memory.Create(ctx, rec)
}

func (s *flakyStore) Update(ctx context.Context, id attendance.RecordID, u attendance.RecordUpdate) (attendance.Record, error) {
	if s.updateErr != nil {
		return attendance.Record{}, s.updateErr
	}
	return s.Memory.Update(ctx, id, u)
}

func TestLedger_StoreFailures_AreTypedAndLeaveNoPartialState(t *testing.T) {
	errDisk := errors.New("disk I/O error")
	records := &flakyStore{Memory: store.NewMemory()}
	settings := store.NewSettings()
	settings.Put(storeID, attendance.DefaultPolicy(), geo.StoreLocation{Coordinate: storeCoord, RadiusMeters: 50})
	ledger := attendance.NewLedger(records, settings)
	ctx := context.Background()

	records.findErr = errDisk
	_, err := ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 0))
	assert.ErrorIs(t, err, attendance.ErrStoreUnavailable)
	assert.ErrorIs(t, err, errDisk)
	assert.True(t, attendance.IsRetryable(err))

	records.findErr = nil
	records.createErr = errDisk
	_, err = ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 0))
	assert.ErrorIs(t, err, attendance.ErrStoreUnavailable)

	records.createErr = nil
	rec, err := ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 0))
	require.NoError(t, err)

	records.updateErr = errDisk
	_, err = ledger.ClockOut(ctx, employee, storeID, storeCoord, at(10, 18, 0), nil)
	assert.ErrorIs(t, err, attendance.ErrStoreUnavailable)

	stored, err := records.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusInProgress, stored.Status)
	assert.Nil(t, stored.ClockOutTime)
	assert.Zero(t, stored.TotalWorkMinutes)

	// Caller retries after the store recovers
	records.updateErr = nil
	done, err := ledger.ClockOut(ctx, employee, storeID, storeCoord, at(10, 18, 0), nil)
	require.NoError(t, err)
	assert.Equal(t, 540, done.TotalWorkMinutes)
}

func TestLedger_StoreUniqueness_MapsToDuplicatePunch(t *testing.T) {
	records := &flakyStore{Memory: store.NewMemory(), createErr: fmt.Errorf("insert: %w", attendance.ErrRecordExists)}
	settings := store.NewSettings()
	settings.Put(storeID, attendance.DefaultPolicy(), geo.StoreLocation{Coordinate: storeCoord})
	ledger := attendance.NewLedger(records, settings)

	_, err := ledger.ClockIn(context.Background(), employee, storeID, storeCoord, at(10, 9, 0))
	assert.ErrorIs(t, err, attendance.ErrDuplicatePunch)
	assert.False(t, attendance.IsRetryable(err))
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func clockInConcurrently(t *testing.T, n int, punch func() error) (created, duplicates int) {
	t.Helper()
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		start = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := punch()
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, attendance.ErrDuplicatePunch):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()
	return created, duplicates
}

func TestLedger_ConcurrentClockIn_ExactlyOneRecord(t *testing.T) {
	f := newFixture(t, attendance.DefaultPolicy())
	ctx := context.Background()
	const n = 50

	created, duplicates := clockInConcurrently(t, n, func() error {
		_, err := f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 0))
		return err
	})

	assert.Equal(t, 1, created)
	assert.Equal(t, n-1, duplicates)

	recs, err := f.ledger.Records(ctx, employee, march(10), march(10))
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestLedger_ConcurrentClockIn_TwoLedgersShareStore(t *testing.T) {
	// GIVEN: Two ledgers (e.g. two processes) over one store. Only the store's
	// uniqueness constraint stands between them.
	f := newFixture(t, attendance.DefaultPolicy())
	other := attendance.NewLedger(f.records, f.settings)
	ledgers := []*attendance.Ledger{f.ledger, other}
	ctx := context.Background()
	const n = 40

	var next int
	var mu sync.Mutex
	created, duplicates := clockInConcurrently(t, n, func() error {
		mu.Lock()
		l := ledgers[next%2]
		next++
		mu.Unlock()
		_, err := l.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 0))
		return err
	})

	assert.Equal(t, 1, created)
	assert.Equal(t, n-1, duplicates)
}

func TestLedger_ConcurrentClockIn_DifferentEmployeesAllSucceed(t *testing.T) {
	f := newFixture(t, attendance.DefaultPolicy())
	ctx := context.Background()
	const n = 30

	var counter int
	var mu sync.Mutex
	created, duplicates := clockInConcurrently(t, n, func() error {
		mu.Lock()
		id := attendance.EmployeeID(fmt.Sprintf("emp-%d", counter))
		counter++
		mu.Unlock()
		_, err := f.ledger.ClockIn(ctx, id, storeID, storeCoord, at(10, 9, 0))
		return err
	})

	assert.Equal(t, n, created)
	assert.Zero(t, duplicates)
}

func TestLedger_ConcurrentClockOut_ClosesOnce(t *testing.T) {
	f := newFixture(t, attendance.DefaultPolicy())
	ctx := context.Background()
	_, err := f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 0))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	closed, rejected := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.ClockOut(ctx, employee, storeID, storeCoord, at(10, 18, 0), nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				closed++
			} else if errors.Is(err, attendance.ErrNoOpenRecord) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, closed)
	assert.Equal(t, 19, rejected)
}

// =============================================================================
// ADMINISTRATIVE CORRECTION
// =============================================================================

func TestLedger_Correct_RecomputesDerivedFields(t *testing.T) {
	f := newFixture(t, attendance.DefaultPolicy())
	ctx := context.Background()

	_, err := f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 0))
	require.NoError(t, err)
	rec, err := f.ledger.ClockOut(ctx, employee, storeID, storeCoord, at(10, 18, 0), minutes(60))
	require.NoError(t, err)
	require.Equal(t, 480, rec.TotalWorkMinutes)

	// WHEN: The manager fixes a forgotten late clock-out
	out := at(10, 19, 30)
	fixed, err := f.ledger.Correct(ctx, rec.ID, attendance.Correction{ClockOutTime: &out})
	require.NoError(t, err)

	assert.Equal(t, 570, fixed.TotalWorkMinutes)
	assert.Equal(t, 90, fixed.OvertimeMinutes)
	assert.Equal(t, 60, fixed.TotalBreakMinutes)
	assert.Equal(t, attendance.StatusCompleted, fixed.Status)

	// WHEN: The break is corrected
	fixed, err = f.ledger.Correct(ctx, rec.ID, attendance.Correction{TotalBreakMinutes: minutes(30)})
	require.NoError(t, err)
	assert.Equal(t, 600, fixed.TotalWorkMinutes)
	assert.Equal(t, 120, fixed.OvertimeMinutes)
}

func TestLedger_Correct_DropsAutoBreakWhenShiftShortened(t *testing.T) {
	policy := attendance.DefaultPolicy()
	policy.AutoBreakEnabled = true
	policy.AutoBreakStartHours = 6
	policy.AutoBreakDurationMinutes = 60
	f := newFixture(t, policy)
	ctx := context.Background()

	// GIVEN: A 9h shift with no manual break, so the auto-break applied
	_, err := f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 0))
	require.NoError(t, err)
	rec, err := f.ledger.ClockOut(ctx, employee, storeID, storeCoord, at(10, 18, 0), nil)
	require.NoError(t, err)
	require.Equal(t, 60, rec.TotalBreakMinutes)
	require.Equal(t, 480, rec.TotalWorkMinutes)
	assert.Equal(t, 0, rec.ManualBreakMinutes)

	// WHEN: The clock-out is corrected to 13:00, a 4h shift
	out := at(10, 13, 0)
	fixed, err := f.ledger.Correct(ctx, rec.ID, attendance.Correction{ClockOutTime: &out})
	require.NoError(t, err)

	// THEN: Same totals as a fresh 4h shift
	assert.Equal(t, 0, fixed.TotalBreakMinutes)
	assert.Equal(t, 240, fixed.TotalWorkMinutes)

	// WHEN: Extended back past the threshold
	out = at(10, 18, 0)
	fixed, err = f.ledger.Correct(ctx, rec.ID, attendance.Correction{ClockOutTime: &out})
	require.NoError(t, err)

	// THEN: The auto-break comes back
	assert.Equal(t, 60, fixed.TotalBreakMinutes)
	assert.Equal(t, 480, fixed.TotalWorkMinutes)
}

func TestLedger_Correct_KeepsManualBreakOnShortShift(t *testing.T) {
	policy := attendance.DefaultPolicy()
	policy.AutoBreakEnabled = true
	policy.AutoBreakStartHours = 6
	policy.AutoBreakDurationMinutes = 60
	f := newFixture(t, policy)
	ctx := context.Background()

	_, err := f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 0))
	require.NoError(t, err)
	rec, err := f.ledger.ClockOut(ctx, employee, storeID, storeCoord, at(10, 18, 0), minutes(30))
	require.NoError(t, err)
	require.Equal(t, 60, rec.TotalBreakMinutes)
	require.Equal(t, 30, rec.ManualBreakMinutes)

	out := at(10, 14, 0)
	fixed, err := f.ledger.Correct(ctx, rec.ID, attendance.Correction{ClockOutTime: &out})
	require.NoError(t, err)
	assert.Equal(t, 30, fixed.TotalBreakMinutes)
	assert.Equal(t, 270, fixed.TotalWorkMinutes)
}

func TestLedger_Correct_ClosesOpenRecord(t *testing.T) {
	f := newFixture(t, attendance.DefaultPolicy())
	ctx := context.Background()

	rec, err := f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 0))
	require.NoError(t, err)

	out := at(10, 17, 0)
	fixed, err := f.ledger.Correct(ctx, rec.ID, attendance.Correction{ClockOutTime: &out})
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusCompleted, fixed.Status)
	assert.Equal(t, 480, fixed.TotalWorkMinutes)

	_, err = f.ledger.ClockOut(ctx, employee, storeID, storeCoord, at(10, 18, 0), nil)
	assert.ErrorIs(t, err, attendance.ErrNoOpenRecord)
}

func TestLedger_Correct_Rejections(t *testing.T) {
	f := newFixture(t, attendance.DefaultPolicy())
	ctx := context.Background()

	rec, err := f.ledger.ClockIn(ctx, employee, storeID, storeCoord, at(10, 9, 0))
	require.NoError(t, err)

	early := at(10, 8, 0)
	_, err = f.ledger.Correct(ctx, rec.ID, attendance.Correction{ClockOutTime: &early})
	assert.ErrorIs(t, err, attendance.ErrInvalidCorrection)
	assert.ErrorIs(t, err, attendance.ErrClockOutNotAfterClockIn)

	otherDay := at(12, 9, 0)
	_, err = f.ledger.Correct(ctx, rec.ID, attendance.Correction{ClockInTime: &otherDay})
	assert.ErrorIs(t, err, attendance.ErrInvalidCorrection)

	_, err = f.ledger.Correct(ctx, rec.ID, attendance.Correction{TotalBreakMinutes: minutes(-1)})
	assert.ErrorIs(t, err, attendance.ErrInvalidCorrection)

	_, err = f.ledger.Correct(ctx, "missing", attendance.Correction{})
	assert.ErrorIs(t, err, attendance.ErrRecordNotFound)
	assert.True(t, attendance.IsNotFound(err))
}

// =============================================================================
// QUERIES
// =============================================================================

func TestLedger_Records_RequiresRange(t *testing.T) {
	f := newFixture(t, attendance.DefaultPolicy())
	ctx := context.Background()

	_, err := f.ledger.Records(ctx, employee, attendance.WorkDate{}, march(10))
	assert.ErrorIs(t, err, attendance.ErrInvalidPunch)
	assert.True(t, attendance.IsClientError(err))

	_, err = f.ledger.Records(ctx, employee, march(10), march(1))
	assert.ErrorIs(t, err, attendance.ErrInvalidPunch)
}

func TestLedger_DateAt_UsesStoreTimezone(t *testing.T) {
	policy := attendance.DefaultPolicy()
	policy.Timezone = "Asia/Tokyo"
	f := newFixture(t, policy)
	ctx := context.Background()

	d, err := f.ledger.DateAt(ctx, storeID, at(10, 22, 0))
	require.NoError(t, err)
	assert.Equal(t, march(11), d)

	_, err = f.ledger.DateAt(ctx, "nowhere", at(10, 22, 0))
	assert.ErrorIs(t, err, attendance.ErrStoreNotFound)
}

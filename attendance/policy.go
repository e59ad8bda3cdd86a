package attendance

import (
	"fmt"
	"time"
)

// Policy is one store's attendance settings. It is a read-only snapshot: the
// ledger asks the PolicyProvider for a fresh one on every punch.
type Policy struct {
	AutoBreakEnabled         bool
	AutoBreakStartHours      float64 // elapsed hours at which the automatic break applies
	AutoBreakDurationMinutes int
	OvertimeThresholdMinutes int

	// Grace windows around scheduled shifts. Informational only; shifts are
	// not known to the ledger.
	EarlyClockInMinutes int
	LateClockOutMinutes int

	// LocationStrictMode rejects punches outside the geofence. When false they
	// are accepted and the miss is kept on the record.
	LocationStrictMode bool

	// Timezone is the IANA zone that decides a punch's calendar day.
	Timezone string
}

const (
	DefaultOvertimeThresholdMinutes = 480
	DefaultAutoBreakStartHours      = 6.0
	DefaultAutoBreakDurationMinutes = 60
	DefaultEarlyClockInMinutes      = 15
	DefaultLateClockOutMinutes      = 15
	DefaultTimezone                 = "UTC"
)

// DefaultPolicy returns the settings applied to a store that has configured nothing.
func DefaultPolicy() Policy {
	return Policy{
		AutoBreakEnabled:         false,
		AutoBreakStartHours:      DefaultAutoBreakStartHours,
		AutoBreakDurationMinutes: DefaultAutoBreakDurationMinutes,
		OvertimeThresholdMinutes: DefaultOvertimeThresholdMinutes,
		EarlyClockInMinutes:      DefaultEarlyClockInMinutes,
		LateClockOutMinutes:      DefaultLateClockOutMinutes,
		LocationStrictMode:       false,
		Timezone:                 DefaultTimezone,
	}
}

// Validate rejects settings the accounting cannot apply.
func (p Policy) Validate() error {
	if p.AutoBreakStartHours < 0 {
		return fmt.Errorf("auto break start hours must be >= 0, got %v", p.AutoBreakStartHours)
	}
	if p.AutoBreakDurationMinutes < 0 {
		return fmt.Errorf("auto break duration must be >= 0, got %d", p.AutoBreakDurationMinutes)
	}
	if p.OvertimeThresholdMinutes < 0 {
		return fmt.Errorf("overtime threshold must be >= 0, got %d", p.OvertimeThresholdMinutes)
	}
	if p.EarlyClockInMinutes < 0 || p.LateClockOutMinutes < 0 {
		return fmt.Errorf("grace windows must be >= 0")
	}
	if _, err := p.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone. An empty Timezone is UTC.
func (p Policy) Location() (*time.Location, error) {
	if p.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", p.Timezone, err)
	}
	return loc, nil
}

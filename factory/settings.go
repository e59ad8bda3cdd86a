/*
Package factory provides JSON to Go conversion for store attendance settings.

PURPOSE:
  Store administrators configure geofence and attendance policy as a JSON
  document. The factory turns that document into an attendance.Policy and a
  geo.StoreLocation, filling defaults for anything left out.

JSON SCHEMA:
  {
    "store_id": "store-shibuya",
    "name": "Shibuya",
    "location": {"latitude": 35.658, "longitude": 139.7016, "radius_meters": 50},
    "attendance": {
      "auto_break_enabled": true,
      "auto_break_start_hours": 6,
      "auto_break_duration_minutes": 45,
      "overtime_threshold_minutes": 480,
      "early_clock_in_minutes": 15,
      "late_clock_out_minutes": 15,
      "location_strict_mode": true,
      "timezone": "Asia/Tokyo"
    }
  }

DEFAULTS:
  Every attendance field is optional and falls back to attendance.DefaultPolicy().
  radius_meters falls back to geo.DefaultRadiusMeters. latitude and longitude
  are required.

USAGE:
  f := factory.NewSettingsFactory()
  settings, err := f.ParseSettings(jsonStr)
  ledgerPolicy := settings.Policy

SEE ALSO:
  - attendance/policy.go: Policy definition and defaults
  - store/sqlite/sqlite.go: Persists the raw JSON, parses through this factory
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warp/punch-engine/attendance"
	"github.com/warp/punch-engine/geo"
)

// ErrInvalidSettings wraps every validation failure of a settings document.
var ErrInvalidSettings = errors.New("invalid store settings")

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// SettingsJSON is the JSON representation of one store's settings.
type SettingsJSON struct {
	StoreID    string          `json:"store_id"`
	Name       string          `json:"name,omitempty"`
	Location   LocationJSON    `json:"location"`
	Attendance *AttendanceJSON `json:"attendance,omitempty"`
}

// LocationJSON is the store's registered position.
type LocationJSON struct {
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	RadiusMeters *int     `json:"radius_meters,omitempty"`
}

// AttendanceJSON is the attendance policy. Nil means "use the default".
type AttendanceJSON struct {
	AutoBreakEnabled         *bool    `json:"auto_break_enabled,omitempty"`
	AutoBreakStartHours      *float64 `json:"auto_break_start_hours,omitempty"`
	AutoBreakDurationMinutes *int     `json:"auto_break_duration_minutes,omitempty"`
	OvertimeThresholdMinutes *int     `json:"overtime_threshold_minutes,omitempty"`
	EarlyClockInMinutes      *int     `json:"early_clock_in_minutes,omitempty"`
	LateClockOutMinutes      *int     `json:"late_clock_out_minutes,omitempty"`
	LocationStrictMode       *bool    `json:"location_strict_mode,omitempty"`
	Timezone                 string   `json:"timezone,omitempty"`
}

// Settings is a parsed, validated settings document.
type Settings struct {
	StoreID  attendance.StoreID
	Name     string
	Policy   attendance.Policy
	Location geo.StoreLocation
}

// =============================================================================
// SETTINGS FACTORY
// =============================================================================

// SettingsFactory converts JSON settings to Go structs.
type SettingsFactory struct{}

func NewSettingsFactory() *SettingsFactory {
	return &SettingsFactory{}
}

// ParseSettings parses and validates a JSON settings document.
func (f *SettingsFactory) ParseSettings(jsonStr string) (*Settings, error) {
	var sj SettingsJSON
	if err := json.Unmarshal([]byte(jsonStr), &sj); err != nil {
		return nil, fmt.Errorf("%w: failed to parse settings JSON: %v", ErrInvalidSettings, err)
	}
	return f.FromJSON(sj)
}

// FromJSON applies defaults and validates.
func (f *SettingsFactory) FromJSON(sj SettingsJSON) (*Settings, error) {
	if sj.StoreID == "" {
		return nil, fmt.Errorf("%w: store_id is required", ErrInvalidSettings)
	}
	if sj.Location.Latitude == nil || sj.Location.Longitude == nil {
		return nil, fmt.Errorf("%w: location.latitude and location.longitude are required", ErrInvalidSettings)
	}

	loc := geo.StoreLocation{
		Coordinate: geo.Coordinate{Latitude: *sj.Location.Latitude, Longitude: *sj.Location.Longitude},
	}
	if err := loc.Coordinate.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	if r := sj.Location.RadiusMeters; r != nil {
		if *r <= 0 {
			return nil, fmt.Errorf("%w: radius_meters must be positive, got %d", ErrInvalidSettings, *r)
		}
		loc.RadiusMeters = *r
	} else {
		loc.RadiusMeters = geo.DefaultRadiusMeters
	}

	policy := attendance.DefaultPolicy()
	if aj := sj.Attendance; aj != nil {
		setBool(&policy.AutoBreakEnabled, aj.AutoBreakEnabled)
		setFloat(&policy.AutoBreakStartHours, aj.AutoBreakStartHours)
		setInt(&policy.AutoBreakDurationMinutes, aj.AutoBreakDurationMinutes)
		setInt(&policy.OvertimeThresholdMinutes, aj.OvertimeThresholdMinutes)
		setInt(&policy.EarlyClockInMinutes, aj.EarlyClockInMinutes)
		setInt(&policy.LateClockOutMinutes, aj.LateClockOutMinutes)
		setBool(&policy.LocationStrictMode, aj.LocationStrictMode)
		if aj.Timezone != "" {
			policy.Timezone = aj.Timezone
		}
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	return &Settings{
		StoreID:  attendance.StoreID(sj.StoreID),
		Name:     sj.Name,
		Policy:   policy,
		Location: loc,
	}, nil
}

// ToJSON converts Settings back to its document form with every field explicit.
func (f *SettingsFactory) ToJSON(s Settings) SettingsJSON {
	lat, lng, radius := s.Location.Coordinate.Latitude, s.Location.Coordinate.Longitude, s.Location.RadiusMeters
	p := s.Policy
	return SettingsJSON{
		StoreID:  string(s.StoreID),
		Name:     s.Name,
		Location: LocationJSON{Latitude: &lat, Longitude: &lng, RadiusMeters: &radius},
		Attendance: &AttendanceJSON{
			AutoBreakEnabled:         &p.AutoBreakEnabled,
			AutoBreakStartHours:      &p.AutoBreakStartHours,
			AutoBreakDurationMinutes: &p.AutoBreakDurationMinutes,
			OvertimeThresholdMinutes: &p.OvertimeThresholdMinutes,
			EarlyClockInMinutes:      &p.EarlyClockInMinutes,
			LateClockOutMinutes:      &p.LateClockOutMinutes,
			LocationStrictMode:       &p.LocationStrictMode,
			Timezone:                 p.Timezone,
		},
	}
}

// =============================================================================
// PRESETS
// =============================================================================

// StandardStoreJSON returns a settings document with default policy: 8h overtime
// threshold, auto-break off, lenient geofence.
func StandardStoreJSON(storeID string, lat, lng float64, radiusMeters int) string {
	return fmt.Sprintf(`{
		"store_id": %q,
		"location": {"latitude": %v, "longitude": %v, "radius_meters": %d}
	}`, storeID, lat, lng, radiusMeters)
}

// StrictStoreJSON returns a settings document that rejects punches outside the
// geofence and deducts a 60 minute break after 6 hours.
func StrictStoreJSON(storeID string, lat, lng float64, radiusMeters int, timezone string) string {
	return fmt.Sprintf(`{
		"store_id": %q,
		"location": {"latitude": %v, "longitude": %v, "radius_meters": %d},
		"attendance": {
			"auto_break_enabled": true,
			"auto_break_start_hours": 6,
			"auto_break_duration_minutes": 60,
			"location_strict_mode": true,
			"timezone": %q
		}
	}`, storeID, lat, lng, radiusMeters, timezone)
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the attendance domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Wrappers

TYPES:
  Punches:
    ClockInRequest, ClockOutRequest, RecordDTO, LocationCheckDTO

  Corrections:
    CorrectionRequest

  Geofence:
    LocationCheckResponse

  Settings:
    SettingsResponse (wraps factory.SettingsJSON)

VALIDATION:
  Request types carry go-playground/validator struct tags. Handlers call
  validate.Struct before touching the ledger. Latitude and longitude are
  pointers so that 0 is a real coordinate and absence is a validation error.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/settings.go: SettingsJSON type
*/
package api

import (
	"time"

	"github.com/warp/punch-engine/attendance"
	"github.com/warp/punch-engine/factory"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ClockInRequest is the body of POST /api/attendance/clock-in.
type ClockInRequest struct {
	EmployeeID string     `json:"employee_id" validate:"required,excludes=@"`
	StoreID    string     `json:"store_id" validate:"required"`
	Latitude   *float64   `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude  *float64   `json:"longitude" validate:"required,gte=-180,lte=180"`
	Timestamp  *time.Time `json:"timestamp,omitempty"` // server clock when absent
}

// ClockOutRequest is the body of POST /api/attendance/clock-out.
type ClockOutRequest struct {
	ClockInRequest
	ManualBreakMinutes *int `json:"manual_break_minutes,omitempty" validate:"omitempty,gte=0"`
}

// CorrectionRequest is the body of PATCH /api/attendance/{id}.
type CorrectionRequest struct {
	ClockInTime       *time.Time `json:"clock_in_time,omitempty"`
	ClockOutTime      *time.Time `json:"clock_out_time,omitempty"`
	TotalBreakMinutes *int       `json:"total_break_minutes,omitempty" validate:"omitempty,gte=0"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// LocationCheckDTO is the geofence outcome stored with one punch.
type LocationCheckDTO struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	DistanceMeters float64 `json:"distance_meters"`
	RadiusMeters   int     `json:"radius_meters"`
	WithinRadius   bool    `json:"within_radius"`
	Enforced       bool    `json:"enforced"`
}

// RecordDTO represents an attendance record in API responses.
type RecordDTO struct {
	ID           string     `json:"id"`
	EmployeeID   string     `json:"employee_id"`
	StoreID      string     `json:"store_id"`
	Date         string     `json:"date"`
	ClockInTime  *time.Time `json:"clock_in_time"`
	ClockOutTime *time.Time `json:"clock_out_time"`
	Status       string     `json:"status"`

	ManualBreakMinutes int `json:"manual_break_minutes"`
	TotalBreakMinutes  int `json:"total_break_minutes"`
	TotalWorkMinutes   int `json:"total_work_minutes"`
	OvertimeMinutes    int `json:"overtime_minutes"`

	// Display values, rounded to two decimals.
	WorkHours     string `json:"work_hours"`
	OvertimeHours string `json:"overtime_hours"`

	LocationWarning bool              `json:"location_warning"`
	ClockInCheck    *LocationCheckDTO `json:"clock_in_check,omitempty"`
	ClockOutCheck   *LocationCheckDTO `json:"clock_out_check,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordListResponse wraps an employee's attendance history.
type RecordListResponse struct {
	EmployeeID         string      `json:"employee_id"`
	From               string      `json:"from"`
	To                 string      `json:"to"`
	Records            []RecordDTO `json:"records"`
	TotalWorkMinutes   int         `json:"total_work_minutes"`
	TotalOvertimeHours string      `json:"total_overtime_hours"`
}

// LocationCheckResponse is returned by GET /api/stores/{id}/location-check.
type LocationCheckResponse struct {
	StoreID        string  `json:"store_id"`
	DistanceMeters float64 `json:"distance_meters"`
	RadiusMeters   int     `json:"radius_meters"`
	WithinRadius   bool    `json:"within_radius"`
}

// SettingsResponse is a stored settings document with its metadata.
type SettingsResponse struct {
	Settings  factory.SettingsJSON `json:"settings"`
	Version   int                  `json:"version"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details string         `json:"details,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"` // per-field validation tags, or geofence figures
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toRecordDTO(r attendance.Record) RecordDTO {
	return RecordDTO{
		ID:                 string(r.ID),
		EmployeeID:         string(r.EmployeeID),
		StoreID:            string(r.StoreID),
		Date:               r.Date.String(),
		ClockInTime:        r.ClockInTime,
		ClockOutTime:       r.ClockOutTime,
		Status:             string(r.Status),
		ManualBreakMinutes: r.ManualBreakMinutes,
		TotalBreakMinutes:  r.TotalBreakMinutes,
		TotalWorkMinutes:   r.TotalWorkMinutes,
		OvertimeMinutes:    r.OvertimeMinutes,
		WorkHours:          attendance.HoursOf(r.TotalWorkMinutes).StringFixed(2),
		OvertimeHours:      attendance.HoursOf(r.OvertimeMinutes).StringFixed(2),
		LocationWarning:    r.HasLocationWarning(),
		ClockInCheck:       toCheckDTO(r.ClockInCheck),
		ClockOutCheck:      toCheckDTO(r.ClockOutCheck),
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func toCheckDTO(c *attendance.LocationCheck) *LocationCheckDTO {
	if c == nil {
		return nil
	}
	return &LocationCheckDTO{
		Latitude:       c.Reported.Latitude,
		Longitude:      c.Reported.Longitude,
		DistanceMeters: c.DistanceMeters,
		RadiusMeters:   c.RadiusMeters,
		WithinRadius:   c.WithinRadius,
		Enforced:       c.Enforced,
	}
}

/*
handlers.go - HTTP API handlers for store attendance

PURPOSE:
  Exposes the attendance ledger via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to the ledger.

ENDPOINTS:
  Punches:
    POST   /api/attendance/clock-in       Open today's record
    POST   /api/attendance/clock-out      Close the open record
    GET    /api/attendance/{id}           Get one record
    PATCH  /api/attendance/{id}           Administrative correction

  History:
    GET    /api/employees/{id}/attendance?from=&to=   Employee history
    GET    /api/stores/{id}/attendance?date=          Store daily sheet

  Stores:
    GET    /api/stores/{id}/location-check?lat=&lng=  Geofence preview
    GET    /api/stores/{id}/settings                  Settings document
    PUT    /api/stores/{id}/settings                  Replace settings

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: SQLite records and settings
  - Ledger: State machine over Store
  - validate: go-playground/validator instance shared by all requests

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (struct tags)
  3. Call the ledger
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON {error, code, details} with HTTP status:
  - 400: Validation errors, invalid coordinates, clock order
  - 404: Record or store not found
  - 409: Already clocked in, nothing to clock out, concurrent change
  - 422: Outside the store's geofence in strict mode
  - 503: Store unavailable
  - 500: Internal errors

TIMESTAMPS:
  A punch without a timestamp is stamped with the handler's clock when the
  request arrives.

SECURITY NOTE:
  No authentication. employee_id is trusted as sent; resolving a session to
  an employee belongs in middleware in front of this router.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/punch-engine/attendance"
	"github.com/warp/punch-engine/factory"
	"github.com/warp/punch-engine/geo"
	"github.com/warp/punch-engine/store/sqlite"
)

// DefaultHistoryDays is the window returned when a history query omits from.
const DefaultHistoryDays = 30

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store           *sqlite.Store
	Ledger          *attendance.Ledger
	SettingsFactory *factory.SettingsFactory

	// Now stamps punches that arrive without a timestamp.
	Now func() time.Time

	validate *validator.Validate
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store) *Handler {
	return &Handler{
		Store:           store,
		Ledger:          attendance.NewLedger(store, store),
		SettingsFactory: factory.NewSettingsFactory(),
		Now:             func() time.Time { return time.Now().UTC() },
		validate:        validator.New(),
	}
}

// =============================================================================
// PUNCH HANDLERS
// =============================================================================

// ClockIn opens the employee's record for today.
func (h *Handler) ClockIn(w http.ResponseWriter, r *http.Request) {
	var req ClockInRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.Ledger.ClockIn(r.Context(),
		attendance.EmployeeID(req.EmployeeID),
		attendance.StoreID(req.StoreID),
		geo.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude},
		h.stamp(req.Timestamp),
	)
	if err != nil {
		writeLedgerError(w, "Clock-in rejected", err)
		return
	}

	writeJSON(w, http.StatusCreated, toRecordDTO(rec))
}

// ClockOut closes the employee's open record.
func (h *Handler) ClockOut(w http.ResponseWriter, r *http.Request) {
	var req ClockOutRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.Ledger.ClockOut(r.Context(),
		attendance.EmployeeID(req.EmployeeID),
		attendance.StoreID(req.StoreID),
		geo.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude},
		h.stamp(req.Timestamp),
		req.ManualBreakMinutes,
	)
	if err != nil {
		writeLedgerError(w, "Clock-out rejected", err)
		return
	}

	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// GetRecord returns a single attendance record.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := attendance.RecordID(chi.URLParam(r, "id"))

	rec, err := h.Ledger.Record(r.Context(), id)
	if err != nil {
		writeLedgerError(w, "Failed to get attendance record", err)
		return
	}

	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// CorrectRecord applies an administrative edit.
func (h *Handler) CorrectRecord(w http.ResponseWriter, r *http.Request) {
	id := attendance.RecordID(chi.URLParam(r, "id"))

	var req CorrectionRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.Ledger.Correct(r.Context(), id, attendance.Correction{
		ClockInTime:       req.ClockInTime,
		ClockOutTime:      req.ClockOutTime,
		TotalBreakMinutes: req.TotalBreakMinutes,
	})
	if err != nil {
		writeLedgerError(w, "Correction rejected", err)
		return
	}

	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// =============================================================================
// HISTORY HANDLERS
// =============================================================================

// ListEmployeeRecords returns an employee's records in [from, to]. to defaults
// to today, in the timezone of store_id when given and UTC otherwise; from
// defaults to DefaultHistoryDays before to.
func (h *Handler) ListEmployeeRecords(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "id")
	q := r.URL.Query()

	var to attendance.WorkDate
	if s := q.Get("to"); s != "" {
		d, err := attendance.ParseWorkDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid to date (use YYYY-MM-DD)", err)
			return
		}
		to = d
	} else if storeID := q.Get("store_id"); storeID != "" {
		d, err := h.Ledger.DateAt(r.Context(), attendance.StoreID(storeID), h.Now())
		if err != nil {
			writeLedgerError(w, "Failed to resolve store date", err)
			return
		}
		to = d
	} else {
		to = attendance.WorkDateOf(h.Now(), time.UTC)
	}
	from := to.AddDays(-DefaultHistoryDays)
	if s := q.Get("from"); s != "" {
		d, err := attendance.ParseWorkDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid from date (use YYYY-MM-DD)", err)
			return
		}
		from = d
	}

	recs, err := h.Ledger.Records(r.Context(), attendance.EmployeeID(employeeID), from, to)
	if err != nil {
		writeLedgerError(w, "Failed to list attendance", err)
		return
	}

	resp := RecordListResponse{
		EmployeeID: employeeID,
		From:       from.String(),
		To:         to.String(),
		Records:    make([]RecordDTO, len(recs)),
	}
	overtime := 0
	for i, rec := range recs {
		resp.Records[i] = toRecordDTO(rec)
		resp.TotalWorkMinutes += rec.TotalWorkMinutes
		overtime += rec.OvertimeMinutes
	}
	resp.TotalOvertimeHours = attendance.HoursOf(overtime).StringFixed(2)

	writeJSON(w, http.StatusOK, resp)
}

// ListStoreDay returns every record at a store for one day, by default today
// in the store's timezone.
func (h *Handler) ListStoreDay(w http.ResponseWriter, r *http.Request) {
	storeID := attendance.StoreID(chi.URLParam(r, "id"))

	var day attendance.WorkDate
	if s := r.URL.Query().Get("date"); s != "" {
		d, err := attendance.ParseWorkDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid date (use YYYY-MM-DD)", err)
			return
		}
		day = d
	} else {
		d, err := h.Ledger.DateAt(r.Context(), storeID, h.Now())
		if err != nil {
			writeLedgerError(w, "Failed to resolve store date", err)
			return
		}
		day = d
	}

	recs, err := h.Store.ListStoreDay(r.Context(), storeID, day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to list store attendance", err)
		return
	}

	dtos := make([]RecordDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// STORE HANDLERS
// =============================================================================

// CheckLocation reports whether a coordinate is inside the store's geofence.
// Nothing is recorded.
func (h *Handler) CheckLocation(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "id")
	q := r.URL.Query()

	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "lat is required and must be a number", err)
		return
	}
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "lng is required and must be a number", err)
		return
	}

	check, err := h.Ledger.CheckLocation(r.Context(), attendance.StoreID(storeID),
		geo.Coordinate{Latitude: lat, Longitude: lng})
	if err != nil {
		writeLedgerError(w, "Location check failed", err)
		return
	}

	writeJSON(w, http.StatusOK, LocationCheckResponse{
		StoreID:        storeID,
		DistanceMeters: check.DistanceMeters,
		RadiusMeters:   check.RadiusMeters,
		WithinRadius:   check.WithinRadius,
	})
}

// GetSettings returns a store's settings with every default made explicit.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	storeID := attendance.StoreID(chi.URLParam(r, "id"))
	ctx := r.Context()

	rec, err := h.Store.GetSettings(ctx, storeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to get settings", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Store not found", nil)
		return
	}

	h.writeSettings(w, http.StatusOK, rec)
}

// PutSettings replaces a store's settings document. The store_id in the body
// may be omitted; when present it must match the URL.
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "id")

	var doc factory.SettingsJSON
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body", err)
		return
	}
	if doc.StoreID == "" {
		doc.StoreID = storeID
	}
	if doc.StoreID != storeID {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST",
			fmt.Sprintf("store_id %q does not match URL %q", doc.StoreID, storeID), nil)
		return
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to encode settings", err)
		return
	}

	rec, err := h.Store.SaveSettings(r.Context(), string(raw))
	if errors.Is(err, factory.ErrInvalidSettings) {
		writeError(w, http.StatusBadRequest, "INVALID_SETTINGS", "Invalid settings", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to save settings", err)
		return
	}

	h.writeSettings(w, http.StatusOK, rec)
}

func (h *Handler) writeSettings(w http.ResponseWriter, status int, rec *sqlite.SettingsRecord) {
	parsed, err := h.SettingsFactory.ParseSettings(rec.ConfigJSON)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Stored settings are invalid", err)
		return
	}
	writeJSON(w, status, SettingsResponse{
		Settings:  h.SettingsFactory.ToJSON(*parsed),
		Version:   rec.Version,
		UpdatedAt: rec.UpdatedAt,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. It writes the error response and
// returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request", err)
			return false
		}
		fields := make(map[string]any, len(ve))
		for _, fe := range ve {
			fields[fe.Field()] = fe.Tag()
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
			Fields:  fields,
		})
		return false
	}
	return true
}

func (h *Handler) stamp(ts *time.Time) time.Time {
	if ts == nil || ts.IsZero() {
		return h.Now()
	}
	return *ts
}

// statusFor maps ledger errors to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, attendance.ErrOutOfRange):
		return http.StatusUnprocessableEntity, "OUT_OF_RANGE"
	case errors.Is(err, attendance.ErrDuplicatePunch):
		return http.StatusConflict, "DUPLICATE_PUNCH"
	case errors.Is(err, attendance.ErrNoOpenRecord):
		return http.StatusConflict, "NO_OPEN_RECORD"
	case errors.Is(err, attendance.ErrStatusConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, attendance.ErrClockOutNotAfterClockIn):
		return http.StatusBadRequest, "CLOCK_ORDER"
	case errors.Is(err, attendance.ErrInvalidCorrection):
		return http.StatusBadRequest, "INVALID_CORRECTION"
	case attendance.IsClientError(err):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case attendance.IsNotFound(err):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, attendance.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func writeLedgerError(w http.ResponseWriter, message string, err error) {
	status, code := statusFor(err)
	resp := ErrorResponse{Error: message, Code: code, Details: err.Error()}

	var oor *attendance.OutOfRangeError
	if errors.As(err, &oor) {
		resp.Fields = map[string]any{
			"distance_meters": oor.DistanceMeters,
			"radius_meters":   oor.RadiusMeters,
		}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// Package store provides in-memory implementations of the attendance collaborators.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/punch-engine/attendance"
	"github.com/warp/punch-engine/geo"
)

// =============================================================================
// MEMORY RECORD STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	records map[attendance.RecordID]attendance.Record
	byDay   map[key]attendance.RecordID
}

type key struct {
	EmployeeID attendance.EmployeeID
	Date       attendance.WorkDate
}

var (
	_ attendance.RecordStore  = (*Memory)(nil)
	_ attendance.RecordLister = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		records: make(map[attendance.RecordID]attendance.Record),
		byDay:   make(map[key]attendance.RecordID),
	}
}

func (m *Memory) FindRecord(_ context.Context, employeeID attendance.EmployeeID, date attendance.WorkDate) (*attendance.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byDay[key{EmployeeID: employeeID, Date: date}]
	if !ok {
		return nil, nil
	}
	rec := clone(m.records[id])
	return &rec, nil
}

// Create inserts rec. The (employee, date) index behaves like a unique constraint.
func (m *Memory) Create(_ context.Context, rec attendance.Record) (attendance.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{EmployeeID: rec.EmployeeID, Date: rec.Date}
	if _, exists := m.byDay[k]; exists {
		return attendance.Record{}, attendance.ErrRecordExists
	}
	if _, exists := m.records[rec.ID]; exists {
		return attendance.Record{}, fmt.Errorf("record id %s already used", rec.ID)
	}

	m.records[rec.ID] = clone(rec)
	m.byDay[k] = rec.ID
	return clone(rec), nil
}

// Update applies fields under the write lock, so it is all-or-nothing.
func (m *Memory) Update(_ context.Context, id attendance.RecordID, fields attendance.RecordUpdate) (attendance.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return attendance.Record{}, attendance.ErrRecordNotFound
	}
	if fields.ExpectStatus != "" && rec.Status != fields.ExpectStatus {
		return attendance.Record{}, attendance.ErrStatusConflict
	}

	updated := clone(fields.Apply(rec))
	m.records[id] = updated
	return clone(updated), nil
}

func (m *Memory) Get(_ context.Context, id attendance.RecordID) (*attendance.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	c := clone(rec)
	return &c, nil
}

func (m *Memory) ListRecords(_ context.Context, employeeID attendance.EmployeeID, from, to attendance.WorkDate) ([]attendance.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []attendance.Record
	for _, rec := range m.records {
		if rec.EmployeeID != employeeID || rec.Date.Before(from) || rec.Date.After(to) {
			continue
		}
		result = append(result, clone(rec))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})
	return result, nil
}

// clone copies the pointer fields so callers never share memory with the store.
func clone(r attendance.Record) attendance.Record {
	if r.ClockInTime != nil {
		t := *r.ClockInTime
		r.ClockInTime = &t
	}
	if r.ClockOutTime != nil {
		t := *r.ClockOutTime
		r.ClockOutTime = &t
	}
	if r.ClockInCheck != nil {
		c := *r.ClockInCheck
		r.ClockInCheck = &c
	}
	if r.ClockOutCheck != nil {
		c := *r.ClockOutCheck
		r.ClockOutCheck = &c
	}
	return r
}

// =============================================================================
// MEMORY SETTINGS - PolicyProvider backed by a map
// =============================================================================

// Settings holds per-store policy and location.
type Settings struct {
	mu       sync.RWMutex
	policies map[attendance.StoreID]attendance.Policy
	location map[attendance.StoreID]geo.StoreLocation
}

var _ attendance.PolicyProvider = (*Settings)(nil)

func NewSettings() *Settings {
	return &Settings{
		policies: make(map[attendance.StoreID]attendance.Policy),
		location: make(map[attendance.StoreID]geo.StoreLocation),
	}
}

// Put replaces a store's settings. Subsequent punches see the new values.
func (s *Settings) Put(storeID attendance.StoreID, policy attendance.Policy, loc geo.StoreLocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[storeID] = policy
	s.location[storeID] = loc
}

func (s *Settings) Policy(_ context.Context, storeID attendance.StoreID) (attendance.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[storeID]
	if !ok {
		return attendance.Policy{}, fmt.Errorf("%w: %s", attendance.ErrStoreNotFound, storeID)
	}
	return p, nil
}

func (s *Settings) StoreLocation(_ context.Context, storeID attendance.StoreID) (geo.StoreLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.location[storeID]
	if !ok {
		return geo.StoreLocation{}, fmt.Errorf("%w: %s", attendance.ErrStoreNotFound, storeID)
	}
	return loc, nil
}

package records

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory, for dev and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	students   map[string]Student
	attendance []AttendanceEntry
	marks      map[string]MarksEntry
	events     []RecordEvent
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		students: make(map[string]Student),
		marks:    make(map[string]MarksEntry),
	}
}

func (m *MemoryStore) InsertStudent(_ context.Context, st Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.students[st.RollNo]; ok {
		return ErrDuplicate
	}
	m.students[st.RollNo] = st
	return nil
}

func (m *MemoryStore) FindStudent(_ context.Context, rollNo string) (*Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.students[rollNo]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *MemoryStore) InsertAttendance(_ context.Context, entry AttendanceEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.attendance {
		if e.RollNo == entry.RollNo && e.Day == entry.Day {
			return ErrDuplicate
		}
	}
	m.attendance = append(m.attendance, entry)
	return nil
}

func (m *MemoryStore) FindAttendanceSince(_ context.Context, rollNo string, since time.Time) (*AttendanceEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.attendance {
		if e.RollNo == rollNo && !e.Date.Before(since) {
			found := e
			return &found, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListAttendance(_ context.Context, q AttendanceQuery) ([]AttendanceEntry, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []AttendanceEntry
	for _, e := range m.attendance {
		if e.RollNo != q.RollNo {
			continue
		}
		if q.HasRange() && (e.Date.Before(q.From) || e.Date.After(q.To)) {
			continue
		}
		matched = append(matched, e)
	}
	total := int64(len(matched))
	if q.Skip < 0 || q.Skip >= len(matched) {
		return nil, total, nil
	}
	matched = matched[q.Skip:]
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	out := make([]AttendanceEntry, len(matched))
	copy(out, matched)
	return out, total, nil
}

func (m *MemoryStore) InsertMarks(_ context.Context, entry MarksEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.marks[entry.RollNo]; ok {
		return ErrDuplicate
	}
	m.marks[entry.RollNo] = entry
	return nil
}

func (m *MemoryStore) FindMarks(_ context.Context, rollNo string) (*MarksEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.marks[rollNo]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// AppendEvent stores an audit event. Redelivered events are ignored.
func (m *MemoryStore) AppendEvent(_ context.Context, ev RecordEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.ID == ev.ID {
			return nil
		}
	}
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the audit trail.
func (m *MemoryStore) Events() []RecordEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RecordEvent, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

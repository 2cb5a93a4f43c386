package attendance

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for development and tests. Reference
// checks apply only once subjects or students have been registered.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	records  map[string][]Record
	subjects map[string]SubjectLabel
	students map[string]studentInfo
}

type studentInfo struct {
	name, roll string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]Session{},
		records:  map[string][]Record{},
		subjects: map[string]SubjectLabel{},
		students: map[string]studentInfo{},
	}
}

var _ Store = (*MemoryStore)(nil)

// AddSubject registers a subject id.
func (m *MemoryStore) AddSubject(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subjects[id]; !ok {
		m.subjects[id] = SubjectLabel{}
	}
}

// NameSubject registers a subject id with its display name and code.
func (m *MemoryStore) NameSubject(id, name, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects[id] = SubjectLabel{SubjectName: &name, SubjectCode: &code}
}

// AddStudent registers a student id with display details.
func (m *MemoryStore) AddStudent(id, name, rollNumber string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[id] = studentInfo{name: name, roll: rollNumber}
}

func (m *MemoryStore) InsertSession(_ context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subjects[s.SubjectID]; len(m.subjects) > 0 && !ok {
		return Session{}, ErrUnknownReference
	}
	if _, exists := m.sessions[s.ID]; exists {
		return Session{}, ErrDuplicateRecord
	}
	s.CreatedAt = s.StartTime
	m.sessions[s.ID] = s
	return s, nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, sql.ErrNoRows
	}
	return s, nil
}

func (m *MemoryStore) DeactivateSession(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, sql.ErrNoRows
	}
	s.IsActive = false
	m.sessions[id] = s
	return s, nil
}

// InsertRecord enforces the (session, student) key under the store lock.
func (m *MemoryStore) InsertRecord(_ context.Context, r Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[r.SessionID]; !ok {
		return Record{}, ErrUnknownReference
	}
	if len(m.students) > 0 {
		if _, ok := m.students[r.StudentID]; !ok {
			return Record{}, ErrUnknownReference
		}
	}
	for _, existing := range m.records[r.SessionID] {
		if existing.StudentID == r.StudentID {
			return Record{}, ErrDuplicateRecord
		}
	}
	m.records[r.SessionID] = append(m.records[r.SessionID], r)
	return r, nil
}

func (m *MemoryStore) ListSessions(_ context.Context, f SessionFilter) ([]SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []SessionSummary{}
	for _, s := range m.sessions {
		if f.SubjectID != "" && s.SubjectID != f.SubjectID {
			continue
		}
		if f.IsActive != nil && s.IsActive != *f.IsActive {
			continue
		}
		out = append(out, SessionSummary{
			Session:         s,
			SubjectLabel:    m.subjects[s.SubjectID],
			StudentsPresent: int64(len(m.records[s.ID])),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []SessionSummary{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ListPresent(_ context.Context, sessionID string) ([]PresentStudent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []PresentStudent{}
	for _, r := range m.records[sessionID] {
		p := PresentStudent{Record: r}
		if info, ok := m.students[r.StudentID]; ok {
			name, roll := info.name, info.roll
			p.StudentName, p.RollNumber = &name, &roll
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *MemoryStore) CountRecords(_ context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.records[sessionID])), nil
}

func (m *MemoryStore) StudentHistory(_ context.Context, studentID, subjectID string) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []HistoryEntry{}
	for sid, recs := range m.records {
		s := m.sessions[sid]
		if subjectID != "" && s.SubjectID != subjectID {
			continue
		}
		for _, r := range recs {
			if r.StudentID == studentID {
				out = append(out, HistoryEntry{
					Record:       r,
					SubjectLabel: m.subjects[s.SubjectID],
					SubjectID:    s.SubjectID,
					StartTime:    s.StartTime,
					EndTime:      s.EndTime,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarkedAt.After(out[j].MarkedAt) })
	return out, nil
}

func (m *MemoryStore) LookupSubject(_ context.Context, subjectID string) (SubjectLabel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subjects[subjectID], nil
}

func (m *MemoryStore) ExpireSessions(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.IsActive && !now.Before(s.EndTime) {
			s.IsActive = false
			m.sessions[id] = s
			n++
		}
	}
	return n, nil
}

package attendance

import (
	"time"

	"qrattendance/internal/geo"
)

// Session is a time-boxed window during which one subject accepts marks.
type Session struct {
	ID            string    `json:"id"`
	SubjectID     string    `json:"subjectId"`
	Token         string    `json:"qrCode"`
	StartTime     time.Time `json:"startTime"`
	EndTime       time.Time `json:"endTime"`
	LocationLat   *float64  `json:"locationLat,omitempty"`
	LocationLng   *float64  `json:"locationLng,omitempty"`
	AllowedRadius *float64  `json:"allowedRadius,omitempty"`
	IsActive      bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Fence returns the session geofence, or nil when the session is not location bound.
func (s Session) Fence() *geo.Fence {
	if s.LocationLat == nil || s.LocationLng == nil || s.AllowedRadius == nil {
		return nil
	}
	return &geo.Fence{Latitude: *s.LocationLat, Longitude: *s.LocationLng, RadiusMeters: *s.AllowedRadius}
}

// Open reports whether the session accepts marks at now.
func (s Session) Open(now time.Time) bool {
	return s.IsActive && now.Before(s.EndTime)
}

// Duration is the configured length of the session window.
func (s Session) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// Record is a single student's proof of presence for a session.
type Record struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"sessionId"`
	StudentID        string    `json:"studentId"`
	LocationLat      *float64  `json:"locationLat,omitempty"`
	LocationLng      *float64  `json:"locationLng,omitempty"`
	LocationAccuracy *float64  `json:"locationAccuracy,omitempty"`
	MarkedAt         time.Time `json:"markedAt"`
}

// Location is the position a student reports with a mark.
type Location struct {
	Latitude  float64
	Longitude float64
	Accuracy  *float64
}

// SubjectLabel is the subject's display name and code, when the subjects
// table has a row for it.
type SubjectLabel struct {
	SubjectName *string `json:"subjectName,omitempty"`
	SubjectCode *string `json:"subjectCode,omitempty"`
}

// SessionSummary is a list row: the session plus its present count.
type SessionSummary struct {
	Session
	SubjectLabel
	StudentsPresent int64 `json:"studentsPresent"`
}

// PresentStudent is a record joined with whatever the students table knows.
type PresentStudent struct {
	Record
	StudentName *string `json:"studentName,omitempty"`
	RollNumber  *string `json:"rollNumber,omitempty"`
}

// SessionDetail is a session with the students marked against it.
type SessionDetail struct {
	Session
	SubjectLabel
	StudentsPresent []PresentStudent `json:"studentsPresent"`
	TotalPresent    int              `json:"totalPresent"`
}

// HistoryEntry is one of a student's records with its session window.
type HistoryEntry struct {
	Record
	SubjectLabel
	SubjectID string    `json:"subjectId"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	SubjectID string
	IsActive  *bool
	Limit     int
	Offset    int
}

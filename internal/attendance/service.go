package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"qrattendance/internal/geo"
	"qrattendance/internal/token"
)

// Defaults applied when Options leave a field zero.
const (
	DefaultRadiusMeters = 50.0
	DefaultMaxDuration  = 30 * time.Minute
	DefaultListLimit    = 100
	MaxListLimit        = 500
)

// Options tune the registry.
type Options struct {
	DefaultRadius float64
	MaxDuration   time.Duration
	// EnforceGeofence re-checks the submitted location against the session
	// fence instead of trusting the scanning client.
	EnforceGeofence bool
	Now             func() time.Time
}

// Service is the session registry: the single authority on whether a mark is accepted.
type Service struct {
	store Store
	opts  Options
}

// NewService creates a registry backed by store.
func NewService(store Store, opts Options) *Service {
	if opts.DefaultRadius <= 0 {
		opts.DefaultRadius = DefaultRadiusMeters
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultMaxDuration
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: store, opts: opts}
}

func (s *Service) now() time.Time { return s.opts.Now().UTC() }

// GeofenceInput is the optional teacher location of a new session.
type GeofenceInput struct {
	Latitude     *float64
	Longitude    *float64
	RadiusMeters *float64
}

// CreateInput describes a new session.
type CreateInput struct {
	SubjectID string
	Duration  time.Duration
	Geofence  GeofenceInput
}

// CreateSession persists an active session running from now for in.Duration
// and embeds a freshly encoded token.
func (s *Service) CreateSession(ctx context.Context, in CreateInput) (Session, error) {
	var fields []FieldError
	subjectID := strings.TrimSpace(in.SubjectID)
	if subjectID == "" {
		fields = append(fields, FieldError{Field: "subjectId", Message: "is required"})
	} else if _, err := uuid.Parse(subjectID); err != nil {
		fields = append(fields, FieldError{Field: "subjectId", Message: "must be a valid UUID"})
	}
	if in.Duration <= 0 {
		fields = append(fields, FieldError{Field: "duration", Message: "must be positive"})
	} else if in.Duration > s.opts.MaxDuration {
		fields = append(fields, FieldError{Field: "duration", Message: fmt.Sprintf("must not exceed %s", s.opts.MaxDuration)})
	}
	fence, fenceFields := s.resolveFence(in.Geofence)
	fields = append(fields, fenceFields...)
	if len(fields) > 0 {
		return Session{}, validationError("invalid session request", fields...)
	}

	// Tokens carry millisecond timestamps; keep the stored window identical.
	start := s.now().Truncate(time.Millisecond)
	sess := Session{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		StartTime: start,
		EndTime:   start.Add(in.Duration),
		IsActive:  true,
	}
	if fence != nil {
		sess.LocationLat = &fence.Latitude
		sess.LocationLng = &fence.Longitude
		sess.AllowedRadius = &fence.RadiusMeters
	}

	tok, err := token.Encode(token.NewDescriptor(sess.ID, sess.SubjectID, sess.StartTime, sess.EndTime, fence))
	if err != nil {
		return Session{}, err
	}
	sess.Token = tok

	created, err := s.store.InsertSession(ctx, sess)
	if err != nil {
		if errors.Is(err, ErrUnknownReference) {
			return Session{}, validationError("unknown subject", FieldError{Field: "subjectId", Message: "does not exist"})
		}
		return Session{}, err
	}
	return created, nil
}

func (s *Service) resolveFence(in GeofenceInput) (*geo.Fence, []FieldError) {
	if in.Latitude == nil && in.Longitude == nil {
		return nil, nil
	}
	var fields []FieldError
	if in.Latitude == nil || in.Longitude == nil {
		return nil, []FieldError{{Field: "locationLat/locationLng", Message: "must be provided together"}}
	}
	if *in.Latitude < -90 || *in.Latitude > 90 {
		fields = append(fields, FieldError{Field: "locationLat", Message: "must be between -90 and 90"})
	}
	if *in.Longitude < -180 || *in.Longitude > 180 {
		fields = append(fields, FieldError{Field: "locationLng", Message: "must be between -180 and 180"})
	}
	radius := s.opts.DefaultRadius
	if in.RadiusMeters != nil {
		radius = *in.RadiusMeters
		if radius <= 0 {
			fields = append(fields, FieldError{Field: "allowedRadius", Message: "must be positive"})
		}
	}
	if len(fields) > 0 {
		return nil, fields
	}
	return &geo.Fence{Latitude: *in.Latitude, Longitude: *in.Longitude, RadiusMeters: radius}, nil
}

// StopSession deactivates a session. Stopping an already stopped session
// succeeds and returns its current state.
func (s *Service) StopSession(ctx context.Context, id string) (Session, error) {
	id, ok := parseID(id)
	if !ok {
		return Session{}, ErrNotFound
	}
	sess, err := s.store.DeactivateSession(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return sess, nil
}

// MarkInput is a student's attendance submission.
type MarkInput struct {
	SessionID string
	StudentID string
	Location  *Location
}

// MarkAttendance records at most one presence per (session, student). The
// duplicate check is the storage unique key, never a read-then-write.
func (s *Service) MarkAttendance(ctx context.Context, in MarkInput) (Record, error) {
	var fields []FieldError
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		fields = append(fields, FieldError{Field: "sessionId", Message: "is required"})
	}
	studentID := strings.TrimSpace(in.StudentID)
	if studentID == "" {
		fields = append(fields, FieldError{Field: "studentId", Message: "is required"})
	} else if _, err := uuid.Parse(studentID); err != nil {
		fields = append(fields, FieldError{Field: "studentId", Message: "must be a valid UUID"})
	}
	if len(fields) > 0 {
		return Record{}, validationError("missing required fields", fields...)
	}
	sessionID, ok := parseID(sessionID)
	if !ok {
		return Record{}, ErrNotFound
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}

	now := s.now()
	if !sess.Open(now) {
		return Record{}, ErrSessionExpired
	}

	if fence := sess.Fence(); fence != nil && s.opts.EnforceGeofence {
		if in.Location == nil {
			return Record{}, validationError("location is required for this session",
				FieldError{Field: "locationLat/locationLng", Message: "is required"})
		}
		within, dist := geo.WithinRadius(geo.Point{Latitude: in.Location.Latitude, Longitude: in.Location.Longitude}, *fence)
		if !within {
			msg := fmt.Sprintf("you are %s away; must be within %s",
				geo.FormatDistance(dist), geo.FormatDistance(fence.RadiusMeters))
			return Record{}, &Error{Code: CodeOutOfRange, Message: msg}
		}
	}

	rec := Record{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		StudentID: studentID,
		MarkedAt:  now,
	}
	if in.Location != nil {
		lat, lng := in.Location.Latitude, in.Location.Longitude
		rec.LocationLat = &lat
		rec.LocationLng = &lng
		rec.LocationAccuracy = in.Location.Accuracy
	}

	created, err := s.store.InsertRecord(ctx, rec)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateRecord):
			return Record{}, ErrAlreadyMarked
		case errors.Is(err, ErrUnknownReference):
			return Record{}, notFound("student not found")
		default:
			return Record{}, err
		}
	}
	return created, nil
}

// ListSessions returns sessions with present counts, newest first.
func (s *Service) ListSessions(ctx context.Context, f SessionFilter) ([]SessionSummary, error) {
	if f.SubjectID != "" {
		id, ok := parseID(f.SubjectID)
		if !ok {
			return nil, validationError("invalid filter", FieldError{Field: "subjectId", Message: "must be a valid UUID"})
		}
		f.SubjectID = id
	}
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.ListSessions(ctx, f)
}

// GetSession returns a single session.
func (s *Service) GetSession(ctx context.Context, id string) (Session, error) {
	id, ok := parseID(id)
	if !ok {
		return Session{}, ErrNotFound
	}
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return sess, nil
}

// GetSessionDetail returns a session and the students marked present.
func (s *Service) GetSessionDetail(ctx context.Context, id string) (SessionDetail, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return SessionDetail{}, err
	}
	present, err := s.store.ListPresent(ctx, sess.ID)
	if err != nil {
		return SessionDetail{}, err
	}
	label, err := s.store.LookupSubject(ctx, sess.SubjectID)
	if err != nil {
		return SessionDetail{}, err
	}
	return SessionDetail{Session: sess, SubjectLabel: label, StudentsPresent: present, TotalPresent: len(present)}, nil
}

// PresentCount is the authoritative number of records for a session.
func (s *Service) PresentCount(ctx context.Context, id string) (int64, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return 0, err
	}
	return s.store.CountRecords(ctx, sess.ID)
}

// StudentHistory lists a student's records, optionally narrowed to one subject.
func (s *Service) StudentHistory(ctx context.Context, studentID, subjectID string) ([]HistoryEntry, error) {
	var fields []FieldError
	studentID, ok := parseID(studentID)
	if !ok {
		fields = append(fields, FieldError{Field: "studentId", Message: "must be a valid UUID"})
	}
	if subjectID != "" {
		if subjectID, ok = parseID(subjectID); !ok {
			fields = append(fields, FieldError{Field: "subjectId", Message: "must be a valid UUID"})
		}
	}
	if len(fields) > 0 {
		return nil, validationError("invalid history request", fields...)
	}
	return s.store.StudentHistory(ctx, studentID, subjectID)
}

// ExpireStale deactivates sessions whose window has passed. Marks are
// refused for those sessions regardless; this only keeps is_active honest.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	return s.store.ExpireSessions(ctx, s.now())
}

// parseID trims id and reports whether it is a UUID. The trimmed form is what
// reaches the store.
func parseID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

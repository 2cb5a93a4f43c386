package attendance

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes the repository translates.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Store is the persistence port of the registry.
type Store interface {
	InsertSession(ctx context.Context, s Session) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	DeactivateSession(ctx context.Context, id string) (Session, error)
	InsertRecord(ctx context.Context, r Record) (Record, error)
	ListSessions(ctx context.Context, f SessionFilter) ([]SessionSummary, error)
	ListPresent(ctx context.Context, sessionID string) ([]PresentStudent, error)
	CountRecords(ctx context.Context, sessionID string) (int64, error)
	StudentHistory(ctx context.Context, studentID, subjectID string) ([]HistoryEntry, error)
	ExpireSessions(ctx context.Context, now time.Time) (int64, error)
	LookupSubject(ctx context.Context, subjectID string) (SubjectLabel, error)
}

// Repository persists sessions and records in Postgres. Lookups that find
// nothing return sql.ErrNoRows.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

const sessionColumns = `id, subject_id, qr_code, start_time, end_time, location_lat, location_lng, allowed_radius, is_active, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner, extra ...any) (Session, error) {
	var s Session
	dest := []any{&s.ID, &s.SubjectID, &s.Token, &s.StartTime, &s.EndTime,
		&s.LocationLat, &s.LocationLng, &s.AllowedRadius, &s.IsActive, &s.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Session{}, err
	}
	return s, nil
}

// InsertSession writes a new session row.
func (r *Repository) InsertSession(ctx context.Context, s Session) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_sessions (id, subject_id, qr_code, start_time, end_time, location_lat, location_lng, allowed_radius, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING `+sessionColumns,
		s.ID, s.SubjectID, s.Token, s.StartTime, s.EndTime, s.LocationLat, s.LocationLng, s.AllowedRadius, s.IsActive)
	out, err := scanSession(row)
	if err != nil {
		return Session{}, translate(err)
	}
	return out, nil
}

// GetSession returns a single session by id.
func (r *Repository) GetSession(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM attendance_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// DeactivateSession clears is_active and returns the resulting row. Stopping
// a stopped session rewrites the same value.
func (r *Repository) DeactivateSession(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_sessions SET is_active = FALSE
		WHERE id = $1
		RETURNING `+sessionColumns, id)
	return scanSession(row)
}

// InsertRecord writes a record. The (session_id, student_id) unique key makes
// concurrent duplicates fail with ErrDuplicateRecord.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, location_lat, location_lng, location_accuracy, marked_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING marked_at
	`, rec.ID, rec.SessionID, rec.StudentID, rec.LocationLat, rec.LocationLng, rec.LocationAccuracy, rec.MarkedAt)
	if err := row.Scan(&rec.MarkedAt); err != nil {
		return Record{}, translate(err)
	}
	return rec, nil
}

// ListSessions returns sessions newest first with their present counts.
func (r *Repository) ListSessions(ctx context.Context, f SessionFilter) ([]SessionSummary, error) {
	query := `
		SELECT s.id, s.subject_id, s.qr_code, s.start_time, s.end_time, s.location_lat, s.location_lng,
		       s.allowed_radius, s.is_active, s.created_at, COUNT(ar.id), sub.name, sub.code
		FROM attendance_sessions s
		LEFT JOIN subjects sub ON sub.id = s.subject_id
		LEFT JOIN attendance_records ar ON ar.session_id = s.id`
	args := []any{}
	clauses := []string{}
	if f.SubjectID != "" {
		args = append(args, f.SubjectID)
		clauses = append(clauses, "s.subject_id = "+placeholder(len(args)))
	}
	if f.IsActive != nil {
		args = append(args, *f.IsActive)
		clauses = append(clauses, "s.is_active = "+placeholder(len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " GROUP BY s.id, sub.id ORDER BY s.start_time DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT " + placeholder(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += " OFFSET " + placeholder(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []SessionSummary{}
	for rows.Next() {
		var count int64
		var label SubjectLabel
		s, err := scanSession(rows, &count, &label.SubjectName, &label.SubjectCode)
		if err != nil {
			return nil, err
		}
		res = append(res, SessionSummary{Session: s, SubjectLabel: label, StudentsPresent: count})
	}
	return res, rows.Err()
}

// ListPresent returns the records of a session in marking order.
func (r *Repository) ListPresent(ctx context.Context, sessionID string) ([]PresentStudent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ar.id, ar.session_id, ar.student_id, ar.location_lat, ar.location_lng, ar.location_accuracy,
		       ar.marked_at, st.name, st.roll_number
		FROM attendance_records ar
		LEFT JOIN students st ON st.id = ar.student_id
		WHERE ar.session_id = $1
		ORDER BY ar.marked_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []PresentStudent{}
	for rows.Next() {
		var p PresentStudent
		if err := rows.Scan(&p.ID, &p.SessionID, &p.StudentID, &p.LocationLat, &p.LocationLng,
			&p.LocationAccuracy, &p.MarkedAt, &p.StudentName, &p.RollNumber); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// CountRecords returns how many students are marked for a session.
func (r *Repository) CountRecords(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance_records WHERE session_id = $1`, sessionID).Scan(&n)
	return n, err
}

// StudentHistory returns a student's records newest first, optionally for one subject.
func (r *Repository) StudentHistory(ctx context.Context, studentID, subjectID string) ([]HistoryEntry, error) {
	query := `
		SELECT ar.id, ar.session_id, ar.student_id, ar.location_lat, ar.location_lng, ar.location_accuracy,
		       ar.marked_at, s.subject_id, s.start_time, s.end_time, sub.name, sub.code
		FROM attendance_records ar
		JOIN attendance_sessions s ON s.id = ar.session_id
		LEFT JOIN subjects sub ON sub.id = s.subject_id
		WHERE ar.student_id = $1`
	args := []any{studentID}
	if subjectID != "" {
		args = append(args, subjectID)
		query += " AND s.subject_id = " + placeholder(len(args))
	}
	query += " ORDER BY ar.marked_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []HistoryEntry{}
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.SessionID, &h.StudentID, &h.LocationLat, &h.LocationLng,
			&h.LocationAccuracy, &h.MarkedAt, &h.SubjectID, &h.StartTime, &h.EndTime,
			&h.SubjectName, &h.SubjectCode); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// LookupSubject returns the subject's name and code. An unknown subject yields
// an empty label, not an error.
func (r *Repository) LookupSubject(ctx context.Context, subjectID string) (SubjectLabel, error) {
	var name, code string
	err := r.db.QueryRowContext(ctx, `SELECT name, code FROM subjects WHERE id = $1`, subjectID).Scan(&name, &code)
	if errors.Is(err, sql.ErrNoRows) {
		return SubjectLabel{}, nil
	}
	if err != nil {
		return SubjectLabel{}, err
	}
	return SubjectLabel{SubjectName: &name, SubjectCode: &code}, nil
}

// ExpireSessions deactivates every active session whose window closed before now.
func (r *Repository) ExpireSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_sessions SET is_active = FALSE
		WHERE is_active = TRUE AND end_time <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func placeholder(n int) string { return "$" + strconv.Itoa(n) }

// translate maps constraint violations onto the Store sentinel errors.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ErrDuplicateRecord
		case pgForeignKeyViolation:
			return ErrUnknownReference
		}
	}
	return err
}

// Package scanner implements the student-side verifier: capture a code, check
// it locally for quick feedback, then let the registry decide.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"qrattendance/internal/attendance"
	"qrattendance/internal/client"
	"qrattendance/internal/geo"
	"qrattendance/internal/token"
)

// State of the verifier.
type State string

const (
	StateIdle              State = "idle"
	StateAcquiringLocation State = "acquiring_location"
	StateLocationError     State = "location_error"
	StateScanning          State = "scanning"
	StateVerifying         State = "verifying"
	StateSuccess           State = "success"
	StateExpired           State = "expired"
	StateAlreadyMarked     State = "already_marked"
	StateOutOfRange        State = "out_of_range"
	StateError             State = "error"
)

// Terminal reports whether s ends a verification attempt.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateExpired, StateAlreadyMarked, StateOutOfRange, StateError, StateLocationError:
		return true
	}
	return false
}

// ErrInvalidTransition is returned when an event does not apply to the current state.
var ErrInvalidTransition = errors.New("invalid scanner transition")

// Capture is the camera plus QR decoder. Open starts the camera and delivers
// decoded payloads; Close must release the camera and be safe to call twice.
type Capture interface {
	Open(ctx context.Context) (<-chan string, error)
	Close() error
}

// Registry is the part of the session registry the verifier talks to.
type Registry interface {
	Mark(ctx context.Context, req client.MarkRequest) (attendance.Record, error)
}

// User-facing messages.
const (
	msgLocationRequired = "Location access is required to mark attendance."
	msgCameraFailed     = "Failed to access camera. Please check permissions."
	msgInvalidCode      = "Invalid QR code. Please scan a valid attendance QR."
	msgCodeExpired      = "This QR code has expired. Please ask your teacher for a new one."
	msgSessionClosed    = "This attendance session has expired or is no longer active."
	msgAlreadyMarked    = "You have already marked attendance for this session."
	msgNetwork          = "Unable to connect to server. Please check your internet connection and try again."
	msgSuccess          = "Attendance marked successfully."
)

// View is a snapshot for rendering.
type View struct {
	State      State
	Message    string
	Location   *geo.Fix
	Accuracy   string
	Descriptor *token.Descriptor
	Record     *attendance.Record
	// Retryable is set when the failure was a connectivity problem.
	Retryable bool
}

// Scanner is the student-side state machine.
type Scanner struct {
	studentID string
	reg       Registry
	locator   geo.Locator
	camera    Capture
	now       func() time.Time

	mu         sync.Mutex
	state      State
	fix        *geo.Fix
	descriptor *token.Descriptor
	record     *attendance.Record
	message    string
	retryable  bool
	capturing  bool
}

// New creates an idle verifier for studentID.
func New(studentID string, reg Registry, locator geo.Locator, camera Capture, now func() time.Time) *Scanner {
	if now == nil {
		now = time.Now
	}
	return &Scanner{
		studentID: studentID,
		reg:       reg,
		locator:   locator,
		camera:    camera,
		now:       now,
		state:     StateIdle,
	}
}

func (s *Scanner) transitionError(event string) error {
	return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, event, s.state)
}

// AcquireLocation requests the student position. It is called on entry,
// independently of scanning.
func (s *Scanner) AcquireLocation(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateLocationError {
		defer s.mu.Unlock()
		return s.transitionError("acquire location")
	}
	s.state = StateAcquiringLocation
	s.message = ""
	s.mu.Unlock()

	fix, err := s.locator.Locate(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		le := geo.AsLocationError(err)
		s.fix = nil
		s.state = StateLocationError
		s.message = le.Message()
		return le
	}
	s.fix = &fix
	s.state = StateIdle
	return nil
}

// StartScan opens the camera. A captured location is required.
func (s *Scanner) StartScan(ctx context.Context) (<-chan string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return nil, s.transitionError("start scan")
	}
	if s.fix == nil {
		s.state = StateLocationError
		s.message = msgLocationRequired
		return nil, errors.New(msgLocationRequired)
	}
	frames, err := s.camera.Open(ctx)
	if err != nil {
		s.state = StateError
		s.message = msgCameraFailed
		return nil, err
	}
	s.capturing = true
	s.state = StateScanning
	s.message = ""
	return frames, nil
}

// StopScan releases the camera and returns to Idle.
func (s *Scanner) StopScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateScanning {
		return s.transitionError("stop scan")
	}
	s.releaseLocked()
	s.state = StateIdle
	return nil
}

// Close releases the camera whatever the state.
func (s *Scanner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
	if s.state == StateScanning {
		s.state = StateIdle
	}
	return nil
}

func (s *Scanner) releaseLocked() {
	if !s.capturing {
		return
	}
	s.capturing = false
	if err := s.camera.Close(); err != nil {
		log.Printf("camera release failed: %v", err)
	}
}

// Scan runs one full attempt: open the camera, wait for the first decoded
// payload and verify it. Cancelling ctx while scanning releases the camera
// and returns to Idle.
func (s *Scanner) Scan(ctx context.Context) (State, error) {
	frames, err := s.StartScan(ctx)
	if err != nil {
		return s.View().State, err
	}
	select {
	case raw, ok := <-frames:
		if !ok {
			_ = s.StopScan()
			return s.View().State, errors.New("camera closed before a code was read")
		}
		return s.Submit(ctx, raw), nil
	case <-ctx.Done():
		_ = s.Close()
		return s.View().State, ctx.Err()
	}
}

// Submit handles a decoded payload from the camera. The camera is released
// before verification begins. It returns the terminal state reached.
func (s *Scanner) Submit(ctx context.Context, raw string) State {
	s.mu.Lock()
	if s.state != StateScanning {
		defer s.mu.Unlock()
		log.Printf("ignoring scan while %s", s.state)
		return s.state
	}
	s.releaseLocked()
	s.state = StateVerifying
	fix := *s.fix
	s.mu.Unlock()

	state, msg, desc, rec, retryable := s.verify(ctx, raw, fix)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state, s.message, s.descriptor, s.record, s.retryable = state, msg, desc, rec, retryable
	return state
}

func (s *Scanner) verify(ctx context.Context, raw string, fix geo.Fix) (State, string, *token.Descriptor, *attendance.Record, bool) {
	d, err := token.Decode(raw)
	if err != nil {
		return StateError, msgInvalidCode, nil, nil, false
	}
	if d.Expired(s.now()) {
		return StateExpired, msgCodeExpired, &d, nil, false
	}
	if d.Geofence != nil {
		within, dist := geo.WithinRadius(fix.Point, *d.Geofence)
		if !within {
			return StateOutOfRange, fmt.Sprintf("You are %s away from the classroom. You must be within %s to mark attendance.",
				geo.FormatDistance(dist), geo.FormatDistance(d.Geofence.RadiusMeters)), &d, nil, false
		}
	}

	acc := fix.Accuracy
	rec, err := s.reg.Mark(ctx, client.MarkRequest{
		SessionID: d.SessionID,
		StudentID: s.studentID,
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Accuracy:  &acc,
	})
	switch {
	case err == nil:
		return StateSuccess, msgSuccess, &d, &rec, false
	case client.IsCode(err, attendance.CodeAlreadyMarked):
		return StateAlreadyMarked, msgAlreadyMarked, &d, nil, false
	case client.IsCode(err, attendance.CodeSessionExpired):
		return StateExpired, msgSessionClosed, &d, nil, false
	case client.IsCode(err, attendance.CodeOutOfRange):
		var apiErr *client.APIError
		errors.As(err, &apiErr)
		return StateOutOfRange, apiErr.Message, &d, nil, false
	case client.IsTransport(err):
		return StateError, msgNetwork, &d, nil, true
	default:
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			return StateError, "Failed to mark attendance: " + apiErr.Message, &d, nil, false
		}
		return StateError, "Failed to mark attendance: " + err.Error(), &d, nil, false
	}
}

// TryAgain leaves a terminal state for Idle, clearing the decoded code and
// message. The location is re-requested only after a location failure.
func (s *Scanner) TryAgain(ctx context.Context) error {
	s.mu.Lock()
	if !s.state.Terminal() {
		defer s.mu.Unlock()
		return s.transitionError("try again")
	}
	relocate := s.state == StateLocationError || s.state == StateOutOfRange
	s.state = StateIdle
	s.message = ""
	s.descriptor = nil
	s.record = nil
	s.retryable = false
	if relocate {
		s.fix = nil
	}
	s.mu.Unlock()

	if relocate {
		return s.AcquireLocation(ctx)
	}
	return nil
}

// View returns the current display state.
func (s *Scanner) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{State: s.state, Message: s.message, Retryable: s.retryable}
	if s.fix != nil {
		fix := *s.fix
		v.Location = &fix
		v.Accuracy, _ = geo.AccuracyStatus(fix.Accuracy)
	}
	if s.descriptor != nil {
		d := *s.descriptor
		v.Descriptor = &d
	}
	if s.record != nil {
		r := *s.record
		v.Record = &r
	}
	return v
}

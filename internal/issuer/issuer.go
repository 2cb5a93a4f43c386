// Package issuer drives the teacher side of a session: pick a subject, capture
// the classroom location, open the session and show its code until it expires
// or is stopped.
package issuer

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
)

// State of the issuer.
type State string

const (
	StateIdle              State = "idle"
	StateAcquiringLocation State = "acquiring_location"
	StateReady             State = "ready"
	StateStarting          State = "starting"
	StateActive            State = "active"
	StateExpired           State = "expired"
	StateStopped           State = "stopped"
)

// ErrInvalidTransition is returned when an event does not apply to the current state.
var ErrInvalidTransition = errors.New("invalid issuer transition")

// Registry is the part of the session registry the issuer talks to.
type Registry interface {
	CreateSession(ctx context.Context, req client.CreateSessionRequest) (attendance.Session, error)
	StopSession(ctx context.Context, sessionID string) (attendance.Session, error)
	PresentCount(ctx context.Context, sessionID string) (int64, error)
}

// Options configure a new Issuer.
type Options struct {
	Duration     time.Duration
	RadiusMeters float64
	Now          func() time.Time
}

// View is a snapshot for rendering.
type View struct {
	State     State
	SubjectID string
	SessionID string
	Token     string
	Remaining time.Duration
	Present   int64
	Location  *geo.Fix
	Accuracy  string
	Error     string
}

// Countdown renders Remaining as mm:ss.
func (v View) Countdown() string {
	secs := int(v.Remaining / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// Issuer is the teacher-side state machine. Its methods are safe for
// concurrent use; registry calls run without holding the lock.
type Issuer struct {
	reg     Registry
	locator geo.Locator
	now     func() time.Time

	mu        sync.Mutex
	state     State
	subjectID string
	duration  time.Duration
	radius    float64
	fix       *geo.Fix
	session   *attendance.Session
	deadline  time.Time
	remaining time.Duration
	present   int64
	lastErr   string
	// gen changes whenever a session starts or ends so late poll results are dropped.
	gen int
}

// New creates an idle issuer.
func New(reg Registry, locator geo.Locator, opts Options) *Issuer {
	if opts.Duration <= 0 {
		opts.Duration = 5 * time.Minute
	}
	if opts.RadiusMeters <= 0 {
		opts.RadiusMeters = attendance.DefaultRadiusMeters
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Issuer{
		reg:      reg,
		locator:  locator,
		now:      opts.Now,
		state:    StateIdle,
		duration: opts.Duration,
		radius:   opts.RadiusMeters,
	}
}

func (i *Issuer) transitionError(event string) error {
	return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, event, i.state)
}

// Configure chooses the subject, duration and radius of the next session.
func (i *Issuer) Configure(subjectID string, duration time.Duration, radiusMeters float64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateIdle && i.state != StateReady {
		return i.transitionError("configure")
	}
	i.subjectID = subjectID
	if duration > 0 {
		i.duration = duration
	}
	if radiusMeters > 0 {
		i.radius = radiusMeters
	}
	return nil
}

// AcquireLocation captures the classroom position. Success moves to Ready;
// failure returns to Idle and the error is a *geo.LocationError.
func (i *Issuer) AcquireLocation(ctx context.Context) error {
	i.mu.Lock()
	if i.state != StateIdle && i.state != StateReady {
		defer i.mu.Unlock()
		return i.transitionError("acquire location")
	}
	i.state = StateAcquiringLocation
	i.lastErr = ""
	i.mu.Unlock()

	fix, err := i.locator.Locate(ctx)

	i.mu.Lock()
	defer i.mu.Unlock()
	if err != nil {
		le := geo.AsLocationError(err)
		i.state = StateIdle
		i.fix = nil
		i.lastErr = le.Message()
		return le
	}
	i.fix = &fix
	i.state = StateReady
	return nil
}

// Start opens the session. It needs a chosen subject and a captured location.
// While the registry call is in flight the issuer is Starting and rejects
// every other event, so a repeated Start cannot open a second session.
func (i *Issuer) Start(ctx context.Context) error {
	i.mu.Lock()
	if i.state != StateReady {
		defer i.mu.Unlock()
		return i.transitionError("start")
	}
	if i.subjectID == "" || i.fix == nil {
		i.lastErr = "choose a subject and capture the location first"
		i.mu.Unlock()
		return fmt.Errorf("%w: subject and location are required", ErrInvalidTransition)
	}
	lat, lng, radius := i.fix.Latitude, i.fix.Longitude, i.radius
	req := client.CreateSessionRequest{
		SubjectID:    i.subjectID,
		Duration:     i.duration,
		Latitude:     &lat,
		Longitude:    &lng,
		RadiusMeters: &radius,
	}
	i.state = StateStarting
	i.lastErr = ""
	i.mu.Unlock()

	sess, err := i.reg.CreateSession(ctx, req)

	i.mu.Lock()
	defer i.mu.Unlock()
	if err != nil {
		i.state = StateReady
		i.lastErr = "could not start session: " + err.Error()
		return err
	}
	i.session = &sess
	i.state = StateActive
	i.present = 0
	i.lastErr = ""
	i.gen++
	// The countdown runs on the local clock for the same duration the server
	// used, so skew between the two clocks does not shift it.
	i.deadline = i.now().Add(sess.Duration())
	i.remaining = sess.Duration()
	return nil
}

// Tick advances the countdown. It reports whether the session is still active.
func (i *Issuer) Tick() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateActive {
		return false
	}
	left := i.deadline.Sub(i.now())
	if left <= 0 {
		i.remaining = 0
		i.state = StateExpired
		i.gen++
		return false
	}
	i.remaining = left.Round(time.Second)
	return true
}

// RefreshPresent polls the registry for the live present count.
func (i *Issuer) RefreshPresent(ctx context.Context) error {
	i.mu.Lock()
	if i.state != StateActive || i.session == nil {
		i.mu.Unlock()
		return nil
	}
	id, gen := i.session.ID, i.gen
	i.mu.Unlock()

	n, err := i.reg.PresentCount(ctx, id)
	if err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.gen == gen && n > i.present {
		i.present = n
	}
	return nil
}

// Stop ends the session now. The display is cleared before the registry is
// told, and stays Stopped even if that call fails.
func (i *Issuer) Stop(ctx context.Context) error {
	i.mu.Lock()
	if i.state != StateActive {
		defer i.mu.Unlock()
		return i.transitionError("stop")
	}
	id := i.session.ID
	i.state = StateStopped
	i.remaining = 0
	i.gen++
	i.mu.Unlock()

	if _, err := i.reg.StopSession(ctx, id); err != nil {
		i.mu.Lock()
		i.lastErr = "session may still be open on the server: " + err.Error()
		i.mu.Unlock()
		return err
	}
	return nil
}

// Reset returns to Idle from a finished session, forgetting subject and location.
func (i *Issuer) Reset() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateExpired && i.state != StateStopped {
		return i.transitionError("reset")
	}
	i.state = StateIdle
	i.subjectID = ""
	i.fix = nil
	i.session = nil
	i.present = 0
	i.remaining = 0
	i.lastErr = ""
	return nil
}

// View returns the current display state. The token is only exposed while
// the session is active.
func (i *Issuer) View() View {
	i.mu.Lock()
	defer i.mu.Unlock()
	v := View{
		State:     i.state,
		SubjectID: i.subjectID,
		Remaining: i.remaining,
		Present:   i.present,
		Error:     i.lastErr,
	}
	if i.fix != nil {
		fix := *i.fix
		v.Location = &fix
		v.Accuracy, _ = geo.AccuracyStatus(fix.Accuracy)
	}
	if i.session != nil {
		v.SessionID = i.session.ID
		if i.state == StateActive {
			v.Token = i.session.Token
		}
	}
	return v
}

// Run drives the countdown once per tick and polls the present count every
// poll interval while the session is active. It returns when the session
// ends or ctx is done; both tickers are stopped on return.
func (i *Issuer) Run(ctx context.Context, tick, poll time.Duration) State {
	if tick <= 0 {
		tick = time.Second
	}
	if poll <= 0 {
		poll = 5 * time.Second
	}
	countdown := time.NewTicker(tick)
	defer countdown.Stop()
	refresh := time.NewTicker(poll)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return i.View().State
		case <-countdown.C:
			if !i.Tick() {
				return i.View().State
			}
		case <-refresh.C:
			if err := i.RefreshPresent(ctx); err != nil {
				log.Printf("present count refresh failed: %v", err)
			}
			if i.View().State != StateActive {
				return i.View().State
			}
		}
	}
}

package issuer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"qrattendance/internal/attendance"
	"qrattendance/internal/client"
	"qrattendance/internal/geo"
)

type fakeRegistry struct {
	mu        sync.Mutex
	created   []client.CreateSessionRequest
	stopped   []string
	present   int64
	createErr error
	stopErr   error
	start     time.Time
	// When gate is set, CreateSession signals entered and blocks until gate closes.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeRegistry) CreateSession(_ context.Context, req client.CreateSessionRequest) (attendance.Session, error) {
	if f.gate != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return attendance.Session{}, f.createErr
	}
	f.created = append(f.created, req)
	return attendance.Session{
		ID:        "session-1",
		SubjectID: req.SubjectID,
		Token:     "token-1",
		StartTime: f.start,
		EndTime:   f.start.Add(req.Duration),
		IsActive:  true,
	}, nil
}

func (f *fakeRegistry) StopSession(_ context.Context, id string) (attendance.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	return attendance.Session{ID: id}, f.stopErr
}

func (f *fakeRegistry) PresentCount(context.Context, string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present, nil
}

func (f *fakeRegistry) setPresent(n int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present = n
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var classroom = geo.LocatorFunc(func(context.Context) (geo.Fix, error) {
	return geo.Fix{Point: geo.Point{Latitude: 12.9716, Longitude: 77.5946}, Accuracy: 12}, nil
})

func newIssuer(t *testing.T, reg *fakeRegistry, loc geo.Locator) (*Issuer, *clock) {
	t.Helper()
	// The server clock is deliberately ahead of the local one.
	reg.start = time.Date(2026, 3, 2, 9, 0, 30, 0, time.UTC)
	c := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	return New(reg, loc, Options{Duration: 5 * time.Minute, Now: c.Now}), c
}

func startedIssuer(t *testing.T) (*Issuer, *fakeRegistry, *clock) {
	t.Helper()
	reg := &fakeRegistry{}
	iss, c := newIssuer(t, reg, classroom)
	if err := iss.Configure("subject-1", 0, 0); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := iss.AcquireLocation(context.Background()); err != nil {
		t.Fatalf("AcquireLocation: %v", err)
	}
	if err := iss.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return iss, reg, c
}

func TestIssuerHappyPath(t *testing.T) {
	iss, reg, c := startedIssuer(t)

	v := iss.View()
	if v.State != StateActive || v.Token != "token-1" || v.Countdown() != "05:00" {
		t.Fatalf("unexpected active view %+v", v)
	}
	if v.Accuracy != geo.AccuracyGood {
		t.Fatalf("expected good accuracy for a 12m fix, got %s", v.Accuracy)
	}
	req := reg.created[0]
	if req.SubjectID != "subject-1" || *req.RadiusMeters != attendance.DefaultRadiusMeters || *req.Latitude != 12.9716 {
		t.Fatalf("unexpected create request %+v", req)
	}

	c.Advance(90 * time.Second)
	if !iss.Tick() {
		t.Fatalf("expected session to still be active")
	}
	if got := iss.View().Countdown(); got != "03:30" {
		t.Fatalf("expected countdown 03:30, got %s", got)
	}

	reg.setPresent(3)
	if err := iss.RefreshPresent(context.Background()); err != nil {
		t.Fatalf("RefreshPresent: %v", err)
	}
	if iss.View().Present != 3 {
		t.Fatalf("expected 3 present, got %d", iss.View().Present)
	}

	c.Advance(210 * time.Second)
	if iss.Tick() {
		t.Fatalf("expected countdown to end exactly at the session duration")
	}
	v = iss.View()
	if v.State != StateExpired || v.Token != "" || v.Remaining != 0 {
		t.Fatalf("expected expired view without token, got %+v", v)
	}

	if err := iss.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if v := iss.View(); v.State != StateIdle || v.SubjectID != "" || v.Location != nil {
		t.Fatalf("expected clean idle view, got %+v", v)
	}
}

func TestIssuerStop(t *testing.T) {
	iss, reg, c := startedIssuer(t)
	c.Advance(time.Minute)
	iss.Tick()

	if err := iss.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	v := iss.View()
	if v.State != StateStopped || v.Token != "" || v.Remaining != 0 {
		t.Fatalf("expected cleared stopped view, got %+v", v)
	}
	if len(reg.stopped) != 1 || reg.stopped[0] != "session-1" {
		t.Fatalf("expected registry stop call, got %v", reg.stopped)
	}
	if iss.Tick() {
		t.Fatalf("ticks after stop must not revive the countdown")
	}
	if err := iss.Stop(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected second stop to be rejected locally, got %v", err)
	}
}

func TestIssuerStopFailureStillClears(t *testing.T) {
	iss, reg, _ := startedIssuer(t)
	reg.stopErr = &client.TransportError{Op: "PATCH", Err: errors.New("offline")}

	if err := iss.Stop(context.Background()); err == nil {
		t.Fatalf("expected stop error to be returned")
	}
	v := iss.View()
	if v.State != StateStopped || v.Token != "" || v.Error == "" {
		t.Fatalf("expected stopped view with error, got %+v", v)
	}
}

func TestIssuerLocationErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want geo.Reason
	}{
		{"denied", &geo.LocationError{Reason: geo.ReasonPermissionDenied}, geo.ReasonPermissionDenied},
		{"unavailable", &geo.LocationError{Reason: geo.ReasonUnavailable}, geo.ReasonUnavailable},
		{"timeout", context.DeadlineExceeded, geo.ReasonTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failing := geo.LocatorFunc(func(context.Context) (geo.Fix, error) { return geo.Fix{}, tt.err })
			iss, _ := newIssuer(t, &fakeRegistry{}, failing)

			err := iss.AcquireLocation(context.Background())
			var le *geo.LocationError
			if !errors.As(err, &le) || le.Reason != tt.want {
				t.Fatalf("expected %s location error, got %v", tt.want, err)
			}
			v := iss.View()
			if v.State != StateIdle || v.Error != le.Message() {
				t.Fatalf("expected idle with message, got %+v", v)
			}
		})
	}
}

func TestIssuerStartRequirements(t *testing.T) {
	reg := &fakeRegistry{}
	iss, _ := newIssuer(t, reg, classroom)

	if err := iss.Start(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected start from idle to fail, got %v", err)
	}

	if err := iss.AcquireLocation(context.Background()); err != nil {
		t.Fatalf("AcquireLocation: %v", err)
	}
	if err := iss.Start(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected start without subject to fail, got %v", err)
	}

	reg.createErr = &client.APIError{Status: 400, Code: "VALIDATION_ERROR", Message: "bad subject"}
	_ = iss.Configure("subject-1", time.Minute, 30)
	if err := iss.Start(context.Background()); err == nil {
		t.Fatalf("expected registry error to surface")
	}
	if v := iss.View(); v.State != StateReady || v.Error == "" {
		t.Fatalf("expected to stay ready with an error, got %+v", v)
	}

	reg.createErr = nil
	if err := iss.Start(context.Background()); err != nil {
		t.Fatalf("retry Start: %v", err)
	}
	if reg.created[0].Duration != time.Minute || *reg.created[0].RadiusMeters != 30 {
		t.Fatalf("configured duration and radius not used: %+v", reg.created[0])
	}
	if err := iss.Configure("other", 0, 0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected configure during active session to fail, got %v", err)
	}
}

func TestIssuerRepeatedStartOpensOneSession(t *testing.T) {
	reg := &fakeRegistry{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	iss, _ := newIssuer(t, reg, classroom)
	_ = iss.Configure("subject-1", 0, 0)
	if err := iss.AcquireLocation(context.Background()); err != nil {
		t.Fatalf("AcquireLocation: %v", err)
	}

	first := make(chan error, 1)
	go func() { first <- iss.Start(context.Background()) }()
	select {
	case <-reg.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("first Start never reached the registry")
	}

	if v := iss.View(); v.State != StateStarting {
		t.Fatalf("expected starting while the request is in flight, got %s", v.State)
	}
	if err := iss.Start(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected a second start to be rejected, got %v", err)
	}
	if err := iss.Configure("other", 0, 0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected configure while starting to fail, got %v", err)
	}
	if err := iss.AcquireLocation(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected acquire location while starting to fail, got %v", err)
	}

	close(reg.gate)
	if err := <-first; err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if v := iss.View(); v.State != StateActive || v.SubjectID != "subject-1" {
		t.Fatalf("expected the first session to be active, got %+v", v)
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.created) != 1 {
		t.Fatalf("expected exactly one session on the server, got %d", len(reg.created))
	}
}

func TestIssuerRunStopsOnExpiry(t *testing.T) {
	reg := &fakeRegistry{}
	iss, _ := newIssuer(t, reg, classroom)
	_ = iss.Configure("subject-1", 50*time.Millisecond, 0)
	_ = iss.AcquireLocation(context.Background())

	// Real clock so the tickers can drive the countdown.
	iss.now = time.Now
	if err := iss.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	reg.setPresent(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if got := iss.Run(ctx, 5*time.Millisecond, 10*time.Millisecond); got != StateExpired {
		t.Fatalf("expected Run to end in expired, got %s", got)
	}
}

func TestIssuerRunHonoursContext(t *testing.T) {
	iss, _, _ := startedIssuer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := iss.Run(ctx, time.Hour, time.Hour); got != StateActive {
		t.Fatalf("expected Run to return on cancel with the session still active, got %s", got)
	}
}

package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
)

func TestDistanceSymmetryAndIdentity(t *testing.T) {
	a := Point{Latitude: 12.9716, Longitude: 77.5946}
	b := Point{Latitude: 13.0827, Longitude: 80.2707}

	if d := Distance(a, a); d != 0 {
		t.Fatalf("expected zero distance to self, got %f", d)
	}
	if ab, ba := Distance(a, b), Distance(b, a); math.Abs(ab-ba) > 1e-6 {
		t.Fatalf("expected symmetric distance, got %f and %f", ab, ba)
	}
}

func TestDistanceKnownPairs(t *testing.T) {
	tests := []struct {
		name string
		a, b Point
		want float64
	}{
		{name: "0.001 deg latitude", a: Point{0, 0}, b: Point{0.001, 0}, want: 111.19},
		{name: "1 deg longitude at equator", a: Point{0, 0}, b: Point{0, 1}, want: 111195},
		{name: "classroom neighbour", a: Point{12.9716, 77.5946}, b: Point{12.97165, 77.59465}, want: 7.76},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			if math.Abs(got-tt.want)/tt.want > 0.01 {
				t.Fatalf("Distance() = %f, want %f within 1%%", got, tt.want)
			}
		})
	}
}

func TestWithinRadiusBoundary(t *testing.T) {
	center := Point{Latitude: 12.9716, Longitude: 77.5946}
	p := Point{Latitude: 12.9720, Longitude: 77.5946}
	d := Distance(p, center)

	in, got := WithinRadius(p, Fence{Latitude: center.Latitude, Longitude: center.Longitude, RadiusMeters: d})
	if !in {
		t.Fatalf("expected point exactly on the boundary to be within radius")
	}
	if got != d {
		t.Fatalf("expected raw distance %f, got %f", d, got)
	}

	in, _ = WithinRadius(p, Fence{Latitude: center.Latitude, Longitude: center.Longitude, RadiusMeters: d - 0.01})
	if in {
		t.Fatalf("expected point just outside the radius to be rejected")
	}
}

func TestFormatDistance(t *testing.T) {
	tests := []struct {
		meters float64
		want   string
	}{
		{0, "0m"},
		{24.6, "25m"},
		{999.4, "999m"},
		{1000, "1.0km"},
		{1234, "1.2km"},
	}
	for _, tt := range tests {
		if got := FormatDistance(tt.meters); got != tt.want {
			t.Errorf("FormatDistance(%v) = %q, want %q", tt.meters, got, tt.want)
		}
	}
}

func TestAccuracyStatus(t *testing.T) {
	if level, _ := AccuracyStatus(20); level != AccuracyGood {
		t.Errorf("expected good at 20m, got %s", level)
	}
	if level, _ := AccuracyStatus(35); level != AccuracyFair {
		t.Errorf("expected fair at 35m, got %s", level)
	}
	if level, _ := AccuracyStatus(51); level != AccuracyPoor {
		t.Errorf("expected poor at 51m, got %s", level)
	}
}

func TestAsLocationError(t *testing.T) {
	denied := &LocationError{Reason: ReasonPermissionDenied}
	tests := []struct {
		name string
		err  error
		want Reason
	}{
		{"passthrough", denied, ReasonPermissionDenied},
		{"wrapped", fmt.Errorf("gps: %w", denied), ReasonPermissionDenied},
		{"deadline", context.DeadlineExceeded, ReasonTimeout},
		{"other", errors.New("no satellites"), ReasonUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			le := AsLocationError(tt.err)
			if le.Reason != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, le.Reason)
			}
			if le.Message() == "" {
				t.Fatalf("expected a user-facing message")
			}
		})
	}
}

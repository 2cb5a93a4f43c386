package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"DEFAULT_RADIUS_M", "MAX_SESSION_DURATION", "ENFORCE_GEOFENCE", "QR_SIZE", "ALLOW_ORIGINS"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.DefaultRadiusMeters != 50 {
		t.Fatalf("expected default radius 50, got %v", cfg.DefaultRadiusMeters)
	}
	if cfg.MaxSessionDuration != 30*time.Minute {
		t.Fatalf("expected 30m max duration, got %s", cfg.MaxSessionDuration)
	}
	if !cfg.EnforceGeofence {
		t.Fatalf("expected server-side geofence on by default")
	}
	if cfg.QRSize != 256 {
		t.Fatalf("expected QR size 256, got %d", cfg.QRSize)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("DEFAULT_RADIUS_M", "75.5")
	t.Setenv("MAX_SESSION_DURATION", "10m")
	t.Setenv("ENFORCE_GEOFENCE", "false")
	t.Setenv("ALLOW_ORIGINS", "https://a.example, https://b.example,")

	cfg := Load()
	if !cfg.Production() {
		t.Fatalf("expected production mode")
	}
	if cfg.DefaultRadiusMeters != 75.5 {
		t.Fatalf("expected radius 75.5, got %v", cfg.DefaultRadiusMeters)
	}
	if cfg.MaxSessionDuration != 10*time.Minute {
		t.Fatalf("expected 10m, got %s", cfg.MaxSessionDuration)
	}
	if cfg.EnforceGeofence {
		t.Fatalf("expected geofence enforcement disabled")
	}
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(cfg.AllowOrigins, want) {
		t.Fatalf("expected origins %v, got %v", want, cfg.AllowOrigins)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		get  func(App) any
		want any
	}{
		{name: "duration", key: "SWEEP_INTERVAL", val: "soon", get: func(a App) any { return a.SweepInterval }, want: 30 * time.Second},
		{name: "int", key: "QR_SIZE", val: "big", get: func(a App) any { return a.QRSize }, want: 256},
		{name: "float", key: "DEFAULT_RADIUS_M", val: "wide", get: func(a App) any { return a.DefaultRadiusMeters }, want: 50.0},
		{name: "bool", key: "ENFORCE_GEOFENCE", val: "maybe", get: func(a App) any { return a.EnforceGeofence }, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if got := tt.get(Load()); got != tt.want {
				t.Fatalf("expected fallback %v, got %v", tt.want, got)
			}
		})
	}
}

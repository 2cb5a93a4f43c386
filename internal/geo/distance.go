// Package geo holds the great-circle math used to decide whether a student is
// close enough to the teacher to count as present.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6371000.0

// Point is a coordinate in decimal degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Fence is a center point plus a tolerance radius in meters.
type Fence struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius"`
}

// Center returns the fence center as a Point.
func (f Fence) Center() Point {
	return Point{Latitude: f.Latitude, Longitude: f.Longitude}
}

// Distance returns the Haversine distance between a and b in meters.
// Inputs must be valid degrees (lat -90..90, lon -180..180); they are not checked.
func Distance(a, b Point) float64 {
	phi1 := a.Latitude * math.Pi / 180
	phi2 := b.Latitude * math.Pi / 180
	dPhi := (b.Latitude - a.Latitude) * math.Pi / 180
	dLambda := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

// WithinRadius reports whether p lies inside the fence. A point exactly on the
// boundary counts as inside. The raw distance is returned either way.
func WithinRadius(p Point, f Fence) (bool, float64) {
	d := Distance(p, f.Center())
	return d <= f.RadiusMeters, d
}

// FormatDistance renders meters as "25m" below one kilometer and "1.2km" above.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%dm", int(math.Round(meters)))
	}
	return fmt.Sprintf("%.1fkm", meters/1000)
}

// Accuracy levels reported by AccuracyStatus.
const (
	AccuracyGood = "good"
	AccuracyFair = "fair"
	AccuracyPoor = "poor"
)

// AccuracyStatus grades a GPS accuracy reading (meters) for display.
func AccuracyStatus(accuracy float64) (level, message string) {
	switch {
	case accuracy <= 20:
		return AccuracyGood, "GPS signal is strong"
	case accuracy <= 50:
		return AccuracyFair, "GPS signal is moderate"
	default:
		return AccuracyPoor, "GPS signal is weak - move to an open area"
	}
}

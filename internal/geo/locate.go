package geo

import (
	"context"
	"errors"
	"fmt"
)

// Fix is a position reading with its reported accuracy in meters.
type Fix struct {
	Point
	Accuracy float64
}

// Locator produces the device's current position.
type Locator interface {
	Locate(ctx context.Context) (Fix, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context) (Fix, error)

func (f LocatorFunc) Locate(ctx context.Context) (Fix, error) { return f(ctx) }

// Reason says why a location request failed.
type Reason string

const (
	ReasonPermissionDenied Reason = "permission_denied"
	ReasonUnavailable      Reason = "unavailable"
	ReasonTimeout          Reason = "timeout"
)

// LocationError is a failed location request.
type LocationError struct {
	Reason Reason
	Err    error
}

func (e *LocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("location %s: %v", e.Reason, e.Err)
	}
	return "location " + string(e.Reason)
}

func (e *LocationError) Unwrap() error { return e.Err }

// Message is the text shown to the user.
func (e *LocationError) Message() string {
	switch e.Reason {
	case ReasonPermissionDenied:
		return "Location permission denied. Please enable location access."
	case ReasonTimeout:
		return "Location request timed out. Please try again."
	default:
		return "Location information unavailable. Please try again."
	}
}

// AsLocationError normalizes err into a LocationError. Context deadlines
// become timeouts and anything unrecognized is reported as unavailable.
func AsLocationError(err error) *LocationError {
	var le *LocationError
	if errors.As(err, &le) {
		return le
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &LocationError{Reason: ReasonTimeout, Err: err}
	}
	return &LocationError{Reason: ReasonUnavailable, Err: err}
}

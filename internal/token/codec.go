// Package token encodes attendance-session descriptors into the opaque text
// carried by the QR code and decodes scanned text back into descriptors.
//
// Tokens are base64url-wrapped JSON. They are reversible and carry no
// signature; the registry never trusts their contents beyond the session id.
package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"qrattendance/internal/geo"
)

// ErrMalformedToken is returned when scanned text is not a valid token.
var ErrMalformedToken = errors.New("malformed attendance token")

// Descriptor is the payload embedded in the QR code. Times are Unix milliseconds.
type Descriptor struct {
	SessionID        string     `json:"sessionId"`
	SubjectID        string     `json:"subjectId"`
	IssuedAt         int64      `json:"timestamp"`
	ExpiresAt        int64      `json:"expiresAt"`
	LocationRequired bool       `json:"locationRequired"`
	Geofence         *geo.Fence `json:"allowedLocation,omitempty"`
}

// NewDescriptor builds a descriptor for a session window.
func NewDescriptor(sessionID, subjectID string, issuedAt, expiresAt time.Time, fence *geo.Fence) Descriptor {
	return Descriptor{
		SessionID:        sessionID,
		SubjectID:        subjectID,
		IssuedAt:         issuedAt.UnixMilli(),
		ExpiresAt:        expiresAt.UnixMilli(),
		LocationRequired: fence != nil,
		Geofence:         fence,
	}
}

// Expiry returns ExpiresAt as a time.
func (d Descriptor) Expiry() time.Time {
	return time.UnixMilli(d.ExpiresAt).UTC()
}

// Expired reports whether now is past the descriptor expiry.
func (d Descriptor) Expired(now time.Time) bool {
	return now.UnixMilli() > d.ExpiresAt
}

// Encode serializes d into a URL-safe token.
func Encode(d Descriptor) (string, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode parses a token produced by Encode. Padded standard base64 is accepted
// too, so codes rendered by older web clients still scan.
func Decode(tok string) (Descriptor, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return Descriptor{}, ErrMalformedToken
	}

	raw, err := decodeBase64(tok)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if err := d.validate(); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return d, nil
}

func decodeBase64(s string) ([]byte, error) {
	if strings.ContainsAny(s, "+/=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawURLEncoding.DecodeString(s)
}

func (d Descriptor) validate() error {
	switch {
	case d.SessionID == "":
		return errors.New("sessionId missing")
	case d.SubjectID == "":
		return errors.New("subjectId missing")
	case d.ExpiresAt <= 0:
		return errors.New("expiresAt missing")
	case d.Geofence != nil && d.Geofence.RadiusMeters <= 0:
		return errors.New("allowedLocation radius must be positive")
	}
	return nil
}

// Package client is the HTTP side of the session registry used by the issuer
// and the scanner.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"qrattendance/internal/attendance"
	"qrattendance/internal/auth"
)

// APIError is a rejection returned by the server. Code is the envelope error
// code, e.g. ALREADY_MARKED.
type APIError struct {
	Status  int
	Code    string
	Message string
	Fields  []attendance.FieldError
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// TransportError means the server could not be reached or answered with
// something that is not an envelope. Callers may retry.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code attendance.Code) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == string(code)
}

// IsTransport reports whether err is a connectivity failure.
func IsTransport(err error) bool {
	var tErr *TransportError
	return errors.As(err, &tErr)
}

// Client calls the attendance API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Token   string
}

// New creates a client with a short timeout.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// WithToken returns a copy of c that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.Token = token
	return &cp
}

// CreateSessionRequest opens a session of Duration for SubjectID.
type CreateSessionRequest struct {
	SubjectID    string
	Duration     time.Duration
	Latitude     *float64
	Longitude    *float64
	RadiusMeters *float64
}

// MarkRequest is a student's mark submission.
type MarkRequest struct {
	SessionID string
	StudentID string
	Latitude  float64
	Longitude float64
	Accuracy  *float64
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{"email": email, "password": password}, &out)
	return out, err
}

// CreateSession opens a new session.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (attendance.Session, error) {
	body := map[string]any{
		"subjectId":       req.SubjectID,
		"durationMinutes": req.Duration.Minutes(),
	}
	if req.Latitude != nil && req.Longitude != nil {
		body["locationLat"] = *req.Latitude
		body["locationLng"] = *req.Longitude
	}
	if req.RadiusMeters != nil {
		body["allowedRadius"] = *req.RadiusMeters
	}
	var out attendance.Session
	err := c.do(ctx, http.MethodPost, "/attendance/sessions", body, &out)
	return out, err
}

// StopSession deactivates a session.
func (c *Client) StopSession(ctx context.Context, sessionID string) (attendance.Session, error) {
	var out attendance.Session
	err := c.do(ctx, http.MethodPatch, "/attendance/sessions/"+url.PathEscape(sessionID)+"/stop", nil, &out)
	return out, err
}

// ListSessions lists sessions, optionally narrowed by subject and active flag.
func (c *Client) ListSessions(ctx context.Context, subjectID string, active *bool) ([]attendance.SessionSummary, error) {
	q := url.Values{}
	if subjectID != "" {
		q.Set("subjectId", subjectID)
	}
	if active != nil {
		q.Set("isActive", strconv.FormatBool(*active))
	}
	path := "/attendance/sessions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []attendance.SessionSummary
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// SessionDetail returns a session with its present students.
func (c *Client) SessionDetail(ctx context.Context, sessionID string) (attendance.SessionDetail, error) {
	var out attendance.SessionDetail
	err := c.do(ctx, http.MethodGet, "/attendance/sessions/"+url.PathEscape(sessionID), nil, &out)
	return out, err
}

// PresentCount returns the live present counter of a session.
func (c *Client) PresentCount(ctx context.Context, sessionID string) (int64, error) {
	var out struct {
		Present int64 `json:"present"`
	}
	err := c.do(ctx, http.MethodGet, "/attendance/sessions/"+url.PathEscape(sessionID)+"/present", nil, &out)
	return out.Present, err
}

// Mark submits a student's attendance.
func (c *Client) Mark(ctx context.Context, req MarkRequest) (attendance.Record, error) {
	body := map[string]any{
		"sessionId":   req.SessionID,
		"studentId":   req.StudentID,
		"locationLat": req.Latitude,
		"locationLng": req.Longitude,
	}
	if req.Accuracy != nil {
		body["locationAccuracy"] = *req.Accuracy
	}
	var out attendance.Record
	err := c.do(ctx, http.MethodPost, "/attendance/mark", body, &out)
	return out, err
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string                  `json:"code"`
		Message string                  `json:"message"`
		Fields  []attendance.FieldError `json:"fields"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	op := method + " " + path
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &TransportError{Op: op, Err: fmt.Errorf("unexpected %s: %s", resp.Status, truncate(raw))}
		}
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.StatusCode >= 300 || !env.Success {
		apiErr := &APIError{Status: resp.StatusCode, Code: string(attendance.CodeInternal), Message: resp.Status}
		if env.Error != nil {
			apiErr.Code, apiErr.Message, apiErr.Fields = env.Error.Code, env.Error.Message, env.Error.Fields
		}
		return apiErr
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("decode data: %w", err)}
		}
	}
	return nil
}

func truncate(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

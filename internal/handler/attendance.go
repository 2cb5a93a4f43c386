package handler

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"qrattendance/internal/attendance"
	"qrattendance/internal/auth"
	"qrattendance/internal/metrics"
	"qrattendance/internal/presence"
	"qrattendance/internal/queue"
	"qrattendance/internal/report"
	"qrattendance/internal/token"
)

// Deps are the collaborators of the attendance routes. Events, Presence and
// Metrics are optional.
type Deps struct {
	Service  *attendance.Service
	Events   queue.Queue
	Presence *presence.Tracker
	Metrics  *metrics.Metrics
	QRSize   int
	// Authn validates the bearer token; role checks are added per route.
	Authn gin.HandlerFunc
}

// Handler serves the session lifecycle endpoints.
type Handler struct {
	svc      *attendance.Service
	events   queue.Queue
	presence *presence.Tracker
	metrics  *metrics.Metrics
	qrSize   int
}

// RegisterRoutes mounts /attendance routes on r.
func RegisterRoutes(r gin.IRouter, d Deps) {
	h := &Handler{
		svc:      d.Service,
		events:   d.Events,
		presence: d.Presence,
		metrics:  d.Metrics,
		qrSize:   d.QRSize,
	}
	if h.qrSize <= 0 {
		h.qrSize = token.DefaultQRSize
	}
	if h.presence == nil {
		h.presence = presence.NewTracker(nil, d.Service.PresentCount)
	}

	g := r.Group("/attendance", d.Authn)
	teacher := auth.RequireRole(auth.RoleTeacher)
	student := auth.RequireRole(auth.RoleStudent)

	g.POST("/sessions", teacher, h.CreateSession)
	g.GET("/sessions", teacher, h.ListSessions)
	g.GET("/sessions/:id", teacher, h.GetSession)
	g.PATCH("/sessions/:id/stop", teacher, h.StopSession)
	g.GET("/sessions/:id/present", teacher, h.PresentCount)
	g.GET("/sessions/:id/qr.png", teacher, h.QRCode)
	g.GET("/sessions/:id/export.xlsx", teacher, h.Export)

	g.POST("/mark", student, h.Mark)
	g.GET("/student/:studentId", auth.RequireRole(auth.RoleTeacher, auth.RoleStudent), h.StudentHistory)
}

// createSessionRequest accepts both the duration form and the legacy form
// that sends an explicit window. The server always issues the token itself.
type createSessionRequest struct {
	SubjectID       string     `json:"subjectId"`
	DurationMinutes *float64   `json:"durationMinutes"`
	QRCode          string     `json:"qrCode"`
	StartTime       *time.Time `json:"startTime"`
	EndTime         *time.Time `json:"endTime"`
	LocationLat     *float64   `json:"locationLat"`
	LocationLng     *float64   `json:"locationLng"`
	AllowedRadius   *float64   `json:"allowedRadius"`
}

func (r createSessionRequest) duration() time.Duration {
	switch {
	case r.DurationMinutes != nil:
		return time.Duration(*r.DurationMinutes * float64(time.Minute))
	case r.StartTime != nil && r.EndTime != nil:
		return r.EndTime.Sub(*r.StartTime)
	default:
		return 0
	}
}

func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	sess, err := h.svc.CreateSession(c.Request.Context(), attendance.CreateInput{
		SubjectID: req.SubjectID,
		Duration:  req.duration(),
		Geofence: attendance.GeofenceInput{
			Latitude:     req.LocationLat,
			Longitude:    req.LocationLng,
			RadiusMeters: req.AllowedRadius,
		},
	})
	if err != nil {
		fail(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.SessionsCreated.Inc()
	}
	c.Header("Location", "/attendance/sessions/"+sess.ID)
	ok(c, http.StatusCreated, sess, "attendance session created")
}

func (h *Handler) ListSessions(c *gin.Context) {
	f := attendance.SessionFilter{SubjectID: c.Query("subjectId")}
	var fields []attendance.FieldError
	if v := c.Query("isActive"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fields = append(fields, attendance.FieldError{Field: "isActive", Message: "must be true or false"})
		} else {
			f.IsActive = &b
		}
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fields = append(fields, attendance.FieldError{Field: "limit", Message: "must be an integer"})
		}
		f.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fields = append(fields, attendance.FieldError{Field: "offset", Message: "must be an integer"})
		}
		f.Offset = n
	}
	if len(fields) > 0 {
		fail(c, &attendance.Error{Code: attendance.CodeValidation, Message: "invalid query", Fields: fields})
		return
	}

	sessions, err := h.svc.ListSessions(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	okList(c, sessions, len(sessions))
}

func (h *Handler) GetSession(c *gin.Context) {
	detail, err := h.svc.GetSessionDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, detail, "")
}

func (h *Handler) StopSession(c *gin.Context) {
	sess, err := h.svc.StopSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.SessionsStopped.Inc()
	}
	h.publish(c.Request.Context(), queue.TypeStopped, queue.StopEvent{SessionID: sess.ID})
	ok(c, http.StatusOK, sess, "attendance session stopped")
}

func (h *Handler) PresentCount(c *gin.Context) {
	sess, err := h.svc.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	n, err := h.presence.Count(c.Request.Context(), sess.ID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"sessionId": sess.ID, "present": n, "isActive": sess.IsActive}, "")
}

func (h *Handler) QRCode(c *gin.Context) {
	sess, err := h.svc.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	size := h.qrSize
	if v := c.Query("size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 64 && n <= 1024 {
			size = n
		}
	}
	png, err := token.RenderPNG(sess.Token, size)
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) Export(c *gin.Context) {
	detail, err := h.svc.GetSessionDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	var loc *time.Location
	if tz := c.Query("tz"); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	var buf bytes.Buffer
	if err := report.WriteRoster(&buf, detail, loc); err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+report.Filename(detail)+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

type markRequest struct {
	SessionID        string   `json:"sessionId"`
	StudentID        string   `json:"studentId"`
	LocationLat      *float64 `json:"locationLat"`
	LocationLng      *float64 `json:"locationLng"`
	LocationAccuracy *float64 `json:"locationAccuracy"`
}

func (h *Handler) Mark(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	studentID := strings.TrimSpace(req.StudentID)
	if studentID == "" {
		studentID = claims.Subject
	}
	if studentID != claims.Subject {
		failWith(c, http.StatusForbidden, "FORBIDDEN", "students may only mark their own attendance")
		return
	}

	in := attendance.MarkInput{SessionID: req.SessionID, StudentID: studentID}
	if req.LocationLat != nil && req.LocationLng != nil {
		in.Location = &attendance.Location{
			Latitude:  *req.LocationLat,
			Longitude: *req.LocationLng,
			Accuracy:  req.LocationAccuracy,
		}
	}

	rec, err := h.svc.MarkAttendance(c.Request.Context(), in)
	if err != nil {
		h.metrics.ObserveMark(string(attendance.CodeOf(err)))
		fail(c, err)
		return
	}
	h.metrics.ObserveMark("ok")
	h.publish(c.Request.Context(), queue.TypeMarked, queue.MarkEvent{
		SessionID: rec.SessionID,
		StudentID: rec.StudentID,
		MarkedAt:  rec.MarkedAt,
	})
	ok(c, http.StatusCreated, rec, "attendance marked successfully")
}

func (h *Handler) StudentHistory(c *gin.Context) {
	studentID := c.Param("studentId")
	claims, _ := auth.ClaimsFrom(c)
	if claims.Role == auth.RoleStudent && claims.Subject != studentID {
		failWith(c, http.StatusForbidden, "FORBIDDEN", "students may only read their own history")
		return
	}
	history, err := h.svc.StudentHistory(c.Request.Context(), studentID, c.Query("subjectId"))
	if err != nil {
		fail(c, err)
		return
	}
	okList(c, history, len(history))
}

// publish is best effort: a lost event only delays the live counter, which
// falls back to the registry count.
func (h *Handler) publish(ctx context.Context, typ string, v any) {
	if h.events == nil {
		return
	}
	msg, err := queue.NewMessage(typ, v)
	if err != nil {
		log.Printf("encode %s event failed: %v", typ, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := h.events.Publish(ctx, msg); err != nil {
		log.Printf("queue publish %s failed: %v", typ, err)
	}
}

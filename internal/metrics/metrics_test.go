package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		t.Fatalf("reading counter: %v", err)
	}
	return out.GetCounter().GetValue()
}

func TestGinMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(prometheus.NewRegistry())

	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/attendance/sessions/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/attendance/sessions/"+id, nil))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	if got := counterValue(t, m.Requests.WithLabelValues("GET", "/attendance/sessions/:id", "200")); got != 3 {
		t.Fatalf("expected 3 requests on the route template, got %v", got)
	}
	if got := counterValue(t, m.Requests.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Fatalf("expected 1 unmatched request, got %v", got)
	}
}

func TestObserveMark(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveMark("ok")
	m.ObserveMark("ALREADY_MARKED")
	m.ObserveMark("ok")
	if got := counterValue(t, m.Marks.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected 2 ok marks, got %v", got)
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveMark("ok")
}

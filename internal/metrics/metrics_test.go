package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	return string(body)
}

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest(http.MethodGet, "/api/v1/submissions", 200, 12*time.Millisecond)
	m.IncSubmissionsCreated()
	m.ObserveUpload(2048, nil)
	m.ObserveUpload(0, errors.New("boom"))
	m.IncRollbacks("clean")
	m.IncJobStatusCache("stale")
	m.IncJobStatusFetch("ok")

	body := scrape(t, m)
	for _, want := range []string{
		`http_requests_total{method="GET",route="/api/v1/submissions",status="200"} 1`,
		`submissions_created_total 1`,
		`upload_bytes_total 2048`,
		`upload_objects_total{result="error"} 1`,
		`submission_rollbacks_total{outcome="clean"} 1`,
		`job_status_cache_lookups_total{state="stale"} 1`,
		`job_status_fetches_total{result="ok"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in exposition:\n%s", want, body)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveHTTPRequest(http.MethodGet, "", 500, time.Second)
	m.IncSubmissionsCreated()
	m.ObserveUpload(1, nil)
	m.IncRollbacks("partial")
	m.IncJobStatusCache("miss")
	m.IncJobStatusFetch("error")
	m.IncEventsConnections()
	m.DecEventsConnections()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rr.Code)
	}
}

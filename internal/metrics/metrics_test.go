package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hamed0406/waitprobe/internal/probe"
)

func TestObserver_RecordsAfterRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// second call is a no-op
	if err := Register(prometheus.NewRegistry()); err != nil {
		t.Fatalf("Register again: %v", err)
	}

	o := Observer{}
	SetRunning("db")
	if body := scrape(t, reg); !strings.Contains(body, `waitprobe_probe_running{probe="db"} 1`) {
		t.Fatalf("running gauge not set:\n%s", body)
	}
	o.AttemptFinished("db", probe.Outcome{Kind: probe.KindRetryable})
	o.AttemptFinished("db", probe.Outcome{Kind: probe.KindSuccess})
	o.RunFinished("db", probe.StateSucceeded, 150*time.Millisecond)

	r := chi.NewRouter()
	r.Use(HTTPMiddleware)
	r.Get("/api/runs", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/runs", nil))

	body := scrape(t, reg)
	for _, want := range []string{
		`waitprobe_probe_attempts_total{kind="retryable",probe="db"} 1`,
		`waitprobe_probe_runs_total{probe="db",state="succeeded"} 1`,
		`waitprobe_probe_running{probe="db"} 0`,
		`waitprobe_probe_run_duration_seconds_count{probe="db"} 1`,
		`waitprobe_http_requests_total{method="GET",path="/api/runs",status="418"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %s", want)
		}
	}
}

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	b, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

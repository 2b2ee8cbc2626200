package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/quotaguard/pkg/config"
)

func TestCollector_NewCollector(t *testing.T) {
	c := NewCollector(config.MetricsConfig{Path: "/metrics"}, "1.2.3")

	if c.Registry() == nil {
		t.Fatal("expected non-nil registry")
	}
	if !c.Enabled() {
		t.Error("expected metrics enabled when unset")
	}
	if c.Path() != "/metrics" {
		t.Errorf("Path() = %q", c.Path())
	}
	if got := testutil.ToFloat64(c.buildInfo.WithLabelValues("1.2.3")); got != 1 {
		t.Errorf("build_info = %v, want 1", got)
	}
}

func TestCollector_Disabled(t *testing.T) {
	disabled := false
	c := NewCollector(config.MetricsConfig{Enabled: &disabled}, "dev")
	if c.Enabled() {
		t.Error("expected metrics disabled")
	}
}

func TestJobMetrics_RecordRun(t *testing.T) {
	c := NewCollector(config.MetricsConfig{}, "dev")
	jobs := c.Jobs()

	jobs.RecordRun("sweep", 3, 10*time.Millisecond, nil)
	jobs.RecordRun("sweep", 0, time.Millisecond, nil)
	jobs.RecordRun("snapshot", 0, time.Millisecond, errors.New("disk full"))

	if got := testutil.ToFloat64(jobs.runsTotal.WithLabelValues("sweep", "success")); got != 2 {
		t.Errorf("sweep success runs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(jobs.runsTotal.WithLabelValues("snapshot", "error")); got != 1 {
		t.Errorf("snapshot error runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(jobs.itemsTotal.WithLabelValues("sweep")); got != 3 {
		t.Errorf("sweep items = %v, want 3", got)
	}
	if got := testutil.ToFloat64(jobs.lastSuccess.WithLabelValues("snapshot")); got != 0 {
		t.Errorf("expected no success timestamp for failed job, got %v", got)
	}
}

func TestJobMetrics_NilSafe(t *testing.T) {
	var jm *JobMetrics
	jm.RecordRun("sweep", 1, time.Millisecond, nil)
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(config.MetricsConfig{}, "dev")
	c.Jobs().RecordRun("sweep", 1, time.Millisecond, nil)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"quotaguard_build_info", "quotaguard_maintenance_runs_total", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("expected %s in output", name)
		}
	}
}

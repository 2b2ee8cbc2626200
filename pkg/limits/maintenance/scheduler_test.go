package maintenance

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/quotaguard/pkg/telemetry/metrics"
)

func countJob(n int) func(context.Context) (int, error) {
	return func(context.Context) (int, error) { return n, nil }
}

func TestScheduler_Add(t *testing.T) {
	tests := []struct {
		name      string
		job       Job
		wantError bool
	}{
		{name: "valid every", job: Job{Name: "a", Schedule: "@every 5m", Run: countJob(0)}},
		{name: "valid cron", job: Job{Name: "a", Schedule: "0 3 * * *", Run: countJob(0)}},
		{name: "unscheduled", job: Job{Name: "a", Run: countJob(0)}},
		{name: "missing name", job: Job{Schedule: "@hourly", Run: countJob(0)}, wantError: true},
		{name: "missing run", job: Job{Name: "a", Schedule: "@hourly"}, wantError: true},
		{name: "invalid schedule", job: Job{Name: "a", Schedule: "invalid cron", Run: countJob(0)}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(nil, nil)
			err := s.Add(tt.job)
			if (err != nil) != tt.wantError {
				t.Errorf("Add() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestScheduler_AddDuplicate(t *testing.T) {
	s := NewScheduler(nil, nil)
	if err := s.Add(Job{Name: JobSweep, Schedule: "@hourly", Run: countJob(0)}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.Add(Job{Name: JobSweep, Schedule: "@hourly", Run: countJob(0)}); err == nil {
		t.Error("duplicate job should be rejected")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(nil, nil)
	_ = s.Add(Job{Name: JobSweep, Schedule: "@every 1h", Run: countJob(0)})
	_ = s.Add(Job{Name: JobSnapshotCleanup, Run: countJob(0)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	if err := s.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}
	if err := s.Add(Job{Name: "late", Run: countJob(0)}); err == nil {
		t.Error("Add on a running scheduler should fail")
	}

	next := s.NextRun(JobSweep)
	if next == nil {
		t.Fatal("NextRun() returned nil for scheduled job")
	}
	if until := time.Until(*next); until <= 0 || until > time.Hour+time.Second {
		t.Errorf("NextRun() in %v, want within an hour", until)
	}
	if s.NextRun(JobSnapshotCleanup) != nil {
		t.Error("unscheduled job should have no next run")
	}

	got := s.Jobs()
	if len(got) != 2 || got[0] != JobSnapshotCleanup || got[1] != JobSweep {
		t.Errorf("Jobs() = %v", got)
	}

	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	if s.NextRun(JobSweep) != nil {
		t.Error("stopped scheduler should have no next run")
	}
}

func TestScheduler_RunsOnSchedule(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler(nil, nil)
	_ = s.Add(Job{Name: JobSweep, Schedule: "@every 1s", Run: func(context.Context) (int, error) {
		runs.Add(1)
		return 1, nil
	}})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Error("job never ran")
	}
}

func TestScheduler_RunNowRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewScheduler(metrics.NewJobMetrics(reg), nil)

	boom := errors.New("boom")
	_ = s.Add(Job{Name: JobSnapshot, Run: countJob(7)})
	_ = s.Add(Job{Name: JobSweep, Run: func(context.Context) (int, error) { return 0, boom }})

	n, err := s.RunNow(context.Background(), JobSnapshot)
	if err != nil || n != 7 {
		t.Fatalf("RunNow(snapshot) = %d, %v; want 7", n, err)
	}
	if _, err := s.RunNow(context.Background(), JobSweep); !errors.Is(err, boom) {
		t.Errorf("RunNow(sweep) error = %v, want boom", err)
	}
	if _, err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Error("RunNow of unknown job should fail")
	}

	const runs = `
# HELP quotaguard_maintenance_runs_total Total number of maintenance job runs
# TYPE quotaguard_maintenance_runs_total counter
quotaguard_maintenance_runs_total{job="snapshot",result="success"} 1
quotaguard_maintenance_runs_total{job="sweep",result="error"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(runs), "quotaguard_maintenance_runs_total"); err != nil {
		t.Error(err)
	}

	const items = `
# HELP quotaguard_maintenance_items_total Total number of keys processed by maintenance jobs
# TYPE quotaguard_maintenance_items_total counter
quotaguard_maintenance_items_total{job="snapshot"} 7
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(items), "quotaguard_maintenance_items_total"); err != nil {
		t.Error(err)
	}
}

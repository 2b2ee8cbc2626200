package cli

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestAdmissionProgress_Counts(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressReporter(&buf, "Simulating").(*AdmissionProgress)

	p.Start(8)
	for i := 0; i < 8; i++ {
		p.Record(i < 5)
	}
	p.Finish()

	allowed, denied := p.Counts()
	if allowed != 5 || denied != 3 {
		t.Fatalf("counts = %d/%d, want 5/3", allowed, denied)
	}

	out := buf.String()
	for _, want := range []string{"Simulating:", "8/8", "allowed=5", "denied=3", "37.5% denied"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestAdmissionProgress_IgnoresPastTotal(t *testing.T) {
	p := NewProgressReporter(&bytes.Buffer{}, "").(*AdmissionProgress)
	p.Start(2)
	p.Record(true)
	p.Record(true)
	p.Record(false)

	allowed, denied := p.Counts()
	if allowed != 2 || denied != 0 {
		t.Errorf("counts = %d/%d, want 2/0", allowed, denied)
	}
}

func TestAdmissionProgress_ZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressReporter(&buf, "Simulating")

	p.Start(0)
	p.Record(true)
	p.Finish()

	if strings.Contains(buf.String(), "Simulating:") {
		t.Errorf("zero total should not draw a bar, got %q", buf.String())
	}
}

func TestAdmissionProgress_Error(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressReporter(&buf, "Simulating")

	p.Start(10)
	p.Error(errors.New("store unreachable"))

	out := buf.String()
	if !strings.Contains(out, "Error:") || !strings.Contains(out, "store unreachable") {
		t.Errorf("unexpected error output %q", out)
	}
}

func TestAdmissionProgress_Concurrent(t *testing.T) {
	p := NewProgressReporter(&bytes.Buffer{}, "Simulating").(*AdmissionProgress)
	p.Start(1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.Record(worker%2 == 0)
			}
		}(i)
	}
	wg.Wait()
	p.Finish()

	allowed, denied := p.Counts()
	if allowed != 500 || denied != 500 {
		t.Errorf("counts = %d/%d, want 500/500", allowed, denied)
	}
}

func TestNewProgressReporter_NilWriter(t *testing.T) {
	p := NewProgressReporter(nil, "")
	if p == nil {
		t.Fatal("NewProgressReporter returned nil")
	}
	if got := p.(*AdmissionProgress).label; got != "Progress" {
		t.Errorf("label = %q, want Progress", got)
	}
}

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressReporter reports admission outcomes of a long-running load run.
type ProgressReporter interface {
	Start(total int64)
	Record(allowed bool)
	Finish()
	Error(err error)
}

// AdmissionProgress draws a single-line bar with allowed and denied totals.
type AdmissionProgress struct {
	mu      sync.Mutex
	w       io.Writer
	label   string
	total   int64
	allowed int64
	denied  int64
	started time.Time
	drawn   time.Time
}

// renderInterval throttles redraws. Start and Finish always draw.
const renderInterval = 100 * time.Millisecond

const barWidth = 30

// NewProgressReporter writes to w, stderr when w is nil.
func NewProgressReporter(w io.Writer, label string) ProgressReporter {
	if w == nil {
		w = os.Stderr
	}
	if label == "" {
		label = "Progress"
	}
	return &AdmissionProgress{w: w, label: label}
}

func (p *AdmissionProgress) Start(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
	p.allowed, p.denied = 0, 0
	p.started = time.Now()
	p.draw(true)
}

// Record counts one decision. Decisions past total are ignored.
func (p *AdmissionProgress) Record(allowed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.allowed+p.denied >= p.total {
		return
	}
	if allowed {
		p.allowed++
	} else {
		p.denied++
	}
	p.draw(false)
}

func (p *AdmissionProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.draw(true)
	fmt.Fprintln(p.w)
}

func (p *AdmissionProgress) Error(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, "\n✗ Error: %v\n", err)
}

// Counts returns the decisions recorded so far.
func (p *AdmissionProgress) Counts() (allowed, denied int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allowed, p.denied
}

func (p *AdmissionProgress) draw(force bool) {
	if p.total <= 0 {
		return
	}
	now := time.Now()
	if !force && now.Sub(p.drawn) < renderInterval {
		return
	}
	p.drawn = now

	done := p.allowed + p.denied
	filled := int(done * barWidth / p.total)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	var denyRate float64
	if done > 0 {
		denyRate = float64(p.denied) / float64(done) * 100
	}

	fmt.Fprintf(p.w, "\r%s: [%s] %d/%d allowed=%d denied=%d (%.1f%% denied) %s",
		p.label, bar, done, p.total, p.allowed, p.denied, denyRate,
		now.Sub(p.started).Round(time.Millisecond))
}

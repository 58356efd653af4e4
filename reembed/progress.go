package reembed

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressTracker prints a single carriage-return progress line for a
// re-embedding run. Nothing is printed until Start is called.
type ProgressTracker struct {
	mu sync.Mutex

	out   io.Writer
	total int
	every int

	running bool
	began   time.Time
	base    int // count at Start, excluded from the rate
	done    int
	printed int
}

// NewProgressTracker prints to out whenever progress has moved by at least every chunks.
func NewProgressTracker(out io.Writer, total, every int) *ProgressTracker {
	return &ProgressTracker{out: out, total: total, every: every}
}

// Start begins timing with at chunks already done.
func (p *ProgressTracker) Start(at int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	at = min(at, p.total)
	p.running = true
	p.began = time.Now()
	p.base, p.done, p.printed = at, at, at
}

// Set records an absolute count.
func (p *ProgressTracker) Set(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.moveTo(n)
}

// Add records n more chunks.
func (p *ProgressTracker) Add(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.moveTo(p.done + n)
}

func (p *ProgressTracker) moveTo(n int) {
	if !p.running {
		return
	}
	p.done = min(n, p.total)
	if p.done-p.printed >= p.every {
		p.print()
		p.printed = p.done
	}
}

// Finish jumps to the total, prints the last line and ends it.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.done = p.total
	p.print()
	fmt.Fprintln(p.out)
}

// Elapsed is the time since Start.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return 0
	}
	return time.Since(p.began)
}

// Rate is chunks per second done by this run.
func (p *ProgressTracker) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate()
}

func (p *ProgressTracker) rate() float64 {
	if !p.running {
		return 0
	}
	secs := time.Since(p.began).Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(p.done-p.base) / secs
}

func (p *ProgressTracker) print() {
	pct := 0.0
	if p.total > 0 {
		pct = 100 * float64(p.done) / float64(p.total)
	}
	fmt.Fprintf(p.out, "\rProgress: %d/%d (%.1f%%) - %.1f chunks/s", p.done, p.total, pct, p.rate())
}

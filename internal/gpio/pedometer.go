package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/speed-fusion/internal/sensor"
)

// Pedometer turns rising edges on a pulse line into step events.
// It implements sensor.StepSource.
type Pedometer struct {
	w           Watcher
	minInterval time.Duration

	mu       sync.Mutex
	fn       func(sensor.Step)
	lastEdge time.Duration
	count    int
}

// NewPedometer creates a Pedometer reading edges from w.
func NewPedometer(w Watcher, cfg Config) *Pedometer {
	return &Pedometer{w: w, minInterval: cfg.MinInterval}
}

// Available reports whether the pulse line exists.
func (p *Pedometer) Available() bool {
	return p.w.Available()
}

// Start arms the line and delivers one Step per accepted edge.
func (p *Pedometer) Start(fn func(sensor.Step)) error {
	if !p.w.Available() {
		return sensor.ErrUnavailable
	}

	p.mu.Lock()
	p.fn = fn
	p.count = 0
	p.lastEdge = 0
	p.mu.Unlock()

	if err := p.w.Watch(p.onEdge); err != nil {
		p.mu.Lock()
		p.fn = nil
		p.mu.Unlock()
		return fmt.Errorf("watch step line: %w", err)
	}
	return nil
}

// Stop releases the line. No step is delivered after Stop returns.
func (p *Pedometer) Stop() error {
	p.mu.Lock()
	started := p.fn != nil
	p.fn = nil
	p.mu.Unlock()

	if !started {
		return nil
	}
	if err := p.w.Close(); err != nil {
		return fmt.Errorf("release step line: %w", err)
	}
	return nil
}

// Steps returns the number of steps delivered since Start.
func (p *Pedometer) Steps() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// onEdge receives the kernel's boot-relative event time. Step timestamps
// carry it through as-is; the step estimator replaces implausible
// timestamps with the arrival time.
func (p *Pedometer) onEdge(ts time.Duration) {
	p.mu.Lock()
	fn := p.fn
	if fn == nil || (p.count > 0 && ts-p.lastEdge < p.minInterval) {
		p.mu.Unlock()
		return
	}
	p.lastEdge = ts
	p.count++
	p.mu.Unlock()

	fn(sensor.Step{Timestamp: time.Unix(0, int64(ts))})
}

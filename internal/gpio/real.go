//go:build linux

package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// RealWatcher watches a GPIO line using the Linux GPIO character device.
type RealWatcher struct {
	cfg Config

	mu   sync.Mutex
	line *gpiocdev.Line
}

// NewRealWatcher creates a watcher for cfg. The line is not requested
// until Watch.
func NewRealWatcher(cfg Config) *RealWatcher {
	return &RealWatcher{cfg: cfg}
}

// Available reports whether the configured chip is an accessible GPIO
// character device.
func (r *RealWatcher) Available() bool {
	return gpiocdev.IsChip(r.cfg.Chip) == nil
}

// Watch requests the line with pull-down and rising edge detection.
func (r *RealWatcher) Watch(fn func(ts time.Duration)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.line != nil {
		return fmt.Errorf("pin %d already watched", r.cfg.Pin)
	}

	line, err := gpiocdev.RequestLine(r.cfg.Chip, r.cfg.Pin,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithDebounce(r.cfg.Debounce),
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			fn(evt.Timestamp)
		}),
	)
	if err != nil {
		return fmt.Errorf("request step pin %d: %w", r.cfg.Pin, err)
	}
	r.line = line
	return nil
}

// Close releases the line.
// Reconfigures the pin to input with pull-down (matching Pi boot defaults)
// before closing.
func (r *RealWatcher) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.line == nil {
		return nil
	}

	var errs []error
	if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure step pin: %w", err))
	}
	if err := r.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close step pin: %w", err))
	}
	r.line = nil

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

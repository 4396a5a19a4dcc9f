// Package gpio detects steps from a pedometer module wired to a GPIO input.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "time"

// Watcher delivers rising edges on one input line.
type Watcher interface {
	// Available reports whether the line's chip is present.
	Available() bool

	// Watch requests the line and calls fn for every rising edge with the
	// kernel's boot-relative event time. fn runs on the watcher's goroutine.
	Watch(fn func(ts time.Duration)) error

	// Close releases the line.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	PinStep = 17 // pedometer pulse output
)

// Config holds the pedometer wiring and filtering.
type Config struct {
	Chip        string
	Pin         int
	Debounce    time.Duration // kernel debounce on the line
	MinInterval time.Duration // edges closer than this are one step
}

// DefaultConfig returns the wiring used on the reference board.
func DefaultConfig() Config {
	return Config{
		Chip:        "gpiochip0",
		Pin:         PinStep,
		Debounce:    10 * time.Millisecond,
		MinInterval: 200 * time.Millisecond,
	}
}

//go:build !linux

package gpio

import (
	"errors"
	"time"
)

// RealWatcher is not available on non-Linux platforms.
type RealWatcher struct{}

// NewRealWatcher returns a watcher that is never available.
func NewRealWatcher(Config) *RealWatcher {
	return &RealWatcher{}
}

// Available always reports false on non-Linux platforms.
func (r *RealWatcher) Available() bool { return false }

// Watch is not implemented on non-Linux platforms.
func (r *RealWatcher) Watch(func(time.Duration)) error {
	return errors.New("gpio: not supported on this platform (requires Linux)")
}

// Close is not implemented on non-Linux platforms.
func (r *RealWatcher) Close() error {
	return nil
}

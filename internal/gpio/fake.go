package gpio

import (
	"errors"
	"sync"
	"time"
)

// FakeWatcher is a test double that lets tests fire edges by hand.
type FakeWatcher struct {
	mu sync.Mutex
	fn func(time.Duration)

	// Unavailable makes Available report false.
	Unavailable bool

	// WatchError, if set, will be returned by Watch()
	WatchError error

	// Closed counts Close calls
	Closed int
}

// NewFakeWatcher creates an available FakeWatcher.
func NewFakeWatcher() *FakeWatcher {
	return &FakeWatcher{}
}

// Available reports !Unavailable.
func (f *FakeWatcher) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.Unavailable
}

// Watch records fn.
func (f *FakeWatcher) Watch(fn func(time.Duration)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WatchError != nil {
		return f.WatchError
	}
	if f.fn != nil {
		return errors.New("already watching")
	}
	f.fn = fn
	return nil
}

// Edge fires a rising edge at boot-relative time ts. It reports false when
// nothing is watching.
func (f *FakeWatcher) Edge(ts time.Duration) bool {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(ts)
	return true
}

// Close drops the watch.
func (f *FakeWatcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed++
	f.fn = nil
	return nil
}

package sensor

import "sync"

// FakePositionSource records lifecycle calls and lets tests emit fixes.
type FakePositionSource struct {
	mu sync.Mutex
	fn func(Position)

	// StartError, if set, is returned by Start.
	StartError error

	Starts int
	Stops  int
}

// Start records the callback.
func (f *FakePositionSource) Start(fn func(Position)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Starts++
	if f.StartError != nil {
		return f.StartError
	}
	f.fn = fn
	return nil
}

// Stop drops the callback.
func (f *FakePositionSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Stops++
	f.fn = nil
	return nil
}

// Emit delivers p to the registered callback. It reports false when the
// source is not started.
func (f *FakePositionSource) Emit(p Position) bool {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(p)
	return true
}

// FakeStepSource records lifecycle calls and lets tests emit steps.
type FakeStepSource struct {
	mu sync.Mutex
	fn func(Step)

	// Unavailable makes Available report false and Start fail.
	Unavailable bool

	Starts int
	Stops  int
}

// Start records the callback.
func (f *FakeStepSource) Start(fn func(Step)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Starts++
	if f.Unavailable {
		return ErrUnavailable
	}
	f.fn = fn
	return nil
}

// Stop drops the callback.
func (f *FakeStepSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Stops++
	f.fn = nil
	return nil
}

// Available reports !Unavailable.
func (f *FakeStepSource) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.Unavailable
}

// Emit delivers s to the registered callback.
func (f *FakeStepSource) Emit(s Step) bool {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(s)
	return true
}

// FakeMotionSource records lifecycle calls and lets tests emit motion.
type FakeMotionSource struct {
	mu     sync.Mutex
	fn     func(Motion)
	health MotionHealth

	// StartError, if set, is returned by Start.
	StartError error

	Starts        int
	Stops         int
	HeadingResets int
}

// Start records the callback and marks all sensors live.
func (f *FakeMotionSource) Start(fn func(Motion)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Starts++
	if f.StartError != nil {
		return f.StartError
	}
	f.fn = fn
	f.health = MotionHealth{Accelerometer: true, Gyroscope: true, Barometer: true}
	return nil
}

// Stop drops the callback and clears liveness.
func (f *FakeMotionSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Stops++
	f.fn = nil
	f.health = MotionHealth{}
	return nil
}

// ResetHeadingDelta counts heading resets.
func (f *FakeMotionSource) ResetHeadingDelta() {
	f.mu.Lock()
	f.HeadingResets++
	f.mu.Unlock()
}

// Health returns the current liveness.
func (f *FakeMotionSource) Health() MotionHealth {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

// SetHealth overrides liveness.
func (f *FakeMotionSource) SetHealth(h MotionHealth) {
	f.mu.Lock()
	f.health = h
	f.mu.Unlock()
}

// Emit delivers m to the registered callback.
func (f *FakeMotionSource) Emit(m Motion) bool {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(m)
	return true
}

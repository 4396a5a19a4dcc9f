package mqtt

import (
	"sync"

	"github.com/sweeney/speed-fusion/internal/alert"
	"github.com/sweeney/speed-fusion/internal/fusion"
	"github.com/sweeney/speed-fusion/internal/tripstore"
)

// FakePublisher records published messages for test assertions. Safe for
// concurrent use.
type FakePublisher struct {
	mu sync.Mutex

	snapshots    []fusion.Snapshot
	trips        []tripstore.Trip
	alerts       []alert.Alert
	systemEvents []SystemEvent

	// PublishError, if set, is returned by Publish, PublishTrip and
	// PublishAlert.
	PublishError error

	// PublishSystemError, if set, is returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records the snapshot.
func (f *FakePublisher) Publish(snap fusion.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.snapshots = append(f.snapshots, snap)
	return nil
}

// PublishTrip records the trip.
func (f *FakePublisher) PublishTrip(trip tripstore.Trip) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.trips = append(f.trips, trip)
	return nil
}

// PublishAlert records the alert.
func (f *FakePublisher) PublishAlert(a alert.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.alerts = append(f.alerts, a)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	f.systemEvents = append(f.systemEvents, event)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Snapshots returns a copy of the published snapshots.
func (f *FakePublisher) Snapshots() []fusion.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fusion.Snapshot(nil), f.snapshots...)
}

// Trips returns a copy of the published trips.
func (f *FakePublisher) Trips() []tripstore.Trip {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tripstore.Trip(nil), f.trips...)
}

// Alerts returns a copy of the published alerts.
func (f *FakePublisher) Alerts() []alert.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]alert.Alert(nil), f.alerts...)
}

// SystemEvents returns a copy of the published system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// Reset clears recorded messages and injected errors.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = nil
	f.trips = nil
	f.alerts = nil
	f.systemEvents = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}

// Package status provides a thread-safe tracker of the daemon's latest
// speed snapshot. It is read by HTTP handlers and the heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/speed-fusion/internal/alert"
	"github.com/sweeney/speed-fusion/internal/fusion"
	"github.com/sweeney/speed-fusion/internal/units"
)

// Config contains daemon configuration for display.
type Config struct {
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	Unit        units.Unit
	SpeedLimit  float64 // m/s, 0 when alerts are off
	TripDB      string
	Inputs      []string // names of the configured sources
}

// Motion holds motion diagnostics from the classifier.
type Motion struct {
	Variance       float64
	Magnitude      float64
	YawRate        float64 // rad/s
	HeadingDelta   float64 // degrees
	AltitudeChange float64 // meters
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Speed         fusion.Snapshot
	Running       bool
	Paused        bool
	AlertLevel    alert.Level
	Motion        Motion
	Dropped       uint64 // engine mailbox drops
	TripsSaved    int
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime:  startTime,
			Config:     cfg,
			AlertLevel: alert.LevelNone,
		},
		now: time.Now,
	}
}

// Update records the latest engine snapshot and lifecycle flags.
func (t *Tracker) Update(snap fusion.Snapshot, running, paused bool, dropped uint64) {
	t.mu.Lock()
	t.snap.Speed = snap
	t.snap.Running = running
	t.snap.Paused = paused
	t.snap.Dropped = dropped
	t.mu.Unlock()
}

// SetAlertLevel records the level of the most recent speed check.
func (t *Tracker) SetAlertLevel(level alert.Level) {
	t.mu.Lock()
	t.snap.AlertLevel = level
	t.mu.Unlock()
}

// SetMotion records motion diagnostics.
func (t *Tracker) SetMotion(m Motion) {
	t.mu.Lock()
	t.snap.Motion = m
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// TripSaved counts a stored trip.
func (t *Tracker) TripSaved() {
	t.mu.Lock()
	t.snap.TripsSaved++
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state. Now is set at
// the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Speed.SpeedHistory = append([]float64(nil), s.Speed.SpeedHistory...)
	s.Config.Inputs = append([]string(nil), s.Config.Inputs...)
	s.Now = t.now()
	return s
}

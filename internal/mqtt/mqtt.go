// Package mqtt publishes speed snapshots, trips, alerts and lifecycle
// events to a broker, and can subscribe to remote sensor topics as fusion
// inputs.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/speed-fusion/internal/alert"
	"github.com/sweeney/speed-fusion/internal/fusion"
	"github.com/sweeney/speed-fusion/internal/tripstore"
)

// Outbound topics.
const (
	TopicSnapshot = "speedfusion/snapshot"
	TopicTrips    = "speedfusion/trips"
	TopicAlerts   = "speedfusion/alerts"
	TopicSystem   = "speedfusion/system"
)

// Inbound sensor topics.
const (
	TopicInPosition = "speedfusion/in/position"
	TopicInStep     = "speedfusion/in/step"
	TopicInIMU      = "speedfusion/in/imu"
	TopicInPressure = "speedfusion/in/pressure"
)

// Publisher publishes to MQTT.
type Publisher interface {
	// Publish sends a speed snapshot. Returns error if publishing fails
	// (should not crash the process).
	Publish(snap fusion.Snapshot) error

	// PublishTrip sends a completed trip.
	PublishTrip(trip tripstore.Trip) error

	// PublishAlert sends a speed alert.
	PublishAlert(a alert.Alert) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a lifecycle event (STARTUP, SHUTDOWN, HEARTBEAT, ...).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g. "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g. "SIGTERM" (shutdown only)
	RawPayload []byte // pre-formatted payload; returned as-is by FormatSystemPayload
	Retained   bool
}

// SnapshotPayload is the envelope published on TopicSnapshot.
type SnapshotPayload struct {
	Speed SpeedPayload `json:"speed"`
}

// SpeedPayload carries one fused snapshot. Speeds are m/s.
type SpeedPayload struct {
	Timestamp       string         `json:"timestamp"`
	Current         float64        `json:"current_ms"`
	Average         float64        `json:"average_ms"`
	Max             float64        `json:"max_ms"`
	Distance        float64        `json:"distance_m"`
	DurationSeconds float64        `json:"duration_s"`
	State           string         `json:"state"`
	Confidence      string         `json:"confidence"`
	Source          string         `json:"source"`
	GPSAccuracy     *float64       `json:"gps_accuracy_m,omitempty"`
	StepFrequency   float64        `json:"step_frequency"`
	Sensors         SensorsPayload `json:"sensors"`
}

// SensorsPayload is per-input liveness.
type SensorsPayload struct {
	GPS           bool `json:"gps"`
	Accelerometer bool `json:"accelerometer"`
	Gyroscope     bool `json:"gyroscope"`
	Pedometer     bool `json:"pedometer"`
	Barometer     bool `json:"barometer"`
}

// FormatSnapshotPayload creates the JSON payload for a snapshot taken at ts.
func FormatSnapshotPayload(snap fusion.Snapshot, ts time.Time) ([]byte, error) {
	h := snap.SensorHealth
	return json.Marshal(SnapshotPayload{
		Speed: SpeedPayload{
			Timestamp:       ts.UTC().Format(time.RFC3339),
			Current:         snap.CurrentSpeed,
			Average:         snap.AverageSpeed,
			Max:             snap.MaxSpeed,
			Distance:        snap.TotalDistance,
			DurationSeconds: snap.TripDuration.Seconds(),
			State:           string(snap.MotionState),
			Confidence:      string(snap.Confidence),
			Source:          string(snap.PrimarySource),
			GPSAccuracy:     snap.GPSAccuracy,
			StepFrequency:   snap.StepFrequency,
			Sensors: SensorsPayload{
				GPS:           h.GPS,
				Accelerometer: h.Accelerometer,
				Gyroscope:     h.Gyroscope,
				Pedometer:     h.Pedometer,
				Barometer:     h.Barometer,
			},
		},
	})
}

// TripPayload is the envelope published on TopicTrips.
type TripPayload struct {
	Trip TripInner `json:"trip"`
}

// TripInner carries one stored trip.
type TripInner struct {
	ID              string  `json:"id"`
	StartTime       string  `json:"start_time"`
	EndTime         string  `json:"end_time"`
	Distance        float64 `json:"distance_m"`
	Average         float64 `json:"average_ms"`
	Max             float64 `json:"max_ms"`
	DurationSeconds float64 `json:"duration_s"`
	Unit            string  `json:"unit"`
}

// FormatTripPayload creates the JSON payload for a trip.
func FormatTripPayload(t tripstore.Trip) ([]byte, error) {
	return json.Marshal(TripPayload{
		Trip: TripInner{
			ID:              t.ID,
			StartTime:       t.StartTime.UTC().Format(time.RFC3339),
			EndTime:         t.EndTime.UTC().Format(time.RFC3339),
			Distance:        t.Distance,
			Average:         t.AverageSpeed,
			Max:             t.MaxSpeed,
			DurationSeconds: t.Duration.Seconds(),
			Unit:            string(t.Unit),
		},
	})
}

// AlertPayload is the envelope published on TopicAlerts.
type AlertPayload struct {
	Alert AlertInner `json:"alert"`
}

// AlertInner carries one speed alert.
type AlertInner struct {
	Timestamp string  `json:"timestamp"`
	Level     string  `json:"level"`
	Speed     float64 `json:"speed_ms"`
	Limit     float64 `json:"limit_ms"`
}

// FormatAlertPayload creates the JSON payload for an alert.
func FormatAlertPayload(a alert.Alert) ([]byte, error) {
	return json.Marshal(AlertPayload{
		Alert: AlertInner{
			Timestamp: a.Timestamp.UTC().Format(time.RFC3339),
			Level:     string(a.Level),
			Speed:     a.Speed,
			Limit:     a.Limit,
		},
	})
}

// SystemPayload is the envelope for simple system events (LWT,
// RECONNECTED) that carry no status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}

// NopPublisher discards everything. It stands in when no broker is
// configured.
type NopPublisher struct{}

func (NopPublisher) Publish(fusion.Snapshot) error    { return nil }
func (NopPublisher) PublishTrip(tripstore.Trip) error { return nil }
func (NopPublisher) PublishAlert(alert.Alert) error   { return nil }
func (NopPublisher) PublishSystem(SystemEvent) error  { return nil }
func (NopPublisher) Close() error                     { return nil }
func (NopPublisher) IsConnected() bool                { return false }

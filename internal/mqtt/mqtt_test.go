package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/speed-fusion/internal/alert"
	"github.com/sweeney/speed-fusion/internal/fusion"
	"github.com/sweeney/speed-fusion/internal/sensor"
	"github.com/sweeney/speed-fusion/internal/tripstore"
	"github.com/sweeney/speed-fusion/internal/units"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func vehicleSnapshot() fusion.Snapshot {
	acc := 4.5
	return fusion.Snapshot{
		CurrentSpeed:  12.5,
		AverageSpeed:  10,
		MaxSpeed:      15,
		TotalDistance: 1200,
		TripDuration:  2 * time.Minute,
		Confidence:    fusion.High,
		PrimarySource: fusion.SourceGPS,
		MotionState:   fusion.Vehicle,
		GPSAccuracy:   &acc,
		SensorHealth:  sensor.Health{GPS: true, Accelerometer: true},
	}
}

func TestTopics(t *testing.T) {
	topics := map[string]string{
		TopicSnapshot:   "speedfusion/snapshot",
		TopicTrips:      "speedfusion/trips",
		TopicAlerts:     "speedfusion/alerts",
		TopicSystem:     "speedfusion/system",
		TopicInPosition: "speedfusion/in/position",
		TopicInStep:     "speedfusion/in/step",
		TopicInIMU:      "speedfusion/in/imu",
		TopicInPressure: "speedfusion/in/pressure",
	}
	for got, want := range topics {
		if got != want {
			t.Errorf("topic: got %s, want %s", got, want)
		}
	}
}

func TestFormatSnapshotPayloadExactJSON(t *testing.T) {
	payload, err := FormatSnapshotPayload(vehicleSnapshot(), t0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"speed":{"timestamp":"2026-01-01T12:00:00Z","current_ms":12.5,"average_ms":10,"max_ms":15,` +
		`"distance_m":1200,"duration_s":120,"state":"vehicle","confidence":"high","source":"gps",` +
		`"gps_accuracy_m":4.5,"step_frequency":0,"sensors":{"gps":true,"accelerometer":true,` +
		`"gyroscope":false,"pedometer":false,"barometer":false}}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSnapshotPayloadOmitsUnknownAccuracy(t *testing.T) {
	snap := vehicleSnapshot()
	snap.GPSAccuracy = nil

	payload, err := FormatSnapshotPayload(snap, t0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed map[string]map[string]interface{}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := parsed["speed"]["gps_accuracy_m"]; ok {
		t.Error("gps_accuracy_m should be omitted before the first fix")
	}
}

func TestFormatSnapshotPayloadTimezoneConversion(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	payload, err := FormatSnapshotPayload(fusion.Snapshot{}, time.Date(2026, 1, 1, 7, 0, 0, 0, est))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed SnapshotPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Speed.Timestamp != "2026-01-01T12:00:00Z" {
		t.Errorf("timestamp: got %s, want 2026-01-01T12:00:00Z", parsed.Speed.Timestamp)
	}
}

func TestFormatTripPayloadExactJSON(t *testing.T) {
	trip := tripstore.Trip{
		ID:           "3f1c",
		StartTime:    t0,
		EndTime:      t0.Add(90 * time.Second),
		Distance:     450,
		AverageSpeed: 5,
		MaxSpeed:     7.5,
		Duration:     90 * time.Second,
		Unit:         units.KMH,
	}
	payload, err := FormatTripPayload(trip)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := `{"trip":{"id":"3f1c","start_time":"2026-01-01T12:00:00Z","end_time":"2026-01-01T12:01:30Z",` +
		`"distance_m":450,"average_ms":5,"max_ms":7.5,"duration_s":90,"unit":"kmh"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatAlertPayloadExactJSON(t *testing.T) {
	payload, err := FormatAlertPayload(alert.Alert{Timestamp: t0, Level: alert.LevelExceeded, Speed: 14, Limit: 13.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := `{"alert":{"timestamp":"2026-01-01T12:00:00Z","level":"exceeded","speed_ms":14,"limit_ms":13.5}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	tests := []struct {
		event SystemEvent
		want  string
	}{
		{
			SystemEvent{Timestamp: t0, Event: "SHUTDOWN", Reason: "SIGTERM"},
			`{"system":{"timestamp":"2026-01-01T12:00:00Z","event":"SHUTDOWN","reason":"SIGTERM"}}`,
		},
		{
			SystemEvent{Timestamp: t0, Event: "RECONNECTED"},
			`{"system":{"timestamp":"2026-01-01T12:00:00Z","event":"RECONNECTED"}}`,
		},
		{
			SystemEvent{Timestamp: t0, Event: "OFFLINE", Reason: "MQTT_DISCONNECT"},
			`{"system":{"timestamp":"2026-01-01T12:00:00Z","event":"OFFLINE","reason":"MQTT_DISCONNECT"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.event.Event, func(t *testing.T) {
			payload, err := FormatSystemPayload(tt.event)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(payload) != tt.want {
				t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, tt.want)
			}
		})
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"status":{"event":"HEARTBEAT"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "HEARTBEAT", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("raw payload: got %s, want %s", payload, raw)
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()

	if err := f.Publish(vehicleSnapshot()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := f.PublishTrip(tripstore.Trip{ID: "a"}); err != nil {
		t.Fatalf("PublishTrip: %v", err)
	}
	if err := f.PublishAlert(alert.Alert{Level: alert.LevelWarning}); err != nil {
		t.Fatalf("PublishAlert: %v", err)
	}
	if err := f.PublishSystem(SystemEvent{Event: "STARTUP", Retained: true}); err != nil {
		t.Fatalf("PublishSystem: %v", err)
	}

	if got := len(f.Snapshots()); got != 1 {
		t.Errorf("snapshots: got %d, want 1", got)
	}
	if got := f.Trips(); len(got) != 1 || got[0].ID != "a" {
		t.Errorf("trips: got %+v", got)
	}
	if got := f.Alerts(); len(got) != 1 || got[0].Level != alert.LevelWarning {
		t.Errorf("alerts: got %+v", got)
	}
	if got := f.SystemEvents(); len(got) != 1 || !got[0].Retained {
		t.Errorf("system events: got %+v", got)
	}
}

func TestFakePublisherErrors(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("boom")
	f.PublishSystemError = errors.New("bang")

	if err := f.Publish(fusion.Snapshot{}); err == nil {
		t.Error("Publish: expected error")
	}
	if err := f.PublishTrip(tripstore.Trip{}); err == nil {
		t.Error("PublishTrip: expected error")
	}
	if err := f.PublishSystem(SystemEvent{}); err == nil {
		t.Error("PublishSystem: expected error")
	}
	if len(f.Snapshots())+len(f.Trips())+len(f.SystemEvents()) != 0 {
		t.Error("failed publishes should not be recorded")
	}
}

func TestFakePublisherReset(t *testing.T) {
	f := NewFakePublisher()
	f.Publish(fusion.Snapshot{})
	f.PublishSystem(SystemEvent{Event: "STARTUP"})
	f.Connected = true
	f.Close()

	f.Reset()
	if len(f.Snapshots()) != 0 || len(f.SystemEvents()) != 0 || f.Closed || f.Connected {
		t.Error("Reset should clear all state")
	}
	if err := f.Publish(fusion.Snapshot{}); err != nil {
		t.Errorf("publish after reset: %v", err)
	}
}

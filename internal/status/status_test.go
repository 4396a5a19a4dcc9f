package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/speed-fusion/internal/alert"
	"github.com/sweeney/speed-fusion/internal/fusion"
	"github.com/sweeney/speed-fusion/internal/sensor"
	"github.com/sweeney/speed-fusion/internal/units"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func fixedTracker(cfg Config, now time.Time) *Tracker {
	tr := NewTracker(t0, cfg)
	tr.now = func() time.Time { return now }
	return tr
}

func walkingSnapshot() fusion.Snapshot {
	return fusion.Snapshot{
		CurrentSpeed:  1.5,
		AverageSpeed:  1.25,
		MaxSpeed:      2,
		TotalDistance: 1234,
		TripDuration:  61*time.Minute + 5*time.Second,
		SpeedHistory:  []float64{1, 1.5},
		Confidence:    fusion.Medium,
		PrimarySource: fusion.SourceFused,
		MotionState:   fusion.Walking,
		StepFrequency: 1.8,
		SensorHealth:  sensor.Health{GPS: true, Pedometer: true},
	}
}

func TestNewTracker(t *testing.T) {
	cfg := Config{HeartbeatMs: 900000, Broker: "tcp://localhost:1883", HTTPAddr: ":80", Unit: units.MPH}
	tr := NewTracker(t0, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(t0) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, t0)
	}
	if snap.Config.Unit != units.MPH {
		t.Errorf("Config.Unit: got %q, want mph", snap.Config.Unit)
	}
	if snap.Running || snap.MQTTConnected {
		t.Error("expected idle and disconnected initially")
	}
	if snap.AlertLevel != alert.LevelNone {
		t.Errorf("AlertLevel: got %q, want none", snap.AlertLevel)
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(t0, Config{})
	tr.Update(walkingSnapshot(), true, false, 7)
	tr.SetAlertLevel(alert.LevelWarning)
	tr.SetMotion(Motion{YawRate: 0.2, HeadingDelta: 45, AltitudeChange: -3})
	tr.SetMQTTConnected(true)
	tr.TripSaved()
	tr.TripSaved()

	snap := tr.Snapshot()
	if snap.Speed.MotionState != fusion.Walking || snap.Speed.TotalDistance != 1234 {
		t.Errorf("Speed: got %+v", snap.Speed)
	}
	if !snap.Running || snap.Paused || snap.Dropped != 7 {
		t.Errorf("lifecycle: running=%v paused=%v dropped=%d", snap.Running, snap.Paused, snap.Dropped)
	}
	if snap.AlertLevel != alert.LevelWarning {
		t.Errorf("AlertLevel: got %q, want warning", snap.AlertLevel)
	}
	if snap.Motion.HeadingDelta != 45 {
		t.Errorf("Motion.HeadingDelta: got %v, want 45", snap.Motion.HeadingDelta)
	}
	if !snap.MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}
	if snap.TripsSaved != 2 {
		t.Errorf("TripsSaved: got %d, want 2", snap.TripsSaved)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	tr := NewTracker(t0, Config{Inputs: []string{"gps"}})
	tr.Update(walkingSnapshot(), true, false, 0)

	snap := tr.Snapshot()
	snap.Speed.SpeedHistory[0] = 99
	snap.Config.Inputs[0] = "changed"

	again := tr.Snapshot()
	if again.Speed.SpeedHistory[0] != 1 {
		t.Errorf("history mutated through snapshot: %v", again.Speed.SpeedHistory)
	}
	if again.Config.Inputs[0] != "gps" {
		t.Errorf("inputs mutated through snapshot: %v", again.Config.Inputs)
	}
}

func TestSnapshotUptime(t *testing.T) {
	tr := fixedTracker(Config{}, t0.Add(90*time.Second))
	if got := tr.Snapshot().Uptime(); got != 90*time.Second {
		t.Errorf("Uptime: got %v, want 90s", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(t0, Config{})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Update(walkingSnapshot(), true, j%2 == 0, uint64(j))
				tr.SetMQTTConnected(j%2 == 0)
				tr.SetAlertLevel(alert.LevelExceeded)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = FormatJSON(tr.Snapshot())
			}
		}()
	}
	wg.Wait()
}

func TestFormatJSON(t *testing.T) {
	tr := fixedTracker(Config{Broker: "tcp://b:1883", Unit: units.KMH, SpeedLimit: 13.9}, t0.Add(10*time.Second))
	tr.Update(walkingSnapshot(), true, false, 0)
	tr.SetMQTTConnected(true)

	var sj StatusJSON
	if err := json.Unmarshal(FormatJSON(tr.Snapshot()), &sj); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	s := sj.Status
	if s.Event != "" || s.Reason != "" {
		t.Errorf("web JSON should not carry event/reason: %q %q", s.Event, s.Reason)
	}
	if s.State != "walking" || s.Confidence != "medium" || s.Source != "fused" {
		t.Errorf("state fields: %s %s %s", s.State, s.Confidence, s.Source)
	}
	if s.Speed.Current != "5.4" || s.Speed.Average != "4.5" || s.Speed.Max != "7.2" || s.Speed.Unit != "km/h" {
		t.Errorf("speed: got %+v", s.Speed)
	}
	if s.Distance != "1.2 km" || s.Duration != "01:01:05" {
		t.Errorf("formatted: distance %q duration %q", s.Distance, s.Duration)
	}
	if s.UptimeSeconds != 10 || s.Timestamp != "2026-01-01T12:00:10Z" {
		t.Errorf("uptime %d timestamp %s", s.UptimeSeconds, s.Timestamp)
	}
	if !s.Sensors.GPS || !s.Sensors.Pedometer || s.Sensors.Barometer {
		t.Errorf("sensors: got %+v", s.Sensors)
	}
	if !s.MQTT.Connected || s.MQTT.Broker != "tcp://b:1883" {
		t.Errorf("mqtt: got %+v", s.MQTT)
	}
	if s.Alert != "none" || s.Config.SpeedLimit != 13.9 {
		t.Errorf("alert %q limit %v", s.Alert, s.Config.SpeedLimit)
	}
}

func TestFormatJSONBeforeFirstSnapshot(t *testing.T) {
	tr := fixedTracker(Config{}, t0)

	var raw map[string]map[string]interface{}
	if err := json.Unmarshal(FormatJSON(tr.Snapshot()), &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	s := raw["status"]
	if s["state"] != "UNKNOWN" {
		t.Errorf("state: got %v, want UNKNOWN", s["state"])
	}
	if _, ok := s["gps_accuracy_m"]; ok {
		t.Error("gps_accuracy_m should be omitted before the first fix")
	}
	if h, ok := s["history_ms"].([]interface{}); !ok || len(h) != 0 {
		t.Errorf("history_ms should be an empty array, got %v", s["history_ms"])
	}
	cfg := s["config"].(map[string]interface{})
	if cfg["unit"] != "kmh" {
		t.Errorf("default unit: got %v, want kmh", cfg["unit"])
	}
}

func TestFormatStatusEvent(t *testing.T) {
	tr := fixedTracker(Config{}, t0)

	var sj StatusJSON
	if err := json.Unmarshal(FormatStatusEvent(tr.Snapshot(), "SHUTDOWN", "SIGTERM"), &sj); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if sj.Status.Event != "SHUTDOWN" || sj.Status.Reason != "SIGTERM" {
		t.Errorf("event/reason: got %q %q", sj.Status.Event, sj.Status.Reason)
	}

	var heartbeat map[string]map[string]interface{}
	json.Unmarshal(FormatStatusEvent(tr.Snapshot(), "HEARTBEAT", ""), &heartbeat)
	if _, ok := heartbeat["status"]["reason"]; ok {
		t.Error("HEARTBEAT should omit reason")
	}
}

func TestFormatCompactJSON(t *testing.T) {
	tr := fixedTracker(Config{}, t0)
	data := FormatCompactJSON(tr.Snapshot())
	for _, b := range data {
		if b == '\n' {
			t.Fatal("compact JSON should be a single line")
		}
	}
	if !json.Valid(data) {
		t.Error("invalid JSON")
	}
}

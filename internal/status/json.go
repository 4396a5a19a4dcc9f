package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/speed-fusion/internal/units"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string      `json:"event,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	Running       bool        `json:"running"`
	Paused        bool        `json:"paused"`
	State         string      `json:"state"`
	Confidence    string      `json:"confidence"`
	Source        string      `json:"source"`
	Speed         SpeedJSON   `json:"speed"`
	Distance      string      `json:"distance"`
	DistanceM     float64     `json:"distance_m"`
	Duration      string      `json:"duration"`
	GPSAccuracy   *float64    `json:"gps_accuracy_m,omitempty"`
	StepFrequency float64     `json:"step_frequency"`
	History       []float64   `json:"history_ms"`
	Alert         string      `json:"alert"`
	Sensors       SensorsJSON `json:"sensors"`
	Motion        MotionJSON  `json:"motion"`
	Dropped       uint64      `json:"dropped_samples"`
	TripsSaved    int         `json:"trips_saved"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	StartTime     string      `json:"start_time"`
	Timestamp     string      `json:"timestamp"`
	MQTT          MQTTStatus  `json:"mqtt"`
	Config        ConfigJSON  `json:"config"`
}

// SpeedJSON carries speeds formatted in the display unit plus the raw m/s.
type SpeedJSON struct {
	Unit      string  `json:"unit"`
	Current   string  `json:"current"`
	Average   string  `json:"average"`
	Max       string  `json:"max"`
	CurrentMS float64 `json:"current_ms"`
}

// SensorsJSON is per-input liveness.
type SensorsJSON struct {
	GPS           bool `json:"gps"`
	Accelerometer bool `json:"accelerometer"`
	Gyroscope     bool `json:"gyroscope"`
	Pedometer     bool `json:"pedometer"`
	Barometer     bool `json:"barometer"`
}

// MotionJSON is the JSON representation of motion diagnostics.
type MotionJSON struct {
	Variance       float64 `json:"variance"`
	Magnitude      float64 `json:"magnitude"`
	YawRate        float64 `json:"yaw_rate"`
	HeadingDelta   float64 `json:"heading_delta"`
	AltitudeChange float64 `json:"altitude_change_m"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	HeartbeatMs int64    `json:"heartbeat_ms"`
	Broker      string   `json:"broker"`
	HTTPAddr    string   `json:"http_addr"`
	Unit        string   `json:"unit"`
	SpeedLimit  float64  `json:"speed_limit_ms,omitempty"`
	TripDB      string   `json:"trip_db"`
	Inputs      []string `json:"inputs"`
}

func buildInner(snap Snapshot) StatusInner {
	unit := snap.Config.Unit
	if unit == "" {
		unit = units.KMH
	}
	sp := snap.Speed
	state := string(sp.MotionState)
	if state == "" {
		state = "UNKNOWN"
	}
	history := sp.SpeedHistory
	if history == nil {
		history = []float64{}
	}
	inputs := snap.Config.Inputs
	if inputs == nil {
		inputs = []string{}
	}
	alertLevel := string(snap.AlertLevel)
	if alertLevel == "" {
		alertLevel = "none"
	}
	h := sp.SensorHealth

	return StatusInner{
		Running:    snap.Running,
		Paused:     snap.Paused,
		State:      state,
		Confidence: string(sp.Confidence),
		Source:     string(sp.PrimarySource),
		Speed: SpeedJSON{
			Unit:      unit.Label(),
			Current:   units.FormatSpeed(sp.CurrentSpeed, unit),
			Average:   units.FormatSpeed(sp.AverageSpeed, unit),
			Max:       units.FormatSpeed(sp.MaxSpeed, unit),
			CurrentMS: sp.CurrentSpeed,
		},
		Distance:      units.FormatDistance(sp.TotalDistance),
		DistanceM:     sp.TotalDistance,
		Duration:      units.FormatDuration(sp.TripDuration),
		GPSAccuracy:   sp.GPSAccuracy,
		StepFrequency: sp.StepFrequency,
		History:       history,
		Alert:         alertLevel,
		Sensors: SensorsJSON{
			GPS:           h.GPS,
			Accelerometer: h.Accelerometer,
			Gyroscope:     h.Gyroscope,
			Pedometer:     h.Pedometer,
			Barometer:     h.Barometer,
		},
		Motion: MotionJSON{
			Variance:       snap.Motion.Variance,
			Magnitude:      snap.Motion.Magnitude,
			YawRate:        snap.Motion.YawRate,
			HeadingDelta:   snap.Motion.HeadingDelta,
			AltitudeChange: snap.Motion.AltitudeChange,
		},
		Dropped:       snap.Dropped,
		TripsSaved:    snap.TripsSaved,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			Unit:        string(unit),
			SpeedLimit:  snap.Config.SpeedLimit,
			TripDB:      snap.Config.TripDB,
			Inputs:      inputs,
		},
	}
}

// FormatJSON returns the indented JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatCompactJSON returns the JSON status on one line, for streaming.
func FormatCompactJSON(snap Snapshot) []byte {
	data, _ := json.Marshal(StatusJSON{Status: buildInner(snap)})
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

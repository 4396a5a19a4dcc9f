// Package sensor defines the samples the fusion engine consumes and the
// capability interfaces its inputs implement. Every capability has an
// explicit unavailable variant so a missing sensor is a value, not a nil.
package sensor

import (
	"errors"
	"time"
)

// ErrUnavailable is returned by Start on a capability that does not exist
// on this device.
var ErrUnavailable = errors.New("sensor: unavailable")

// SpeedUnavailable marks a Position whose receiver reported no speed.
const SpeedUnavailable = -1.0

// MotionState is a coarse motion label.
type MotionState string

const (
	Stationary MotionState = "stationary"
	Walking    MotionState = "walking"
	Running    MotionState = "running"
	Vehicle    MotionState = "vehicle"
)

// Kind names an individual motion sensor.
type Kind string

const (
	Accelerometer Kind = "accelerometer"
	Gyroscope     Kind = "gyroscope"
	Barometer     Kind = "barometer"
)

// Position is one positioning fix.
type Position struct {
	Latitude  float64
	Longitude float64
	Speed     float64 // m/s, SpeedUnavailable when absent
	Accuracy  float64 // meters
	Altitude  float64
	Timestamp time.Time
}

// HasSpeed reports whether the fix carries a speed.
func (p Position) HasSpeed() bool { return p.Speed >= 0 }

// Step is one detected step. Zero optional fields mean "not supplied".
type Step struct {
	Timestamp time.Time
	Cadence   float64 // steps/s from the platform
	Pace      float64 // s/m from the platform
	Distance  float64 // cumulative meters from the platform
}

// Motion is the processed output of the motion classifier.
type Motion struct {
	State          MotionState
	Variance       float64
	Magnitude      float64
	YawRate        float64 // rad/s
	HeadingDelta   float64 // degrees since last reset
	AltitudeChange float64 // meters since first barometer reading
	Timestamp      time.Time
}

// MotionHealth is the liveness of the individual motion sensors.
type MotionHealth struct {
	Accelerometer bool
	Gyroscope     bool
	Barometer     bool
}

// Health is the liveness of every input of the engine.
type Health struct {
	GPS           bool
	Accelerometer bool
	Gyroscope     bool
	Pedometer     bool
	Barometer     bool
}

// PositionSource delivers positioning fixes.
type PositionSource interface {
	Start(fn func(Position)) error
	Stop() error
}

// StepSource delivers step events.
type StepSource interface {
	Start(fn func(Step)) error
	Stop() error
	Available() bool
}

// MotionSource delivers classified motion samples.
type MotionSource interface {
	Start(fn func(Motion)) error
	Stop() error
	Health() MotionHealth
}

// HeadingResetter is implemented by motion sources that integrate heading
// and can restart the integration without a full restart.
type HeadingResetter interface {
	ResetHeadingDelta()
}

// NoPosition is a PositionSource for devices without positioning.
type NoPosition struct{}

func (NoPosition) Start(func(Position)) error { return ErrUnavailable }
func (NoPosition) Stop() error                { return nil }

// NoSteps is a StepSource for devices without a step detector.
type NoSteps struct{}

func (NoSteps) Start(func(Step)) error { return ErrUnavailable }
func (NoSteps) Stop() error            { return nil }
func (NoSteps) Available() bool        { return false }

// NoMotion is a MotionSource for devices without motion sensors.
type NoMotion struct{}

func (NoMotion) Start(func(Motion)) error { return ErrUnavailable }
func (NoMotion) Stop() error              { return nil }
func (NoMotion) Health() MotionHealth     { return MotionHealth{} }

package motion

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/speed-fusion/internal/sensor"
)

// Sink receives raw motion sensor readings.
type Sink interface {
	OnAccel(x, y, z float64, ts time.Time) // m/s²
	OnGyro(x, y, z float64, ts time.Time)  // rad/s
	OnPressure(hPa float64, ts time.Time)
	// OnFailure reports that one sensor stopped delivering.
	OnFailure(kind sensor.Kind, err error)
}

// RawSource is hardware or a transport delivering raw readings.
type RawSource interface {
	Start(sink Sink) error
	Stop() error
}

// NoRawSource is a RawSource for devices without motion sensors.
type NoRawSource struct{}

func (NoRawSource) Start(Sink) error { return sensor.ErrUnavailable }
func (NoRawSource) Stop() error      { return nil }

// Adapter turns a RawSource into a sensor.MotionSource by running every
// accelerometer sample through a Classifier.
type Adapter struct {
	raw        RawSource
	classifier *Classifier

	mu sync.Mutex
	fn func(sensor.Motion)
}

// NewAdapter creates an Adapter over raw.
func NewAdapter(raw RawSource, cfg Config) *Adapter {
	return &Adapter{
		raw:        raw,
		classifier: NewClassifier(cfg),
	}
}

// Classifier exposes the underlying classifier for diagnostics.
func (a *Adapter) Classifier() *Classifier { return a.classifier }

// Start resets the classifier and subscribes to the raw source.
func (a *Adapter) Start(fn func(sensor.Motion)) error {
	a.classifier.Reset()
	a.classifier.SetHealth(sensor.MotionHealth{Accelerometer: true, Gyroscope: true, Barometer: true})

	a.mu.Lock()
	a.fn = fn
	a.mu.Unlock()

	if err := a.raw.Start(a); err != nil {
		a.classifier.SetHealth(sensor.MotionHealth{})
		a.mu.Lock()
		a.fn = nil
		a.mu.Unlock()
		return fmt.Errorf("start motion sensors: %w", err)
	}
	return nil
}

// ResetHeadingDelta restarts heading integration for a new trip.
func (a *Adapter) ResetHeadingDelta() { a.classifier.ResetHeadingDelta() }

// Stop unsubscribes and marks every sensor inactive.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	a.fn = nil
	a.mu.Unlock()
	a.classifier.SetHealth(sensor.MotionHealth{})
	if err := a.raw.Stop(); err != nil {
		return fmt.Errorf("stop motion sensors: %w", err)
	}
	return nil
}

// Health returns the classifier liveness flags.
func (a *Adapter) Health() sensor.MotionHealth { return a.classifier.Health() }

// OnAccel classifies the sample and forwards the result.
func (a *Adapter) OnAccel(x, y, z float64, ts time.Time) {
	m := a.classifier.OnSample(x, y, z, ts)
	a.mu.Lock()
	fn := a.fn
	a.mu.Unlock()
	if fn != nil {
		fn(m)
	}
}

// OnGyro updates yaw rate and heading.
func (a *Adapter) OnGyro(x, y, z float64, ts time.Time) {
	a.classifier.OnGyro(x, y, z, ts)
}

// OnPressure updates altitude.
func (a *Adapter) OnPressure(hPa float64, _ time.Time) {
	a.classifier.OnBarometer(hPa)
}

// OnFailure clears the liveness flag of the failed sensor.
func (a *Adapter) OnFailure(kind sensor.Kind, err error) {
	log.Printf("motion: %s failed: %v", kind, err)
	a.classifier.MarkFailed(kind)
}

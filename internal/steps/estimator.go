// Package steps turns discrete step events into a step frequency and a
// walking/running speed estimate using an adaptive stride model.
package steps

import (
	"time"

	"github.com/sweeney/speed-fusion/internal/sensor"
)

// MinValidTimestamp is the earliest plausible wall-clock step time.
// Anything earlier is a boot-relative clock and is replaced on ingestion.
var MinValidTimestamp = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Config holds the estimator thresholds.
type Config struct {
	BufferSize int           // step timestamps kept
	MinSteps   int           // steps needed before a frequency is reported
	StaleAfter time.Duration // frequency drops to 0 after this long without a step
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 10,
		MinSteps:   3,
		StaleAfter: 2 * time.Second,
	}
}

// Stride bands, in steps/s and meters.
const (
	slowWalkMaxFreq   = 1.5
	normalWalkMaxFreq = 2.2
	fastWalkMaxFreq   = 2.8
	runMaxFreq        = 3.5

	minStride        = 0.60
	normalWalkStride = 0.75
	fastWalkStride   = 0.95
	maxStride        = 1.30
)

// StrideLength returns the stride in meters for a step frequency.
func StrideLength(freq float64) float64 {
	switch {
	case freq <= slowWalkMaxFreq:
		return minStride
	case freq <= normalWalkMaxFreq:
		return minStride + (freq-slowWalkMaxFreq)/(normalWalkMaxFreq-slowWalkMaxFreq)*(normalWalkStride-minStride)
	case freq <= fastWalkMaxFreq:
		return normalWalkStride + (freq-normalWalkMaxFreq)/(fastWalkMaxFreq-normalWalkMaxFreq)*(fastWalkStride-normalWalkStride)
	case freq <= runMaxFreq:
		return fastWalkStride + (freq-fastWalkMaxFreq)/(runMaxFreq-fastWalkMaxFreq)*(maxStride-fastWalkStride)
	default:
		return maxStride
	}
}

// Estimator keeps a bounded FIFO of step times plus the last
// platform-supplied cadence, pace and distance.
// Not safe for concurrent use; the fusion engine owns it.
type Estimator struct {
	cfg      Config
	stamps   []time.Time
	cadence  float64
	pace     float64
	distance float64
}

// New creates an Estimator.
func New(cfg Config) *Estimator {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &Estimator{
		cfg:    cfg,
		stamps: make([]time.Time, 0, cfg.BufferSize),
	}
}

// OnStep records a step. A timestamp before MinValidTimestamp is replaced
// with now. The normalized event is returned.
func (e *Estimator) OnStep(ev sensor.Step, now time.Time) sensor.Step {
	if ev.Timestamp.Before(MinValidTimestamp) {
		ev.Timestamp = now
	}

	if len(e.stamps) == e.cfg.BufferSize {
		copy(e.stamps, e.stamps[1:])
		e.stamps = e.stamps[:len(e.stamps)-1]
	}
	e.stamps = append(e.stamps, ev.Timestamp)

	if ev.Cadence > 0 {
		e.cadence = ev.Cadence
	}
	if ev.Pace > 0 {
		e.pace = ev.Pace
	}
	if ev.Distance > 0 {
		e.distance = ev.Distance
	}
	return ev
}

// StepFrequency returns steps per second. A platform cadence wins when
// present; otherwise the buffered timestamps are used.
func (e *Estimator) StepFrequency(now time.Time) float64 {
	if e.cadence > 0 {
		return e.cadence
	}
	n := len(e.stamps)
	if n < e.cfg.MinSteps {
		return 0
	}
	last := e.stamps[n-1]
	if now.Sub(last) > e.cfg.StaleAfter {
		return 0
	}
	span := last.Sub(e.stamps[0]).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(n-1) / span
}

// EstimatedSpeed returns the pedometer speed in m/s.
func (e *Estimator) EstimatedSpeed(now time.Time) float64 {
	if e.pace > 0 {
		return 1 / e.pace
	}
	f := e.StepFrequency(now)
	if f <= 0 {
		return 0
	}
	return f * StrideLength(f)
}

// Cadence returns the last platform cadence, 0 if none.
func (e *Estimator) Cadence() float64 { return e.cadence }

// Pace returns the last platform pace, 0 if none.
func (e *Estimator) Pace() float64 { return e.pace }

// Distance returns the last platform cumulative distance, 0 if none.
func (e *Estimator) Distance() float64 { return e.distance }

// StepCount returns the number of buffered steps.
func (e *Estimator) StepCount() int { return len(e.stamps) }

// LastStep returns the most recent step time.
func (e *Estimator) LastStep() (time.Time, bool) {
	if len(e.stamps) == 0 {
		return time.Time{}, false
	}
	return e.stamps[len(e.stamps)-1], true
}

// Reset clears all buffered and platform data.
func (e *Estimator) Reset() {
	e.stamps = e.stamps[:0]
	e.cadence = 0
	e.pace = 0
	e.distance = 0
}

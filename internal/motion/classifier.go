// Package motion classifies raw accelerometer, gyroscope and barometer
// samples into a coarse motion label with auxiliary heading and altitude
// signals.
package motion

import (
	"math"
	"sync"
	"time"

	"github.com/sweeney/speed-fusion/internal/geo"
	"github.com/sweeney/speed-fusion/internal/sensor"
	"gonum.org/v1/gonum/stat"
)

// Band is an inclusive variance and dominant-frequency range.
type Band struct {
	VarMin, VarMax   float64
	FreqMin, FreqMax float64
}

func (b Band) contains(variance, freq float64) bool {
	return variance >= b.VarMin && variance <= b.VarMax &&
		freq >= b.FreqMin && freq <= b.FreqMax
}

// Config holds the classifier thresholds.
type Config struct {
	GravityAlpha float64 // low-pass weight of the previous gravity estimate

	FastWindow         int           // window length while warming up
	FullWindow         int           // window length once settled
	FastWindowDuration time.Duration // warm-up period after (re)start
	SampleRateHz       float64       // nominal accel rate used for window duration

	MinVarianceSamples  int
	MinFrequencySamples int

	StationaryMaxVariance float64
	Running               Band
	Walking               Band
	// VehicleLowFreq matches non-periodic vibration below FreqMax.
	VehicleLowFreq Band
	// VehicleMaxVariance matches vehicle at any frequency.
	VehicleMaxVariance float64

	Debounce int // consecutive identical classifications to commit

	MaxGyroGap time.Duration // heading integration ignores larger gaps
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		GravityAlpha:          0.8,
		FastWindow:            25,
		FullWindow:            100,
		FastWindowDuration:    500 * time.Millisecond,
		SampleRateHz:          50,
		MinVarianceSamples:    3,
		MinFrequencySamples:   10,
		StationaryMaxVariance: 0.08,
		Running:               Band{VarMin: 0.6, VarMax: 5.0, FreqMin: 2.0, FreqMax: 4.0},
		Walking:               Band{VarMin: 0.08, VarMax: 0.6, FreqMin: 1.2, FreqMax: 2.5},
		VehicleLowFreq:        Band{VarMin: 0.08, VarMax: 1.5, FreqMin: 0, FreqMax: 1.0},
		VehicleMaxVariance:    0.5,
		Debounce:              5,
		MaxGyroGap:            time.Second,
	}
}

// Classifier is safe for concurrent use: samples arrive on sensor
// goroutines while the status page reads the getters.
type Classifier struct {
	mu  sync.Mutex
	cfg Config

	gravity    [3]float64
	window     []float64
	firstTS    time.Time
	magnitude  float64
	variance   float64
	dominantHz float64

	current      sensor.MotionState
	pending      sensor.MotionState
	pendingCount int

	yawRate      float64
	headingDelta float64
	lastGyroTS   time.Time

	haveBaseAltitude bool
	baseAltitude     float64
	altitude         float64

	health sensor.MotionHealth
}

// NewClassifier creates a Classifier in the stationary state with every
// sensor marked inactive.
func NewClassifier(cfg Config) *Classifier {
	c := &Classifier{cfg: cfg}
	c.resetLocked()
	return c
}

// Reset clears all windows, integrators and the altitude baseline.
// Liveness flags are left alone.
func (c *Classifier) Reset() {
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
}

func (c *Classifier) resetLocked() {
	c.gravity = [3]float64{}
	c.window = make([]float64, 0, c.cfg.FullWindow)
	c.firstTS = time.Time{}
	c.magnitude = 0
	c.variance = 0
	c.dominantHz = 0
	c.current = sensor.Stationary
	c.pending = ""
	c.pendingCount = 0
	c.yawRate = 0
	c.headingDelta = 0
	c.lastGyroTS = time.Time{}
	c.haveBaseAltitude = false
	c.baseAltitude = 0
	c.altitude = 0
}

// OnSample folds one accelerometer sample (m/s²) into the window and
// returns the resulting motion sample.
func (c *Classifier) OnSample(x, y, z float64, ts time.Time) sensor.Motion {
	c.mu.Lock()
	defer c.mu.Unlock()

	a := c.cfg.GravityAlpha
	s := [3]float64{x, y, z}
	var sum float64
	for i := range s {
		c.gravity[i] = a*c.gravity[i] + (1-a)*s[i]
		lin := s[i] - c.gravity[i]
		sum += lin * lin
	}
	c.magnitude = math.Sqrt(sum)

	if c.firstTS.IsZero() {
		c.firstTS = ts
	}
	size := c.cfg.FullWindow
	if ts.Sub(c.firstTS) < c.cfg.FastWindowDuration {
		size = c.cfg.FastWindow
	}
	c.window = append(c.window, c.magnitude)
	if over := len(c.window) - size; over > 0 {
		c.window = append(c.window[:0], c.window[over:]...)
	}

	c.variance = c.windowVariance()
	c.dominantHz = c.windowFrequency()
	c.debounce(c.classify(c.variance, c.dominantHz))

	return c.motionLocked(ts)
}

func (c *Classifier) windowVariance() float64 {
	if len(c.window) < c.cfg.MinVarianceSamples {
		return 0
	}
	_, v := stat.PopMeanVariance(c.window, nil)
	return v
}

func (c *Classifier) windowFrequency() float64 {
	return dominantFrequency(c.window, c.cfg.SampleRateHz, c.cfg.MinFrequencySamples)
}

// dominantFrequency estimates the main oscillation frequency of xs from
// the number of crossings of its mean.
func dominantFrequency(xs []float64, rateHz float64, minSamples int) float64 {
	if len(xs) < minSamples || rateHz <= 0 {
		return 0
	}
	mean := stat.Mean(xs, nil)
	crossings := 0
	for i := 1; i < len(xs); i++ {
		if (xs[i-1]-mean)*(xs[i]-mean) < 0 {
			crossings++
		}
	}
	duration := float64(len(xs)) / rateHz
	return float64(crossings) / 2 / duration
}

// classify applies the rule table in order. An empty result means no rule
// matched and the current state should be held.
func (c *Classifier) classify(variance, freq float64) sensor.MotionState {
	switch {
	case variance < c.cfg.StationaryMaxVariance:
		return sensor.Stationary
	case c.cfg.Running.contains(variance, freq):
		return sensor.Running
	case c.cfg.Walking.contains(variance, freq):
		return sensor.Walking
	case c.cfg.VehicleLowFreq.VarMin <= variance && variance <= c.cfg.VehicleLowFreq.VarMax && freq < c.cfg.VehicleLowFreq.FreqMax:
		return sensor.Vehicle
	case variance >= c.cfg.StationaryMaxVariance && variance <= c.cfg.VehicleMaxVariance:
		return sensor.Vehicle
	}
	return ""
}

// debounce commits candidate once it has been seen Debounce times in a row.
func (c *Classifier) debounce(candidate sensor.MotionState) {
	if candidate == "" || candidate == c.current {
		c.pending = ""
		c.pendingCount = 0
		return
	}
	if candidate != c.pending {
		c.pending = candidate
		c.pendingCount = 1
	} else {
		c.pendingCount++
	}
	if c.pendingCount >= c.cfg.Debounce {
		c.current = candidate
		c.pending = ""
		c.pendingCount = 0
	}
}

// OnGyro records the z-axis yaw rate (rad/s) and integrates heading.
func (c *Classifier) OnGyro(x, y, z float64, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.yawRate = z
	if !c.lastGyroTS.IsZero() {
		dt := ts.Sub(c.lastGyroTS)
		if dt > 0 && dt < c.cfg.MaxGyroGap {
			c.headingDelta += z * dt.Seconds() * 180 / math.Pi
		}
	}
	c.lastGyroTS = ts
}

// OnBarometer records a pressure reading in hPa.
func (c *Classifier) OnBarometer(pressureHPa float64) {
	if pressureHPa <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.altitude = geo.PressureAltitudeM(pressureHPa)
	if !c.haveBaseAltitude {
		c.baseAltitude = c.altitude
		c.haveBaseAltitude = true
	}
}

// SetHealth replaces all liveness flags.
func (c *Classifier) SetHealth(h sensor.MotionHealth) {
	c.mu.Lock()
	c.health = h
	c.mu.Unlock()
}

// MarkFailed clears the liveness flag of one sensor.
func (c *Classifier) MarkFailed(kind sensor.Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch kind {
	case sensor.Accelerometer:
		c.health.Accelerometer = false
	case sensor.Gyroscope:
		c.health.Gyroscope = false
	case sensor.Barometer:
		c.health.Barometer = false
	}
}

// Health returns the liveness flags.
func (c *Classifier) Health() sensor.MotionHealth {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

// CurrentState returns the debounced label.
func (c *Classifier) CurrentState() sensor.MotionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AccelVariance returns the window variance, 0 when the accelerometer is down.
func (c *Classifier) AccelVariance() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.health.Accelerometer {
		return 0
	}
	return c.variance
}

// AccelMagnitude returns the latest linear acceleration magnitude.
func (c *Classifier) AccelMagnitude() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.health.Accelerometer {
		return 0
	}
	return c.magnitude
}

// DominantFrequency returns the latest window frequency estimate in Hz.
func (c *Classifier) DominantFrequency() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.health.Accelerometer {
		return 0
	}
	return c.dominantHz
}

// YawRate returns the latest z-axis rate in rad/s.
func (c *Classifier) YawRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.health.Gyroscope {
		return 0
	}
	return c.yawRate
}

// HeadingDelta returns the integrated heading change in degrees.
func (c *Classifier) HeadingDelta() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.health.Gyroscope {
		return 0
	}
	return c.headingDelta
}

// ResetHeadingDelta zeroes the heading integrator.
func (c *Classifier) ResetHeadingDelta() {
	c.mu.Lock()
	c.headingDelta = 0
	c.mu.Unlock()
}

// AltitudeChange returns meters relative to the first reading.
func (c *Classifier) AltitudeChange() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.altitudeChangeLocked()
}

func (c *Classifier) altitudeChangeLocked() float64 {
	if !c.health.Barometer || !c.haveBaseAltitude {
		return 0
	}
	return c.altitude - c.baseAltitude
}

func (c *Classifier) motionLocked(ts time.Time) sensor.Motion {
	m := sensor.Motion{
		State:          c.current,
		AltitudeChange: c.altitudeChangeLocked(),
		Timestamp:      ts,
	}
	if c.health.Accelerometer {
		m.Variance = c.variance
		m.Magnitude = c.magnitude
	}
	if c.health.Gyroscope {
		m.YawRate = c.yawRate
		m.HeadingDelta = c.headingDelta
	}
	return m
}

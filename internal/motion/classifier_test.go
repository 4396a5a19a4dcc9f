package motion

import (
	"math"
	"testing"
	"time"

	"github.com/sweeney/speed-fusion/internal/sensor"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func liveClassifier() *Classifier {
	c := NewClassifier(DefaultConfig())
	c.SetHealth(sensor.MotionHealth{Accelerometer: true, Gyroscope: true, Barometer: true})
	return c
}

func TestConstantGravitySettlesStationary(t *testing.T) {
	c := liveClassifier()
	var m sensor.Motion
	for i := 0; i < 200; i++ {
		m = c.OnSample(0, 0, 9.81, t0.Add(time.Duration(i)*20*time.Millisecond))
	}
	if m.State != sensor.Stationary {
		t.Errorf("State: got %q, want stationary", m.State)
	}
	if m.Variance >= 0.08 {
		t.Errorf("Variance: got %v, want < 0.08", m.Variance)
	}
	if c.CurrentState() != sensor.Stationary {
		t.Errorf("CurrentState: got %q, want stationary", c.CurrentState())
	}
}

func TestWindowGrowsAfterWarmup(t *testing.T) {
	c := liveClassifier()
	for i := 0; i < 30; i++ {
		c.OnSample(0, 0, 9.81, t0.Add(time.Duration(i)*10*time.Millisecond))
	}
	// 30 samples in 290 ms: still warming up.
	if len(c.window) != 25 {
		t.Errorf("warm-up window: got %d samples, want 25", len(c.window))
	}
	for i := 30; i < 200; i++ {
		c.OnSample(0, 0, 9.81, t0.Add(time.Duration(i)*10*time.Millisecond))
	}
	if len(c.window) != 100 {
		t.Errorf("settled window: got %d samples, want 100", len(c.window))
	}
}

func TestVarianceNeedsThreeSamples(t *testing.T) {
	c := liveClassifier()
	c.OnSample(0, 0, 9.81, t0)
	c.OnSample(0, 0, 9.81, t0.Add(20*time.Millisecond))
	if v := c.AccelVariance(); v != 0 {
		t.Errorf("variance with 2 samples: got %v, want 0", v)
	}
	c.OnSample(0, 0, 9.81, t0.Add(40*time.Millisecond))
	if v := c.AccelVariance(); v <= 0 {
		t.Errorf("variance with 3 samples: got %v, want > 0", v)
	}
}

func TestClassifyRules(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	tests := []struct {
		name     string
		variance float64
		freq     float64
		want     sensor.MotionState
	}{
		{"still", 0.01, 0, sensor.Stationary},
		{"still at any freq", 0.079, 3, sensor.Stationary},
		{"running", 1.2, 3.0, sensor.Running},
		{"running edges", 0.6, 2.0, sensor.Running},
		{"walking", 0.3, 1.8, sensor.Walking},
		{"walking overlaps running freq", 0.3, 2.2, sensor.Walking},
		{"vehicle low freq", 1.2, 0.5, sensor.Vehicle},
		{"vehicle smooth", 0.4, 3.5, sensor.Vehicle},
		{"hold: violent", 8.0, 3.0, ""},
		{"hold: high var mid freq", 1.0, 1.5, ""},
	}
	for _, tt := range tests {
		if got := c.classify(tt.variance, tt.freq); got != tt.want {
			t.Errorf("%s: classify(%v, %v) = %q, want %q", tt.name, tt.variance, tt.freq, got, tt.want)
		}
	}
}

func TestDebounceRequiresFiveConsecutive(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	for i := 0; i < 4; i++ {
		c.debounce(sensor.Running)
	}
	if c.current != sensor.Stationary {
		t.Fatalf("after 4 running: got %q, want stationary", c.current)
	}
	c.debounce(sensor.Running)
	if c.current != sensor.Running {
		t.Fatalf("after 5 running: got %q, want running", c.current)
	}
}

func TestDebounceSpikeDoesNotFlip(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	// Alternating candidates never accumulate five in a row.
	seq := []sensor.MotionState{
		sensor.Vehicle, sensor.Vehicle, sensor.Vehicle, sensor.Vehicle, sensor.Stationary,
		sensor.Vehicle, sensor.Walking, sensor.Vehicle, sensor.Vehicle, sensor.Vehicle,
		sensor.Vehicle, "",
	}
	for i, s := range seq {
		c.debounce(s)
		if c.current != sensor.Stationary {
			t.Fatalf("step %d (%q): state changed to %q", i, s, c.current)
		}
	}
}

func TestDominantFrequency(t *testing.T) {
	// Square wave alternating every 5 samples at 50 Hz: period 10 samples,
	// so 5 Hz with two mean crossings per period.
	xs := make([]float64, 100)
	for i := range xs {
		if (i/5)%2 == 0 {
			xs[i] = 1
		}
	}
	got := dominantFrequency(xs, 50, 10)
	// 19 crossings over 2 s.
	if math.Abs(got-4.75) > 1e-9 {
		t.Errorf("dominantFrequency: got %v, want 4.75", got)
	}

	if got := dominantFrequency(xs[:9], 50, 10); got != 0 {
		t.Errorf("9 samples: got %v, want 0", got)
	}
}

func TestGyroHeadingIntegration(t *testing.T) {
	c := liveClassifier()
	c.OnGyro(0, 0, math.Pi/2, t0)
	c.OnGyro(0, 0, math.Pi/2, t0.Add(500*time.Millisecond))
	c.OnGyro(0, 0, math.Pi/2, t0.Add(time.Second))

	if got := c.YawRate(); got != math.Pi/2 {
		t.Errorf("YawRate: got %v, want pi/2", got)
	}
	// Two 0.5 s intervals at 90 deg/s.
	if got := c.HeadingDelta(); math.Abs(got-90) > 1e-9 {
		t.Errorf("HeadingDelta: got %v, want 90", got)
	}

	// A gap of a second or more is not integrated.
	c.OnGyro(0, 0, math.Pi/2, t0.Add(3*time.Second))
	if got := c.HeadingDelta(); math.Abs(got-90) > 1e-9 {
		t.Errorf("HeadingDelta after gap: got %v, want 90", got)
	}

	c.ResetHeadingDelta()
	if got := c.HeadingDelta(); got != 0 {
		t.Errorf("HeadingDelta after reset: got %v, want 0", got)
	}
}

func TestBarometerAltitudeChange(t *testing.T) {
	c := liveClassifier()
	if got := c.AltitudeChange(); got != 0 {
		t.Errorf("before readings: got %v, want 0", got)
	}
	c.OnBarometer(1013.25)
	c.OnBarometer(1012.0)
	// ~1.25 hPa drop near sea level is roughly 10.4 m of climb.
	got := c.AltitudeChange()
	if got < 10 || got > 11 {
		t.Errorf("AltitudeChange: got %v, want ~10.4", got)
	}

	c.Reset()
	c.OnBarometer(1012.0)
	if got := c.AltitudeChange(); got != 0 {
		t.Errorf("after Reset, first reading is the baseline: got %v, want 0", got)
	}
}

func TestFailedSensorReturnsZeros(t *testing.T) {
	c := liveClassifier()
	for i := 0; i < 10; i++ {
		c.OnSample(float64(i%3), 0, 9.81, t0.Add(time.Duration(i)*20*time.Millisecond))
	}
	c.OnGyro(0, 0, 1, t0)
	c.OnBarometer(1000)
	c.OnBarometer(990)

	c.MarkFailed(sensor.Accelerometer)
	c.MarkFailed(sensor.Gyroscope)
	c.MarkFailed(sensor.Barometer)

	if c.AccelVariance() != 0 || c.AccelMagnitude() != 0 || c.DominantFrequency() != 0 {
		t.Error("accelerometer getters should return 0 after failure")
	}
	if c.YawRate() != 0 || c.HeadingDelta() != 0 {
		t.Error("gyroscope getters should return 0 after failure")
	}
	if c.AltitudeChange() != 0 {
		t.Error("barometer getter should return 0 after failure")
	}
	if h := c.Health(); h != (sensor.MotionHealth{}) {
		t.Errorf("Health: got %+v, want all false", h)
	}
}

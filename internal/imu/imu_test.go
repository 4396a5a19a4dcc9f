package imu

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/sweeney/speed-fusion/internal/motion"
	"github.com/sweeney/speed-fusion/internal/sensor"
	"github.com/sweeney/speed-fusion/internal/timeutil"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type reading struct {
	kind    string
	x, y, z float64
	failed  sensor.Kind
	at      time.Time
}

type recordingSink struct {
	ch chan reading
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan reading, 100)}
}

func (s *recordingSink) OnAccel(x, y, z float64, ts time.Time) {
	s.ch <- reading{kind: "accel", x: x, y: y, z: z, at: ts}
}
func (s *recordingSink) OnGyro(x, y, z float64, ts time.Time) {
	s.ch <- reading{kind: "gyro", x: x, y: y, z: z, at: ts}
}
func (s *recordingSink) OnPressure(hPa float64, ts time.Time) {
	s.ch <- reading{kind: "pressure", x: hPa, at: ts}
}
func (s *recordingSink) OnFailure(kind sensor.Kind, _ error) {
	s.ch <- reading{kind: "failure", failed: kind}
}

func (s *recordingSink) next(t *testing.T) reading {
	t.Helper()
	select {
	case r := <-s.ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reading")
		return reading{}
	}
}

func (s *recordingSink) quiet(t *testing.T) {
	t.Helper()
	select {
	case r := <-s.ch:
		t.Errorf("unexpected reading %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDeviceScalesMotion(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	m := &FakeMotionReader{Az: 16384, Gz: 131}
	d := NewDevice(m, &FakePressureReader{HPa: 1013.25}, clock, DefaultConfig())
	sink := newRecordingSink()

	if err := d.Start(sink); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	clock.Advance(20 * time.Millisecond)
	a := sink.next(t)
	if a.kind != "accel" {
		t.Fatalf("first reading: got %s, want accel", a.kind)
	}
	if math.Abs(a.z-StandardGravity) > 1e-9 || a.x != 0 {
		t.Errorf("accel: got (%v, %v, %v), want (0, 0, %v)", a.x, a.y, a.z, StandardGravity)
	}
	if !a.at.Equal(t0.Add(20 * time.Millisecond)) {
		t.Errorf("accel time: got %v", a.at)
	}
	g := sink.next(t)
	if g.kind != "gyro" || math.Abs(g.z-math.Pi/180) > 1e-12 {
		t.Errorf("gyro: got %+v, want z=%v rad/s", g, math.Pi/180)
	}
}

func TestDevicePollsPressure(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	d := NewDevice(&FakeMotionReader{}, &FakePressureReader{HPa: 1001.5}, clock, Config{
		MotionInterval:   time.Hour,
		PressureInterval: time.Second,
	})
	sink := newRecordingSink()
	d.Start(sink)
	defer d.Stop()

	clock.Advance(time.Second)
	r := sink.next(t)
	if r.kind != "pressure" || r.x != 1001.5 {
		t.Errorf("reading: got %+v, want pressure 1001.5", r)
	}
}

func TestDeviceMotionFailureStopsOnlyMotion(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	m := &FakeMotionReader{}
	m.SetErr(errors.New("spi timeout"))
	d := NewDevice(m, &FakePressureReader{HPa: 1000}, clock, Config{
		MotionInterval:   time.Second,
		PressureInterval: 2 * time.Second,
	})
	sink := newRecordingSink()
	d.Start(sink)
	defer d.Stop()

	clock.Advance(time.Second)
	if r := sink.next(t); r.kind != "failure" || r.failed != sensor.Accelerometer {
		t.Errorf("first: got %+v, want accelerometer failure", r)
	}
	if r := sink.next(t); r.kind != "failure" || r.failed != sensor.Gyroscope {
		t.Errorf("second: got %+v, want gyroscope failure", r)
	}

	clock.Advance(time.Second)
	if r := sink.next(t); r.kind != "pressure" {
		t.Errorf("barometer should keep running: got %+v", r)
	}
	if n := m.ReadCount(); n != 1 {
		t.Errorf("motion reads after failure: got %d, want 1", n)
	}
}

func TestDeviceWithoutBarometer(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	d := NewDevice(&FakeMotionReader{}, nil, clock, DefaultConfig())
	sink := newRecordingSink()

	if err := d.Start(sink); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()
	if r := sink.next(t); r.kind != "failure" || r.failed != sensor.Barometer {
		t.Errorf("got %+v, want barometer failure", r)
	}
}

func TestDeviceWithoutIMU(t *testing.T) {
	d := NewDevice(nil, nil, timeutil.NewMockClock(t0), DefaultConfig())
	if err := d.Start(newRecordingSink()); !errors.Is(err, sensor.ErrUnavailable) {
		t.Errorf("Start: got %v, want ErrUnavailable", err)
	}
}

func TestDeviceStop(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	d := NewDevice(&FakeMotionReader{}, &FakePressureReader{}, clock, DefaultConfig())
	sink := newRecordingSink()
	d.Start(sink)

	if err := d.Start(sink); err == nil {
		t.Error("expected error on second Start")
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if n := clock.ActiveTickers(); n != 0 {
		t.Errorf("active tickers: got %d, want 0", n)
	}
	clock.Advance(time.Second)
	sink.quiet(t)

	if err := d.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestDeviceFeedsAdapter(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	d := NewDevice(&FakeMotionReader{Az: 16384}, nil, clock, DefaultConfig())
	a := motion.NewAdapter(d, motion.DefaultConfig())

	got := make(chan sensor.Motion, 10)
	if err := a.Start(func(m sensor.Motion) { got <- m }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	if h := a.Health(); h.Barometer || !h.Accelerometer {
		t.Errorf("Health: got %+v, want accelerometer only", h)
	}
	clock.Advance(20 * time.Millisecond)
	select {
	case m := <-got:
		if m.State != sensor.Stationary {
			t.Errorf("State: got %q, want stationary", m.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no motion sample")
	}
}

var _ motion.RawSource = (*Device)(nil)

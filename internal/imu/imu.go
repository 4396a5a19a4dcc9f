// Package imu polls an accelerometer/gyroscope and a barometer and feeds
// the readings to a motion.Sink.
package imu

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/sweeney/speed-fusion/internal/motion"
	"github.com/sweeney/speed-fusion/internal/sensor"
	"github.com/sweeney/speed-fusion/internal/timeutil"
)

// MotionReader reads one accelerometer and gyroscope sample in raw counts.
type MotionReader interface {
	ReadMotion() (ax, ay, az, gx, gy, gz int16, err error)
}

// PressureReader reads barometric pressure in hPa.
type PressureReader interface {
	ReadPressure() (float64, error)
}

// Full-scale settings applied at init: ±2 g and ±250 °/s.
const (
	AccelLSBPerG    = 16384.0
	GyroLSBPerDPS   = 131.0
	StandardGravity = 9.80665
)

// Config holds the wiring and poll rates.
type Config struct {
	SPIDevice        string // MPU9250
	CSPin            string
	I2CBus           string // BMP280; empty selects the first bus
	BaroAddr         uint16
	MotionInterval   time.Duration
	PressureInterval time.Duration
}

// DefaultConfig returns 50 Hz motion and 1 Hz pressure polling on the
// reference wiring.
func DefaultConfig() Config {
	return Config{
		SPIDevice:        "/dev/spidev0.0",
		CSPin:            "GPIO8",
		BaroAddr:         0x76,
		MotionInterval:   20 * time.Millisecond,
		PressureInterval: time.Second,
	}
}

// Device is a motion.RawSource. A read error reports a failure for that
// sensor and stops polling it; the other sensor keeps running.
type Device struct {
	motion   MotionReader
	pressure PressureReader
	clock    timeutil.Clock
	cfg      Config
	closers  []func() error

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewDevice creates a Device. pressure may be nil when no barometer is
// fitted.
func NewDevice(m MotionReader, pressure PressureReader, clock timeutil.Clock, cfg Config) *Device {
	return &Device{motion: m, pressure: pressure, clock: clock, cfg: cfg}
}

// Start begins polling and delivers readings to sink.
func (d *Device) Start(sink motion.Sink) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return errors.New("imu already started")
	}
	if d.motion == nil {
		return sensor.ErrUnavailable
	}

	d.stop = make(chan struct{})
	motionTick := d.clock.NewTicker(d.cfg.MotionInterval)
	d.wg.Add(1)
	go d.pollMotion(sink, motionTick, d.stop)

	if d.pressure == nil {
		sink.OnFailure(sensor.Barometer, sensor.ErrUnavailable)
		return nil
	}
	pressureTick := d.clock.NewTicker(d.cfg.PressureInterval)
	d.wg.Add(1)
	go d.pollPressure(sink, pressureTick, d.stop)
	return nil
}

// Stop halts polling and waits for the pollers to exit.
func (d *Device) Stop() error {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	d.wg.Wait()
	return nil
}

// Close releases the hardware.
func (d *Device) Close() error {
	var errs []error
	for _, c := range d.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func (d *Device) pollMotion(sink motion.Sink, tick timeutil.Ticker, stop <-chan struct{}) {
	defer d.wg.Done()
	defer tick.Stop()

	for {
		select {
		case <-stop:
			return
		case <-tick.C():
		}

		ax, ay, az, gx, gy, gz, err := d.motion.ReadMotion()
		if err != nil {
			log.Printf("imu: motion read failed, stopping: %v", err)
			sink.OnFailure(sensor.Accelerometer, err)
			sink.OnFailure(sensor.Gyroscope, err)
			return
		}
		now := d.clock.Now()
		sink.OnAccel(accel(ax), accel(ay), accel(az), now)
		sink.OnGyro(gyro(gx), gyro(gy), gyro(gz), now)
	}
}

func (d *Device) pollPressure(sink motion.Sink, tick timeutil.Ticker, stop <-chan struct{}) {
	defer d.wg.Done()
	defer tick.Stop()

	for {
		select {
		case <-stop:
			return
		case <-tick.C():
		}

		hPa, err := d.pressure.ReadPressure()
		if err != nil {
			log.Printf("imu: pressure read failed, stopping: %v", err)
			sink.OnFailure(sensor.Barometer, err)
			return
		}
		sink.OnPressure(hPa, d.clock.Now())
	}
}

func accel(counts int16) float64 {
	return float64(counts) / AccelLSBPerG * StandardGravity
}

func gyro(counts int16) float64 {
	return float64(counts) / GyroLSBPerDPS * math.Pi / 180
}

package imu

import (
	"fmt"
	"log"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/sweeney/speed-fusion/internal/timeutil"
)

// Open initializes the MPU9250 over SPI and, if present, the BMP280 over
// I2C. A missing barometer is logged and the Device runs without it.
func Open(cfg Config, clock timeutil.Clock) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	m, err := openMPU(cfg)
	if err != nil {
		return nil, err
	}
	d := NewDevice(m, nil, clock, cfg)

	b, err := openBMP(cfg)
	if err != nil {
		log.Printf("imu: barometer unavailable: %v", err)
		return d, nil
	}
	d.pressure = b
	d.closers = append(d.closers, b.close)
	return d, nil
}

type mpu struct {
	dev *mpu9250.MPU9250
}

func openMPU(cfg Config) (*mpu, error) {
	cs := gpioreg.ByName(cfg.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("imu CS pin %q not found", cfg.CSPin)
	}
	tr, err := mpu9250.NewSpiTransport(cfg.SPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("open imu SPI transport %s: %w", cfg.SPIDevice, err)
	}
	dev, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("create imu device: %w", err)
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("init imu: %w", err)
	}
	if err := dev.SetAccelRange(0); err != nil {
		return nil, fmt.Errorf("set accel range: %w", err)
	}
	if err := dev.SetGyroRange(0); err != nil {
		return nil, fmt.Errorf("set gyro range: %w", err)
	}
	log.Printf("imu: MPU9250 ready on %s", cfg.SPIDevice)
	return &mpu{dev: dev}, nil
}

func (m *mpu) ReadMotion() (ax, ay, az, gx, gy, gz int16, err error) {
	if ax, err = m.dev.GetAccelerationX(); err != nil {
		return 0, 0, 0, 0, 0, 0, fmt.Errorf("accel X: %w", err)
	}
	if ay, err = m.dev.GetAccelerationY(); err != nil {
		return 0, 0, 0, 0, 0, 0, fmt.Errorf("accel Y: %w", err)
	}
	if az, err = m.dev.GetAccelerationZ(); err != nil {
		return 0, 0, 0, 0, 0, 0, fmt.Errorf("accel Z: %w", err)
	}
	if gx, err = m.dev.GetRotationX(); err != nil {
		return 0, 0, 0, 0, 0, 0, fmt.Errorf("gyro X: %w", err)
	}
	if gy, err = m.dev.GetRotationY(); err != nil {
		return 0, 0, 0, 0, 0, 0, fmt.Errorf("gyro Y: %w", err)
	}
	if gz, err = m.dev.GetRotationZ(); err != nil {
		return 0, 0, 0, 0, 0, 0, fmt.Errorf("gyro Z: %w", err)
	}
	return ax, ay, az, gx, gy, gz, nil
}

type bmp struct {
	bus i2c.BusCloser
	dev *bmxx80.Dev
}

func openBMP(cfg Config) (*bmp, error) {
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", cfg.I2CBus, err)
	}
	dev, err := bmxx80.NewI2C(bus, cfg.BaroAddr, &bmxx80.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("init barometer at %#x: %w", cfg.BaroAddr, err)
	}
	return &bmp{bus: bus, dev: dev}, nil
}

func (b *bmp) ReadPressure() (float64, error) {
	var e physic.Env
	if err := b.dev.Sense(&e); err != nil {
		return 0, fmt.Errorf("sense barometer: %w", err)
	}
	pressurePa := float64(e.Pressure) / float64(physic.Pascal)
	return pressurePa / 100.0, nil
}

func (b *bmp) close() error {
	var errs []error
	if err := b.dev.Halt(); err != nil {
		errs = append(errs, fmt.Errorf("halt barometer: %w", err))
	}
	if err := b.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close i2c bus: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

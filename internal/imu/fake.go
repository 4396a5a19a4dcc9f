package imu

import "sync"

// FakeMotionReader returns a fixed sample, or Err once set.
type FakeMotionReader struct {
	mu    sync.Mutex
	Reads int

	Ax, Ay, Az, Gx, Gy, Gz int16
	Err                    error
}

// ReadMotion returns the configured sample.
func (f *FakeMotionReader) ReadMotion() (ax, ay, az, gx, gy, gz int16, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads++
	if f.Err != nil {
		return 0, 0, 0, 0, 0, 0, f.Err
	}
	return f.Ax, f.Ay, f.Az, f.Gx, f.Gy, f.Gz, nil
}

// SetErr makes subsequent reads fail.
func (f *FakeMotionReader) SetErr(err error) {
	f.mu.Lock()
	f.Err = err
	f.mu.Unlock()
}

// ReadCount returns the number of reads so far.
func (f *FakeMotionReader) ReadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Reads
}

// FakePressureReader returns a fixed pressure, or Err once set.
type FakePressureReader struct {
	mu  sync.Mutex
	HPa float64
	Err error
}

// ReadPressure returns the configured pressure.
func (f *FakePressureReader) ReadPressure() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	return f.HPa, nil
}

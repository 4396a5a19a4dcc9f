package gps

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/sweeney/speed-fusion/internal/sensor"
)

// Logf is the package logger. Tests may replace it.
var Logf = log.Printf

// Config holds the receiver's serial settings.
type Config struct {
	Port string
	Baud uint
}

// DefaultConfig returns the Raspberry Pi primary UART at 9600 8N1.
func DefaultConfig() Config {
	return Config{Port: "/dev/ttyAMA0", Baud: 9600}
}

// Receiver is a sensor.PositionSource backed by an NMEA serial stream.
type Receiver struct {
	open func() (io.ReadCloser, error)
	now  func() time.Time
	name string

	mu       sync.Mutex
	port     io.Closer
	done     chan struct{}
	stopping bool

	fixes   atomic.Int64
	invalid atomic.Int64
}

// NewReceiver creates a Receiver for the serial port in cfg. The port is
// opened on Start.
func NewReceiver(cfg Config) *Receiver {
	return newReceiver(cfg.Port, func() (io.ReadCloser, error) {
		return serial.Open(serial.OpenOptions{
			PortName:        cfg.Port,
			BaudRate:        cfg.Baud,
			DataBits:        8,
			StopBits:        1,
			MinimumReadSize: 1,
			ParityMode:      serial.PARITY_NONE,
		})
	}, time.Now)
}

func newReceiver(name string, open func() (io.ReadCloser, error), now func() time.Time) *Receiver {
	return &Receiver{open: open, now: now, name: name}
}

// Start opens the port and delivers every active RMC fix to fn from a
// reader goroutine.
func (r *Receiver) Start(fn func(sensor.Position)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.port != nil {
		return fmt.Errorf("gps receiver on %s already started", r.name)
	}

	port, err := r.open()
	if err != nil {
		return fmt.Errorf("open gps port %s: %w", r.name, err)
	}
	Logf("gps: opened %s", r.name)

	r.port = port
	r.stopping = false
	r.done = make(chan struct{})
	go r.read(port, fn, r.done)
	return nil
}

// Stop closes the port and waits for the reader to exit.
func (r *Receiver) Stop() error {
	r.mu.Lock()
	port, done := r.port, r.done
	if port == nil {
		r.mu.Unlock()
		return nil
	}
	r.stopping = true
	r.port = nil
	r.mu.Unlock()

	err := port.Close()
	<-done
	if err != nil {
		return fmt.Errorf("close gps port %s: %w", r.name, err)
	}
	return nil
}

// Fixes returns the number of fixes delivered.
func (r *Receiver) Fixes() int64 { return r.fixes.Load() }

// Invalid returns the number of lines skipped as unparseable.
func (r *Receiver) Invalid() int64 { return r.invalid.Load() }

func (r *Receiver) read(port io.Reader, fn func(sensor.Position), done chan<- struct{}) {
	defer close(done)

	parser := NewParser()
	reader := bufio.NewReader(port)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			if p, ok := parser.Feed(line, r.now()); ok {
				r.fixes.Add(1)
				fn(p)
			}
			r.invalid.Store(int64(parser.Invalid()))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !r.isStopping() {
				Logf("gps: read error: %v", err)
			}
			return
		}
	}
}

func (r *Receiver) isStopping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopping
}

package gps

import (
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/sweeney/speed-fusion/internal/sensor"
)

func pipeReceiver(t *testing.T) (*Receiver, *io.PipeWriter) {
	t.Helper()
	pr, pw := io.Pipe()
	r := newReceiver("pipe", func() (io.ReadCloser, error) { return pr, nil }, func() time.Time { return now })
	return r, pw
}

func TestReceiverDeliversFixes(t *testing.T) {
	r, pw := pipeReceiver(t)
	fixes := make(chan sensor.Position, 10)
	if err := r.Start(func(p sensor.Position) { fixes <- p }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	go func() {
		io.WriteString(pw, "noise\r\n")
		io.WriteString(pw, ggaFix+"\r\n")
		io.WriteString(pw, rmcActive+"\r\n")
		io.WriteString(pw, rmcVoid+"\r\n")
		io.WriteString(pw, rmcNoDate+"\r\n")
	}()

	for i := 0; i < 2; i++ {
		select {
		case p := <-fixes:
			if math.Abs(p.Accuracy-4.5) > 1e-9 {
				t.Errorf("fix %d: Accuracy got %v, want 4.5", i, p.Accuracy)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for fix %d", i)
		}
	}

	if err := r.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if r.Fixes() != 2 {
		t.Errorf("Fixes: got %d, want 2", r.Fixes())
	}
	if r.Invalid() != 1 {
		t.Errorf("Invalid: got %d, want 1", r.Invalid())
	}
}

func TestReceiverOpenError(t *testing.T) {
	cause := errors.New("no such device")
	r := newReceiver("/dev/missing", func() (io.ReadCloser, error) { return nil, cause }, time.Now)

	err := r.Start(func(sensor.Position) {})
	if !errors.Is(err, cause) {
		t.Errorf("Start: got %v, want wrapped %v", err, cause)
	}
	if err := r.Stop(); err != nil {
		t.Errorf("Stop after failed Start: %v", err)
	}
}

func TestReceiverDoubleStart(t *testing.T) {
	r, _ := pipeReceiver(t)
	if err := r.Start(func(sensor.Position) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()
	if err := r.Start(func(sensor.Position) {}); err == nil {
		t.Error("expected error on second Start")
	}
}

func TestReceiverStopIsIdempotent(t *testing.T) {
	r, _ := pipeReceiver(t)
	r.Start(func(sensor.Position) {})
	if err := r.Stop(); err != nil {
		t.Errorf("first Stop: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

var _ sensor.PositionSource = (*Receiver)(nil)

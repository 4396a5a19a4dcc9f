package gps

import (
	"math"
	"testing"
	"time"
)

var now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const (
	rmcActive   = "$GPRMC,123519.00,A,5130.000,N,00007.200,W,10.0,054.7,150326,,,A*77"
	rmcVoid     = "$GPRMC,123520.00,V,5130.000,N,00007.200,W,0.0,0.0,150326,,,N*52"
	rmcNoDate   = "$GPRMC,123519.00,A,5130.000,N,00007.200,W,10.0,054.7,,,,A*74"
	ggaFix      = "$GPGGA,123519.00,5130.000,N,00007.200,W,1,08,0.9,45.4,M,46.9,M,,*4E"
	ggaNoFix    = "$GPGGA,123519.00,5130.000,N,00007.200,W,0,00,99.9,0.0,M,0.0,M,,*79"
	gsvSentence = "$GPGSV,1,1,01,10,63,137,17*4F"
)

func TestParserRMC(t *testing.T) {
	p := NewParser()
	pos, ok := p.Feed(rmcActive+"\r\n", now)
	if !ok {
		t.Fatal("expected a fix")
	}
	if math.Abs(pos.Latitude-51.5) > 1e-9 {
		t.Errorf("Latitude: got %v, want 51.5", pos.Latitude)
	}
	if math.Abs(pos.Longitude-(-0.12)) > 1e-9 {
		t.Errorf("Longitude: got %v, want -0.12", pos.Longitude)
	}
	if math.Abs(pos.Speed-10*KnotsToMS) > 1e-9 {
		t.Errorf("Speed: got %v, want %v", pos.Speed, 10*KnotsToMS)
	}
	if pos.Accuracy != DefaultAccuracy {
		t.Errorf("Accuracy before GGA: got %v, want %v", pos.Accuracy, DefaultAccuracy)
	}
	want := time.Date(2026, 3, 15, 12, 35, 19, 0, time.UTC)
	if !pos.Timestamp.Equal(want) {
		t.Errorf("Timestamp: got %v, want %v", pos.Timestamp, want)
	}
}

func TestParserGGASetsAccuracyAndAltitude(t *testing.T) {
	p := NewParser()
	if _, ok := p.Feed(ggaFix, now); ok {
		t.Error("GGA alone should not produce a fix")
	}
	pos, ok := p.Feed(rmcActive, now)
	if !ok {
		t.Fatal("expected a fix")
	}
	if math.Abs(pos.Accuracy-4.5) > 1e-9 {
		t.Errorf("Accuracy: got %v, want 4.5", pos.Accuracy)
	}
	if math.Abs(pos.Altitude-45.4) > 1e-9 {
		t.Errorf("Altitude: got %v, want 45.4", pos.Altitude)
	}
}

func TestParserIgnoresGGAWithoutFix(t *testing.T) {
	p := NewParser()
	p.Feed(ggaNoFix, now)
	pos, _ := p.Feed(rmcActive, now)
	if pos.Accuracy != DefaultAccuracy {
		t.Errorf("Accuracy: got %v, want %v", pos.Accuracy, DefaultAccuracy)
	}
}

func TestParserVoidRMC(t *testing.T) {
	p := NewParser()
	if _, ok := p.Feed(rmcVoid, now); ok {
		t.Error("void RMC should not produce a fix")
	}
}

func TestParserMissingDateUsesNow(t *testing.T) {
	p := NewParser()
	pos, ok := p.Feed(rmcNoDate, now)
	if !ok {
		t.Fatal("expected a fix")
	}
	if !pos.Timestamp.Equal(now) {
		t.Errorf("Timestamp: got %v, want %v", pos.Timestamp, now)
	}
}

func TestParserInvalidLines(t *testing.T) {
	p := NewParser()
	lines := []string{
		"",
		"   ",
		"garbage",
		"$GPRMC,123519.00,A,5130.000,N,00007.200,W,10.0,054.7,150326,,,A*00", // bad checksum
		"$GPRMC,1235",
		gsvSentence,
	}
	for _, l := range lines {
		if _, ok := p.Feed(l, now); ok {
			t.Errorf("%q: unexpected fix", l)
		}
	}
	if p.Invalid() != 3 {
		t.Errorf("Invalid: got %d, want 3", p.Invalid())
	}
}

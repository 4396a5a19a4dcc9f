// Package gps reads NMEA 0183 sentences from a serial receiver and turns
// them into positioning fixes.
package gps

import (
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/sweeney/speed-fusion/internal/sensor"
)

const (
	// KnotsToMS converts knots to meters per second.
	KnotsToMS = 0.514444

	// DefaultUERE is the user equivalent range error in meters used to
	// scale HDOP into a horizontal accuracy.
	DefaultUERE = 5.0

	// DefaultAccuracy is reported until a GGA sentence supplies HDOP.
	DefaultAccuracy = 50.0
)

// Parser turns NMEA lines into positions. RMC sentences produce fixes;
// GGA sentences supply HDOP and altitude for the fixes that follow.
// Not safe for concurrent use.
type Parser struct {
	UERE            float64
	DefaultAccuracy float64

	hdop     float64
	altitude float64
	haveGGA  bool
	invalid  int
}

// NewParser creates a Parser with the default error model.
func NewParser() *Parser {
	return &Parser{UERE: DefaultUERE, DefaultAccuracy: DefaultAccuracy}
}

// Feed parses one line. It returns a position and true when the line is
// an RMC sentence with an active fix. now stamps fixes without a date.
func (p *Parser) Feed(line string, now time.Time) (sensor.Position, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return sensor.Position{}, false
	}
	if !strings.HasPrefix(line, "$") {
		p.invalid++
		return sensor.Position{}, false
	}

	s, err := nmea.Parse(line)
	if err != nil {
		p.invalid++
		return sensor.Position{}, false
	}

	switch s.DataType() {
	case nmea.TypeGGA:
		m := s.(nmea.GGA)
		if m.FixQuality == nmea.Invalid {
			return sensor.Position{}, false
		}
		p.hdop = m.HDOP
		p.altitude = m.Altitude
		p.haveGGA = true
	case nmea.TypeRMC:
		m := s.(nmea.RMC)
		if m.Validity != nmea.ValidRMC {
			return sensor.Position{}, false
		}
		return sensor.Position{
			Latitude:  m.Latitude,
			Longitude: m.Longitude,
			Speed:     m.Speed * KnotsToMS,
			Accuracy:  p.accuracy(),
			Altitude:  p.altitude,
			Timestamp: fixTime(m.Date, m.Time, now),
		}, true
	}
	return sensor.Position{}, false
}

// Invalid returns the number of lines that could not be parsed.
func (p *Parser) Invalid() int { return p.invalid }

func (p *Parser) accuracy() float64 {
	if !p.haveGGA || p.hdop <= 0 {
		return p.DefaultAccuracy
	}
	return p.hdop * p.UERE
}

func fixTime(d nmea.Date, t nmea.Time, now time.Time) time.Time {
	if !d.Valid || !t.Valid {
		return now
	}
	return time.Date(2000+d.YY, time.Month(d.MM), d.DD,
		t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}

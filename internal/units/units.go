// Package units converts speeds from m/s and formats trip figures for
// display.
package units

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Unit is a display speed unit.
type Unit string

// Unit values.
const (
	KMH   Unit = "kmh"
	MPH   Unit = "mph"
	MS    Unit = "ms"
	Knots Unit = "knots"
)

// Conversion factors from m/s.
const (
	MSToKMH   = 3.6
	MSToMPH   = 2.2369362920544
	MSToKnots = 1 / 0.514444
)

// Parse returns the Unit named by s.
func Parse(s string) (Unit, error) {
	switch u := Unit(strings.ToLower(strings.TrimSpace(s))); u {
	case KMH, MPH, MS, Knots:
		return u, nil
	}
	return "", fmt.Errorf("unknown speed unit %q (want kmh, mph, ms or knots)", s)
}

// Convert converts a speed in m/s to u.
func (u Unit) Convert(ms float64) float64 {
	switch u {
	case KMH:
		return ms * MSToKMH
	case MPH:
		return ms * MSToMPH
	case Knots:
		return ms * MSToKnots
	}
	return ms
}

// ToMS converts a speed expressed in u back to m/s.
func (u Unit) ToMS(v float64) float64 {
	return v / u.Convert(1)
}

// Label returns the display suffix for u.
func (u Unit) Label() string {
	switch u {
	case KMH:
		return "km/h"
	case MPH:
		return "mph"
	case Knots:
		return "kn"
	}
	return "m/s"
}

// FormatSpeed formats a speed in m/s as u with one decimal. Negative
// speeds display as zero.
func FormatSpeed(ms float64, u Unit) string {
	if ms < 0 || math.IsNaN(ms) {
		ms = 0
	}
	return fmt.Sprintf("%.1f", u.Convert(ms))
}

// FormatDistance formats meters as "1.2 km" from one kilometer up and as
// whole meters below.
func FormatDistance(m float64) string {
	if m >= 1000 {
		return fmt.Sprintf("%.1f km", m/1000)
	}
	return fmt.Sprintf("%d m", int(math.Round(math.Max(m, 0))))
}

// FormatDuration formats d as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total%3600/60, total%60)
}

// Package geo holds the small geodesy helpers the fusion engine needs:
// great-circle distance between fixes and pressure altitude.
package geo

import (
	"math"
	"time"
)

// EarthRadiusM is the mean Earth radius in meters.
const EarthRadiusM = 6371000.0

// SeaLevelPressureHPa is the ISA standard sea-level pressure.
const SeaLevelPressureHPa = 1013.25

// DistanceM returns the haversine distance in meters between two points
// given in decimal degrees.
func DistanceM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusM * c
}

// SpeedBetween returns the average speed in m/s implied by two fixes.
// ok is false when dt is not positive or exceeds maxGap.
func SpeedBetween(lat1, lon1 float64, t1 time.Time, lat2, lon2 float64, t2 time.Time, maxGap time.Duration) (speed float64, ok bool) {
	dt := t2.Sub(t1)
	if dt <= 0 || dt > maxGap {
		return 0, false
	}
	return DistanceM(lat1, lon1, lat2, lon2) / dt.Seconds(), true
}

// PressureAltitudeM converts a barometric pressure in hPa to altitude in
// meters using the international barometric formula.
func PressureAltitudeM(pressureHPa float64) float64 {
	if pressureHPa <= 0 {
		return 0
	}
	return 44330 * (1 - math.Pow(pressureHPa/SeaLevelPressureHPa, 0.1903))
}

// HorizontalM removes a vertical component from a straight-line distance.
// The input is returned unchanged when the vertical part is not smaller.
func HorizontalM(dist, vertical float64) float64 {
	v := math.Abs(vertical)
	if dist <= v {
		return dist
	}
	return math.Sqrt(dist*dist - v*v)
}

package web

import (
	"encoding/json"
	"time"

	"github.com/sweeney/speed-fusion/internal/tripstore"
	"github.com/sweeney/speed-fusion/internal/units"
)

// TripsJSON is the JSON representation of the trip history.
type TripsJSON struct {
	Trips []TripJSON `json:"trips"`
}

// TripJSON is one stored trip, formatted in the unit it was recorded in.
type TripJSON struct {
	ID        string  `json:"id"`
	StartTime string  `json:"start_time"`
	EndTime   string  `json:"end_time"`
	Distance  string  `json:"distance"`
	DistanceM float64 `json:"distance_m"`
	Average   string  `json:"average"`
	Max       string  `json:"max"`
	Unit      string  `json:"unit"`
	Duration  string  `json:"duration"`
	Synced    bool    `json:"synced"`
}

func formatTrips(trips []tripstore.Trip) []byte {
	out := TripsJSON{Trips: make([]TripJSON, 0, len(trips))}
	for _, t := range trips {
		unit := t.Unit
		if unit == "" {
			unit = units.KMH
		}
		out.Trips = append(out.Trips, TripJSON{
			ID:        t.ID,
			StartTime: t.StartTime.UTC().Format(time.RFC3339),
			EndTime:   t.EndTime.UTC().Format(time.RFC3339),
			Distance:  units.FormatDistance(t.Distance),
			DistanceM: t.Distance,
			Average:   units.FormatSpeed(t.AverageSpeed, unit),
			Max:       units.FormatSpeed(t.MaxSpeed, unit),
			Unit:      unit.Label(),
			Duration:  units.FormatDuration(t.Duration),
			Synced:    t.Synced,
		})
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return data
}

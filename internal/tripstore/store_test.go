package tripstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/speed-fusion/internal/fusion"
	"github.com/sweeney/speed-fusion/internal/units"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trips.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func summary(start time.Time, dist float64) fusion.TripSummary {
	return fusion.TripSummary{
		Snapshot: fusion.Snapshot{
			AverageSpeed:  5,
			MaxSpeed:      12.5,
			TotalDistance: dist,
			TripDuration:  90 * time.Second,
		},
		StartTime: start,
		EndTime:   start.Add(90 * time.Second),
	}
}

func TestSaveAndGet(t *testing.T) {
	t.Parallel()
	s, _ := openTemp(t)

	saved, err := s.Save(summary(t0, 450), units.MPH)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	got, err := s.Get(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, got.ID)
	assert.True(t, got.StartTime.Equal(t0))
	assert.True(t, got.EndTime.Equal(t0.Add(90*time.Second)))
	assert.InDelta(t, 450, got.Distance, 1e-9)
	assert.InDelta(t, 5, got.AverageSpeed, 1e-9)
	assert.InDelta(t, 12.5, got.MaxSpeed, 1e-9)
	assert.Equal(t, 90*time.Second, got.Duration)
	assert.Equal(t, units.MPH, got.Unit)
	assert.False(t, got.Synced)
}

func TestGetUnknown(t *testing.T) {
	t.Parallel()
	s, _ := openTemp(t)

	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	t.Parallel()
	s, _ := openTemp(t)

	a, err := s.Save(summary(t0, 1), units.KMH)
	require.NoError(t, err)
	c, err := s.Save(summary(t0.Add(2*time.Hour), 3), units.KMH)
	require.NoError(t, err)
	b, err := s.Save(summary(t0.Add(time.Hour), 2), units.KMH)
	require.NoError(t, err)

	trips, err := s.List()
	require.NoError(t, err)
	require.Len(t, trips, 3)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, []string{trips[0].ID, trips[1].ID, trips[2].ID})
}

func TestListEmpty(t *testing.T) {
	t.Parallel()
	s, _ := openTemp(t)

	trips, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, trips)
}

func TestSyncTracking(t *testing.T) {
	t.Parallel()
	s, _ := openTemp(t)

	a, err := s.Save(summary(t0, 1), units.KMH)
	require.NoError(t, err)
	b, err := s.Save(summary(t0.Add(time.Minute), 2), units.KMH)
	require.NoError(t, err)

	pending, err := s.Unsynced()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, a.ID, pending[0].ID, "oldest first")

	require.NoError(t, s.MarkSynced(a.ID, "unknown"))
	pending, err = s.Unsynced()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)

	got, err := s.Get(a.ID)
	require.NoError(t, err)
	assert.True(t, got.Synced)

	require.NoError(t, s.MarkSynced())
}

func TestClear(t *testing.T) {
	t.Parallel()
	s, _ := openTemp(t)

	_, err := s.Save(summary(t0, 1), units.KMH)
	require.NoError(t, err)
	require.NoError(t, s.Clear())

	trips, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, trips)
}

func TestReopenKeepsTrips(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "trips.db")

	s, err := Open(path)
	require.NoError(t, err)
	saved, err := s.Save(summary(t0, 42), units.Knots)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(saved.ID)
	require.NoError(t, err)
	assert.InDelta(t, 42, got.Distance, 1e-9)
	assert.Equal(t, units.Knots, got.Unit)
}

// Package tripstore persists completed trip summaries in SQLite.
package tripstore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sweeney/speed-fusion/internal/fusion"
	"github.com/sweeney/speed-fusion/internal/units"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned by Get for an unknown trip ID.
var ErrNotFound = errors.New("trip not found")

// Trip is a stored trip summary. Speeds are m/s and distance is meters;
// Unit records the display unit in force when the trip was saved.
type Trip struct {
	ID           string
	StartTime    time.Time
	EndTime      time.Time
	Distance     float64
	AverageSpeed float64
	MaxSpeed     float64
	Duration     time.Duration
	Unit         units.Unit
	Synced       bool
}

// Store is a SQLite-backed trip history.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies any
// pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open trip db: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	// m is not closed: that would close s.db.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("tripstore: [migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a trip summary under a new ID and returns the stored trip.
func (s *Store) Save(sum fusion.TripSummary, unit units.Unit) (Trip, error) {
	t := Trip{
		ID:           uuid.NewString(),
		StartTime:    sum.StartTime,
		EndTime:      sum.EndTime,
		Distance:     sum.TotalDistance,
		AverageSpeed: sum.AverageSpeed,
		MaxSpeed:     sum.MaxSpeed,
		Duration:     sum.TripDuration,
		Unit:         unit,
	}
	_, err := s.db.Exec(`INSERT INTO trips
		(id, start_ns, end_ns, distance_m, avg_speed_ms, max_speed_ms, duration_ms, unit, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		t.ID, t.StartTime.UnixNano(), t.EndTime.UnixNano(), t.Distance,
		t.AverageSpeed, t.MaxSpeed, t.Duration.Milliseconds(), string(t.Unit))
	if err != nil {
		return Trip{}, fmt.Errorf("insert trip: %w", err)
	}
	return t, nil
}

const selectTrips = `SELECT id, start_ns, end_ns, distance_m, avg_speed_ms,
	max_speed_ms, duration_ms, unit, synced FROM trips`

// List returns all trips, newest first.
func (s *Store) List() ([]Trip, error) {
	return s.query(selectTrips + ` ORDER BY start_ns DESC, rowid DESC`)
}

// Unsynced returns trips not yet marked synced, oldest first.
func (s *Store) Unsynced() ([]Trip, error) {
	return s.query(selectTrips + ` WHERE synced = 0 ORDER BY start_ns ASC, rowid ASC`)
}

// Get returns the trip with the given ID.
func (s *Store) Get(id string) (Trip, error) {
	trips, err := s.query(selectTrips+` WHERE id = ?`, id)
	if err != nil {
		return Trip{}, err
	}
	if len(trips) == 0 {
		return Trip{}, ErrNotFound
	}
	return trips[0], nil
}

// MarkSynced flags the given trips as synced. Unknown IDs are ignored.
func (s *Store) MarkSynced(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	if _, err := s.db.Exec(`UPDATE trips SET synced = 1 WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

// Clear deletes every stored trip.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM trips`); err != nil {
		return fmt.Errorf("clear trips: %w", err)
	}
	return nil
}

func (s *Store) query(q string, args ...any) ([]Trip, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	var trips []Trip
	for rows.Next() {
		var (
			t              Trip
			startNs, endNs int64
			durationMs     int64
			unit           string
			synced         int
		)
		if err := rows.Scan(&t.ID, &startNs, &endNs, &t.Distance, &t.AverageSpeed,
			&t.MaxSpeed, &durationMs, &unit, &synced); err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		t.StartTime = time.Unix(0, startNs).UTC()
		t.EndTime = time.Unix(0, endNs).UTC()
		t.Duration = time.Duration(durationMs) * time.Millisecond
		t.Unit = units.Unit(unit)
		t.Synced = synced != 0
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trips: %w", err)
	}
	return trips, nil
}

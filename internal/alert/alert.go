// Package alert evaluates the fused speed against a configured speed limit
// and rate-limits the resulting notifications.
package alert

import (
	"sync"
	"time"
)

// Level is the severity of a speed check.
type Level string

// Level values, in ascending severity.
const (
	LevelNone     Level = "none"
	LevelWarning  Level = "warning"
	LevelExceeded Level = "exceeded"
)

func (l Level) rank() int {
	switch l {
	case LevelWarning:
		return 1
	case LevelExceeded:
		return 2
	}
	return 0
}

// Settings configures the speed alert.
type Settings struct {
	Enabled          bool
	Limit            float64       // m/s
	WarningThreshold float64       // fraction of Limit that starts a warning
	Cooldown         time.Duration // minimum time between alerts of the same level
}

// DefaultSettings returns disabled alerts with a 90% warning band and a
// 10 s cooldown.
func DefaultSettings() Settings {
	return Settings{
		WarningThreshold: 0.9,
		Cooldown:         10 * time.Second,
	}
}

// Result is the outcome of one Check.
type Result struct {
	Level       Level
	ShouldAlert bool
}

// Alert is a notification raised by a Check.
type Alert struct {
	Timestamp time.Time
	Level     Level
	Speed     float64 // m/s
	Limit     float64 // m/s
}

// Service evaluates speeds. Safe for concurrent use.
type Service struct {
	mu        sync.Mutex
	settings  Settings
	level     Level
	lastAlert time.Time
	lastLevel Level
}

// NewService creates a Service.
func NewService(s Settings) *Service {
	return &Service{settings: s, level: LevelNone, lastLevel: LevelNone}
}

// Settings returns the current settings.
func (s *Service) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetSettings replaces the settings and clears the cooldown.
func (s *Service) SetSettings(st Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = st
	s.resetLocked()
}

// Level returns the level of the most recent Check.
func (s *Service) Level() Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// Check classifies speed (m/s) at now. ShouldAlert is true when the level
// is not none and either the cooldown since the last alert has elapsed or
// the level is above the last alerted level.
func (s *Service) Check(speed float64, now time.Time) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	level := classify(s.settings, speed)
	s.level = level
	if level == LevelNone {
		return Result{Level: level}
	}

	fire := s.lastAlert.IsZero() ||
		now.Sub(s.lastAlert) >= s.settings.Cooldown ||
		level.rank() > s.lastLevel.rank()
	if fire {
		s.lastAlert = now
		s.lastLevel = level
	}
	return Result{Level: level, ShouldAlert: fire}
}

// Reset clears the cooldown and level history.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Service) resetLocked() {
	s.level = LevelNone
	s.lastAlert = time.Time{}
	s.lastLevel = LevelNone
}

func classify(st Settings, speed float64) Level {
	if !st.Enabled || speed <= 0 {
		return LevelNone
	}
	if st.Limit <= 0 || speed >= st.Limit {
		return LevelExceeded
	}
	if speed >= st.Limit*st.WarningThreshold {
		return LevelWarning
	}
	return LevelNone
}

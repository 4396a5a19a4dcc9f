// Package config loads the optional JSON tuning file that overrides the
// empirically tuned thresholds of the fusion pipeline.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sweeney/speed-fusion/internal/alert"
	"github.com/sweeney/speed-fusion/internal/fusion"
	"github.com/sweeney/speed-fusion/internal/gpio"
	"github.com/sweeney/speed-fusion/internal/imu"
	"github.com/sweeney/speed-fusion/internal/motion"
	"github.com/sweeney/speed-fusion/internal/steps"
)

// maxFileSize bounds the tuning file.
const maxFileSize = 1 * 1024 * 1024

// Tuning is the tuning file schema. Every field is optional; omitted
// fields keep their defaults. Durations are strings such as "500ms".
type Tuning struct {
	// Engine
	TickInterval    *string `json:"tick_interval,omitempty"`
	PublishInterval *string `json:"publish_interval,omitempty"`
	HistorySize     *int    `json:"history_size,omitempty"`
	MailboxSize     *int    `json:"mailbox_size,omitempty"`

	// State machine
	VehicleMinSpeed      *float64 `json:"vehicle_min_speed,omitempty"`
	RunningMinSpeed      *float64 `json:"running_min_speed,omitempty"`
	RunningStepFrequency *float64 `json:"running_step_frequency,omitempty"`
	VehicleStickyWindow  *string  `json:"vehicle_sticky_window,omitempty"`
	PositionTimeout      *string  `json:"position_timeout,omitempty"`
	VehicleDeadZone      *float64 `json:"vehicle_dead_zone,omitempty"`

	// Dead reckoning
	DeadReckoningDecay       *float64 `json:"dead_reckoning_decay,omitempty"`
	DeadReckoningMaxDuration *string  `json:"dead_reckoning_max_duration,omitempty"`

	// Distance
	MaxVehicleStep *float64 `json:"max_vehicle_step,omitempty"`
	MaxFootStep    *float64 `json:"max_foot_step,omitempty"`

	// Step estimator
	StepBufferSize *int    `json:"step_buffer_size,omitempty"`
	StepMinSteps   *int    `json:"step_min_steps,omitempty"`
	StepStaleAfter *string `json:"step_stale_after,omitempty"`

	// Motion classifier
	GravityAlpha          *float64 `json:"gravity_alpha,omitempty"`
	StationaryMaxVariance *float64 `json:"stationary_max_variance,omitempty"`
	VehicleMaxVariance    *float64 `json:"vehicle_max_variance,omitempty"`
	ClassifierDebounce    *int     `json:"classifier_debounce,omitempty"`

	// Hardware
	StepDebounce     *string `json:"step_debounce,omitempty"`
	StepMinInterval  *string `json:"step_min_interval,omitempty"`
	MotionInterval   *string `json:"motion_interval,omitempty"`
	PressureInterval *string `json:"pressure_interval,omitempty"`

	// Alerts
	AlertWarningThreshold *float64 `json:"alert_warning_threshold,omitempty"`
	AlertCooldown         *string  `json:"alert_cooldown,omitempty"`
}

// Settings is the fully resolved configuration of every tunable component.
type Settings struct {
	Fusion fusion.Config
	Steps  steps.Config
	Motion motion.Config
	GPIO   gpio.Config
	IMU    imu.Config
	Alert  alert.Settings
}

// Defaults returns the built-in defaults of every component.
func Defaults() Settings {
	return Settings{
		Fusion: fusion.DefaultConfig(),
		Steps:  steps.DefaultConfig(),
		Motion: motion.DefaultConfig(),
		GPIO:   gpio.DefaultConfig(),
		IMU:    imu.DefaultConfig(),
		Alert:  alert.DefaultSettings(),
	}
}

// Load reads and validates a tuning file. The path must end in .json and
// the file must be at most 1 MB.
func Load(path string) (*Tuning, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("tuning file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("stat tuning file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("tuning file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read tuning file: %w", err)
	}

	t := &Tuning{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("parse tuning JSON: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tuning: %w", err)
	}
	return t, nil
}

// Resolve loads path over the defaults. An empty path returns the defaults.
func Resolve(path string) (Settings, error) {
	s := Defaults()
	if path == "" {
		return s, nil
	}
	t, err := Load(path)
	if err != nil {
		return Settings{}, err
	}
	t.Apply(&s)
	return s, nil
}

type check struct {
	name string
	ok   bool
	want string
}

// Validate checks every set field.
func (t *Tuning) Validate() error {
	for _, d := range []struct {
		name string
		v    *string
	}{
		{"tick_interval", t.TickInterval},
		{"publish_interval", t.PublishInterval},
		{"vehicle_sticky_window", t.VehicleStickyWindow},
		{"position_timeout", t.PositionTimeout},
		{"dead_reckoning_max_duration", t.DeadReckoningMaxDuration},
		{"step_stale_after", t.StepStaleAfter},
		{"step_debounce", t.StepDebounce},
		{"step_min_interval", t.StepMinInterval},
		{"motion_interval", t.MotionInterval},
		{"pressure_interval", t.PressureInterval},
		{"alert_cooldown", t.AlertCooldown},
	} {
		if d.v == nil {
			continue
		}
		v, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, *d.v, err)
		}
		if v < 0 || (v == 0 && d.name != "step_debounce" && d.name != "alert_cooldown") {
			return fmt.Errorf("%s must be positive, got %s", d.name, v)
		}
	}

	checks := []check{
		{"history_size", t.HistorySize == nil || *t.HistorySize > 0, "> 0"},
		{"mailbox_size", t.MailboxSize == nil || *t.MailboxSize > 0, "> 0"},
		{"vehicle_min_speed", t.VehicleMinSpeed == nil || *t.VehicleMinSpeed > 0, "> 0"},
		{"running_min_speed", t.RunningMinSpeed == nil || *t.RunningMinSpeed > 0, "> 0"},
		{"running_step_frequency", t.RunningStepFrequency == nil || *t.RunningStepFrequency > 0, "> 0"},
		{"vehicle_dead_zone", t.VehicleDeadZone == nil || *t.VehicleDeadZone >= 0, ">= 0"},
		{"dead_reckoning_decay", t.DeadReckoningDecay == nil || (*t.DeadReckoningDecay > 0 && *t.DeadReckoningDecay <= 1), "in (0, 1]"},
		{"max_vehicle_step", t.MaxVehicleStep == nil || *t.MaxVehicleStep > 0, "> 0"},
		{"max_foot_step", t.MaxFootStep == nil || *t.MaxFootStep > 0, "> 0"},
		{"step_buffer_size", t.StepBufferSize == nil || *t.StepBufferSize >= 2, ">= 2"},
		{"step_min_steps", t.StepMinSteps == nil || *t.StepMinSteps >= 2, ">= 2"},
		{"gravity_alpha", t.GravityAlpha == nil || (*t.GravityAlpha >= 0 && *t.GravityAlpha < 1), "in [0, 1)"},
		{"stationary_max_variance", t.StationaryMaxVariance == nil || *t.StationaryMaxVariance > 0, "> 0"},
		{"vehicle_max_variance", t.VehicleMaxVariance == nil || *t.VehicleMaxVariance > 0, "> 0"},
		{"classifier_debounce", t.ClassifierDebounce == nil || *t.ClassifierDebounce >= 1, ">= 1"},
		{"alert_warning_threshold", t.AlertWarningThreshold == nil || (*t.AlertWarningThreshold > 0 && *t.AlertWarningThreshold <= 1), "in (0, 1]"},
	}
	for _, c := range checks {
		if !c.ok {
			return fmt.Errorf("%s must be %s", c.name, c.want)
		}
	}

	if t.StepBufferSize != nil && t.StepMinSteps != nil && *t.StepMinSteps > *t.StepBufferSize {
		return fmt.Errorf("step_min_steps (%d) exceeds step_buffer_size (%d)", *t.StepMinSteps, *t.StepBufferSize)
	}
	return nil
}

// Apply overlays the set fields onto s. t must have passed Validate.
func (t *Tuning) Apply(s *Settings) {
	if t == nil {
		return
	}
	setDur(&s.Fusion.TickInterval, t.TickInterval)
	setDur(&s.Fusion.PublishInterval, t.PublishInterval)
	setInt(&s.Fusion.HistorySize, t.HistorySize)
	setInt(&s.Fusion.MailboxSize, t.MailboxSize)

	setFloat(&s.Fusion.VehicleMinSpeed, t.VehicleMinSpeed)
	setFloat(&s.Fusion.RunningMinSpeed, t.RunningMinSpeed)
	setFloat(&s.Fusion.RunningStepFrequency, t.RunningStepFrequency)
	setDur(&s.Fusion.VehicleStickyWindow, t.VehicleStickyWindow)
	setDur(&s.Fusion.PositionTimeout, t.PositionTimeout)
	setFloat(&s.Fusion.VehicleDeadZone, t.VehicleDeadZone)

	setFloat(&s.Fusion.DeadReckoningDecay, t.DeadReckoningDecay)
	setDur(&s.Fusion.DeadReckoningMaxDuration, t.DeadReckoningMaxDuration)

	setFloat(&s.Fusion.MaxVehicleStep, t.MaxVehicleStep)
	setFloat(&s.Fusion.MaxFootStep, t.MaxFootStep)

	setInt(&s.Steps.BufferSize, t.StepBufferSize)
	setInt(&s.Steps.MinSteps, t.StepMinSteps)
	setDur(&s.Steps.StaleAfter, t.StepStaleAfter)

	setFloat(&s.Motion.GravityAlpha, t.GravityAlpha)
	setFloat(&s.Motion.StationaryMaxVariance, t.StationaryMaxVariance)
	setFloat(&s.Motion.VehicleMaxVariance, t.VehicleMaxVariance)
	setInt(&s.Motion.Debounce, t.ClassifierDebounce)

	setDur(&s.GPIO.Debounce, t.StepDebounce)
	setDur(&s.GPIO.MinInterval, t.StepMinInterval)
	setDur(&s.IMU.MotionInterval, t.MotionInterval)
	if t.MotionInterval != nil && s.IMU.MotionInterval > 0 {
		s.Motion.SampleRateHz = float64(time.Second) / float64(s.IMU.MotionInterval)
	}
	setDur(&s.IMU.PressureInterval, t.PressureInterval)

	setFloat(&s.Alert.WarningThreshold, t.AlertWarningThreshold)
	setDur(&s.Alert.Cooldown, t.AlertCooldown)
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDur(dst *time.Duration, v *string) {
	if v == nil {
		return
	}
	if d, err := time.ParseDuration(*v); err == nil {
		*dst = d
	}
}

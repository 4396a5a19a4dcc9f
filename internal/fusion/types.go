// Package fusion fuses positioning, step and motion inputs into one
// continuous speed, distance and confidence estimate.
//
// Fuser is the pure core: it has no goroutines and takes time as an
// argument. Engine owns a Fuser for one tracking session and serializes
// every sample and timer tick through a single loop goroutine.
package fusion

import (
	"time"

	"github.com/sweeney/speed-fusion/internal/sensor"
)

// State is the engine's motion state.
type State string

const (
	Stationary    State = "stationary"
	Walking       State = "walking"
	Running       State = "running"
	Vehicle       State = "vehicle"
	DeadReckoning State = "gps_dead_reckoning"
)

// Confidence grades the current speed estimate.
type Confidence string

const (
	Low    Confidence = "low"
	Medium Confidence = "medium"
	High   Confidence = "high"
)

// Source names the input dominating the current speed estimate.
type Source string

const (
	SourceAccelerometer Source = "accelerometer"
	SourcePedometer     Source = "pedometer"
	SourceGPS           Source = "gps"
	SourceFused         Source = "fused"
	SourceDeadReckoning Source = "dead_reckoning"
)

// Snapshot is a point-in-time view of the session. It is a value type;
// SpeedHistory is a copy.
type Snapshot struct {
	CurrentSpeed  float64 // m/s
	AverageSpeed  float64
	MaxSpeed      float64
	TotalDistance float64 // meters
	TripDuration  time.Duration
	SpeedHistory  []float64
	Confidence    Confidence
	PrimarySource Source
	MotionState   State
	GPSAccuracy   *float64 // nil before the first fix
	StepFrequency float64
	SensorHealth  sensor.Health
}

// TripSummary is the final snapshot of a stopped session.
type TripSummary struct {
	Snapshot
	StartTime time.Time
	EndTime   time.Time
}

// Noise is a pair of smoothing filter parameters.
type Noise struct {
	Q float64 // process noise
	R float64 // measurement noise
}

// GPSWeight maps a positioning accuracy bound to a blend weight.
type GPSWeight struct {
	MaxAccuracy float64 // exclusive, meters
	Weight      float64
}

// FootProfile parameterizes the walking and running speed blend.
type FootProfile struct {
	InitialGuess   float64 // m/s before any source is usable
	PedometerShare float64 // pedometer weight during the settling phase
	GPSBonus       float64 // added to the settled GPS weight
}

// Config holds every threshold of the state machine and speed estimators.
type Config struct {
	TickInterval    time.Duration
	PublishInterval time.Duration
	HistorySize     int
	MailboxSize     int

	// State machine.
	VehicleMinSpeed      float64       // above this on positioning alone: vehicle
	AmbiguousMaxSpeed    float64       // at or below this positioning speed is ambiguous
	StateMaxAccuracy     float64       // positioning must be better than this to decide alone
	RunningMinSpeed      float64       // positioning speed splitting walking from running
	PedestrianMaxSpeed   float64       // step and classifier rules need speed below this
	RunningStepFrequency float64       // steps/s counted as running
	RecentStep           time.Duration // a step within this is recent
	VehicleHoldSpeed     float64       // vehicle is kept at or above this speed
	VehicleStickyWindow  time.Duration // vibrating vehicle survives low speed this long
	VibrationMinVariance float64
	PositionTimeout      time.Duration // fix age treated as lost
	DerivedSpeedMaxGap   time.Duration // max fix gap for speed derived from positions

	// Walking and running.
	Phase1            time.Duration
	Phase2            time.Duration
	UsableAccuracy    float64
	MinPedometerSteps int
	GPSWeights        []GPSWeight
	FallbackGPSWeight float64
	MaxGPSWeight      float64
	Walking           FootProfile
	Running           FootProfile

	// Vehicle.
	VehicleMaxAccuracy float64
	VehicleDeadZone    float64

	// Dead reckoning.
	DeadReckoningDecay       float64 // per-second factor, compounded per tick
	DeadReckoningMaxDuration time.Duration

	// Distance.
	MaxVehicleStep     float64 // meters
	MaxFootStep        float64
	MinAltitudeChange  float64
	AltitudeCorrection bool

	// Filter tuning.
	TransitionNoise      Noise
	TransitionWindow     time.Duration
	StationaryNoise      Noise
	WalkingSettle        time.Duration
	WalkingNoise         Noise
	RunningNoise         Noise
	VehicleNoise         Noise
	VehicleBrakingNoise  Noise   // magnitude above VehicleBrakingAccel
	VehicleChangingNoise Noise   // magnitude above VehicleChangingAccel
	VehicleCruiseNoise   Noise   // magnitude below VehicleCruiseAccel
	VehicleBrakingAccel  float64 // m/s²
	VehicleChangingAccel float64
	VehicleCruiseAccel   float64
	DeadReckoningNoise   Noise
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:    500 * time.Millisecond,
		PublishInterval: time.Second,
		HistorySize:     60,
		MailboxSize:     256,

		VehicleMinSpeed:      6.0,
		AmbiguousMaxSpeed:    0.8,
		StateMaxAccuracy:     20,
		RunningMinSpeed:      3.0,
		PedestrianMaxSpeed:   3.0,
		RunningStepFrequency: 2.5,
		RecentStep:           2 * time.Second,
		VehicleHoldSpeed:     2.0,
		VehicleStickyWindow:  3 * time.Second,
		VibrationMinVariance: 0.08,
		PositionTimeout:      3 * time.Second,
		DerivedSpeedMaxGap:   10 * time.Second,

		Phase1:            300 * time.Millisecond,
		Phase2:            2 * time.Second,
		UsableAccuracy:    15,
		MinPedometerSteps: 3,
		GPSWeights: []GPSWeight{
			{MaxAccuracy: 5, Weight: 0.5},
			{MaxAccuracy: 10, Weight: 0.4},
			{MaxAccuracy: 15, Weight: 0.3},
		},
		FallbackGPSWeight: 0.1,
		MaxGPSWeight:      0.5,
		Walking:           FootProfile{InitialGuess: 1.2, PedometerShare: 0.8},
		Running:           FootProfile{InitialGuess: 2.8, PedometerShare: 0.7, GPSBonus: 0.1},

		VehicleMaxAccuracy: 30,
		VehicleDeadZone:    0.5,

		DeadReckoningDecay:       0.98,
		DeadReckoningMaxDuration: 60 * time.Second,

		MaxVehicleStep:     500,
		MaxFootStep:        100,
		MinAltitudeChange:  2,
		AltitudeCorrection: true,

		TransitionNoise:      Noise{Q: 0.8, R: 0.15},
		TransitionWindow:     time.Second,
		StationaryNoise:      Noise{Q: 0.01, R: 0.5},
		WalkingSettle:        3 * time.Second,
		WalkingNoise:         Noise{Q: 0.05, R: 0.2},
		RunningNoise:         Noise{Q: 0.08, R: 0.2},
		VehicleNoise:         Noise{Q: 0.3, R: 0.1},
		VehicleBrakingNoise:  Noise{Q: 0.6, R: 0.1},
		VehicleChangingNoise: Noise{Q: 0.5, R: 0.1},
		VehicleCruiseNoise:   Noise{Q: 0.03, R: 0.1},
		VehicleBrakingAccel:  1.5,
		VehicleChangingAccel: 1.0,
		VehicleCruiseAccel:   0.3,
		DeadReckoningNoise:   Noise{Q: 0.3, R: 0.8},
	}
}

package fusion

import (
	"math"
	"time"

	"github.com/sweeney/speed-fusion/internal/geo"
	"github.com/sweeney/speed-fusion/internal/kalman"
	"github.com/sweeney/speed-fusion/internal/sensor"
	"github.com/sweeney/speed-fusion/internal/steps"
)

// Fuser holds the mutable state of one session. It is not safe for
// concurrent use; Engine serializes access.
type Fuser struct {
	cfg    Config
	filter *kalman.Filter
	steps  *steps.Estimator

	state       State
	stateSince  time.Time
	justChanged bool
	confidence  Confidence
	source      Source
	lastFused   float64

	speedSum   float64
	speedCount int
	maxSpeed   float64
	distance   float64
	history    []float64

	lastPos       sensor.Position
	lastPosAt     time.Time // receive time of lastPos
	lastPosAlt    float64   // barometric altitude change when lastPos arrived
	havePos       bool
	lowSpeedSince time.Time

	motion             sensor.Motion
	motionHealth       sensor.MotionHealth
	pedometerAvailable bool
	lastPedDistance    float64

	drStart time.Time
	drSpeed float64
}

// NewFuser creates a Fuser in the stationary state.
func NewFuser(cfg Config, stepCfg steps.Config) *Fuser {
	f := &Fuser{
		cfg:   cfg,
		steps: steps.New(stepCfg),
	}
	f.Reset()
	return f
}

// Reset discards all session state.
func (f *Fuser) Reset() {
	f.filter = kalman.NewDefault()
	f.steps.Reset()

	f.state = Stationary
	f.stateSince = time.Time{}
	f.justChanged = false
	f.confidence = Low
	f.source = SourceGPS
	f.lastFused = 0

	f.speedSum = 0
	f.speedCount = 0
	f.maxSpeed = 0
	f.distance = 0
	f.history = make([]float64, 0, f.cfg.HistorySize)

	f.lastPos = sensor.Position{}
	f.lastPosAt = time.Time{}
	f.lastPosAlt = 0
	f.havePos = false
	f.lowSpeedSince = time.Time{}

	f.motion = sensor.Motion{}
	f.motionHealth = sensor.MotionHealth{}
	f.pedometerAvailable = false
	f.lastPedDistance = 0

	f.drStart = time.Time{}
	f.drSpeed = 0
}

// Begin marks the start of a session at now.
func (f *Fuser) Begin(now time.Time) {
	f.stateSince = now
}

// State returns the current motion state.
func (f *Fuser) State() State { return f.state }

// SetMotionHealth records the motion sensors' liveness.
func (f *Fuser) SetMotionHealth(h sensor.MotionHealth) { f.motionHealth = h }

// SetPedometerAvailable records whether a step source exists.
func (f *Fuser) SetPedometerAvailable(ok bool) { f.pedometerAvailable = ok }

// OnMotion caches the latest classifier output.
func (f *Fuser) OnMotion(m sensor.Motion) { f.motion = m }

// OnStep records a step. Platform cumulative distance is added to the trip
// while on foot.
func (f *Fuser) OnStep(s sensor.Step, now time.Time) {
	ev := f.steps.OnStep(s, now)
	f.pedometerAvailable = true

	if ev.Distance <= 0 {
		return
	}
	if f.onFoot() && f.lastPedDistance > 0 && ev.Distance > f.lastPedDistance {
		f.distance += ev.Distance - f.lastPedDistance
	}
	f.lastPedDistance = ev.Distance
}

// OnPosition records a fix, accumulates distance and runs one fusion step.
func (f *Fuser) OnPosition(p sensor.Position, now time.Time) {
	if p.Timestamp.IsZero() {
		p.Timestamp = now
	}
	if !p.HasSpeed() && f.havePos {
		if s, ok := geo.SpeedBetween(f.lastPos.Latitude, f.lastPos.Longitude, f.lastPos.Timestamp,
			p.Latitude, p.Longitude, p.Timestamp, f.cfg.DerivedSpeedMaxGap); ok {
			p.Speed = s
		}
	}

	alt := f.motion.AltitudeChange
	resuming := f.state == DeadReckoning
	if f.havePos && !resuming {
		f.accumulate(f.lastPos, p, alt-f.lastPosAlt)
	}
	f.lastPos = p
	f.lastPosAt = now
	f.lastPosAlt = alt
	f.havePos = true

	if resuming {
		next := f.nextState(now)
		if next == DeadReckoning {
			next = f.classifierFallback()
		}
		f.enter(next, now)
	}
	f.run(now)
}

// Tick runs one fusion step without new input.
func (f *Fuser) Tick(now time.Time) {
	f.run(now)
}

func (f *Fuser) onFoot() bool {
	return f.state == Walking || f.state == Running
}

func (f *Fuser) accumulate(prev, cur sensor.Position, altDelta float64) {
	d := geo.DistanceM(prev.Latitude, prev.Longitude, cur.Latitude, cur.Longitude)
	switch f.state {
	case Vehicle:
		if d >= f.cfg.MaxVehicleStep {
			return
		}
		if f.cfg.AltitudeCorrection && math.Abs(altDelta) > f.cfg.MinAltitudeChange {
			d = geo.HorizontalM(d, altDelta)
		}
		f.distance += d
	case Walking, Running:
		if f.steps.Distance() > 0 {
			return
		}
		if d < f.cfg.MaxFootStep {
			f.distance += d
		}
	}
}

func (f *Fuser) run(now time.Time) {
	if f.state != DeadReckoning {
		if next := f.nextState(now); next != f.state {
			f.enter(next, now)
		}
	}
	changed := f.justChanged
	f.justChanged = false

	raw, conf, src, hardZero := f.compute(now)
	f.tune(now, changed)

	fused := 0.0
	if hardZero {
		f.filter.Reset(0)
	} else {
		fused = f.filter.Filter(math.Max(0, raw))
	}
	if fused < 0 || math.IsNaN(fused) || math.IsInf(fused, 0) {
		f.filter.Reset(0)
		fused = 0
	}

	f.lastFused = fused
	f.confidence = conf
	f.source = src

	f.speedSum += fused
	f.speedCount++
	if fused > f.maxSpeed {
		f.maxSpeed = fused
	}
	if len(f.history) == f.cfg.HistorySize {
		copy(f.history, f.history[1:])
		f.history = f.history[:len(f.history)-1]
	}
	f.history = append(f.history, fused)
}

func (f *Fuser) enter(next State, now time.Time) {
	if next == DeadReckoning {
		f.drStart = now
		f.drSpeed = f.lastFused
	}
	f.state = next
	f.stateSince = now
	f.lowSpeedSince = time.Time{}
	f.justChanged = true
}

// positionSpeed returns the latest fix's speed if the fix is fresh and
// carries one.
func (f *Fuser) positionSpeed(now time.Time) (speed, accuracy float64, ok bool) {
	if !f.havePos || now.Sub(f.lastPosAt) > f.cfg.PositionTimeout || !f.lastPos.HasSpeed() {
		return 0, 0, false
	}
	return f.lastPos.Speed, f.lastPos.Accuracy, true
}

func (f *Fuser) positionLost(now time.Time) bool {
	return f.havePos && now.Sub(f.lastPosAt) > f.cfg.PositionTimeout
}

func (f *Fuser) recentStep(now time.Time) bool {
	last, ok := f.steps.LastStep()
	return ok && now.Sub(last) <= f.cfg.RecentStep
}

// classifierState returns the classifier label, or "" when the
// accelerometer is not live.
func (f *Fuser) classifierState() sensor.MotionState {
	if !f.motionHealth.Accelerometer {
		return ""
	}
	return f.motion.State
}

func (f *Fuser) classifierFallback() State {
	switch f.classifierState() {
	case sensor.Walking:
		return Walking
	case sensor.Running:
		return Running
	case sensor.Vehicle:
		return Vehicle
	}
	return Stationary
}

func (f *Fuser) vibrating() bool {
	return f.motionHealth.Accelerometer && f.motion.Variance >= f.cfg.VibrationMinVariance
}

// nextState evaluates the transition rules. Positioning speed decides when
// it is fresh and accurate; otherwise steps and the classifier break the
// tie, and anything unresolved holds the current state.
func (f *Fuser) nextState(now time.Time) State {
	if f.state == Vehicle && f.positionLost(now) {
		return DeadReckoning
	}

	speed, accuracy, known := f.positionSpeed(now)
	recent := f.recentStep(now)
	cls := f.classifierState()

	if known && speed > f.cfg.VehicleMinSpeed {
		return Vehicle
	}

	if f.state == Vehicle {
		switch {
		case known && speed >= f.cfg.VehicleHoldSpeed:
			f.lowSpeedSince = time.Time{}
			if !recent {
				return Vehicle
			}
		case known:
			if f.lowSpeedSince.IsZero() {
				f.lowSpeedSince = now
			}
			if !recent {
				if f.vibrating() && now.Sub(f.lowSpeedSince) < f.cfg.VehicleStickyWindow {
					return Vehicle
				}
				return Stationary
			}
		}
	}

	if known && speed > f.cfg.AmbiguousMaxSpeed && accuracy < f.cfg.StateMaxAccuracy {
		if speed > f.cfg.RunningMinSpeed {
			return Running
		}
		return Walking
	}

	slow := !known || speed < f.cfg.PedestrianMaxSpeed
	switch {
	case recent && (cls == sensor.Running || f.steps.StepFrequency(now) > f.cfg.RunningStepFrequency):
		return Running
	case recent && slow:
		return Walking
	case cls == sensor.Walking && slow:
		return Walking
	case cls == sensor.Vehicle && !recent && !known:
		return Vehicle
	case (cls == sensor.Stationary || cls == "") && !recent && (!known || speed <= f.cfg.AmbiguousMaxSpeed):
		return Stationary
	}
	return f.state
}

// compute returns the unfiltered speed for the current state with the
// confidence and source of the branch that produced it. hardZero asks the
// caller to reset the filter instead of filtering.
func (f *Fuser) compute(now time.Time) (speed float64, conf Confidence, src Source, hardZero bool) {
	switch f.state {
	case Walking:
		speed, conf, src = f.footSpeed(now, f.cfg.Walking)
		return speed, conf, src, false
	case Running:
		speed, conf, src = f.footSpeed(now, f.cfg.Running)
		return speed, conf, src, false
	case Vehicle:
		return f.vehicleSpeed(now)
	case DeadReckoning:
		speed, conf, src = f.deadReckoningSpeed(now)
		return speed, conf, src, false
	}
	return 0, High, SourceAccelerometer, true
}

// footSpeed blends pedometer and positioning speed by time since the state
// was entered. Without a pedometer every phase reduces to positioning only.
func (f *Fuser) footSpeed(now time.Time, p FootProfile) (float64, Confidence, Source) {
	elapsed := now.Sub(f.stateSince)
	gps, accuracy, gpsOK := f.positionSpeed(now)
	usable := gpsOK && accuracy < f.cfg.UsableAccuracy

	var ped float64
	pedOK := false
	if f.pedometerAvailable {
		ped = f.steps.EstimatedSpeed(now)
		pedOK = ped > 0 && f.steps.StepCount() >= f.cfg.MinPedometerSteps
	}

	gpsConf := Low
	if usable {
		gpsConf = Medium
	}

	switch {
	case elapsed < f.cfg.Phase1:
		if usable {
			return gps, Medium, SourceGPS
		}
	case elapsed < f.cfg.Phase2:
		switch {
		case pedOK && usable:
			return p.PedometerShare*ped + (1-p.PedometerShare)*gps, Medium, SourceFused
		case pedOK:
			return ped, Medium, SourcePedometer
		case gpsOK:
			return gps, gpsConf, SourceGPS
		}
	default:
		switch {
		case pedOK && gpsOK:
			w := math.Min(f.cfg.MaxGPSWeight, f.gpsWeight(accuracy)+p.GPSBonus)
			return (1-w)*ped + w*gps, High, SourceFused
		case pedOK:
			return ped, High, SourcePedometer
		case gpsOK:
			return gps, gpsConf, SourceGPS
		}
	}
	return p.InitialGuess, Low, SourceAccelerometer
}

func (f *Fuser) gpsWeight(accuracy float64) float64 {
	for _, w := range f.cfg.GPSWeights {
		if accuracy < w.MaxAccuracy {
			return w.Weight
		}
	}
	return f.cfg.FallbackGPSWeight
}

func (f *Fuser) vehicleSpeed(now time.Time) (float64, Confidence, Source, bool) {
	speed, accuracy, ok := f.positionSpeed(now)
	if !ok || accuracy > f.cfg.VehicleMaxAccuracy {
		return f.lastFused, Low, SourceGPS, false
	}
	if speed < f.cfg.VehicleDeadZone {
		return 0, High, SourceGPS, true
	}
	return speed, High, SourceGPS, false
}

func (f *Fuser) deadReckoningSpeed(now time.Time) (float64, Confidence, Source) {
	elapsed := now.Sub(f.drStart)
	if elapsed >= f.cfg.DeadReckoningMaxDuration {
		f.drSpeed = 0
	} else {
		f.drSpeed *= math.Pow(f.cfg.DeadReckoningDecay, elapsed.Seconds())
	}
	f.distance += f.drSpeed * f.cfg.TickInterval.Seconds()
	return f.drSpeed, Low, SourceDeadReckoning
}

func (f *Fuser) tune(now time.Time, changed bool) {
	since := now.Sub(f.stateSince)
	n := f.cfg.TransitionNoise
	if !changed && since >= f.cfg.TransitionWindow {
		switch f.state {
		case Stationary:
			n = f.cfg.StationaryNoise
		case Walking:
			if since > f.cfg.WalkingSettle {
				n = f.cfg.WalkingNoise
			}
		case Running:
			n = f.cfg.RunningNoise
		case Vehicle:
			n = f.vehicleNoise()
		case DeadReckoning:
			n = f.cfg.DeadReckoningNoise
		}
	}
	f.filter.Tune(n.Q, n.R)
}

func (f *Fuser) vehicleNoise() Noise {
	mag := 0.0
	if f.motionHealth.Accelerometer {
		mag = f.motion.Magnitude
	}
	switch {
	case mag > f.cfg.VehicleBrakingAccel:
		return f.cfg.VehicleBrakingNoise
	case mag > f.cfg.VehicleChangingAccel:
		return f.cfg.VehicleChangingNoise
	case mag < f.cfg.VehicleCruiseAccel:
		return f.cfg.VehicleCruiseNoise
	}
	return f.cfg.VehicleNoise
}

// Health returns the liveness of every input.
func (f *Fuser) Health(now time.Time) sensor.Health {
	return sensor.Health{
		GPS:           f.havePos && now.Sub(f.lastPosAt) <= f.cfg.PositionTimeout,
		Accelerometer: f.motionHealth.Accelerometer,
		Gyroscope:     f.motionHealth.Gyroscope,
		Pedometer:     f.pedometerAvailable,
		Barometer:     f.motionHealth.Barometer,
	}
}

// Snapshot returns the session view at now. TripDuration is left zero;
// Engine owns session timing.
func (f *Fuser) Snapshot(now time.Time) Snapshot {
	s := Snapshot{
		CurrentSpeed:  f.lastFused,
		MaxSpeed:      f.maxSpeed,
		TotalDistance: f.distance,
		SpeedHistory:  append(make([]float64, 0, len(f.history)), f.history...),
		Confidence:    f.confidence,
		PrimarySource: f.source,
		MotionState:   f.state,
		StepFrequency: f.steps.StepFrequency(now),
		SensorHealth:  f.Health(now),
	}
	if f.speedCount > 0 {
		s.AverageSpeed = f.speedSum / float64(f.speedCount)
	}
	if f.havePos {
		acc := f.lastPos.Accuracy
		s.GPSAccuracy = &acc
	}
	return s
}

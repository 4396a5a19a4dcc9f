package fusion

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/speed-fusion/internal/sensor"
	"github.com/sweeney/speed-fusion/internal/steps"
	"github.com/sweeney/speed-fusion/internal/timeutil"
)

type msgKind int

const (
	msgPosition msgKind = iota
	msgStep
	msgMotion
)

type message struct {
	kind   msgKind
	pos    sensor.Position
	step   sensor.Step
	motion sensor.Motion
}

// Engine runs one tracking session at a time. Source callbacks only
// enqueue into a bounded mailbox; a single loop goroutine applies
// mailbox messages and timer ticks to the Fuser one at a time.
type Engine struct {
	cfg       Config
	clock     timeutil.Clock
	positions sensor.PositionSource
	stepSrc   sensor.StepSource
	motionSrc sensor.MotionSource

	dropped atomic.Uint64
	gated   atomic.Bool // mirrors paused for the enqueue path

	mu          sync.Mutex
	fuser       *Fuser
	running     bool
	paused      bool
	startTime   time.Time
	endTime     time.Time
	pauseStart  time.Time
	pausedTotal time.Duration
	callback    func(Snapshot)
	stop        chan struct{}
	done        chan struct{}
}

// NewEngine creates an idle Engine. Pass sensor.NoPosition, sensor.NoSteps
// or sensor.NoMotion for inputs the device lacks.
func NewEngine(cfg Config, stepCfg steps.Config, clock timeutil.Clock, positions sensor.PositionSource, stepSrc sensor.StepSource, motionSrc sensor.MotionSource) *Engine {
	return &Engine{
		cfg:       cfg,
		clock:     clock,
		positions: positions,
		stepSrc:   stepSrc,
		motionSrc: motionSrc,
		fuser:     NewFuser(cfg, stepCfg),
	}
}

// Start resets the session, subscribes to every source and starts the
// fusion and publish timers. cb receives every published snapshot on the
// engine goroutine and must not call Stop. Start is a no-op while running.
func (e *Engine) Start(cb func(Snapshot)) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.resetLocked(e.clock.Now())
	e.callback = cb
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	stop, done := e.stop, e.done
	inbox := make(chan message, e.cfg.MailboxSize)
	fusionTick := e.clock.NewTicker(e.cfg.TickInterval)
	publishTick := e.clock.NewTicker(e.cfg.PublishInterval)
	e.mu.Unlock()

	enqueue := func(m message) {
		if e.gated.Load() {
			return
		}
		select {
		case inbox <- m:
		default:
			e.dropped.Add(1)
		}
	}

	if err := e.positions.Start(func(p sensor.Position) {
		enqueue(message{kind: msgPosition, pos: p})
	}); err != nil {
		log.Printf("fusion: positioning unavailable: %v", err)
	}
	stepErr := e.stepSrc.Start(func(s sensor.Step) {
		enqueue(message{kind: msgStep, step: s})
	})
	if stepErr != nil {
		log.Printf("fusion: step detector unavailable: %v", stepErr)
	}
	if err := e.motionSrc.Start(func(m sensor.Motion) {
		enqueue(message{kind: msgMotion, motion: m})
	}); err != nil {
		log.Printf("fusion: motion sensors unavailable: %v", err)
	}

	e.mu.Lock()
	e.fuser.SetPedometerAvailable(stepErr == nil && e.stepSrc.Available())
	e.fuser.SetMotionHealth(e.motionSrc.Health())
	e.mu.Unlock()

	go e.loop(inbox, stop, done, fusionTick, publishTick)
}

func (e *Engine) loop(inbox <-chan message, stop <-chan struct{}, done chan<- struct{}, fusionTick, publishTick timeutil.Ticker) {
	defer close(done)
	defer fusionTick.Stop()
	defer publishTick.Stop()

	for {
		select {
		case <-stop:
			return
		default:
		}

		select {
		case <-stop:
			return
		case m := <-inbox:
			e.handle(m)
		case <-fusionTick.C():
			e.tick()
		case <-publishTick.C():
			e.publish()
		}
	}
}

func (e *Engine) handle(m message) {
	e.mu.Lock()
	if !e.running || e.paused {
		e.mu.Unlock()
		return
	}
	now := e.clock.Now()
	before := e.fuser.State()

	switch m.kind {
	case msgMotion:
		e.fuser.OnMotion(m.motion)
		e.mu.Unlock()
		return
	case msgStep:
		e.fuser.OnStep(m.step, now)
		e.mu.Unlock()
		return
	case msgPosition:
		e.fuser.OnPosition(m.pos, now)
	}

	logTransition(before, e.fuser.State())
	snap, cb := e.snapshotLocked(now), e.callback
	e.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}

func (e *Engine) tick() {
	e.mu.Lock()
	if !e.running || e.paused {
		e.mu.Unlock()
		return
	}
	now := e.clock.Now()
	before := e.fuser.State()
	e.fuser.SetMotionHealth(e.motionSrc.Health())
	e.fuser.Tick(now)
	logTransition(before, e.fuser.State())
	snap, cb := e.snapshotLocked(now), e.callback
	e.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}

func (e *Engine) publish() {
	e.mu.Lock()
	if !e.running || e.paused {
		e.mu.Unlock()
		return
	}
	snap, cb := e.snapshotLocked(e.clock.Now()), e.callback
	e.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}

func logTransition(from, to State) {
	if from != to {
		log.Printf("fusion: state %s -> %s", from, to)
	}
}

// Stop ends the session: the loop exits, no callback runs afterwards and
// every source is unsubscribed. It returns nil when not running.
func (e *Engine) Stop() *TripSummary {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	stop, done := e.stop, e.done
	e.mu.Unlock()

	close(stop)
	<-done

	if err := e.positions.Stop(); err != nil {
		log.Printf("fusion: stop positioning: %v", err)
	}
	if err := e.stepSrc.Stop(); err != nil {
		log.Printf("fusion: stop step detector: %v", err)
	}
	if err := e.motionSrc.Stop(); err != nil {
		log.Printf("fusion: stop motion sensors: %v", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	if e.paused {
		e.pausedTotal += now.Sub(e.pauseStart)
		e.paused = false
		e.gated.Store(false)
	}
	e.endTime = now
	e.callback = nil
	e.fuser.SetMotionHealth(e.motionSrc.Health())

	if n := e.dropped.Load(); n > 0 {
		log.Printf("fusion: dropped %d samples with a full mailbox", n)
	}
	return &TripSummary{
		Snapshot:  e.snapshotLocked(now),
		StartTime: e.startTime,
		EndTime:   now,
	}
}

// Pause stops consuming samples and ticks. Accumulated statistics are kept;
// samples arriving while paused are dropped.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.paused {
		return
	}
	e.paused = true
	e.gated.Store(true)
	e.pauseStart = e.clock.Now()
}

// Resume continues a paused session.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || !e.paused {
		return
	}
	e.pausedTotal += e.clock.Now().Sub(e.pauseStart)
	e.paused = false
	e.gated.Store(false)
}

// Reset discards all session state. A running session restarts its trip
// clock at the current time.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked(e.clock.Now())
	if e.running {
		e.fuser.SetPedometerAvailable(e.stepSrc.Available())
		e.fuser.SetMotionHealth(e.motionSrc.Health())
	}
}

func (e *Engine) resetLocked(now time.Time) {
	e.fuser.Reset()
	if r, ok := e.motionSrc.(sensor.HeadingResetter); ok {
		r.ResetHeadingDelta()
	}
	e.paused = false
	e.gated.Store(false)
	e.pauseStart = time.Time{}
	e.pausedTotal = 0
	e.endTime = time.Time{}
	e.startTime = time.Time{}
	if e.running {
		e.startTime = now
		e.fuser.Begin(now)
	}
}

// Data returns the current snapshot.
func (e *Engine) Data() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(e.clock.Now())
}

// MotionState returns the current state.
func (e *Engine) MotionState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fuser.State()
}

// SensorHealth returns the liveness of every input.
func (e *Engine) SensorHealth() sensor.Health {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fuser.Health(e.clock.Now())
}

// Running reports whether a session is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Paused reports whether the active session is paused.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Dropped returns the number of samples lost to a full mailbox.
func (e *Engine) Dropped() uint64 {
	return e.dropped.Load()
}

func (e *Engine) snapshotLocked(now time.Time) Snapshot {
	s := e.fuser.Snapshot(now)
	s.TripDuration = e.durationLocked(now)
	return s
}

func (e *Engine) durationLocked(now time.Time) time.Duration {
	if e.startTime.IsZero() {
		return 0
	}
	end := now
	if !e.running && !e.endTime.IsZero() {
		end = e.endTime
	}
	paused := e.pausedTotal
	if e.paused {
		paused += end.Sub(e.pauseStart)
	}
	d := end.Sub(e.startTime) - paused
	if d < 0 {
		return 0
	}
	return d.Truncate(time.Second)
}

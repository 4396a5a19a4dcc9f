// Command speed-fusion fuses GPS, pedometer and motion sensors into a live
// speed estimate and publishes it to MQTT and a local status page.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/speed-fusion/internal/alert"
	"github.com/sweeney/speed-fusion/internal/config"
	"github.com/sweeney/speed-fusion/internal/fusion"
	"github.com/sweeney/speed-fusion/internal/gpio"
	"github.com/sweeney/speed-fusion/internal/gps"
	"github.com/sweeney/speed-fusion/internal/imu"
	"github.com/sweeney/speed-fusion/internal/motion"
	"github.com/sweeney/speed-fusion/internal/mqtt"
	"github.com/sweeney/speed-fusion/internal/sensor"
	"github.com/sweeney/speed-fusion/internal/status"
	"github.com/sweeney/speed-fusion/internal/timeutil"
	"github.com/sweeney/speed-fusion/internal/tripstore"
	"github.com/sweeney/speed-fusion/internal/units"
	"github.com/sweeney/speed-fusion/internal/web"
)

// Values of the -inputs flag.
const (
	inputHardware = "hardware"
	inputMQTT     = "mqtt"
)

type options struct {
	broker      string
	clientID    string
	heartbeat   time.Duration
	httpAddr    string
	inputs      string
	gpsPort     string
	gpsBaud     uint
	stepChip    string
	stepPin     int
	imuSPI      string
	imuCS       string
	baroBus     string
	tuning      string
	tripDB      string
	unit        string
	limit       float64
	printConfig bool
}

func main() {
	var o options
	flag.StringVar(&o.broker, "broker", "tcp://localhost:1883", "MQTT broker address (empty to disable)")
	flag.StringVar(&o.clientID, "client-id", "speed-fusion", "MQTT client ID")
	flag.DurationVar(&o.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	flag.StringVar(&o.httpAddr, "http", ":8080", "HTTP status address (empty to disable)")
	flag.StringVar(&o.inputs, "inputs", inputHardware, `Sensor inputs: "hardware" or "mqtt"`)
	flag.StringVar(&o.gpsPort, "gps-port", gps.DefaultConfig().Port, "GPS serial port (empty to disable)")
	flag.UintVar(&o.gpsBaud, "gps-baud", gps.DefaultConfig().Baud, "GPS baud rate")
	flag.StringVar(&o.stepChip, "step-chip", gpio.DefaultConfig().Chip, "GPIO chip for the pedometer line")
	flag.IntVar(&o.stepPin, "step-pin", gpio.PinStep, "BCM pin for pedometer pulses (-1 to disable)")
	flag.StringVar(&o.imuSPI, "imu-spi", imu.DefaultConfig().SPIDevice, "MPU9250 SPI device (empty to disable motion sensors)")
	flag.StringVar(&o.imuCS, "imu-cs", imu.DefaultConfig().CSPin, "MPU9250 chip-select pin")
	flag.StringVar(&o.baroBus, "baro-bus", "", "BMP280 I2C bus (empty for the first bus)")
	flag.StringVar(&o.tuning, "tuning", "", "Tuning file (.json)")
	flag.StringVar(&o.tripDB, "trip-db", "trips.db", "Trip history database (empty to disable)")
	flag.StringVar(&o.unit, "unit", string(units.KMH), "Display unit: kmh, mph, ms or knots")
	flag.Float64Var(&o.limit, "limit", 0, "Speed limit in the display unit (0 to disable alerts)")
	flag.BoolVar(&o.printConfig, "print-config", false, "Print the resolved configuration and exit")

	flag.Parse()

	if err := run(o); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// resolveSettings applies the tuning file and the hardware and alert flags.
func resolveSettings(o options) (config.Settings, units.Unit, error) {
	settings, err := config.Resolve(o.tuning)
	if err != nil {
		return config.Settings{}, "", fmt.Errorf("load tuning: %w", err)
	}
	unit, err := units.Parse(o.unit)
	if err != nil {
		return config.Settings{}, "", err
	}
	if o.limit < 0 {
		return config.Settings{}, "", fmt.Errorf("speed limit must be >= 0, got %v", o.limit)
	}

	settings.GPIO.Chip = o.stepChip
	settings.GPIO.Pin = o.stepPin
	settings.IMU.SPIDevice = o.imuSPI
	settings.IMU.CSPin = o.imuCS
	settings.IMU.I2CBus = o.baroBus
	if o.limit > 0 {
		settings.Alert.Enabled = true
		settings.Alert.Limit = unit.ToMS(o.limit)
	}
	return settings, unit, nil
}

func run(o options) error {
	settings, unit, err := resolveSettings(o)
	if err != nil {
		return err
	}

	if o.printConfig {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(settings)
	}

	// Initialize MQTT
	var publisher interface {
		mqtt.Publisher
		mqtt.ConnectionStatus
	} = mqtt.NopPublisher{}
	var realPub *mqtt.RealPublisher
	if o.broker != "" {
		realPub, err = mqtt.NewRealPublisher(o.broker, o.clientID)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		publisher = realPub
	}
	defer publisher.Close()

	// Trip history
	var store *tripstore.Store
	var trips web.TripLister
	if o.tripDB != "" {
		store, err = tripstore.Open(o.tripDB)
		if err != nil {
			return fmt.Errorf("open trip store: %w", err)
		}
		defer store.Close()
		trips = store
	}

	src, err := openSources(o.inputs, o.gpsPort, o.gpsBaud, settings, realPub)
	if err != nil {
		return err
	}
	defer src.close()

	engine := fusion.NewEngine(settings.Fusion, settings.Steps, timeutil.RealClock{}, src.positions, src.steps, src.motion)

	var limit float64
	if settings.Alert.Enabled {
		limit = settings.Alert.Limit
	}
	tracker := status.NewTracker(time.Now(), status.Config{
		HeartbeatMs: o.heartbeat.Milliseconds(),
		Broker:      o.broker,
		HTTPAddr:    o.httpAddr,
		Unit:        unit,
		SpeedLimit:  limit,
		TripDB:      o.tripDB,
		Inputs:      src.names,
	})

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	d := newDaemon(engine, publisher, publisher, tracker, alert.NewService(settings.Alert), unit, time.Now)
	d.classifier = src.motion.Classifier()
	if store != nil {
		d.store = store
	}

	// Start HTTP status server
	if o.httpAddr != "" {
		srv := web.New(o.httpAddr, tracker, trips)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		d.broadcast = srv.Broadcast
		log.Printf("http status server listening on %s", o.httpAddr)
	}

	log.Printf("started: inputs=%v broker=%s unit=%s limit=%s heartbeat=%v",
		src.names, o.broker, unit, units.FormatSpeed(limit, unit), o.heartbeat)

	var heartbeat <-chan time.Time
	if o.heartbeat > 0 {
		ticker := time.NewTicker(o.heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)

	return d.runLoop(heartbeat, sigCh)
}

// sources are the fusion inputs selected by the -inputs flag.
type sources struct {
	positions sensor.PositionSource
	steps     sensor.StepSource
	motion    *motion.Adapter
	names     []string
	closers   []func() error
}

func (s *sources) close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			log.Printf("close sensor: %v", err)
		}
	}
}

// openSources builds the fusion inputs. Missing hardware is logged and
// replaced by an unavailable source; the engine degrades around it.
func openSources(inputs, gpsPort string, gpsBaud uint, settings config.Settings, pub *mqtt.RealPublisher) (*sources, error) {
	src := &sources{positions: sensor.NoPosition{}, steps: sensor.NoSteps{}}
	var raw motion.RawSource = motion.NoRawSource{}

	switch inputs {
	case inputMQTT:
		if pub == nil {
			return nil, errors.New("mqtt inputs need a broker")
		}
		sub := pub.Subscriber()
		src.positions = sub.PositionSource()
		src.steps = sub.StepSource()
		raw = sub.RawSource()
		src.names = []string{inputMQTT}

	case inputHardware:
		if gpsPort != "" {
			src.positions = gps.NewReceiver(gps.Config{Port: gpsPort, Baud: gpsBaud})
			src.names = append(src.names, "gps")
		}
		if settings.GPIO.Pin >= 0 {
			w := gpio.NewRealWatcher(settings.GPIO)
			if w.Available() {
				src.steps = gpio.NewPedometer(w, settings.GPIO)
				src.names = append(src.names, "pedometer")
			} else {
				log.Printf("pedometer: %s not available, running without steps", settings.GPIO.Chip)
			}
		}
		if settings.IMU.SPIDevice != "" {
			dev, err := imu.Open(settings.IMU, timeutil.RealClock{})
			if err != nil {
				log.Printf("imu: %v, running without motion sensors", err)
			} else {
				raw = dev
				src.closers = append(src.closers, dev.Close)
				src.names = append(src.names, "imu")
			}
		}

	default:
		return nil, fmt.Errorf("unknown inputs %q (want %s or %s)", inputs, inputHardware, inputMQTT)
	}

	src.motion = motion.NewAdapter(raw, settings.Motion)
	return src, nil
}

// tripStore persists completed trips.
type tripStore interface {
	Save(sum fusion.TripSummary, unit units.Unit) (tripstore.Trip, error)
	Unsynced() ([]tripstore.Trip, error)
	MarkSynced(ids ...string) error
}

// daemon connects one engine session to the publisher, tracker, alerts
// and trip store. Everything except offer runs on the runLoop goroutine.
type daemon struct {
	engine     *fusion.Engine
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	alerts     *alert.Service
	unit       units.Unit
	now        func() time.Time

	classifier *motion.Classifier // optional
	store      tripStore          // optional
	broadcast  func()             // optional

	snaps chan fusion.Snapshot
}

func newDaemon(engine *fusion.Engine, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, alerts *alert.Service, unit units.Unit, now func() time.Time) *daemon {
	return &daemon{
		engine:     engine,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		alerts:     alerts,
		unit:       unit,
		now:        now,
		snaps:      make(chan fusion.Snapshot, 1),
	}
}

// offer is the engine callback. It never blocks the engine: an unread
// snapshot is replaced by the newer one.
func (d *daemon) offer(s fusion.Snapshot) {
	select {
	case d.snaps <- s:
		return
	default:
	}
	select {
	case <-d.snaps:
	default:
	}
	select {
	case d.snaps <- s:
	default:
	}
}

// discardPending drops a snapshot left over from a stopped session.
func (d *daemon) discardPending() {
	select {
	case <-d.snaps:
	default:
	}
}

// runLoop starts a session and serves it until SIGINT or SIGTERM. SIGUSR1
// toggles pause and SIGUSR2 ends the current trip and starts a new one.
func (d *daemon) runLoop(heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	d.engine.Start(d.offer)

	for {
		select {
		case s := <-sig:
			switch s {
			case syscall.SIGUSR1:
				d.togglePause()
				continue
			case syscall.SIGUSR2:
				log.Printf("received %v, starting a new trip", s)
				d.finishTrip()
				d.discardPending()
				d.alerts.Reset()
				d.engine.Start(d.offer)
				continue
			}

			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			d.finishTrip()

			event := mqtt.SystemEvent{
				Timestamp: d.now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if d.mqttStatus != nil {
				d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
			}
			event.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), "SHUTDOWN", signalName)
			if err := d.publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case snap := <-d.snaps:
			d.handleSnapshot(snap)

		case <-heartbeat:
			snap := d.tracker.Snapshot()
			log.Printf("heartbeat: uptime=%v state=%s speed=%s distance=%s",
				snap.Uptime().Round(time.Second), snap.Speed.MotionState,
				units.FormatSpeed(snap.Speed.CurrentSpeed, d.unit),
				units.FormatDistance(snap.Speed.TotalDistance))

			if d.mqttStatus != nil {
				d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
			}
			hbEvent := mqtt.SystemEvent{
				Timestamp:  d.now(),
				Event:      "HEARTBEAT",
				RawPayload: status.FormatStatusEvent(d.tracker.Snapshot(), "HEARTBEAT", ""),
			}
			if err := d.publisher.PublishSystem(hbEvent); err != nil {
				log.Printf("heartbeat publish error: %v", err)
			}
			d.syncTrips()
		}
	}
}

func (d *daemon) handleSnapshot(snap fusion.Snapshot) {
	d.tracker.Update(snap, d.engine.Running(), d.engine.Paused(), d.engine.Dropped())
	if c := d.classifier; c != nil {
		d.tracker.SetMotion(status.Motion{
			Variance:       c.AccelVariance(),
			Magnitude:      c.AccelMagnitude(),
			YawRate:        c.YawRate(),
			HeadingDelta:   c.HeadingDelta(),
			AltitudeChange: c.AltitudeChange(),
		})
	}

	t := d.now()
	res := d.alerts.Check(snap.CurrentSpeed, t)
	d.tracker.SetAlertLevel(res.Level)
	if res.ShouldAlert {
		a := alert.Alert{
			Timestamp: t,
			Level:     res.Level,
			Speed:     snap.CurrentSpeed,
			Limit:     d.alerts.Settings().Limit,
		}
		log.Printf("alert: %s at %s %s (limit %s)", a.Level,
			units.FormatSpeed(a.Speed, d.unit), d.unit.Label(), units.FormatSpeed(a.Limit, d.unit))
		if err := d.publisher.PublishAlert(a); err != nil {
			log.Printf("alert publish error: %v", err)
		}
	}

	if err := d.publisher.Publish(snap); err != nil {
		log.Printf("publish error: %v", err)
		// Don't crash on publish failure
	}
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	if d.broadcast != nil {
		d.broadcast()
	}
}

func (d *daemon) togglePause() {
	if d.engine.Paused() {
		d.engine.Resume()
		log.Printf("resumed tracking")
	} else {
		d.engine.Pause()
		log.Printf("paused tracking")
	}
	d.tracker.Update(d.engine.Data(), d.engine.Running(), d.engine.Paused(), d.engine.Dropped())
	if d.broadcast != nil {
		d.broadcast()
	}
}

// finishTrip stops the session and stores its summary. Sessions that
// never accumulated time or distance are not stored.
func (d *daemon) finishTrip() {
	sum := d.engine.Stop()
	if sum == nil {
		return
	}
	d.tracker.Update(sum.Snapshot, false, false, d.engine.Dropped())
	log.Printf("trip: ended distance=%s duration=%s avg=%s max=%s %s",
		units.FormatDistance(sum.TotalDistance), units.FormatDuration(sum.TripDuration),
		units.FormatSpeed(sum.AverageSpeed, d.unit), units.FormatSpeed(sum.MaxSpeed, d.unit), d.unit.Label())

	if d.store == nil || (sum.TripDuration <= 0 && sum.TotalDistance <= 0) {
		return
	}
	trip, err := d.store.Save(*sum, d.unit)
	if err != nil {
		log.Printf("trip: save failed: %v", err)
		return
	}
	d.tracker.TripSaved()
	log.Printf("trip: saved %s", trip.ID)
	d.syncTrips()
}

// syncTrips publishes stored trips the broker has not seen yet. It waits
// for a live connection so buffered messages are not mistaken for
// delivered ones.
func (d *daemon) syncTrips() {
	if d.store == nil {
		return
	}
	if d.mqttStatus != nil && !d.mqttStatus.IsConnected() {
		return
	}
	pending, err := d.store.Unsynced()
	if err != nil {
		log.Printf("trip sync: %v", err)
		return
	}

	ids := make([]string, 0, len(pending))
	for _, trip := range pending {
		if err := d.publisher.PublishTrip(trip); err != nil {
			log.Printf("trip sync: publish %s: %v", trip.ID, err)
			break
		}
		ids = append(ids, trip.ID)
	}
	if len(ids) == 0 {
		return
	}
	if err := d.store.MarkSynced(ids...); err != nil {
		log.Printf("trip sync: %v", err)
		return
	}
	log.Printf("trip sync: published %d trips", len(ids))
}

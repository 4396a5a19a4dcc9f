package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/speed-fusion/internal/motion"
	"github.com/sweeney/speed-fusion/internal/sensor"
)

// Logf is the logger for malformed inbound payloads. Replaceable in tests.
var Logf = log.Printf

// PositionMessage is the JSON body of TopicInPosition. Speed is m/s and
// may be omitted; Timestamp is RFC 3339 and defaults to receive time.
type PositionMessage struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Speed     *float64 `json:"speed,omitempty"`
	Accuracy  float64  `json:"accuracy"`
	Altitude  float64  `json:"altitude"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// StepMessage is the JSON body of TopicInStep.
type StepMessage struct {
	Timestamp string  `json:"timestamp,omitempty"`
	Cadence   float64 `json:"cadence,omitempty"`
	Pace      float64 `json:"pace,omitempty"`
	Distance  float64 `json:"distance,omitempty"`
}

// IMUMessage is the JSON body of TopicInIMU. Accel is m/s² and Gyro is
// rad/s; either may be omitted.
type IMUMessage struct {
	Accel     []float64 `json:"accel,omitempty"`
	Gyro      []float64 `json:"gyro,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// PressureMessage is the JSON body of TopicInPressure.
type PressureMessage struct {
	HPa       float64 `json:"hpa"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// ParsePosition decodes a position message received at now.
func ParsePosition(payload []byte, now time.Time) (sensor.Position, error) {
	var m PositionMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return sensor.Position{}, fmt.Errorf("decode position: %w", err)
	}
	if m.Latitude < -90 || m.Latitude > 90 || m.Longitude < -180 || m.Longitude > 180 {
		return sensor.Position{}, fmt.Errorf("position out of range: %v,%v", m.Latitude, m.Longitude)
	}
	ts, err := parseTimestamp(m.Timestamp, now)
	if err != nil {
		return sensor.Position{}, err
	}
	p := sensor.Position{
		Latitude:  m.Latitude,
		Longitude: m.Longitude,
		Speed:     sensor.SpeedUnavailable,
		Accuracy:  m.Accuracy,
		Altitude:  m.Altitude,
		Timestamp: ts,
	}
	if m.Speed != nil && *m.Speed >= 0 {
		p.Speed = *m.Speed
	}
	return p, nil
}

// ParseStep decodes a step message received at now.
func ParseStep(payload []byte, now time.Time) (sensor.Step, error) {
	var m StepMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return sensor.Step{}, fmt.Errorf("decode step: %w", err)
	}
	ts, err := parseTimestamp(m.Timestamp, now)
	if err != nil {
		return sensor.Step{}, err
	}
	return sensor.Step{Timestamp: ts, Cadence: m.Cadence, Pace: m.Pace, Distance: m.Distance}, nil
}

func parseTimestamp(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return ts, nil
}

// Subscriber turns inbound sensor topics into fusion sources. Each source
// subscribes to its topics on Start and unsubscribes on Stop.
type Subscriber struct {
	client  client
	now     func() time.Time
	invalid atomic.Int64

	mu       sync.Mutex
	handlers map[string]func([]byte)
}

// NewSubscriber creates a Subscriber over an existing connection.
func NewSubscriber(c client, now func() time.Time) *Subscriber {
	return &Subscriber{client: c, now: now, handlers: make(map[string]func([]byte))}
}

// Invalid returns the number of inbound payloads that failed to decode.
func (s *Subscriber) Invalid() int64 { return s.invalid.Load() }

// PositionSource returns a positioning source fed by TopicInPosition.
func (s *Subscriber) PositionSource() sensor.PositionSource { return &positionSource{s: s} }

// StepSource returns a step source fed by TopicInStep.
func (s *Subscriber) StepSource() sensor.StepSource { return &stepSource{s: s} }

// RawSource returns a raw motion source fed by TopicInIMU and
// TopicInPressure.
func (s *Subscriber) RawSource() motion.RawSource { return &rawSource{s: s} }

func (s *Subscriber) subscribe(topic string, h func([]byte)) error {
	s.mu.Lock()
	if _, ok := s.handlers[topic]; ok {
		s.mu.Unlock()
		return fmt.Errorf("already subscribed to %s", topic)
	}
	s.handlers[topic] = h
	s.mu.Unlock()

	if err := s.send(topic); err != nil {
		s.mu.Lock()
		delete(s.handlers, topic)
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Subscriber) send(topic string) error {
	token := s.client.Subscribe(topic, 0, func(_ paho.Client, m paho.Message) {
		s.dispatch(topic, m.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func (s *Subscriber) unsubscribe(topics ...string) error {
	s.mu.Lock()
	for _, t := range topics {
		delete(s.handlers, t)
	}
	s.mu.Unlock()

	token := s.client.Unsubscribe(topics...)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("unsubscribe timeout")
	}
	return token.Error()
}

// resubscribe restores active subscriptions after a reconnect.
func (s *Subscriber) resubscribe() {
	s.mu.Lock()
	topics := make([]string, 0, len(s.handlers))
	for t := range s.handlers {
		topics = append(topics, t)
	}
	s.mu.Unlock()

	for _, t := range topics {
		if err := s.send(t); err != nil {
			log.Printf("mqtt: resubscribe failed: %v", err)
		}
	}
}

func (s *Subscriber) dispatch(topic string, payload []byte) {
	s.mu.Lock()
	h := s.handlers[topic]
	s.mu.Unlock()
	if h != nil {
		h(payload)
	}
}

func (s *Subscriber) reject(topic string, err error) {
	s.invalid.Add(1)
	Logf("mqtt: dropping %s message: %v", topic, err)
}

type positionSource struct{ s *Subscriber }

func (p *positionSource) Start(fn func(sensor.Position)) error {
	return p.s.subscribe(TopicInPosition, func(b []byte) {
		pos, err := ParsePosition(b, p.s.now())
		if err != nil {
			p.s.reject(TopicInPosition, err)
			return
		}
		fn(pos)
	})
}

func (p *positionSource) Stop() error { return p.s.unsubscribe(TopicInPosition) }

type stepSource struct{ s *Subscriber }

func (p *stepSource) Start(fn func(sensor.Step)) error {
	return p.s.subscribe(TopicInStep, func(b []byte) {
		st, err := ParseStep(b, p.s.now())
		if err != nil {
			p.s.reject(TopicInStep, err)
			return
		}
		fn(st)
	})
}

func (p *stepSource) Stop() error { return p.s.unsubscribe(TopicInStep) }

// Available is true: a remote step source exists whenever the broker does.
func (p *stepSource) Available() bool { return true }

type rawSource struct{ s *Subscriber }

func (r *rawSource) Start(sink motion.Sink) error {
	err := r.s.subscribe(TopicInIMU, func(b []byte) {
		var m IMUMessage
		if err := json.Unmarshal(b, &m); err != nil {
			r.s.reject(TopicInIMU, err)
			return
		}
		ts, err := parseTimestamp(m.Timestamp, r.s.now())
		if err != nil {
			r.s.reject(TopicInIMU, err)
			return
		}
		if len(m.Accel) == 3 {
			sink.OnAccel(m.Accel[0], m.Accel[1], m.Accel[2], ts)
		}
		if len(m.Gyro) == 3 {
			sink.OnGyro(m.Gyro[0], m.Gyro[1], m.Gyro[2], ts)
		}
	})
	if err != nil {
		return err
	}
	err = r.s.subscribe(TopicInPressure, func(b []byte) {
		var m PressureMessage
		if err := json.Unmarshal(b, &m); err != nil {
			r.s.reject(TopicInPressure, err)
			return
		}
		if m.HPa <= 0 {
			r.s.reject(TopicInPressure, errors.New("non-positive pressure"))
			return
		}
		ts, err := parseTimestamp(m.Timestamp, r.s.now())
		if err != nil {
			r.s.reject(TopicInPressure, err)
			return
		}
		sink.OnPressure(m.HPa, ts)
	})
	if err != nil {
		sink.OnFailure(sensor.Barometer, err)
	}
	return nil
}

func (r *rawSource) Stop() error { return r.s.unsubscribe(TopicInIMU, TopicInPressure) }

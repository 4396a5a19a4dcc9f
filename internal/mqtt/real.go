package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/speed-fusion/internal/alert"
	"github.com/sweeney/speed-fusion/internal/fusion"
	"github.com/sweeney/speed-fusion/internal/tripstore"
)

// DefaultBufferSize is the number of messages kept while disconnected.
const DefaultBufferSize = 100

// client is the subset of paho.Client used here.
type client interface {
	IsConnected() bool
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
	Disconnect(quiesce uint)
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client client
	now    func() time.Time
	sub    *Subscriber

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool // set after the first successful connect
}

// NewRealPublisher creates a publisher connected to the given broker. The
// broker retains an OFFLINE event on TopicSystem if the connection drops
// uncleanly.
func NewRealPublisher(broker, clientID string) (*RealPublisher, error) {
	p := newPublisher(nil, time.Now, DefaultBufferSize)

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	c := paho.NewClient(opts)
	p.client = c
	p.sub.client = c

	token := c.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func newPublisher(c client, now func() time.Time, bufferSize int) *RealPublisher {
	return &RealPublisher{
		client: c,
		now:    now,
		sub:    NewSubscriber(c, now),
		buf:    newRingBuffer(bufferSize),
	}
}

// Subscriber returns the inbound sensor subscriber sharing this connection.
func (p *RealPublisher) Subscriber() *Subscriber { return p.sub }

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a reconnect.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// onConnect runs on every (re)connect. After a reconnect it replays the
// buffer and restores inbound subscriptions.
func (p *RealPublisher) onConnect() {
	p.mu.Lock()
	first := !p.connected
	p.connected = true
	pending := p.buf.drainAll()
	p.mu.Unlock()

	if first {
		log.Printf("mqtt: connected")
	} else {
		log.Printf("mqtt: reconnected, replaying %d buffered messages", len(pending))
		p.publishNow(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"})
	}
	for _, m := range pending {
		if err := p.send(m); err != nil {
			log.Printf("mqtt: replay to %s failed: %v", m.topic, err)
		}
	}
	p.sub.resubscribe()
}

func (p *RealPublisher) publishNow(event SystemEvent) {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return
	}
	if err := p.send(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1}); err != nil {
		log.Printf("mqtt: publish %s failed: %v", event.Event, err)
	}
}

// Publish sends a snapshot at QoS 0.
func (p *RealPublisher) Publish(snap fusion.Snapshot) error {
	payload, err := FormatSnapshotPayload(snap, p.now())
	if err != nil {
		return fmt.Errorf("format snapshot payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: TopicSnapshot, payload: payload})
}

// PublishTrip sends a trip at QoS 1.
func (p *RealPublisher) PublishTrip(trip tripstore.Trip) error {
	payload, err := FormatTripPayload(trip)
	if err != nil {
		return fmt.Errorf("format trip payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: TopicTrips, payload: payload, qos: 1})
}

// PublishAlert sends an alert at QoS 1.
func (p *RealPublisher) PublishAlert(a alert.Alert) error {
	payload, err := FormatAlertPayload(a)
	if err != nil {
		return fmt.Errorf("format alert payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: TopicAlerts, payload: payload, qos: 1})
}

// PublishSystem sends a system event at QoS 1.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

// publish sends msg, or buffers it while the connection is down.
func (p *RealPublisher) publish(msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buf.push(msg)
		p.mu.Unlock()
		return nil
	}
	return p.send(msg)
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second quiesce
	return nil
}

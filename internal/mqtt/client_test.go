package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type sentMsg struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

// fakeClient stands in for a paho client.
type fakeClient struct {
	mu             sync.Mutex
	open           bool
	publishErr     error
	publishTimeout bool
	subscribeErr   error
	sent           []sentMsg
	subs           map[string]paho.MessageHandler
	subscribeCalls int
	disconnected   bool
}

func newFakeClient(open bool) *fakeClient {
	return &fakeClient{open: open, subs: make(map[string]paho.MessageHandler)}
}

func (c *fakeClient) setOpen(open bool) {
	c.mu.Lock()
	c.open = open
	c.mu.Unlock()
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) IsConnectionOpen() bool { return c.IsConnected() }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishTimeout {
		return &fakeToken{timeout: true}
	}
	if c.publishErr != nil {
		return &fakeToken{err: c.publishErr}
	}
	c.sent = append(c.sent, sentMsg{topic: topic, qos: qos, retained: retained, payload: string(payload.([]byte))})
	return &fakeToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return &fakeToken{err: c.subscribeErr}
	}
	c.subs[topic] = cb
	c.subscribeCalls++
	return &fakeToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.open = false
	c.mu.Unlock()
}

func (c *fakeClient) deliver(topic, payload string) bool {
	c.mu.Lock()
	cb := c.subs[topic]
	c.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(nil, &fakeMessage{topic: topic, payload: []byte(payload)})
	return true
}

func (c *fakeClient) messages() []sentMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMsg(nil), c.sent...)
}

func (c *fakeClient) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[topic]
	return ok
}

package mqtt

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	err      error
	timeout  bool
	rc       byte
	done     chan struct{}
	doneOnce sync.Once
}

func newToken(err error) *fakeToken { return &fakeToken{err: err} }

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) ReturnCode() byte               { return t.rc }
func (t *fakeToken) Done() <-chan struct{} {
	t.doneOnce.Do(func() {
		t.done = make(chan struct{})
		close(t.done)
	})
	return t.done
}

type published struct {
	Topic    string
	Retained bool
	Payload  string
}

type fakeMessage struct {
	topic    string
	payload  []byte
	retained bool
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return m.retained }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// fakeClient records what the session does with a paho client.
type fakeClient struct {
	opts *paho_mqtt.ClientOptions

	ConnectFunc func() paho_mqtt.Token
	PublishFunc func(topic string) paho_mqtt.Token

	open        bool
	published   []published
	subscribed  map[string]paho_mqtt.MessageHandler
	disconnects int
}

func (c *fakeClient) IsConnected() bool      { return c.open }
func (c *fakeClient) IsConnectionOpen() bool { return c.open }
func (c *fakeClient) Connect() paho_mqtt.Token {
	if c.ConnectFunc != nil {
		t := c.ConnectFunc()
		if t.Error() == nil && t.WaitTimeout(0) {
			c.open = true
		}
		return t
	}
	c.open = true
	return newToken(nil)
}
func (c *fakeClient) Disconnect(uint) {
	c.disconnects++
	c.open = false
}
func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) paho_mqtt.Token {
	if c.PublishFunc != nil {
		if t := c.PublishFunc(topic); t != nil {
			return t
		}
	}
	c.published = append(c.published, published{Topic: topic, Retained: retained, Payload: payload.(string)})
	return newToken(nil)
}
func (c *fakeClient) Subscribe(topic string, _ byte, cb paho_mqtt.MessageHandler) paho_mqtt.Token {
	if c.subscribed == nil {
		c.subscribed = map[string]paho_mqtt.MessageHandler{}
	}
	c.subscribed[topic] = cb
	return newToken(nil)
}
func (c *fakeClient) SubscribeMultiple(map[string]byte, paho_mqtt.MessageHandler) paho_mqtt.Token {
	return newToken(errors.New("not supported"))
}
func (c *fakeClient) Unsubscribe(...string) paho_mqtt.Token     { return newToken(nil) }
func (c *fakeClient) AddRoute(string, paho_mqtt.MessageHandler) {}
func (c *fakeClient) OptionsReader() paho_mqtt.ClientOptionsReader {
	return paho_mqtt.ClientOptionsReader{}
}

func (c *fakeClient) deliver(topic, payload string, retained bool) {
	c.subscribed[topic](c, fakeMessage{topic: topic, payload: []byte(payload), retained: retained})
}

func (c *fakeClient) topics() []string {
	out := make([]string, 0, len(c.published))
	for _, p := range c.published {
		out = append(out, p.Topic)
	}
	return out
}

func dialOK(context.Context, string, string) (net.Conn, error) {
	a, b := net.Pipe()
	_ = b.Close()
	return a, nil
}

func dialFail(context.Context, string, string) (net.Conn, error) {
	return nil, errors.New("connection refused")
}

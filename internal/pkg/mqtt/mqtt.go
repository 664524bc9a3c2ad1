// Package mqtt owns the broker session: a TCP probe, the handshake with a last
// will, the correction subscription and Home Assistant discovery.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/anicoll/gasmeter/internal/pkg/model"
)

var (
	ErrNotConnected = errors.New("mqtt not connected")
	ErrTimeout      = errors.New("mqtt operation timed out")
	ErrTCPProbe     = errors.New("broker unreachable")
	ErrConnect      = errors.New("broker refused connection")
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"

	inboxSize = 16
)

// Error codes reported next to Status. Positive values are CONNACK return codes.
const (
	CodeNone           = 0
	CodeTCPFailed      = -1
	CodeNetworkError   = -2
	CodeConnectTimeout = -4
)

type Options struct {
	ReconnectInterval time.Duration
	ProbeTimeout      time.Duration
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	KeepAlive         time.Duration
	// Version is announced as the device software version.
	Version string
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type Session struct {
	cfg       model.ConnectionConfig
	opts      Options
	newClient func(*paho_mqtt.ClientOptions) paho_mqtt.Client
	dial      dialFunc
	now       func() time.Time

	client             paho_mqtt.Client
	inbox              chan model.Message
	state              State
	status             Status
	lastCode           int
	lastAttempt        time.Time
	discoveryPublished bool

	logger *zap.Logger
}

// New builds a disconnected session. Handshake and publish waits are capped at the
// probe timeout so no single wait blocks the caller longer than the probe.
func New(cfg model.ConnectionConfig, opts Options) *Session {
	if opts.ProbeTimeout > 0 {
		opts.ConnectTimeout = min(opts.ConnectTimeout, opts.ProbeTimeout)
		opts.PublishTimeout = min(opts.PublishTimeout, opts.ProbeTimeout)
	}
	var d net.Dialer
	return &Session{
		cfg:       cfg,
		opts:      opts,
		newClient: paho_mqtt.NewClient,
		dial:      d.DialContext,
		now:       time.Now,
		inbox:     make(chan model.Message, inboxSize),
		logger:    zap.L(),
	}
}

// Step keeps the session alive. It notices a dropped connection and, while the link
// is up, retries at most once per reconnect interval.
func (s *Session) Step(ctx context.Context, now time.Time, linkUp bool) {
	if s.state == StateConnected && !s.client.IsConnectionOpen() {
		s.logger.Warn("mqtt connection lost", zap.String("broker", s.cfg.BrokerAddress()))
		s.state = StateDisconnected
		s.status = StatusLost
	}
	if !linkUp || s.state == StateConnected {
		return
	}
	if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < s.opts.ReconnectInterval {
		return
	}
	if err := s.Reconnect(ctx); err != nil {
		s.logger.Warn("mqtt reconnect failed", zap.Error(err), zap.Int("code", s.lastCode))
	}
}

// Reconnect is a no-op while connected, so it never subscribes or registers the
// will twice.
func (s *Session) Reconnect(ctx context.Context) error {
	if s.Connected() {
		return nil
	}
	s.lastAttempt = s.now()
	addr := s.cfg.BrokerAddress()

	s.state = StateTCPProbing
	if err := s.probe(ctx, addr); err != nil {
		s.state = StateDisconnected
		s.status = StatusTCPFailed
		s.lastCode = CodeTCPFailed
		return fmt.Errorf("%w: %s: %w", ErrTCPProbe, addr, err)
	}

	client := s.newClient(s.clientOptions(addr))
	token := client.Connect()
	if !token.WaitTimeout(s.opts.ConnectTimeout) {
		return s.handshakeFailed(CodeConnectTimeout, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		code := CodeNetworkError
		if rc, ok := token.(interface{ ReturnCode() byte }); ok && rc.ReturnCode() != 0 {
			code = int(rc.ReturnCode())
		}
		return s.handshakeFailed(code, err)
	}

	s.client = client
	s.state = StateConnected
	s.status = StatusConnected
	s.lastCode = CodeNone
	s.logger.Info("mqtt connected", zap.String("broker", addr), zap.String("client_id", s.cfg.ClientID))

	if err := s.Publish(s.cfg.AvailabilityTopic(), true, payloadOnline); err != nil {
		s.logger.Warn("failed to publish availability", zap.Error(err))
	}
	if err := s.subscribe(); err != nil {
		s.logger.Warn("failed to subscribe to correction topic", zap.Error(err), zap.String("topic", s.cfg.CorrectionTopic()))
	}
	if err := s.AnnounceDiscovery(); err != nil {
		s.logger.Warn("discovery announcement incomplete", zap.Error(err))
	}
	return nil
}

func (s *Session) probe(ctx context.Context, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ProbeTimeout)
	defer cancel()
	conn, err := s.dial(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (s *Session) handshakeFailed(code int, err error) error {
	s.state = StateHandshakeFailed
	s.status = StatusConnectFailed
	s.lastCode = code
	return fmt.Errorf("%w (code %d): %w", ErrConnect, code, err)
}

func (s *Session) clientOptions(addr string) *paho_mqtt.ClientOptions {
	opts := paho_mqtt.NewClientOptions().
		AddBroker("tcp://"+addr).
		SetClientID(s.cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetKeepAlive(s.opts.KeepAlive).
		SetConnectTimeout(s.opts.ConnectTimeout).
		SetWill(s.cfg.AvailabilityTopic(), payloadOffline, 1, true).
		SetConnectionLostHandler(func(_ paho_mqtt.Client, err error) {
			s.logger.Warn("mqtt connection lost", zap.Error(err))
		})
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	return opts
}

func (s *Session) subscribe() error {
	inbox := s.inbox
	logger := s.logger
	token := s.client.Subscribe(s.cfg.CorrectionTopic(), 1, func(_ paho_mqtt.Client, m paho_mqtt.Message) {
		msg := model.Message{Topic: m.Topic(), Payload: string(m.Payload()), Retained: m.Retained()}
		select {
		case inbox <- msg:
		default:
			logger.Warn("inbound queue full, dropping message", zap.String("topic", msg.Topic))
		}
	})
	return s.wait(token)
}

// Publish sends payload with qos 1 and waits for the broker to confirm it.
func (s *Session) Publish(topic string, retained bool, payload string) error {
	if !s.Connected() {
		return ErrNotConnected
	}
	return s.wait(s.client.Publish(topic, 1, retained, payload))
}

func (s *Session) wait(token paho_mqtt.Token) error {
	if !token.WaitTimeout(s.opts.PublishTimeout) {
		return ErrTimeout
	}
	return token.Error()
}

// Disconnect announces offline and closes the session cleanly. A clean close does
// not fire the will, so offline is published by hand.
func (s *Session) Disconnect() {
	if !s.Connected() {
		s.state = StateDisconnected
		return
	}
	if err := s.Publish(s.cfg.AvailabilityTopic(), true, payloadOffline); err != nil {
		s.logger.Warn("failed to publish offline", zap.Error(err))
	}
	s.client.Disconnect(250)
	s.state = StateDisconnected
	s.status = StatusDisconnected
	s.logger.Info("mqtt disconnected", zap.String("broker", s.cfg.BrokerAddress()))
}

// Poll hands over at most one inbound message without blocking.
func (s *Session) Poll() (model.Message, bool) {
	select {
	case m := <-s.inbox:
		return m, true
	default:
		return model.Message{}, false
	}
}

// SetConfig takes effect on the next Reconnect. Changed identifiers force a new
// discovery announcement.
func (s *Session) SetConfig(cfg model.ConnectionConfig) {
	if s.cfg.IdentifiersDiffer(cfg) {
		s.discoveryPublished = false
	}
	s.cfg = cfg
}

func (s *Session) Config() model.ConnectionConfig {
	return s.cfg
}

func (s *Session) Connected() bool {
	return s.state == StateConnected && s.client != nil
}

func (s *Session) DiscoveryPublished() bool {
	return s.discoveryPublished
}

func (s *Session) ResetDiscovery() {
	s.discoveryPublished = false
}

func (s *Session) Snapshot() SessionState {
	return SessionState{
		State:              s.state,
		Status:             s.status,
		LastCode:           s.lastCode,
		LastAttempt:        s.lastAttempt,
		DiscoveryPublished: s.discoveryPublished,
	}
}

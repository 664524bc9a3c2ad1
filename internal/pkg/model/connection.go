package model

import (
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Field length limits of the persisted record.
const (
	MaxHostLen     = 39
	MaxPortLen     = 5
	MaxUserLen     = 39
	MaxPasswordLen = 39
	MaxIdentLen    = 63
)

const (
	DefaultTopicBase    = "measurement/gas"
	DefaultTopicCurrent = "measurement/current"
	DefaultBrokerPort   = 1883
)

var (
	ErrServerPortRequired = errors.New("server and port required")
	ErrInvalidInput       = errors.New("invalid input")
	ErrPortOutOfRange     = errors.New("port out of range")
)

// ConnectionConfig holds everything needed to reach the broker and name our topics.
type ConnectionConfig struct {
	BrokerHost   string
	BrokerPort   uint16
	Username     string
	Password     string
	ClientID     string
	TopicBase    string
	TopicCurrent string
}

// ConnectionUpdate is a raw, unvalidated change request. Blank optional fields keep
// the current value.
type ConnectionUpdate struct {
	Host         string
	Port         string
	Username     string
	Password     string
	ClientID     string
	TopicBase    string
	TopicCurrent string
}

func DefaultConnectionConfig(clientID string) ConnectionConfig {
	return ConnectionConfig{
		BrokerHost:   "localhost",
		BrokerPort:   DefaultBrokerPort,
		ClientID:     Bounded(clientID, MaxIdentLen),
		TopicBase:    DefaultTopicBase,
		TopicCurrent: DefaultTopicCurrent,
	}
}

// ParsePort accepts 1-65535.
func ParsePort(raw string) (uint16, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidInput
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, ErrInvalidInput
	}
	if port <= 0 || port > 65535 {
		return 0, ErrPortOutOfRange
	}
	return uint16(port), nil
}

// Apply validates the update and returns the resulting config. The receiver is
// never modified, so a rejected update leaves no trace.
func (c ConnectionConfig) Apply(u ConnectionUpdate) (ConnectionConfig, error) {
	host := strings.TrimSpace(u.Host)
	if host == "" || strings.TrimSpace(u.Port) == "" {
		return c, ErrInvalidInput
	}
	port, err := ParsePort(u.Port)
	if err != nil {
		return c, err
	}

	next := c
	next.BrokerHost = Bounded(host, MaxHostLen)
	next.BrokerPort = port
	next.Username = Bounded(lo.CoalesceOrEmpty(strings.TrimSpace(u.Username), c.Username), MaxUserLen)
	next.Password = Bounded(lo.CoalesceOrEmpty(u.Password, c.Password), MaxPasswordLen)
	next.ClientID = Bounded(lo.CoalesceOrEmpty(strings.TrimSpace(u.ClientID), c.ClientID), MaxIdentLen)
	next.TopicBase = Bounded(lo.CoalesceOrEmpty(cleanTopic(u.TopicBase), c.TopicBase), MaxIdentLen)
	next.TopicCurrent = Bounded(lo.CoalesceOrEmpty(cleanTopic(u.TopicCurrent), c.TopicCurrent), MaxIdentLen)
	return next, nil
}

// IdentifiersDiffer reports whether client id or any topic differs, which forces a
// new discovery announcement.
func (c ConnectionConfig) IdentifiersDiffer(o ConnectionConfig) bool {
	return c.ClientID != o.ClientID || c.TopicBase != o.TopicBase || c.TopicCurrent != o.TopicCurrent
}

func (c ConnectionConfig) BrokerAddress() string {
	return net.JoinHostPort(c.BrokerHost, strconv.Itoa(int(c.BrokerPort)))
}

func (c ConnectionConfig) AvailabilityTopic() string {
	return c.ClientID + "/availability"
}

// VolumeTopic carries the human readable value.
func (c ConnectionConfig) VolumeTopic() string {
	return c.ClientID + "/" + c.TopicBase
}

// StateTopic carries the retained numeric value.
func (c ConnectionConfig) StateTopic() string {
	return c.VolumeTopic() + "/state"
}

// CorrectionTopic is subscribed to; a payload there re-bases the meter.
func (c ConnectionConfig) CorrectionTopic() string {
	return c.ClientID + "/" + c.TopicCurrent
}

func (c ConnectionConfig) MaskedPassword() string {
	return lo.Ternary(c.Password != "", "********", "")
}

// Bounded truncates s to at most n bytes without splitting a UTF-8 sequence.
func Bounded(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !isRuneStart(s[len(s)-1]) {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] >= 0xC0 {
		s = s[:len(s)-1]
	}
	return s
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func cleanTopic(t string) string {
	return strings.Trim(strings.TrimSpace(t), "/")
}

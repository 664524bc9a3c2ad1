package mqtt

import "time"

type State int

const (
	StateDisconnected State = iota
	StateTCPProbing
	StateHandshakeFailed
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateTCPProbing:
		return "tcp_probing"
	case StateHandshakeFailed:
		return "handshake_failed"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Status is the outcome of the last connection attempt.
type Status int

const (
	StatusNever Status = iota
	StatusConnected
	StatusTCPFailed
	StatusConnectFailed
	// StatusLost means an established session dropped without a disconnect.
	StatusLost
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusTCPFailed:
		return "tcp_failed"
	case StatusConnectFailed:
		return "connect_failed"
	case StatusLost:
		return "connection_lost"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "never"
	}
}

type SessionState struct {
	State              State
	Status             Status
	LastCode           int
	LastAttempt        time.Time
	DiscoveryPublished bool
}

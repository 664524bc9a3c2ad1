// Package link tracks the network link below the broker session and retries it at a
// fixed interval.
package link

import (
	"time"

	"go.uber.org/zap"
)

type Monitor interface {
	Connected() bool
	Reconnect() error
	// Reset forgets the stored link credentials.
	Reset() error
}

type Manager struct {
	monitor     Monitor
	interval    time.Duration
	lastAttempt time.Time
	connected   bool
	logger      *zap.Logger
}

func NewManager(m Monitor, retryInterval time.Duration) *Manager {
	return &Manager{monitor: m, interval: retryInterval, logger: zap.L()}
}

// Step refreshes the link state and, when down, asks the monitor to reconnect at
// most once per interval. It returns whether the link is up.
func (m *Manager) Step(now time.Time) bool {
	up := m.monitor.Connected()
	if up != m.connected {
		if up {
			m.logger.Info("network link up")
		} else {
			m.logger.Warn("network link down")
		}
		m.connected = up
	}
	if up {
		return true
	}
	if !m.lastAttempt.IsZero() && now.Sub(m.lastAttempt) < m.interval {
		return false
	}
	m.lastAttempt = now
	if err := m.monitor.Reconnect(); err != nil {
		m.logger.Warn("network reconnect failed", zap.Error(err))
	}
	return false
}

func (m *Manager) Connected() bool {
	return m.connected
}

// Reset clears the link credentials and the retry timer.
func (m *Manager) Reset() error {
	m.lastAttempt = time.Time{}
	m.connected = false
	if err := m.monitor.Reset(); err != nil {
		return err
	}
	m.logger.Warn("network link settings reset")
	return nil
}

package controller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anicoll/gasmeter/internal/pkg/model"
	"github.com/anicoll/gasmeter/internal/pkg/mqtt"
	"github.com/anicoll/gasmeter/internal/pkg/storage"
)

// journal records calls across fakes so tests can assert ordering.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(e string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

type mockStore struct {
	j        *journal
	SaveFunc func(rec storage.Record) error
	LoadFunc func() (storage.Record, error)

	mu    sync.Mutex
	saved []storage.Record
}

func (m *mockStore) Save(_ context.Context, rec storage.Record) error {
	m.j.add("save")
	if m.SaveFunc != nil {
		if err := m.SaveFunc(rec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, rec)
	return nil
}

func (m *mockStore) Load(context.Context) (storage.Record, error) {
	if m.LoadFunc != nil {
		return m.LoadFunc()
	}
	return storage.Record{}, storage.ErrNotFound
}

func (m *mockStore) Name() string { return "mock" }

func (m *mockStore) last() storage.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved[len(m.saved)-1]
}

type mockSession struct {
	j             *journal
	cfg           model.ConnectionConfig
	connected     bool
	discovery     bool
	ReconnectFunc func() error
	inbox         chan model.Message
	published     map[string]string
}

func newMockSession(j *journal) *mockSession {
	return &mockSession{j: j, inbox: make(chan model.Message, 4), published: map[string]string{}}
}

func (m *mockSession) Step(context.Context, time.Time, bool) {}
func (m *mockSession) Reconnect(context.Context) error {
	m.j.add("reconnect")
	if m.ReconnectFunc != nil {
		return m.ReconnectFunc()
	}
	m.connected = true
	return nil
}
func (m *mockSession) Disconnect() {
	m.j.add("disconnect")
	m.connected = false
}
func (m *mockSession) Poll() (model.Message, bool) {
	select {
	case msg := <-m.inbox:
		return msg, true
	default:
		return model.Message{}, false
	}
}
func (m *mockSession) SetConfig(cfg model.ConnectionConfig) {
	if m.cfg.IdentifiersDiffer(cfg) {
		m.discovery = false
	}
	m.cfg = cfg
}
func (m *mockSession) Config() model.ConnectionConfig { return m.cfg }
func (m *mockSession) Connected() bool                { return m.connected }
func (m *mockSession) Publish(topic string, _ bool, payload string) error {
	m.j.add("publish " + topic)
	m.published[topic] = payload
	return nil
}
func (m *mockSession) DiscoveryPublished() bool { return m.discovery }
func (m *mockSession) AnnounceDiscovery() error {
	m.j.add("discovery")
	m.discovery = true
	return nil
}
func (m *mockSession) Snapshot() mqtt.SessionState {
	st := mqtt.SessionState{DiscoveryPublished: m.discovery}
	if m.connected {
		st.State, st.Status = mqtt.StateConnected, mqtt.StatusConnected
	}
	return st
}

type mockLink struct {
	j         *journal
	up        bool
	ResetFunc func() error
}

func (l *mockLink) Step(time.Time) bool { return l.up }
func (l *mockLink) Reset() error {
	l.j.add("link reset")
	if l.ResetFunc != nil {
		return l.ResetFunc()
	}
	return nil
}

type pulseCounter struct{ n atomic.Uint32 }

func (p *pulseCounter) Drain() uint32 { return p.n.Swap(0) }

package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/anicoll/gasmeter/internal/pkg/meter"
	"github.com/anicoll/gasmeter/internal/pkg/metrics"
	"github.com/anicoll/gasmeter/internal/pkg/model"
	"github.com/anicoll/gasmeter/internal/pkg/persistence"
	"github.com/anicoll/gasmeter/internal/pkg/storage"
)

type fixture struct {
	ctrl    *Controller
	j       *journal
	store   *mockStore
	session *mockSession
	link    *mockLink
	pulses  *pulseCounter
	cancel  context.CancelFunc
	done    chan error
}

func defaults() persistence.Snapshot {
	return persistence.Snapshot{Conn: model.DefaultConnectionConfig("gasmeter")}
}

func newFixture(t *testing.T, setup func(f *fixture)) *fixture {
	t.Helper()
	j := &journal{}
	f := &fixture{
		j:       j,
		store:   &mockStore{j: j},
		session: newMockSession(j),
		link:    &mockLink{j: j, up: true},
		pulses:  &pulseCounter{},
	}
	if setup != nil {
		setup(f)
	}
	f.ctrl = New(f.session, f.store, f.link, f.pulses, metrics.New(prometheus.NewRegistry()), Options{
		LoopTick: time.Millisecond,
		Version:  "test",
		Defaults: defaults(),
	})
	f.ctrl.logger = zaptest.NewLogger(t)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan error, 1)
	go func() { f.done <- f.ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-f.done
	})
	return f
}

func TestCorrectTo_SavesBeforePublishing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(f *fixture) { f.session.connected = true })
	ctx := context.Background()

	v, err := meter.ParseReading("12,34")
	require.NoError(t, err)
	res, err := f.ctrl.CorrectTo(ctx, v)
	require.NoError(t, err)

	assert.Equal(t, uint32(1234), res.Volume)
	assert.True(t, res.Persisted)
	assert.True(t, res.Published)
	assert.Equal(t, []string{
		"save",
		"publish gasmeter/measurement/gas",
		"publish gasmeter/measurement/gas/state",
		"discovery",
	}, f.j.list())

	rec := f.store.last()
	assert.Equal(t, uint32(0), *rec.Count)
	assert.Equal(t, uint32(1234), *rec.Offset)
	assert.Equal(t, "12.34", f.session.published["gasmeter/measurement/gas/state"])

	st, err := f.ctrl.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, meter.State{PulseCount: 0, Offset: 1234}, st.Meter)
}

func TestCorrectTo_NotConnectedStillSaves(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	res, err := f.ctrl.CorrectTo(context.Background(), 500)
	require.NoError(t, err)
	assert.True(t, res.Persisted)
	assert.False(t, res.Published)
	assert.Equal(t, []string{"save"}, f.j.list())
}

func TestForceSaveAndPublish_SaveFailureStillPublishes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(f *fixture) {
		f.session.connected = true
		f.session.discovery = true
		f.store.SaveFunc = func(storage.Record) error { return storage.ErrMount }
	})
	f.pulses.n.Add(3)
	require.Eventually(t, func() bool {
		v, err := f.ctrl.CurrentVolume(context.Background())
		return err == nil && v == 3
	}, time.Second, time.Millisecond)

	res, err := f.ctrl.ForceSaveAndPublish(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, res.SaveErr, storage.ErrMount)
	assert.True(t, res.Published)
	assert.Equal(t, "save", f.j.list()[0])
}

func TestPulsesAreCountedFromTheLoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	for i := 0; i < 150; i++ {
		f.pulses.n.Add(1)
	}
	require.Eventually(t, func() bool {
		st, err := f.ctrl.Status(context.Background())
		return err == nil && st.Meter.PulseCount == 150
	}, time.Second, time.Millisecond)

	require.NoError(t, f.ctrl.Save(context.Background()))
	require.NoError(t, f.ctrl.Save(context.Background()))
	assert.Equal(t, []string{"save"}, f.j.list(), "second save has nothing to write")
}

func TestUpdateConnection(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(f *fixture) {
		f.session.connected = true
		f.session.discovery = true
	})
	ctx := context.Background()

	_, err := f.ctrl.UpdateConnection(ctx, model.ConnectionUpdate{Host: "", Port: "1883"})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = f.ctrl.UpdateConnection(ctx, model.ConnectionUpdate{Host: "h", Port: "70000"})
	assert.ErrorIs(t, err, model.ErrPortOutOfRange)
	assert.Empty(t, f.j.list(), "rejected updates change nothing")

	st, err := f.ctrl.UpdateConnection(ctx, model.ConnectionUpdate{Host: "broker.lan", Port: "1884", TopicBase: "home/gas"})
	require.NoError(t, err)
	assert.Equal(t, []string{"disconnect", "save", "reconnect"}, f.j.list())
	assert.Equal(t, "broker.lan", st.Conn.BrokerHost)
	assert.Equal(t, uint16(1884), st.Conn.BrokerPort)
	assert.Equal(t, "home/gas", st.Conn.TopicBase)
	assert.False(t, st.Session.DiscoveryPublished, "topic change forces a new announcement")
	assert.Equal(t, "home/gas", f.store.last().TopicGas)

	_, err = f.ctrl.ForceSaveAndPublish(ctx)
	require.NoError(t, err)
	assert.Contains(t, f.j.list(), "discovery")
}

func TestUpdateConnection_BlankUsernameKeepsPrevious(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	st, err := f.ctrl.UpdateConnection(ctx, model.ConnectionUpdate{Host: "h", Port: "1883", Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice", st.Conn.Username)

	st, err = f.ctrl.UpdateConnection(ctx, model.ConnectionUpdate{Host: "h", Port: "1883", Username: ""})
	require.NoError(t, err)
	assert.Equal(t, "alice", st.Conn.Username)
}

func TestMQTTCorrection(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(f *fixture) { f.session.connected = true })
	topic := "gasmeter/measurement/current"

	f.session.inbox <- model.Message{Topic: topic, Payload: "99,99", Retained: true}
	f.session.inbox <- model.Message{Topic: topic, Payload: "not a number"}
	f.session.inbox <- model.Message{Topic: "other/topic", Payload: "1"}
	f.session.inbox <- model.Message{Topic: topic, Payload: "12.5"}

	require.Eventually(t, func() bool {
		v, err := f.ctrl.CurrentVolume(context.Background())
		return err == nil && v == 1250
	}, time.Second, time.Millisecond)
	assert.Equal(t, "save", f.j.list()[0])
}

func TestBootLoadsStoredState(t *testing.T) {
	t.Parallel()
	count, offset := uint32(150), uint32(200)
	f := newFixture(t, func(f *fixture) {
		f.store.LoadFunc = func() (storage.Record, error) {
			return storage.Record{Count: &count, Offset: &offset, Server: "broker.lan", ClientID: "keller"}, nil
		}
	})

	st, err := f.ctrl.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(350), st.Volume)
	assert.Equal(t, "broker.lan", st.Conn.BrokerHost)
	assert.Equal(t, "keller", st.Conn.ClientID)
	assert.Equal(t, model.DefaultTopicBase, st.Conn.TopicBase)
	assert.Equal(t, "test", st.Version)
}

func TestRequestRestart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(f *fixture) { f.session.connected = true })
	f.pulses.n.Add(2)
	require.Eventually(t, func() bool {
		v, err := f.ctrl.CurrentVolume(context.Background())
		return err == nil && v == 2
	}, time.Second, time.Millisecond)

	require.NoError(t, f.ctrl.RequestRestart(context.Background()))
	err := <-f.done
	f.done <- err
	assert.ErrorIs(t, err, ErrRestartRequested)
	assert.Equal(t, []string{"save", "disconnect"}, f.j.list())

	_, err = f.ctrl.Status(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestResetLink_KeepsBrokerSettings(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.ctrl.UpdateConnection(ctx, model.ConnectionUpdate{Host: "broker.lan", Port: "1884", Username: "alice", Password: "pw"})
	require.NoError(t, err)
	_, err = f.ctrl.CorrectTo(ctx, 700)
	require.NoError(t, err)

	require.NoError(t, f.ctrl.ResetLink(ctx))
	err = <-f.done
	f.done <- err
	assert.ErrorIs(t, err, ErrRestartRequested)

	rec := f.store.last()
	assert.Equal(t, "broker.lan", rec.Server)
	assert.Equal(t, "1884", rec.Port)
	assert.Equal(t, "alice", rec.User)
	assert.Equal(t, "pw", rec.Password)
	assert.Equal(t, uint32(700), *rec.Offset)

	events := f.j.list()
	assert.Equal(t, "link reset", events[len(events)-1], "link settings are cleared last")
	assert.Contains(t, events, "publish gasmeter/measurement/gas/state")
}

func TestResetLink_FailedResetStillRestarts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(f *fixture) {
		f.link.ResetFunc = func() error { return errors.New("no reset command") }
	})

	require.NoError(t, f.ctrl.ResetLink(context.Background()))
	err := <-f.done
	f.done <- err
	assert.ErrorIs(t, err, ErrRestartRequested)
}

func TestShutdownSaves(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.pulses.n.Add(1)
	require.Eventually(t, func() bool {
		v, err := f.ctrl.CurrentVolume(context.Background())
		return err == nil && v == 1
	}, time.Second, time.Millisecond)

	f.cancel()
	err := <-f.done
	f.done <- err
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, uint32(1), *f.store.last().Count)
}

package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/anicoll/gasmeter/internal/pkg/meter"
	"github.com/anicoll/gasmeter/internal/pkg/model"
	"github.com/anicoll/gasmeter/internal/pkg/storage"
)

type mockStore struct {
	SaveFunc func(ctx context.Context, rec storage.Record) error
	LoadFunc func(ctx context.Context) (storage.Record, error)
	saves    []storage.Record
}

func (m *mockStore) Save(ctx context.Context, rec storage.Record) error {
	if m.SaveFunc != nil {
		if err := m.SaveFunc(ctx, rec); err != nil {
			return err
		}
	}
	m.saves = append(m.saves, rec)
	return nil
}

func (m *mockStore) Load(ctx context.Context) (storage.Record, error) {
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx)
	}
	return storage.Record{}, storage.ErrNotFound
}

func (m *mockStore) Name() string { return "mock" }

type countingRecorder struct{ ok, failed int }

func (c *countingRecorder) ObserveSave(err error) {
	if err != nil {
		c.failed++
		return
	}
	c.ok++
}

func defaults() Snapshot {
	return Snapshot{Conn: model.DefaultConnectionConfig("gasmeter")}
}

func TestSaveIfChanged_WritesOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &mockStore{}
	rec := &countingRecorder{}
	g := NewGate(store, rec)
	cur := g.Boot(ctx, defaults())

	saved, err := g.SaveIfChanged(ctx, cur)
	require.NoError(t, err)
	assert.False(t, saved, "unchanged state must not touch storage")

	cur.Meter.RegisterPulse()
	saved, err = g.SaveIfChanged(ctx, cur)
	require.NoError(t, err)
	assert.True(t, saved)
	saved, err = g.SaveIfChanged(ctx, cur)
	require.NoError(t, err)
	assert.False(t, saved)

	require.Len(t, store.saves, 1)
	assert.Equal(t, uint32(1), *store.saves[0].Count)
	assert.Equal(t, "gasmeter", store.saves[0].ClientID)
	assert.Equal(t, 1, rec.ok)
}

func TestSaveIfChanged_FailureKeepsSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	core, logs := observer.New(zapcore.ErrorLevel)
	failing := true
	store := &mockStore{SaveFunc: func(context.Context, storage.Record) error {
		if failing {
			return storage.ErrMount
		}
		return nil
	}}
	rec := &countingRecorder{}
	g := NewGate(store, rec)
	g.logger = zap.New(core)
	cur := g.Boot(ctx, defaults())
	cur.Meter.ApplyAbsoluteCorrection(1234)

	saved, err := g.SaveIfChanged(ctx, cur)
	assert.ErrorIs(t, err, storage.ErrMount)
	assert.False(t, saved)
	assert.Equal(t, defaults(), g.Last())
	assert.Equal(t, 1, logs.FilterMessage("failed to save state").Len())

	failing = false
	saved, err = g.SaveIfChanged(ctx, cur)
	require.NoError(t, err)
	assert.True(t, saved)
	assert.Equal(t, cur, g.Last())
	assert.Equal(t, 1, rec.failed)
	assert.Equal(t, 1, rec.ok)
}

func TestBoot_AppliesOnlyPresentFields(t *testing.T) {
	t.Parallel()
	count := uint32(150)
	store := &mockStore{LoadFunc: func(context.Context) (storage.Record, error) {
		return storage.Record{Count: &count, Server: "broker.lan", Port: "", User: ""}, nil
	}}
	g := NewGate(store, nil)

	got := g.Boot(context.Background(), defaults())

	want := defaults()
	want.Meter = meter.State{PulseCount: 150}
	want.Conn.BrokerHost = "broker.lan"
	assert.Equal(t, want, got)
	assert.Equal(t, want, g.Last())

	saved, err := g.SaveIfChanged(context.Background(), got)
	require.NoError(t, err)
	assert.False(t, saved)
}

func TestBoot_LoadFailureUsesDefaults(t *testing.T) {
	t.Parallel()
	store := &mockStore{LoadFunc: func(context.Context) (storage.Record, error) {
		return storage.Record{}, errors.New("flash unreadable")
	}}
	g := NewGate(store, nil)

	assert.Equal(t, defaults(), g.Boot(context.Background(), defaults()))
}

// Power loss at any point reloads the last confirmed save, never anything older.
func TestGate_PowerLossReloadsLastConfirmedSave(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewFileStore(t.TempDir())
	g := NewGate(store, nil)
	cur := g.Boot(ctx, defaults())

	var confirmed uint32
	for i := 1; i <= 50; i++ {
		cur.Meter.RegisterPulse()
		if i%7 == 0 {
			_, err := g.SaveIfChanged(ctx, cur)
			require.NoError(t, err)
			confirmed = cur.Meter.PulseCount
		}

		reloaded := NewGate(store, nil).Boot(ctx, defaults())
		assert.Equal(t, confirmed, reloaded.Meter.PulseCount)
		assert.LessOrEqual(t, reloaded.Meter.PulseCount, cur.Meter.PulseCount)
	}
}

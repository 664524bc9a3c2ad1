// Package persistence decides when the meter state is written. Nothing reaches the
// store unless it differs from what was last written successfully.
package persistence

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/anicoll/gasmeter/internal/pkg/storage"
)

type recorder interface {
	ObserveSave(err error)
}

type Gate struct {
	store    storage.Store
	last     Snapshot
	recorder recorder
	logger   *zap.Logger
}

func NewGate(store storage.Store, rec recorder) *Gate {
	return &Gate{store: store, recorder: rec, logger: zap.L()}
}

// Boot loads the stored record over defaults and seeds the snapshot with the result.
// A failed load is logged and yields the defaults.
func (g *Gate) Boot(ctx context.Context, defaults Snapshot) Snapshot {
	g.last = defaults
	rec, err := g.store.Load(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		g.logger.Info("no stored record, using defaults", zap.String("store", g.store.Name()))
		return defaults
	case err != nil:
		g.logger.Error("failed to load stored record, using defaults", zap.Error(err), zap.String("store", g.store.Name()))
		return defaults
	}

	loaded := defaults.applyRecord(rec)
	g.last = loaded
	g.logger.Info("loaded stored record",
		zap.String("store", g.store.Name()),
		zap.Uint32("pulse_count", loaded.Meter.PulseCount),
		zap.Uint32("offset", loaded.Meter.Offset),
		zap.String("client_id", loaded.Conn.ClientID),
	)
	return loaded
}

// SaveIfChanged writes current when it differs from the last successful write.
// A failed write keeps the old snapshot so the next call retries.
func (g *Gate) SaveIfChanged(ctx context.Context, current Snapshot) (bool, error) {
	if current == g.last {
		return false, nil
	}
	err := g.store.Save(ctx, current.toRecord())
	if g.recorder != nil {
		g.recorder.ObserveSave(err)
	}
	if err != nil {
		g.logger.Error("failed to save state", zap.Error(err), zap.String("store", g.store.Name()))
		return false, fmt.Errorf("save state: %w", err)
	}
	g.last = current
	g.logger.Debug("state saved",
		zap.Uint32("pulse_count", current.Meter.PulseCount),
		zap.Uint32("offset", current.Meter.Offset),
	)
	return true, nil
}

// Last is the most recently persisted snapshot.
func (g *Gate) Last() Snapshot {
	return g.last
}

package controller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/gasmeter/internal/pkg/meter"
	"github.com/anicoll/gasmeter/internal/pkg/model"
	"github.com/anicoll/gasmeter/internal/pkg/mqtt"
)

// Result reports what happened to a state change after save and publish ran.
type Result struct {
	Volume     uint32
	Persisted  bool
	Published  bool
	SaveErr    error
	PublishErr error
}

type Status struct {
	Meter         meter.State
	Volume        uint32
	Conn          model.ConnectionConfig
	Session       mqtt.SessionState
	LinkUp        bool
	MQTTConnected bool
	StartedAt     time.Time
	Uptime        time.Duration
	Version       string
}

// CorrectTo sets the meter to an absolute reading. It returns after the new value
// has been saved and published, or both were attempted.
func (c *Controller) CorrectTo(ctx context.Context, hundredths uint32) (Result, error) {
	var res Result
	err := c.Do(ctx, func(ctx context.Context) {
		res = c.correctTo(ctx, hundredths)
	})
	return res, err
}

func (c *Controller) ForceSaveAndPublish(ctx context.Context) (Result, error) {
	var res Result
	err := c.Do(ctx, func(ctx context.Context) {
		res = c.saveAndPublish(ctx)
	})
	return res, err
}

// UpdateConnection validates u, applies it and reconnects with the new settings.
// A rejected update changes nothing.
func (c *Controller) UpdateConnection(ctx context.Context, u model.ConnectionUpdate) (Status, error) {
	var (
		st     Status
		invErr error
	)
	err := c.Do(ctx, func(ctx context.Context) {
		next, err := c.session.Config().Apply(u)
		if err != nil {
			invErr = err
			return
		}
		if c.session.Connected() {
			c.session.Disconnect()
		}
		c.session.SetConfig(next)
		if _, err := c.gate.SaveIfChanged(ctx, c.snapshot()); err != nil {
			c.logger.Warn("connection settings not persisted", zap.Error(err))
		}
		if err := c.session.Reconnect(ctx); err != nil {
			c.logger.Warn("reconnect with new settings failed", zap.Error(err))
		}
		c.logger.Info("connection settings updated",
			zap.String("broker", next.BrokerAddress()),
			zap.String("client_id", next.ClientID),
		)
		st = c.status()
	})
	if err != nil {
		return Status{}, err
	}
	return st, invErr
}

func (c *Controller) Reconnect(ctx context.Context) error {
	var rerr error
	if err := c.Do(ctx, func(ctx context.Context) {
		rerr = c.session.Reconnect(ctx)
	}); err != nil {
		return err
	}
	return rerr
}

// Publish sends the current volume without saving.
func (c *Controller) Publish(ctx context.Context) error {
	var perr error
	if err := c.Do(ctx, func(context.Context) {
		perr = c.pub.PublishVolume(c.meter.CurrentVolume())
	}); err != nil {
		return err
	}
	return perr
}

// Save persists the state if it changed since the last save.
func (c *Controller) Save(ctx context.Context) error {
	var serr error
	if err := c.Do(ctx, func(ctx context.Context) {
		_, serr = c.gate.SaveIfChanged(ctx, c.snapshot())
	}); err != nil {
		return err
	}
	return serr
}

func (c *Controller) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.Do(ctx, func(context.Context) {
		st = c.status()
	})
	return st, err
}

func (c *Controller) CurrentVolume(ctx context.Context) (uint32, error) {
	var v uint32
	err := c.Do(ctx, func(context.Context) {
		v = c.meter.CurrentVolume()
	})
	return v, err
}

// ResetLink forgets the network link settings and restarts. The broker settings
// and the meter reading are kept; both are saved and published first.
func (c *Controller) ResetLink(ctx context.Context) error {
	return c.Do(ctx, func(ctx context.Context) {
		c.logger.Warn("resetting network link settings")
		if err := c.session.Reconnect(ctx); err != nil {
			c.logger.Warn("reconnect before link reset failed", zap.Error(err))
		}
		res := c.saveAndPublish(ctx)
		if res.SaveErr != nil {
			c.logger.Error("save before link reset failed", zap.Error(res.SaveErr))
		}
		if err := c.link.Reset(); err != nil {
			c.logger.Error("link reset failed", zap.Error(err))
		}
		c.restartRequested = true
	})
}

// RequestRestart makes Run return ErrRestartRequested after a final save.
func (c *Controller) RequestRestart(ctx context.Context) error {
	return c.Do(ctx, func(context.Context) {
		c.restartRequested = true
	})
}

func (c *Controller) correctTo(ctx context.Context, hundredths uint32) Result {
	c.meter.ApplyAbsoluteCorrection(hundredths)
	c.metrics.ObserveCorrection()
	c.logger.Info("meter corrected", zap.String("value", meter.FormatHundredths(hundredths)))
	return c.saveAndPublish(ctx)
}

// saveAndPublish always saves before publishing, so nothing is announced that
// would be lost by a crash.
func (c *Controller) saveAndPublish(ctx context.Context) Result {
	res := Result{Volume: c.meter.CurrentVolume()}
	_, res.SaveErr = c.gate.SaveIfChanged(ctx, c.snapshot())
	res.Persisted = res.SaveErr == nil
	res.PublishErr = c.pub.PublishVolume(res.Volume)
	res.Published = res.PublishErr == nil
	c.metrics.SetMeter(c.meter.PulseCount, c.meter.Offset)
	return res
}

func (c *Controller) status() Status {
	return Status{
		Meter:         c.meter,
		Volume:        c.meter.CurrentVolume(),
		Conn:          c.session.Config(),
		Session:       c.session.Snapshot(),
		LinkUp:        c.linkUp,
		MQTTConnected: c.session.Connected(),
		StartedAt:     c.startedAt,
		Uptime:        c.now().Sub(c.startedAt),
		Version:       c.opts.Version,
	}
}

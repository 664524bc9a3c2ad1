// Package controller owns the meter, the connection config and the broker session.
// One goroutine runs Run; everybody else submits work through Do.
package controller

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/gasmeter/internal/pkg/meter"
	"github.com/anicoll/gasmeter/internal/pkg/model"
	"github.com/anicoll/gasmeter/internal/pkg/mqtt"
	"github.com/anicoll/gasmeter/internal/pkg/persistence"
	"github.com/anicoll/gasmeter/internal/pkg/publisher"
	"github.com/anicoll/gasmeter/internal/pkg/storage"
)

var (
	ErrRestartRequested = errors.New("restart requested")
	ErrStopped          = errors.New("controller stopped")
)

const shutdownSaveTimeout = 5 * time.Second

// Session is the broker session as seen by the controller.
type Session interface {
	Step(ctx context.Context, now time.Time, linkUp bool)
	Reconnect(ctx context.Context) error
	Disconnect()
	Poll() (model.Message, bool)
	SetConfig(cfg model.ConnectionConfig)
	Config() model.ConnectionConfig
	Connected() bool
	Publish(topic string, retained bool, payload string) error
	DiscoveryPublished() bool
	AnnounceDiscovery() error
	Snapshot() mqtt.SessionState
}

type LinkStepper interface {
	Step(now time.Time) bool
	Reset() error
}

type PulseSource interface {
	Drain() uint32
}

type Recorder interface {
	ObserveSave(err error)
	ObservePublish(err error)
	ObservePulses(n uint32)
	ObserveCorrection()
	SetMeter(pulseCount, offset uint32)
	SetConnectivity(linkUp, mqttConnected bool)
}

type Options struct {
	LoopTick time.Duration
	Version  string
	Defaults persistence.Snapshot
}

type command struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

type Controller struct {
	meter   meter.State
	session Session
	gate    *persistence.Gate
	pub     *publisher.Publisher
	link    LinkStepper
	pulses  PulseSource
	metrics Recorder
	opts    Options

	linkUp           bool
	restartRequested bool
	startedAt        time.Time
	now              func() time.Time

	commands chan command
	stopped  chan struct{}
	logger   *zap.Logger
}

func New(session Session, store storage.Store, link LinkStepper, pulses PulseSource, rec Recorder, opts Options) *Controller {
	return &Controller{
		session:  session,
		gate:     persistence.NewGate(store, rec),
		pub:      publisher.New(session, rec),
		link:     link,
		pulses:   pulses,
		metrics:  rec,
		opts:     opts,
		now:      time.Now,
		commands: make(chan command),
		stopped:  make(chan struct{}),
		logger:   zap.L(),
	}
}

// Run boots from storage and services the loop until ctx is done or a restart is
// requested. Both paths end with a final save.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.stopped)

	c.startedAt = c.now()
	snap := c.gate.Boot(ctx, c.opts.Defaults)
	c.meter = snap.Meter
	c.session.SetConfig(snap.Conn)
	c.metrics.SetMeter(c.meter.PulseCount, c.meter.Offset)

	ticker := time.NewTicker(c.opts.LoopTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case now := <-ticker.C:
			c.step(ctx, now)
		case cmd := <-c.commands:
			cmd.fn(ctx)
			close(cmd.done)
			if c.restartRequested {
				c.logger.Info("restarting on request")
				c.shutdown()
				return ErrRestartRequested
			}
		}
	}
}

// Do runs fn on the loop goroutine and waits for it to finish.
func (c *Controller) Do(ctx context.Context, fn func(ctx context.Context)) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case c.commands <- cmd:
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) step(ctx context.Context, now time.Time) {
	c.linkUp = c.link.Step(now)
	c.session.Step(ctx, now, c.linkUp)

	if n := c.pulses.Drain(); n > 0 {
		c.meter.RegisterPulses(n)
		c.metrics.ObservePulses(n)
	}
	if msg, ok := c.session.Poll(); ok {
		c.handleMessage(ctx, msg)
	}
	c.metrics.SetMeter(c.meter.PulseCount, c.meter.Offset)
	c.metrics.SetConnectivity(c.linkUp, c.session.Connected())
}

// handleMessage applies a correction received on the correction topic. Retained
// values are skipped, otherwise every reconnect would re-apply a stale reading.
func (c *Controller) handleMessage(ctx context.Context, msg model.Message) {
	if msg.Topic != c.session.Config().CorrectionTopic() {
		c.logger.Debug("ignoring message", zap.String("topic", msg.Topic))
		return
	}
	if msg.Retained {
		c.logger.Info("ignoring retained correction", zap.String("payload", msg.Payload))
		return
	}
	v, err := meter.ParseReading(msg.Payload)
	if err != nil {
		c.logger.Warn("invalid correction payload", zap.Error(err), zap.String("payload", msg.Payload))
		return
	}
	res := c.correctTo(ctx, v)
	c.logger.Info("correction received over mqtt", zap.String("value", meter.FormatHundredths(res.Volume)))
}

func (c *Controller) snapshot() persistence.Snapshot {
	return persistence.Snapshot{Meter: c.meter, Conn: c.session.Config()}
}

func (c *Controller) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownSaveTimeout)
	defer cancel()
	if _, err := c.gate.SaveIfChanged(ctx, c.snapshot()); err != nil {
		c.logger.Error("final save failed", zap.Error(err))
	}
	c.session.Disconnect()
}

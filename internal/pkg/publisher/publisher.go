// Package publisher pushes the meter volume to the broker.
package publisher

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/anicoll/gasmeter/internal/pkg/meter"
	"github.com/anicoll/gasmeter/internal/pkg/model"
)

var ErrNotConnected = errors.New("publishing not possible, mqtt not connected")

type session interface {
	Connected() bool
	Publish(topic string, retained bool, payload string) error
	Config() model.ConnectionConfig
	DiscoveryPublished() bool
	AnnounceDiscovery() error
}

type recorder interface {
	ObservePublish(err error)
}

type Publisher struct {
	session  session
	recorder recorder
	last     map[string]string
	logger   *zap.Logger
}

func New(s session, rec recorder) *Publisher {
	return &Publisher{session: s, recorder: rec, last: make(map[string]string), logger: zap.L()}
}

// PublishVolume sends volume to the human topic and, retained, to the state topic.
// Discovery is announced after the first confirmed state publish it is missing for.
func (p *Publisher) PublishVolume(volume uint32) error {
	if !p.session.Connected() {
		p.logger.Info(ErrNotConnected.Error())
		return ErrNotConnected
	}
	cfg := p.session.Config()
	value := meter.FormatHundredths(volume)

	var errs []error
	if err := p.session.Publish(cfg.VolumeTopic(), false, value); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", cfg.VolumeTopic(), err))
	}
	stateErr := p.session.Publish(cfg.StateTopic(), true, value)
	if stateErr != nil {
		errs = append(errs, fmt.Errorf("%s: %w", cfg.StateTopic(), stateErr))
	}
	if stateErr == nil && !p.session.DiscoveryPublished() {
		if err := p.session.AnnounceDiscovery(); err != nil {
			p.logger.Warn("discovery announcement incomplete", zap.Error(err))
		}
	}

	err := errors.Join(errs...)
	if p.recorder != nil {
		p.recorder.ObservePublish(err)
	}
	if err != nil {
		p.logger.Error("failed to publish volume", zap.Error(err))
		return err
	}
	p.logPublished(cfg.StateTopic(), value)
	return nil
}

// logPublished keeps repeated identical values out of the info log.
func (p *Publisher) logPublished(topic, value string) {
	if old, ok := p.last[topic]; ok && old == value {
		p.logger.Debug("published unchanged volume", zap.String("topic", topic), zap.String("value", value))
		return
	}
	p.last[topic] = value
	p.logger.Info("published volume", zap.String("topic", topic), zap.String("value", value))
}

package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/anicoll/gasmeter/internal/pkg/model"
)

const (
	discoveryPrefix = "homeassistant/sensor"
	unitCubicMeters = "m³"
)

type discoveryEntry struct {
	topic   string
	message model.RegisterMessage
}

// AnnounceDiscovery publishes both sensor configs and availability. The published
// flag is only set when all three are confirmed, so a partial attempt is retried.
func (s *Session) AnnounceDiscovery() error {
	if !s.Connected() {
		return ErrNotConnected
	}
	var errs []error
	for _, entry := range discoveryEntries(s.cfg, s.opts.Version) {
		payload, err := json.Marshal(entry.message)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.Publish(entry.topic, true, string(payload)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.topic, err))
		}
	}
	if err := s.Publish(s.cfg.AvailabilityTopic(), true, payloadOnline); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", s.cfg.AvailabilityTopic(), err))
	}
	if err := errors.Join(errs...); err != nil {
		s.discoveryPublished = false
		return err
	}
	s.discoveryPublished = true
	s.logger.Info("home assistant discovery published", zap.String("client_id", s.cfg.ClientID))
	return nil
}

// objectID turns a client id into something usable as a discovery object id.
func objectID(clientID string) string {
	return strings.ReplaceAll(slug.Make(clientID), "-", "_")
}

func discoveryEntries(cfg model.ConnectionConfig, version string) []discoveryEntry {
	id := objectID(cfg.ClientID)
	device := model.RegisterDevice{
		Name:         cfg.ClientID,
		Identifiers:  []string{id},
		Model:        "Gaszaehler",
		Manufacturer: "DIY",
		SWVersion:    version,
	}
	sensor := func(suffix, name, stateTopic, stateClass string) discoveryEntry {
		return discoveryEntry{
			topic: fmt.Sprintf("%s/%s_%s/config", discoveryPrefix, id, suffix),
			message: model.RegisterMessage{
				Name:              fmt.Sprintf("%s %s", cfg.ClientID, name),
				ID:                id + "_" + suffix,
				StateTopic:        stateTopic,
				Unit:              unitCubicMeters,
				ValueTemplate:     "{{ value | float }}",
				StateClass:        stateClass,
				DeviceClass:       "gas",
				Icon:              "mdi:fire",
				AvailabilityTopic: cfg.AvailabilityTopic(),
				Device:            device,
			},
		}
	}
	return []discoveryEntry{
		sensor("gas_volume", "Gas Volume", cfg.StateTopic(), "total_increasing"),
		sensor("current_value", "Current Value", cfg.CorrectionTopic(), "measurement"),
	}
}

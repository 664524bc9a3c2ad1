package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/anicoll/gasmeter/internal/pkg/model"
)

var ErrInvalidDefaults = errors.New("invalid defaults file")

// DefaultsFile is the factory configuration used until a record has been saved.
type DefaultsFile struct {
	MQTT struct {
		Server       string `yaml:"server"`
		Port         uint16 `yaml:"port"`
		User         string `yaml:"user"`
		Password     string `yaml:"password"`
		ClientID     string `yaml:"client_id"`
		TopicGas     string `yaml:"topic_gas"`
		TopicCurrent string `yaml:"topic_current"`
	} `yaml:"mqtt"`
}

// LoadDefaults reads path, or returns built-in defaults when path is empty.
func LoadDefaults(path, clientID string) (model.ConnectionConfig, error) {
	cfg := model.DefaultConnectionConfig(clientID)
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	var f DefaultsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidDefaults, err)
	}
	f.applyTo(&cfg)
	if err := validate(cfg); err != nil {
		return model.DefaultConnectionConfig(clientID), err
	}
	return cfg, nil
}

func (f DefaultsFile) applyTo(cfg *model.ConnectionConfig) {
	m := f.MQTT
	if m.Server != "" {
		cfg.BrokerHost = model.Bounded(m.Server, model.MaxHostLen)
	}
	if m.Port != 0 {
		cfg.BrokerPort = m.Port
	}
	cfg.Username = model.Bounded(m.User, model.MaxUserLen)
	cfg.Password = model.Bounded(m.Password, model.MaxPasswordLen)
	if m.ClientID != "" {
		cfg.ClientID = model.Bounded(m.ClientID, model.MaxIdentLen)
	}
	if m.TopicGas != "" {
		cfg.TopicBase = model.Bounded(m.TopicGas, model.MaxIdentLen)
	}
	if m.TopicCurrent != "" {
		cfg.TopicCurrent = model.Bounded(m.TopicCurrent, model.MaxIdentLen)
	}
}

func validate(cfg model.ConnectionConfig) error {
	if strings.TrimSpace(cfg.BrokerHost) == "" {
		return fmt.Errorf("%w: mqtt.server is required", ErrInvalidDefaults)
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("%w: mqtt.client_id is required", ErrInvalidDefaults)
	}
	return nil
}

// DefaultClientID derives a stable id from the machine id, falling back to the host name.
func DefaultClientID() string {
	if raw, err := os.ReadFile("/etc/machine-id"); err == nil {
		if id := strings.TrimSpace(string(raw)); len(id) >= 6 {
			return "gasmeter-" + id[:6]
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return "gasmeter-" + host
	}
	return "gasmeter"
}

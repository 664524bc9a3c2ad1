package config

import (
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/anicoll/gasmeter/internal/pkg/model"
)

const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	LogLevel string
	Version  string

	Store       string
	DataDir     string
	DatabaseURL string

	HTTPAddr         string
	HTTPPasswordHash string

	SensorPath       string
	LinkInterface    string
	LinkReconnectCmd []string
	LinkResetCmd     []string
	Button1Path      string
	Button2Path      string

	Defaults model.ConnectionConfig
	Timing   Timing
}

// Timing holds intervals and thresholds. They rarely change, so they come from the
// environment only.
type Timing struct {
	LoopTick          time.Duration `env:"LOOP_TICK" envDefault:"20ms"`
	SensorTick        time.Duration `env:"SENSOR_TICK" envDefault:"50ms"`
	PublishInterval   time.Duration `env:"PUBLISH_INTERVAL" envDefault:"1m"`
	SaveInterval      time.Duration `env:"SAVE_INTERVAL" envDefault:"10m"`
	LinkRetryInterval time.Duration `env:"WIFI_RECONNECT_INTERVAL" envDefault:"20s"`
	MQTTRetryInterval time.Duration `env:"MQTT_RECONNECT_INTERVAL" envDefault:"30s"`
	MQTTProbeTimeout  time.Duration `env:"MQTT_PROBE_TIMEOUT" envDefault:"2s"`
	MQTTConnTimeout   time.Duration `env:"MQTT_CONNECT_TIMEOUT" envDefault:"2s"`
	MQTTPubTimeout    time.Duration `env:"MQTT_PUBLISH_TIMEOUT" envDefault:"1s"`
	MQTTKeepAlive     time.Duration `env:"MQTT_KEEPALIVE" envDefault:"15s"`
	LongPress         time.Duration `env:"BUTTON_LONG_PRESS" envDefault:"400ms"`
	HysteresisLow     int           `env:"HYSTERESIS_LOW" envDefault:"500"`
	HysteresisHigh    int           `env:"HYSTERESIS_HIGH" envDefault:"4000"`
}

func LoadTiming() (Timing, error) {
	return env.ParseAs[Timing]()
}

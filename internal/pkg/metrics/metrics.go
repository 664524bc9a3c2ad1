// Package metrics exposes meter and session health to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gasmeter"

type Metrics struct {
	volume        prometheus.Gauge
	pulseCount    prometheus.Gauge
	offset        prometheus.Gauge
	pulses        prometheus.Counter
	mqttConnected prometheus.Gauge
	linkUp        prometheus.Gauge
	saves         prometheus.Counter
	saveFailures  prometheus.Counter
	publishes     prometheus.Counter
	publishFails  prometheus.Counter
	corrections   prometheus.Counter
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	m := &Metrics{
		volume:        gauge("volume_cubic_meters", "Current meter reading."),
		pulseCount:    gauge("pulse_count", "Pulses since the last correction."),
		offset:        gauge("offset_cubic_meters", "Calibration offset set by the last correction."),
		pulses:        counter("pulses_total", "Pulses detected since process start."),
		mqttConnected: gauge("mqtt_connected", "1 while the broker session is up."),
		linkUp:        gauge("link_up", "1 while the network link is up."),
		saves:         counter("saves_total", "Successful state writes."),
		saveFailures:  counter("save_failures_total", "Failed state writes."),
		publishes:     counter("publishes_total", "Successful volume publishes."),
		publishFails:  counter("publish_failures_total", "Failed volume publishes."),
		corrections:   counter("corrections_total", "Absolute corrections applied."),
	}
	reg.MustRegister(
		m.volume, m.pulseCount, m.offset, m.pulses, m.mqttConnected, m.linkUp,
		m.saves, m.saveFailures, m.publishes, m.publishFails, m.corrections,
	)
	return m
}

func (m *Metrics) ObserveSave(err error) {
	if err != nil {
		m.saveFailures.Inc()
		return
	}
	m.saves.Inc()
}

func (m *Metrics) ObservePublish(err error) {
	if err != nil {
		m.publishFails.Inc()
		return
	}
	m.publishes.Inc()
}

func (m *Metrics) ObservePulses(n uint32) {
	m.pulses.Add(float64(n))
}

func (m *Metrics) ObserveCorrection() {
	m.corrections.Inc()
}

// SetMeter records the derived reading, in hundredths.
func (m *Metrics) SetMeter(pulseCount, offset uint32) {
	m.pulseCount.Set(float64(pulseCount))
	m.offset.Set(float64(offset) / 100)
	m.volume.Set(float64(pulseCount+offset) / 100)
}

func (m *Metrics) SetConnectivity(linkUp, mqttConnected bool) {
	m.linkUp.Set(boolToFloat(linkUp))
	m.mqttConnected.Set(boolToFloat(mqttConnected))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Package sensor samples the meter's reed switch and counts pulses.
package sensor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type Sampler interface {
	Read() (int, error)
}

// IIOSampler reads a Linux industrial I/O raw value, e.g.
// /sys/bus/iio/devices/iio:device0/in_voltage0_raw.
type IIOSampler struct {
	Path string
}

func (s IIOSampler) Read() (int, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", s.Path, err)
	}
	return v, nil
}

// errorLogInterval limits how often a failing sampler is logged.
const errorLogInterval = time.Minute

// Sensor runs the sampler on its own goroutine. The only state shared with the
// main loop is the pending pulse counter, touched with single atomic operations.
type Sensor struct {
	sampler  Sampler
	detector Hysteresis
	tick     time.Duration
	pending  atomic.Uint32

	lastErrLog time.Time
	suppressed int
	logger     *zap.Logger
}

func New(sampler Sampler, detector Hysteresis, tick time.Duration) *Sensor {
	return &Sensor{sampler: sampler, detector: detector, tick: tick, logger: zap.L()}
}

func (s *Sensor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.sample(now)
		}
	}
}

func (s *Sensor) sample(now time.Time) {
	v, err := s.sampler.Read()
	if err != nil {
		if now.Sub(s.lastErrLog) >= errorLogInterval {
			s.logger.Error("sensor read failed", zap.Error(err), zap.Int("suppressed", s.suppressed))
			s.lastErrLog = now
			s.suppressed = 0
		} else {
			s.suppressed++
		}
		return
	}
	if s.detector.Feed(v) {
		s.pending.Add(1)
	}
}

// Drain returns and clears the pulses counted since the last call.
func (s *Sensor) Drain() uint32 {
	return s.pending.Swap(0)
}

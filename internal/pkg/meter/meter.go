// Package meter holds the pulse counter and calibration offset. All values are
// hundredths of a cubic meter.
package meter

// State is the authoritative meter reading. Volume is always derived, never stored.
type State struct {
	PulseCount uint32
	Offset     uint32
}

// RegisterPulse counts one detected pulse. Overflow wraps.
func (s *State) RegisterPulse() {
	s.PulseCount++
}

// RegisterPulses counts n pulses drained from the sensing edge in one go.
func (s *State) RegisterPulses(n uint32) {
	s.PulseCount += n
}

// ApplyAbsoluteCorrection re-bases the meter so that CurrentVolume returns v.
// Callers must flush persistence and publish right after.
func (s *State) ApplyAbsoluteCorrection(v uint32) {
	s.PulseCount = 0
	s.Offset = v
}

func (s State) CurrentVolume() uint32 {
	return s.PulseCount + s.Offset
}

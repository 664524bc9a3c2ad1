package sensor

// Hysteresis turns a noisy analog reed switch signal into clean rising edges.
// A pulse fires when the sample rises above High from the low state; the detector
// re-arms only once the sample falls to Low or below.
type Hysteresis struct {
	Low  int
	High int
	high bool
}

// Feed reports whether sample completes a rising edge.
func (h *Hysteresis) Feed(sample int) bool {
	switch {
	case !h.high && sample > h.High:
		h.high = true
		return true
	case h.high && sample <= h.Low:
		h.high = false
	}
	return false
}

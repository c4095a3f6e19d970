// SPDX-License-Identifier: MIT

package frame

import "time"

// RateMeter computes a frames-per-second estimate over a sliding window of
// the most recent ticks. Not safe for concurrent use; each loop owns its own
// meter.
type RateMeter struct {
	window int
	ticks  []time.Time
}

// NewRateMeter creates a meter averaging over the given number of ticks.
func NewRateMeter(window int) *RateMeter {
	if window < 2 {
		window = 2
	}
	return &RateMeter{window: window}
}

// Tick records one processed frame at the given time and returns the current
// rate estimate. It returns 0 until at least two ticks are recorded.
func (m *RateMeter) Tick(now time.Time) float64 {
	m.ticks = append(m.ticks, now)
	if len(m.ticks) > m.window {
		m.ticks = m.ticks[len(m.ticks)-m.window:]
	}
	if len(m.ticks) < 2 {
		return 0
	}
	elapsed := m.ticks[len(m.ticks)-1].Sub(m.ticks[0]).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(len(m.ticks)-1) / elapsed
}

// Rate returns the last computed estimate without recording a tick.
func (m *RateMeter) Rate() float64 {
	if len(m.ticks) < 2 {
		return 0
	}
	elapsed := m.ticks[len(m.ticks)-1].Sub(m.ticks[0]).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(len(m.ticks)-1) / elapsed
}

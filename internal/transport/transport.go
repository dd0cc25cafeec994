// SPDX-License-Identifier: MIT
// Package transport moves published analysis results out of the engine: a
// Poller reads the result channels at the display refresh rate and fans each
// new Frame out to the configured transports.
package transport

import (
	"lfpscope/internal/analysis"
	"lfpscope/internal/engine"
)

// Transport receives result frames. Implementations must be safe for use from
// the poller goroutine while Close runs elsewhere. A frame is never modified
// after Send, so implementations may keep it.
type Transport interface {
	Send(frame *Frame) error
	Close() error
}

// Frame is a self-contained copy of the latest results.
type Frame struct {
	Session     string      `json:"session"`
	Seq         uint64      `json:"seq"`
	Timestamp   int64       `json:"ts"`
	Frequencies []float64   `json:"frequencies"`
	Channels    []int       `json:"channels,omitempty"`
	Power       [][]float32 `json:"power,omitempty"`
	Pairs       [][2]int    `json:"pairs,omitempty"`
	Coherence   [][]float64 `json:"coherence,omitempty"`
}

// HasPower reports whether the frame carries power spectra.
func (f *Frame) HasPower() bool { return len(f.Power) > 0 }

// HasCoherence reports whether the frame carries coherence.
func (f *Frame) HasCoherence() bool { return len(f.Coherence) > 0 }

// PeakFrequency returns the frequency with the most power on row ch.
func (f *Frame) PeakFrequency(ch int) (freq float64, power float32) {
	if ch < 0 || ch >= len(f.Power) {
		return 0, 0
	}
	row := f.Power[ch]
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	if best >= len(row) || best >= len(f.Frequencies) {
		return 0, 0
	}
	return f.Frequencies[best], row[best]
}

// Row returns the index of source channel ch within Power.
func (f *Frame) Row(ch int) (int, bool) {
	for i, src := range f.Channels {
		if src == ch && i < len(f.Power) {
			return i, true
		}
	}
	return 0, false
}

// DominantBand names the default band with the most mean power on row i,
// or returns "" when the row covers none of them.
func (f *Frame) DominantBand(i int) string {
	if i < 0 || i >= len(f.Power) {
		return ""
	}
	b := analysis.DominantBand(f.Frequencies, f.Power[i], analysis.DefaultBands)
	if b < 0 {
		return ""
	}
	return analysis.DefaultBands[b].Name
}

func (f *Frame) copyPower(p *engine.PowerFrame) {
	f.Session = p.Session.String()
	f.Seq = max(f.Seq, p.Seq)
	f.Frequencies = p.Frequencies
	f.Channels = p.Channels
	f.Power = make([][]float32, len(p.Power))
	for i, row := range p.Power {
		f.Power[i] = append([]float32(nil), row...)
	}
}

func (f *Frame) copyCoherence(c *engine.CoherenceFrame) {
	f.Session = c.Session.String()
	f.Seq = max(f.Seq, c.Seq)
	f.Frequencies = c.Frequencies
	f.Pairs = c.Pairs
	f.Coherence = make([][]float64, len(c.Coherence))
	for i, row := range c.Coherence {
		f.Coherence[i] = append([]float64(nil), row...)
	}
}

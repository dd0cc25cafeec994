// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"sync/atomic"
)

const signBit = 1 << 31

// LevelMeter tracks the input peak and counts clipped samples. Observe runs
// on the acquisition thread; the other methods may be called from anywhere.
type LevelMeter struct {
	clipBits atomic.Uint32 // float32 bits of the clip threshold
	peak     atomic.Uint32 // float32 bits of |x| max since the last TakePeak
	clipped  atomic.Uint64
}

// NewLevelMeter returns a meter that counts samples at or above clip.
func NewLevelMeter(clip float64) *LevelMeter {
	m := &LevelMeter{}
	m.SetClipThreshold(clip)
	return m
}

// SetClipThreshold adjusts the clip level.
// The value is in the range of 0.0-1.0 of full scale, where 0 counts every sample.
func (m *LevelMeter) SetClipThreshold(threshold float64) {
	if threshold < 0.0 {
		threshold = 0.0
	}
	if threshold > 1.0 {
		threshold = 1.0
	}
	m.clipBits.Store(math.Float32bits(float32(threshold)))
}

// ClipThreshold returns the current clip level.
func (m *LevelMeter) ClipThreshold() float64 {
	return float64(math.Float32frombits(m.clipBits.Load()))
}

// Observe folds one block into the peak and clip count.
// Performance Critical (Hot Path):
// - No allocations
// - Branchless absolute value and running max on the float bit patterns,
//   which order like integers once the sign bit is cleared
func (m *LevelMeter) Observe(block []float32) {
	limit := int32(m.clipBits.Load())
	var peak int32
	var clips uint64
	for _, x := range block {
		amplitude := int32(math.Float32bits(x) &^ signBit)
		diff := amplitude - peak
		peak += diff &^ (diff >> 31)
		clips += uint64(uint32(limit-amplitude-1) >> 31)
	}

	if clips > 0 {
		m.clipped.Add(clips)
	}
	for {
		old := m.peak.Load()
		if uint32(peak) <= old || m.peak.CompareAndSwap(old, uint32(peak)) {
			return
		}
	}
}

// TakePeak returns the peak since the previous call and starts a new interval.
func (m *LevelMeter) TakePeak() float32 {
	return math.Float32frombits(m.peak.Swap(0))
}

// Clipped returns the total number of samples at or above the clip level.
func (m *LevelMeter) Clipped() uint64 {
	return m.clipped.Load()
}

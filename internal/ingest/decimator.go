// SPDX-License-Identifier: MIT
package ingest

import (
	"fmt"
	"strings"
)

// DecimationMode selects how a group of raw samples becomes one analysis sample.
type DecimationMode int

const (
	// DecimateAverage emits the mean of every group of factor raw samples.
	DecimateAverage DecimationMode = iota
	// DecimateSampleHold emits the first raw sample of every group.
	DecimateSampleHold
)

func (m DecimationMode) String() string {
	switch m {
	case DecimateAverage:
		return "average"
	case DecimateSampleHold:
		return "sample_hold"
	default:
		return "unknown"
	}
}

// ParseDecimationMode converts a config name to a DecimationMode.
func ParseDecimationMode(name string) (DecimationMode, error) {
	switch strings.ToLower(name) {
	case "", "average", "mean":
		return DecimateAverage, nil
	case "sample_hold", "samplehold", "hold":
		return DecimateSampleHold, nil
	default:
		return DecimateAverage, fmt.Errorf("unknown decimation mode: '%s'", name)
	}
}

// Decimator reduces the sample rate by an integer factor. A group left
// partially filled at the end of a block carries its partial sum and count
// into the next call, so the output does not depend on how the raw stream is
// split across callbacks.
type Decimator struct {
	factor int
	mode   DecimationMode

	sum   float64
	held  float64
	count int
}

// NewDecimator returns a decimator for factor (clamped to >= 1).
func NewDecimator(factor int, mode DecimationMode) Decimator {
	if factor < 1 {
		factor = 1
	}
	return Decimator{factor: factor, mode: mode}
}

// Factor returns the decimation factor.
func (d *Decimator) Factor() int {
	return d.factor
}

// Next feeds one raw sample. It returns the decimated sample and true when
// the sample completed a group.
func (d *Decimator) Next(x float32) (float64, bool) {
	v := float64(x)
	if d.count == 0 {
		d.held = v
	}
	d.sum += v
	d.count++
	if d.count < d.factor {
		return 0, false
	}

	out := d.sum / float64(d.factor)
	if d.mode == DecimateSampleHold {
		out = d.held
	}
	d.sum = 0
	d.count = 0
	return out, true
}

// Pending returns the number of raw samples carried in the open group.
func (d *Decimator) Pending() int {
	return d.count
}

// Reset drops any partially accumulated group.
func (d *Decimator) Reset() {
	d.sum = 0
	d.held = 0
	d.count = 0
}

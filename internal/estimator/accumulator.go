// SPDX-License-Identifier: MIT
package estimator

// PowerAccumulator is an exponentially weighted running average of real
// values. Every update decays the previous sum and count by (1-alpha):
//
//	sum   = x + (1-alpha)*sum
//	count = 1 + (1-alpha)*count
//
// With alpha = 0 it is the plain mean of everything added since Reset.
type PowerAccumulator struct {
	alpha float64
	sum   float64
	count float64
}

// NewPowerAccumulator returns an empty accumulator with decay alpha.
func NewPowerAccumulator(alpha float64) PowerAccumulator {
	return PowerAccumulator{alpha: alpha}
}

// AddValue folds x into the average.
func (a *PowerAccumulator) AddValue(x float64) {
	keep := 1 - a.alpha
	a.sum = x + keep*a.sum
	a.count = 1 + keep*a.count
}

// Average returns sum/count, or 0 when nothing has been added.
func (a *PowerAccumulator) Average() float64 {
	if a.count <= 0 {
		return 0
	}
	return a.sum / a.count
}

// Sum returns the decayed sum.
func (a *PowerAccumulator) Sum() float64 { return a.sum }

// Count returns the decayed effective count.
func (a *PowerAccumulator) Count() float64 { return a.count }

// Reset clears the accumulator, keeping alpha.
func (a *PowerAccumulator) Reset() {
	a.sum = 0
	a.count = 0
}

// CrossSpectrumAccumulator is PowerAccumulator over complex cross-spectrum
// products.
type CrossSpectrumAccumulator struct {
	alpha float64
	sum   complex128
	count float64
}

// NewCrossSpectrumAccumulator returns an empty accumulator with decay alpha.
func NewCrossSpectrumAccumulator(alpha float64) CrossSpectrumAccumulator {
	return CrossSpectrumAccumulator{alpha: alpha}
}

// AddValue folds x into the average.
func (a *CrossSpectrumAccumulator) AddValue(x complex128) {
	keep := 1 - a.alpha
	a.sum = x + complex(keep, 0)*a.sum
	a.count = 1 + keep*a.count
}

// Average returns sum/count, or 0 when nothing has been added.
func (a *CrossSpectrumAccumulator) Average() complex128 {
	if a.count <= 0 {
		return 0
	}
	return a.sum / complex(a.count, 0)
}

// Sum returns the decayed sum.
func (a *CrossSpectrumAccumulator) Sum() complex128 { return a.sum }

// Count returns the decayed effective count.
func (a *CrossSpectrumAccumulator) Count() float64 { return a.count }

// Reset clears the accumulator, keeping alpha.
func (a *CrossSpectrumAccumulator) Reset() {
	a.sum = 0
	a.count = 0
}

// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"
)

// KernelConfig fixes everything a kernel bank depends on. Any change to it
// requires a new bank.
type KernelConfig struct {
	SampleRate   float64 // analysis rate after decimation (Hz)
	WindowLength float64 // seconds of support of each kernel
	NFFT         int     // transform length
	FreqStart    float64 // Hz
	FreqStep     float64 // Hz
	NFreqs       int
	Backend      Backend
}

// WindowSamples returns the kernel support in samples.
func (c KernelConfig) WindowSamples() float64 {
	return c.SampleRate * c.WindowLength
}

// Validate reports whether the configuration can produce a bank.
func (c KernelConfig) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("kernel sample rate must be positive, got %g", c.SampleRate)
	case c.WindowLength <= 0:
		return fmt.Errorf("kernel window length must be positive, got %g", c.WindowLength)
	case c.NFFT <= 0:
		return fmt.Errorf("kernel nfft must be positive, got %d", c.NFFT)
	case math.Floor(c.WindowSamples()) > float64(c.NFFT):
		return fmt.Errorf("kernel window of %.0f samples exceeds nfft %d", c.WindowSamples(), c.NFFT)
	case c.NFreqs < 0:
		return fmt.Errorf("kernel frequency count must not be negative, got %d", c.NFreqs)
	}
	return nil
}

// KernelBank holds one frequency-domain kernel per frequency of interest: a
// Hann-tapered complex exponential, forward transformed, ready to multiply
// against a transformed buffer for circular convolution.
type KernelBank struct {
	cfg     KernelConfig
	taper   []float64
	kernels [][]complex128
}

// NewKernelBank generates the full bank for cfg. Generation is deterministic:
// the same config and backend always yield bit-identical kernels.
func NewKernelBank(cfg KernelConfig) (*KernelBank, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tr, err := NewTransformer(cfg.NFFT, cfg.Backend)
	if err != nil {
		return nil, err
	}

	bank := &KernelBank{
		cfg:     cfg,
		taper:   WrappedHann(cfg.NFFT, cfg.WindowSamples()),
		kernels: make([][]complex128, cfg.NFreqs),
	}

	carrier := make([]complex128, cfg.NFFT)
	for f := range bank.kernels {
		w := 2 * math.Pi * bank.Frequency(f) / cfg.SampleRate
		for n := range carrier {
			s, c := math.Sincos(float64(n) * w)
			carrier[n] = complex(c*bank.taper[n], s*bank.taper[n])
		}
		k := make([]complex128, cfg.NFFT)
		tr.Forward(k, carrier)
		bank.kernels[f] = k
	}
	return bank, nil
}

// WrappedHann returns a length-nfft Hann window of width nWindow centered on
// sample zero: the falling half occupies the start of the buffer, the rising
// half the end, and the middle is zero. This is the layout circular
// convolution through the FFT expects.
func WrappedHann(nfft int, nWindow float64) []float64 {
	w := make([]float64, nfft)
	half := nWindow / 2
	for n := range w {
		pos := float64(n)
		switch {
		case pos <= half:
			s := math.Sin(math.Pi*pos/nWindow + math.Pi/2)
			w[n] = s * s
		case pos <= float64(nfft)-half:
			w[n] = 0
		default:
			s := math.Sin(math.Pi * (pos - (float64(nfft) - half)) / nWindow)
			w[n] = s * s
		}
	}
	return w
}

// Config returns the configuration the bank was built from.
func (b *KernelBank) Config() KernelConfig { return b.cfg }

// Len returns the number of kernels.
func (b *KernelBank) Len() int { return len(b.kernels) }

// NFFT returns the length of every kernel.
func (b *KernelBank) NFFT() int { return b.cfg.NFFT }

// Kernel returns the frequency-domain kernel for frequency index f. The
// slice is shared; callers must not modify it.
func (b *KernelBank) Kernel(f int) []complex128 { return b.kernels[f] }

// Frequency returns the center frequency in Hz of kernel f.
func (b *KernelBank) Frequency(f int) float64 {
	return b.cfg.FreqStart + float64(f)*b.cfg.FreqStep
}

// Frequencies returns the center frequency of every kernel.
func (b *KernelBank) Frequencies() []float64 {
	out := make([]float64, len(b.kernels))
	for f := range out {
		out[f] = b.Frequency(f)
	}
	return out
}

// Taper returns the wrapped Hann window used for every kernel.
func (b *KernelBank) Taper() []float64 { return b.taper }

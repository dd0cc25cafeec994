// SPDX-License-Identifier: MIT
package ingest

import "fmt"

// AnalysisBuffer accumulates decimated samples for one channel into a
// fixed-length sliding window.
//
// writeIndex is the next raw slot to fill. After a window is emitted it is
// staged at size-step: a positive value keeps the overlapping tail of the
// previous window, a negative value counts samples to skip before the next
// window begins (hop longer than the window).
type AnalysisBuffer struct {
	raw        []float64 // pre-window samples
	window     []float64 // taper coefficients, len(raw)
	writeIndex int
	step       int
}

// NewAnalysisBuffer allocates a buffer of size samples advancing by step
// samples per window. window must have length size.
func NewAnalysisBuffer(size, step int, window []float64) (*AnalysisBuffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("analysis buffer size must be positive, got %d", size)
	}
	if step <= 0 {
		return nil, fmt.Errorf("analysis buffer step must be positive, got %d", step)
	}
	if len(window) != size {
		return nil, fmt.Errorf("window length %d does not match buffer size %d", len(window), size)
	}
	return &AnalysisBuffer{
		raw:    make([]float64, size),
		window: window,
		step:   step,
	}, nil
}

// Size returns the window length in samples.
func (b *AnalysisBuffer) Size() int { return len(b.raw) }

// Step returns the hop between consecutive windows in samples.
func (b *AnalysisBuffer) Step() int { return b.step }

// WriteIndex returns the next slot to be written (negative while skipping).
func (b *AnalysisBuffer) WriteIndex() int { return b.writeIndex }

// Push appends one sample and reports whether the buffer is now full.
func (b *AnalysisBuffer) Push(x float64) bool {
	if b.writeIndex < 0 {
		b.writeIndex++
		return false
	}
	b.raw[b.writeIndex] = x
	b.writeIndex++
	return b.writeIndex == len(b.raw)
}

// Emit writes the tapered window into dst (len Size()) and stages the next
// window: the last Size()-Step() raw samples move to the front.
func (b *AnalysisBuffer) Emit(dst []float64) {
	for i, v := range b.raw {
		dst[i] = v * b.window[i]
	}

	keep := len(b.raw) - b.step
	if keep > 0 {
		copy(b.raw, b.raw[b.step:])
	}
	b.writeIndex = keep
}

// Reset discards all buffered samples.
func (b *AnalysisBuffer) Reset() {
	for i := range b.raw {
		b.raw[i] = 0
	}
	b.writeIndex = 0
}

// SPDX-License-Identifier: MIT
// Package testsignal generates deterministic multi-channel test streams and
// locates spectral peaks in the results.
package testsignal

import (
	"math"
	"math/rand/v2"
)

// Sine returns size samples of amplitude*sin(2*pi*frequency*t + phase).
func Sine(size int, sampleRate, frequency, amplitude, phase float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = float32(amplitude * math.Sin(2*math.Pi*frequency*t+phase))
	}
	return buffer
}

// DC returns size samples of a constant level.
func DC(size int, level float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		buffer[i] = float32(level)
	}
	return buffer
}

// Noise returns size samples of uniform noise in [-amplitude, amplitude). The
// same seed always yields the same samples.
func Noise(size int, amplitude float64, seed uint64) []float32 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	buffer := make([]float32, size)
	for i := range buffer {
		buffer[i] = float32(amplitude * (2*rng.Float64() - 1))
	}
	return buffer
}

// Mix returns the element-wise sum of signals, truncated to the shortest.
func Mix(signals ...[]float32) []float32 {
	if len(signals) == 0 {
		return nil
	}
	n := len(signals[0])
	for _, s := range signals[1:] {
		n = min(n, len(s))
	}
	out := make([]float32, n)
	for _, s := range signals {
		for i := range out {
			out[i] += s[i]
		}
	}
	return out
}

// Interleave packs per-channel signals frame by frame, truncated to the
// shortest channel, the layout a PortAudio input callback delivers.
func Interleave(channels ...[]float32) []float32 {
	if len(channels) == 0 {
		return nil
	}
	frames := len(channels[0])
	for _, c := range channels[1:] {
		frames = min(frames, len(c))
	}
	out := make([]float32, frames*len(channels))
	for n := range frames {
		for ch, c := range channels {
			out[n*len(channels)+ch] = c[n]
		}
	}
	return out
}

// Blocks cuts samples into consecutive blocks whose lengths cycle through
// sizes. The blocks alias samples.
func Blocks(samples []float32, sizes ...int) [][]float32 {
	if len(sizes) == 0 {
		return [][]float32{samples}
	}
	var blocks [][]float32
	for i, k := 0, 0; i < len(samples); k++ {
		n := max(sizes[k%len(sizes)], 1)
		n = min(n, len(samples)-i)
		blocks = append(blocks, samples[i:i+n])
		i += n
	}
	return blocks
}

// FindPeakBin returns the index of the largest value in
// magnitudes[startBin:endBin+1], clamping the range to the slice.
func FindPeakBin[T float32 | float64](magnitudes []T, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}

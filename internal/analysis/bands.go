// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Band is a named frequency range, Low inclusive and High exclusive.
type Band struct {
	Name string
	Low  float64
	High float64
}

// DefaultBands are the conventional LFP/EEG rhythms.
var DefaultBands = []Band{
	{Name: "delta", Low: 1, High: 4},
	{Name: "theta", Low: 4, High: 8},
	{Name: "alpha", Low: 8, High: 13},
	{Name: "beta", Low: 13, High: 30},
	{Name: "gamma", Low: 30, High: 80},
	{Name: "high-gamma", Low: 80, High: 200},
}

// BandPower averages power over the bins of each band. A band that holds no
// bin reports NaN.
func BandPower(freqs []float64, power []float32, bands []Band) []float64 {
	out := make([]float64, len(bands))
	for i, b := range bands {
		var sum float64
		var n int
		for j, f := range freqs {
			if j >= len(power) {
				break
			}
			if f >= b.Low && f < b.High {
				sum += float64(power[j])
				n++
			}
		}
		if n == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(n)
	}
	return out
}

// DominantBand returns the index of the band with the largest mean power, or
// -1 when no band holds a bin.
func DominantBand(freqs []float64, power []float32, bands []Band) int {
	best, idx := math.Inf(-1), -1
	for i, p := range BandPower(freqs, power, bands) {
		if !math.IsNaN(p) && p > best {
			best, idx = p, i
		}
	}
	return idx
}

// ParseBands reads a list such as "theta:4-8,gamma:30-80".
func ParseBands(s string) ([]Band, error) {
	var out []Band
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		name, span, ok := strings.Cut(field, ":")
		if !ok {
			return nil, fmt.Errorf("band %q: want name:low-high", field)
		}
		lo, hi, ok := strings.Cut(span, "-")
		if !ok {
			return nil, fmt.Errorf("band %q: want name:low-high", field)
		}
		low, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
		if err != nil {
			return nil, fmt.Errorf("band %q: %w", field, err)
		}
		high, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
		if err != nil {
			return nil, fmt.Errorf("band %q: %w", field, err)
		}
		if low < 0 || high <= low {
			return nil, fmt.Errorf("band %q: empty range", field)
		}
		out = append(out, Band{Name: strings.TrimSpace(name), Low: low, High: high})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no bands in %q", s)
	}
	return out, nil
}

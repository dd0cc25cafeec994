// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc selects the taper applied to each analysis window before the
// transform.
type WindowFunc int

const (
	Hann WindowFunc = iota
	Hamming
	Blackman
	BlackmanNuttall
	BartlettHann
	Lanczos
	Nuttall
	Triangular
	Rectangular
)

// ErrUnknownWindow is returned by ParseWindowFunc.
var ErrUnknownWindow = errors.New("unknown window function")

type taper struct {
	name    string
	aliases []string
	apply   func([]float64) []float64
}

// tapers is indexed by WindowFunc. The gonum functions scale in place.
var tapers = [...]taper{
	Hann:            {"hann", []string{"hanning"}, window.Hann},
	Hamming:         {"hamming", nil, window.Hamming},
	Blackman:        {"blackman", nil, window.Blackman},
	BlackmanNuttall: {"blackmannuttall", nil, window.BlackmanNuttall},
	BartlettHann:    {"bartletthann", nil, window.BartlettHann},
	Lanczos:         {"lanczos", nil, window.Lanczos},
	Nuttall:         {"nuttall", nil, window.Nuttall},
	Triangular:      {"triangular", []string{"bartlett"}, window.Triangular},
	Rectangular:     {"rectangular", []string{"boxcar", "none"}, window.Rectangular},
}

func (w WindowFunc) valid() bool { return w >= 0 && int(w) < len(tapers) }

func (w WindowFunc) String() string {
	if !w.valid() {
		return fmt.Sprintf("WindowFunc(%d)", int(w))
	}
	return tapers[w].name
}

// ParseWindowFunc maps a case-insensitive name or alias to a WindowFunc. The
// empty name means Hann. Unknown names return Hann with ErrUnknownWindow.
func ParseWindowFunc(name string) (WindowFunc, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return Hann, nil
	}
	for w, t := range tapers {
		if t.name == key {
			return WindowFunc(w), nil
		}
		for _, alias := range t.aliases {
			if alias == key {
				return WindowFunc(w), nil
			}
		}
	}
	return Hann, fmt.Errorf("%w: %q", ErrUnknownWindow, name)
}

// Coefficients returns n taper coefficients for wf. Fewer than two points
// are left at one since the gonum definitions divide by n-1. An invalid wf
// falls back to Hann.
func Coefficients(n int, wf WindowFunc) []float64 {
	coeffs := make([]float64, n)
	for i := range coeffs {
		coeffs[i] = 1
	}
	if n < 2 {
		return coeffs
	}
	if !wf.valid() {
		wf = Hann
	}
	return tapers[wf].apply(coeffs)
}

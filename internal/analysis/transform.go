// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"strings"

	dspfft "github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Transformer is the complex discrete Fourier transform contract used by the
// kernel bank and the estimator. Both directions are unnormalized: a Forward
// followed by an Inverse multiplies the input by Len().
//
// dst and src must both have length Len(). A Transformer holds scratch state
// and must not be shared between goroutines.
type Transformer interface {
	Len() int
	Forward(dst, src []complex128)
	Inverse(dst, src []complex128)
}

// Backend selects the library behind a Transformer.
type Backend int

const (
	// BackendGonum uses gonum's CmplxFFT (any length, no allocation per call).
	BackendGonum Backend = iota
	// BackendGoDSP uses go-dsp's radix-2 / Bluestein FFT.
	BackendGoDSP
)

func (b Backend) String() string {
	switch b {
	case BackendGonum:
		return "gonum"
	case BackendGoDSP:
		return "godsp"
	default:
		return "unknown"
	}
}

// ParseBackend converts a config name to a Backend.
func ParseBackend(name string) (Backend, error) {
	switch strings.ToLower(name) {
	case "", "gonum":
		return BackendGonum, nil
	case "godsp", "go-dsp":
		return BackendGoDSP, nil
	default:
		return BackendGonum, fmt.Errorf("unknown fft backend: '%s'", name)
	}
}

// NewTransformer returns a Transformer of length n for backend.
func NewTransformer(n int, backend Backend) (Transformer, error) {
	if n <= 0 {
		return nil, fmt.Errorf("transform length must be positive, got %d", n)
	}
	switch backend {
	case BackendGonum:
		return &gonumTransformer{fft: fourier.NewCmplxFFT(n), n: n}, nil
	case BackendGoDSP:
		return &godspTransformer{n: n}, nil
	default:
		return nil, fmt.Errorf("unsupported fft backend %v", backend)
	}
}

type gonumTransformer struct {
	fft *fourier.CmplxFFT
	n   int
}

func (t *gonumTransformer) Len() int { return t.n }

func (t *gonumTransformer) Forward(dst, src []complex128) {
	t.fft.Coefficients(dst, src)
}

func (t *gonumTransformer) Inverse(dst, src []complex128) {
	t.fft.Sequence(dst, src)
}

// godspTransformer adapts go-dsp, which allocates its result and normalizes
// the inverse by 1/n.
type godspTransformer struct {
	n int
}

func (t *godspTransformer) Len() int { return t.n }

func (t *godspTransformer) Forward(dst, src []complex128) {
	t.check(dst, src)
	copy(dst, dspfft.FFT(src))
}

func (t *godspTransformer) Inverse(dst, src []complex128) {
	t.check(dst, src)
	scale := complex(float64(t.n), 0)
	for i, v := range dspfft.IFFT(src) {
		dst[i] = v * scale
	}
}

func (t *godspTransformer) check(dst, src []complex128) {
	if len(dst) != t.n || len(src) != t.n {
		panic(fmt.Sprintf("analysis: transform length mismatch: dst %d, src %d, want %d", len(dst), len(src), t.n))
	}
}

// SPDX-License-Identifier: MIT
/*
Package estimator turns tapered analysis windows into running power spectra
and pairwise coherence.

Every (channel, frequency, time point) owns a PowerAccumulator and every
(pair, frequency, time point) a CrossSpectrumAccumulator; all arithmetic is
float64. An Estimator is owned by exactly one goroutine (the analysis worker)
and is rebuilt, never resized, when the analysis parameters change.
*/
package estimator

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"strings"

	"github.com/montanaflynn/stats"

	"lfpscope/internal/analysis"
)

var (
	// ErrChannelRange is returned for a channel index outside the estimator.
	ErrChannelRange = errors.New("estimator: channel index out of range")
	// ErrSamePair is returned when coherence is requested for a channel with itself.
	ErrSamePair = errors.New("estimator: coherence needs two distinct channels")
)

// Extraction selects how a frequency of interest is read from a transformed
// window.
type Extraction int

const (
	// ExtractBin takes the transform bin nearest to each frequency. One time
	// point per window.
	ExtractBin Extraction = iota
	// ExtractWavelet multiplies by the frequency's kernel, inverse transforms
	// and samples the time-localized amplitude at NTimes points.
	ExtractWavelet
)

func (e Extraction) String() string {
	switch e {
	case ExtractBin:
		return "bin"
	case ExtractWavelet:
		return "wavelet"
	default:
		return "unknown"
	}
}

// ParseExtraction converts a config name to an Extraction.
func ParseExtraction(name string) (Extraction, error) {
	switch strings.ToLower(name) {
	case "", "bin", "fft":
		return ExtractBin, nil
	case "wavelet", "kernel":
		return ExtractWavelet, nil
	default:
		return ExtractBin, fmt.Errorf("unknown extraction mode: '%s'", name)
	}
}

// Policy selects how absorbed windows combine.
type Policy int

const (
	// PolicyCumulative decays and accumulates across windows.
	PolicyCumulative Policy = iota
	// PolicyInstantaneous resets the accumulators before every absorption, so
	// each published value describes the latest window alone.
	PolicyInstantaneous
)

func (p Policy) String() string {
	switch p {
	case PolicyCumulative:
		return "cumulative"
	case PolicyInstantaneous:
		return "instantaneous"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a config name to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(name) {
	case "", "cumulative":
		return PolicyCumulative, nil
	case "instantaneous", "instant":
		return PolicyInstantaneous, nil
	default:
		return PolicyCumulative, fmt.Errorf("unknown accumulation policy: '%s'", name)
	}
}

// CoherenceOutput selects the per-frequency statistic Coherence reports
// across time points.
type CoherenceOutput int

const (
	// CoherenceDispersion reports the sample standard deviation of the
	// per-time coherence values, and 0 with fewer than two time points.
	CoherenceDispersion CoherenceOutput = iota
	// CoherenceMean reports the mean of the per-time coherence values.
	CoherenceMean
)

func (o CoherenceOutput) String() string {
	switch o {
	case CoherenceDispersion:
		return "dispersion"
	case CoherenceMean:
		return "mean"
	default:
		return "unknown"
	}
}

// ParseCoherenceOutput converts a config name to a CoherenceOutput.
func ParseCoherenceOutput(name string) (CoherenceOutput, error) {
	switch strings.ToLower(name) {
	case "", "dispersion", "stddev":
		return CoherenceDispersion, nil
	case "mean":
		return CoherenceMean, nil
	default:
		return CoherenceDispersion, fmt.Errorf("unknown coherence output: '%s'", name)
	}
}

// Config sizes an Estimator.
type Config struct {
	Channels       int
	SampleRate     float64 // analysis rate after decimation (Hz)
	WindowLength   float64 // kernel support in seconds
	SegmentSamples int     // samples per absorbed window
	NFFT           int     // transform length, >= SegmentSamples
	FreqStart      float64
	FreqStep       float64
	NFreqs         int
	NTimes         int // time points per window in wavelet mode
	Alpha          float64

	Extraction Extraction
	Policy     Policy
	Output     CoherenceOutput
	Backend    analysis.Backend
}

// coherenceSlack is the rounding excess above 1 that singleCoherence folds
// back to 1.
const coherenceSlack = 1e-9

// Estimator is the cumulative time-frequency estimator.
type Estimator struct {
	cfg    Config
	nTimes int

	tr    analysis.Transformer
	bank  *analysis.KernelBank // nil in bin mode
	bins  []int                // nearest bin per frequency, bin mode
	times []int                // sample offset per time point, wavelet mode
	scale float64              // wavelet amplitude scale

	in   []complex128
	spec []complex128
	conv []complex128

	power    [][][]PowerAccumulator         // [channel][freq][time]
	spectrum [][][]complex128               // [channel][freq][time]
	cross    [][][]CrossSpectrumAccumulator // [pair][freq][time]

	coh []float64
}

// New builds an estimator and, in wavelet mode, its kernel bank.
func New(cfg Config) (*Estimator, error) {
	if cfg.Channels <= 0 {
		return nil, fmt.Errorf("estimator needs at least one channel, got %d", cfg.Channels)
	}
	if !(cfg.SampleRate > 0) || math.IsInf(cfg.SampleRate, 0) {
		return nil, fmt.Errorf("estimator sample rate must be positive, got %g", cfg.SampleRate)
	}
	if cfg.SegmentSamples <= 0 || cfg.NFFT < cfg.SegmentSamples {
		return nil, fmt.Errorf("estimator nfft %d must cover segment of %d samples", cfg.NFFT, cfg.SegmentSamples)
	}
	if cfg.NFreqs < 0 {
		return nil, fmt.Errorf("estimator frequency count must not be negative, got %d", cfg.NFreqs)
	}
	if !(cfg.Alpha >= 0 && cfg.Alpha <= 1) {
		return nil, fmt.Errorf("estimator alpha must be in [0, 1], got %g", cfg.Alpha)
	}

	tr, err := analysis.NewTransformer(cfg.NFFT, cfg.Backend)
	if err != nil {
		return nil, err
	}

	e := &Estimator{
		cfg:  cfg,
		tr:   tr,
		in:   make([]complex128, cfg.NFFT),
		spec: make([]complex128, cfg.NFFT),
	}

	switch cfg.Extraction {
	case ExtractWavelet:
		e.bank, err = analysis.NewKernelBank(analysis.KernelConfig{
			SampleRate:   cfg.SampleRate,
			WindowLength: cfg.WindowLength,
			NFFT:         cfg.NFFT,
			FreqStart:    cfg.FreqStart,
			FreqStep:     cfg.FreqStep,
			NFreqs:       cfg.NFreqs,
			Backend:      cfg.Backend,
		})
		if err != nil {
			return nil, fmt.Errorf("building kernel bank: %w", err)
		}
		e.nTimes = max(cfg.NTimes, 1)
		nWindow := cfg.SampleRate * cfg.WindowLength
		e.times = timePoints(cfg.SegmentSamples, nWindow, e.nTimes)
		e.scale = math.Sqrt(2/nWindow) / float64(cfg.NFFT)
		e.conv = make([]complex128, cfg.NFFT)
	case ExtractBin:
		e.nTimes = 1
		e.bins = make([]int, cfg.NFreqs)
		for f := range e.bins {
			freq := cfg.FreqStart + float64(f)*cfg.FreqStep
			bin := int(math.Round(freq * float64(cfg.NFFT) / cfg.SampleRate))
			e.bins[f] = min(max(bin, 0), cfg.NFFT-1)
		}
	default:
		return nil, fmt.Errorf("unsupported extraction mode %v", cfg.Extraction)
	}

	e.power = make([][][]PowerAccumulator, cfg.Channels)
	e.spectrum = make([][][]complex128, cfg.Channels)
	for ch := range e.power {
		e.power[ch] = make([][]PowerAccumulator, cfg.NFreqs)
		e.spectrum[ch] = make([][]complex128, cfg.NFreqs)
		for f := range e.power[ch] {
			e.power[ch][f] = make([]PowerAccumulator, e.nTimes)
			for t := range e.power[ch][f] {
				e.power[ch][f][t] = NewPowerAccumulator(cfg.Alpha)
			}
			e.spectrum[ch][f] = make([]complex128, e.nTimes)
		}
	}

	e.cross = make([][][]CrossSpectrumAccumulator, PairCount(cfg.Channels))
	for p := range e.cross {
		e.cross[p] = make([][]CrossSpectrumAccumulator, cfg.NFreqs)
		for f := range e.cross[p] {
			e.cross[p][f] = make([]CrossSpectrumAccumulator, e.nTimes)
			for t := range e.cross[p][f] {
				e.cross[p][f][t] = NewCrossSpectrumAccumulator(cfg.Alpha)
			}
		}
	}
	e.coh = make([]float64, e.nTimes)
	return e, nil
}

// timePoints spreads n sample offsets over the part of a segment at least
// half a kernel away from either edge. Segments too short to have an interior
// collapse onto their midpoint.
func timePoints(segment int, nWindow float64, n int) []int {
	out := make([]int, n)
	trim := nWindow / 2
	first, last := trim, float64(segment-1)-trim
	if n == 1 || last < first {
		mid := (segment - 1) / 2
		for i := range out {
			out[i] = mid
		}
		return out
	}
	span := (last - first) / float64(n-1)
	for i := range out {
		out[i] = int(math.Round(first + float64(i)*span))
	}
	return out
}

// Config returns the configuration the estimator was built from.
func (e *Estimator) Config() Config { return e.cfg }

// Channels returns the number of channels.
func (e *Estimator) Channels() int { return e.cfg.Channels }

// NFreqs returns the number of frequencies of interest.
func (e *Estimator) NFreqs() int { return e.cfg.NFreqs }

// NTimes returns the number of time points per window (1 in bin mode).
func (e *Estimator) NTimes() int { return e.nTimes }

// Frequency returns the frequency in Hz of index f.
func (e *Estimator) Frequency(f int) float64 {
	return e.cfg.FreqStart + float64(f)*e.cfg.FreqStep
}

// Frequencies returns every frequency of interest in Hz.
func (e *Estimator) Frequencies() []float64 {
	out := make([]float64, e.cfg.NFreqs)
	for f := range out {
		out[f] = e.Frequency(f)
	}
	return out
}

// AbsorbBuffer transforms one tapered window of channel ch and folds the
// power at every frequency of interest into that channel's accumulators. The
// complex amplitudes are kept for the next Coherence call.
func (e *Estimator) AbsorbBuffer(ch int, samples []float64) error {
	if ch < 0 || ch >= e.cfg.Channels {
		return fmt.Errorf("%w: %d of %d", ErrChannelRange, ch, e.cfg.Channels)
	}
	if len(samples) > e.cfg.NFFT {
		return fmt.Errorf("window of %d samples exceeds nfft %d", len(samples), e.cfg.NFFT)
	}
	for i, v := range samples {
		e.in[i] = complex(v, 0)
	}
	for i := len(samples); i < len(e.in); i++ {
		e.in[i] = 0
	}
	e.tr.Forward(e.spec, e.in)
	e.AbsorbSpectrum(ch, e.spec)
	return nil
}

// AbsorbSpectrum folds an already forward-transformed window (length NFFT)
// into channel ch. The caller guarantees ch is in range.
func (e *Estimator) AbsorbSpectrum(ch int, spec []complex128) {
	power := e.power[ch]
	amp := e.spectrum[ch]

	for f := range power {
		if e.cfg.Policy == PolicyInstantaneous {
			for t := range power[f] {
				power[f][t].Reset()
			}
		}

		if e.bank == nil {
			v := spec[e.bins[f]]
			amp[f][0] = v
			power[f][0].AddValue(real(v)*real(v) + imag(v)*imag(v))
			continue
		}

		kernel := e.bank.Kernel(f)
		for n := range e.conv {
			e.conv[n] = spec[n] * kernel[n]
		}
		e.tr.Inverse(e.conv, e.conv)
		for t, at := range e.times {
			v := e.conv[at] * complex(e.scale, 0)
			amp[f][t] = v
			power[f][t].AddValue(real(v)*real(v) + imag(v)*imag(v))
		}
	}
}

// CurrentPower writes the average power per frequency of channel ch into dst,
// averaged over time points.
func (e *Estimator) CurrentPower(ch int, dst []float32) error {
	if ch < 0 || ch >= e.cfg.Channels {
		return fmt.Errorf("%w: %d of %d", ErrChannelRange, ch, e.cfg.Channels)
	}
	if len(dst) != e.cfg.NFreqs {
		return fmt.Errorf("power destination has %d entries, want %d", len(dst), e.cfg.NFreqs)
	}
	for f, accs := range e.power[ch] {
		var sum float64
		for t := range accs {
			sum += accs[t].Average()
		}
		dst[f] = float32(sum / float64(len(accs)))
	}
	return nil
}

// Coherence folds the latest cross-spectrum of channels a and b into the
// pair's accumulators and writes one value per frequency into dst.
//
// Per time point the magnitude-squared coherence |Pxy|^2/(Pxx*Pyy) is formed
// from the running averages (0 when either auto power is 0). The reported
// statistic across time points depends on Config.Output; the default
// dispersion output is 0 with fewer than two time points.
func (e *Estimator) Coherence(a, b int, dst []float64) error {
	a, b, pair, err := e.pair(a, b)
	if err != nil {
		return err
	}
	if len(dst) != e.cfg.NFreqs {
		return fmt.Errorf("coherence destination has %d entries, want %d", len(dst), e.cfg.NFreqs)
	}

	cross := e.cross[pair]
	for f := range cross {
		for t := range cross[f] {
			if e.cfg.Policy == PolicyInstantaneous {
				cross[f][t].Reset()
			}
			cross[f][t].AddValue(e.spectrum[a][f][t] * cmplx.Conj(e.spectrum[b][f][t]))
		}
	}

	for f := range dst {
		e.rawCoherence(a, b, pair, f, e.coh)
		dst[f] = e.summarize(e.coh)
	}
	return nil
}

func (e *Estimator) summarize(coh []float64) float64 {
	switch e.cfg.Output {
	case CoherenceMean:
		m, err := stats.Mean(stats.Float64Data(coh))
		if err != nil {
			return 0
		}
		return m
	default:
		if len(coh) < 2 {
			return 0
		}
		sd, err := stats.StandardDeviationSample(stats.Float64Data(coh))
		if err != nil || math.IsNaN(sd) {
			return 0
		}
		return sd
	}
}

// RawCoherence writes the per-time-point coherence of channels a and b at
// frequency index f into dst (length NTimes) without updating anything.
func (e *Estimator) RawCoherence(a, b, f int, dst []float64) error {
	a, b, pair, err := e.pair(a, b)
	if err != nil {
		return err
	}
	if f < 0 || f >= e.cfg.NFreqs {
		return fmt.Errorf("frequency index %d out of range [0, %d)", f, e.cfg.NFreqs)
	}
	if len(dst) != e.nTimes {
		return fmt.Errorf("coherence destination has %d entries, want %d", len(dst), e.nTimes)
	}
	e.rawCoherence(a, b, pair, f, dst)
	return nil
}

func (e *Estimator) rawCoherence(a, b, pair, f int, dst []float64) {
	for t := range dst {
		pxx := e.power[a][f][t].Average()
		pyy := e.power[b][f][t].Average()
		dst[t] = singleCoherence(pxx, pyy, e.cross[pair][f][t].Average())
	}
}

func singleCoherence(pxx, pyy float64, pxy complex128) float64 {
	den := pxx * pyy
	if den <= 0 {
		return 0
	}
	c := (real(pxy)*real(pxy) + imag(pxy)*imag(pxy)) / den
	// Rounding can push a perfectly coherent pair a hair above 1. Anything
	// further out is left visible.
	if c > 1 && c <= 1+coherenceSlack {
		return 1
	}
	return c
}

// Reset clears every accumulator.
func (e *Estimator) Reset() {
	for ch := range e.power {
		for f := range e.power[ch] {
			for t := range e.power[ch][f] {
				e.power[ch][f][t].Reset()
				e.spectrum[ch][f][t] = 0
			}
		}
	}
	for p := range e.cross {
		for f := range e.cross[p] {
			for t := range e.cross[p][f] {
				e.cross[p][f][t].Reset()
			}
		}
	}
}

// pair validates (a, b) and returns it in ascending order with its index.
// The cross accumulator always holds spectrum[low]·conj(spectrum[high]), so
// either call order feeds the same running average.
func (e *Estimator) pair(a, b int) (lo, hi, idx int, err error) {
	n := e.cfg.Channels
	if a < 0 || a >= n || b < 0 || b >= n {
		return 0, 0, 0, fmt.Errorf("%w: pair (%d, %d) of %d", ErrChannelRange, a, b, n)
	}
	if a == b {
		return 0, 0, 0, ErrSamePair
	}
	lo, hi = min(a, b), max(a, b)
	return lo, hi, PairIndex(lo, hi, n), nil
}

// PairCount returns the number of unordered channel pairs among n channels.
func PairCount(n int) int {
	return n * (n - 1) / 2
}

// PairIndex returns the position of the unordered pair (a, b) in the
// row-major upper triangle of an n-channel matrix. a and b must differ.
func PairIndex(a, b, n int) int {
	if a > b {
		a, b = b, a
	}
	return a*(2*n-a-1)/2 + (b - a - 1)
}

// Pairs lists every unordered pair (a < b) in PairIndex order.
func Pairs(n int) [][2]int {
	out := make([][2]int, 0, PairCount(n))
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			out = append(out, [2]int{a, b})
		}
	}
	return out
}

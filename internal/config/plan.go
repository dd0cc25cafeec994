// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"lfpscope/internal/analysis"
	"lfpscope/internal/estimator"
	"lfpscope/internal/ingest"
	"lfpscope/pkg/bitint"
)

// DisplayMode selects which results the engine publishes.
type DisplayMode int

const (
	DisplayPower DisplayMode = iota
	DisplayCoherence
	DisplayBoth
)

func (d DisplayMode) String() string {
	switch d {
	case DisplayPower:
		return "power"
	case DisplayCoherence:
		return "coherence"
	case DisplayBoth:
		return "both"
	default:
		return "unknown"
	}
}

// Power reports whether power spectra are published.
func (d DisplayMode) Power() bool { return d == DisplayPower || d == DisplayBoth }

// Coherence reports whether pairwise coherence is published.
func (d DisplayMode) Coherence() bool { return d == DisplayCoherence || d == DisplayBoth }

// ParseDisplayMode converts a config name to a DisplayMode.
func ParseDisplayMode(name string) (DisplayMode, error) {
	switch strings.ToLower(name) {
	case "", "power", "spectrum":
		return DisplayPower, nil
	case "coherence":
		return DisplayCoherence, nil
	case "both", "all":
		return DisplayBoth, nil
	default:
		return DisplayPower, fmt.Errorf("%w: display %q", ErrBadOption, name)
	}
}

// options are the parsed enum settings of an AnalysisConfig.
type options struct {
	window     analysis.WindowFunc
	backend    analysis.Backend
	decimation ingest.DecimationMode
	extraction estimator.Extraction
	policy     estimator.Policy
	output     estimator.CoherenceOutput
	display    DisplayMode
}

func parseOptions(a AnalysisConfig) (options, error) {
	var o options
	var err error
	if o.window, err = analysis.ParseWindowFunc(a.Window); err != nil {
		return o, fmt.Errorf("%w: %v", ErrBadOption, err)
	}
	if o.backend, err = analysis.ParseBackend(a.FFTBackend); err != nil {
		return o, fmt.Errorf("%w: %v", ErrBadOption, err)
	}
	if o.decimation, err = ingest.ParseDecimationMode(a.Decimation); err != nil {
		return o, fmt.Errorf("%w: %v", ErrBadOption, err)
	}
	if o.extraction, err = estimator.ParseExtraction(a.Extraction); err != nil {
		return o, fmt.Errorf("%w: %v", ErrBadOption, err)
	}
	if o.policy, err = estimator.ParsePolicy(a.Accumulation); err != nil {
		return o, fmt.Errorf("%w: %v", ErrBadOption, err)
	}
	if o.output, err = estimator.ParseCoherenceOutput(a.CoherenceOutput); err != nil {
		return o, fmt.Errorf("%w: %v", ErrBadOption, err)
	}
	if o.display, err = ParseDisplayMode(a.Display); err != nil {
		return o, err
	}
	return o, nil
}

// WindowLengthFor picks a kernel length for a frequency span: wider spans
// reach higher frequencies, which resolve in shorter windows.
func WindowLengthFor(span float64) float64 {
	switch {
	case span >= 500:
		return 0.25
	case span >= 100:
		return 0.5
	case span >= 20:
		return 1
	default:
		return 2
	}
}

// Plan is the immutable, fully derived analysis setup for one source rate.
// Building a Plan is the reconfiguration boundary: every rejection and clamp
// happens here, before any buffer or kernel is allocated.
type Plan struct {
	SourceRate       float64
	Selection        []int
	DownsampleFactor int
	SampleRate       float64 // analysis rate after decimation

	WindowLength  float64 // kernel support (s)
	SegmentLength float64 // analysis window (s)
	HopLength     float64 // spacing of windows (s)
	StepLength    float64 // spacing of times of interest (s)

	BufferSize int // samples per analysis window
	StepSize   int // samples between window starts
	NFFT       int

	FreqStart float64
	FreqEnd   float64
	FreqStep  float64
	NFreqs    int
	NTimes    int
	Alpha     float64

	Window     analysis.WindowFunc
	Backend    analysis.Backend
	Decimation ingest.DecimationMode
	Extraction estimator.Extraction
	Policy     estimator.Policy
	Output     estimator.CoherenceOutput
	Display    DisplayMode

	PollInterval time.Duration

	// Warnings lists the clamps applied while deriving the plan.
	Warnings []string
}

// NewPlan validates a against sourceRate and derives every size the engine
// needs. Out-of-range settings that have an obvious safe value are clamped
// and reported in Plan.Warnings; the rest are rejected.
func NewPlan(a AnalysisConfig, sourceRate float64) (*Plan, error) {
	if sourceRate <= 0 || math.IsNaN(sourceRate) || math.IsInf(sourceRate, 0) {
		return nil, fmt.Errorf("%w: source rate %g", ErrBadSampleRate, sourceRate)
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	opts, err := parseOptions(a)
	if err != nil {
		return nil, err
	}

	p := &Plan{
		SourceRate: sourceRate,
		Selection:  append([]int(nil), a.Channels...),
		Alpha:      a.Alpha,
		Window:     opts.window,
		Backend:    opts.backend,
		Decimation: opts.decimation,
		Extraction: opts.extraction,
		Policy:     opts.policy,
		Output:     opts.output,
		Display:    opts.display,
	}

	target := a.TargetRate
	if target == 0 {
		target = DefaultTargetRate
	}
	p.DownsampleFactor = int(sourceRate / target)
	if p.DownsampleFactor < 1 {
		p.warnf("source rate %.0f Hz is below the target rate %.0f Hz; not decimating", sourceRate, target)
		p.DownsampleFactor = 1
	}
	p.SampleRate = sourceRate / float64(p.DownsampleFactor)

	nyquist := p.SampleRate / 2
	p.FreqStart, p.FreqEnd = a.FreqStart, a.FreqEnd
	if p.FreqStart >= nyquist {
		return nil, fmt.Errorf("%w: start %.2f Hz at or above Nyquist %.2f Hz", ErrBadFrequency, p.FreqStart, nyquist)
	}
	if p.FreqEnd > nyquist {
		p.warnf("frequency end %.2f Hz clamped to Nyquist %.2f Hz", p.FreqEnd, nyquist)
		p.FreqEnd = nyquist
	}

	p.WindowLength = a.WindowLength
	if p.WindowLength == 0 {
		p.WindowLength = WindowLengthFor(p.FreqEnd - p.FreqStart)
	}
	p.SegmentLength = a.SegmentLength
	if p.SegmentLength == 0 {
		p.SegmentLength = p.WindowLength
	}
	if p.SegmentLength < p.WindowLength {
		return nil, fmt.Errorf("%w: segment %.3fs shorter than window %.3fs", ErrBadWindow, p.SegmentLength, p.WindowLength)
	}
	p.HopLength = a.HopLength
	if p.HopLength == 0 {
		p.HopLength = p.SegmentLength
	}
	p.StepLength = a.StepLength
	if p.StepLength == 0 {
		p.StepLength = DefaultStepLength
	}

	p.BufferSize = int(p.SampleRate * p.SegmentLength)
	if p.BufferSize < 2 {
		return nil, fmt.Errorf("%w: %.3fs at %.1f Hz is %d samples", ErrBadWindow, p.SegmentLength, p.SampleRate, p.BufferSize)
	}
	windowSamples := p.SampleRate * p.WindowLength
	if windowSamples < 2 {
		return nil, fmt.Errorf("%w: %.3fs at %.1f Hz is under two samples", ErrBadWindow, p.WindowLength, p.SampleRate)
	}
	p.StepSize = max(int(math.Round(p.SampleRate*p.HopLength)), 1)

	p.NFFT = p.BufferSize
	if a.PadPow2 {
		p.NFFT = bitint.NextPowerOfTwo(p.BufferSize)
	}

	interp := a.InterpRatio
	if interp == 0 {
		interp = DefaultInterpRatio
	}
	p.FreqStep = 1 / (p.WindowLength * interp)
	p.NFreqs = int(math.Floor((p.FreqEnd - p.FreqStart) / p.FreqStep))
	if p.NFreqs < 1 {
		return nil, fmt.Errorf("%w: [%.2f, %.2f] Hz holds no %.3f Hz step", ErrBadFrequency, p.FreqStart, p.FreqEnd, p.FreqStep)
	}

	p.NTimes = 1
	if p.Extraction == estimator.ExtractWavelet {
		stepSamples := p.SampleRate * p.StepLength
		p.NTimes = max(int((float64(p.BufferSize)-windowSamples)/stepSamples)+1, 1)
	}

	p.PollInterval = a.PollInterval
	if p.PollInterval == 0 {
		p.PollInterval = DefaultPollInterval
	}

	if p.Display.Coherence() && len(p.Selection) < 2 {
		p.warnf("coherence needs at least two channels; only power will be published")
	}
	return p, nil
}

func (p *Plan) warnf(format string, v ...any) {
	p.Warnings = append(p.Warnings, fmt.Sprintf(format, v...))
}

// Channels returns the number of selected channels.
func (p *Plan) Channels() int { return len(p.Selection) }

// Frequencies returns the frequency of interest for every output bin.
func (p *Plan) Frequencies() []float64 {
	out := make([]float64, p.NFreqs)
	for f := range out {
		out[f] = p.FreqStart + float64(f)*p.FreqStep
	}
	return out
}

// Taper returns the ingest window coefficients.
func (p *Plan) Taper() []float64 {
	return analysis.Coefficients(p.BufferSize, p.Window)
}

// IngestPlan returns the sizing of the real-time ingester.
func (p *Plan) IngestPlan() ingest.Plan {
	return ingest.Plan{
		Selection:        append([]int(nil), p.Selection...),
		DownsampleFactor: p.DownsampleFactor,
		Decimation:       p.Decimation,
		BufferSize:       p.BufferSize,
		StepSize:         p.StepSize,
		Window:           p.Taper(),
	}
}

// EstimatorConfig returns the sizing of the spectral estimator.
func (p *Plan) EstimatorConfig() estimator.Config {
	return estimator.Config{
		Channels:       len(p.Selection),
		SampleRate:     p.SampleRate,
		WindowLength:   p.WindowLength,
		SegmentSamples: p.BufferSize,
		NFFT:           p.NFFT,
		FreqStart:      p.FreqStart,
		FreqStep:       p.FreqStep,
		NFreqs:         p.NFreqs,
		NTimes:         p.NTimes,
		Alpha:          p.Alpha,
		Extraction:     p.Extraction,
		Policy:         p.Policy,
		Output:         p.Output,
		Backend:        p.Backend,
	}
}

// CoherenceEnabled reports whether coherence will actually be computed.
func (p *Plan) CoherenceEnabled() bool {
	return p.Display.Coherence() && len(p.Selection) >= 2
}

// Pairs returns the channel pairs coherence is computed for.
func (p *Plan) Pairs() [][2]int {
	if !p.CoherenceEnabled() {
		return nil
	}
	return estimator.Pairs(len(p.Selection))
}

// SPDX-License-Identifier: MIT
/*
Package ingest is the real-time half of the engine. It turns arbitrarily
sized sample blocks into fixed-length, decimated, optionally overlapping
analysis windows and publishes them as Trials through an exchange.Channel.

Performance Critical (Hot Path):
  - Ingest, ProcessBlock and ProcessInterleaved never allocate, lock or block
  - All buffers are sized by Configure (cold path)
  - A block may complete zero, one or many windows
*/
package ingest

import (
	"errors"
	"fmt"
	"sync/atomic"

	"lfpscope/internal/exchange"
)

// MaxChannels bounds the channel selection.
const MaxChannels = 8

var (
	// ErrNoWriter is the panic value when the trial writer cannot be acquired.
	// It means the ingester was never configured, which is a construction bug.
	ErrNoWriter = errors.New("ingest: trial writer invalid (ingester not configured)")
)

// Trial is one published analysis window for every selected channel.
type Trial struct {
	Seq     uint64      // 1-based trial counter since Configure
	Samples [][]float64 // [channel][sample], tapered
}

// Plan is the cold-path sizing of an Ingester.
type Plan struct {
	Selection        []int          // source channel index for each logical channel
	DownsampleFactor int            // raw samples per analysis sample
	Decimation       DecimationMode // averaging or sample-and-hold
	BufferSize       int            // samples per analysis window
	StepSize         int            // samples between window starts
	Window           []float64      // taper, len BufferSize
}

// Ingester is the per-callback routine feeding the analysis goroutine. All of
// its state lives in this struct; nothing is package global.
type Ingester struct {
	plan Plan

	decimators []Decimator
	buffers    []*AnalysisBuffer

	// completion tracking for the trial currently being assembled
	ready     []bool
	remaining int

	out    *exchange.Channel[Trial]
	writer exchange.Writer[Trial]
	seq    uint64

	published atomic.Uint64
	overruns  atomic.Uint64
}

// NewIngester returns an unconfigured ingester publishing into out.
func NewIngester(out *exchange.Channel[Trial]) *Ingester {
	return &Ingester{out: out}
}

// Output returns the channel trials are published on.
func (in *Ingester) Output() *exchange.Channel[Trial] {
	return in.out
}

// Configure sizes every buffer for plan. It must not run concurrently with
// ingestion or with a reader of the output channel.
func (in *Ingester) Configure(plan Plan) error {
	n := len(plan.Selection)
	if n > MaxChannels {
		return fmt.Errorf("channel selection of %d exceeds maximum of %d", n, MaxChannels)
	}
	if plan.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive, got %d", plan.BufferSize)
	}
	if plan.StepSize <= 0 {
		return fmt.Errorf("step size must be positive, got %d", plan.StepSize)
	}
	if len(plan.Window) != plan.BufferSize {
		return fmt.Errorf("window length %d does not match buffer size %d", len(plan.Window), plan.BufferSize)
	}
	for _, src := range plan.Selection {
		if src < 0 {
			return fmt.Errorf("invalid source channel index %d", src)
		}
	}

	in.writer.Release()
	in.writer = exchange.Writer[Trial]{}

	decimators := make([]Decimator, n)
	buffers := make([]*AnalysisBuffer, n)
	for i := range n {
		decimators[i] = NewDecimator(plan.DownsampleFactor, plan.Decimation)
		buf, err := NewAnalysisBuffer(plan.BufferSize, plan.StepSize, plan.Window)
		if err != nil {
			return err
		}
		buffers[i] = buf
	}

	in.out.Reconfigure(func(t *Trial) {
		t.Seq = 0
		t.Samples = make([][]float64, n)
		for i := range t.Samples {
			t.Samples[i] = make([]float64, plan.BufferSize)
		}
	})

	in.plan = plan
	in.plan.Selection = append([]int(nil), plan.Selection...)
	in.decimators = decimators
	in.buffers = buffers
	in.ready = make([]bool, n)
	in.remaining = n
	in.seq = 0
	in.published.Store(0)
	in.overruns.Store(0)
	return nil
}

// Channels returns the number of selected channels.
func (in *Ingester) Channels() int {
	return len(in.buffers)
}

// Published returns the number of trials committed since Configure.
func (in *Ingester) Published() uint64 {
	return in.published.Load()
}

// Overruns returns how many channel windows were overwritten because their
// channel completed a second window before the others completed the first.
// Lockstep feeding (ProcessBlock, ProcessInterleaved) never overruns.
func (in *Ingester) Overruns() uint64 {
	return in.overruns.Load()
}

// Ingest feeds raw samples of one logical channel. A trial is committed when
// every selected channel has completed its current window. Callers feeding
// channels individually must feed equal spans to every channel per callback.
func (in *Ingester) Ingest(ch int, samples []float32) {
	if ch < 0 || ch >= len(in.buffers) {
		return
	}
	dec := &in.decimators[ch]
	buf := in.buffers[ch]
	for _, x := range samples {
		v, ok := dec.Next(x)
		if !ok {
			continue
		}
		if buf.Push(v) {
			in.finishWindow(ch)
		}
	}
}

// ProcessBlock feeds one block laid out [sourceChannel][frame]. Channels
// advance in lockstep, frame by frame, so their windows complete together.
// Frames beyond the shortest selected source channel are ignored.
func (in *Ingester) ProcessBlock(block [][]float32) {
	if len(in.buffers) == 0 {
		return
	}
	frames := -1
	for _, src := range in.plan.Selection {
		if src >= len(block) {
			return
		}
		if frames < 0 || len(block[src]) < frames {
			frames = len(block[src])
		}
	}
	for n := 0; n < frames; n++ {
		for ch, src := range in.plan.Selection {
			in.push(ch, block[src][n])
		}
	}
}

// ProcessInterleaved feeds one interleaved block of numChannels source
// channels, as delivered by a PortAudio callback.
func (in *Ingester) ProcessInterleaved(samples []float32, numChannels int) {
	if len(in.buffers) == 0 || numChannels <= 0 {
		return
	}
	for _, src := range in.plan.Selection {
		if src >= numChannels {
			return
		}
	}
	frames := len(samples) / numChannels
	for n := 0; n < frames; n++ {
		frame := samples[n*numChannels : (n+1)*numChannels]
		for ch, src := range in.plan.Selection {
			in.push(ch, frame[src])
		}
	}
}

func (in *Ingester) push(ch int, x float32) {
	v, ok := in.decimators[ch].Next(x)
	if !ok {
		return
	}
	if in.buffers[ch].Push(v) {
		in.finishWindow(ch)
	}
}

// finishWindow moves channel ch's finished window into the pending trial and
// commits the trial once every channel has reported.
func (in *Ingester) finishWindow(ch int) {
	if !in.writer.Valid() {
		in.writer = in.out.AcquireWriter()
		if !in.writer.Valid() {
			panic(ErrNoWriter)
		}
	}
	trial := in.writer.Value()
	in.buffers[ch].Emit(trial.Samples[ch])

	if in.ready[ch] {
		in.overruns.Add(1)
		return
	}
	in.ready[ch] = true
	in.remaining--
	if in.remaining > 0 {
		return
	}

	in.seq++
	trial.Seq = in.seq
	in.writer.Commit()
	in.published.Add(1)

	for i := range in.ready {
		in.ready[i] = false
	}
	in.remaining = len(in.ready)
}

// Reset drops partially accumulated groups and windows, keeping the sizing.
// It must not run concurrently with ingestion.
func (in *Ingester) Reset() {
	for i := range in.decimators {
		in.decimators[i].Reset()
		in.buffers[i].Reset()
		in.ready[i] = false
	}
	in.remaining = len(in.ready)
}

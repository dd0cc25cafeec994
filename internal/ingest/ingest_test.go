// SPDX-License-Identifier: MIT
package ingest

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lfpscope/internal/exchange"
)

func rawRamp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		// Non-trivial values so averaging errors show up.
		out[i] = float32(math.Sin(float64(i)*0.37) + float64(i%11)*0.01)
	}
	return out
}

func ones(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return w
}

func decimateAll(d Decimator, blocks [][]float32) []float64 {
	var out []float64
	for _, blk := range blocks {
		for _, x := range blk {
			if v, ok := d.Next(x); ok {
				out = append(out, v)
			}
		}
	}
	return out
}

// split cuts samples into blocks following sizes cyclically.
func split(samples []float32, sizes []int) [][]float32 {
	var blocks [][]float32
	for i, k := 0, 0; i < len(samples); k++ {
		n := sizes[k%len(sizes)]
		if i+n > len(samples) {
			n = len(samples) - i
		}
		blocks = append(blocks, samples[i:i+n])
		i += n
	}
	return blocks
}

func TestDecimationExactnessAcrossSplits(t *testing.T) {
	raw := rawRamp(1003)
	splits := [][]int{{1}, {3}, {4, 9}, {13, 1, 6}, {1003}, {250, 2, 751}}

	for _, mode := range []DecimationMode{DecimateAverage, DecimateSampleHold} {
		for _, factor := range []int{1, 2, 5, 7} {
			want := decimateAll(NewDecimator(factor, mode), [][]float32{raw})
			require.Len(t, want, len(raw)/factor)

			for _, sizes := range splits {
				t.Run(fmt.Sprintf("%s/factor=%d/split=%v", mode, factor, sizes), func(t *testing.T) {
					got := decimateAll(NewDecimator(factor, mode), split(raw, sizes))
					assert.Equal(t, want, got, "output must not depend on block boundaries")
				})
			}
		}
	}
}

func TestDecimatorAveragesGroups(t *testing.T) {
	d := NewDecimator(4, DecimateAverage)
	got := decimateAll(d, [][]float32{{1, 2}, {3}, {4, 10, 10, 10}, {10, 5}})
	assert.Equal(t, []float64{2.5, 10}, got)

	h := NewDecimator(3, DecimateSampleHold)
	got = decimateAll(h, [][]float32{{7, 1}, {1, 8, 2, 2}})
	assert.Equal(t, []float64{7, 8}, got)
}

func TestDecimatorCarriesPartialGroup(t *testing.T) {
	d := NewDecimator(5, DecimateAverage)
	for _, x := range []float32{1, 1, 1} {
		_, ok := d.Next(x)
		assert.False(t, ok)
	}
	assert.Equal(t, 3, d.Pending())
	d.Next(1)
	v, ok := d.Next(6)
	assert.True(t, ok)
	assert.InDelta(t, 2.0, v, 1e-12)
	assert.Equal(t, 0, d.Pending())
}

func TestNewDecimatorClampsFactor(t *testing.T) {
	d := NewDecimator(0, DecimateAverage)
	assert.Equal(t, 1, d.Factor())
	d = NewDecimator(-3, DecimateAverage)
	assert.Equal(t, 1, d.Factor())
}

func TestParseDecimationMode(t *testing.T) {
	tests := []struct {
		name    string
		want    DecimationMode
		wantErr bool
	}{
		{"average", DecimateAverage, false},
		{"", DecimateAverage, false},
		{"SAMPLE_HOLD", DecimateSampleHold, false},
		{"hold", DecimateSampleHold, false},
		{"median", DecimateAverage, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDecimationMode(tt.name)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestSlidingWindowOverlapContinuity(t *testing.T) {
	const (
		size = 16
		step = 5
	)
	buf, err := NewAnalysisBuffer(size, step, ones(size))
	require.NoError(t, err)

	var windows [][]float64
	for i := range 200 {
		if buf.Push(float64(i)) {
			w := make([]float64, size)
			buf.Emit(w)
			windows = append(windows, w)
		}
	}
	require.Greater(t, len(windows), 5)

	overlap := size - step
	for k := 0; k+1 < len(windows); k++ {
		assert.Equal(t, windows[k][step:], windows[k+1][:overlap], "window %d tail must lead window %d", k, k+1)
		assert.Equal(t, windows[k][0]+step, windows[k+1][0])
	}
	assert.Equal(t, overlap, buf.WriteIndex()-(200-int(windows[len(windows)-1][size-1])-1))
}

func TestSlidingWindowHopLongerThanWindow(t *testing.T) {
	buf, err := NewAnalysisBuffer(4, 10, ones(4))
	require.NoError(t, err)

	var starts []float64
	for i := range 40 {
		if buf.Push(float64(i)) {
			w := make([]float64, 4)
			buf.Emit(w)
			starts = append(starts, w[0])
			assert.Equal(t, -6, buf.WriteIndex(), "staged skip is negative")
		}
	}
	assert.Equal(t, []float64{0, 10, 20, 30}, starts)
}

func TestEmitAppliesWindowButKeepsRawTail(t *testing.T) {
	win := []float64{0, 0.5, 1, 0.5}
	buf, err := NewAnalysisBuffer(4, 2, win)
	require.NoError(t, err)

	for _, x := range []float64{2, 4, 6, 8} {
		buf.Push(x)
	}
	dst := make([]float64, 4)
	buf.Emit(dst)
	assert.Equal(t, []float64{0, 2, 6, 4}, dst)

	buf.Push(10)
	full := buf.Push(12)
	require.True(t, full)
	buf.Emit(dst)
	// The carried samples are raw (6, 8), not tapered.
	assert.Equal(t, []float64{0, 4, 10, 6}, dst)
}

func TestNewAnalysisBufferRejectsBadSizing(t *testing.T) {
	_, err := NewAnalysisBuffer(0, 1, nil)
	assert.Error(t, err)
	_, err = NewAnalysisBuffer(4, 0, ones(4))
	assert.Error(t, err)
	_, err = NewAnalysisBuffer(4, 1, ones(3))
	assert.Error(t, err)
}

func newTestIngester(t *testing.T, plan Plan) *Ingester {
	t.Helper()
	in := NewIngester(exchange.New[Trial]())
	require.NoError(t, in.Configure(plan))
	return in
}

func latestTrial(t *testing.T, in *Ingester) (uint64, [][]float64) {
	t.Helper()
	r := in.Output().AcquireReader()
	require.True(t, r.Valid())
	defer r.Release()
	v := r.Value()
	samples := make([][]float64, len(v.Samples))
	for i := range v.Samples {
		samples[i] = append([]float64(nil), v.Samples[i]...)
	}
	return v.Seq, samples
}

func TestIngestSplitInvariance(t *testing.T) {
	raw := rawRamp(4096)
	plan := Plan{
		Selection:        []int{0},
		DownsampleFactor: 7,
		BufferSize:       50,
		StepSize:         20,
		Window:           ones(50),
	}

	ref := newTestIngester(t, plan)
	ref.Ingest(0, raw)
	refSeq, refSamples := latestTrial(t, ref)

	for _, sizes := range [][]int{{1}, {3, 11}, {64}, {1000, 1, 1}} {
		t.Run(fmt.Sprintf("%v", sizes), func(t *testing.T) {
			in := newTestIngester(t, plan)
			for _, blk := range split(raw, sizes) {
				in.Ingest(0, blk)
			}
			seq, samples := latestTrial(t, in)
			assert.Equal(t, refSeq, seq)
			assert.Equal(t, ref.Published(), in.Published())
			assert.Equal(t, refSamples, samples)
		})
	}
}

func TestSingleBlockCompletesManyWindows(t *testing.T) {
	in := newTestIngester(t, Plan{
		Selection:        []int{0},
		DownsampleFactor: 1,
		BufferSize:       10,
		StepSize:         10,
		Window:           ones(10),
	})

	block := make([]float32, 35)
	for i := range block {
		block[i] = float32(i)
	}
	in.Ingest(0, block)
	assert.Equal(t, uint64(3), in.Published())

	seq, samples := latestTrial(t, in)
	assert.Equal(t, uint64(3), seq)
	assert.Equal(t, float64(20), samples[0][0])
	assert.Equal(t, float64(29), samples[0][9])

	in.Ingest(0, block[:5])
	assert.Equal(t, uint64(4), in.Published())
}

func TestProcessInterleavedLockstep(t *testing.T) {
	in := newTestIngester(t, Plan{
		Selection:        []int{2, 0},
		DownsampleFactor: 2,
		BufferSize:       8,
		StepSize:         4,
		Window:           ones(8),
	})

	const frames = 100
	interleaved := make([]float32, frames*3)
	for n := range frames {
		interleaved[n*3+0] = float32(n)
		interleaved[n*3+1] = -1
		interleaved[n*3+2] = float32(1000 + n)
	}
	for _, blk := range split(interleaved, []int{3 * 7, 3, 3 * 13}) {
		in.ProcessInterleaved(blk, 3)
	}

	assert.Zero(t, in.Overruns())
	seq, samples := latestTrial(t, in)
	assert.Equal(t, in.Published(), seq)
	require.Len(t, samples, 2)
	for i := range samples[0] {
		assert.InDelta(t, samples[1][i]+1000, samples[0][i], 1e-9, "selection order maps source 2 to logical 0")
	}
}

func TestProcessBlockUsesShortestChannel(t *testing.T) {
	in := newTestIngester(t, Plan{
		Selection:        []int{0, 1},
		DownsampleFactor: 1,
		BufferSize:       4,
		StepSize:         4,
		Window:           ones(4),
	})
	in.ProcessBlock([][]float32{{1, 2, 3, 4, 5, 6, 7, 8}, {1, 2, 3, 4, 5}})
	assert.Equal(t, uint64(1), in.Published())
}

func TestEmptySelectionIsNoop(t *testing.T) {
	in := newTestIngester(t, Plan{
		DownsampleFactor: 1,
		BufferSize:       4,
		StepSize:         4,
		Window:           ones(4),
	})
	assert.NotPanics(t, func() {
		in.Ingest(0, []float32{1, 2, 3, 4, 5})
		in.ProcessBlock([][]float32{{1, 2, 3, 4}})
		in.ProcessInterleaved([]float32{1, 2, 3, 4}, 1)
	})
	assert.Zero(t, in.Published())
}

func TestUnconfiguredWriterPanics(t *testing.T) {
	in := NewIngester(exchange.New[Trial]())
	in.buffers = []*AnalysisBuffer{{raw: make([]float64, 1), window: ones(1), step: 1}}
	in.decimators = []Decimator{NewDecimator(1, DecimateAverage)}
	in.ready = make([]bool, 1)
	in.remaining = 1
	assert.PanicsWithValue(t, ErrNoWriter, func() { in.Ingest(0, []float32{1}) })
}

func TestConfigureRejectsBadPlans(t *testing.T) {
	in := NewIngester(exchange.New[Trial]())
	assert.Error(t, in.Configure(Plan{Selection: make([]int, 9), BufferSize: 4, StepSize: 4, Window: ones(4)}))
	assert.Error(t, in.Configure(Plan{Selection: []int{0}, BufferSize: 0, StepSize: 4}))
	assert.Error(t, in.Configure(Plan{Selection: []int{0}, BufferSize: 4, StepSize: 0, Window: ones(4)}))
	assert.Error(t, in.Configure(Plan{Selection: []int{-1}, BufferSize: 4, StepSize: 4, Window: ones(4)}))
}

func TestIngestHotPathZeroAllocs(t *testing.T) {
	in := NewIngester(exchange.New[Trial]())
	if err := in.Configure(Plan{
		Selection:        []int{0, 1},
		DownsampleFactor: 3,
		BufferSize:       64,
		StepSize:         16,
		Window:           ones(64),
	}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	block := rawRamp(512 * 2)

	in.ProcessInterleaved(block, 2) // warm-up
	allocs := testing.AllocsPerRun(100, func() {
		in.ProcessInterleaved(block, 2)
		in.Ingest(0, block[:100])
		in.Ingest(1, block[:100])
	})

	if allocs > 0 {
		t.Errorf("Expected zero allocations in ingest hot path, got %.1f", allocs)
	}
}

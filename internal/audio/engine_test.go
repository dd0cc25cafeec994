// SPDX-License-Identifier: MIT
package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lfpscope/internal/config"
	"lfpscope/internal/engine"
	"lfpscope/pkg/testsignal"
)

// countingProcessor records what the callback forwards without allocating.
type countingProcessor struct {
	calls    int
	samples  int
	channels int
}

func (p *countingProcessor) ProcessBlock(block [][]float32) {}

func (p *countingProcessor) ProcessInterleaved(samples []float32, numChannels int) {
	p.calls++
	p.samples += len(samples)
	p.channels = numChannels
}

func newTestSource(inputChannels int, proc *countingProcessor) *LiveSource {
	return &LiveSource{
		cfg:        config.AudioConfig{InputChannels: inputChannels, FramesPerBuffer: 256},
		sampleRate: 2000,
		proc:       proc,
		meter:      NewLevelMeter(1.0),
	}
}

func TestLiveSourceForwardsBlocks(t *testing.T) {
	proc := &countingProcessor{}
	s := newTestSource(4, proc)

	block := make([]float32, 256*4)
	s.process(block)
	s.process(block)

	assert.Equal(t, 2, proc.calls)
	assert.Equal(t, 2*len(block), proc.samples)
	assert.Equal(t, 4, proc.channels)
	assert.Equal(t, uint64(2), s.Blocks())
	assert.Equal(t, uint64(512), s.Frames())
}

// TestCallbackHotPath verifies the callback does not allocate.
func TestCallbackHotPath(t *testing.T) {
	proc := &countingProcessor{}
	s := newTestSource(2, proc)
	block := testsignal.Interleave(testsignal.Sine(256, 2000, 10, 0.5, 0), testsignal.Noise(256, 0.2, 1))

	allocs := testing.AllocsPerRun(100, func() {
		s.process(block)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in input callback, got %.1f", allocs)
	}
}

// TestCallbackIntoSession runs the callback against a real session: the
// whole ingestion path stays allocation free.
func TestCallbackIntoSession(t *testing.T) {
	a := config.Default().Analysis
	a.Channels = []int{1, 0}
	session, err := engine.NewSession(a, 2000)
	require.NoError(t, err)

	s := &LiveSource{
		cfg:        config.AudioConfig{InputChannels: 2, FramesPerBuffer: 128},
		sampleRate: 2000,
		proc:       session,
		meter:      NewLevelMeter(1.0),
	}
	block := testsignal.Interleave(testsignal.Sine(128, 2000, 40, 1, 0), testsignal.DC(128, 0.5))

	allocs := testing.AllocsPerRun(200, func() {
		s.process(block)
	})
	assert.Zero(t, allocs)
	assert.Positive(t, session.Stats().Published)
}

func TestCheckSelection(t *testing.T) {
	assert.NoError(t, checkSelection([]int{0, 3}, 4))
	assert.ErrorIs(t, checkSelection([]int{4}, 4), config.ErrBadChannel)
	assert.ErrorIs(t, checkSelection([]int{-1}, 4), config.ErrBadChannel)
}

func TestNewLiveSourceChecksDevice(t *testing.T) {
	fakeDevices(t, acquisitionCard(), speakers())
	proc := &countingProcessor{}

	s, err := NewLiveSource(config.AudioConfig{InputDevice: 0, InputChannels: 4, SampleRate: 2000, FramesPerBuffer: 256}, []int{0, 3}, proc)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, s.SampleRate(), "the configured rate wins over the device default")
	assert.Equal(t, acquisitionCard().DefaultHighInputLatency, s.latency)

	_, err = NewLiveSource(config.AudioConfig{InputDevice: 0, InputChannels: 4}, []int{0}, proc)
	assert.ErrorIs(t, err, config.ErrBadSampleRate, "no implicit device-default rate")

	s, err = NewLiveSource(config.AudioConfig{InputDevice: 0, InputChannels: 2, SampleRate: 20000, LowLatency: true}, []int{1}, proc)
	require.NoError(t, err)
	assert.Equal(t, 20000.0, s.SampleRate())
	assert.Equal(t, acquisitionCard().DefaultLowInputLatency, s.latency)

	_, err = NewLiveSource(config.AudioConfig{InputDevice: 0, InputChannels: 16, SampleRate: 2000}, []int{0}, proc)
	assert.ErrorIs(t, err, config.ErrBadChannel)

	_, err = NewLiveSource(config.AudioConfig{InputDevice: 0, InputChannels: 2, SampleRate: 2000}, []int{2}, proc)
	assert.ErrorIs(t, err, config.ErrBadChannel)

	_, err = NewLiveSource(config.AudioConfig{InputDevice: 1, InputChannels: 2, SampleRate: 2000}, []int{0}, proc)
	assert.Error(t, err)
}

func TestLiveSourceStopWithoutStart(t *testing.T) {
	s := newTestSource(1, &countingProcessor{})
	assert.NoError(t, s.Stop())
	assert.NoError(t, s.Close())
}

// BenchmarkCallback measures the per-block cost of metering and forwarding.
func BenchmarkCallback(b *testing.B) {
	s := newTestSource(8, &countingProcessor{})
	block := make([]float32, 1024*8)
	for i := range block {
		block[i] = float32(i%200-100) / 100
	}

	for b.Loop() {
		s.process(block)
	}
}

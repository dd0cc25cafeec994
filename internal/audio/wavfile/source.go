// SPDX-License-Identifier: MIT
// Package wavfile replays recorded multi-channel PCM WAV files through the
// same interleaved ingestion path a live device uses.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"lfpscope/internal/analysis"
	applog "lfpscope/internal/log"
)

var logger = applog.For("wavfile")

const (
	wavFormatPCM     = 1
	defaultBlockSize = 1024
)

var (
	ErrInvalidFile = errors.New("not a valid WAV file")
	ErrUnsupported = errors.New("unsupported WAV encoding")
)

// Options controls how a file is replayed.
type Options struct {
	// BlockSizes are the frames per delivered block, cycled. Empty means
	// fixed blocks of 1024 frames.
	BlockSizes []int
	// Realtime paces delivery at the file's sample rate.
	Realtime bool
}

// Stats summarizes one replay.
type Stats struct {
	Frames int
	Blocks int
}

// Source is an opened WAV file.
type Source struct {
	path string
	file *os.File
	dec  *wav.Decoder
	opts Options

	sampleRate float64
	channels   int
	bitDepth   int
	scale      float32
}

// Open validates the file header. Only integer PCM at 16, 24 or 32 bits is
// accepted.
func Open(path string, opts Options) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrInvalidFile)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		f.Close()
		return nil, fmt.Errorf("%s: %w: audio format %d", path, ErrUnsupported, dec.WavAudioFormat)
	}
	depth := int(dec.BitDepth)
	switch depth {
	case 16, 24, 32:
	default:
		f.Close()
		return nil, fmt.Errorf("%s: %w: %d-bit samples", path, ErrUnsupported, depth)
	}
	if dec.NumChans == 0 || dec.SampleRate == 0 {
		f.Close()
		return nil, fmt.Errorf("%s: %w: %d channels at %d Hz", path, ErrInvalidFile, dec.NumChans, dec.SampleRate)
	}

	s := &Source{
		path:       path,
		file:       f,
		dec:        dec,
		opts:       opts,
		sampleRate: float64(dec.SampleRate),
		channels:   int(dec.NumChans),
		bitDepth:   depth,
		scale:      1 / float32(int64(1)<<(depth-1)),
	}
	if d, err := dec.Duration(); err == nil {
		logger.Infof("%s: %d channel(s), %d-bit, %.0f Hz, %v", path, s.channels, depth, s.sampleRate, d)
	}
	return s, nil
}

// SampleRate returns the file's sample rate.
func (s *Source) SampleRate() float64 { return s.sampleRate }

// Channels returns the number of interleaved channels.
func (s *Source) Channels() int { return s.channels }

// BitDepth returns the sample width in bits.
func (s *Source) BitDepth() int { return s.bitDepth }

// Close releases the file.
func (s *Source) Close() error {
	return s.file.Close()
}

// Stream decodes the file block by block, scales samples to [-1, 1) and
// delivers them to proc until the file ends or ctx is done.
func (s *Source) Stream(ctx context.Context, proc analysis.Processor) (Stats, error) {
	sizes := s.opts.BlockSizes
	if len(sizes) == 0 {
		sizes = []int{defaultBlockSize}
	}
	largest := 1
	for _, n := range sizes {
		largest = max(largest, n)
	}

	ibuf := &audio.IntBuffer{
		Format:         s.dec.Format(),
		Data:           make([]int, largest*s.channels),
		SourceBitDepth: s.bitDepth,
	}
	fbuf := make([]float32, largest*s.channels)

	var stats Stats
	start := time.Now()
	for k := 0; ; k++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		ibuf.Data = ibuf.Data[:max(sizes[k%len(sizes)], 1)*s.channels]
		n, err := s.dec.PCMBuffer(ibuf)
		if err != nil && !errors.Is(err, io.EOF) {
			return stats, fmt.Errorf("decoding %s: %w", s.path, err)
		}
		n -= n % s.channels
		if n == 0 {
			break
		}

		for i, v := range ibuf.Data[:n] {
			fbuf[i] = float32(v) * s.scale
		}
		proc.ProcessInterleaved(fbuf[:n], s.channels)
		stats.Frames += n / s.channels
		stats.Blocks++

		if s.opts.Realtime {
			if err := s.pace(ctx, start, stats.Frames); err != nil {
				return stats, err
			}
		}
	}

	logger.Debugf("%s: replayed %d frames in %d blocks", s.path, stats.Frames, stats.Blocks)
	return stats, nil
}

// pace sleeps until frames worth of wall-clock time has passed since start.
func (s *Source) pace(ctx context.Context, start time.Time, frames int) error {
	due := start.Add(time.Duration(float64(frames) / s.sampleRate * float64(time.Second)))
	wait := time.Until(due)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

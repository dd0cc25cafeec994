// SPDX-License-Identifier: MIT
package transport

import (
	"fmt"
	"strings"
	"sync/atomic"

	"gonum.org/v1/gonum/stat"

	applog "lfpscope/internal/log"
)

// LoggingTransport writes a one-line summary of every frame: the peak
// frequency per channel and the mean coherence per pair. Frames go out at
// info level when verbose, otherwise at debug level.
type LoggingTransport struct {
	verbose bool
	frames  atomic.Uint64
	closed  atomic.Bool
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport(verbose bool) *LoggingTransport {
	logger.Infof("using logging transport")
	return &LoggingTransport{verbose: verbose}
}

// Send logs a summary of the frame.
func (lt *LoggingTransport) Send(frame *Frame) error {
	lt.frames.Add(1)
	if !lt.verbose && !applog.Enabled(applog.LevelDebug) {
		return nil
	}
	line := Summary(frame)
	if lt.verbose {
		logger.Infof("%s", line)
	} else {
		logger.Debugf("%s", line)
	}
	return nil
}

// Frames returns the number of frames received.
func (lt *LoggingTransport) Frames() uint64 { return lt.frames.Load() }

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	if lt.closed.CompareAndSwap(false, true) {
		logger.Debugf("logging transport closed after %d frames", lt.frames.Load())
	}
	return nil
}

// Summary renders a frame as a single log line.
func Summary(frame *Frame) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "seq %d", frame.Seq)
	for i := range frame.Power {
		ch := i
		if i < len(frame.Channels) {
			ch = frame.Channels[i]
		}
		freq, power := frame.PeakFrequency(i)
		fmt.Fprintf(&sb, " | ch%d peak %.1f Hz (%.3g)", ch, freq, power)
	}
	for i, row := range frame.Coherence {
		if i >= len(frame.Pairs) {
			break
		}
		mean := 0.0
		if len(row) > 0 {
			mean = stat.Mean(row, nil)
		}
		fmt.Fprintf(&sb, " | coh %d-%d %.3f", frame.Pairs[i][0], frame.Pairs[i][1], mean)
	}
	return sb.String()
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)

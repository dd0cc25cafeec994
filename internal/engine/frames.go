// SPDX-License-Identifier: MIT
package engine

import (
	"github.com/google/uuid"

	"lfpscope/internal/exchange"
)

// PowerFrame is one published power snapshot: the running average power of
// every selected channel at every frequency of interest.
type PowerFrame struct {
	Session     uuid.UUID   // changes on every reconfiguration
	Seq         uint64      // trial the frame was computed after
	Channels    []int       // source channel per row
	Frequencies []float64   // Hz per column, shared and read-only
	Power       [][]float32 // [channel][frequency]
}

// CoherenceFrame is one published coherence snapshot for every channel pair.
type CoherenceFrame struct {
	Session     uuid.UUID
	Seq         uint64
	Pairs       [][2]int  // logical channel indexes per row
	Frequencies []float64 // Hz per column, shared and read-only
	Coherence   [][]float64
}

// Results are the channels the display layer polls. A reconfiguration
// replaces them; consumers fetch them from the session on every poll.
type Results struct {
	Power     *exchange.Channel[PowerFrame]
	Coherence *exchange.Channel[CoherenceFrame]
}

func newResults(channels []int, freqs []float64, pairs [][2]int) Results {
	power := exchange.New[PowerFrame]()
	power.Reconfigure(func(f *PowerFrame) {
		f.Channels = channels
		f.Frequencies = freqs
		f.Power = make([][]float32, len(channels))
		for i := range f.Power {
			f.Power[i] = make([]float32, len(freqs))
		}
	})

	coherence := exchange.New[CoherenceFrame]()
	coherence.Reconfigure(func(f *CoherenceFrame) {
		f.Pairs = pairs
		f.Frequencies = freqs
		f.Coherence = make([][]float64, len(pairs))
		for i := range f.Coherence {
			f.Coherence[i] = make([]float64, len(freqs))
		}
	})
	return Results{Power: power, Coherence: coherence}
}

// SPDX-License-Identifier: MIT
package testsignal

import (
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV encodes per-channel signals in [-1, 1] as a 16-bit PCM file.
// All channels must have the same length.
func WriteWAV(path string, sampleRate int, channels ...[]float32) error {
	if len(channels) == 0 {
		return fmt.Errorf("no channels to write")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	interleaved := Interleave(channels...)
	data := make([]int, len(interleaved))
	for i, v := range interleaved {
		data[i] = int(math.Round(float64(max(-1, min(1, v))) * math.MaxInt16))
	}

	enc := wav.NewEncoder(f, sampleRate, 16, len(channels), 1)
	err = enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: len(channels), SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	})
	if err == nil {
		err = enc.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// SPDX-License-Identifier: MIT
package analysis

// Task is a schedulable background task: something with its own goroutine
// that can be started and stopped. Stop blocks until the goroutine has exited.
type Task interface {
	Start() error
	Stop()
	Running() bool
}

// Processor is a signal processor fed from the real-time acquisition callback.
// Implementations must not block, lock or allocate in either method.
type Processor interface {
	// ProcessBlock accepts one block laid out [channel][frame].
	ProcessBlock(block [][]float32)
	// ProcessInterleaved accepts one interleaved block of numChannels channels.
	ProcessInterleaved(samples []float32, numChannels int)
}

// ConfigurableProcessor is a Processor that owns its analysis goroutine and
// whose sizing depends on the source sample rate. Sizing changes only while
// the Task is stopped.
type ConfigurableProcessor interface {
	Processor
	Task
	SampleRate() float64
}

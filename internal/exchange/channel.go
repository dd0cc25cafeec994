// SPDX-License-Identifier: MIT
/*
Package exchange implements a single-producer/single-consumer snapshot
exchange used between the real-time ingestion callback and the analysis
goroutine, and again between the analysis goroutine and the display layer.

The channel owns three physical values of T (triple buffering):

	write  - owned by the producer, never visible to the reader
	middle - the latest published value, swapped atomically
	read   - owned by the consumer

Thread Safety:
  - Commit and AcquireReader exchange ownership with one atomic swap each
  - No locks, no allocation after Reconfigure has sized the slots
  - The producer never waits for the consumer; unconsumed values are
    superseded by newer commits (staleness, not data loss of record)

Handle misuse (invalid handles, reconfiguring with handles outstanding)
is a broken invariant and panics.
*/
package exchange

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrInvalidHandle is the panic value for use of an invalid or spent handle.
	ErrInvalidHandle = errors.New("exchange: invalid handle (channel not sized or handle already spent)")

	// ErrHandleOutstanding is the panic value for structural mutation while a
	// reader or writer handle is held.
	ErrHandleOutstanding = errors.New("exchange: reconfigure with outstanding handle")

	// ErrConcurrentHandle is the panic value for acquiring a second handle of
	// the same kind; the channel has exactly one producer and one consumer.
	ErrConcurrentHandle = errors.New("exchange: second handle acquired on single-producer/single-consumer channel")
)

const (
	slotCount = 3
	dirtyBit  = 1 << 2 // slot indexes fit in the low two bits
	indexMask = dirtyBit - 1
)

// Channel exchanges successive full values of T between one producer and one
// consumer without locking.
type Channel[T any] struct {
	slots [slotCount]T

	middle atomic.Uint32 // slot index | dirtyBit when unconsumed
	sized  atomic.Bool

	// Producer-owned.
	write uint32

	// Consumer-owned.
	read     uint32
	consumed bool

	writers atomic.Int32
	readers atomic.Int32
}

// New returns an unsized channel. AcquireWriter returns an invalid handle
// until Reconfigure has been called at least once.
func New[T any]() *Channel[T] {
	c := &Channel[T]{}
	c.resetIndexes()
	return c
}

func (c *Channel[T]) resetIndexes() {
	c.write = 0
	c.middle.Store(1)
	c.read = 2
	c.consumed = false
}

// Reconfigure applies mutator to every slot and marks the channel as sized.
// Any previously published or consumed value is forgotten.
//
// Precondition: no reader or writer handle is outstanding and neither side is
// running. Violations panic with ErrHandleOutstanding.
func (c *Channel[T]) Reconfigure(mutator func(*T)) {
	if c.writers.Load() != 0 || c.readers.Load() != 0 {
		panic(ErrHandleOutstanding)
	}
	for i := range c.slots {
		mutator(&c.slots[i])
	}
	c.resetIndexes()
	c.sized.Store(true)
}

// Sized reports whether Reconfigure has been called.
func (c *Channel[T]) Sized() bool {
	return c.sized.Load()
}

// HasUpdate reports whether a committed value is waiting to be read.
func (c *Channel[T]) HasUpdate() bool {
	return c.middle.Load()&dirtyBit != 0
}

// AcquireWriter returns a handle to the producer's private value. The handle
// is invalid when the channel has not been sized.
func (c *Channel[T]) AcquireWriter() Writer[T] {
	if !c.sized.Load() {
		return Writer[T]{}
	}
	if c.writers.Add(1) != 1 {
		c.writers.Add(-1)
		panic(ErrConcurrentHandle)
	}
	return Writer[T]{ch: c}
}

// AcquireReader takes ownership of the latest published value when one is
// waiting. Otherwise it returns the previously consumed value, or an invalid
// handle when nothing has been consumed since the last Reconfigure.
func (c *Channel[T]) AcquireReader() Reader[T] {
	if !c.sized.Load() {
		return Reader[T]{}
	}
	if c.readers.Add(1) != 1 {
		c.readers.Add(-1)
		panic(ErrConcurrentHandle)
	}

	fresh := false
	if c.HasUpdate() {
		// Only the producer can change middle between the check and the swap,
		// and it only ever stores a dirty index.
		prev := c.middle.Swap(c.read)
		c.read = prev & indexMask
		c.consumed = true
		fresh = true
	}
	if !c.consumed {
		c.readers.Add(-1)
		return Reader[T]{}
	}
	return Reader[T]{ch: c, fresh: fresh}
}

// Writer is the producer's handle. It is spent by Commit or Release.
type Writer[T any] struct {
	ch    *Channel[T]
	spent bool
}

// Valid reports whether the handle may be used.
func (w *Writer[T]) Valid() bool {
	return w.ch != nil && !w.spent
}

// Value returns the producer-owned value. Panics on an invalid handle.
func (w *Writer[T]) Value() *T {
	if !w.Valid() {
		panic(ErrInvalidHandle)
	}
	return &w.ch.slots[w.ch.write]
}

// Commit publishes the value and spends the handle. The producer must acquire
// a new writer before writing again.
func (w *Writer[T]) Commit() {
	if !w.Valid() {
		panic(ErrInvalidHandle)
	}
	c := w.ch
	prev := c.middle.Swap(c.write | dirtyBit)
	c.write = prev & indexMask
	w.spent = true
	c.writers.Add(-1)
}

// Release spends the handle without publishing. Releasing an invalid or spent
// handle is a no-op.
func (w *Writer[T]) Release() {
	if !w.Valid() {
		return
	}
	w.spent = true
	w.ch.writers.Add(-1)
}

// Reader is the consumer's handle.
type Reader[T any] struct {
	ch    *Channel[T]
	fresh bool
	spent bool
}

// Valid reports whether the handle may be used.
func (r *Reader[T]) Valid() bool {
	return r.ch != nil && !r.spent
}

// Fresh reports whether this acquisition took a newly published value.
func (r *Reader[T]) Fresh() bool {
	return r.fresh
}

// Value returns the consumer-owned value. Panics on an invalid handle.
func (r *Reader[T]) Value() *T {
	if !r.Valid() {
		panic(ErrInvalidHandle)
	}
	return &r.ch.slots[r.ch.read]
}

// Release returns the handle. The value stays owned by the consumer side
// until the next fresh AcquireReader hands it back to the producer.
func (r *Reader[T]) Release() {
	if !r.Valid() {
		return
	}
	r.spent = true
	r.ch.readers.Add(-1)
}

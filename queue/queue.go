// Copyright 2020 Nathan Taylor (nbtaylor@gmail.com)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package queue implements a bounded circular queue whose entire state
// lives in a 6-word MCAS array, giving nested multi-producer/multi-consumer
// access to what is otherwise an SPSC-style ring layout. Two independent
// ordering disciplines govern how out-of-order finishers are tolerated on
// the write side and the read side.
package queue

import (
	"github.com/dijkstracula/aint-safe/internal/cas"
	"github.com/dijkstracula/aint-safe/mcas"
)

// Order selects how write_commit / read_release behave when the caller is
// not the earliest outstanding acquirer.
type Order int

const (
	// OrderNested tolerates out-of-order finishers: a commit/release on a
	// slot that isn't at the head is a silent no-op, and the eventual head
	// commit/release drains every contiguous slot behind it. This is the
	// discipline nested interrupt handlers need, since an inner handler may
	// finish writing before the outer one it pre-empted.
	OrderNested Order = iota
	// OrderFCFS requires callers to commit/release in the same order they
	// acquired. Out-of-order use is undefined behaviour.
	OrderFCFS
)

const (
	idxWriteAllocated = iota
	idxWriteCommitted
	idxReadAcquired
	idxReadReleased
	idxCountWritable
	idxCountReadable
	numWords
)

// Queue is a bounded ring of N slots of type E.
type Queue[E any] struct {
	storage    cas.Storage[E]
	eng        *mcas.Engine
	n          uint64
	writeOrder Order
	readOrder  Order
}

// New wraps a caller-supplied slice as the queue's backing storage. All
// slots start writable and none readable.
func New[E any](slots []E, writeOrder, readOrder Order) *Queue[E] {
	n := uint64(len(slots))
	initial := make([]uint64, numWords)
	initial[idxCountWritable] = n
	return &Queue[E]{
		storage:    cas.NewStorage(slots),
		eng:        mcas.NewEngine(initial),
		n:          n,
		writeOrder: writeOrder,
		readOrder:  readOrder,
	}
}

func (q *Queue[E]) snapshot() []uint64 {
	v := make([]uint64, numWords)
	q.eng.Read(v)
	return v
}

// WriteAcquire reserves the next writable slot, or returns nil if none are
// free.
func (q *Queue[E]) WriteAcquire() *E {
	for {
		v := q.snapshot()
		if v[idxCountWritable] == 0 {
			return nil
		}
		idx := v[idxWriteAllocated]
		next := append([]uint64(nil), v...)
		next[idxWriteAllocated] = (idx + 1) % q.n
		next[idxCountWritable] = v[idxCountWritable] - 1
		if q.eng.CompareExchange(v, next) {
			return q.storage.At(int(idx))
		}
	}
}

// WriteCommit publishes slot as readable. Under OrderNested, a commit on a
// slot other than the current write-committed edge is a silent no-op; the
// slot at the edge, once it does commit, drains every contiguous slot
// behind it in one step — safe because single-CPU nesting guarantees any
// higher-indexed writer that could still be pending has already run its
// own commit attempt to completion. Under OrderFCFS, the caller must commit
// in acquisition order; any other use is undefined behaviour.
func (q *Queue[E]) WriteCommit(slot *E) {
	idx := uint64(q.storage.IndexOf(slot))
	for {
		v := q.snapshot()
		if idx != v[idxWriteCommitted] {
			return
		}
		next := append([]uint64(nil), v...)
		switch q.writeOrder {
		case OrderNested:
			delta := (v[idxWriteAllocated] - v[idxWriteCommitted] + q.n) % q.n
			if delta == 0 {
				// The allocated edge has wrapped round to this slot: all N
				// slots are in flight.
				delta = q.n
			}
			next[idxWriteCommitted] = v[idxWriteAllocated]
			next[idxCountReadable] = v[idxCountReadable] + delta
		default: // OrderFCFS
			next[idxWriteCommitted] = (idx + 1) % q.n
			next[idxCountReadable] = v[idxCountReadable] + 1
		}
		if q.eng.CompareExchange(v, next) {
			return
		}
	}
}

// ReadAcquire reserves the next readable slot, or returns nil if none are
// available.
func (q *Queue[E]) ReadAcquire() *E {
	for {
		v := q.snapshot()
		if v[idxCountReadable] == 0 {
			return nil
		}
		idx := v[idxReadAcquired]
		next := append([]uint64(nil), v...)
		next[idxReadAcquired] = (idx + 1) % q.n
		next[idxCountReadable] = v[idxCountReadable] - 1
		if q.eng.CompareExchange(v, next) {
			return q.storage.At(int(idx))
		}
	}
}

// ReadRelease retires slot, freeing it for a future WriteAcquire. Symmetric
// to WriteCommit under the queue's readOrder discipline.
func (q *Queue[E]) ReadRelease(slot *E) {
	idx := uint64(q.storage.IndexOf(slot))
	for {
		v := q.snapshot()
		if idx != v[idxReadReleased] {
			return
		}
		next := append([]uint64(nil), v...)
		switch q.readOrder {
		case OrderNested:
			delta := (v[idxReadAcquired] - v[idxReadReleased] + q.n) % q.n
			if delta == 0 {
				// The acquired edge has wrapped round to this slot: all N
				// slots are being read.
				delta = q.n
			}
			next[idxReadReleased] = v[idxReadAcquired]
			next[idxCountWritable] = v[idxCountWritable] + delta
		default: // OrderFCFS
			next[idxReadReleased] = (idx + 1) % q.n
			next[idxCountWritable] = v[idxCountWritable] + 1
		}
		if q.eng.CompareExchange(v, next) {
			return
		}
	}
}

// CountWritable returns the current number of free slots.
func (q *Queue[E]) CountWritable() uint64 {
	v := q.snapshot()
	return v[idxCountWritable]
}

// CountReadable returns the current number of committed-but-unacquired
// slots.
func (q *Queue[E]) CountReadable() uint64 {
	v := q.snapshot()
	return v[idxCountReadable]
}

// Iterator walks a snapshot of one contiguous queue region, one slot
// pointer at a time. The caller is responsible for mutual exclusion against
// other agents acting on the same region: the iterator only snapshots the
// index vector at construction, it does not hold a lock.
type Iterator[E any] struct {
	storage *cas.Storage[E]
	cur, end uint64
	n        uint64
	done     bool
}

// Next returns the next slot pointer in the region, or nil once exhausted.
func (it *Iterator[E]) Next() *E {
	if it.done || it.cur == it.end {
		it.done = true
		return nil
	}
	idx := it.cur
	it.cur = (it.cur + 1) % it.n
	return it.storage.At(int(idx))
}

// ReadableIter walks the committed-but-not-yet-acquired region, from the
// read-acquired edge to the write-committed edge.
func (q *Queue[E]) ReadableIter() *Iterator[E] {
	v := q.snapshot()
	return &Iterator[E]{storage: &q.storage, cur: v[idxReadAcquired], end: v[idxWriteCommitted], n: q.n}
}

// WritableIter walks the free region, from the write-allocated edge to the
// read-released edge.
func (q *Queue[E]) WritableIter() *Iterator[E] {
	v := q.snapshot()
	return &Iterator[E]{storage: &q.storage, cur: v[idxWriteAllocated], end: v[idxReadReleased], n: q.n}
}

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

// Package bag implements a fixed-capacity freelist allocator: static slot
// reservation over a caller-owned array, with no dynamic allocation.
package bag

import (
	"sync/atomic"

	"github.com/dijkstracula/aint-safe/internal/cas"
)

// Bag is a fixed-capacity pool of N slots of type E.
type Bag[E any] struct {
	storage  cas.Storage[E]
	occupied []cas.Flag
	nFree    atomic.Int64
}

// New wraps a caller-supplied slice as the bag's backing storage. All slots
// start free.
func New[E any](slots []E) *Bag[E] {
	b := &Bag[E]{
		storage:  cas.NewStorage(slots),
		occupied: make([]cas.Flag, len(slots)),
	}
	b.nFree.Store(int64(len(slots)))
	return b
}

// Acquire reserves one free slot and returns a pointer to it, or nil if the
// bag is exhausted. The structure remains consistent on a failed
// reservation: the admission counter is restored before returning.
func (b *Bag[E]) Acquire() *E {
	if b.nFree.Add(-1) < 0 {
		b.nFree.Add(1)
		return nil
	}

	// The successful decrement above guarantees a clear flag exists; scan
	// for it starting at index 0.
	for i := 0; i < b.storage.Len(); i++ {
		if !b.occupied[i].TestAndSet() {
			return b.storage.At(i)
		}
	}
	// Unreachable under correct single-release-per-acquire use: the
	// decrement admitted this call, so some flag must have been clear.
	panic("bag: admitted acquire found no free slot")
}

// Release returns slot to the bag. Releasing a slot that was not currently
// held (a double-release) corrupts the structure — a subsequent Acquire may
// never find a free flag even though nFree claims one exists — and is
// documented caller responsibility, not defended against here.
func (b *Bag[E]) Release(slot *E) {
	i := b.storage.IndexOf(slot)
	b.occupied[i].Clear()
	b.nFree.Add(1)
}

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

// Package dbuf implements a double buffer: a two-slot publish/subscribe cell
// with at most one writer in flight and any number of nested readers, none
// of which ever block.
package dbuf

import (
	"sync/atomic"

	"github.com/dijkstracula/aint-safe/internal/cas"
)

// DoubleBuffer delivers the latest committed value of type E to any number
// of concurrent or nested readers, with at most one writer in flight.
type DoubleBuffer[E any] struct {
	storage cas.Storage[E]

	selectedRead atomic.Pointer[E]
	nextRead     atomic.Pointer[E]
	nReaders     atomic.Int64
	writeLock    cas.Flag
}

// New wraps a caller-supplied two-element slice. Both slots are considered
// zero-valued and addressed by selectedRead/nextRead at rest.
func New[E any](slots []E) *DoubleBuffer[E] {
	if len(slots) != 2 {
		panic("dbuf: New requires exactly two slots")
	}
	d := &DoubleBuffer[E]{storage: cas.NewStorage(slots)}
	d.selectedRead.Store(d.storage.At(0))
	d.nextRead.Store(d.storage.At(0))
	return d
}

// WriteAcquire takes the write lock and returns the slot not currently
// visible to readers, or nil if another writer already holds the lock.
func (d *DoubleBuffer[E]) WriteAcquire() *E {
	if d.writeLock.TestAndSet() {
		return nil
	}

	// Quiesce: bring nextRead to the same slot readers currently see, so a
	// reader arriving after this point cannot be pinning the other slot.
	// The loop terminates because only a nested writer could move
	// selectedRead/nextRead again, and a nested writer must run to
	// completion before we resume.
	var last *E
	for {
		last = d.selectedRead.Load()
		old := d.nextRead.Swap(last)
		if old == last {
			break
		}
	}

	other := d.storage.At(0)
	if other == last {
		other = d.storage.At(1)
	}
	return other
}

// WriteCommit publishes slot to future readers and releases the write lock.
// A nil slot (a failed WriteAcquire) makes this a complete no-op, including
// not touching the write lock.
func (d *DoubleBuffer[E]) WriteCommit(slot *E) {
	if slot == nil {
		return
	}
	d.nextRead.Store(slot)
	d.writeLock.Clear()
}

// ReadAcquire registers the caller as a reader and returns the slot
// currently visible. The first reader of a 0->1 transition in nReaders
// adopts the latest committed slot on behalf of every concurrent reader.
func (d *DoubleBuffer[E]) ReadAcquire() *E {
	if d.nReaders.Add(1) == 1 {
		for {
			candidate := d.nextRead.Load()
			old := d.selectedRead.Swap(candidate)
			if old == candidate {
				break
			}
		}
	}
	return d.selectedRead.Load()
}

// ReadRelease retires one reader registered by ReadAcquire. The slot
// argument is informational only: every active reader shares the same
// slot.
func (d *DoubleBuffer[E]) ReadRelease(*E) {
	d.nReaders.Add(-1)
}

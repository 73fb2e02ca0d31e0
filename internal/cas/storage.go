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

// Package cas holds the pieces shared by every primitive in this module: the
// borrowed-slice model for externally-owned payload storage, and a
// test-and-set flag built on atomic.Bool since Go has no native TAS
// instruction.
package cas

import (
	"sync/atomic"
	"unsafe"
)

// Storage is a fixed-capacity, externally-owned array of slots. A primitive
// header holds a Storage by value and never grows, reslices, or frees it;
// the caller retains ownership for the lifetime of the header.
type Storage[E any] struct {
	slots []E
}

// NewStorage wraps a caller-supplied slice. The slice's length is the fixed
// capacity for the lifetime of the returned Storage.
func NewStorage[E any](slots []E) Storage[E] {
	return Storage[E]{slots: slots}
}

// Len returns the fixed capacity.
func (s *Storage[E]) Len() int {
	return len(s.slots)
}

// At returns a pointer into slot i. i must be in [0, Len()).
func (s *Storage[E]) At(i int) *E {
	return &s.slots[i]
}

// IndexOf recovers the slot index of a pointer previously returned by At.
// Behaviour is undefined if p does not point into this Storage, matching
// the primitives' documented caller-responsibility for misuse.
func (s *Storage[E]) IndexOf(p *E) int {
	var zero E
	stride := unsafe.Sizeof(zero)
	base := uintptr(unsafe.Pointer(&s.slots[0]))
	target := uintptr(unsafe.Pointer(p))
	return int((target - base) / stride)
}

// Flag is a single-bit test-and-set primitive: CompareAndSwap(false, true)
// is the TAS, Store(false) is the clear. It is the Go stand-in for the
// hardware test-and-set instruction the embedded reference relies on.
type Flag struct {
	set atomic.Bool
}

// TestAndSet atomically sets the flag and returns its previous value.
func (f *Flag) TestAndSet() (old bool) {
	for {
		old = f.set.Load()
		if f.set.CompareAndSwap(old, true) {
			return old
		}
	}
}

// Clear unconditionally clears the flag.
func (f *Flag) Clear() {
	f.set.Store(false)
}

// IsSet reports the flag's current value.
func (f *Flag) IsSet() bool {
	return f.set.Load()
}

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

// Package interleave is test-only scaffolding for reproducing specific
// interleavings of the primitives in this module deterministically, without
// sleeps. Go has no interrupt controller to pre-empt a goroutine at an
// instruction boundary, so nesting is reproduced two ways: a Baton lets
// tests pin down a specific goroutine interleaving when they need real
// concurrency; the primitive packages themselves additionally expose
// no-op-by-default pre-emption hooks (see mcas's testHookAfterAppend) for
// true single-goroutine recursive nesting.
package interleave

import "sync"

// Baton sequences a fixed number of named stages across goroutines: a
// goroutine blocked in WaitFor(stage) unblocks only once some goroutine
// calls Advance(stage).
type Baton struct {
	stages []chan struct{}
}

// NewBaton allocates a Baton with n stages, numbered 0..n-1.
func NewBaton(n int) *Baton {
	b := &Baton{stages: make([]chan struct{}, n)}
	for i := range b.stages {
		b.stages[i] = make(chan struct{})
	}
	return b
}

// WaitFor blocks until Advance(stage) has been called.
func (b *Baton) WaitFor(stage int) {
	<-b.stages[stage]
}

// Advance unblocks every goroutine waiting on stage. It must be called
// exactly once per stage.
func (b *Baton) Advance(stage int) {
	close(b.stages[stage])
}

// Run launches each of fns in its own goroutine, passing it the Baton and
// its own index, and blocks until all of them return.
func Run(n int, fns ...func(b *Baton, i int)) {
	baton := NewBaton(n)
	var wg sync.WaitGroup
	wg.Add(len(fns))
	for i, fn := range fns {
		go func(i int, fn func(b *Baton, i int)) {
			defer wg.Done()
			fn(baton, i)
		}(i, fn)
	}
	wg.Wait()
}

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

// Package mcas implements a multi-word compare-and-swap engine: a fixed-size
// array of machine words that can be read as a linearisable snapshot or
// swapped all-or-nothing, via a cooperative "helping" protocol built on an
// intrusive intent-log journal.
//
// The engine is nesting-safe rather than merely concurrency-safe: every
// context about to wait for an in-flight operation instead drives that
// operation to completion itself. A handler that pre-empts an outer
// Read or CompareExchange call, and itself calls into the same Engine,
// finishes the outer call as a side effect of its own append/help/unlink
// cycle. Neither call waits for the other's operation to finish. The one
// wait in the engine is on journalLock, which append and unlink hold while
// they edit the chain's links: a call that finds it held spins until it is
// released.
package mcas

import (
	"sync/atomic"

	"github.com/dijkstracula/aint-safe/internal/cas"
)

type opStatus int32

const (
	statusUndefined opStatus = iota
	statusSuccess
	statusFailure
)

type opTag int

const (
	tagRead opTag = iota
	tagCAS
)

// entry is one journal intent-log record. It is meant to be stack-resident
// for the duration of a single Read or CompareExchange call: Go can't pin it
// off the heap, but its lifetime is still scoped to that one call, and it is
// never reused across operations.
type entry struct {
	next   atomic.Pointer[entry]
	status atomic.Int32
	tag    opTag

	// CAS case.
	expected []uint64
	desired  []uint64
	swapping atomic.Bool

	// Read case.
	dest []uint64
	once []cas.Flag

	// parent is the journal slot this entry currently occupies. append sets
	// it; if the entry's predecessor unlinks first, unlink moves it to the
	// predecessor's old slot.
	parent *atomic.Pointer[entry]
}

func (e *entry) loadStatus() opStatus { return opStatus(e.status.Load()) }

// testHookAfterAppend is a no-op-by-default pre-emption seam: tests in this
// package may swap it in to run a nested operation at the exact point where
// an entry has been appended to the journal but helping has not yet started,
// mirroring the testHook seams used throughout the Go standard library.
var testHookAfterAppend = func(*entry) {}

// testHookBeforeUnlink is a no-op-by-default pre-emption seam firing after an
// entry has helped everyone it could see but before it unlinks itself. Tests
// use it to pin down the window a concurrent append into this same entry's
// slot has to race against this entry's unlink.
var testHookBeforeUnlink = func(*entry) {}

// Engine is a fixed-capacity array of K atomic machine words plus the
// journal chain used to serialize cooperative helping across Read and
// CompareExchange calls. journalLock serializes only the chain's own
// shape (append installing a new tail, unlink splicing a retiring entry
// back out); the K words and helpAll's walk stay lock-free.
type Engine struct {
	words       []atomic.Uint64
	journal     atomic.Pointer[entry]
	journalLock cas.Flag
}

// NewEngine constructs an Engine with K words initialised from initial.
func NewEngine(initial []uint64) *Engine {
	eng := &Engine{words: make([]atomic.Uint64, len(initial))}
	for i, v := range initial {
		eng.words[i].Store(v)
	}
	return eng
}

// K returns the word count.
func (eng *Engine) K() int { return len(eng.words) }

// Read produces a snapshot of the K words into dest, linearised against any
// concurrently-helped CompareExchange. Read always succeeds.
func (eng *Engine) Read(dest []uint64) {
	e := &entry{
		tag:  tagRead,
		dest: dest,
		once: make([]cas.Flag, len(eng.words)),
	}
	eng.run(e)
}

// CompareExchange atomically replaces all K words with desired iff every
// word currently equals expected. It never writes back the observed values
// on failure.
func (eng *Engine) CompareExchange(expected, desired []uint64) bool {
	e := &entry{
		tag:      tagCAS,
		expected: expected,
		desired:  desired,
	}
	eng.run(e)
	return e.loadStatus() == statusSuccess
}

// run is the three-phase append/help/unlink protocol common to both
// operations.
func (eng *Engine) run(e *entry) {
	eng.append(e)
	defer eng.unlink(e)

	testHookAfterAppend(e)

	eng.helpAll()

	testHookBeforeUnlink(e)
}

// append installs e at the tail of the journal chain, walking from
// eng.journal and following next links until it finds the current tail.
// The walk and install happen under journalLock: without it, a concurrent
// unlink on the node this walk lands behind could read that node's next
// pointer as still-nil (no successor yet) and splice the node out before
// this append's store lands, orphaning e off the reachable chain. Holding
// the same lock unlink takes rules that out entirely.
func (eng *Engine) append(e *entry) {
	for eng.journalLock.TestAndSet() {
	}
	defer eng.journalLock.Clear()

	parent := &eng.journal
	cur := parent.Load()
	for cur != nil {
		parent = &cur.next
		cur = parent.Load()
	}
	parent.Store(e)
	e.parent = parent
}

// unlink splices e back out of the journal chain, handing its parent slot
// to whatever entry appended after it (or to nil, if none did). Under true
// single-CPU nesting e is always the tail, so succ is always nil and this
// degenerates to the simple case; under real concurrent goroutines sharing
// one Engine, another entry may legitimately have appended behind e before
// e unlinks, and blindly nil-ing e's own next pointer (as opposed to
// splicing succ into e's parent slot) would silently drop that entry, and
// everything appended after it, off the chain -- it would never be helped
// and its status would stay statusUndefined forever. journalLock, the same
// lock append takes, rules out the remaining race: by the time this read
// of e.next runs, no further append can still be in flight against it.
func (eng *Engine) unlink(e *entry) {
	for eng.journalLock.TestAndSet() {
	}
	defer eng.journalLock.Clear()

	succ := e.next.Load()
	e.parent.Store(succ)
	if succ != nil {
		succ.parent = e.parent
	}
}

// helpAll walks the entire journal chain from eng.journal and drives every
// still-undefined entry to completion. This is what makes the protocol
// nesting-safe: a handler that pre-empts an in-flight operation will, as
// its first act inside its own call, finish that operation on the outer
// context's behalf.
func (eng *Engine) helpAll() {
	cur := eng.journal.Load()
	for cur != nil {
		if cur.loadStatus() == statusUndefined {
			eng.complete(cur)
		}
		cur = cur.next.Load()
	}
}

func (eng *Engine) complete(e *entry) {
	switch e.tag {
	case tagCAS:
		eng.completeCAS(e)
	case tagRead:
		eng.completeRead(e)
	}
}

// completeCAS is the two-phase compare-then-store. The strong status CAS on
// the failure path matters: without it, a helper that observes a mismatch
// could stomp a status that a faster helper already drove to SUCCESS.
func (eng *Engine) completeCAS(e *entry) {
	if !e.swapping.Load() {
		for i := range eng.words {
			if eng.words[i].Load() != e.expected[i] {
				e.status.CompareAndSwap(int32(statusUndefined), int32(statusFailure))
				return
			}
		}
		e.swapping.Store(true)
	}
	for i := range eng.words {
		eng.words[i].Store(e.desired[i])
	}
	e.status.CompareAndSwap(int32(statusUndefined), int32(statusSuccess))
}

// completeRead uses a per-word one-shot flag so that exactly one helper's
// observation of each word lands in dest. Combined with completeCAS always
// storing every word unconditionally once swapping, the composed snapshot
// corresponds to the engine's state between two adjacent successful
// CompareExchange calls.
func (eng *Engine) completeRead(e *entry) {
	for i := range eng.words {
		v := eng.words[i].Load()
		if !e.once[i].TestAndSet() {
			e.dest[i] = v
		}
	}
	e.status.CompareAndSwap(int32(statusUndefined), int32(statusSuccess))
}

package mcas

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dijkstracula/aint-safe/internal/interleave"
)

// A CompareExchange that appends while another entry is paused between its
// own helpAll and its own unlink must still resolve, and must never be
// silently spliced out of the journal. This pins down the exact window two
// real concurrent goroutines racing on one Engine have to cross: goroutine A
// has already helped everyone it could see and is about to unlink itself;
// goroutine B appends its own entry into A's now-empty next slot and runs it
// to completion entirely inside that window.
func TestConcurrentAppendDuringUnlinkStillResolves(t *testing.T) {
	eng := NewEngine([]uint64{1, 2})

	var armed atomic.Bool
	armed.Store(true)

	baton := interleave.NewBaton(2)

	orig := testHookBeforeUnlink
	defer func() { testHookBeforeUnlink = orig }()
	testHookBeforeUnlink = func(e *entry) {
		if !armed.CompareAndSwap(true, false) {
			return
		}
		baton.Advance(0)
		baton.WaitFor(1)
	}

	var bOK bool
	interleave.Run(2,
		func(b *interleave.Baton, i int) {
			ok := eng.CompareExchange([]uint64{1, 2}, []uint64{3, 4})
			require.True(t, ok)
		},
		func(b *interleave.Baton, i int) {
			baton.WaitFor(0)
			bOK = eng.CompareExchange([]uint64{3, 4}, []uint64{5, 6})
			baton.Advance(1)
		},
	)

	assert.True(t, bOK, "B's CompareExchange must resolve even though it appended while A was mid-unlink")

	got := make([]uint64, 2)
	eng.Read(got)
	assert.Equal(t, []uint64{5, 6}, got)
	assert.Nil(t, eng.journal.Load(), "journal must be empty once both entries have unlinked")
}

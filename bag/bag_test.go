package bag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Acquiring past the bag's capacity must return nil instead of inventing a
// slot, and releasing one must make it acquirable again.
func TestBagExhaustion(t *testing.T) {
	b := New(make([]int, 2))

	s1 := b.Acquire()
	s2 := b.Acquire()
	require.NotNil(t, s1)
	require.NotNil(t, s2)
	assert.NotEqual(t, s1, s2)

	s3 := b.Acquire()
	assert.Nil(t, s3)

	b.Release(s1)
	s4 := b.Acquire()
	assert.Equal(t, s1, s4)
}

func TestAcquireNeverDoubleIssues(t *testing.T) {
	b := New(make([]int, 8))
	seen := make(map[*int]bool)
	for i := 0; i < 8; i++ {
		s := b.Acquire()
		require.NotNil(t, s)
		assert.False(t, seen[s])
		seen[s] = true
	}
	assert.Nil(t, b.Acquire())
}

func TestNestedAcquireDuringHoldReturnsDifferentSlot(t *testing.T) {
	b := New(make([]int, 4))

	outer := b.Acquire()
	require.NotNil(t, outer)

	// Simulates an ISR acquiring its own slot before the outer caller
	// releases.
	inner := b.Acquire()
	require.NotNil(t, inner)
	assert.NotEqual(t, outer, inner)

	b.Release(inner)
	b.Release(outer)
}

package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Under OrderNested, committing out of acquisition order is a silent no-op
// until the earliest outstanding slot finally commits, at which point it
// drains every contiguous commit queued up behind it in one step.
func TestNestedCommitReordering(t *testing.T) {
	q := New(make([]int, 4), OrderNested, OrderNested)

	w1 := q.WriteAcquire()
	w2 := q.WriteAcquire()
	w3 := q.WriteAcquire()
	require.NotNil(t, w1)
	require.NotNil(t, w2)
	require.NotNil(t, w3)

	*w1, *w2, *w3 = 1, 2, 3

	q.WriteCommit(w2)
	assert.EqualValues(t, 0, q.CountReadable())

	q.WriteCommit(w3)
	assert.EqualValues(t, 0, q.CountReadable())

	q.WriteCommit(w1)
	assert.EqualValues(t, 3, q.CountReadable())
	assert.EqualValues(t, 1, q.CountWritable())
}

// Under OrderFCFS, a single producer commits strictly in acquisition order,
// one slot becoming readable per commit.
func TestFCFSSingleProducer(t *testing.T) {
	q := New(make([]int, 3), OrderFCFS, OrderFCFS)

	w1 := q.WriteAcquire()
	w2 := q.WriteAcquire()
	w3 := q.WriteAcquire()
	require.NotNil(t, w1)
	require.NotNil(t, w2)
	require.NotNil(t, w3)

	q.WriteCommit(w1)
	assert.EqualValues(t, 1, q.CountReadable())
	q.WriteCommit(w2)
	assert.EqualValues(t, 2, q.CountReadable())
	q.WriteCommit(w3)
	assert.EqualValues(t, 3, q.CountReadable())
}

func TestWriteAcquireFailsWhenFull(t *testing.T) {
	q := New(make([]int, 2), OrderNested, OrderNested)
	require.NotNil(t, q.WriteAcquire())
	require.NotNil(t, q.WriteAcquire())
	assert.Nil(t, q.WriteAcquire())
}

func TestReadAcquireFailsWhenEmpty(t *testing.T) {
	q := New(make([]int, 2), OrderNested, OrderNested)
	assert.Nil(t, q.ReadAcquire())
}

func TestRoundTripWriteThenRead(t *testing.T) {
	q := New(make([]int, 2), OrderNested, OrderNested)

	w := q.WriteAcquire()
	require.NotNil(t, w)
	*w = 42
	q.WriteCommit(w)

	r := q.ReadAcquire()
	require.NotNil(t, r)
	assert.Equal(t, 42, *r)
	q.ReadRelease(r)

	assert.EqualValues(t, 2, q.CountWritable())
	assert.EqualValues(t, 0, q.CountReadable())
}

func TestNestedWriteAcquireDuringReadAcquireReturnsDifferentSlot(t *testing.T) {
	q := New(make([]int, 3), OrderNested, OrderNested)

	w := q.WriteAcquire()
	*w = 1
	q.WriteCommit(w)

	r := q.ReadAcquire()
	require.NotNil(t, r)

	// A nested write (e.g. from an ISR) must not collide with the slot
	// being read.
	w2 := q.WriteAcquire()
	require.NotNil(t, w2)
	assert.NotEqual(t, r, w2)

	q.ReadRelease(r)
	q.WriteCommit(w2)
}

func TestNestedReleaseReordering(t *testing.T) {
	q := New(make([]int, 4), OrderNested, OrderNested)

	for i := 0; i < 3; i++ {
		w := q.WriteAcquire()
		require.NotNil(t, w)
		q.WriteCommit(w)
	}

	r1 := q.ReadAcquire()
	r2 := q.ReadAcquire()
	r3 := q.ReadAcquire()
	require.NotNil(t, r1)
	require.NotNil(t, r2)
	require.NotNil(t, r3)

	q.ReadRelease(r2)
	assert.EqualValues(t, 1, q.CountWritable())
	q.ReadRelease(r3)
	assert.EqualValues(t, 1, q.CountWritable())
	q.ReadRelease(r1)
	assert.EqualValues(t, 4, q.CountWritable())
}

func TestIteratorsWalkExpectedRegions(t *testing.T) {
	q := New(make([]int, 4), OrderNested, OrderNested)

	w1 := q.WriteAcquire()
	w2 := q.WriteAcquire()
	*w1, *w2 = 10, 20
	q.WriteCommit(w1)
	q.WriteCommit(w2)

	it := q.ReadableIter()
	var got []int
	for p := it.Next(); p != nil; p = it.Next() {
		got = append(got, *p)
	}
	assert.Equal(t, []int{10, 20}, got)

	wit := q.WritableIter()
	count := 0
	for p := wit.Next(); p != nil; p = wit.Next() {
		count++
	}
	assert.Equal(t, 2, count)
}

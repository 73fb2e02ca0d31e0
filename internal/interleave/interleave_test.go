package interleave

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// The Baton itself establishes happens-before between Advance and the
// matching WaitFor, so no additional synchronization is needed around the
// shared slice below.
func TestBatonOrdersTwoGoroutines(t *testing.T) {
	var order []int

	Run(2,
		func(b *Baton, i int) {
			order = append(order, 0)
			b.Advance(0)
		},
		func(b *Baton, i int) {
			b.WaitFor(0)
			order = append(order, 1)
		},
	)

	assert.Equal(t, []int{0, 1}, order)
}

func TestBatonMultiStageOrdering(t *testing.T) {
	var order []int

	Run(3,
		func(b *Baton, i int) {
			order = append(order, 0)
			b.Advance(0)
		},
		func(b *Baton, i int) {
			b.WaitFor(0)
			order = append(order, 1)
			b.Advance(1)
		},
		func(b *Baton, i int) {
			b.WaitFor(1)
			order = append(order, 2)
		},
	)

	assert.Equal(t, []int{0, 1, 2}, order)
}

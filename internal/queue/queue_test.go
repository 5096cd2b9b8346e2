package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var distances = []float32{0.4, 9, 0.001, 0.0534, 0.234, 2.03, 2.042, 2.532, 1.0009, 0.329, 0.193, 0.999, 0.020391, 2.0991, 1.203, 10.03, 1.039, 1.0008, 5.029, 0.789}

func TestMaxQueue(t *testing.T) {
	pq := NewMax(len(distances))
	for i, d := range distances {
		pq.Push(Item{Node: uint32(i), Distance: d})
	}

	top, ok := pq.Top()
	assert.True(t, ok)
	assert.Equal(t, uint32(15), top.Node)

	for pq.Len() > 10 {
		pq.Pop()
	}
	top, _ = pq.Top()
	assert.Equal(t, uint32(17), top.Node)
	assert.Equal(t, float32(1.0008), top.Distance)
}

func TestMinQueue(t *testing.T) {
	pq := NewMin(0)
	for i, d := range distances {
		pq.Push(Item{Node: uint32(i), Distance: d})
	}

	prev := float32(-1)
	for pq.Len() > 0 {
		it, _ := pq.Pop()
		assert.GreaterOrEqual(t, it.Distance, prev)
		prev = it.Distance
	}
	_, ok := pq.Pop()
	assert.False(t, ok)
}

func TestTiesBreakByNode(t *testing.T) {
	pq := NewMax(4)
	for _, n := range []uint32{7, 3, 9, 1} {
		pq.Push(Item{Node: n, Distance: 1})
	}
	assert.Equal(t, []Item{{1, 1}, {3, 1}, {7, 1}, {9, 1}}, pq.Drain())

	pq = NewMin(4)
	for _, n := range []uint32{7, 3, 9, 1} {
		pq.Push(Item{Node: n, Distance: 1})
	}
	it, _ := pq.Pop()
	assert.Equal(t, uint32(1), it.Node)
}

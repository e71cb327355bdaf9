package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundedHeap_KeepsBest(t *testing.T) {
	h := NewBoundedHeap(3, func(a, b int) bool { return a > b })
	for _, v := range []int{5, 1, 9, 3, 7, 2} {
		h.Push(v)
	}
	assert.True(t, h.Full())
	worst, ok := h.Worst()
	assert.True(t, ok)
	assert.Equal(t, 5, worst)
	assert.Equal(t, 3, h.Dropped)
	assert.Equal(t, []int{9, 7, 5}, h.Sorted())
	assert.Zero(t, h.Len())
}

func TestBoundedHeap_RejectsWorseWhenFull(t *testing.T) {
	h := NewBoundedHeap(2, func(a, b int) bool { return a < b })
	assert.True(t, h.Push(4))
	assert.True(t, h.Push(2))
	assert.False(t, h.Push(8))
	assert.True(t, h.Push(1))
	assert.Equal(t, []int{1, 2}, h.Sorted())
}

func TestBoundedHeap_Unbounded(t *testing.T) {
	h := NewBoundedHeap(0, func(a, b int) bool { return a < b })
	for i := 10; i > 0; i-- {
		h.Push(i)
	}
	assert.False(t, h.Full())
	assert.Zero(t, h.Dropped)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, h.Sorted())

	_, ok := h.Worst()
	assert.False(t, ok)
}

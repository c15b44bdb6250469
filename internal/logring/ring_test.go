package logring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_AppendAndSnapshot(t *testing.T) {
	r := New[int](3)

	r.Append(1)
	r.Append(2)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 3, r.Cap())
	assert.Equal(t, []int{1, 2}, r.Snapshot())
}

func TestRing_EvictsOldestWhenFull(t *testing.T) {
	// GOAL: Appending past capacity drops the oldest entry and never exceeds
	// the fixed maximum.
	r := New[int](3)

	for i := 1; i <= 5; i++ {
		r.Append(i)
	}

	assert.Equal(t, 3, r.Len(), "ring MUST NOT exceed its capacity")
	assert.Equal(t, []int{3, 4, 5}, r.Snapshot(), "oldest entries MUST be evicted first")
	assert.Equal(t, int64(2), r.Evicted())
}

func TestRing_Latest(t *testing.T) {
	r := New[string](2)

	_, ok := r.Latest()
	assert.False(t, ok, "empty ring has no latest entry")

	r.Append("a")
	r.Append("b")
	r.Append("c") // evicts "a"

	v, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, "c", v)
}

func TestRing_Clear(t *testing.T) {
	r := New[int](4)
	for i := 0; i < 6; i++ {
		r.Append(i)
	}

	r.Clear()

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Snapshot())
	assert.Equal(t, 4, r.Cap(), "capacity survives clear")

	// Ring remains usable after clear.
	r.Append(42)
	assert.Equal(t, []int{42}, r.Snapshot())
}

func TestRing_PanicsOnInvalidCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}

package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_WriteRead(t *testing.T) {
	q := NewRing[int](4)

	require.NoError(t, q.Write(1))
	require.NoError(t, q.Write(2))
	assert.Equal(t, 2, q.Size())

	v, ok := q.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = q.Read()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = q.Read()
	assert.False(t, ok, "empty buffer read should fail")
}

func TestRing_DropOldest(t *testing.T) {
	var dropped []int
	q := NewRing(2,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback(func(item int) { dropped = append(dropped, item) }),
	)

	require.NoError(t, q.Write(1))
	require.NoError(t, q.Write(2))
	require.NoError(t, q.Write(3)) // evicts 1

	assert.Equal(t, []int{1}, dropped)

	batch := q.ReadBatch(10)
	assert.Equal(t, []int{2, 3}, batch)
	assert.Equal(t, int64(1), q.Stats().Drops)
}

func TestRing_DropNewest(t *testing.T) {
	var dropped []int
	q := NewRing(2,
		WithOverflowPolicy[int](DropNewest),
		WithDropCallback(func(item int) { dropped = append(dropped, item) }),
	)

	require.NoError(t, q.Write(1))
	require.NoError(t, q.Write(2))
	require.NoError(t, q.Write(3)) // dropped, not queued

	assert.Equal(t, []int{3}, dropped)

	batch := q.ReadBatch(10)
	assert.Equal(t, []int{1, 2}, batch)
}

func TestRing_ReadBatchPartial(t *testing.T) {
	q := NewRing[string](8)
	require.NoError(t, q.Write("a"))
	require.NoError(t, q.Write("b"))

	batch := q.ReadBatch(5)
	assert.Equal(t, []string{"a", "b"}, batch)
	assert.Nil(t, q.ReadBatch(5))
}

func TestRing_WrapAround(t *testing.T) {
	q := NewRing[int](3)
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Write(i))
		v, ok := q.Read()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	stats := q.Stats()
	assert.Equal(t, int64(10), stats.Writes)
	assert.Equal(t, int64(10), stats.Reads)
	assert.Equal(t, int64(0), stats.Drops)
}

func TestRing_CloseRejectsWrites(t *testing.T) {
	q := NewRing[int](2)
	require.NoError(t, q.Write(1))
	require.NoError(t, q.Close())

	err := q.Write(2)
	assert.ErrorIs(t, err, ErrClosed)

	// Reads still drain queued items after close.
	v, ok := q.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

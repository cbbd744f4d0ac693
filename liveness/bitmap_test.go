package liveness

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kungtalon/vecdb/core"
)

func TestBitmapAddRemove(t *testing.T) {
	b := New()

	b.Add(1)
	b.Add(7)
	b.Add(1)

	assert.True(t, b.Contains(1))
	assert.True(t, b.Contains(7))
	assert.False(t, b.Contains(2))
	assert.Equal(t, uint64(2), b.Cardinality())

	b.Remove(1)
	b.Remove(42) // absent, no-op

	assert.False(t, b.Contains(1))
	assert.Equal(t, uint64(1), b.Cardinality())
}

func TestBitmapCopyIsDetached(t *testing.T) {
	b := New()
	b.Add(3)

	snap := b.Copy()
	b.Add(4)

	assert.False(t, snap.Contains(4))
	assert.True(t, b.Contains(4))
}

func TestBitmapRoundTrip(t *testing.T) {
	b := New()
	for _, id := range []core.InternalID{0, 5, 9, 100000} {
		b.Add(id)
	}

	var buf bytes.Buffer
	_, err := b.WriteTo(&buf)
	require.NoError(t, err)

	got := New()
	_, err = got.ReadFrom(&buf)
	require.NoError(t, err)

	assert.Equal(t, b.Cardinality(), got.Cardinality())
	assert.True(t, got.Contains(100000))
}

func TestBitmapConcurrentMutation(t *testing.T) {
	b := New()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				b.Add(core.InternalID(g*1000 + i))
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, uint64(8000), b.Cardinality())
}

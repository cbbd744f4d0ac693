// Package liveness tracks which internal ids are currently visible to
// queries. The set is backed by a roaring bitmap guarded for concurrent
// readers with serialized writers; query paths take an immutable copy so
// they never observe a half-applied mutation.
package liveness

import (
	"io"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kungtalon/vecdb/core"
)

// Bitmap is the liveness set of a collection.
type Bitmap struct {
	mu   sync.RWMutex
	bits *roaring.Bitmap
}

// New returns an empty liveness set.
func New() *Bitmap {
	return &Bitmap{bits: roaring.New()}
}

// Add marks id as live.
func (b *Bitmap) Add(id core.InternalID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bits.Add(uint32(id))
}

// Remove marks id as dead. Removing an absent id is a no-op.
func (b *Bitmap) Remove(id core.InternalID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bits.Remove(uint32(id))
}

// Contains reports whether id is live.
func (b *Bitmap) Contains(id core.InternalID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.bits.Contains(uint32(id))
}

// Cardinality returns the number of live ids.
func (b *Bitmap) Cardinality() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.bits.GetCardinality()
}

// Copy returns an immutable point-in-time copy of the set. The returned
// bitmap is owned by the caller.
func (b *Bitmap) Copy() *roaring.Bitmap {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.bits.Clone()
}

// Replace swaps the underlying set. Used on restart reconciliation.
func (b *Bitmap) Replace(bits *roaring.Bitmap) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bits = bits
}

// Iterate calls fn for every live id in ascending order until fn returns
// false.
func (b *Bitmap) Iterate(fn func(id core.InternalID) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	it := b.bits.Iterator()
	for it.HasNext() {
		if !fn(core.InternalID(it.Next())) {
			return
		}
	}
}

// WriteTo serializes the set.
func (b *Bitmap) WriteTo(w io.Writer) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.bits.WriteTo(w)
}

// ReadFrom replaces the set with a serialized one.
func (b *Bitmap) ReadFrom(r io.Reader) (int64, error) {
	bits := roaring.New()
	n, err := bits.ReadFrom(r)
	if err != nil {
		return n, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.bits = bits

	return n, nil
}

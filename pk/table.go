// Package pk maintains the bidirectional mapping between user-facing record
// ids and dense internal ids. Internal ids are allocated from a monotonic
// counter and never reused; a retired mapping leaves a permanent gap.
package pk

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/kungtalon/vecdb/core"
	"github.com/kungtalon/vecdb/model"
)

const tableFormatVersion = 1

// Table is the id translation table.
type Table struct {
	mu   sync.RWMutex
	fwd  map[model.RecordID]core.InternalID
	rev  map[core.InternalID]model.RecordID
	next core.InternalID
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		fwd: make(map[model.RecordID]core.InternalID),
		rev: make(map[core.InternalID]model.RecordID),
	}
}

// Assign allocates a fresh internal id for id. If a mapping already exists
// it is returned with ok=false; the caller decides whether that is a
// conflict or an update.
func (t *Table) Assign(id model.RecordID) (core.InternalID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, found := t.fwd[id]; found {
		return existing, false
	}

	internal := t.next
	t.next++
	t.fwd[id] = internal
	t.rev[internal] = id

	return internal, true
}

// Resolve returns the internal id mapped to id.
func (t *Table) Resolve(id model.RecordID) (core.InternalID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	internal, ok := t.fwd[id]
	return internal, ok
}

// Reverse returns the external id mapped to internal.
func (t *Table) Reverse(internal core.InternalID) (model.RecordID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, ok := t.rev[internal]
	return id, ok
}

// Retire removes the mapping for id and returns the internal id it held.
// The internal id is never handed out again.
func (t *Table) Retire(id model.RecordID) (core.InternalID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	internal, ok := t.fwd[id]
	if !ok {
		return 0, false
	}

	delete(t.fwd, id)
	delete(t.rev, internal)

	return internal, true
}

// Restore installs a mapping with an explicit internal id, bumping the
// allocator past it. Used when replaying the record store on open.
func (t *Table) Restore(id model.RecordID, internal core.InternalID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, found := t.fwd[id]; found {
		delete(t.rev, old)
	}
	t.fwd[id] = internal
	t.rev[internal] = id

	if internal >= t.next {
		t.next = internal + 1
	}
}

// Drop removes the mapping for id without returning it. Used during replay.
func (t *Table) Drop(id model.RecordID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if internal, found := t.fwd[id]; found {
		delete(t.fwd, id)
		delete(t.rev, internal)
	}
}

// EnsureNext bumps the allocator so it will never hand out an id below n.
func (t *Table) EnsureNext(n core.InternalID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n > t.next {
		t.next = n
	}
}

// Each calls fn for every mapping until fn returns false. The iteration
// order is unspecified.
func (t *Table) Each(fn func(id model.RecordID, internal core.InternalID) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for id, internal := range t.fwd {
		if !fn(id, internal) {
			return
		}
	}
}

// Len returns the number of active mappings.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.fwd)
}

// Next returns the exclusive upper bound of allocated internal ids.
func (t *Table) Next() core.InternalID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.next
}

// WriteTo serializes the table: version, allocator position, entry count,
// then (external id, internal id) pairs. Little endian throughout.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var n int64

	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], tableFormatVersion)
	binary.LittleEndian.PutUint32(header[4:8], uint32(t.next))
	binary.LittleEndian.PutUint64(header[8:16], uint64(len(t.fwd)))

	written, err := w.Write(header)
	n += int64(written)
	if err != nil {
		return n, fmt.Errorf("write table header: %w", err)
	}

	entry := make([]byte, 20)
	for id, internal := range t.fwd {
		copy(entry[0:16], id[:])
		binary.LittleEndian.PutUint32(entry[16:20], uint32(internal))

		written, err = w.Write(entry)
		n += int64(written)
		if err != nil {
			return n, fmt.Errorf("write table entry: %w", err)
		}
	}

	return n, nil
}

// ReadFrom replaces the table contents with a serialized one.
func (t *Table) ReadFrom(r io.Reader) (int64, error) {
	var n int64

	header := make([]byte, 16)
	read, err := io.ReadFull(r, header)
	n += int64(read)
	if err != nil {
		return n, fmt.Errorf("read table header: %w", err)
	}

	if version := binary.LittleEndian.Uint32(header[0:4]); version != tableFormatVersion {
		return n, fmt.Errorf("unsupported table format version %d", version)
	}

	next := core.InternalID(binary.LittleEndian.Uint32(header[4:8]))
	count := binary.LittleEndian.Uint64(header[8:16])

	fwd := make(map[model.RecordID]core.InternalID, count)
	rev := make(map[core.InternalID]model.RecordID, count)

	entry := make([]byte, 20)
	for i := uint64(0); i < count; i++ {
		read, err = io.ReadFull(r, entry)
		n += int64(read)
		if err != nil {
			return n, fmt.Errorf("read table entry: %w", err)
		}

		var id model.RecordID
		copy(id[:], entry[0:16])
		internal := core.InternalID(binary.LittleEndian.Uint32(entry[16:20]))

		fwd[id] = internal
		rev[internal] = id
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.fwd = fwd
	t.rev = rev
	t.next = next

	return n, nil
}

package engine

import (
	"sync/atomic"

	"github.com/kungtalon/vecdb/index"
)

// Snapshot is one backend generation. Queries pin a snapshot for their
// whole execution, so a rebuild can swap in a successor without pulling
// the backend out from under in-flight searches. The snapshot is freed
// once its creator and every pinning query have released it.
type Snapshot struct {
	backend index.Backend
	version uint64
	refs    atomic.Int64
}

func newSnapshot(backend index.Backend, version uint64) *Snapshot {
	s := &Snapshot{backend: backend, version: version}
	s.refs.Store(1)
	return s
}

// Version returns the snapshot's generation number.
func (s *Snapshot) Version() uint64 { return s.version }

// tryAcquire takes a reference unless the snapshot is already dead.
func (s *Snapshot) tryAcquire() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release drops a reference.
func (s *Snapshot) release() {
	s.refs.Add(-1)
}

func (s *Snapshot) refCount() int64 {
	return s.refs.Load()
}

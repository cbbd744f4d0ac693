package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/kungtalon/vecdb/core"
	"github.com/kungtalon/vecdb/model"
)

// Op is a log entry operation.
type Op uint8

const (
	// OpPut records an insert or update of a full record.
	OpPut Op = iota + 1
	// OpDelete records a removal by external id.
	OpDelete
)

// entryHeader layout:
//
//	seq (u64) | op (u8) | external id (16) | internal id (u32)
//
// followed, for OpPut, by:
//
//	dim (u32) | vector (dim * f32) | metaLen (u32) | metadata JSON
const entryHeaderSize = 8 + 1 + 16 + 4

type logEntry struct {
	Seq      uint64
	Op       Op
	ID       model.RecordID
	Internal core.InternalID
	Vector   []float32
	Metadata map[string]any
}

func encodeEntry(e *logEntry) ([]byte, error) {
	size := entryHeaderSize
	var meta []byte
	if e.Op == OpPut {
		if e.Metadata != nil {
			var err error
			meta, err = json.Marshal(e.Metadata)
			if err != nil {
				return nil, fmt.Errorf("store: encode metadata: %w", err)
			}
		}
		size += 4 + len(e.Vector)*4 + 4 + len(meta)
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint64(buf[0:8], e.Seq)
	buf[8] = byte(e.Op)
	copy(buf[9:25], e.ID[:])
	binary.LittleEndian.PutUint32(buf[25:29], uint32(e.Internal))

	if e.Op == OpPut {
		off := entryHeaderSize
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(e.Vector)))
		off += 4
		for _, f := range e.Vector {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
			off += 4
		}
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(meta)))
		off += 4
		copy(buf[off:], meta)
	}

	return buf, nil
}

func decodeEntry(buf []byte) (*logEntry, error) {
	if len(buf) < entryHeaderSize {
		return nil, fmt.Errorf("store: entry too short (%d bytes)", len(buf))
	}

	e := &logEntry{
		Seq:      binary.LittleEndian.Uint64(buf[0:8]),
		Op:       Op(buf[8]),
		Internal: core.InternalID(binary.LittleEndian.Uint32(buf[25:29])),
	}
	copy(e.ID[:], buf[9:25])

	switch e.Op {
	case OpDelete:
		return e, nil
	case OpPut:
	default:
		return nil, fmt.Errorf("store: unknown op %d", e.Op)
	}

	off := entryHeaderSize
	if len(buf) < off+4 {
		return nil, fmt.Errorf("store: truncated vector length")
	}
	dim := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4

	if len(buf) < off+dim*4+4 {
		return nil, fmt.Errorf("store: truncated vector")
	}
	e.Vector = make([]float32, dim)
	for i := range e.Vector {
		e.Vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
	}

	metaLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if len(buf) < off+metaLen {
		return nil, fmt.Errorf("store: truncated metadata")
	}
	if metaLen > 0 {
		if err := json.Unmarshal(buf[off:off+metaLen], &e.Metadata); err != nil {
			return nil, fmt.Errorf("store: decode metadata: %w", err)
		}
	}

	return e, nil
}

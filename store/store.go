// Package store implements the durable record store: an append-only,
// checksummed write-ahead log holding the full record set, replayed into an
// in-memory table on open. The log carries external ids, internal ids,
// vectors and metadata, so restart can reconstruct the id translation table
// and the liveness set from a single scan.
package store

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/kungtalon/vecdb/core"
	"github.com/kungtalon/vecdb/internal/safe"
	"github.com/kungtalon/vecdb/model"
	"github.com/kungtalon/vecdb/persistence"
)

const (
	walName = "records.wal"

	frameHeaderSize = 4 + 1 + 4

	flagCompressed = 1 << 0
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: record not found")

// Shared zstd coders for per-entry compression.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// DurabilityMode controls when appended entries reach stable storage.
type DurabilityMode uint8

const (
	// DurabilityAsync leaves flushing to the OS page cache.
	DurabilityAsync DurabilityMode = iota
	// DurabilityGroupCommit fsyncs on a short timer, amortizing syncs
	// across writers.
	DurabilityGroupCommit
	// DurabilitySync fsyncs after every append.
	DurabilitySync
)

// Options configures a Store.
type Options struct {
	Durability   DurabilityMode
	SyncInterval time.Duration
	Compression  bool
	Logger       *slog.Logger
}

// DefaultOptions are the options applied before user overrides.
var DefaultOptions = Options{
	Durability:   DurabilityGroupCommit,
	SyncInterval: 5 * time.Millisecond,
	Compression:  true,
}

// Row is a stored record together with its engine-level identity.
type Row struct {
	Record   model.Record
	Internal core.InternalID
	Seq      uint64
}

// Store is the durable record store of one collection.
type Store struct {
	dir  string
	opts Options
	log  *slog.Logger

	// wmu serializes log appends and file swaps.
	wmu sync.Mutex
	f   *os.File
	bw  *bufio.Writer
	seq uint64

	mu      sync.RWMutex
	records map[model.RecordID]Row

	// nextInternal is the exclusive upper bound of internal ids observed
	// during replay, delete entries included. It keeps the allocator from
	// reusing an id whose mapping only survives in the log.
	nextInternal core.InternalID

	closed    bool
	flushStop chan struct{}
	flushDone chan struct{}
}

// Open opens (or creates) the record store in dir and replays the log.
// A torn tail from a crash is truncated and logged.
func Open(dir string, optFns ...func(o *Options)) (*Store, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultOptions.SyncInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}

	path := filepath.Join(dir, walName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open log: %w", err)
	}

	s := &Store{
		dir:       dir,
		opts:      opts,
		log:       opts.Logger,
		f:         f,
		records:   make(map[model.RecordID]Row),
		flushStop: make(chan struct{}),
		flushDone: make(chan struct{}),
	}

	if err := s.replay(); err != nil {
		f.Close()
		return nil, err
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("store: seek log end: %w", err)
	}
	s.bw = bufio.NewWriter(f)

	if opts.Durability == DurabilityGroupCommit {
		safe.Go(s.log, "store-group-commit", s.flushLoop)
	} else {
		close(s.flushDone)
	}

	return s, nil
}

// replay scans the log and rebuilds the in-memory table, truncating any
// torn tail.
func (s *Store) replay() error {
	br := bufio.NewReader(s.f)

	var offset int64
	header := make([]byte, frameHeaderSize)

	for {
		if _, err := io.ReadFull(br, header); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			s.log.Warn("truncating torn log tail", slog.Int64("offset", offset), slog.Any("error", err))
			break
		}

		payloadLen := binary.LittleEndian.Uint32(header[0:4])
		flags := header[4]
		sum := binary.LittleEndian.Uint32(header[5:9])

		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(br, payload); err != nil {
			s.log.Warn("truncating torn log tail", slog.Int64("offset", offset), slog.Any("error", err))
			break
		}

		if persistence.Checksum(payload) != sum {
			s.log.Warn("truncating corrupt log tail", slog.Int64("offset", offset))
			break
		}

		if flags&flagCompressed != 0 {
			raw, err := zstdDecoder.DecodeAll(payload, nil)
			if err != nil {
				s.log.Warn("truncating corrupt log tail", slog.Int64("offset", offset), slog.Any("error", err))
				break
			}
			payload = raw
		}

		entry, err := decodeEntry(payload)
		if err != nil {
			s.log.Warn("truncating corrupt log tail", slog.Int64("offset", offset), slog.Any("error", err))
			break
		}

		s.apply(entry)
		offset += int64(frameHeaderSize) + int64(payloadLen)
	}

	// Drop everything past the last good frame so future appends start
	// from a clean boundary.
	if err := s.f.Truncate(offset); err != nil {
		return fmt.Errorf("store: truncate log: %w", err)
	}

	return nil
}

func (s *Store) apply(e *logEntry) {
	if e.Seq > s.seq {
		s.seq = e.Seq
	}
	if e.Internal >= s.nextInternal {
		s.nextInternal = e.Internal + 1
	}

	switch e.Op {
	case OpPut:
		s.records[e.ID] = Row{
			Record: model.Record{
				ID:       e.ID,
				Vector:   e.Vector,
				Metadata: e.Metadata,
			},
			Internal: e.Internal,
			Seq:      e.Seq,
		}
	case OpDelete:
		delete(s.records, e.ID)
	}
}

// append encodes and writes entries under wmu, honoring the durability
// mode with a single sync for the whole batch.
func (s *Store) append(entries []*logEntry) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.closed {
		return ErrClosed
	}

	for _, e := range entries {
		s.seq++
		e.Seq = s.seq

		raw, err := encodeEntry(e)
		if err != nil {
			return err
		}

		payload := raw
		var flags byte
		if s.opts.Compression {
			payload = zstdEncoder.EncodeAll(raw, nil)
			flags |= flagCompressed
		}

		header := make([]byte, frameHeaderSize)
		binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
		header[4] = flags
		binary.LittleEndian.PutUint32(header[5:9], persistence.Checksum(payload))

		if _, err := s.bw.Write(header); err != nil {
			return fmt.Errorf("store: append: %w", err)
		}
		if _, err := s.bw.Write(payload); err != nil {
			return fmt.Errorf("store: append: %w", err)
		}
	}

	if s.opts.Durability == DurabilitySync {
		if err := s.bw.Flush(); err != nil {
			return fmt.Errorf("store: flush: %w", err)
		}
		if err := s.f.Sync(); err != nil {
			return fmt.Errorf("store: sync: %w", err)
		}
	}

	return nil
}

func (s *Store) flushLoop() {
	defer close(s.flushDone)

	ticker := time.NewTicker(s.opts.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.flushStop:
			return
		case <-ticker.C:
			s.wmu.Lock()
			if s.closed {
				s.wmu.Unlock()
				return
			}
			if err := s.bw.Flush(); err == nil {
				if err := s.f.Sync(); err != nil {
					s.log.Error("group commit sync failed", slog.Any("error", err))
				}
			} else {
				s.log.Error("group commit flush failed", slog.Any("error", err))
			}
			s.wmu.Unlock()
		}
	}
}

// Put appends a record to the log and the table. An existing record under
// the same external id is replaced.
func (s *Store) Put(rec model.Record, internal core.InternalID) error {
	return s.PutBatch([]model.Record{rec}, []core.InternalID{internal})
}

// PutBatch appends several records with a single durability round-trip.
func (s *Store) PutBatch(recs []model.Record, internals []core.InternalID) error {
	if len(recs) != len(internals) {
		return fmt.Errorf("store: %d records but %d internal ids", len(recs), len(internals))
	}

	entries := make([]*logEntry, len(recs))
	for i, rec := range recs {
		entries[i] = &logEntry{
			Op:       OpPut,
			ID:       rec.ID,
			Internal: internals[i],
			Vector:   rec.Vector,
			Metadata: rec.Metadata,
		}
	}

	if err := s.append(entries); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range entries {
		s.records[e.ID] = Row{Record: recs[i], Internal: e.Internal, Seq: e.Seq}
	}

	return nil
}

// Delete removes a record, returning the removed row.
func (s *Store) Delete(id model.RecordID) (Row, error) {
	s.mu.RLock()
	row, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return Row{}, ErrNotFound
	}

	if err := s.append([]*logEntry{{Op: OpDelete, ID: id, Internal: row.Internal}}); err != nil {
		return Row{}, err
	}

	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()

	return row, nil
}

// Get returns the row stored under the external id. The returned vector
// and metadata must not be mutated.
func (s *Store) Get(id model.RecordID) (Row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.records[id]
	return row, ok
}

// Scan calls fn for every stored row in ascending internal id order. The
// snapshot is taken under the read lock, so mutations during fn are not
// observed.
func (s *Store) Scan(fn func(row Row) bool) {
	s.mu.RLock()
	rows := make([]Row, 0, len(s.records))
	for _, row := range s.records {
		rows = append(rows, row)
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].Internal < rows[j].Internal })

	for _, row := range rows {
		if !fn(row) {
			return
		}
	}
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

// NextInternal returns the exclusive upper bound of internal ids seen in
// the log at open time.
func (s *Store) NextInternal() core.InternalID {
	return s.nextInternal
}

// LastSeq returns the sequence number of the latest appended entry.
func (s *Store) LastSeq() uint64 {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	return s.seq
}

// Size returns the current log file size in bytes.
func (s *Store) Size() (int64, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if err := s.bw.Flush(); err != nil {
		return 0, err
	}

	info, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Sync flushes buffered appends to stable storage.
func (s *Store) Sync() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := s.bw.Flush(); err != nil {
		return err
	}
	return s.f.Sync()
}

// Compact rewrites the log with only the live record set, dropping
// superseded puts and deletes. Sequence numbers are preserved.
func (s *Store) Compact() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := s.bw.Flush(); err != nil {
		return err
	}

	s.mu.RLock()
	rows := make([]Row, 0, len(s.records))
	for _, row := range s.records {
		rows = append(rows, row)
	}
	s.mu.RUnlock()

	path := filepath.Join(s.dir, walName)
	tmp, err := os.CreateTemp(s.dir, walName+".compact*")
	if err != nil {
		return fmt.Errorf("store: compact: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	bw := bufio.NewWriter(tmp)
	for _, row := range rows {
		raw, err := encodeEntry(&logEntry{
			Seq:      row.Seq,
			Op:       OpPut,
			ID:       row.Record.ID,
			Internal: row.Internal,
			Vector:   row.Record.Vector,
			Metadata: row.Record.Metadata,
		})
		if err != nil {
			cleanup()
			return err
		}

		payload := raw
		var flags byte
		if s.opts.Compression {
			payload = zstdEncoder.EncodeAll(raw, nil)
			flags |= flagCompressed
		}

		header := make([]byte, frameHeaderSize)
		binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
		header[4] = flags
		binary.LittleEndian.PutUint32(header[5:9], persistence.Checksum(payload))

		if _, err := bw.Write(header); err != nil {
			cleanup()
			return fmt.Errorf("store: compact: %w", err)
		}
		if _, err := bw.Write(payload); err != nil {
			cleanup()
			return fmt.Errorf("store: compact: %w", err)
		}
	}

	if err := bw.Flush(); err != nil {
		cleanup()
		return fmt.Errorf("store: compact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("store: compact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: compact: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: compact: %w", err)
	}
	if err := persistence.SyncDir(s.dir); err != nil {
		return err
	}

	old := s.f
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("store: reopen compacted log: %w", err)
	}
	old.Close()

	s.f = f
	s.bw = bufio.NewWriter(f)

	return nil
}

// Close flushes and closes the log. Further operations fail with
// ErrClosed.
func (s *Store) Close() error {
	s.wmu.Lock()
	if s.closed {
		s.wmu.Unlock()
		return nil
	}
	s.closed = true

	flushErr := s.bw.Flush()
	syncErr := s.f.Sync()
	closeErr := s.f.Close()
	s.wmu.Unlock()

	close(s.flushStop)
	<-s.flushDone

	if flushErr != nil {
		return flushErr
	}
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

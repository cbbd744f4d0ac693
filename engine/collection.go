// Package engine ties the record store, id translation, liveness and the
// search backend together into a collection: serialized ingestion, pinned
// snapshot queries and background rebuilds.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/kungtalon/vecdb/blobstore"
	"github.com/kungtalon/vecdb/core"
	"github.com/kungtalon/vecdb/distance"
	"github.com/kungtalon/vecdb/index"
	"github.com/kungtalon/vecdb/internal/safe"
	"github.com/kungtalon/vecdb/liveness"
	"github.com/kungtalon/vecdb/metadata"
	"github.com/kungtalon/vecdb/model"
	"github.com/kungtalon/vecdb/persistence"
	"github.com/kungtalon/vecdb/pk"
	"github.com/kungtalon/vecdb/store"
)

// Collection is a single vector collection: one record store, one id
// table, one liveness set and one search backend generation at a time.
//
// Mutations are serialized by an ingestion lock. Queries never take it:
// they pin the active snapshot and work against an immutable copy of the
// liveness set.
type Collection struct {
	cfg   Config
	opts  options
	log   *slog.Logger
	obs   Observer
	blobs blobstore.BlobStore
	score distance.Func

	// mu serializes mutations and rebuild swaps.
	mu     sync.Mutex
	store  *store.Store
	table  *pk.Table
	live   *liveness.Bitmap
	fields *metadata.Index

	snap    atomic.Pointer[Snapshot]
	version atomic.Uint64

	rebuildCh  chan struct{}
	rebuildSem *semaphore.Weighted
	limiter    *rate.Limiter

	closed   atomic.Bool
	done     chan struct{}
	loopDone chan struct{}
}

// Open opens (or creates) the collection in dir. Restart loads the newest
// snapshot image when one exists and reconciles it against the record
// store; otherwise the backend is rebuilt from a full store scan.
func Open(dir string, cfg Config, optFns ...Option) (*Collection, error) {
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("engine: dimension must be positive, got %d", cfg.Dim)
	}

	opts := options{
		metrics:     NoopObserver{},
		policy:      DefaultRebuildPolicy,
		oversample:  DefaultOversample,
		durability:  store.DefaultOptions.Durability,
		compression: store.DefaultOptions.Compression,
		searchLimit: runtime.GOMAXPROCS(0),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.logger == nil {
		opts.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	blobs := opts.blobs
	if blobs == nil {
		local, err := blobstore.NewLocalStore(filepath.Join(dir, "snapshots"))
		if err != nil {
			return nil, fmt.Errorf("engine: open snapshot store: %w", err)
		}
		blobs = local
	}

	st, err := store.Open(dir, func(o *store.Options) {
		o.Durability = opts.durability
		o.Compression = opts.compression
		o.Logger = opts.logger
		if opts.syncInterval > 0 {
			o.SyncInterval = opts.syncInterval
		}
	})
	if err != nil {
		return nil, err
	}

	backend, err := cfg.newBackend()
	if err != nil {
		st.Close()
		return nil, err
	}

	c := &Collection{
		cfg:        cfg,
		opts:       opts,
		log:        opts.logger,
		obs:        opts.metrics,
		blobs:      blobs,
		score:      distance.FuncFor(cfg.Metric),
		store:      st,
		table:      pk.NewTable(),
		live:       liveness.New(),
		fields:     metadata.NewIndex(),
		rebuildCh:  make(chan struct{}, 1),
		rebuildSem: semaphore.NewWeighted(1),
		done:       make(chan struct{}),
		loopDone:   make(chan struct{}),
	}

	imageNext, imageVersion, loaded := c.loadImage(context.Background(), backend)
	if !loaded {
		// Discard any partially restored state.
		backend, err = cfg.newBackend()
		if err != nil {
			st.Close()
			return nil, err
		}
	}
	if err := c.reconcile(backend, imageNext, loaded); err != nil {
		st.Close()
		return nil, err
	}

	c.version.Store(imageVersion)
	c.snap.Store(newSnapshot(backend, imageVersion))

	if c.opts.policy.MinInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(c.opts.policy.MinInterval), 1)
	}
	safe.Go(c.log, "engine-rebuild", c.rebuildLoop)

	return c, nil
}

// loadImage restores the backend and id table from the newest snapshot
// image. A missing or incompatible image is not an error, just a slower
// start.
func (c *Collection) loadImage(ctx context.Context, backend index.Backend) (core.InternalID, uint64, bool) {
	names, err := c.blobs.List(ctx, imagePrefix)
	if err != nil || len(names) == 0 {
		return 0, 0, false
	}

	latest := names[0]
	for _, name := range names[1:] {
		if name > latest {
			latest = name
		}
	}

	blob, err := c.blobs.Open(ctx, latest)
	if err != nil {
		c.log.Warn("snapshot image unreadable, rebuilding", slog.String("image", latest), slog.Any("error", err))
		return 0, 0, false
	}
	defer blob.Close()

	data, err := blobstore.ReadAll(ctx, blob)
	if err != nil {
		c.log.Warn("snapshot image unreadable, rebuilding", slog.String("image", latest), slog.Any("error", err))
		return 0, 0, false
	}

	container, err := persistence.OpenContainer(data)
	if err != nil {
		c.log.Warn("snapshot image corrupt, rebuilding", slog.String("image", latest), slog.Any("error", err))
		return 0, 0, false
	}

	var meta imageMeta
	metaRaw, err := container.Section(sectionMeta)
	if err == nil {
		err = json.Unmarshal(metaRaw, &meta)
	}
	if err != nil {
		c.log.Warn("snapshot image corrupt, rebuilding", slog.String("image", latest), slog.Any("error", err))
		return 0, 0, false
	}

	if meta.Dim != c.cfg.Dim || meta.Metric != c.cfg.Metric || meta.Backend != c.cfg.Backend {
		c.log.Warn("snapshot image does not match collection config, rebuilding", slog.String("image", latest))
		return 0, 0, false
	}

	tableRaw, err := container.Section(sectionIDTable)
	if err == nil {
		_, err = c.table.ReadFrom(bytes.NewReader(tableRaw))
	}
	if err != nil {
		c.log.Warn("snapshot image corrupt, rebuilding", slog.String("image", latest), slog.Any("error", err))
		c.table = pk.NewTable()
		return 0, 0, false
	}

	indexRaw, err := container.Section(sectionIndex)
	if err == nil {
		_, err = backend.ReadFrom(bytes.NewReader(indexRaw))
	}
	if err != nil {
		c.log.Warn("snapshot image corrupt, rebuilding", slog.String("image", latest), slog.Any("error", err))
		c.table = pk.NewTable()
		return 0, 0, false
	}

	c.log.Info("loaded snapshot image", slog.String("image", latest), slog.Uint64("version", meta.Version))

	return meta.NextInternal, meta.Version, true
}

// reconcile makes the record store authoritative: mappings, liveness and
// the field index are derived from a full scan, and records the image
// predates are fed into the backend.
func (c *Collection) reconcile(backend index.Backend, imageNext core.InternalID, loaded bool) error {
	storeBits := roaring.New()

	var catchupErr error
	c.store.Scan(func(row store.Row) bool {
		storeBits.Add(uint32(row.Internal))
		c.table.Restore(row.Record.ID, row.Internal)
		c.live.Add(row.Internal)
		c.fields.Add(row.Internal, row.Record.Metadata)

		if !loaded || row.Internal >= imageNext {
			if err := backend.Add(row.Internal, row.Record.Vector); err != nil {
				catchupErr = fmt.Errorf("engine: index record %s: %w", row.Record.ID, err)
				return false
			}
		}
		return true
	})
	if catchupErr != nil {
		return catchupErr
	}

	// Mappings the image kept for records deleted after the snapshot.
	var stale []model.RecordID
	c.table.Each(func(id model.RecordID, internal core.InternalID) bool {
		if !storeBits.Contains(uint32(internal)) {
			stale = append(stale, id)
		}
		return true
	})
	for _, id := range stale {
		c.table.Drop(id)
	}

	// Never reuse an internal id, even one whose record only survives as
	// a delete entry in the log.
	c.table.EnsureNext(c.store.NextInternal())

	return nil
}

func (c *Collection) acquireSnapshot() *Snapshot {
	for {
		snap := c.snap.Load()
		if snap.tryAcquire() {
			return snap
		}
	}
}

// validateVector checks dimensionality without copying.
func (c *Collection) validateVector(vec []float32) error {
	if len(vec) == 0 {
		return ErrEmptyVector
	}
	if len(vec) != c.cfg.Dim {
		return &index.DimensionError{Expected: c.cfg.Dim, Actual: len(vec)}
	}
	return nil
}

// prepare validates and normalizes an incoming record, copying the vector
// so callers can reuse their buffers.
func (c *Collection) prepare(rec model.Record) (model.Record, error) {
	if err := c.validateVector(rec.Vector); err != nil {
		return model.Record{}, err
	}

	meta, err := metadata.NormalizeDocument(rec.Metadata)
	if err != nil {
		return model.Record{}, err
	}

	vec := make([]float32, len(rec.Vector))
	copy(vec, rec.Vector)

	if rec.ID == model.NilRecordID {
		rec.ID = model.NewRecordID()
	}

	return model.Record{ID: rec.ID, Vector: vec, Metadata: meta}, nil
}

// Insert adds a new record. An empty id is generated; an existing id is a
// conflict. The record is visible to searches as soon as Insert returns.
func (c *Collection) Insert(ctx context.Context, rec model.Record) (model.RecordID, error) {
	if c.closed.Load() {
		return model.NilRecordID, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return model.NilRecordID, err
	}

	prepared, err := c.prepare(rec)
	if err != nil {
		return model.NilRecordID, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.table.Resolve(prepared.ID); exists {
		return model.NilRecordID, fmt.Errorf("%w: %s", ErrConflict, prepared.ID)
	}

	internal, _ := c.table.Assign(prepared.ID)

	if err := c.store.Put(prepared, internal); err != nil {
		c.table.Retire(prepared.ID)
		return model.NilRecordID, err
	}

	c.applyAdd(prepared, internal)
	c.obs.IngestCompleted("insert", 1)

	return prepared.ID, nil
}

// BatchInsert adds several records with one durability round-trip. The
// batch is validated as a whole before anything is applied.
func (c *Collection) BatchInsert(ctx context.Context, recs []model.Record) ([]model.RecordID, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}

	prepared := make([]model.Record, len(recs))
	seen := make(map[model.RecordID]struct{}, len(recs))
	for i, rec := range recs {
		p, err := c.prepare(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("record %d: %w: %s", i, ErrConflict, p.ID)
		}
		seen[p.ID] = struct{}{}
		prepared[i] = p
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, p := range prepared {
		if _, exists := c.table.Resolve(p.ID); exists {
			return nil, fmt.Errorf("record %d: %w: %s", i, ErrConflict, p.ID)
		}
	}

	internals := make([]core.InternalID, len(prepared))
	for i, p := range prepared {
		internals[i], _ = c.table.Assign(p.ID)
	}

	if err := c.store.PutBatch(prepared, internals); err != nil {
		for _, p := range prepared {
			c.table.Retire(p.ID)
		}
		return nil, err
	}

	ids := make([]model.RecordID, len(prepared))
	for i, p := range prepared {
		c.applyAdd(p, internals[i])
		ids[i] = p.ID
	}
	c.obs.IngestCompleted("insert", len(prepared))

	return ids, nil
}

// applyAdd publishes a stored record to liveness, the field index and the
// backend. A backend failure is not fatal: the record stays stored and
// live, and the next rebuild reconciles the index. Caller holds mu.
func (c *Collection) applyAdd(rec model.Record, internal core.InternalID) {
	c.live.Add(internal)
	c.fields.Add(internal, rec.Metadata)

	snap := c.snap.Load()
	if err := snap.backend.Add(internal, rec.Vector); err != nil {
		c.log.Warn("backend ingest failed, record remains stored until rebuild",
			slog.String("record", rec.ID.String()),
			slog.Any("error", err),
		)
	}
}

// Update replaces an existing record. The old internal id is retired and
// a fresh one assigned, so the stale index entry can never resurface.
func (c *Collection) Update(ctx context.Context, rec model.Record) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == model.NilRecordID {
		return fmt.Errorf("%w: update requires an id", ErrNotFound)
	}

	prepared, err := c.prepare(rec)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	oldInternal, exists := c.table.Resolve(prepared.ID)
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, prepared.ID)
	}

	oldRow, _ := c.store.Get(prepared.ID)

	c.table.Retire(prepared.ID)
	internal, _ := c.table.Assign(prepared.ID)

	if err := c.store.Put(prepared, internal); err != nil {
		// Restore the old mapping; the store still holds the old row.
		c.table.Drop(prepared.ID)
		c.table.Restore(prepared.ID, oldInternal)
		return err
	}

	c.live.Remove(oldInternal)
	c.fields.Remove(oldInternal, oldRow.Record.Metadata)
	c.removeFromBackend(oldInternal)

	c.applyAdd(prepared, internal)
	c.obs.IngestCompleted("update", 1)
	c.maybeTriggerRebuild()

	return nil
}

// Delete removes a record. The backend entry is tombstoned and reclaimed
// by the next rebuild.
func (c *Collection) Delete(ctx context.Context, id model.RecordID) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	internal, exists := c.table.Resolve(id)
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	row, _ := c.store.Get(id)
	if _, err := c.store.Delete(id); err != nil {
		return err
	}

	c.table.Retire(id)
	c.live.Remove(internal)
	c.fields.Remove(internal, row.Record.Metadata)
	c.removeFromBackend(internal)

	c.obs.IngestCompleted("delete", 1)
	c.maybeTriggerRebuild()

	return nil
}

func (c *Collection) removeFromBackend(internal core.InternalID) {
	snap := c.snap.Load()
	if err := snap.backend.Remove(internal); err != nil {
		// The liveness set already hides the id from queries.
		c.log.Debug("backend remove failed", slog.Uint64("internal", uint64(internal)), slog.Any("error", err))
	}
}

// Get returns a copy of the stored record.
func (c *Collection) Get(ctx context.Context, id model.RecordID) (model.Record, error) {
	if c.closed.Load() {
		return model.Record{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return model.Record{}, err
	}

	row, ok := c.store.Get(id)
	if !ok {
		return model.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return copyRecord(row.Record), nil
}

func copyRecord(rec model.Record) model.Record {
	out := model.Record{ID: rec.ID}

	out.Vector = make([]float32, len(rec.Vector))
	copy(out.Vector, rec.Vector)

	if rec.Metadata != nil {
		out.Metadata = make(map[string]any, len(rec.Metadata))
		for k, v := range rec.Metadata {
			out.Metadata[k] = v
		}
	}

	return out
}

// Stats is a point-in-time view of collection internals.
type Stats struct {
	Records         int
	Live            uint64
	Indexed         int
	Tombstones      int
	SnapshotVersion uint64
	LastSeq         uint64
	LogSize         int64
}

// Stats returns collection statistics.
func (c *Collection) Stats() Stats {
	snap := c.acquireSnapshot()
	defer snap.release()

	stats := Stats{
		Records:         c.store.Len(),
		Live:            c.live.Cardinality(),
		Indexed:         snap.backend.Len(),
		SnapshotVersion: snap.Version(),
		LastSeq:         c.store.LastSeq(),
	}

	if t, ok := snap.backend.(interface{ Tombstones() int }); ok {
		stats.Tombstones = t.Tombstones()
	}
	if size, err := c.store.Size(); err == nil {
		stats.LogSize = size
	}

	return stats
}

// Close stops background work, waits for a running rebuild and closes the
// record store.
func (c *Collection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(c.done)
	<-c.loopDone

	// Wait out a manual rebuild still holding the semaphore.
	if err := c.rebuildSem.Acquire(context.Background(), 1); err == nil {
		c.rebuildSem.Release(1)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.store.Close()
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kungtalon/vecdb/core"
	"github.com/kungtalon/vecdb/distance"
	"github.com/kungtalon/vecdb/index"
	"github.com/kungtalon/vecdb/persistence"
	"github.com/kungtalon/vecdb/store"
)

const (
	imagePrefix = "img-"

	sectionMeta    = "meta"
	sectionIDTable = "idtable"
	sectionIndex   = "index"
)

// imageMeta is the JSON header section of a snapshot image. NextInternal
// is the allocator position at image time: records with an internal id at
// or above it are replayed into the backend on open.
type imageMeta struct {
	Version      uint64          `json:"version"`
	NextInternal core.InternalID `json:"next_internal"`
	LastSeq      uint64          `json:"last_seq"`
	Dim          int             `json:"dim"`
	Metric       distance.Metric `json:"metric"`
	Backend      string          `json:"backend"`
}

func imageName(version uint64) string {
	return fmt.Sprintf("%s%016d", imagePrefix, version)
}

// Rebuild constructs a fresh backend from live records, swaps it in and
// persists a snapshot image. Queries keep running against the old
// generation until the swap; at most one rebuild runs at a time.
func (c *Collection) Rebuild(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.rebuildSem.TryAcquire(1) {
		return ErrRebuildInProgress
	}
	defer c.rebuildSem.Release(1)

	return c.rebuild(ctx)
}

// rebuild does the work. Caller holds the rebuild semaphore.
func (c *Collection) rebuild(ctx context.Context) error {
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	backend, err := c.cfg.newBackend()
	if err != nil {
		return err
	}

	var buildErr error
	c.store.Scan(func(row store.Row) bool {
		if err := ctx.Err(); err != nil {
			buildErr = err
			return false
		}
		if err := backend.Add(row.Internal, row.Record.Vector); err != nil {
			buildErr = fmt.Errorf("engine: rebuild index record %s: %w", row.Record.ID, err)
			return false
		}
		return true
	})
	if buildErr != nil {
		return buildErr
	}

	version := c.version.Add(1)
	fresh := newSnapshot(backend, version)
	old := c.snap.Swap(fresh)
	old.release()

	if err := c.writeImage(ctx, backend, version); err != nil {
		// The swap already happened; the image is an optimization and the
		// next rebuild retries it.
		c.log.Warn("snapshot image write failed", slog.Uint64("version", version), slog.Any("error", err))
	} else if err := c.store.Compact(); err != nil {
		c.log.Warn("record log compaction failed", slog.Any("error", err))
	}

	c.pruneImages(ctx, version)

	elapsed := time.Since(start)
	c.obs.RebuildCompleted(elapsed, version)
	c.log.Info("rebuild complete",
		slog.Uint64("version", version),
		slog.Int("indexed", backend.Len()),
		slog.Duration("elapsed", elapsed),
	)

	return nil
}

// writeImage serializes the backend and id table into a sectioned image
// and uploads it to the blob store. Caller holds mu.
func (c *Collection) writeImage(ctx context.Context, backend index.Backend, version uint64) error {
	meta := imageMeta{
		Version:      version,
		NextInternal: c.table.Next(),
		LastSeq:      c.store.LastSeq(),
		Dim:          c.cfg.Dim,
		Metric:       c.cfg.Metric,
		Backend:      c.cfg.Backend,
	}
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("engine: encode image meta: %w", err)
	}

	builder := persistence.NewContainerBuilder()
	if err := builder.AddSection(sectionMeta, metaRaw); err != nil {
		return err
	}
	if err := builder.AddSectionFrom(sectionIDTable, c.table); err != nil {
		return err
	}
	if err := builder.AddSectionFrom(sectionIndex, backend); err != nil {
		return err
	}

	data, err := builder.Bytes()
	if err != nil {
		return err
	}

	return c.blobs.Put(ctx, imageName(version), data)
}

// pruneImages deletes every image except the current one. Best effort.
func (c *Collection) pruneImages(ctx context.Context, keep uint64) {
	names, err := c.blobs.List(ctx, imagePrefix)
	if err != nil {
		return
	}

	current := imageName(keep)
	for _, name := range names {
		if name == current {
			continue
		}
		if err := c.blobs.Delete(ctx, name); err != nil {
			c.log.Debug("prune snapshot image", slog.String("image", name), slog.Any("error", err))
		}
	}
}

// maybeTriggerRebuild nudges the background loop when tombstones pass the
// policy threshold. Caller holds mu; the send never blocks.
func (c *Collection) maybeTriggerRebuild() {
	p := c.opts.policy
	if p.DeleteRatio <= 0 {
		return
	}

	total := c.snap.Load().backend.Len()
	if total == 0 || total < p.MinRecords {
		return
	}

	dead := total - int(c.live.Cardinality())
	if dead <= 0 || float64(dead)/float64(total) < p.DeleteRatio {
		return
	}

	select {
	case c.rebuildCh <- struct{}{}:
	default:
	}
}

// rebuildLoop services triggered and scheduled rebuilds until Close.
func (c *Collection) rebuildLoop() {
	defer close(c.loopDone)

	var tick <-chan time.Time
	if c.opts.policy.Interval > 0 {
		ticker := time.NewTicker(c.opts.policy.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.done:
			return
		case <-c.rebuildCh:
		case <-tick:
		}

		if c.limiter != nil && !c.limiter.Allow() {
			continue
		}
		if !c.rebuildSem.TryAcquire(1) {
			continue
		}
		if err := c.rebuild(context.Background()); err != nil {
			c.log.Error("background rebuild failed", slog.Any("error", err))
		}
		c.rebuildSem.Release(1)
	}
}

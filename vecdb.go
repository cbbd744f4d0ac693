// Package vecdb is an embedded vector similarity search engine.
//
// A DB manages named collections under a single directory. Each collection
// pairs a durable record log with an in-memory approximate nearest
// neighbor index (HNSW or IVF) and supports:
//
//   - Thread-safe CRUD with stable external ids (UUIDs)
//   - K-nearest neighbor search with metadata filtering
//   - Exact brute-force search and stored-vector reranking
//   - Crash recovery from the record log, accelerated by snapshot images
//   - Background index rebuilds that reclaim deleted entries without
//     blocking queries
//
// # Quick Start
//
//	db, err := vecdb.Open("./data")
//	if err != nil {
//	    panic(err)
//	}
//	defer db.Close()
//
//	col, err := db.CreateCollection("docs", vecdb.CollectionConfig{
//	    Dimension: 128,
//	    Metric:    distance.L2,
//	})
//	if err != nil {
//	    panic(err)
//	}
//
//	id, err := col.Insert(ctx, model.Record{
//	    Vector:   embedding,
//	    Metadata: map[string]any{"category": "tech"},
//	})
//
//	results, err := col.Search(ctx, query, model.SearchOptions{
//	    K:      10,
//	    Filter: metadata.NewFilterSet(metadata.Eq("category", "tech")),
//	})
package vecdb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kungtalon/vecdb/distance"
	"github.com/kungtalon/vecdb/engine"
	"github.com/kungtalon/vecdb/index"
	"github.com/kungtalon/vecdb/index/hnsw"
	"github.com/kungtalon/vecdb/index/ivf"
	"github.com/kungtalon/vecdb/persistence"
)

const manifestName = "manifest.json"

// CollectionConfig describes the persisted shape of a collection. It is
// written to the collection manifest on create and must not change
// afterwards.
type CollectionConfig struct {
	// Dimension is the vector dimensionality. Required.
	Dimension int

	// Metric is the distance function. Defaults to squared L2.
	Metric distance.Metric

	// Backend selects the index structure: index.KindHNSW (default) or
	// index.KindIVF.
	Backend string

	// HNSW tunes the graph backend. Zero values use defaults.
	HNSW hnsw.Options

	// IVF tunes the partitioned backend. Zero values use defaults.
	IVF ivf.Options
}

func (c CollectionConfig) engineConfig() engine.Config {
	backend := c.Backend
	if backend == "" {
		backend = index.KindHNSW
	}
	return engine.Config{
		Dim:     c.Dimension,
		Metric:  c.Metric,
		Backend: backend,
		HNSW:    c.HNSW,
		IVF:     c.IVF,
	}
}

// manifest is the on-disk descriptor of a collection.
type manifest struct {
	Name      string        `json:"name"`
	CreatedAt time.Time     `json:"created_at"`
	Config    engine.Config `json:"config"`
}

// DB manages the collections under a root directory.
type DB struct {
	dir  string
	opts options
	log  *Logger

	mu          sync.Mutex
	collections map[string]*Collection
	closed      bool
}

// Open opens (or creates) a database rooted at dir.
func Open(dir string, optFns ...Option) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("vecdb: create root dir: %w", err)
	}

	opts := applyOptions(optFns)

	return &DB{
		dir:         dir,
		opts:        opts,
		log:         opts.logger,
		collections: make(map[string]*Collection),
	}, nil
}

func validCollectionName(name string) bool {
	if name == "" || len(name) > 128 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

func (db *DB) collectionDir(name string) string {
	return filepath.Join(db.dir, name)
}

// CreateCollection creates a new collection and opens it.
func (db *DB) CreateCollection(name string, cfg CollectionConfig) (*Collection, error) {
	if !validCollectionName(name) {
		return nil, fmt.Errorf("vecdb: invalid collection name %q", name)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("vecdb: invalid dimension %d", cfg.Dimension)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrClosed
	}

	dir := db.collectionDir(name)
	if _, err := os.Stat(filepath.Join(dir, manifestName)); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("vecdb: create collection dir: %w", err)
	}

	m := manifest{
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Config:    cfg.engineConfig(),
	}
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("vecdb: encode manifest: %w", err)
	}
	if err := persistence.WriteFileAtomic(filepath.Join(dir, manifestName), raw, 0o644); err != nil {
		return nil, fmt.Errorf("vecdb: write manifest: %w", err)
	}

	return db.openLocked(name, m.Config)
}

// OpenCollection opens an existing collection. Repeated opens return the
// same instance.
func (db *DB) OpenCollection(name string) (*Collection, error) {
	if !validCollectionName(name) {
		return nil, fmt.Errorf("vecdb: invalid collection name %q", name)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrClosed
	}
	if col, ok := db.collections[name]; ok {
		return col, nil
	}

	m, err := db.readManifest(name)
	if err != nil {
		return nil, err
	}

	return db.openLocked(name, m.Config)
}

func (db *DB) readManifest(name string) (manifest, error) {
	raw, err := os.ReadFile(filepath.Join(db.collectionDir(name), manifestName))
	if os.IsNotExist(err) {
		return manifest{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		return manifest{}, fmt.Errorf("vecdb: read manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return manifest{}, fmt.Errorf("vecdb: decode manifest: %w", err)
	}
	return m, nil
}

// openLocked opens the engine for a collection. Caller holds db.mu.
func (db *DB) openLocked(name string, cfg engine.Config) (*Collection, error) {
	engOpts, err := db.opts.engineOptions(name)
	if err != nil {
		return nil, fmt.Errorf("vecdb: collection %s: %w", name, err)
	}

	eng, err := engine.Open(db.collectionDir(name), cfg, engOpts...)
	if err != nil {
		return nil, fmt.Errorf("vecdb: open collection %s: %w", name, translateError(err))
	}

	col := &Collection{name: name, engine: eng}
	db.collections[name] = col
	db.log.Info("collection opened", "collection", name, "backend", cfg.Backend, "dim", cfg.Dim)

	return col, nil
}

// DropCollection closes a collection and deletes all of its data.
func (db *DB) DropCollection(name string) error {
	if !validCollectionName(name) {
		return fmt.Errorf("vecdb: invalid collection name %q", name)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}

	if col, ok := db.collections[name]; ok {
		if err := col.Close(); err != nil {
			return fmt.Errorf("vecdb: close collection %s: %w", name, err)
		}
		delete(db.collections, name)
	}

	dir := db.collectionDir(name)
	if _, err := os.Stat(filepath.Join(dir, manifestName)); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("vecdb: remove collection %s: %w", name, err)
	}

	db.log.Info("collection dropped", "collection", name)
	return nil
}

// ListCollections returns the names of all collections, sorted.
func (db *DB) ListCollections() ([]string, error) {
	entries, err := os.ReadDir(db.dir)
	if err != nil {
		return nil, fmt.Errorf("vecdb: read root dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(db.dir, entry.Name(), manifestName)); err == nil {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	return names, nil
}

// Close closes all open collections.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	var errs []string
	for name, col := range db.collections {
		if err := col.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	db.collections = nil

	if len(errs) > 0 {
		return fmt.Errorf("vecdb: close: %s", strings.Join(errs, "; "))
	}
	return nil
}

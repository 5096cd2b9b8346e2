package aviladb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/arxis/aviladb/compress"
	"github.com/arxis/aviladb/config"
	"github.com/arxis/aviladb/distance"
	"github.com/arxis/aviladb/document"
	"github.com/arxis/aviladb/executor"
	"github.com/arxis/aviladb/kv"
	"github.com/arxis/aviladb/kv/backend"
	"github.com/arxis/aviladb/optimizer"
	"github.com/arxis/aviladb/partition"
	"github.com/arxis/aviladb/stats"
)

const (
	collectionMetaPrefix = "meta/collection/"
	statsMetaPrefix      = "meta/stats/"
	collectionDataPrefix = "c/"
)

var collectionName = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// collectionMeta is the persisted description of a collection.
type collectionMeta struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Key     partition.Key `json:"key"`
	Schema  string        `json:"schema,omitempty"`
	Class   string        `json:"class"`
	Codec   string        `json:"codec"`
	Indexes []indexMeta   `json:"indexes,omitempty"`
	Fields  []fieldIndex  `json:"fieldIndexes,omitempty"`
	Created time.Time     `json:"created"`
}

// fieldIndex declares a secondary index the optimizer may plan with.
type fieldIndex struct {
	Field   string `json:"field"`
	Ordered bool   `json:"ordered"`
}

// statsRecord is the persisted form of a collection's statistics.
type statsRecord struct {
	Table   stats.TableStats   `json:"table"`
	Indexes []stats.IndexStats `json:"indexes,omitempty"`
}

type indexMeta struct {
	Field     string          `json:"field"`
	Dimension int             `json:"dimension"`
	M         int             `json:"m"`
	EF        int             `json:"ef"`
	Heuristic bool            `json:"heuristic"`
	Metric    distance.Metric `json:"metric"`
	Seed      int64           `json:"seed"`
}

// DB is an AvilaDB database: a set of collections over one key-value
// substrate, a statistics catalog, a query optimizer and an executor.
// It is safe for concurrent use.
type DB struct {
	store     kv.Store
	opts      options
	logger    *Logger
	stats     *stats.Catalog
	optimizer *optimizer.Optimizer
	executor  *executor.Executor
	backend   *backend.Backend // owned, set by OpenConfig

	mu          sync.RWMutex
	collections map[string]*Collection
	closed      atomic.Bool
}

// Open opens the database stored in store. Collections and their vector
// indexes are rebuilt from the substrate.
func Open(ctx context.Context, store kv.Store, optFns ...Option) (*DB, error) {
	if store == nil {
		return nil, errors.New("aviladb: nil store")
	}
	o := applyOptions(optFns)

	db := &DB{
		store:       store,
		opts:        o,
		logger:      o.logger,
		stats:       stats.NewCatalog(),
		collections: make(map[string]*Collection),
	}
	db.optimizer = optimizer.New(append([]func(*optimizer.Options){func(oo *optimizer.Options) {
		oo.Logger = o.logger.Logger
	}}, o.optimizerOptions...)...)
	db.executor = executor.New(catalog{db: db}, append([]func(*executor.Options){func(eo *executor.Options) {
		eo.Resources = o.resources
		eo.Logger = o.logger.Logger
	}}, o.executorOptions...)...)

	if err := db.load(ctx); err != nil {
		db.closeCollections()
		return nil, translateError(err)
	}

	db.logger.InfoContext(ctx, "database opened", "collections", len(db.collections))
	return db, nil
}

// OpenConfig opens the backend described by cfg and the database on it.
// Options in optFns are applied after the configuration.
func OpenConfig(ctx context.Context, cfg config.Config, optFns ...Option) (*DB, error) {
	b, err := backend.Open(ctx, cfg.Backend)
	if err != nil {
		return nil, err
	}
	db, err := Open(ctx, b.Store, append([]Option{WithConfig(cfg)}, optFns...)...)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	db.backend = b
	return db, nil
}

func (db *DB) load(ctx context.Context) error {
	keys, err := db.store.List(ctx, collectionMetaPrefix)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	slices.Sort(keys)

	var records []statsRecord
	for _, key := range keys {
		data, err := db.store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}
		var meta collectionMeta
		if err := db.opts.codec.Unmarshal(data, &meta); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		c, err := db.openCollection(ctx, meta)
		if err != nil {
			return fmt.Errorf("collection %s: %w", meta.Name, err)
		}
		db.collections[meta.Name] = c

		rec, ok, err := db.loadStats(ctx, meta.Name)
		if err != nil {
			return err
		}
		if ok {
			rec.Indexes = slices.DeleteFunc(rec.Indexes, func(ix stats.IndexStats) bool {
				return !c.hasFieldIndex(ix.Column)
			})
			records = append(records, rec)
		}
	}

	_, err = db.stats.Refresh(func(b *stats.Builder) error {
		for _, rec := range records {
			b.PutTable(rec.Table)
			b.SetIndexes(rec.Table.Name, rec.Indexes)
		}
		return nil
	})
	return err
}

func (db *DB) loadStats(ctx context.Context, name string) (statsRecord, bool, error) {
	data, err := db.store.Get(ctx, statsMetaPrefix+name)
	if kv.IsNotFound(err) {
		return statsRecord{}, false, nil
	}
	if err != nil {
		return statsRecord{}, false, fmt.Errorf("read statistics of %s: %w", name, err)
	}
	var rec statsRecord
	if err := db.opts.codec.Unmarshal(data, &rec); err != nil {
		return statsRecord{}, false, fmt.Errorf("decode statistics of %s: %w", name, err)
	}
	return rec, true, nil
}

// Close releases the collections and, for OpenConfig, the backend.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	db.closeCollections()
	db.logger.Info("database closed")
	return db.backend.Close()
}

func (db *DB) closeCollections() {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, c := range db.collections {
		c.engine.Close()
	}
}

func (db *DB) checkOpen() error {
	if db.closed.Load() {
		return ErrClosed
	}
	return nil
}

// CollectionOptions configures a new collection.
type CollectionOptions struct {
	// Schema is an optional JSON schema every document must satisfy. Its
	// top-level required list must name every partition key field.
	Schema string

	// Class selects the compression family of stored documents.
	Class compress.StorageClass
}

// CreateCollection creates a collection partitioned by key.
func (db *DB) CreateCollection(ctx context.Context, name string, key partition.Key, optFns ...func(o *CollectionOptions)) (*Collection, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if !collectionName.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCollectionName, name)
	}

	opts := CollectionOptions{Class: db.opts.class}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := key.Validate(); err != nil {
		return nil, translateError(err)
	}
	if opts.Schema != "" {
		schema, err := document.CompileSchema(opts.Schema)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSchemaViolation, err)
		}
		if key.Kind != partition.KindSynthetic {
			if err := key.ValidateRequired(schema.Required()); err != nil {
				return nil, translateError(err)
			}
		}
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.collections[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}

	meta := collectionMeta{
		ID:      uuid.NewString(),
		Name:    name,
		Key:     key,
		Schema:  opts.Schema,
		Class:   opts.Class.String(),
		Codec:   db.opts.codec.Name(),
		Created: time.Now().UTC(),
	}
	c, err := db.openCollection(ctx, meta)
	if err != nil {
		return nil, translateError(err)
	}
	if err := db.saveMeta(ctx, meta); err != nil {
		c.engine.Close()
		return nil, err
	}
	db.collections[name] = c

	c.logger.InfoContext(ctx, "collection created", "key", key.String(), "class", meta.Class)
	return c, nil
}

func (db *DB) saveMeta(ctx context.Context, meta collectionMeta) error {
	data, err := db.opts.codec.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode collection %s: %w", meta.Name, err)
	}
	if err := db.store.Put(ctx, collectionMetaPrefix+meta.Name, data); err != nil {
		return fmt.Errorf("save collection %s: %w", meta.Name, err)
	}
	return nil
}

// DropCollection deletes a collection with all its documents and
// statistics.
func (db *DB) DropCollection(ctx context.Context, name string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	if err := db.store.Delete(ctx, collectionMetaPrefix+name); err != nil && !kv.IsNotFound(err) {
		return fmt.Errorf("drop collection %s: %w", name, err)
	}
	delete(db.collections, name)
	c.engine.Close()

	if err := db.store.Delete(ctx, statsMetaPrefix+name); err != nil && !kv.IsNotFound(err) {
		db.logger.WarnContext(ctx, "statistics not removed", "collection", name, "error", err)
	}
	if _, err := db.stats.Refresh(func(b *stats.Builder) error {
		b.DropTable(name)
		return nil
	}); err != nil {
		db.logger.WarnContext(ctx, "statistics not dropped", "collection", name, "error", err)
	}

	prefix := collectionPrefix(name)
	keys, err := db.store.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list documents of %s: %w", name, err)
	}
	for _, k := range keys {
		if err := db.store.Delete(ctx, k); err != nil && !kv.IsNotFound(err) {
			return fmt.Errorf("drop collection %s: %w", name, err)
		}
	}

	db.logger.InfoContext(ctx, "collection dropped", "collection", name, "documents", len(keys))
	return nil
}

// Collection returns an open collection.
func (db *DB) Collection(name string) (*Collection, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	c, ok := db.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, nil
}

// Collections returns the collection names in ascending order.
func (db *DB) Collections() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Statistics returns the current statistics snapshot.
func (db *DB) Statistics() *stats.Snapshot {
	return db.stats.Snapshot()
}

// catalog resolves query tables to collections.
type catalog struct {
	db *DB
}

func (c catalog) Source(ctx context.Context, table string, auth any) (executor.Source, error) {
	coll, err := c.db.Collection(table)
	if err != nil {
		return nil, err
	}
	if fn := c.db.opts.authorizer; fn != nil {
		if err := fn(ctx, table, auth); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrPermissionDenied, table, err)
		}
	}
	return source{c: coll}, nil
}

func collectionPrefix(name string) string {
	return collectionDataPrefix + name + "/"
}

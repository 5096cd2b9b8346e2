package aviladb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/arxis/aviladb/codec"
	"github.com/arxis/aviladb/compress"
	"github.com/arxis/aviladb/document"
	"github.com/arxis/aviladb/executor"
	"github.com/arxis/aviladb/hnsw"
	"github.com/arxis/aviladb/internal/hash"
	"github.com/arxis/aviladb/kv"
	"github.com/arxis/aviladb/partition"
	"github.com/arxis/aviladb/stats"
	"github.com/arxis/aviladb/storage"
)

const lockStripes = 256

// Collection is a partitioned set of documents with optional vector
// indexes. It is safe for concurrent use.
type Collection struct {
	db     *DB
	name   string
	key    partition.Key
	schema *document.Schema
	class  compress.StorageClass
	codec  codec.Codec
	engine *storage.Engine
	logger *Logger

	locks []sync.Mutex // striped by document id

	// mu guards meta and indexes. Writers hold it shared so an index build
	// sees every document written before it.
	mu      sync.RWMutex
	meta    collectionMeta
	indexes map[string]*hnsw.HNSW
}

// SearchResult is one vector search hit.
type SearchResult struct {
	Document document.Document
	Distance float32
}

// SearchOptions tunes a vector search.
type SearchOptions struct {
	// EF is the candidate list size. Values below k are raised to k.
	EF int

	// Prefix restricts results to partitions under the leading partition
	// key values.
	Prefix []any
}

func (db *DB) openCollection(ctx context.Context, meta collectionMeta) (*Collection, error) {
	cd, err := codec.Lookup(meta.Codec)
	if err != nil {
		return nil, err
	}
	class, err := compress.ParseStorageClass(meta.Class)
	if err != nil {
		return nil, err
	}
	var schema *document.Schema
	if meta.Schema != "" {
		if schema, err = document.CompileSchema(meta.Schema); err != nil {
			return nil, err
		}
	}

	logger := db.logger.WithCollection(meta.Name)
	engine, err := storage.New(kv.WithPrefix(db.store, collectionPrefix(meta.Name)),
		append([]func(*storage.Options){func(so *storage.Options) {
			so.Resources = db.opts.resources
			so.Logger = logger.Logger
		}}, db.opts.storageOptions...)...)
	if err != nil {
		return nil, err
	}

	c := &Collection{
		db:      db,
		name:    meta.Name,
		key:     meta.Key,
		schema:  schema,
		class:   class,
		codec:   cd,
		engine:  engine,
		logger:  logger,
		locks:   make([]sync.Mutex, lockStripes),
		meta:    meta,
		indexes: make(map[string]*hnsw.HNSW, len(meta.Indexes)),
	}

	if err := engine.Rebuild(ctx); err != nil {
		engine.Close()
		return nil, err
	}
	for _, im := range meta.Indexes {
		h, err := newIndex(im)
		if err != nil {
			engine.Close()
			return nil, err
		}
		if err := c.build(ctx, im.Field, h); err != nil {
			engine.Close()
			return nil, fmt.Errorf("rebuild index %s: %w", im.Field, err)
		}
		c.indexes[im.Field] = h
	}
	return c, nil
}

func newIndex(im indexMeta) (*hnsw.HNSW, error) {
	return hnsw.New(im.Dimension, func(o *hnsw.Options) {
		o.M = im.M
		o.EF = im.EF
		o.Heuristic = im.Heuristic
		o.Metric = im.Metric
		o.Seed = im.Seed
	})
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Key returns the partition key strategy.
func (c *Collection) Key() partition.Key { return c.key }

// Len returns the number of stored documents.
func (c *Collection) Len() int { return c.engine.Len() }

func (c *Collection) lockFor(id string) *sync.Mutex {
	return &c.locks[hash.Bucket(id, len(c.locks))]
}

// Put stores doc, replacing any document with the same id, and updates the
// vector indexes.
func (c *Collection) Put(ctx context.Context, doc document.Document) error {
	start := time.Now()
	part, size, err := c.put(ctx, doc)
	err = translateError(err)
	c.db.opts.metricsCollector.RecordPut(c.name, size, time.Since(start), err)
	c.logger.LogPut(ctx, doc.ID, part, size, err)
	return err
}

func (c *Collection) put(ctx context.Context, doc document.Document) (string, int, error) {
	if err := c.db.checkOpen(); err != nil {
		return "", 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	w, err := c.prepare(doc)
	if err != nil {
		return "", 0, err
	}

	l := c.lockFor(doc.ID)
	l.Lock()
	defer l.Unlock()

	if err := c.engine.Put(ctx, w.partition, doc.ID, w.data, c.class); err != nil {
		return w.partition, len(w.data), err
	}
	c.indexLocked(doc.ID, w.vectors)
	return w.partition, len(w.data), nil
}

// write is a validated, encoded and routed document.
type write struct {
	partition string
	data      []byte
	vectors   map[string][]float32
}

// prepare runs every check that precedes a storage write. The caller holds
// c.mu.
func (c *Collection) prepare(doc document.Document) (write, error) {
	if err := doc.Validate(); err != nil {
		return write{}, err
	}
	if c.schema != nil {
		if err := c.schema.Validate(doc); err != nil {
			return write{}, err
		}
	}
	vectors, err := c.vectorsLocked(doc)
	if err != nil {
		return write{}, err
	}
	data, err := document.Encode(c.codec, doc)
	if err != nil {
		return write{}, err
	}
	part, err := c.key.Route(doc)
	if err != nil {
		return write{}, err
	}
	return write{partition: part, data: data, vectors: vectors}, nil
}

// vectorsLocked extracts the vector of every indexed field, failing on the
// first field, in name order, whose length does not match its index.
func (c *Collection) vectorsLocked(doc document.Document) (map[string][]float32, error) {
	if len(c.indexes) == 0 {
		return nil, nil
	}
	fields := make([]string, 0, len(c.indexes))
	for f := range c.indexes {
		fields = append(fields, f)
	}
	slices.Sort(fields)

	out := make(map[string][]float32, len(fields))
	for _, f := range fields {
		v, ok, err := doc.Vector(f)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if dim := c.indexes[f].Dimension(); len(v) != dim {
			return nil, &DimensionMismatchError{Field: f, Expected: dim, Actual: len(v)}
		}
		out[f] = v
	}
	return out, nil
}

// indexLocked brings every index in line with the stored document. A field
// that is no longer present removes the document from its index.
func (c *Collection) indexLocked(id string, vectors map[string][]float32) {
	for f, h := range c.indexes {
		v, ok := vectors[f]
		if !ok {
			h.Delete(id)
			continue
		}
		if err := h.Insert(id, v); err != nil {
			c.logger.Warn("vector not indexed", "id", id, "field", f, "error", err)
		}
	}
}

// Get returns the document with the given id.
func (c *Collection) Get(ctx context.Context, id string) (document.Document, error) {
	start := time.Now()
	doc, err := c.get(ctx, id)
	err = translateError(err)
	c.db.opts.metricsCollector.RecordGet(c.name, time.Since(start), err)
	c.logger.LogGet(ctx, id, err)
	return doc, err
}

func (c *Collection) get(ctx context.Context, id string) (document.Document, error) {
	if err := c.db.checkOpen(); err != nil {
		return document.Document{}, err
	}
	part, ok := c.engine.Locate(id)
	if !ok {
		return document.Document{}, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	data, err := c.engine.Get(ctx, part, id)
	if err != nil {
		return document.Document{}, err
	}
	return document.Decode(c.codec, data)
}

// Delete removes the document with the given id.
func (c *Collection) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := translateError(c.delete(ctx, id))
	c.db.opts.metricsCollector.RecordDelete(c.name, time.Since(start), err)
	c.logger.LogDelete(ctx, id, err)
	return err
}

func (c *Collection) delete(ctx context.Context, id string) error {
	if err := c.db.checkOpen(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	l := c.lockFor(id)
	l.Lock()
	defer l.Unlock()

	part, ok := c.engine.Locate(id)
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if err := c.engine.Delete(ctx, part, id); err != nil {
		return err
	}
	for _, h := range c.indexes {
		h.Delete(id)
	}
	return nil
}

// PutBatch stores docs. The returned slice holds one error (or nil) per
// document; a failed document does not stop the others.
func (c *Collection) PutBatch(ctx context.Context, docs []document.Document) []error {
	start := time.Now()
	errs := c.putBatch(ctx, docs)

	failed := 0
	for i, err := range errs {
		if err != nil {
			errs[i] = translateError(err)
			failed++
		}
	}
	c.db.opts.metricsCollector.RecordBatchPut(c.name, len(docs), failed, time.Since(start))
	c.logger.LogBatchPut(ctx, len(docs), failed)
	return errs
}

func (c *Collection) putBatch(ctx context.Context, docs []document.Document) []error {
	errs := make([]error, len(docs))
	if err := c.db.checkOpen(); err != nil {
		for i := range errs {
			errs[i] = err
		}
		return errs
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	writes := make([]write, len(docs))
	items := make([]storage.Item, 0, len(docs))
	pos := make([]int, 0, len(docs))
	for i, d := range docs {
		w, err := c.prepare(d)
		if err != nil {
			errs[i] = err
			continue
		}
		writes[i] = w
		items = append(items, storage.Item{Partition: w.partition, ID: d.ID, Data: w.data, Class: c.class})
		pos = append(pos, i)
	}

	unlock := c.lockAll(items)
	defer unlock()

	for j, err := range c.engine.PutBatch(ctx, items) {
		i := pos[j]
		if err != nil {
			errs[i] = err
			continue
		}
		c.indexLocked(docs[i].ID, writes[i].vectors)
	}
	return errs
}

// lockAll takes the stripe locks of every item in ascending stripe order.
func (c *Collection) lockAll(items []storage.Item) func() {
	stripes := make([]int, 0, len(items))
	for _, it := range items {
		stripes = append(stripes, hash.Bucket(it.ID, len(c.locks)))
	}
	slices.Sort(stripes)
	stripes = slices.Compact(stripes)
	for _, s := range stripes {
		c.locks[s].Lock()
	}
	return func() {
		for _, s := range stripes {
			c.locks[s].Unlock()
		}
	}
}

// CreateVectorIndex indexes the vectors stored in field. Documents already
// in the collection are indexed before the call returns; one whose vector
// has the wrong dimension fails the call. optFns are applied after the
// database's index defaults.
func (c *Collection) CreateVectorIndex(ctx context.Context, field string, dimension int, optFns ...func(o *hnsw.Options)) error {
	if err := c.db.checkOpen(); err != nil {
		return err
	}
	if field == "" {
		return fmt.Errorf("%w: empty vector field", ErrInvalidQuery)
	}

	opts := hnsw.DefaultOptions
	for _, fn := range append(slices.Clone(c.db.opts.indexOptions), optFns...) {
		fn(&opts)
	}
	im := indexMeta{
		Field:     field,
		Dimension: dimension,
		M:         opts.M,
		EF:        opts.EF,
		Heuristic: opts.Heuristic,
		Metric:    opts.Metric,
		Seed:      opts.Seed,
	}
	h, err := newIndex(im)
	if err != nil {
		return err
	}

	if err := c.db.opts.resources.AcquireBackground(ctx); err != nil {
		return err
	}
	defer c.db.opts.resources.ReleaseBackground()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.indexes[field]; ok {
		return fmt.Errorf("%w: %s.%s", ErrIndexExists, c.name, field)
	}

	start := time.Now()
	if err := c.build(ctx, field, h); err != nil {
		return translateError(err)
	}

	meta := c.meta
	meta.Indexes = append(slices.Clone(meta.Indexes), im)
	if err := c.db.saveMeta(ctx, meta); err != nil {
		return err
	}
	c.meta = meta
	c.indexes[field] = h

	c.logger.InfoContext(ctx, "vector index created",
		"field", field,
		"dimension", dimension,
		"vectors", h.Len(),
		"elapsed", time.Since(start),
	)
	return nil
}

// build inserts the stored vectors of field into h in partition and id
// order.
func (c *Collection) build(ctx context.Context, field string, h *hnsw.HNSW) error {
	return c.engine.Scan(ctx, "", func(_, id string, data []byte) error {
		doc, err := document.Decode(c.codec, data)
		if err != nil {
			return err
		}
		v, ok, err := doc.Vector(field)
		if err != nil {
			return fmt.Errorf("document %s: %w", id, err)
		}
		if !ok {
			return nil
		}
		if len(v) != h.Dimension() {
			return &DimensionMismatchError{Field: field, Expected: h.Dimension(), Actual: len(v)}
		}
		return h.Insert(id, v)
	})
}

// VectorIndexes returns the indexed vector fields in ascending order.
func (c *Collection) VectorIndexes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fields := make([]string, 0, len(c.indexes))
	for f := range c.indexes {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	return fields
}

// Search returns the k documents whose field vectors are nearest to q,
// closest first.
func (c *Collection) Search(ctx context.Context, field string, q []float32, k int, optFns ...func(o *SearchOptions)) ([]SearchResult, error) {
	var opts SearchOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	start := time.Now()
	res, err := c.searchValues(ctx, field, q, k, opts)
	err = translateError(err)
	c.db.opts.metricsCollector.RecordSearch(c.name, k, time.Since(start), err)
	c.logger.LogSearch(ctx, field, k, len(res), err)
	return res, err
}

func (c *Collection) searchValues(ctx context.Context, field string, q []float32, k int, opts SearchOptions) ([]SearchResult, error) {
	values := make([]document.Value, len(opts.Prefix))
	for i, x := range opts.Prefix {
		v, err := document.FromAny(x)
		if err != nil {
			return nil, fmt.Errorf("%w: prefix value %d: %w", ErrInvalidPartitionKey, i, err)
		}
		values[i] = v
	}
	prefix, err := c.prefix(values)
	if err != nil {
		return nil, err
	}

	hits, err := c.search(ctx, field, q, k, opts.EF, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, len(hits))
	for i, h := range hits {
		out[i] = SearchResult{Document: h.Document, Distance: h.Distance}
	}
	return out, nil
}

func (c *Collection) search(ctx context.Context, field string, q []float32, k, ef int, prefix string) ([]executor.Hit, error) {
	if err := c.db.checkOpen(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	h, ok := c.indexes[field]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrIndexNotFound, c.name, field)
	}
	if len(q) != h.Dimension() {
		return nil, &DimensionMismatchError{Field: field, Expected: h.Dimension(), Actual: len(q)}
	}

	var results []hnsw.Result
	var err error
	if prefix == "" {
		results, err = h.Search(q, k, ef, nil)
	} else {
		results, err = h.SearchIDs(q, k, ef, c.engine.IDs(prefix))
	}
	if err != nil {
		return nil, err
	}

	hits := make([]executor.Hit, 0, len(results))
	for _, r := range results {
		doc, err := c.get(ctx, r.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue // deleted since the search
		}
		if err != nil {
			return nil, err
		}
		hits = append(hits, executor.Hit{Document: doc, Distance: r.Distance})
	}
	return hits, nil
}

// prefix turns leading partition key values into a partition id prefix. No
// values selects the whole collection.
func (c *Collection) prefix(values []document.Value) (string, error) {
	if len(values) == 0 {
		return "", nil
	}
	return c.key.Prefix(values...)
}

// CreateIndex declares a secondary index on field so the optimizer may
// plan index scans and index nested loop joins over it. An ordered index
// also answers ranges and yields rows sorted on field. The index is costed
// from the statistics of the next Analyze.
func (c *Collection) CreateIndex(ctx context.Context, field string, ordered bool) error {
	if err := c.db.checkOpen(); err != nil {
		return err
	}
	if field == "" {
		return fmt.Errorf("%w: empty index field", ErrInvalidQuery)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasFieldIndexLocked(field) {
		return fmt.Errorf("%w: %s.%s", ErrIndexExists, c.name, field)
	}

	meta := c.meta
	meta.Fields = append(slices.Clone(meta.Fields), fieldIndex{Field: field, Ordered: ordered})
	if err := c.db.saveMeta(ctx, meta); err != nil {
		return err
	}
	c.meta = meta

	c.logger.InfoContext(ctx, "index created", "field", field, "ordered", ordered)
	return nil
}

// DropIndex removes the secondary index on field and its statistics.
func (c *Collection) DropIndex(ctx context.Context, field string) error {
	if err := c.db.checkOpen(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasFieldIndexLocked(field) {
		return fmt.Errorf("%w: %s.%s", ErrIndexNotFound, c.name, field)
	}

	meta := c.meta
	meta.Fields = slices.DeleteFunc(slices.Clone(meta.Fields), func(fi fieldIndex) bool { return fi.Field == field })
	if err := c.db.saveMeta(ctx, meta); err != nil {
		return err
	}
	c.meta = meta

	_, err := c.db.stats.Refresh(func(b *stats.Builder) error {
		b.DropIndex(c.name, c.indexName(field))
		return nil
	})
	return err
}

// FieldIndexes returns the fields carrying a secondary index, in creation
// order.
func (c *Collection) FieldIndexes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.meta.Fields))
	for i, fi := range c.meta.Fields {
		out[i] = fi.Field
	}
	return out
}

func (c *Collection) hasFieldIndex(field string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasFieldIndexLocked(field)
}

func (c *Collection) hasFieldIndexLocked(field string) bool {
	return slices.ContainsFunc(c.meta.Fields, func(fi fieldIndex) bool { return fi.Field == field })
}

func (c *Collection) indexName(field string) string {
	return c.name + "_" + field
}

// Partitions describes the stored partitions in ascending id order.
func (c *Collection) Partitions() []storage.PartitionStats {
	return c.engine.Partitions("")
}

// Analyze recomputes the statistics of the collection, publishes them to
// the optimizer and persists them.
func (c *Collection) Analyze(ctx context.Context) (stats.TableStats, error) {
	start := time.Now()
	ts, err := c.analyze(ctx)
	err = translateError(err)
	c.logger.LogAnalyze(ctx, ts.RowCount, time.Since(start), err)
	return ts, err
}

func (c *Collection) analyze(ctx context.Context) (stats.TableStats, error) {
	if err := c.db.checkOpen(); err != nil {
		return stats.TableStats{}, err
	}
	rc := c.db.opts.resources
	if err := rc.AcquireBackground(ctx); err != nil {
		return stats.TableStats{}, err
	}
	defer rc.ReleaseBackground()

	c.mu.RLock()
	specs := make([]stats.IndexSpec, len(c.meta.Fields))
	for i, fi := range c.meta.Fields {
		specs[i] = stats.IndexSpec{Name: c.indexName(fi.Field), Column: fi.Field, Ordered: fi.Ordered}
	}
	c.mu.RUnlock()

	a := stats.NewAnalyzer(c.name, func(o *stats.AnalyzeOptions) { o.Indexes = specs })
	err := c.engine.Scan(ctx, "", func(_, _ string, data []byte) error {
		doc, err := document.Decode(c.codec, data)
		if err != nil {
			return err
		}
		a.Add(doc, len(data))
		return nil
	})
	if err != nil {
		return stats.TableStats{}, err
	}
	rec := statsRecord{Table: a.Result(), Indexes: a.Indexes()}

	data, err := c.db.opts.codec.Marshal(rec)
	if err != nil {
		return stats.TableStats{}, fmt.Errorf("encode statistics: %w", err)
	}
	if err := c.db.store.Put(ctx, statsMetaPrefix+c.name, data); err != nil {
		return stats.TableStats{}, fmt.Errorf("save statistics: %w", err)
	}
	if _, err := c.db.stats.Refresh(func(b *stats.Builder) error {
		b.PutTable(rec.Table)
		b.SetIndexes(c.name, rec.Indexes)
		return nil
	}); err != nil {
		return stats.TableStats{}, err
	}
	ts := rec.Table
	return ts, nil
}

// source exposes a collection to the executor.
type source struct {
	c *Collection
}

func (s source) Partitions(_ context.Context, prefix []document.Value) ([]string, error) {
	p, err := s.c.prefix(prefix)
	if err != nil {
		return nil, err
	}
	parts := s.c.engine.Partitions(p)
	ids := make([]string, len(parts))
	for i, ps := range parts {
		ids[i] = ps.ID
	}
	return ids, nil
}

func (s source) ScanPartition(ctx context.Context, partitionID string, fn func(d document.Document) error) error {
	return s.c.engine.ScanPartition(ctx, partitionID, func(_ string, data []byte) error {
		doc, err := document.Decode(s.c.codec, data)
		if err != nil {
			return err
		}
		return fn(doc)
	})
}

func (s source) Search(ctx context.Context, field string, q []float32, k, ef int, prefix []document.Value) ([]executor.Hit, error) {
	p, err := s.c.prefix(prefix)
	if err != nil {
		return nil, err
	}
	return s.c.search(ctx, field, q, k, ef, p)
}

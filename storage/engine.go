// Package storage persists compressed documents in a key-value substrate,
// keyed by partition and document id.
//
// The engine enforces two size invariants before any substrate write: a
// compressed document may not exceed MaxDocumentSize and the cumulative
// stored size of a partition may not exceed MaxPartitionSize. Writes to the
// same document id are serialized (last writer wins); writes to different
// documents proceed in parallel and reads never take a document lock.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/arxis/aviladb/compress"
	"github.com/arxis/aviladb/internal/hash"
	"github.com/arxis/aviladb/kv"
	"github.com/arxis/aviladb/partition"
)

const docPrefix = "d/"

// Item is one document write in a batch.
type Item struct {
	Partition string
	ID        string
	Data      []byte
	Class     compress.StorageClass
}

// PartitionStats describes the stored contents of one partition.
type PartitionStats struct {
	ID        string
	Documents int
	Bytes     int64
}

type docEntry struct {
	partition string
	size      int64
}

// Engine is the storage engine of one collection.
type Engine struct {
	store  kv.Store
	opts   Options
	logger *slog.Logger

	locks []sync.Mutex // striped by document id
	pool  *ants.Pool

	mu         sync.RWMutex
	docs       map[string]docEntry // document id -> location
	partitions map[string]*PartitionStats
}

// New creates an engine over store. Call Rebuild to load the ledger of a
// non-empty store.
func New(store kv.Store, optFns ...func(o *Options)) (*Engine, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.LockStripes <= 0 {
		opts.LockStripes = DefaultOptions.LockStripes
	}
	if opts.CompressWorkers <= 0 {
		opts.CompressWorkers = 1
	}
	if opts.ScanParallelism <= 0 {
		opts.ScanParallelism = 1
	}
	if opts.Logger == nil {
		opts.Logger = DefaultOptions.Logger
	}

	logger := opts.Logger
	pool, err := ants.NewPool(opts.CompressWorkers, ants.WithPanicHandler(func(v any) {
		logger.Error("compression worker panic", "panic", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("create compression pool: %w", err)
	}

	return &Engine{
		store:      store,
		opts:       opts,
		logger:     logger,
		locks:      make([]sync.Mutex, opts.LockStripes),
		pool:       pool,
		docs:       make(map[string]docEntry),
		partitions: make(map[string]*PartitionStats),
	}, nil
}

// Close releases the compression pool.
func (e *Engine) Close() {
	e.pool.Release()
}

// Key returns the substrate key of a document.
func Key(partitionID, id string) string {
	return docPrefix + partitionID + "/" + url.PathEscape(id)
}

func splitKey(key string) (partitionID, id string, ok bool) {
	rest, found := strings.CutPrefix(key, docPrefix)
	if !found {
		return "", "", false
	}
	i := strings.LastIndexByte(rest, '/')
	if i < 0 {
		return "", "", false
	}
	id, err := url.PathUnescape(rest[i+1:])
	if err != nil {
		return "", "", false
	}
	return rest[:i], id, true
}

func (e *Engine) lockFor(id string) *sync.Mutex {
	return &e.locks[hash.Bucket(id, len(e.locks))]
}

// Put compresses data for class and stores it under (partition, id).
func (e *Engine) Put(ctx context.Context, partitionID, id string, data []byte, class compress.StorageClass) error {
	frame, err := compress.Compress(class, data)
	if err != nil {
		return err
	}
	return e.putFrame(ctx, partitionID, id, frame)
}

func (e *Engine) putFrame(ctx context.Context, partitionID, id string, frame []byte) error {
	size := int64(len(frame))
	if len(frame) > e.opts.MaxDocumentSize {
		return &DocumentTooLargeError{ID: id, Size: len(frame), Limit: e.opts.MaxDocumentSize}
	}

	l := e.lockFor(id)
	l.Lock()
	defer l.Unlock()

	prev, err := e.reserve(partitionID, id, size)
	if err != nil {
		return err
	}

	if err := e.opts.Resources.AcquireIO(ctx, len(frame)); err != nil {
		e.rollback(partitionID, id, size, prev)
		return err
	}
	if err := e.store.Put(ctx, Key(partitionID, id), frame); err != nil {
		e.rollback(partitionID, id, size, prev)
		return fmt.Errorf("put %s/%s: %w", partitionID, id, err)
	}

	// A document that moved partitions leaves its old copy behind.
	if prev.partition != "" && prev.partition != partitionID {
		if err := e.store.Delete(ctx, Key(prev.partition, id)); err != nil {
			e.logger.WarnContext(ctx, "stale document copy not removed",
				"partition", prev.partition, "id", id, "error", err)
		}
	}
	return nil
}

// reserve charges size against the target partition, crediting any previous
// version of the document. The caller holds the document lock.
func (e *Engine) reserve(partitionID, id string, size int64) (docEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, exists := e.docs[id]
	delta := size
	if exists && prev.partition == partitionID {
		delta -= prev.size
	}

	ps := e.partitions[partitionID]
	var used int64
	if ps != nil {
		used = ps.Bytes
	}
	if used+delta > e.opts.MaxPartitionSize {
		return docEntry{}, &PartitionFullError{Partition: partitionID, Used: used, Incoming: delta, Limit: e.opts.MaxPartitionSize}
	}

	if exists {
		e.chargeLocked(prev.partition, -prev.size, -1)
	}
	e.chargeLocked(partitionID, size, 1)
	e.docs[id] = docEntry{partition: partitionID, size: size}
	return prev, nil
}

func (e *Engine) rollback(partitionID, id string, size int64, prev docEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.chargeLocked(partitionID, -size, -1)
	if prev.partition != "" {
		e.chargeLocked(prev.partition, prev.size, 1)
		e.docs[id] = prev
	} else {
		delete(e.docs, id)
	}
}

func (e *Engine) chargeLocked(partitionID string, bytes int64, docs int) {
	ps := e.partitions[partitionID]
	if ps == nil {
		ps = &PartitionStats{ID: partitionID}
		e.partitions[partitionID] = ps
	}
	ps.Bytes += bytes
	ps.Documents += docs
	if ps.Documents <= 0 && ps.Bytes <= 0 {
		delete(e.partitions, partitionID)
	}
}

// Get returns the decompressed bytes stored under (partition, id).
func (e *Engine) Get(ctx context.Context, partitionID, id string) ([]byte, error) {
	frame, err := e.store.Get(ctx, Key(partitionID, id))
	if kv.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, partitionID, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", partitionID, id, err)
	}
	data, err := compress.Decompress(frame)
	if err != nil {
		return nil, fmt.Errorf("document %s/%s: %w", partitionID, id, err)
	}
	return data, nil
}

// Delete removes a document.
func (e *Engine) Delete(ctx context.Context, partitionID, id string) error {
	l := e.lockFor(id)
	l.Lock()
	defer l.Unlock()

	e.mu.RLock()
	entry, ok := e.docs[id]
	e.mu.RUnlock()
	if !ok || entry.partition != partitionID {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, partitionID, id)
	}

	if err := e.store.Delete(ctx, Key(partitionID, id)); err != nil {
		return fmt.Errorf("delete %s/%s: %w", partitionID, id, err)
	}

	e.mu.Lock()
	e.chargeLocked(partitionID, -entry.size, -1)
	delete(e.docs, id)
	e.mu.Unlock()
	return nil
}

// Locate returns the partition currently holding id.
func (e *Engine) Locate(id string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.docs[id]
	return entry.partition, ok
}

// IDs returns the ids of the documents stored in partitions equal to or
// under prefix, in ascending order.
func (e *Engine) IDs(prefix string) []string {
	e.mu.RLock()
	out := make([]string, 0, len(e.docs))
	for id, entry := range e.docs {
		if partition.Within(entry.partition, prefix) {
			out = append(out, id)
		}
	}
	e.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Len returns the number of stored documents.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.docs)
}

// Partitions lists the non-empty partitions equal to or under prefix, in
// ascending id order.
func (e *Engine) Partitions(prefix string) []PartitionStats {
	e.mu.RLock()
	out := make([]PartitionStats, 0, len(e.partitions))
	for id, ps := range e.partitions {
		if partition.Within(id, prefix) {
			out = append(out, *ps)
		}
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns the ledger entry of one partition.
func (e *Engine) Stats(partitionID string) PartitionStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if ps := e.partitions[partitionID]; ps != nil {
		return *ps
	}
	return PartitionStats{ID: partitionID}
}

// ScanPartition calls fn for every document stored directly in partitionID,
// in ascending id order. Sub-partitions are not visited.
func (e *Engine) ScanPartition(ctx context.Context, partitionID string, fn func(id string, data []byte) error) error {
	keys, err := e.store.List(ctx, docPrefix+partitionID+"/")
	if err != nil {
		return fmt.Errorf("list partition %s: %w", partitionID, err)
	}
	own := keys[:0]
	for _, k := range keys {
		if p, _, ok := splitKey(k); ok && p == partitionID {
			own = append(own, k)
		}
	}

	frames, err := kv.GetMany(ctx, e.store, own, e.opts.ScanParallelism)
	if err != nil {
		return fmt.Errorf("scan partition %s: %w", partitionID, err)
	}

	datas := make([][]byte, len(own))
	var g errgroup.Group
	g.SetLimit(e.opts.ScanParallelism)
	for i, frame := range frames {
		if frame == nil {
			continue // deleted since listing
		}
		g.Go(func() error {
			data, err := compress.Decompress(frame)
			if err != nil {
				return fmt.Errorf("scan %s: %w", own[i], err)
			}
			datas[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, k := range own {
		if datas[i] == nil {
			continue
		}
		_, id, _ := splitKey(k)
		if err := fn(id, datas[i]); err != nil {
			return err
		}
	}
	return nil
}

// Scan visits every document in partitions equal to or under prefix.
// Partitions outside the prefix are never read.
func (e *Engine) Scan(ctx context.Context, prefix string, fn func(partitionID, id string, data []byte) error) error {
	for _, ps := range e.Partitions(prefix) {
		err := e.ScanPartition(ctx, ps.ID, func(id string, data []byte) error {
			return fn(ps.ID, id, data)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// PutBatch compresses items on the worker pool, then writes them. The
// returned slice holds one error (or nil) per item.
func (e *Engine) PutBatch(ctx context.Context, items []Item) []error {
	errs := make([]error, len(items))
	frames := make([][]byte, len(items))

	var wg sync.WaitGroup
	for i, it := range items {
		wg.Add(1)
		err := e.pool.Submit(func() {
			defer wg.Done()
			frames[i], errs[i] = compress.Compress(it.Class, it.Data)
		})
		if err != nil {
			wg.Done()
			errs[i] = fmt.Errorf("submit compression: %w", err)
		}
	}
	wg.Wait()

	for i, it := range items {
		if errs[i] != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		errs[i] = e.putFrame(ctx, it.Partition, it.ID, frames[i])
	}
	return errs
}

// Rebuild reconstructs the size ledger from the substrate.
func (e *Engine) Rebuild(ctx context.Context) error {
	keys, err := e.store.List(ctx, docPrefix)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	sizes := make([]int64, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.ScanParallelism)
	for i, k := range keys {
		g.Go(func() error {
			frame, err := e.store.Get(gctx, k)
			if kv.IsNotFound(err) {
				sizes[i] = -1
				return nil
			}
			if err != nil {
				return fmt.Errorf("read %s: %w", k, err)
			}
			if _, err := compress.Inspect(frame); err != nil {
				return fmt.Errorf("document %s: %w", k, err)
			}
			sizes[i] = int64(len(frame))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.docs = make(map[string]docEntry, len(keys))
	e.partitions = make(map[string]*PartitionStats)
	for i, k := range keys {
		p, id, ok := splitKey(k)
		if !ok || sizes[i] < 0 {
			continue
		}
		if prev, dup := e.docs[id]; dup {
			e.logger.WarnContext(ctx, "document stored in two partitions",
				"id", id, "kept", p, "dropped", prev.partition)
			e.chargeLocked(prev.partition, -prev.size, -1)
		}
		e.docs[id] = docEntry{partition: p, size: sizes[i]}
		e.chargeLocked(p, sizes[i], 1)
	}
	e.logger.InfoContext(ctx, "storage ledger rebuilt", "documents", len(e.docs), "partitions", len(e.partitions))
	return nil
}

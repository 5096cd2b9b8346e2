package storage

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arxis/aviladb/compress"
	"github.com/arxis/aviladb/internal/fs"
	"github.com/arxis/aviladb/kv"
)

func newEngine(t *testing.T, store kv.Store, optFns ...func(o *Options)) *Engine {
	t.Helper()
	e, err := New(store, optFns...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func incompressible(seed int64, n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, kv.NewMemoryStore())

	docs := map[string][]byte{
		"small":  []byte(`{"id":"small"}`),
		"repeat": bytes.Repeat([]byte("abcdef"), 10000),
		"random": incompressible(1, 5000),
	}
	for _, class := range []compress.StorageClass{compress.Hot, compress.Archive} {
		for id, data := range docs {
			require.NoError(t, e.Put(ctx, "acme/u1", id, data, class))
			got, err := e.Get(ctx, "acme/u1", id)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(data, got), "%s/%s", class, id)
		}
	}
	assert.Equal(t, 3, e.Len())
}

func TestGetMissing(t *testing.T) {
	e := newEngine(t, kv.NewMemoryStore())
	_, err := e.Get(context.Background(), "p", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetCorruptFrame(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	e := newEngine(t, store)

	require.NoError(t, e.Put(ctx, "p", "doc", bytes.Repeat([]byte("x"), 4096), compress.Hot))
	frame, err := store.Get(ctx, Key("p", "doc"))
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0xff
	require.NoError(t, store.Put(ctx, Key("p", "doc"), frame))

	_, err = e.Get(ctx, "p", "doc")
	assert.ErrorIs(t, err, compress.ErrCorrupt)
}

func TestDocumentTooLargeLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	e := newEngine(t, store)

	require.NoError(t, e.Put(ctx, "p", "doc", []byte("v1"), compress.Hot))

	big := incompressible(2, DefaultMaxDocumentSize+1)
	err := e.Put(ctx, "p", "doc", big, compress.Archive)
	require.ErrorIs(t, err, ErrDocumentTooLarge)

	var tooLarge *DocumentTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Greater(t, tooLarge.Size, DefaultMaxDocumentSize)

	got, err := e.Get(ctx, "p", "doc")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 1, e.Stats("p").Documents)
}

func TestCompressibleLargeDocumentFits(t *testing.T) {
	e := newEngine(t, kv.NewMemoryStore())
	// 8 MiB raw compresses far below the limit.
	data := bytes.Repeat([]byte("aviladb "), 1<<20)
	require.NoError(t, e.Put(context.Background(), "p", "doc", data, compress.Archive))
}

func TestPartitionFullAtFiftyGiB(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	e := newEngine(t, store)

	frame, err := compress.Compress(compress.Hot, []byte("payload"))
	require.NoError(t, err)
	frameSize := int64(len(frame))

	// Account the partition as if it already held 50 GiB minus one frame.
	e.partitions["tenant-a"] = &PartitionStats{ID: "tenant-a", Documents: 1 << 20, Bytes: DefaultMaxPartitionSize - frameSize}

	require.NoError(t, e.Put(ctx, "tenant-a", "last-fit", []byte("payload"), compress.Hot))
	assert.Equal(t, DefaultMaxPartitionSize, e.Stats("tenant-a").Bytes)

	err = e.Put(ctx, "tenant-a", "overflow", []byte("payload"), compress.Hot)
	require.ErrorIs(t, err, ErrPartitionFull)
	var full *PartitionFullError
	require.ErrorAs(t, err, &full)
	assert.Equal(t, "tenant-a", full.Partition)

	_, err = store.Get(ctx, Key("tenant-a", "overflow"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
	assert.Equal(t, DefaultMaxPartitionSize, e.Stats("tenant-a").Bytes)

	// Other partitions are unaffected.
	require.NoError(t, e.Put(ctx, "tenant-b", "doc", []byte("payload"), compress.Hot))
}

func TestPartitionFullCountsOverwriteDelta(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, kv.NewMemoryStore(), func(o *Options) { o.MaxPartitionSize = 200 })

	small := incompressible(3, 50)
	require.NoError(t, e.Put(ctx, "p", "a", small, compress.Hot))
	require.NoError(t, e.Put(ctx, "p", "b", small, compress.Hot))
	used := e.Stats("p").Bytes

	// Rewriting a document with the same size never overflows.
	require.NoError(t, e.Put(ctx, "p", "a", incompressible(4, 50), compress.Hot))
	assert.Equal(t, used, e.Stats("p").Bytes)

	err := e.Put(ctx, "p", "a", incompressible(5, 150), compress.Hot)
	assert.ErrorIs(t, err, ErrPartitionFull)
	assert.Equal(t, used, e.Stats("p").Bytes)
}

func TestFailedWriteRollsBackLedger(t *testing.T) {
	ctx := context.Background()
	ffs := fs.NewFaultyFS(nil)
	store, err := kv.NewLocalStore(t.TempDir(), func(o *kv.LocalOptions) { o.FileSystem = ffs })
	require.NoError(t, err)
	e := newEngine(t, store)

	require.NoError(t, e.Put(ctx, "p", "ok", []byte("v"), compress.Hot))
	before := e.Stats("p")

	ffs.AddRule("broken", fs.Fault{FailOnSync: true})
	err = e.Put(ctx, "p", "broken", []byte("v"), compress.Hot)
	require.ErrorIs(t, err, fs.ErrInjected)

	assert.Equal(t, before, e.Stats("p"))
	_, ok := e.Locate("broken")
	assert.False(t, ok)
}

func TestMovePartition(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	e := newEngine(t, store)

	require.NoError(t, e.Put(ctx, "old", "doc", []byte("v1"), compress.Hot))
	require.NoError(t, e.Put(ctx, "new", "doc", []byte("v2"), compress.Hot))

	p, ok := e.Locate("doc")
	require.True(t, ok)
	assert.Equal(t, "new", p)
	assert.Zero(t, e.Stats("old").Documents)
	_, err := e.Get(ctx, "old", "doc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, kv.NewMemoryStore())

	require.NoError(t, e.Put(ctx, "p", "doc", []byte("v"), compress.Hot))
	require.NoError(t, e.Delete(ctx, "p", "doc"))
	assert.ErrorIs(t, e.Delete(ctx, "p", "doc"), ErrNotFound)
	assert.Empty(t, e.Partitions(""))
}

func TestScanHonoursPrefix(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: kv.NewMemoryStore()}
	e := newEngine(t, store)

	layout := map[string][]string{
		"A/B":   {"1", "2"},
		"A/B/x": {"3"},
		"A/BB":  {"4"},
		"A/C":   {"5"},
		"Z":     {"6"},
	}
	for p, ids := range layout {
		for _, id := range ids {
			require.NoError(t, e.Put(ctx, p, id, []byte(p+":"+id), compress.Hot))
		}
	}

	store.reset()
	var seen []string
	err := e.Scan(ctx, "A/B", func(p, id string, data []byte) error {
		seen = append(seen, p+"|"+id)
		assert.Equal(t, p+":"+id, string(data))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A/B|1", "A/B|2", "A/B/x|3"}, seen)

	for _, k := range store.touched() {
		p, _, ok := splitKey(k)
		require.True(t, ok)
		assert.Contains(t, []string{"A/B", "A/B/x"}, p, "read outside prefix: %s", k)
	}

	assert.Equal(t, []string{"1", "2", "3"}, e.IDs("A/B"))
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, e.IDs("A"))
	assert.Len(t, e.IDs(""), 6)
}

func TestScanReadsThroughBatchGetter(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{Store: kv.NewMemoryStore()}
	cached, err := kv.NewCachingStore(inner, 16)
	require.NoError(t, err)
	e := newEngine(t, cached)

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, e.Put(ctx, "P", id, []byte("doc-"+id), compress.Hot))
	}
	// Written behind the cache's back.
	frame, err := compress.Compress(compress.Hot, []byte("doc-4"))
	require.NoError(t, err)
	require.NoError(t, inner.Put(ctx, Key("P", "4"), frame))

	inner.reset()
	var seen []string
	err = e.ScanPartition(ctx, "P", func(id string, data []byte) error {
		seen = append(seen, id+"="+string(data))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1=doc-1", "2=doc-2", "3=doc-3", "4=doc-4"}, seen)

	// Only the document the cache never saw reaches the inner store.
	assert.Equal(t, []string{Key("P", "4")}, inner.touched())
	hits, misses := cached.Stats()
	assert.Equal(t, uint64(3), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestConcurrentWritersSameDocument(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, kv.NewMemoryStore())

	var wg sync.WaitGroup
	for w := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 20 {
				assert.NoError(t, e.Put(ctx, "p", "hot", []byte(fmt.Sprintf("w%d-%d", w, i)), compress.Hot))
			}
		}()
	}
	wg.Wait()

	ps := e.Stats("p")
	assert.Equal(t, 1, ps.Documents)
	frame, err := compress.Compress(compress.Hot, []byte("wX-YY"))
	require.NoError(t, err)
	// Every version is a raw frame of 5 or 6 payload bytes.
	assert.InDelta(t, len(frame), ps.Bytes, 1)
}

func TestPutBatch(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, kv.NewMemoryStore(), func(o *Options) { o.CompressWorkers = 4 })

	items := make([]Item, 50)
	for i := range items {
		items[i] = Item{Partition: fmt.Sprintf("b%02d", i%5), ID: fmt.Sprintf("doc-%d", i), Data: bytes.Repeat([]byte{byte(i)}, 1000), Class: compress.StorageClass(i % 2)}
	}
	items = append(items, Item{Partition: "b00", ID: "huge", Data: incompressible(9, DefaultMaxDocumentSize+10)})

	errs := e.PutBatch(ctx, items)
	require.Len(t, errs, len(items))
	for i := range 50 {
		require.NoError(t, errs[i])
	}
	assert.ErrorIs(t, errs[50], ErrDocumentTooLarge)
	assert.Equal(t, 50, e.Len())
	assert.Len(t, e.Partitions(""), 5)
}

func TestRebuild(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	e := newEngine(t, store)

	for i := range 10 {
		require.NoError(t, e.Put(ctx, fmt.Sprintf("p%d", i%3), fmt.Sprintf("d%d", i), []byte("value"), compress.Hot))
	}
	want := e.Partitions("")

	reopened := newEngine(t, store)
	require.NoError(t, reopened.Rebuild(ctx))
	assert.Equal(t, want, reopened.Partitions(""))
	assert.Equal(t, 10, reopened.Len())
}

// countingStore records the keys read through Get.
type countingStore struct {
	kv.Store
	mu   sync.Mutex
	keys []string
}

func (c *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	c.keys = append(c.keys, key)
	c.mu.Unlock()
	return c.Store.Get(ctx, key)
}

func (c *countingStore) reset() {
	c.mu.Lock()
	c.keys = nil
	c.mu.Unlock()
}

func (c *countingStore) touched() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.keys...)
}

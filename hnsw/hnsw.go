package hnsw

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"

	"github.com/arxis/aviladb/distance"
	"github.com/arxis/aviladb/internal/queue"
)

// maxLevelCap bounds the layer a node can be assigned to.
const maxLevelCap = 16

// The graph is rebuilt from its live nodes once at least compactMinDeleted
// nodes are tombstoned and they are at least as many as the live ones.
const compactMinDeleted = 64

// Options configures an index. M and EF are fixed for the lifetime of the
// index.
type Options struct {
	// M is the number of links a node keeps per upper layer. Layer 0 keeps 2*M.
	M int

	// EF is the candidate list size used while inserting (efConstruction).
	EF int

	// Heuristic selects neighbors that are closer to the new node than to
	// any already selected neighbor, then fills with the nearest leftovers.
	// When false the M nearest candidates are kept.
	Heuristic bool

	// Metric is the distance metric of the index.
	Metric distance.Metric

	// Seed seeds level assignment. Equal seeds and equal insert sequences
	// build identical graphs.
	Seed int64
}

// DefaultOptions holds the default index configuration.
var DefaultOptions = Options{
	M:         16,
	EF:        200,
	Heuristic: true,
	Metric:    distance.Cosine,
	Seed:      1,
}

type node struct {
	id     string
	vector []float32
	level  int
	links  [][]uint32 // links[l] for l in [0, level]
}

// Result is one search hit.
type Result struct {
	ID       string
	Distance float32
}

// HNSW is a proximity graph over vectors of one dimension and metric.
type HNSW struct {
	dimension int
	opts      Options
	dist      distance.Func
	mmax      int
	mmax0     int
	ml        float64

	mu       sync.RWMutex
	rng      *rand.Rand
	nodes    []node
	byID     map[string]uint32
	deleted  *roaring.Bitmap
	entry    uint32
	maxLevel int

	visitedPool sync.Pool
}

// New creates an empty index for vectors of the given dimension.
func New(dimension int, optFns ...func(o *Options)) (*HNSW, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if dimension <= 0 {
		return nil, fmt.Errorf("hnsw: dimension must be positive, got %d", dimension)
	}
	if opts.M < 2 {
		// ml = 1/ln(M) is undefined for M = 1.
		opts.M = 2
	}
	if opts.EF < opts.M {
		opts.EF = opts.M
	}
	fn, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, fmt.Errorf("hnsw: %w", err)
	}

	return &HNSW{
		dimension: dimension,
		opts:      opts,
		dist:      fn,
		mmax:      opts.M,
		mmax0:     2 * opts.M,
		ml:        1 / math.Log(float64(opts.M)),
		rng:       rand.New(rand.NewSource(opts.Seed)), //nolint:gosec
		byID:      make(map[string]uint32),
		deleted:   roaring.New(),
	}, nil
}

// Dimension returns the vector dimension of the index.
func (h *HNSW) Dimension() int { return h.dimension }

// Metric returns the distance metric of the index.
func (h *HNSW) Metric() distance.Metric { return h.opts.Metric }

// Len returns the number of live vectors.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byID)
}

// Contains reports whether id has a live vector.
func (h *HNSW) Contains(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.byID[id]
	return ok
}

// Vector returns a copy of the live vector stored for id.
func (h *HNSW) Vector(id string) ([]float32, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	idx, ok := h.byID[id]
	if !ok {
		return nil, false
	}
	return slices.Clone(h.nodes[idx].vector), true
}

func (h *HNSW) checkDimension(v []float32) error {
	if len(v) != h.dimension {
		return &DimensionMismatchError{Expected: h.dimension, Actual: len(v)}
	}
	return nil
}

func (h *HNSW) randomLevel() int {
	u := h.rng.Float64()
	if u == 0 {
		u = math.SmallestNonzeroFloat64
	}
	return min(int(math.Floor(-math.Log(u)*h.ml)), maxLevelCap)
}

func (h *HNSW) capacity(level int) int {
	if level == 0 {
		return h.mmax0
	}
	return h.mmax
}

// Insert adds vector v under id. An existing vector for id is replaced: the
// old node is tombstoned and a new node is linked, unless the vector is
// unchanged, in which case the graph is left as is. A vector of the wrong
// dimension is rejected before the graph is touched.
func (h *HNSW) Insert(id string, v []float32) error {
	if id == "" {
		return ErrInvalidID
	}
	if err := h.checkDimension(v); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.byID[id]; ok {
		if slices.Equal(h.nodes[old].vector, v) {
			return nil
		}
		h.deleted.Add(old)
	}
	h.add(id, slices.Clone(v), h.randomLevel())
	h.maybeCompact()
	return nil
}

// add links a new node at level. The caller holds the write lock.
func (h *HNSW) add(id string, vec []float32, level int) {
	idx := uint32(len(h.nodes))
	h.nodes = append(h.nodes, node{
		id:     id,
		vector: vec,
		level:  level,
		links:  make([][]uint32, level+1),
	})
	h.byID[id] = idx

	if idx == 0 {
		h.entry = 0
		h.maxLevel = level
		return
	}

	ep := queue.Item{Node: h.entry, Distance: h.dist(vec, h.nodes[h.entry].vector)}
	for l := h.maxLevel; l > level; l-- {
		ep = h.greedy(vec, ep, l)
	}

	visited := h.getVisited()
	defer h.putVisited(visited)

	for l := min(level, h.maxLevel); l >= 0; l-- {
		visited.ClearAll()
		found := h.searchLayer(vec, ep, h.opts.EF, l, visited, nil)
		if len(found) > 0 {
			ep = found[0]
		}
		// Tombstones still route searches but only gain new links when
		// nothing live is near, so the node stays reachable.
		candidates := make([]queue.Item, 0, len(found))
		for _, it := range found {
			if !h.deleted.Contains(it.Node) {
				candidates = append(candidates, it)
			}
		}
		if len(candidates) == 0 {
			candidates = found
		}

		neighbors := h.selectNeighbors(candidates, h.mmax)
		links := make([]uint32, len(neighbors))
		for i, nb := range neighbors {
			links[i] = nb.Node
		}
		h.nodes[idx].links[l] = links

		for _, nb := range neighbors {
			h.link(nb.Node, idx, nb.Distance, l)
		}
	}

	if level > h.maxLevel {
		h.entry = idx
		h.maxLevel = level
	}
}

// link adds a link from src to dst at level, pruning src's list when it
// exceeds the layer capacity.
func (h *HNSW) link(src, dst uint32, d float32, level int) {
	n := &h.nodes[src]
	n.links[level] = append(n.links[level], dst)
	if len(n.links[level]) <= h.capacity(level) {
		return
	}

	candidates := make([]queue.Item, 0, len(n.links[level]))
	for _, other := range n.links[level] {
		switch {
		case other == dst:
			candidates = append(candidates, queue.Item{Node: other, Distance: d})
		case !h.deleted.Contains(other):
			candidates = append(candidates, queue.Item{Node: other, Distance: h.dist(n.vector, h.nodes[other].vector)})
		}
	}
	slices.SortFunc(candidates, compareItems)

	kept := h.selectNeighbors(candidates, h.capacity(level))
	links := n.links[level][:0]
	for _, it := range kept {
		links = append(links, it.Node)
	}
	n.links[level] = links
}

// selectNeighbors picks at most m items from candidates, which must be
// sorted closest first. The result is sorted closest first.
func (h *HNSW) selectNeighbors(candidates []queue.Item, m int) []queue.Item {
	if len(candidates) <= m || !h.opts.Heuristic {
		return slices.Clone(candidates[:min(m, len(candidates))])
	}

	kept := make([]queue.Item, 0, m)
	var discarded []queue.Item
	for _, c := range candidates {
		if len(kept) >= m {
			break
		}
		good := true
		cv := h.nodes[c.Node].vector
		for _, k := range kept {
			if h.dist(cv, h.nodes[k.Node].vector) < c.Distance {
				good = false
				break
			}
		}
		if good {
			kept = append(kept, c)
		} else {
			discarded = append(discarded, c)
		}
	}
	for _, c := range discarded {
		if len(kept) >= m {
			break
		}
		kept = append(kept, c)
	}

	slices.SortFunc(kept, compareItems)
	return kept
}

func compareItems(a, b queue.Item) int {
	switch {
	case queue.Less(a, b):
		return -1
	case queue.Less(b, a):
		return 1
	default:
		return 0
	}
}

// greedy walks level from ep towards q until no neighbor is closer.
func (h *HNSW) greedy(q []float32, ep queue.Item, level int) queue.Item {
	for changed := true; changed; {
		changed = false
		for _, n := range h.nodes[ep.Node].links[level] {
			cand := queue.Item{Node: n, Distance: h.dist(q, h.nodes[n].vector)}
			if queue.Less(cand, ep) {
				ep = cand
				changed = true
			}
		}
	}
	return ep
}

// searchLayer runs a best-first search of one layer and returns up to ef
// accepted nodes, closest first. A nil accept admits every node.
func (h *HNSW) searchLayer(q []float32, ep queue.Item, ef, level int, visited *bitset.BitSet, accept func(uint32) bool) []queue.Item {
	candidates := queue.NewMin(ef)
	results := queue.NewMax(ef + 1)

	visited.Set(uint(ep.Node))
	candidates.Push(ep)
	if accept == nil || accept(ep.Node) {
		results.Push(ep)
	}

	for candidates.Len() > 0 {
		c, _ := candidates.Pop()
		if worst, ok := results.Top(); ok && results.Len() >= ef && queue.Less(worst, c) {
			break
		}

		for _, n := range h.nodes[c.Node].links[level] {
			if visited.Test(uint(n)) {
				continue
			}
			visited.Set(uint(n))

			item := queue.Item{Node: n, Distance: h.dist(q, h.nodes[n].vector)}
			worst, ok := results.Top()
			if results.Len() < ef || !ok || queue.Less(item, worst) {
				candidates.Push(item)
				if accept == nil || accept(n) {
					results.Push(item)
					if results.Len() > ef {
						results.Pop()
					}
				}
			}
		}
	}
	return results.Drain()
}

func (h *HNSW) getVisited() *bitset.BitSet {
	if v, ok := h.visitedPool.Get().(*bitset.BitSet); ok {
		return v
	}
	return bitset.New(uint(len(h.nodes)))
}

func (h *HNSW) putVisited(v *bitset.BitSet) {
	v.ClearAll()
	h.visitedPool.Put(v)
}

// Delete tombstones the vector stored for id. It reports whether id was
// present.
func (h *HNSW) Delete(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx, ok := h.byID[id]
	if !ok {
		return false
	}
	h.deleted.Add(idx)
	delete(h.byID, id)
	h.maybeCompact()
	return true
}

// Compact rebuilds the graph from its live nodes, dropping every tombstone.
// Node handles returned by Filter before a compaction are invalid after it.
func (h *HNSW) Compact() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.compact()
}

func (h *HNSW) maybeCompact() {
	dead := int(h.deleted.GetCardinality())
	if dead >= compactMinDeleted && dead >= len(h.byID) {
		h.compact()
	}
}

// compact relinks the live nodes in their original insertion order, keeping
// each node's level. The caller holds the write lock.
func (h *HNSW) compact() {
	if h.deleted.IsEmpty() {
		return
	}
	old, dead := h.nodes, h.deleted
	h.nodes = make([]node, 0, len(h.byID))
	h.byID = make(map[string]uint32, len(h.byID))
	h.deleted = roaring.New()
	h.entry, h.maxLevel = 0, 0
	for i := range old {
		if dead.Contains(uint32(i)) {
			continue
		}
		h.add(old[i].id, old[i].vector, old[i].level)
	}
}

// Filter returns the set of nodes holding live vectors for ids, for use as
// a search filter. Unknown ids are ignored. The set is valid until the graph
// is next compacted; SearchIDs resolves ids and searches atomically.
func (h *HNSW) Filter(ids []string) *roaring.Bitmap {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.filter(ids)
}

func (h *HNSW) filter(ids []string) *roaring.Bitmap {
	bm := roaring.New()
	for _, id := range ids {
		if idx, ok := h.byID[id]; ok {
			bm.Add(idx)
		}
	}
	return bm
}

// Search returns up to k approximate nearest neighbors of q, closest first.
// ef is raised to k when smaller. A non-nil filter (see Filter) restricts
// results to its nodes; a filter no larger than ef is searched exactly.
func (h *HNSW) Search(q []float32, k, ef int, filter *roaring.Bitmap) ([]Result, error) {
	if err := h.checkDimension(q); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	ef = max(ef, k)

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.search(q, k, ef, filter), nil
}

// SearchIDs is Search restricted to the live vectors of ids.
func (h *HNSW) SearchIDs(q []float32, k, ef int, ids []string) ([]Result, error) {
	if err := h.checkDimension(q); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	ef = max(ef, k)

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.search(q, k, ef, h.filter(ids)), nil
}

func (h *HNSW) search(q []float32, k, ef int, filter *roaring.Bitmap) []Result {
	if len(h.byID) == 0 {
		return nil
	}

	var found []queue.Item
	if filter != nil && filter.GetCardinality() <= uint64(ef) {
		found = h.exact(q, filter)
	} else {
		accept := func(n uint32) bool {
			return !h.deleted.Contains(n) && (filter == nil || filter.Contains(n))
		}

		ep := queue.Item{Node: h.entry, Distance: h.dist(q, h.nodes[h.entry].vector)}
		for l := h.maxLevel; l > 0; l-- {
			ep = h.greedy(q, ep, l)
		}

		visited := h.getVisited()
		found = h.searchLayer(q, ep, ef, 0, visited, accept)
		h.putVisited(visited)
	}

	if len(found) > k {
		found = found[:k]
	}
	out := make([]Result, len(found))
	for i, it := range found {
		out[i] = Result{ID: h.nodes[it.Node].id, Distance: it.Distance}
	}
	return out
}

func (h *HNSW) exact(q []float32, filter *roaring.Bitmap) []queue.Item {
	items := make([]queue.Item, 0, filter.GetCardinality())
	it := filter.Iterator()
	for it.HasNext() {
		n := it.Next()
		if int(n) >= len(h.nodes) || h.deleted.Contains(n) {
			continue
		}
		items = append(items, queue.Item{Node: n, Distance: h.dist(q, h.nodes[n].vector)})
	}
	slices.SortFunc(items, compareItems)
	return items
}

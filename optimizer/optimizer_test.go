package optimizer

import (
	"bytes"
	"fmt"
	"log/slog"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arxis/aviladb/cost"
	"github.com/arxis/aviladb/plan"
	"github.com/arxis/aviladb/query"
	"github.com/arxis/aviladb/stats"
)

func eventsSnapshot(ordered bool) *stats.Snapshot {
	return stats.NewSnapshot(
		[]stats.TableStats{{
			Name: "events", RowCount: 1_000_000, AvgRowSize: 100, PageCount: 12_208,
			Columns: map[string]*stats.ColumnStats{
				"kind": {Name: "kind", NDistinct: 1000},
				"ts":   {Name: "ts", NDistinct: 1_000_000},
			},
		}},
		[]stats.IndexStats{{Name: "events_kind", Table: "events", Column: "kind", Pages: 2000, Height: 3, Ordered: ordered}},
	)
}

func TestScanChoiceIndexScan(t *testing.T) {
	q, err := query.New(
		query.From("events", ""),
		query.Where(query.Eq(query.Col("events", "kind"), "k")),
		query.Param("k", "click"),
	)
	require.NoError(t, err)

	res, err := New().Optimize(q, eventsSnapshot(false))
	require.NoError(t, err)

	assert.Equal(t, plan.IndexScan, res.Plan.Kind)
	assert.Equal(t, "events_kind", res.Plan.Index)
	assert.InDelta(t, 1000, res.Plan.Rows, 1e-6)
	assert.False(t, res.Degraded)
	assert.Empty(t, res.Warnings)
}

func TestScanChoiceSeqScan(t *testing.T) {
	snap := eventsSnapshot(false)
	tests := []struct {
		name string
		pred query.Predicate
	}{
		{"NoIndex", query.Eq(query.Col("events", "ts"), "k")},
		{"Inequality", query.Ne(query.Col("events", "kind"), "k")},
		{"RangeOnUnorderedIndex", query.Gt(query.Col("events", "kind"), "k")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := query.New(query.From("events", ""), query.Where(tt.pred), query.Param("k", 1))
			require.NoError(t, err)
			res, err := New().Optimize(q, snap)
			require.NoError(t, err)
			assert.Equal(t, plan.SeqScan, res.Plan.Kind)
			assert.Equal(t, 12_208.0, res.Plan.Total)
		})
	}
}

func TestScanTieFavorsSeqScan(t *testing.T) {
	// Selectivity 1 over 1000 rows: the index scan reads 2 index pages and
	// 800 weighted row fetches, the same as the 802 pages of the table.
	snap := stats.NewSnapshot(
		[]stats.TableStats{{Name: "t", RowCount: 1000, AvgRowSize: 100, PageCount: 802,
			Columns: map[string]*stats.ColumnStats{"c": {Name: "c", NDistinct: 1}}}},
		[]stats.IndexStats{{Name: "t_c", Table: "t", Column: "c", Pages: 1, Height: 1}},
	)
	q, err := query.New(query.From("t", ""), query.Where(query.Eq(query.Col("t", "c"), "v")), query.Param("v", 1))
	require.NoError(t, err)

	m := cost.NewModel(snap, cost.DefaultWeights, 0)
	ix, _ := snap.Index("t", "c")
	require.Equal(t, m.Total(m.SeqScan("t")), m.Total(m.IndexScan("t", ix, 1)))

	res, err := New().Optimize(q, snap)
	require.NoError(t, err)
	assert.Equal(t, plan.SeqScan, res.Plan.Kind)
}

func TestVectorLeaf(t *testing.T) {
	q, err := query.New(
		query.From("docs", "d"),
		query.NearestNeighbors("d", "embedding", "q", 10),
		query.Param("q", []float32{1, 0}),
	)
	require.NoError(t, err)

	res, err := New().Optimize(q, nil)
	require.NoError(t, err)
	assert.Equal(t, plan.VectorSearch, res.Plan.Kind)
	assert.Equal(t, 10, res.Plan.K)
	assert.Equal(t, 64, res.Plan.EF)
	assert.Equal(t, 10.0, res.Plan.Rows)
}

// chain builds a query joining n tables t0..t(n-1) along a chain, with the
// given row counts and per-table distinct counts for the join column.
func chain(t *testing.T, rows []int64, nd []int64, indexed map[int]bool, sorted map[int]bool) (*query.Query, *stats.Snapshot) {
	t.Helper()
	var tables []stats.TableStats
	var indexes []stats.IndexStats
	opts := []query.Option{}
	for i, r := range rows {
		name := fmt.Sprintf("t%d", i)
		ts := stats.TableStats{
			Name: name, RowCount: r, AvgRowSize: 64 + float64(16*i), PageCount: max(1, r*int64(64+16*i)/8192),
			Columns: map[string]*stats.ColumnStats{"k": {Name: "k", NDistinct: nd[i]}},
		}
		if sorted[i] {
			ts.SortedOn = "k"
		}
		tables = append(tables, ts)
		if indexed[i] {
			indexes = append(indexes, stats.IndexStats{Name: name + "_k", Table: name, Column: "k", Pages: max(1, r/200), Height: 2, Ordered: true})
		}
		opts = append(opts, query.From(name, ""))
		if i > 0 {
			opts = append(opts, query.JoinOn(query.Col(fmt.Sprintf("t%d", i-1), "k"), query.Col(name, "k")))
		}
	}
	q, err := query.New(opts...)
	require.NoError(t, err)
	return q, stats.NewSnapshot(tables, indexes)
}

// bruteForce enumerates every binary join tree over mask with every
// algorithm and returns the minimum total.
func bruteForce(p *planner, mask uint64, memo map[uint64][]*plan.Node) []*plan.Node {
	if plans, ok := memo[mask]; ok {
		return plans
	}
	if i, ok := p.singleLeaf(mask); ok {
		memo[mask] = []*plan.Node{p.leaves[i].node}
		return memo[mask]
	}
	var out []*plan.Node
	for sub := (mask - 1) & mask; sub > 0; sub = (sub - 1) & mask {
		for _, l := range bruteForce(p, sub, memo) {
			for _, r := range bruteForce(p, mask^sub, memo) {
				out = append(out, p.joins(mask, sub, l, mask^sub, r)...)
			}
		}
	}
	memo[mask] = out
	return out
}

func minTotal(plans []*plan.Node) float64 {
	best := plans[0].Total
	for _, n := range plans[1:] {
		best = min(best, n.Total)
	}
	return best
}

func TestDynamicProgrammingMatchesBruteForce(t *testing.T) {
	tests := []struct {
		name    string
		rows    []int64
		nd      []int64
		indexed map[int]bool
		sorted  map[int]bool
	}{
		{"Two", []int64{10, 1_000_000}, []int64{10, 1000}, map[int]bool{1: true}, nil},
		{"Three", []int64{5000, 20, 300_000}, []int64{100, 20, 5000}, nil, map[int]bool{0: true, 2: true}},
		{"Four", []int64{1_000_000, 50, 2000, 80_000}, []int64{50_000, 50, 2000, 80_000}, map[int]bool{0: true, 3: true}, nil},
		{"FiveSkewed", []int64{7, 90_000, 300, 4_000_000, 12}, []int64{7, 900, 300, 40_000, 12}, map[int]bool{1: true, 3: true}, map[int]bool{2: true}},
		{"FiveUniform", []int64{1000, 1000, 1000, 1000, 1000}, []int64{100, 100, 100, 100, 100}, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, snap := chain(t, tt.rows, tt.nd, tt.indexed, tt.sorted)
			opt := New()
			res, err := opt.Optimize(q, snap)
			require.NoError(t, err)

			p := newPlanner(q, cost.NewModel(snap, opt.opts.Weights, opt.opts.MemoryBudget), opt.opts)
			full := uint64(1)<<len(tt.rows) - 1
			want := minTotal(bruteForce(p, full, map[uint64][]*plan.Node{}))

			assert.InDelta(t, want, res.Plan.Total, 1e-9*want)
			assert.ElementsMatch(t, q.Tables(), tablesOf(res.Plan))
		})
	}
}

func tablesOf(n *plan.Node) []query.Table {
	var out []query.Table
	n.Walk(func(c *plan.Node) {
		if !c.Kind.IsJoin() {
			out = append(out, c.Table)
		}
	})
	return out
}

func TestDeterministic(t *testing.T) {
	q, snap := chain(t, []int64{100, 100, 100, 100}, []int64{10, 10, 10, 10}, nil, nil)
	opt := New()

	first, err := opt.Optimize(q, snap)
	require.NoError(t, err)
	for range 20 {
		again, err := opt.Optimize(q, snap)
		require.NoError(t, err)
		assert.Equal(t, first.Plan.Explain(), again.Plan.Explain())
	}
}

func TestEnumerationOrderBreaksTies(t *testing.T) {
	// Identical tables make mirrored plans cost the same; the first split
	// enumerated (t0 on the left) must win.
	q, snap := chain(t, []int64{1000, 1000}, []int64{1000, 1000}, nil, nil)
	snap = stats.NewSnapshot([]stats.TableStats{
		{Name: "t0", RowCount: 1000, AvgRowSize: 64, PageCount: 8, Columns: map[string]*stats.ColumnStats{"k": {Name: "k", NDistinct: 1000}}},
		{Name: "t1", RowCount: 1000, AvgRowSize: 64, PageCount: 8, Columns: map[string]*stats.ColumnStats{"k": {Name: "k", NDistinct: 1000}}},
	}, nil)

	res, err := New().Optimize(q, snap)
	require.NoError(t, err)
	assert.Equal(t, "t0", res.Plan.Left.Table.Alias)
	assert.Equal(t, "t1", res.Plan.Right.Table.Alias)
}

func TestJoinAlgorithmChoice(t *testing.T) {
	t.Run("IndexNestedLoopForSmallOuter", func(t *testing.T) {
		q, snap := chain(t, []int64{5, 10_000_000}, []int64{5, 10_000_000}, map[int]bool{1: true}, nil)
		res, err := New().Optimize(q, snap)
		require.NoError(t, err)
		assert.Equal(t, plan.NestedLoopJoin, res.Plan.Kind)
		assert.True(t, res.Plan.IndexProbe)
		assert.Equal(t, "t1", res.Plan.Right.Table.Alias)
	})

	t.Run("HashForLargeUnsorted", func(t *testing.T) {
		q, snap := chain(t, []int64{200_000, 300_000}, []int64{200_000, 300_000}, nil, nil)
		res, err := New().Optimize(q, snap)
		require.NoError(t, err)
		assert.Equal(t, plan.HashJoin, res.Plan.Kind)
		assert.Len(t, res.Plan.On, 1)
	})

	t.Run("MergeForSortedInputs", func(t *testing.T) {
		q, snap := chain(t, []int64{200_000, 300_000}, []int64{200_000, 300_000}, nil, map[int]bool{0: true, 1: true})
		res, err := New(func(o *Options) { o.MemoryBudget = 1 << 20 }).Optimize(q, snap)
		require.NoError(t, err)
		assert.Equal(t, plan.MergeJoin, res.Plan.Kind)
		assert.True(t, res.Plan.Sorted)
	})
}

func TestCrossProductUsesNestedLoop(t *testing.T) {
	q, err := query.New(query.From("a", ""), query.From("b", ""))
	require.NoError(t, err)
	res, err := New().Optimize(q, nil)
	require.NoError(t, err)
	assert.Equal(t, plan.NestedLoopJoin, res.Plan.Kind)
	assert.Empty(t, res.Plan.On)
}

func TestResidualPlacement(t *testing.T) {
	q, err := query.New(
		query.From("a", ""), query.From("b", ""), query.From("c", ""),
		query.JoinOn(query.Col("a", "k"), query.Col("b", "k")),
		query.JoinOn(query.Col("b", "k"), query.Col("c", "k")),
		query.Where(query.And(
			query.Eq(query.Col("a", "x"), "p"),
			query.Or(query.Eq(query.Col("a", "y"), "p"), query.Eq(query.Col("c", "y"), "p")),
		)),
		query.Param("p", 1),
	)
	require.NoError(t, err)
	res, err := New().Optimize(q, nil)
	require.NoError(t, err)

	var residuals, filters int
	res.Plan.Walk(func(n *plan.Node) {
		residuals += len(n.Residual)
		filters += len(n.Filter)
		if n.Kind == plan.SeqScan && n.Table.Alias == "a" {
			assert.Len(t, n.Filter, 1)
		}
		if len(n.Residual) > 0 {
			assert.Subset(t, n.Tables(), []string{"a", "c"})
			assert.False(t, slices.Contains(n.Left.Tables(), "a") && slices.Contains(n.Left.Tables(), "c"))
			assert.False(t, slices.Contains(n.Right.Tables(), "a") && slices.Contains(n.Right.Tables(), "c"))
		}
	})
	assert.Equal(t, 1, residuals)
	assert.Equal(t, 1, filters)
}

func TestDegradedAboveThreshold(t *testing.T) {
	const n = 14
	rows := make([]int64, n)
	nd := make([]int64, n)
	for i := range rows {
		rows[i] = int64(1000 * (n - i))
		nd[i] = 100
	}
	q, snap := chain(t, rows, nd, nil, nil)

	var logs bytes.Buffer
	opt := New(func(o *Options) {
		o.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	})
	res, err := opt.Optimize(q, snap)
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	require.Len(t, res.Warnings, 1)
	assert.ErrorIs(t, res.Warnings[0], ErrDegraded)
	assert.Contains(t, logs.String(), "degraded")

	// Smallest table first, then left-deep.
	leftmost := res.Plan
	for leftmost.Kind.IsJoin() {
		assert.False(t, leftmost.Right.Kind.IsJoin())
		leftmost = leftmost.Left
	}
	assert.Equal(t, fmt.Sprintf("t%d", n-1), leftmost.Table.Alias)
	assert.Len(t, res.Plan.Tables(), n)

	// At the threshold the full enumeration still runs.
	q12, snap12 := chain(t, rows[:12], nd[:12], nil, nil)
	res, err = opt.Optimize(q12, snap12)
	require.NoError(t, err)
	assert.False(t, res.Degraded)
}

func TestDegradedIsDeterministic(t *testing.T) {
	const n = 20
	rows := make([]int64, n)
	nd := make([]int64, n)
	for i := range rows {
		rows[i] = int64(500 + (i*7919)%1000)
		nd[i] = 50
	}
	q, snap := chain(t, rows, nd, nil, nil)
	opt := New(func(o *Options) { o.DPThreshold = 4 })

	a, err := opt.Optimize(q, snap)
	require.NoError(t, err)
	b, err := opt.Optimize(q, snap)
	require.NoError(t, err)
	assert.Equal(t, a.Plan.Explain(), b.Plan.Explain())
}

func TestOptimizeRejectsInvalid(t *testing.T) {
	_, err := New().Optimize(nil, nil)
	assert.ErrorIs(t, err, query.ErrInvalidQuery)
}

func TestSubmaskEnumerationAscending(t *testing.T) {
	s := uint64(0b1011)
	var got []uint64
	for sub := -s & s; sub != s; sub = (sub - s) & s {
		got = append(got, sub)
	}
	assert.Equal(t, []uint64{0b0001, 0b0010, 0b0011, 0b1000, 0b1001, 0b1010}, got)
}

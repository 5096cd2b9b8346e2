package cost

import (
	"math"

	"github.com/arxis/aviladb/stats"
)

// Defaults assumed for a table without statistics.
const (
	DefaultRowCount   = 1000
	DefaultAvgRowSize = 256
	PageSize          = stats.DefaultPageSize
)

// Model estimates costs against one statistics snapshot.
type Model struct {
	snap         *stats.Snapshot
	w            Weights
	memoryBudget float64
}

// NewModel creates a model. memoryBudget bounds the in-memory side of a hash
// join before it is costed as spilling; zero means unbounded.
func NewModel(snap *stats.Snapshot, w Weights, memoryBudget int64) *Model {
	if snap == nil {
		snap = stats.NewSnapshot(nil, nil)
	}
	return &Model{snap: snap, w: w, memoryBudget: float64(memoryBudget)}
}

// Weights returns the model weights.
func (m *Model) Weights() Weights { return m.w }

// Snapshot returns the statistics the model reads.
func (m *Model) Snapshot() *stats.Snapshot { return m.snap }

// Total combines c into one scalar with the model weights.
func (m *Model) Total(c Cost) float64 { return m.w.Total(c) }

// Table returns the row count, average row size and page count of a table,
// falling back to defaults when it has not been analyzed.
func (m *Model) Table(name string) (rows, rowSize, pages float64) {
	if ts, ok := m.snap.Table(name); ok && ts.RowCount > 0 {
		rows = float64(ts.RowCount)
		rowSize = ts.AvgRowSize
		pages = float64(max(ts.PageCount, 1))
		return rows, rowSize, pages
	}
	rows, rowSize = DefaultRowCount, DefaultAvgRowSize
	return rows, rowSize, Pages(rows, rowSize)
}

// Pages converts a row count into pages.
func Pages(rows, rowSize float64) float64 {
	return max(1, math.Ceil(rows*rowSize/PageSize))
}

// SeqScan costs a full read of a table: one sequential IO per page.
func (m *Model) SeqScan(table string) Cost {
	_, _, pages := m.Table(table)
	return Cost{IO: pages}
}

// IndexScan costs an index probe with the given selectivity: the index
// pages walked plus one random fetch per matching row.
func (m *Model) IndexScan(table string, ix stats.IndexStats, selectivity float64) Cost {
	rows, _, _ := m.Table(table)
	return Cost{IO: IndexPages(ix, selectivity) + selectivity*rows*m.w.RandomIOFactor}
}

// IndexPages returns the index pages read by a probe of the given
// selectivity: the tree height plus the covered share of the leaf pages.
func IndexPages(ix stats.IndexStats, selectivity float64) float64 {
	return float64(max(ix.Height, 1)) + math.Ceil(selectivity*float64(ix.Pages))
}

// Input describes one side of a join.
type Input struct {
	Rows    float64
	RowSize float64
	Cost    Cost
	// Sorted reports that the input already arrives ordered on the join key.
	Sorted bool
}

// Pages returns the size of the input in pages.
func (in Input) Pages() float64 { return Pages(in.Rows, in.RowSize) }

// NestedLoop costs re-scanning inner once per outer row and comparing every
// pair of rows.
func (m *Model) NestedLoop(outer, inner Input) Cost {
	loops := max(outer.Rows, 1)
	c := outer.Cost.Add(inner.Cost.Scale(loops))
	c.CPU += outer.Rows * inner.Rows
	return c
}

// IndexNestedLoop costs probing an index on the inner table once per outer
// row, fetching matches rows per probe.
func (m *Model) IndexNestedLoop(outer Input, ix stats.IndexStats, matches float64) Cost {
	c := outer.Cost
	c.IO += outer.Rows * (float64(max(ix.Height, 1)) + matches*m.w.RandomIOFactor)
	c.CPU += outer.Rows * max(matches, 1)
	return c
}

// Hash costs building a hash table over build and probing it with probe.
// A build side larger than the memory budget is costed as spilling both
// inputs once.
func (m *Model) Hash(build, probe Input) Cost {
	c := build.Cost.Add(probe.Cost)
	c.CPU += build.Rows + probe.Rows
	mem := build.Rows * build.RowSize
	c.Memory += mem
	if m.memoryBudget > 0 && mem > m.memoryBudget {
		c.IO += 2 * (build.Pages() + probe.Pages())
	}
	return c
}

// Merge costs sorting each unsorted input and merging them.
func (m *Model) Merge(left, right Input) Cost {
	c := left.Cost.Add(right.Cost)
	if !left.Sorted {
		c.CPU += SortCost(left.Rows)
	}
	if !right.Sorted {
		c.CPU += SortCost(right.Rows)
	}
	c.CPU += left.Rows + right.Rows
	return c
}

// SortCost is n log2 n comparisons.
func SortCost(n float64) float64 {
	if n <= 1 {
		return 0
	}
	return n * math.Log2(n)
}

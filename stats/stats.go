// Package stats holds the statistics the optimizer plans against: per-table
// row counts and sizes, per-column distinct counts and histograms, and index
// metadata.
//
// Statistics are published as immutable snapshots. A Catalog swaps in a new
// snapshot on Refresh; planners keep reading whichever snapshot they took.
package stats

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
)

// TableStats describes one table (collection).
type TableStats struct {
	Name       string                  `json:"name"`
	RowCount   int64                   `json:"rowCount"`
	AvgRowSize float64                 `json:"avgRowSize"`
	PageCount  int64                   `json:"pageCount"`
	SortedOn   string                  `json:"sortedOn,omitempty"`
	Columns    map[string]*ColumnStats `json:"columns,omitempty"`
}

// Column returns the statistics of one column.
func (t *TableStats) Column(name string) (*ColumnStats, bool) {
	c, ok := t.Columns[name]
	return c, ok
}

// ColumnStats describes one column. Histogram is nil for non-numeric
// columns.
type ColumnStats struct {
	Name         string     `json:"name"`
	NDistinct    int64      `json:"nDistinct"`
	NullFraction float64    `json:"nullFraction"`
	Histogram    *Histogram `json:"histogram,omitempty"`
}

// IndexStats describes a secondary index on one column.
type IndexStats struct {
	Name    string `json:"name"`
	Table   string `json:"table"`
	Column  string `json:"column"`
	Pages   int64  `json:"pages"`
	Height  int    `json:"height"`
	Ordered bool   `json:"ordered"`
}

// Snapshot is an immutable view of the catalog. Values returned from a
// snapshot must not be modified.
type Snapshot struct {
	version uint64
	tables  map[string]*TableStats
	indexes map[string][]IndexStats // by table, sorted by name
}

// NewSnapshot builds a standalone snapshot with version 0.
func NewSnapshot(tables []TableStats, indexes []IndexStats) *Snapshot {
	b := newBuilder(nil)
	for _, t := range tables {
		b.PutTable(t)
	}
	for _, ix := range indexes {
		b.PutIndex(ix)
	}
	return b.build(0)
}

// Version increases with every catalog refresh.
func (s *Snapshot) Version() uint64 { return s.version }

// Table returns the statistics of one table.
func (s *Snapshot) Table(name string) (*TableStats, bool) {
	t, ok := s.tables[name]
	return t, ok
}

// Tables returns the table names in ascending order.
func (s *Snapshot) Tables() []string {
	return slices.Sorted(maps.Keys(s.tables))
}

// Column returns the statistics of table.column.
func (s *Snapshot) Column(table, column string) (*ColumnStats, bool) {
	t, ok := s.tables[table]
	if !ok {
		return nil, false
	}
	return t.Column(column)
}

// Indexes returns the indexes of a table ordered by name.
func (s *Snapshot) Indexes(table string) []IndexStats {
	return s.indexes[table]
}

// Index returns the first index (by name) on table.column.
func (s *Snapshot) Index(table, column string) (IndexStats, bool) {
	for _, ix := range s.indexes[table] {
		if ix.Column == column {
			return ix, true
		}
	}
	return IndexStats{}, false
}

// Builder stages changes for a Refresh.
type Builder struct {
	tables  map[string]*TableStats
	indexes map[string][]IndexStats
}

func newBuilder(from *Snapshot) *Builder {
	b := &Builder{tables: make(map[string]*TableStats), indexes: make(map[string][]IndexStats)}
	if from != nil {
		maps.Copy(b.tables, from.tables)
		for t, ixs := range from.indexes {
			b.indexes[t] = slices.Clone(ixs)
		}
	}
	return b
}

// PutTable adds or replaces a table's statistics.
func (b *Builder) PutTable(t TableStats) {
	cols := make(map[string]*ColumnStats, len(t.Columns))
	for name, c := range t.Columns {
		cc := *c
		cols[name] = &cc
	}
	t.Columns = cols
	b.tables[t.Name] = &t
}

// DropTable removes a table and its indexes.
func (b *Builder) DropTable(name string) {
	delete(b.tables, name)
	delete(b.indexes, name)
}

// PutIndex adds or replaces (by table and name) an index.
func (b *Builder) PutIndex(ix IndexStats) {
	ixs := slices.DeleteFunc(b.indexes[ix.Table], func(o IndexStats) bool { return o.Name == ix.Name })
	ixs = append(ixs, ix)
	slices.SortFunc(ixs, func(a, b IndexStats) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	b.indexes[ix.Table] = ixs
}

// SetIndexes replaces every index of table with ixs.
func (b *Builder) SetIndexes(table string, ixs []IndexStats) {
	delete(b.indexes, table)
	for _, ix := range ixs {
		ix.Table = table
		b.PutIndex(ix)
	}
}

// DropIndex removes an index.
func (b *Builder) DropIndex(table, name string) {
	b.indexes[table] = slices.DeleteFunc(b.indexes[table], func(o IndexStats) bool { return o.Name == name })
	if len(b.indexes[table]) == 0 {
		delete(b.indexes, table)
	}
}

func (b *Builder) build(version uint64) *Snapshot {
	return &Snapshot{version: version, tables: b.tables, indexes: b.indexes}
}

// Catalog publishes statistics snapshots.
type Catalog struct {
	mu      sync.Mutex // serializes refreshes
	current atomic.Pointer[Snapshot]
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	c := &Catalog{}
	c.current.Store(newBuilder(nil).build(0))
	return c
}

// Snapshot returns the current snapshot.
func (c *Catalog) Snapshot() *Snapshot {
	return c.current.Load()
}

// Refresh applies fn to a copy of the current statistics and publishes the
// result as a new snapshot. Refreshes are exclusive; snapshots already handed
// out are unaffected. If fn fails nothing is published.
func (c *Catalog) Refresh(fn func(b *Builder) error) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.Snapshot()
	b := newBuilder(cur)
	if err := fn(b); err != nil {
		return cur, err
	}
	next := b.build(cur.version + 1)
	c.current.Store(next)
	return next, nil
}

package stats

import (
	"math"

	"github.com/arxis/aviladb/document"
)

// DefaultPageSize is the page size used to derive page counts.
const DefaultPageSize = 8 << 10

// indexEntryOverhead is the per-entry slot and pointer cost of an index
// page.
const indexEntryOverhead = 16

// AnalyzeOptions configures an Analyzer.
type AnalyzeOptions struct {
	Buckets  int
	PageSize int

	// Indexes lists the secondary indexes to describe alongside the table.
	Indexes []IndexSpec
}

// IndexSpec declares a secondary index on one column.
type IndexSpec struct {
	Name    string
	Column  string
	Ordered bool
}

// DefaultAnalyzeOptions holds the default analyzer configuration.
var DefaultAnalyzeOptions = AnalyzeOptions{
	Buckets:  DefaultBuckets,
	PageSize: DefaultPageSize,
}

type columnAcc struct {
	present  int64
	distinct map[string]struct{}
	numbers  []float64
	numeric  bool
}

type indexAcc struct {
	entries int64
	bytes   int64
}

// Analyzer accumulates the statistics of one table from its rows. Only
// top-level scalar fields get column statistics.
type Analyzer struct {
	table   string
	opts    AnalyzeOptions
	rows    int64
	bytes   int64
	cols    map[string]*columnAcc
	indexes []indexAcc
}

// NewAnalyzer creates an analyzer for table.
func NewAnalyzer(table string, optFns ...func(o *AnalyzeOptions)) *Analyzer {
	opts := DefaultAnalyzeOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Buckets <= 0 {
		opts.Buckets = DefaultBuckets
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return &Analyzer{
		table:   table,
		opts:    opts,
		cols:    make(map[string]*columnAcc),
		indexes: make([]indexAcc, len(opts.Indexes)),
	}
}

// Add records one row whose stored size is size bytes.
func (a *Analyzer) Add(doc document.Document, size int) {
	a.rows++
	a.bytes += int64(size)

	for i, spec := range a.opts.Indexes {
		v, ok := doc.Lookup(spec.Column)
		if !ok || v.IsNull() {
			continue
		}
		a.indexes[i].entries++
		a.indexes[i].bytes += int64(len(v.String()) + len(doc.ID))
	}

	for name, v := range doc.Fields {
		switch v.Kind() {
		case document.KindNull, document.KindMap, document.KindArray:
			continue
		}
		acc := a.cols[name]
		if acc == nil {
			acc = &columnAcc{distinct: make(map[string]struct{}), numeric: true}
			a.cols[name] = acc
		}
		acc.present++
		acc.distinct[v.Kind().String()+":"+v.String()] = struct{}{}
		if f, ok := v.Numeric(); ok {
			acc.numbers = append(acc.numbers, f)
		} else {
			acc.numeric = false
		}
	}
}

// Result returns the accumulated table statistics.
func (a *Analyzer) Result() TableStats {
	ts := TableStats{
		Name:     a.table,
		RowCount: a.rows,
		Columns:  make(map[string]*ColumnStats, len(a.cols)),
	}
	if a.rows > 0 {
		ts.AvgRowSize = float64(a.bytes) / float64(a.rows)
		ts.PageCount = max(1, int64(math.Ceil(float64(a.bytes)/float64(a.opts.PageSize))))
	}

	for name, acc := range a.cols {
		cs := &ColumnStats{
			Name:         name,
			NDistinct:    int64(len(acc.distinct)),
			NullFraction: 1 - float64(acc.present)/float64(a.rows),
		}
		if acc.numeric && len(acc.numbers) > 0 {
			cs.Histogram = BuildHistogram(acc.numbers, a.opts.Buckets)
		}
		ts.Columns[name] = cs
	}
	return ts
}

// Indexes describes the indexes listed in AnalyzeOptions.Indexes, in that
// order.
func (a *Analyzer) Indexes() []IndexStats {
	out := make([]IndexStats, len(a.opts.Indexes))
	for i, spec := range a.opts.Indexes {
		acc := a.indexes[i]
		avg := 0.0
		if acc.entries > 0 {
			avg = float64(acc.bytes) / float64(acc.entries)
		}
		pages, height := IndexShape(acc.entries, avg, a.opts.PageSize)
		out[i] = IndexStats{
			Name:    spec.Name,
			Table:   a.table,
			Column:  spec.Column,
			Pages:   pages,
			Height:  height,
			Ordered: spec.Ordered,
		}
	}
	return out
}

// IndexShape estimates the leaf page count and tree height of an index
// holding entries keys of avgEntrySize bytes. An index fitting one page has
// height 1.
func IndexShape(entries int64, avgEntrySize float64, pageSize int) (pages int64, height int) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if entries <= 0 {
		return 1, 1
	}
	entry := avgEntrySize + indexEntryOverhead
	pages = max(1, int64(math.Ceil(float64(entries)*entry/float64(pageSize))))
	fanout := max(2, math.Floor(float64(pageSize)/entry))

	height = 1
	for n := float64(pages); n > 1; n = math.Ceil(n / fanout) {
		height++
	}
	return pages, height
}

// Analyze computes the statistics of table from docs. sizes holds the stored
// size of each document; a nil sizes uses the encoded size.
func Analyze(table string, docs []document.Document, sizes []int, optFns ...func(o *AnalyzeOptions)) (TableStats, error) {
	a := NewAnalyzer(table, optFns...)
	for i, d := range docs {
		size := 0
		if sizes != nil {
			size = sizes[i]
		} else {
			b, err := document.Encode(nil, d)
			if err != nil {
				return TableStats{}, err
			}
			size = len(b)
		}
		a.Add(d, size)
	}
	return a.Result(), nil
}

package optimizer

import (
	"math"

	"github.com/arxis/aviladb/cost"
	"github.com/arxis/aviladb/plan"
	"github.com/arxis/aviladb/query"
	"github.com/arxis/aviladb/stats"
)

type leaf struct {
	table    query.Table
	node     *plan.Node
	rows     float64 // after pushed-down filters
	rowSize  float64
	sortedOn string
}

type edge struct {
	left, right int // leaf indices
	join        query.Join
	sel         float64
}

type residual struct {
	mask uint64
	pred query.Predicate
	sel  float64
}

type planner struct {
	q         *query.Query
	m         *cost.Model
	opts      Options
	leaves    []leaf
	aliases   map[string]int
	edges     []edge
	residuals []residual
}

func newPlanner(q *query.Query, m *cost.Model, opts Options) *planner {
	p := &planner{q: q, m: m, opts: opts, aliases: make(map[string]int)}
	tables := q.Tables()
	for i, t := range tables {
		p.aliases[t.Alias] = i
	}

	local := make([][]query.Predicate, len(tables))
	if where, ok := q.Where(); ok {
		for _, c := range where.Conjuncts() {
			refs := c.Tables()
			if len(refs) == 1 {
				i := p.aliases[refs[0]]
				local[i] = append(local[i], c)
				continue
			}
			p.residuals = append(p.residuals, residual{mask: p.maskOf(refs), pred: c, sel: p.selectivity(c)})
		}
	}

	for _, j := range q.Joins() {
		l, r := p.aliases[j.Left.Table], p.aliases[j.Right.Table]
		sel := m.Join(tables[l].Name, j.Left.Field, tables[r].Name, j.Right.Field)
		p.edges = append(p.edges, edge{left: l, right: r, join: j, sel: sel})
	}

	for i, t := range tables {
		p.leaves = append(p.leaves, p.leaf(t, local[i]))
	}
	return p
}

func (p *planner) maskOf(aliases []string) uint64 {
	var mask uint64
	for _, a := range aliases {
		mask |= uint64(1) << p.aliases[a]
	}
	return mask
}

func (p *planner) connected(a, b uint64) bool {
	for _, e := range p.edges {
		l, r := uint64(1)<<e.left, uint64(1)<<e.right
		if (a&l != 0 && b&r != 0) || (a&r != 0 && b&l != 0) {
			return true
		}
	}
	return false
}

// selectivity estimates a predicate tree, treating terms as independent.
func (p *planner) selectivity(pred query.Predicate) float64 {
	switch pred.Kind() {
	case query.KindAnd:
		children := pred.Children()
		s := make([]float64, len(children))
		for i, c := range children {
			s[i] = p.selectivity(c)
		}
		return cost.And(s...)
	case query.KindOr:
		out := 0.0
		for _, c := range pred.Children() {
			out = cost.Or(out, p.selectivity(c))
		}
		return out
	case query.KindNot:
		return cost.Not(p.selectivity(pred.Children()[0]))
	}

	col := pred.Column()
	table := p.tableName(col.Table)
	params := pred.Params()
	switch pred.Op() {
	case query.OpEq:
		return p.m.Equality(table, col.Field)
	case query.OpNe:
		return p.m.NotEqual(table, col.Field)
	case query.OpIn:
		return p.m.In(table, col.Field, len(params))
	case query.OpIsNull:
		return p.m.IsNull(table, col.Field)
	}

	v, ok := p.q.Params().Float(params[0])
	if !ok {
		return cost.DefaultRangeSelectivity
	}
	switch pred.Op() {
	case query.OpLt, query.OpLe:
		return p.m.Range(table, col.Field, math.Inf(-1), v)
	default:
		return p.m.Range(table, col.Field, v, math.Inf(1))
	}
}

func (p *planner) tableName(alias string) string {
	t, _ := p.q.Table(alias)
	return t.Name
}

// leaf plans access to one table: a vector search when the table carries the
// vector clause, otherwise the cheaper of a sequential scan and any usable
// index scan.
func (p *planner) leaf(t query.Table, filters []query.Predicate) leaf {
	rows, rowSize, _ := p.m.Table(t.Name)
	sel := 1.0
	for _, f := range filters {
		sel *= p.selectivity(f)
	}
	ts, _ := p.m.Snapshot().Table(t.Name)

	if v, ok := p.q.Vector(); ok && v.Table == t.Alias {
		ef := v.EF
		if ef == 0 {
			ef = max(2*v.K, p.opts.DefaultEF)
		}
		out := max(float64(v.K)*sel, 1)
		c := cost.Cost{
			CPU: float64(ef) * math.Log2(rows+2),
			IO:  float64(v.K) * p.m.Weights().RandomIOFactor,
		}
		node := &plan.Node{
			Kind: plan.VectorSearch, Table: t, Column: v.Field, K: v.K, EF: ef,
			Filter: filters, Cost: c, Total: p.m.Total(c), Rows: out, RowSize: rowSize,
		}
		return leaf{table: t, node: node, rows: out, rowSize: rowSize}
	}

	out := max(rows*sel, 1)
	seq := p.m.SeqScan(t.Name)
	node := &plan.Node{
		Kind: plan.SeqScan, Table: t, Filter: filters,
		Cost: seq, Total: p.m.Total(seq), Rows: out, RowSize: rowSize,
	}
	sortedOn := ""
	if ts != nil {
		sortedOn = ts.SortedOn
	}

	for _, f := range filters {
		ix, s, ok := p.indexFor(t, f)
		if !ok {
			continue
		}
		c := p.m.IndexScan(t.Name, ix, s)
		if total := p.m.Total(c); total < node.Total {
			node = &plan.Node{
				Kind: plan.IndexScan, Table: t, Index: ix.Name, Column: ix.Column, Filter: filters,
				Cost: c, Total: total, Rows: out, RowSize: rowSize,
			}
			sortedOn = ""
			if ix.Ordered {
				sortedOn = ix.Column
			}
		}
	}
	node.Sorted = sortedOn != ""
	return leaf{table: t, node: node, rows: out, rowSize: rowSize, sortedOn: sortedOn}
}

// indexFor returns an index able to answer a single-column conjunct, with
// the conjunct's selectivity. Ranges need an ordered index.
func (p *planner) indexFor(t query.Table, f query.Predicate) (stats.IndexStats, float64, bool) {
	if f.Kind() != query.KindCompare {
		return stats.IndexStats{}, 0, false
	}
	ix, ok := p.m.Snapshot().Index(t.Name, f.Column().Field)
	if !ok {
		return stats.IndexStats{}, 0, false
	}
	switch f.Op() {
	case query.OpEq, query.OpIn:
	case query.OpLt, query.OpLe, query.OpGt, query.OpGe:
		if !ix.Ordered {
			return stats.IndexStats{}, 0, false
		}
	default:
		return stats.IndexStats{}, 0, false
	}
	return ix, p.selectivity(f), true
}

// rows estimates the output of joining the tables in mask. It depends only
// on the set, never on the plan shape.
func (p *planner) rows(mask uint64) float64 {
	r := 1.0
	for i, l := range p.leaves {
		if mask&(uint64(1)<<i) != 0 {
			r *= l.rows
		}
	}
	for _, e := range p.edges {
		if mask&(uint64(1)<<e.left) != 0 && mask&(uint64(1)<<e.right) != 0 {
			r *= e.sel
		}
	}
	for _, res := range p.residuals {
		if mask&res.mask == res.mask {
			r *= res.sel
		}
	}
	return max(r, 1)
}

func (p *planner) rowSize(mask uint64) float64 {
	size := 0.0
	for i, l := range p.leaves {
		if mask&(uint64(1)<<i) != 0 {
			size += l.rowSize
		}
	}
	return size
}

// keys returns the equi-join keys between the two sides, oriented left to
// right.
func (p *planner) keys(left, right uint64) []query.Join {
	var out []query.Join
	for _, e := range p.edges {
		l, r := uint64(1)<<e.left, uint64(1)<<e.right
		switch {
		case left&l != 0 && right&r != 0:
			out = append(out, e.join)
		case left&r != 0 && right&l != 0:
			out = append(out, query.Join{Left: e.join.Right, Right: e.join.Left})
		}
	}
	return out
}

func (p *planner) residualsFor(s, left, right uint64) []query.Predicate {
	var out []query.Predicate
	for _, res := range p.residuals {
		if s&res.mask == res.mask && left&res.mask != res.mask && right&res.mask != res.mask {
			out = append(out, res.pred)
		}
	}
	return out
}

// singleLeaf returns the leaf index of a one-table mask.
func (p *planner) singleLeaf(mask uint64) (int, bool) {
	if mask == 0 || mask&(mask-1) != 0 {
		return 0, false
	}
	for i := range p.leaves {
		if mask == uint64(1)<<i {
			return i, true
		}
	}
	return 0, false
}

func (p *planner) sortedOnKey(mask uint64, child *plan.Node, col query.Column) bool {
	i, ok := p.singleLeaf(mask)
	if !ok || child.Kind.IsJoin() || child.Kind == plan.VectorSearch {
		return false
	}
	return p.leaves[i].sortedOn != "" && p.leaves[i].sortedOn == col.Field
}

// joins returns the candidate plans joining left and right, in enumeration
// order: nested loop, index nested loop, hash, merge. Hash and merge joins
// need at least one equi-join key.
func (p *planner) joins(s, lmask uint64, left *plan.Node, rmask uint64, right *plan.Node) []*plan.Node {
	keys := p.keys(lmask, rmask)
	rows := p.rows(s)
	rowSize := p.rowSize(s)
	residuals := p.residualsFor(s, lmask, rmask)

	in := func(n *plan.Node) cost.Input {
		return cost.Input{Rows: n.Rows, RowSize: n.RowSize, Cost: n.Cost}
	}
	mk := func(kind plan.Kind, c cost.Cost) *plan.Node {
		return &plan.Node{
			Kind: kind, Left: left, Right: right, On: keys, Residual: residuals,
			Cost: c, Total: p.m.Total(c), Rows: rows, RowSize: rowSize,
		}
	}

	out := make([]*plan.Node, 0, 4)
	out = append(out, mk(plan.NestedLoopJoin, p.m.NestedLoop(in(left), in(right))))

	if ri, ok := p.singleLeaf(rmask); ok && len(keys) > 0 && right.Kind != plan.VectorSearch {
		t := p.leaves[ri].table
		if ix, ok := p.m.Snapshot().Index(t.Name, keys[0].Right.Field); ok {
			tableRows, _, _ := p.m.Table(t.Name)
			matches := tableRows * p.m.Join(p.tableName(keys[0].Left.Table), keys[0].Left.Field, t.Name, keys[0].Right.Field)
			n := mk(plan.NestedLoopJoin, p.m.IndexNestedLoop(in(left), ix, matches))
			n.IndexProbe = true
			out = append(out, n)
		}
	}

	if len(keys) > 0 {
		out = append(out, mk(plan.HashJoin, p.m.Hash(in(left), in(right))))

		l, r := in(left), in(right)
		l.Sorted = p.sortedOnKey(lmask, left, keys[0].Left)
		r.Sorted = p.sortedOnKey(rmask, right, keys[0].Right)
		merge := mk(plan.MergeJoin, p.m.Merge(l, r))
		merge.Sorted = true
		out = append(out, merge)
	}
	return out
}

package executor

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/arxis/aviladb/document"
	"github.com/arxis/aviladb/plan"
	"github.com/arxis/aviladb/query"
	"github.com/arxis/aviladb/resource"
)

func combine(l, r row) row {
	out := make(row, len(l)+len(r))
	maps.Copy(out, l)
	maps.Copy(out, r)
	return out
}

// keyValues returns the values of one side of the join keys. ok is false
// when any key is missing or null, since null never joins.
func keyValues(rw row, on []query.Join, left bool) ([]document.Value, bool) {
	get := lookup(rw)
	vals := make([]document.Value, len(on))
	for i, j := range on {
		col := j.Right
		if left {
			col = j.Left
		}
		v, ok := get(col)
		if !ok || v.IsNull() {
			return nil, false
		}
		vals[i] = v
	}
	return vals, true
}

func compareKeys(a, b []document.Value) int {
	for i := range a {
		if c := document.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

// hashKey encodes join key values so that values comparing equal share a
// key. Numbers of both kinds map through float64, at any depth.
func hashKey(vals []document.Value) string {
	var sb strings.Builder
	for i, v := range vals {
		if i > 0 {
			sb.WriteByte(0)
		}
		writeKey(&sb, v)
	}
	return sb.String()
}

func writeKey(sb *strings.Builder, v document.Value) {
	if f, ok := v.Numeric(); ok {
		sb.WriteString("n:")
		sb.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		return
	}
	switch v.Kind() {
	case document.KindMap:
		m, _ := v.AsMap()
		sb.WriteString("m{")
		for _, k := range slices.Sorted(maps.Keys(m)) {
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			writeKey(sb, m[k])
			sb.WriteByte(',')
		}
		sb.WriteByte('}')
	case document.KindArray:
		a, _ := v.AsArray()
		sb.WriteString("a[")
		for _, e := range a {
			writeKey(sb, e)
			sb.WriteByte(',')
		}
		sb.WriteByte(']')
	default:
		sb.WriteString(v.Kind().String())
		sb.WriteByte(':')
		sb.WriteString(v.String())
	}
}

// joined reports whether l and r satisfy the join keys and residuals of n.
func (r *run) joined(n *plan.Node, l, rr row) (row, bool) {
	if len(n.On) > 0 {
		lk, ok := keyValues(l, n.On, true)
		if !ok {
			return nil, false
		}
		rk, ok := keyValues(rr, n.On, false)
		if !ok || compareKeys(lk, rk) != 0 {
			return nil, false
		}
	}
	out := combine(l, rr)
	if !r.accept(out, n.Residual) {
		return nil, false
	}
	return out, true
}

// nestedLoop materializes the inner side once and streams the outer side
// over it. Index probes run the same way.
func (r *run) nestedLoop(ctx context.Context, n *plan.Node, emit func(row) error) error {
	inner, err := r.materialize(ctx, n.Right)
	if err != nil {
		return err
	}
	return r.exec(ctx, n.Left, func(l row) error {
		for _, rr := range inner {
			if out, ok := r.joined(n, l, rr); ok {
				if err := emit(out); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// hash builds on the left input and probes with the right one. When the
// build side does not fit the memory budget the join runs as a merge join.
func (r *run) hash(ctx context.Context, n *plan.Node, emit func(row) error) error {
	if len(n.On) == 0 {
		return r.nestedLoop(ctx, n, emit)
	}

	reserve := int64(max(n.Left.Rows*n.Left.RowSize, 1))
	if err := r.opts.Resources.AcquireMemory(ctx, reserve); err != nil {
		if errors.Is(err, resource.ErrOverBudget) {
			r.opts.Logger.Debug("hash join build exceeds memory budget, merging instead", "bytes", reserve)
			return r.merge(ctx, n, emit)
		}
		return err
	}
	defer r.opts.Resources.ReleaseMemory(reserve)

	build, err := r.materialize(ctx, n.Left)
	if err != nil {
		return err
	}
	table := make(map[string][]keyed, len(build))
	for _, l := range build {
		k, ok := keyValues(l, n.On, true)
		if !ok {
			continue
		}
		h := hashKey(k)
		table[h] = append(table[h], keyed{key: k, row: l})
	}

	return r.exec(ctx, n.Right, func(rr row) error {
		k, ok := keyValues(rr, n.On, false)
		if !ok {
			return nil
		}
		for _, l := range table[hashKey(k)] {
			if compareKeys(l.key, k) != 0 {
				continue
			}
			if out, ok := r.joined(n, l.row, rr); ok {
				if err := emit(out); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

type keyed struct {
	key []document.Value
	row row
}

func sortedByKey(rows []row, on []query.Join, left bool) []keyed {
	out := make([]keyed, 0, len(rows))
	for _, rw := range rows {
		if k, ok := keyValues(rw, on, left); ok {
			out = append(out, keyed{key: k, row: rw})
		}
	}
	slices.SortStableFunc(out, func(a, b keyed) int { return compareKeys(a.key, b.key) })
	return out
}

// merge sorts both inputs on the join keys and joins runs of equal keys.
// Output is ordered by key.
func (r *run) merge(ctx context.Context, n *plan.Node, emit func(row) error) error {
	if len(n.On) == 0 {
		return r.nestedLoop(ctx, n, emit)
	}
	lrows, rrows, err := r.both(ctx, n)
	if err != nil {
		return err
	}
	left := sortedByKey(lrows, n.On, true)
	right := sortedByKey(rrows, n.On, false)

	i, j := 0, 0
	for i < len(left) && j < len(right) {
		switch c := compareKeys(left[i].key, right[j].key); {
		case c < 0:
			i++
		case c > 0:
			j++
		default:
			ie := i + 1
			for ie < len(left) && compareKeys(left[ie].key, left[i].key) == 0 {
				ie++
			}
			je := j + 1
			for je < len(right) && compareKeys(right[je].key, right[j].key) == 0 {
				je++
			}
			for _, l := range left[i:ie] {
				for _, rr := range right[j:je] {
					out := combine(l.row, rr.row)
					if !r.accept(out, n.Residual) {
						continue
					}
					if err := emit(out); err != nil {
						return err
					}
				}
			}
			i, j = ie, je
		}
	}
	return ctx.Err()
}

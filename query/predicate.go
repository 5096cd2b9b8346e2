package query

import (
	"fmt"
	"strings"

	"github.com/arxis/aviladb/document"
)

// Column names a (possibly dotted) field of the table bound to Table.
type Column struct {
	Table string
	Field string
}

// Col is shorthand for Column{Table: table, Field: field}.
func Col(table, field string) Column { return Column{Table: table, Field: field} }

func (c Column) String() string { return c.Table + "." + c.Field }

// Op is a comparison operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpIn
	OpIsNull
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpIn:
		return "IN"
	case OpIsNull:
		return "IS NULL"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Kind tags a predicate node.
type Kind int

const (
	KindCompare Kind = iota
	KindAnd
	KindOr
	KindNot
)

func (k Kind) String() string {
	switch k {
	case KindCompare:
		return "compare"
	case KindAnd:
		return "and"
	case KindOr:
		return "or"
	case KindNot:
		return "not"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Predicate is an immutable predicate tree. Comparison leaves compare a
// column with named parameters, never with inline literals.
type Predicate struct {
	kind     Kind
	column   Column
	op       Op
	params   []string
	children []Predicate
}

func compare(c Column, op Op, params ...string) Predicate {
	return Predicate{kind: KindCompare, column: c, op: op, params: params}
}

func Eq(c Column, param string) Predicate { return compare(c, OpEq, param) }
func Ne(c Column, param string) Predicate { return compare(c, OpNe, param) }
func Lt(c Column, param string) Predicate { return compare(c, OpLt, param) }
func Le(c Column, param string) Predicate { return compare(c, OpLe, param) }
func Gt(c Column, param string) Predicate { return compare(c, OpGt, param) }
func Ge(c Column, param string) Predicate { return compare(c, OpGe, param) }
func IsNull(c Column) Predicate           { return compare(c, OpIsNull) }
func In(c Column, params ...string) Predicate {
	return compare(c, OpIn, append([]string(nil), params...)...)
}

// Between is Ge(c, low) AND Le(c, high).
func Between(c Column, low, high string) Predicate {
	return And(Ge(c, low), Le(c, high))
}

// And returns the conjunction of ps. Nested conjunctions are flattened.
func And(ps ...Predicate) Predicate {
	var flat []Predicate
	for _, p := range ps {
		if p.kind == KindAnd {
			flat = append(flat, p.children...)
		} else {
			flat = append(flat, p)
		}
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return Predicate{kind: KindAnd, children: flat}
}

// Or returns the disjunction of ps.
func Or(ps ...Predicate) Predicate {
	if len(ps) == 1 {
		return ps[0]
	}
	return Predicate{kind: KindOr, children: append([]Predicate(nil), ps...)}
}

// Not negates p.
func Not(p Predicate) Predicate {
	return Predicate{kind: KindNot, children: []Predicate{p}}
}

func (p Predicate) Kind() Kind       { return p.kind }
func (p Predicate) Column() Column   { return p.column }
func (p Predicate) Op() Op           { return p.op }
func (p Predicate) Params() []string { return append([]string(nil), p.params...) }
func (p Predicate) Children() []Predicate {
	return append([]Predicate(nil), p.children...)
}

// Conjuncts splits a top-level conjunction into its terms.
func (p Predicate) Conjuncts() []Predicate {
	if p.kind == KindAnd {
		return p.Children()
	}
	return []Predicate{p}
}

// Tables returns the table aliases referenced by p, in first-seen order.
func (p Predicate) Tables() []string {
	var out []string
	seen := map[string]bool{}
	p.walk(func(leaf Predicate) {
		if !seen[leaf.column.Table] {
			seen[leaf.column.Table] = true
			out = append(out, leaf.column.Table)
		}
	})
	return out
}

func (p Predicate) walk(fn func(leaf Predicate)) {
	if p.kind == KindCompare {
		fn(p)
		return
	}
	for _, c := range p.children {
		c.walk(fn)
	}
}

// Eval evaluates p. lookup resolves a column against the current row; a
// missing field fails every comparison except IS NULL.
func (p Predicate) Eval(lookup func(Column) (document.Value, bool), params Params) bool {
	switch p.kind {
	case KindAnd:
		for _, c := range p.children {
			if !c.Eval(lookup, params) {
				return false
			}
		}
		return true
	case KindOr:
		for _, c := range p.children {
			if c.Eval(lookup, params) {
				return true
			}
		}
		return false
	case KindNot:
		return !p.children[0].Eval(lookup, params)
	}

	v, ok := lookup(p.column)
	if p.op == OpIsNull {
		return !ok || v.IsNull()
	}
	if !ok || v.IsNull() {
		return false
	}
	if p.op == OpIn {
		for _, name := range p.params {
			if pv, ok := params.Get(name); ok && document.Compare(v, pv) == 0 {
				return true
			}
		}
		return false
	}

	pv, ok := params.Get(p.params[0])
	if !ok {
		return false
	}
	c := document.Compare(v, pv)
	switch p.op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	}
	return false
}

func (p Predicate) String() string {
	switch p.kind {
	case KindAnd, KindOr:
		sep := " AND "
		if p.kind == KindOr {
			sep = " OR "
		}
		parts := make([]string, len(p.children))
		for i, c := range p.children {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, sep) + ")"
	case KindNot:
		return "NOT " + p.children[0].String()
	}
	switch p.op {
	case OpIsNull:
		return p.column.String() + " IS NULL"
	case OpIn:
		return p.column.String() + " IN (@" + strings.Join(p.params, ", @") + ")"
	default:
		return p.column.String() + " " + p.op.String() + " @" + p.params[0]
	}
}

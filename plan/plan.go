// Package plan defines the physical query plan produced by the optimizer and
// consumed by the executor.
package plan

import (
	"fmt"
	"strings"

	"github.com/arxis/aviladb/cost"
	"github.com/arxis/aviladb/query"
)

// Kind tags a plan node.
type Kind int

const (
	SeqScan Kind = iota
	IndexScan
	NestedLoopJoin
	HashJoin
	MergeJoin
	VectorSearch
)

func (k Kind) String() string {
	switch k {
	case SeqScan:
		return "SeqScan"
	case IndexScan:
		return "IndexScan"
	case NestedLoopJoin:
		return "NestedLoopJoin"
	case HashJoin:
		return "HashJoin"
	case MergeJoin:
		return "MergeJoin"
	case VectorSearch:
		return "VectorSearch"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// IsJoin reports whether k combines two inputs.
func (k Kind) IsJoin() bool {
	return k == NestedLoopJoin || k == HashJoin || k == MergeJoin
}

// Node is one operator of a plan tree. Scan and vector nodes are leaves;
// join nodes have a Left (outer, build) and Right (inner, probe) child.
type Node struct {
	Kind Kind

	// Cost is the cumulative estimated cost of the subtree; Total is its
	// weighted scalar.
	Cost  cost.Cost
	Total float64
	// Rows is the estimated number of output rows.
	Rows float64
	// RowSize is the estimated output row size in bytes.
	RowSize float64

	// Leaves.
	Table  query.Table
	Index  string            // IndexScan
	Column string            // IndexScan, VectorSearch
	Filter []query.Predicate // pushed-down conjuncts on this table
	K      int               // VectorSearch
	EF     int               // VectorSearch

	// Joins.
	Left, Right *Node
	On          []query.Join      // equi-join keys, Left side first
	Residual    []query.Predicate // conjuncts over both sides
	IndexProbe  bool              // NestedLoopJoin probing an index on Right
	Sorted      bool              // output ordered on the join key
}

// Tables returns the aliases of the tables below n, left to right.
func (n *Node) Tables() []string {
	if n == nil {
		return nil
	}
	if !n.Kind.IsJoin() {
		return []string{n.Table.Alias}
	}
	return append(n.Left.Tables(), n.Right.Tables()...)
}

// Walk visits n and its descendants depth-first, parents first.
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	n.Left.Walk(fn)
	n.Right.Walk(fn)
}

// Explain renders the plan as an indented tree.
func (n *Node) Explain() string {
	var sb strings.Builder
	n.explain(&sb, 0)
	return sb.String()
}

func (n *Node) explain(sb *strings.Builder, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(n.Kind.String())

	switch n.Kind {
	case SeqScan:
		fmt.Fprintf(sb, " %s", n.tableLabel())
	case IndexScan:
		fmt.Fprintf(sb, " %s using %s(%s)", n.tableLabel(), n.Index, n.Column)
	case VectorSearch:
		fmt.Fprintf(sb, " %s.%s k=%d ef=%d", n.tableLabel(), n.Column, n.K, n.EF)
	default:
		keys := make([]string, len(n.On))
		for i, j := range n.On {
			keys[i] = j.Left.String() + " = " + j.Right.String()
		}
		if len(keys) > 0 {
			fmt.Fprintf(sb, " on %s", strings.Join(keys, " AND "))
		}
		if n.IndexProbe {
			sb.WriteString(" (index probe)")
		}
	}
	for _, p := range n.Filter {
		fmt.Fprintf(sb, " filter %s", p)
	}
	for _, p := range n.Residual {
		fmt.Fprintf(sb, " residual %s", p)
	}
	fmt.Fprintf(sb, " (rows=%.0f cost=%.2f)\n", n.Rows, n.Total)

	if n.Kind.IsJoin() {
		n.Left.explain(sb, depth+1)
		n.Right.explain(sb, depth+1)
	}
}

func (n *Node) tableLabel() string {
	label := n.Table.Name
	if n.Table.Alias != n.Table.Name {
		label += " as " + n.Table.Alias
	}
	if len(n.Table.Prefix) > 0 {
		parts := make([]string, len(n.Table.Prefix))
		for i, v := range n.Table.Prefix {
			parts[i] = v.String()
		}
		label += " prefix [" + strings.Join(parts, ", ") + "]"
	}
	return label
}

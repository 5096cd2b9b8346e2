// Package optimizer turns a query description into the cheapest physical
// plan it can find under a cost model and a statistics snapshot.
//
// Scans pick between a sequential scan and an index scan. Join order and
// join algorithm are chosen by dynamic programming over table subsets for up
// to DPThreshold tables; larger queries are ordered greedily and the result
// is marked degraded.
//
// Planning is deterministic: subsets are visited in ascending bitmask order,
// splits in ascending sub-mask order, and algorithms in the order nested
// loop, index nested loop, hash, merge. A candidate replaces the current best
// only when strictly cheaper, so among equal-cost plans the first enumerated
// one wins.
package optimizer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/bits"

	"github.com/arxis/aviladb/cost"
	"github.com/arxis/aviladb/plan"
	"github.com/arxis/aviladb/query"
	"github.com/arxis/aviladb/stats"
)

// ErrDegraded is reported in Result.Warnings when join ordering fell back
// to the greedy heuristic.
var ErrDegraded = errors.New("optimizer degraded to heuristic join ordering")

// maxDPTables bounds DPThreshold so the subset table stays addressable.
const maxDPTables = 20

// Options configures an Optimizer.
type Options struct {
	Weights cost.Weights

	// DPThreshold is the largest table count planned by exhaustive
	// enumeration.
	DPThreshold int

	// MemoryBudget bounds the build side of a hash join before it is costed
	// as spilling.
	MemoryBudget int64

	// DefaultEF is the vector search breadth used when a query sets none.
	DefaultEF int

	Logger *slog.Logger
}

// DefaultOptions holds the default optimizer configuration.
var DefaultOptions = Options{
	Weights:      cost.DefaultWeights,
	DPThreshold:  12,
	MemoryBudget: 64 << 20,
	DefaultEF:    64,
	Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
}

// Optimizer plans queries. It holds no mutable state and is safe for
// concurrent use.
type Optimizer struct {
	opts Options
}

// New creates an optimizer.
func New(optFns ...func(o *Options)) *Optimizer {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.DPThreshold < 1 {
		opts.DPThreshold = 1
	}
	opts.DPThreshold = min(opts.DPThreshold, maxDPTables)
	if opts.Logger == nil {
		opts.Logger = DefaultOptions.Logger
	}
	return &Optimizer{opts: opts}
}

// Options returns the optimizer configuration.
func (o *Optimizer) Options() Options { return o.opts }

// Result is the outcome of planning one query.
type Result struct {
	Plan *plan.Node

	// Degraded reports that join ordering used the greedy heuristic.
	Degraded bool

	// Warnings are non-fatal planning notes; a degraded result carries an
	// error matching ErrDegraded.
	Warnings []error

	// SnapshotVersion is the statistics version the plan was costed on.
	SnapshotVersion uint64
}

// Optimize plans q against snap. A nil snap plans with default statistics.
func (o *Optimizer) Optimize(q *query.Query, snap *stats.Snapshot) (*Result, error) {
	if q == nil {
		return nil, fmt.Errorf("%w: nil query", query.ErrInvalidQuery)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if snap == nil {
		snap = stats.NewSnapshot(nil, nil)
	}

	p := newPlanner(q, cost.NewModel(snap, o.opts.Weights, o.opts.MemoryBudget), o.opts)
	res := &Result{SnapshotVersion: snap.Version()}

	n := len(p.leaves)
	switch {
	case n == 1:
		res.Plan = p.leaves[0].node
	case n <= o.opts.DPThreshold:
		res.Plan = p.dynamic()
	default:
		res.Plan = p.greedy()
		res.Degraded = true
		res.Warnings = append(res.Warnings, fmt.Errorf("%w: %d tables exceed the threshold of %d", ErrDegraded, n, o.opts.DPThreshold))
		o.opts.Logger.Warn("join ordering degraded to greedy heuristic",
			"tables", n, "threshold", o.opts.DPThreshold)
	}
	return res, nil
}

// dynamic runs the bottom-up subset enumeration.
func (p *planner) dynamic() *plan.Node {
	n := len(p.leaves)
	full := uint64(1)<<n - 1
	best := make([]*plan.Node, full+1)
	for i, l := range p.leaves {
		best[uint64(1)<<i] = l.node
	}

	for s := uint64(1); s <= full; s++ {
		if bits.OnesCount64(s) < 2 {
			continue
		}
		// Non-empty proper sub-masks of s in ascending order.
		for sub := -s & s; sub != s; sub = (sub - s) & s {
			for _, cand := range p.joins(s, sub, best[sub], s^sub, best[s^sub]) {
				if best[s] == nil || cand.Total < best[s].Total {
					best[s] = cand
				}
			}
		}
	}
	return best[full]
}

// greedy builds a left-deep tree starting from the smallest table and
// repeatedly adding the smallest table connected to the current set (or the
// smallest remaining one when none is connected).
func (p *planner) greedy() *plan.Node {
	n := len(p.leaves)
	used := make([]bool, n)

	pick := func(mask uint64) int {
		bestIdx, connected := -1, false
		for i := range n {
			if used[i] {
				continue
			}
			c := mask != 0 && p.connected(mask, uint64(1)<<i)
			switch {
			case bestIdx < 0,
				c && !connected,
				c == connected && p.leaves[i].rows < p.leaves[bestIdx].rows:
				bestIdx, connected = i, c
			}
		}
		return bestIdx
	}

	first := pick(0)
	used[first] = true
	mask := uint64(1) << first
	cur := p.leaves[first].node

	for range n - 1 {
		next := pick(mask)
		used[next] = true
		bit := uint64(1) << next

		var chosen *plan.Node
		for _, cand := range p.joins(mask|bit, mask, cur, bit, p.leaves[next].node) {
			if chosen == nil || cand.Total < chosen.Total {
				chosen = cand
			}
		}
		cur = chosen
		mask |= bit
	}
	return cur
}

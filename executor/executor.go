package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/arxis/aviladb/document"
	"github.com/arxis/aviladb/plan"
	"github.com/arxis/aviladb/query"
	"github.com/arxis/aviladb/resource"
)

var (
	// ErrInvalidPlan is returned for a plan the executor cannot run.
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrFilter is returned when the residual filter does not compile or
	// does not evaluate to a boolean.
	ErrFilter = errors.New("filter expression failed")

	// ErrClosed is returned by Next after Close.
	ErrClosed = errors.New("stream closed")
)

// errStop ends production once the limit is reached.
var errStop = errors.New("stop")

// Options configures an Executor.
type Options struct {
	// Parallelism is the number of partitions scanned concurrently.
	Parallelism int

	// Buffer is the number of documents produced ahead of the reader.
	Buffer int

	// Resources bounds hash join build memory. Nil means unlimited.
	Resources *resource.Controller

	Logger *slog.Logger
}

// DefaultOptions holds the default executor configuration.
var DefaultOptions = Options{
	Parallelism: 4,
	Buffer:      64,
	Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
}

// Executor runs plans against a catalog. It is safe for concurrent use.
type Executor struct {
	catalog Catalog
	opts    Options
}

// New creates an executor.
func New(catalog Catalog, optFns ...func(o *Options)) *Executor {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Parallelism = max(opts.Parallelism, 1)
	opts.Buffer = max(opts.Buffer, 0)
	if opts.Logger == nil {
		opts.Logger = DefaultOptions.Logger
	}
	return &Executor{catalog: catalog, opts: opts}
}

// Request is one execution.
type Request struct {
	Plan  *plan.Node
	Query *query.Query

	// Auth is handed to the catalog unchanged.
	Auth any
}

// Execute starts running req and returns a stream of its results. Table
// resolution and filter compilation errors are returned immediately; errors
// raised while running are returned by Stream.Next.
func (e *Executor) Execute(ctx context.Context, req Request) (*Stream, error) {
	if req.Plan == nil || req.Query == nil {
		return nil, fmt.Errorf("%w: missing plan or query", ErrInvalidPlan)
	}

	r := &run{
		opts:    e.opts,
		q:       req.Query,
		params:  req.Query.Params(),
		sources: make(map[string]Source),
	}

	var leaves []*plan.Node
	req.Plan.Walk(func(n *plan.Node) {
		if !n.Kind.IsJoin() {
			leaves = append(leaves, n)
		}
	})
	for _, n := range leaves {
		alias := n.Table.Alias
		if _, dup := r.sources[alias]; dup {
			return nil, fmt.Errorf("%w: table %q appears twice", ErrInvalidPlan, alias)
		}
		src, err := e.catalog.Source(ctx, n.Table.Name, req.Auth)
		if err != nil {
			return nil, err
		}
		r.sources[alias] = src
	}
	for _, t := range req.Query.Tables() {
		if _, ok := r.sources[t.Alias]; ok {
			r.aliases = append(r.aliases, t.Alias)
		}
	}
	if len(r.aliases) != len(leaves) {
		return nil, fmt.Errorf("%w: plan reads tables outside the query", ErrInvalidPlan)
	}

	filter, err := compileFilter(req.Query.Filter(), r.params)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := e.opts.Logger.With("execution", id)
	logger.Debug("executing plan", "tables", strings.Join(r.aliases, ","), "root", req.Plan.Kind.String())

	limit := req.Query.Limit()
	start := time.Now()
	return newStream(ctx, id, e.opts.Buffer, func(ctx context.Context, out func(document.Document) error) error {
		produced := 0
		err := r.exec(ctx, req.Plan, func(rw row) error {
			d := r.document(rw)
			ok, err := filter.match(d)
			if err != nil || !ok {
				return err
			}
			if err := out(d); err != nil {
				return err
			}
			produced++
			if limit > 0 && produced >= limit {
				return errStop
			}
			return nil
		})
		if errors.Is(err, errStop) {
			err = nil
		}
		logger.Debug("plan finished", "documents", produced, "elapsed", time.Since(start), "error", err)
		return err
	}), nil
}

// row holds one document per table alias.
type row map[string]document.Document

type run struct {
	opts    Options
	q       *query.Query
	params  query.Params
	sources map[string]Source
	aliases []string // query order
}

// document shapes a result row. A single table yields its document; a join
// yields a document whose fields are keyed by alias and whose id joins the
// member ids with "|" in query order.
func (r *run) document(rw row) document.Document {
	if len(r.aliases) == 1 {
		return rw[r.aliases[0]]
	}
	ids := make([]string, 0, len(r.aliases))
	fields := make(map[string]document.Value, len(r.aliases))
	for _, a := range r.aliases {
		d := rw[a]
		ids = append(ids, d.ID)
		fields[a] = document.Map(d.Fields)
	}
	return document.Document{ID: strings.Join(ids, "|"), Fields: fields}
}

func (r *run) exec(ctx context.Context, n *plan.Node, emit func(row) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch n.Kind {
	case plan.SeqScan, plan.IndexScan:
		return r.scan(ctx, n, emit)
	case plan.VectorSearch:
		return r.vector(ctx, n, emit)
	case plan.NestedLoopJoin:
		return r.nestedLoop(ctx, n, emit)
	case plan.HashJoin:
		return r.hash(ctx, n, emit)
	case plan.MergeJoin:
		return r.merge(ctx, n, emit)
	}
	return fmt.Errorf("%w: unknown node kind %v", ErrInvalidPlan, n.Kind)
}

// lookup resolves a column against a row. The pseudo-field "_id" is the
// document id.
func lookup(rw row) func(query.Column) (document.Value, bool) {
	return func(c query.Column) (document.Value, bool) {
		d, ok := rw[c.Table]
		if !ok {
			return document.Value{}, false
		}
		if v, ok := d.Lookup(c.Field); ok {
			return v, true
		}
		if c.Field == "_id" {
			return document.String(d.ID), true
		}
		return document.Value{}, false
	}
}

func (r *run) accept(rw row, preds []query.Predicate) bool {
	if len(preds) == 0 {
		return true
	}
	get := lookup(rw)
	for _, p := range preds {
		if !p.Eval(get, r.params) {
			return false
		}
	}
	return true
}

// scan reads a table. Index scans are answered by the same partition scan;
// the index only changes the estimate.
func (r *run) scan(ctx context.Context, n *plan.Node, emit func(row) error) error {
	alias := n.Table.Alias
	src := r.sources[alias]
	parts, err := src.Partitions(ctx, n.Table.Prefix)
	if err != nil {
		return err
	}

	visit := func(d document.Document) (row, bool) {
		rw := row{alias: d}
		return rw, r.accept(rw, n.Filter)
	}

	if len(parts) <= 1 || r.opts.Parallelism == 1 {
		for _, p := range parts {
			err := src.ScanPartition(ctx, p, func(d document.Document) error {
				if rw, ok := visit(d); ok {
					return emit(rw)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}

	results := make([][]row, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallelism)
	for i, p := range parts {
		g.Go(func() error {
			return src.ScanPartition(gctx, p, func(d document.Document) error {
				if rw, ok := visit(d); ok {
					results[i] = append(results[i], rw)
				}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, rows := range results {
		for _, rw := range rows {
			if err := emit(rw); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) vector(ctx context.Context, n *plan.Node, emit func(row) error) error {
	q, err := r.q.VectorParam()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	hits, err := r.sources[n.Table.Alias].Search(ctx, n.Column, q, n.K, n.EF, n.Table.Prefix)
	if err != nil {
		return err
	}
	for _, h := range hits {
		rw := row{n.Table.Alias: h.Document}
		if !r.accept(rw, n.Filter) {
			continue
		}
		if err := emit(rw); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) materialize(ctx context.Context, n *plan.Node) ([]row, error) {
	var rows []row
	err := r.exec(ctx, n, func(rw row) error {
		rows = append(rows, rw)
		return nil
	})
	return rows, err
}

// both materializes the two inputs of a join concurrently.
func (r *run) both(ctx context.Context, n *plan.Node) (left, right []row, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		left, err = r.materialize(gctx, n.Left)
		return err
	})
	g.Go(func() (err error) {
		right, err = r.materialize(gctx, n.Right)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

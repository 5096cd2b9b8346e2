package aviladb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/arxis/aviladb/document"
	"github.com/arxis/aviladb/executor"
	"github.com/arxis/aviladb/optimizer"
	"github.com/arxis/aviladb/plan"
	"github.com/arxis/aviladb/query"
)

// Plan optimizes q against the current statistics snapshot.
func (db *DB) Plan(ctx context.Context, q *query.Query) (*optimizer.Result, error) {
	start := time.Now()
	res, err := db.plan(q)
	err = translateError(err)

	tables, total, degraded := 0, 0.0, false
	if q != nil {
		tables = len(q.Tables())
	}
	if res != nil {
		total, degraded = res.Plan.Total, res.Degraded
	}
	db.logger.LogPlan(ctx, tables, total, degraded, time.Since(start), err)
	return res, err
}

func (db *DB) plan(q *query.Query) (*optimizer.Result, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if q == nil {
		return nil, fmt.Errorf("%w: nil query", query.ErrInvalidQuery)
	}
	for _, t := range q.Tables() {
		if _, err := db.Collection(t.Name); err != nil {
			return nil, err
		}
	}
	return db.optimizer.Optimize(q, db.stats.Snapshot())
}

// Explain renders the plan chosen for q.
func (db *DB) Explain(ctx context.Context, q *query.Query) (string, error) {
	res, err := db.Plan(ctx, q)
	if err != nil {
		return "", err
	}
	return res.Plan.Explain(), nil
}

// Query plans and starts q. auth is handed to the Authorizer, if any, for
// every collection the query reads. The returned Rows must be closed.
func (db *DB) Query(ctx context.Context, q *query.Query, auth any) (*Rows, error) {
	start := time.Now()
	res, err := db.Plan(ctx, q)
	if err != nil {
		db.opts.metricsCollector.RecordQuery(0, false, time.Since(start), err)
		return nil, err
	}

	stream, err := db.executor.Execute(ctx, executor.Request{Plan: res.Plan, Query: q, Auth: auth})
	err = translateError(err)
	db.opts.metricsCollector.RecordQuery(len(q.Tables()), res.Degraded, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	warnings := make([]error, len(res.Warnings))
	for i, w := range res.Warnings {
		warnings[i] = translateError(w)
	}
	return &Rows{
		stream:   stream,
		Plan:     res.Plan,
		Degraded: res.Degraded,
		Warnings: warnings,
	}, nil
}

// Rows is the result stream of a query.
type Rows struct {
	stream *executor.Stream

	// Plan is the plan being executed.
	Plan *plan.Node

	// Degraded reports that join ordering used the greedy heuristic;
	// Warnings then holds an error matching ErrOptimizerDegraded.
	Degraded bool
	Warnings []error
}

// ID returns the execution id, as logged by the executor.
func (r *Rows) ID() string { return r.stream.ID() }

// Next returns the next document, or io.EOF once the query is exhausted.
func (r *Rows) Next(ctx context.Context) (document.Document, error) {
	d, err := r.stream.Next(ctx)
	if errors.Is(err, io.EOF) {
		return d, io.EOF
	}
	return d, translateError(err)
}

// All reads the remaining documents and closes the rows.
func (r *Rows) All(ctx context.Context) ([]document.Document, error) {
	docs, err := executor.Collect(ctx, r.stream)
	return docs, translateError(err)
}

// Close stops the query. It is safe to call more than once.
func (r *Rows) Close() error {
	return r.stream.Close()
}

package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arxis/aviladb/distance"
	"github.com/arxis/aviladb/document"
	"github.com/arxis/aviladb/optimizer"
	"github.com/arxis/aviladb/plan"
	"github.com/arxis/aviladb/query"
	"github.com/arxis/aviladb/resource"
)

type memSource struct {
	parts   map[string][]document.Document
	scanErr error
}

func (s *memSource) Partitions(_ context.Context, prefix []document.Value) ([]string, error) {
	var out []string
	for p := range s.parts {
		if len(prefix) > 0 {
			if want, _ := prefix[0].AsString(); p != want {
				continue
			}
		}
		out = append(out, p)
	}
	slices.Sort(out)
	return out, nil
}

func (s *memSource) ScanPartition(ctx context.Context, partition string, fn func(document.Document) error) error {
	if s.scanErr != nil {
		return s.scanErr
	}
	for _, d := range s.parts[partition] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func (s *memSource) Search(ctx context.Context, field string, q []float32, k, _ int, prefix []document.Value) ([]Hit, error) {
	parts, _ := s.Partitions(ctx, prefix)
	var hits []Hit
	for _, p := range parts {
		for _, d := range s.parts[p] {
			v, ok, err := d.Vector(field)
			if err != nil || !ok {
				continue
			}
			hits = append(hits, Hit{Document: d, Distance: distance.SquaredL2(q, v)})
		}
	}
	slices.SortFunc(hits, func(a, b Hit) int {
		if a.Distance != b.Distance {
			if a.Distance < b.Distance {
				return -1
			}
			return 1
		}
		if a.Document.ID < b.Document.ID {
			return -1
		}
		return 1
	})
	return hits[:min(k, len(hits))], nil
}

type memCatalog struct {
	mu      sync.Mutex
	sources map[string]Source
	auth    []any
}

func (c *memCatalog) Source(_ context.Context, table string, auth any) (Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auth = append(c.auth, auth)
	src, ok := c.sources[table]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	return src, nil
}

func fixture() *memCatalog {
	return &memCatalog{sources: map[string]Source{
		"users": &memSource{parts: map[string][]document.Document{
			"eu": {
				document.MustNew("u1", map[string]any{"name": "ada", "tier": "gold"}),
				document.MustNew("u2", map[string]any{"name": "bob", "tier": "silver"}),
			},
			"us": {
				document.MustNew("u3", map[string]any{"name": "cy", "tier": "gold"}),
			},
		}},
		"orders": &memSource{parts: map[string][]document.Document{
			"all": {
				document.MustNew("o1", map[string]any{"user": "u1", "total": 30}),
				document.MustNew("o2", map[string]any{"user": "u1", "total": 5}),
				document.MustNew("o3", map[string]any{"user": "u3", "total": 12}),
				document.MustNew("o4", map[string]any{"user": "u9", "total": 7}),
				document.MustNew("o5", map[string]any{"total": 1}),
			},
		}},
		"docs": &memSource{parts: map[string][]document.Document{
			"a": {
				document.MustNew("d1", map[string]any{"emb": []float32{1, 0}, "lang": "en"}),
				document.MustNew("d2", map[string]any{"emb": []float32{0, 1}, "lang": "de"}),
			},
			"b": {
				document.MustNew("d3", map[string]any{"emb": []float32{0.9, 0.1}, "lang": "de"}),
				document.MustNew("d4", map[string]any{"emb": []float32{-1, 0}, "lang": "en"}),
			},
		}},
	}}
}

func scanNode(table, alias string, filter ...query.Predicate) *plan.Node {
	return &plan.Node{
		Kind: plan.SeqScan, Table: query.Table{Name: table, Alias: alias},
		Filter: filter, Rows: 10, RowSize: 100,
	}
}

func joinNode(kind plan.Kind, left, right *plan.Node, on ...query.Join) *plan.Node {
	return &plan.Node{Kind: kind, Left: left, Right: right, On: on}
}

var userOrders = query.Join{Left: query.Col("u", "_id"), Right: query.Col("o", "user")}

func usersOrdersQuery(t *testing.T, opts ...query.Option) *query.Query {
	t.Helper()
	q, err := query.New(append([]query.Option{
		query.From("users", "u"),
		query.From("orders", "o"),
		query.JoinOn(userOrders.Left, userOrders.Right),
	}, opts...)...)
	require.NoError(t, err)
	return q
}

func collect(t *testing.T, e *Executor, req Request) []document.Document {
	t.Helper()
	s, err := e.Execute(context.Background(), req)
	require.NoError(t, err)
	docs, err := Collect(context.Background(), s)
	require.NoError(t, err)
	return docs
}

func ids(docs []document.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestScanKeepsPartitionOrder(t *testing.T) {
	q, err := query.New(query.From("users", "u"))
	require.NoError(t, err)

	for _, parallelism := range []int{1, 4} {
		t.Run(fmt.Sprintf("Parallelism%d", parallelism), func(t *testing.T) {
			e := New(fixture(), func(o *Options) { o.Parallelism = parallelism })
			docs := collect(t, e, Request{Plan: scanNode("users", "u"), Query: q})
			assert.Equal(t, []string{"u1", "u2", "u3"}, ids(docs))
			assert.Equal(t, "ada", docs[0].Fields["name"].ToAny())
		})
	}
}

func TestScanPrefixAndFilter(t *testing.T) {
	q, err := query.New(query.From("users", "u"), query.Param("t", "gold"))
	require.NoError(t, err)

	node := scanNode("users", "u", query.Eq(query.Col("u", "tier"), "t"))
	assert.Equal(t, []string{"u1", "u3"}, ids(collect(t, New(fixture()), Request{Plan: node, Query: q})))

	node.Table.Prefix = []document.Value{document.String("eu")}
	assert.Equal(t, []string{"u1"}, ids(collect(t, New(fixture()), Request{Plan: node, Query: q})))
}

func TestIndexScanRunsAsFilteredScan(t *testing.T) {
	q, err := query.New(query.From("users", "u"), query.Param("t", "silver"))
	require.NoError(t, err)
	node := scanNode("users", "u", query.Eq(query.Col("u", "tier"), "t"))
	node.Kind = plan.IndexScan
	node.Index = "users_tier"

	assert.Equal(t, []string{"u2"}, ids(collect(t, New(fixture()), Request{Plan: node, Query: q})))
}

func TestJoinAlgorithmsAgree(t *testing.T) {
	q := usersOrdersQuery(t)
	want := []string{"u1|o1", "u1|o2", "u3|o3"}

	for _, kind := range []plan.Kind{plan.NestedLoopJoin, plan.HashJoin, plan.MergeJoin} {
		t.Run(kind.String(), func(t *testing.T) {
			node := joinNode(kind, scanNode("users", "u"), scanNode("orders", "o"), userOrders)
			docs := collect(t, New(fixture()), Request{Plan: node, Query: q})
			assert.ElementsMatch(t, want, ids(docs))

			for _, d := range docs {
				u, ok := d.Fields["u"].AsMap()
				require.True(t, ok)
				o, ok := d.Fields["o"].AsMap()
				require.True(t, ok)
				assert.Contains(t, []any{"ada", "cy"}, u["name"].ToAny())
				assert.NotNil(t, o["total"].ToAny())
			}
		})
	}
}

func TestJoinAlgorithmsAgreeOnMapKeys(t *testing.T) {
	cat := &memCatalog{sources: map[string]Source{
		"items": &memSource{parts: map[string][]document.Document{"p": {
			document.MustNew("i1", map[string]any{"spec": map[string]any{"color": "red"}}),
			document.MustNew("i2", map[string]any{"spec": map[string]any{"size": 9}}),
			document.MustNew("i3", map[string]any{"spec": map[string]any{"n": 1}}),
		}}},
		"offers": &memSource{parts: map[string][]document.Document{"p": {
			document.MustNew("f1", map[string]any{"spec": map[string]any{"color": "red"}}),
			document.MustNew("f2", map[string]any{"spec": map[string]any{"color": "blue"}}),
			document.MustNew("f3", map[string]any{"spec": map[string]any{"n": 1.0}}),
			document.MustNew("f4", map[string]any{"spec": map[string]any{"size": 9}}),
		}}},
	}}
	on := query.Join{Left: query.Col("i", "spec"), Right: query.Col("f", "spec")}
	q, err := query.New(query.From("items", "i"), query.From("offers", "f"), query.JoinOn(on.Left, on.Right))
	require.NoError(t, err)

	for _, kind := range []plan.Kind{plan.NestedLoopJoin, plan.HashJoin, plan.MergeJoin} {
		t.Run(kind.String(), func(t *testing.T) {
			node := joinNode(kind, scanNode("items", "i"), scanNode("offers", "f"), on)
			docs := collect(t, New(cat), Request{Plan: node, Query: q})
			assert.ElementsMatch(t, []string{"i1|f1", "i2|f4", "i3|f3"}, ids(docs))
		})
	}
}

func TestMergeJoinOrdersByKey(t *testing.T) {
	q := usersOrdersQuery(t)
	node := joinNode(plan.MergeJoin, scanNode("users", "u"), scanNode("orders", "o"), userOrders)
	assert.Equal(t, []string{"u1|o1", "u1|o2", "u3|o3"}, ids(collect(t, New(fixture()), Request{Plan: node, Query: q})))
}

func TestHashJoinMemory(t *testing.T) {
	q := usersOrdersQuery(t)

	t.Run("WithinBudget", func(t *testing.T) {
		rc := resource.NewController(resource.Config{MemoryLimitBytes: 1 << 20})
		e := New(fixture(), func(o *Options) { o.Resources = rc })
		node := joinNode(plan.HashJoin, scanNode("users", "u"), scanNode("orders", "o"), userOrders)
		assert.ElementsMatch(t, []string{"u1|o1", "u1|o2", "u3|o3"}, ids(collect(t, e, Request{Plan: node, Query: q})))
		assert.Zero(t, rc.MemoryUsage())
	})

	t.Run("OverBudgetMerges", func(t *testing.T) {
		rc := resource.NewController(resource.Config{MemoryLimitBytes: 1})
		e := New(fixture(), func(o *Options) { o.Resources = rc })
		node := joinNode(plan.HashJoin, scanNode("users", "u"), scanNode("orders", "o"), userOrders)
		assert.Equal(t, []string{"u1|o1", "u1|o2", "u3|o3"}, ids(collect(t, e, Request{Plan: node, Query: q})))
		assert.Zero(t, rc.MemoryUsage())
	})
}

func TestCrossProduct(t *testing.T) {
	q, err := query.New(query.From("users", "u"), query.From("docs", "d"))
	require.NoError(t, err)
	node := joinNode(plan.NestedLoopJoin, scanNode("users", "u"), scanNode("docs", "d"))
	assert.Len(t, collect(t, New(fixture()), Request{Plan: node, Query: q}), 12)
}

func TestJoinResidual(t *testing.T) {
	q := usersOrdersQuery(t, query.Param("min", 10))
	for _, kind := range []plan.Kind{plan.NestedLoopJoin, plan.HashJoin, plan.MergeJoin} {
		t.Run(kind.String(), func(t *testing.T) {
			node := joinNode(kind, scanNode("users", "u"), scanNode("orders", "o"), userOrders)
			node.Residual = []query.Predicate{query.Gt(query.Col("o", "total"), "min")}
			assert.ElementsMatch(t, []string{"u1|o1", "u3|o3"}, ids(collect(t, New(fixture()), Request{Plan: node, Query: q})))
		})
	}
}

func TestThreeWayJoin(t *testing.T) {
	q, err := query.New(
		query.From("users", "u"), query.From("orders", "o"), query.From("users", "v"),
		query.JoinOn(userOrders.Left, userOrders.Right),
		query.JoinOn(query.Col("u", "tier"), query.Col("v", "tier")),
	)
	require.NoError(t, err)

	inner := joinNode(plan.HashJoin, scanNode("users", "u"), scanNode("orders", "o"), userOrders)
	node := joinNode(plan.MergeJoin, inner, scanNode("users", "v"),
		query.Join{Left: query.Col("u", "tier"), Right: query.Col("v", "tier")})

	got := ids(collect(t, New(fixture()), Request{Plan: node, Query: q}))
	assert.ElementsMatch(t, []string{
		"u1|o1|u1", "u1|o1|u3", "u1|o2|u1", "u1|o2|u3", "u3|o3|u1", "u3|o3|u3",
	}, got)
}

func TestCELFilter(t *testing.T) {
	q := usersOrdersQuery(t, query.Param("min", 10), query.Filter(`doc.o.total > params.min && id.startsWith("u1")`))
	node := joinNode(plan.HashJoin, scanNode("users", "u"), scanNode("orders", "o"), userOrders)
	assert.Equal(t, []string{"u1|o1"}, ids(collect(t, New(fixture()), Request{Plan: node, Query: q})))
}

func TestCELFilterErrors(t *testing.T) {
	t.Run("Compile", func(t *testing.T) {
		q, err := query.New(query.From("users", "u"), query.Filter("doc."))
		require.NoError(t, err)
		_, err = New(fixture()).Execute(context.Background(), Request{Plan: scanNode("users", "u"), Query: q})
		assert.ErrorIs(t, err, ErrFilter)
	})

	t.Run("NotBoolean", func(t *testing.T) {
		q, err := query.New(query.From("users", "u"), query.Filter("id"))
		require.NoError(t, err)
		s, err := New(fixture()).Execute(context.Background(), Request{Plan: scanNode("users", "u"), Query: q})
		require.NoError(t, err)
		_, err = Collect(context.Background(), s)
		assert.ErrorIs(t, err, ErrFilter)
	})
}

func TestLimit(t *testing.T) {
	q, err := query.New(query.From("orders", "o"), query.Limit(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"o1", "o2"}, ids(collect(t, New(fixture()), Request{Plan: scanNode("orders", "o"), Query: q})))
}

func TestVectorSearch(t *testing.T) {
	q, err := query.New(
		query.From("docs", "d"),
		query.NearestNeighbors("d", "emb", "q", 3),
		query.Param("q", []float32{1, 0}),
		query.Param("lang", "en"),
	)
	require.NoError(t, err)
	node := &plan.Node{Kind: plan.VectorSearch, Table: query.Table{Name: "docs", Alias: "d"}, Column: "emb", K: 3, EF: 64}

	assert.Equal(t, []string{"d1", "d3", "d2"}, ids(collect(t, New(fixture()), Request{Plan: node, Query: q})))

	node.Filter = []query.Predicate{query.Eq(query.Col("d", "lang"), "lang")}
	assert.Equal(t, []string{"d1"}, ids(collect(t, New(fixture()), Request{Plan: node, Query: q})))

	node.Filter = nil
	node.Table.Prefix = []document.Value{document.String("b")}
	assert.Equal(t, []string{"d3", "d4"}, ids(collect(t, New(fixture()), Request{Plan: node, Query: q})))
}

func TestOptimizedPlanRuns(t *testing.T) {
	q := usersOrdersQuery(t, query.Param("min", 10), query.Where(query.Gt(query.Col("o", "total"), "min")))
	res, err := optimizer.New().Optimize(q, nil)
	require.NoError(t, err)

	got := ids(collect(t, New(fixture()), Request{Plan: res.Plan, Query: q}))
	assert.ElementsMatch(t, []string{"u1|o1", "u3|o3"}, got)
}

func TestAuthPassedThrough(t *testing.T) {
	type token struct{ secret string }
	auth := &token{secret: "s3cr3t"}
	cat := fixture()
	q := usersOrdersQuery(t)
	node := joinNode(plan.HashJoin, scanNode("users", "u"), scanNode("orders", "o"), userOrders)

	collect(t, New(cat), Request{Plan: node, Query: q, Auth: auth})
	require.Len(t, cat.auth, 2)
	for _, a := range cat.auth {
		assert.Same(t, auth, a)
	}
}

func TestErrorsPropagate(t *testing.T) {
	boom := errors.New("boom")
	cat := fixture()
	cat.sources["orders"].(*memSource).scanErr = boom
	q := usersOrdersQuery(t)

	for _, kind := range []plan.Kind{plan.NestedLoopJoin, plan.HashJoin, plan.MergeJoin} {
		t.Run(kind.String(), func(t *testing.T) {
			node := joinNode(kind, scanNode("users", "u"), scanNode("orders", "o"), userOrders)
			s, err := New(cat).Execute(context.Background(), Request{Plan: node, Query: q})
			require.NoError(t, err)
			_, err = Collect(context.Background(), s)
			assert.ErrorIs(t, err, boom)
		})
	}
}

func TestUnknownTable(t *testing.T) {
	q, err := query.New(query.From("missing", "m"))
	require.NoError(t, err)
	_, err = New(fixture()).Execute(context.Background(), Request{Plan: scanNode("missing", "m"), Query: q})
	assert.Error(t, err)
}

func TestInvalidPlan(t *testing.T) {
	_, err := New(fixture()).Execute(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrInvalidPlan)

	q := usersOrdersQuery(t)
	node := joinNode(plan.HashJoin, scanNode("users", "u"), scanNode("users", "u"), userOrders)
	_, err = New(fixture()).Execute(context.Background(), Request{Plan: node, Query: q})
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestCloseStopsProduction(t *testing.T) {
	docs := make([]document.Document, 1000)
	for i := range docs {
		docs[i] = document.MustNew(fmt.Sprintf("n%04d", i), map[string]any{"i": i})
	}
	cat := &memCatalog{sources: map[string]Source{"big": &memSource{parts: map[string][]document.Document{"p": docs}}}}
	q, err := query.New(query.From("big", ""))
	require.NoError(t, err)

	s, err := New(cat, func(o *Options) { o.Buffer = 0 }).Execute(context.Background(), Request{Plan: scanNode("big", "big"), Query: q})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())

	d, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "n0000", d.ID)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNextAfterEOF(t *testing.T) {
	q, err := query.New(query.From("users", "u"), query.Limit(1))
	require.NoError(t, err)
	s, err := New(fixture()).Execute(context.Background(), Request{Plan: scanNode("users", "u"), Query: q})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Next(context.Background())
	require.NoError(t, err)
	_, err = s.Next(context.Background())
	assert.Equal(t, io.EOF, err)
	_, err = s.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

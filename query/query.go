// Package query describes queries as immutable values: the tables read, a
// predicate tree, equi-joins, an optional vector clause, an optional residual
// filter expression and typed named parameters.
//
// Queries are built with New and options; they cannot change afterwards.
//
//	q, err := query.New(
//		query.From("orders", "o"),
//		query.From("users", "u"),
//		query.JoinOn(query.Col("o", "user"), query.Col("u", "id")),
//		query.Where(query.Ge(query.Col("o", "total"), "min")),
//		query.Param("min", 100),
//	)
package query

import (
	"errors"
	"fmt"
	"slices"

	"github.com/arxis/aviladb/document"
)

// MaxTables is the largest number of tables a query may join.
const MaxTables = 64

// ErrInvalidQuery is returned for malformed queries.
var ErrInvalidQuery = errors.New("invalid query")

// Table is one table read by a query. Prefix restricts the scan to a
// partition sub-tree: its values are the leading partition key components.
type Table struct {
	Name   string
	Alias  string
	Prefix []document.Value
}

// Join is an equi-join between two columns of different tables.
type Join struct {
	Left  Column
	Right Column
}

// Vector is a k-nearest-neighbor clause over a vector field.
type Vector struct {
	Table string // alias
	Field string
	Param string // parameter holding the query vector
	K     int
	EF    int
}

// Query is an immutable query description.
type Query struct {
	tables []Table
	where  *Predicate
	joins  []Join
	vector *Vector
	filter string
	params Params
	limit  int
}

// Option configures a query under construction.
type Option func(q *Query) error

// From adds a table. An empty alias defaults to the table name.
func From(name, alias string) Option {
	return func(q *Query) error {
		if alias == "" {
			alias = name
		}
		q.tables = append(q.tables, Table{Name: name, Alias: alias})
		return nil
	}
}

// WithPrefix restricts the table bound to alias to a partition sub-tree.
func WithPrefix(alias string, values ...any) Option {
	return func(q *Query) error {
		for i := range q.tables {
			if q.tables[i].Alias != alias {
				continue
			}
			prefix := make([]document.Value, len(values))
			for j, v := range values {
				dv, err := document.FromAny(v)
				if err != nil {
					return fmt.Errorf("%w: prefix of %s: %w", ErrInvalidQuery, alias, err)
				}
				prefix[j] = dv
			}
			q.tables[i].Prefix = prefix
			return nil
		}
		return fmt.Errorf("%w: prefix for unknown table %q", ErrInvalidQuery, alias)
	}
}

// Where adds a predicate; several Where options are conjoined.
func Where(p Predicate) Option {
	return func(q *Query) error {
		if q.where == nil {
			q.where = &p
		} else {
			w := And(*q.where, p)
			q.where = &w
		}
		return nil
	}
}

// JoinOn adds the equi-join left = right.
func JoinOn(left, right Column) Option {
	return func(q *Query) error {
		q.joins = append(q.joins, Join{Left: left, Right: right})
		return nil
	}
}

// NearestNeighbors adds a vector clause: the k documents of alias whose
// field is closest to the vector bound to param.
func NearestNeighbors(alias, field, param string, k int) Option {
	return func(q *Query) error {
		q.vector = &Vector{Table: alias, Field: field, Param: param, K: k}
		return nil
	}
}

// WithEF sets the search breadth of the vector clause.
func WithEF(ef int) Option {
	return func(q *Query) error {
		if q.vector == nil {
			return fmt.Errorf("%w: ef without a vector clause", ErrInvalidQuery)
		}
		q.vector.EF = ef
		return nil
	}
}

// Filter sets a residual boolean expression evaluated on every output
// document. The expression sees the document as doc and the parameters as
// params.
func Filter(expr string) Option {
	return func(q *Query) error {
		q.filter = expr
		return nil
	}
}

// Param binds a named parameter. v is converted with document.FromAny.
func Param(name string, v any) Option {
	return func(q *Query) error {
		dv, err := document.FromAny(v)
		if err != nil {
			return fmt.Errorf("%w: parameter %q: %w", ErrInvalidQuery, name, err)
		}
		if q.params.m == nil {
			q.params.m = make(map[string]document.Value)
		}
		q.params.m[name] = dv
		return nil
	}
}

// Limit caps the number of returned documents.
func Limit(n int) Option {
	return func(q *Query) error {
		q.limit = n
		return nil
	}
}

// New builds and validates a query.
func New(opts ...Option) (*Query, error) {
	q := &Query{}
	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, err
		}
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

// Tables returns the tables in declaration order.
func (q *Query) Tables() []Table { return slices.Clone(q.tables) }

// Table returns the table bound to alias.
func (q *Query) Table(alias string) (Table, bool) {
	for _, t := range q.tables {
		if t.Alias == alias {
			return t, true
		}
	}
	return Table{}, false
}

// Where returns the predicate, if any.
func (q *Query) Where() (Predicate, bool) {
	if q.where == nil {
		return Predicate{}, false
	}
	return *q.where, true
}

// Joins returns the equi-joins.
func (q *Query) Joins() []Join { return slices.Clone(q.joins) }

// Vector returns the vector clause, if any.
func (q *Query) Vector() (Vector, bool) {
	if q.vector == nil {
		return Vector{}, false
	}
	return *q.vector, true
}

// Filter returns the residual filter expression.
func (q *Query) Filter() string { return q.filter }

// Params returns the bound parameters.
func (q *Query) Params() Params { return q.params }

// Limit returns the result limit; zero means unlimited.
func (q *Query) Limit() int { return q.limit }

// Validate checks that every reference in the query resolves.
func (q *Query) Validate() error {
	if len(q.tables) == 0 {
		return fmt.Errorf("%w: no tables", ErrInvalidQuery)
	}
	if len(q.tables) > MaxTables {
		return fmt.Errorf("%w: %d tables exceed the limit of %d", ErrInvalidQuery, len(q.tables), MaxTables)
	}

	aliases := make(map[string]bool, len(q.tables))
	for _, t := range q.tables {
		if t.Name == "" {
			return fmt.Errorf("%w: empty table name", ErrInvalidQuery)
		}
		if aliases[t.Alias] {
			return fmt.Errorf("%w: duplicate alias %q", ErrInvalidQuery, t.Alias)
		}
		aliases[t.Alias] = true
	}

	checkColumn := func(c Column) error {
		if !aliases[c.Table] {
			return fmt.Errorf("%w: unknown table %q in %s", ErrInvalidQuery, c.Table, c)
		}
		if c.Field == "" {
			return fmt.Errorf("%w: empty field in %s", ErrInvalidQuery, c)
		}
		return nil
	}

	if q.where != nil {
		if err := q.validatePredicate(*q.where, checkColumn); err != nil {
			return err
		}
	}

	for _, j := range q.joins {
		if err := checkColumn(j.Left); err != nil {
			return err
		}
		if err := checkColumn(j.Right); err != nil {
			return err
		}
		if j.Left.Table == j.Right.Table {
			return fmt.Errorf("%w: join %s = %s within one table", ErrInvalidQuery, j.Left, j.Right)
		}
	}

	if v := q.vector; v != nil {
		if err := checkColumn(Column{Table: v.Table, Field: v.Field}); err != nil {
			return err
		}
		if v.K <= 0 {
			return fmt.Errorf("%w: vector k must be positive, got %d", ErrInvalidQuery, v.K)
		}
		if v.EF < 0 {
			return fmt.Errorf("%w: vector ef must not be negative", ErrInvalidQuery)
		}
		pv, ok := q.params.Get(v.Param)
		if !ok {
			return fmt.Errorf("%w: unbound parameter %q", ErrInvalidQuery, v.Param)
		}
		if _, err := vectorOf(pv); err != nil {
			return fmt.Errorf("%w: parameter %q: %w", ErrInvalidQuery, v.Param, err)
		}
	}

	if q.limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	return nil
}

func (q *Query) validatePredicate(p Predicate, checkColumn func(Column) error) error {
	switch p.kind {
	case KindAnd, KindOr, KindNot:
		if len(p.children) == 0 {
			return fmt.Errorf("%w: empty %v predicate", ErrInvalidQuery, p.kind)
		}
		for _, c := range p.children {
			if err := q.validatePredicate(c, checkColumn); err != nil {
				return err
			}
		}
		return nil
	}

	if err := checkColumn(p.column); err != nil {
		return err
	}
	switch p.op {
	case OpIsNull:
		return nil
	case OpIn:
		if len(p.params) == 0 {
			return fmt.Errorf("%w: empty IN list on %s", ErrInvalidQuery, p.column)
		}
	default:
		if len(p.params) != 1 {
			return fmt.Errorf("%w: %s needs one parameter", ErrInvalidQuery, p.op)
		}
	}
	for _, name := range p.params {
		if _, ok := q.params.Get(name); !ok {
			return fmt.Errorf("%w: unbound parameter %q", ErrInvalidQuery, name)
		}
	}
	return nil
}

// VectorParam returns the query vector of the vector clause.
func (q *Query) VectorParam() ([]float32, error) {
	if q.vector == nil {
		return nil, fmt.Errorf("%w: no vector clause", ErrInvalidQuery)
	}
	pv, _ := q.params.Get(q.vector.Param)
	return vectorOf(pv)
}

func vectorOf(v document.Value) ([]float32, error) {
	d := document.Document{ID: "q", Fields: map[string]document.Value{"v": v}}
	vec, ok, err := d.Vector("v")
	if err != nil {
		return nil, err
	}
	if !ok || len(vec) == 0 {
		return nil, errors.New("not a vector")
	}
	return vec, nil
}

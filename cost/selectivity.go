package cost

import "math"

// Selectivity defaults used when a column has no statistics.
const (
	DefaultEqSelectivity    = 0.1
	DefaultRangeSelectivity = 1.0 / 3
)

// Clamp bounds s to [lo, 1]. NaN becomes lo.
func Clamp(s, lo float64) float64 {
	switch {
	case math.IsNaN(s) || s < lo:
		return lo
	case s > 1:
		return 1
	default:
		return s
	}
}

// Equality estimates col = value as 1/n_distinct, clamped to [epsilon, 1].
func (m *Model) Equality(table, column string) float64 {
	if cs, ok := m.snap.Column(table, column); ok && cs.NDistinct > 0 {
		return Clamp(1/float64(cs.NDistinct), m.w.Epsilon)
	}
	return DefaultEqSelectivity
}

// NotEqual estimates col != value.
func (m *Model) NotEqual(table, column string) float64 {
	return Clamp(1-m.Equality(table, column), 0)
}

// In estimates col IN (n values).
func (m *Model) In(table, column string, n int) float64 {
	if n <= 0 {
		return 0
	}
	return Clamp(float64(n)*m.Equality(table, column), m.w.Epsilon)
}

// Range estimates low <= col <= high from the column histogram. Pass ±Inf
// for an open side.
func (m *Model) Range(table, column string, low, high float64) float64 {
	cs, ok := m.snap.Column(table, column)
	if !ok || cs.Histogram == nil || cs.Histogram.Total == 0 {
		return DefaultRangeSelectivity
	}
	return Clamp(cs.Histogram.RangeFraction(low, high), 0)
}

// IsNull estimates col IS NULL.
func (m *Model) IsNull(table, column string) float64 {
	if cs, ok := m.snap.Column(table, column); ok {
		return Clamp(cs.NullFraction, 0)
	}
	return DefaultEqSelectivity
}

// Join estimates a.x = b.y as 1/max(n_distinct(a.x), n_distinct(b.y)).
func (m *Model) Join(leftTable, leftColumn, rightTable, rightColumn string) float64 {
	nd := int64(0)
	if cs, ok := m.snap.Column(leftTable, leftColumn); ok {
		nd = max(nd, cs.NDistinct)
	}
	if cs, ok := m.snap.Column(rightTable, rightColumn); ok {
		nd = max(nd, cs.NDistinct)
	}
	if nd == 0 {
		return DefaultEqSelectivity
	}
	return Clamp(1/float64(nd), m.w.Epsilon)
}

// And combines independent conjuncts.
func And(s ...float64) float64 {
	out := 1.0
	for _, v := range s {
		out *= Clamp(v, 0)
	}
	return out
}

// Or combines two independent disjuncts.
func Or(a, b float64) float64 {
	a, b = Clamp(a, 0), Clamp(b, 0)
	return Clamp(a+b-a*b, 0)
}

// Not negates a selectivity.
func Not(s float64) float64 {
	return Clamp(1-Clamp(s, 0), 0)
}

package query

import (
	"maps"
	"slices"

	"github.com/arxis/aviladb/document"
)

// Params are typed, named query parameters.
type Params struct {
	m map[string]document.Value
}

// Get returns the value bound to name.
func (p Params) Get(name string) (document.Value, bool) {
	v, ok := p.m[name]
	return v, ok
}

// Len returns the number of bound parameters.
func (p Params) Len() int { return len(p.m) }

// Names returns the parameter names in ascending order.
func (p Params) Names() []string {
	return slices.Sorted(maps.Keys(p.m))
}

// ToMap converts the parameters into plain Go values.
func (p Params) ToMap() map[string]any {
	out := make(map[string]any, len(p.m))
	for k, v := range p.m {
		out[k] = v.ToAny()
	}
	return out
}

// Float returns a numeric parameter as a float64.
func (p Params) Float(name string) (float64, bool) {
	v, ok := p.m[name]
	if !ok {
		return 0, false
	}
	return v.Numeric()
}

// Package cost estimates the cost of plan operators and the selectivity of
// predicates from a statistics snapshot.
//
// A Cost has four components that are combined into one scalar by Weights.
// All functions are pure: equal inputs always give equal estimates.
package cost

import (
	"fmt"
	"math"
)

// Cost is an estimated resource usage. IO is counted in pages, CPU in
// tuples processed, Memory in bytes.
type Cost struct {
	CPU     float64 `json:"cpu"`
	IO      float64 `json:"io"`
	Network float64 `json:"network"`
	Memory  float64 `json:"memory"`
}

// Add returns c + o.
func (c Cost) Add(o Cost) Cost {
	return Cost{CPU: c.CPU + o.CPU, IO: c.IO + o.IO, Network: c.Network + o.Network, Memory: c.Memory + o.Memory}
}

// Scale returns c * f.
func (c Cost) Scale(f float64) Cost {
	return Cost{CPU: c.CPU * f, IO: c.IO * f, Network: c.Network * f, Memory: c.Memory * f}
}

func (c Cost) String() string {
	return fmt.Sprintf("cpu=%.2f io=%.2f net=%.2f mem=%.0f", c.CPU, c.IO, c.Network, c.Memory)
}

// Weights turn a Cost into a scalar.
type Weights struct {
	CPU     float64 `yaml:"cpu"`
	IO      float64 `yaml:"io"`
	Network float64 `yaml:"network"`
	Memory  float64 `yaml:"memory"`

	// RandomIOFactor scales row fetches that follow an index hit.
	RandomIOFactor float64 `yaml:"random_io_factor"`

	// Epsilon is the lower clamp of equality selectivity.
	Epsilon float64 `yaml:"epsilon"`
}

// DefaultWeights holds the default weights.
var DefaultWeights = Weights{
	CPU:            0.01,
	IO:             1.0,
	Network:        0.5,
	Memory:         0.001,
	RandomIOFactor: 0.8,
	Epsilon:        1e-6,
}

// Validate reports weights that would produce meaningless totals.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"cpu": w.CPU, "io": w.IO, "network": w.Network, "memory": w.Memory,
		"random_io_factor": w.RandomIOFactor, "epsilon": w.Epsilon,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("cost: weight %s must be a finite non-negative number, got %v", name, v)
		}
	}
	if w.Epsilon > 1 {
		return fmt.Errorf("cost: epsilon must be at most 1, got %v", w.Epsilon)
	}
	return nil
}

// Total combines c into one scalar.
func (w Weights) Total(c Cost) float64 {
	return c.CPU*w.CPU + c.IO*w.IO + c.Network*w.Network + c.Memory*w.Memory
}

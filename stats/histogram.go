package stats

import (
	"math"
	"slices"
)

// DefaultBuckets is the bucket count of histograms built by Analyze.
const DefaultBuckets = 32

// Bucket covers the closed value range [Lower, Upper].
type Bucket struct {
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
	Count    int64   `json:"count"`
	Distinct int64   `json:"distinct"`
}

// Histogram is an equi-depth histogram: every bucket holds roughly the same
// number of values, and a run of equal values never straddles two buckets.
type Histogram struct {
	Buckets []Bucket `json:"buckets"`
	Total   int64    `json:"total"`
}

// BuildHistogram builds a histogram with at most n buckets. values is
// sorted in place. NaN values are ignored.
func BuildHistogram(values []float64, n int) *Histogram {
	values = slices.DeleteFunc(values, math.IsNaN)
	if len(values) == 0 || n <= 0 {
		return &Histogram{}
	}
	slices.Sort(values)

	target := (len(values) + n - 1) / n
	h := &Histogram{Total: int64(len(values)), Buckets: make([]Bucket, 0, n)}

	cur := Bucket{Lower: values[0], Upper: values[0], Count: 1, Distinct: 1}
	for _, v := range values[1:] {
		if v != cur.Upper && cur.Count >= int64(target) {
			h.Buckets = append(h.Buckets, cur)
			cur = Bucket{Lower: v, Upper: v, Count: 1, Distinct: 1}
			continue
		}
		if v != cur.Upper {
			cur.Distinct++
			cur.Upper = v
		}
		cur.Count++
	}
	h.Buckets = append(h.Buckets, cur)
	return h
}

// Frequency returns the fraction of values held by bucket i.
func (h *Histogram) Frequency(i int) float64 {
	if h.Total == 0 {
		return 0
	}
	return float64(h.Buckets[i].Count) / float64(h.Total)
}

// Min returns the smallest value seen.
func (h *Histogram) Min() float64 {
	if len(h.Buckets) == 0 {
		return math.NaN()
	}
	return h.Buckets[0].Lower
}

// Max returns the largest value seen.
func (h *Histogram) Max() float64 {
	if len(h.Buckets) == 0 {
		return math.NaN()
	}
	return h.Buckets[len(h.Buckets)-1].Upper
}

// RangeFraction estimates the fraction of values in [low, high]. Use ±Inf
// for an open side. Partial bucket overlap is interpolated linearly; a
// single point is estimated as EqualFraction.
func (h *Histogram) RangeFraction(low, high float64) float64 {
	if h == nil || h.Total == 0 || low > high || math.IsNaN(low) || math.IsNaN(high) {
		return 0
	}
	if low == high {
		return h.EqualFraction(low)
	}

	var rows float64
	for _, b := range h.Buckets {
		if b.Upper < low || b.Lower > high {
			continue
		}
		if b.Upper == b.Lower {
			rows += float64(b.Count)
			continue
		}
		lo := max(low, b.Lower)
		hi := min(high, b.Upper)
		rows += float64(b.Count) * (hi - lo) / (b.Upper - b.Lower)
	}
	return clamp01(rows / float64(h.Total))
}

// EqualFraction estimates the fraction of values equal to v, assuming values
// are spread evenly over the distinct values of its bucket.
func (h *Histogram) EqualFraction(v float64) float64 {
	if h == nil || h.Total == 0 {
		return 0
	}
	for _, b := range h.Buckets {
		if v < b.Lower {
			return 0
		}
		if v <= b.Upper {
			return clamp01(float64(b.Count) / float64(max(b.Distinct, 1)) / float64(h.Total))
		}
	}
	return 0
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

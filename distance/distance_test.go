package distance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDot(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Simple", []float32{1, 2, 3}, []float32{4, 5, 6}, 32},
		{"Zero", []float32{0, 0, 0}, []float32{0, 0, 0}, 0},
		{"Mixed", []float32{1, -1, 2}, []float32{1, 1, -2}, -4},
		{"Empty", []float32{}, []float32{}, 0},
		{"Unrolled", []float32{1, 1, 1, 1, 1, 1, 1}, []float32{1, 2, 3, 4, 5, 6, 7}, 28},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Dot(tt.a, tt.b), 1e-5)
		})
	}
}

func TestSquaredL2(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Simple", []float32{1, 2, 3}, []float32{4, 5, 6}, 27},
		{"Identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"Mixed", []float32{1, -1}, []float32{-1, 1}, 8},
		{"Unrolled", []float32{0, 0, 0, 0, 0}, []float32{1, 1, 1, 1, 2}, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, SquaredL2(tt.a, tt.b), 1e-5)
		})
	}
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, CosineDistance([]float32{1, 0}, []float32{2, 0}), 1e-6)
	assert.InDelta(t, 1, CosineDistance([]float32{1, 0}, []float32{0, 3}), 1e-6)
	assert.InDelta(t, 2, CosineDistance([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Equal(t, float32(1), CosineDistance([]float32{0, 0}, []float32{1, 0}))
}

func TestProviderOrdersBySimilarity(t *testing.T) {
	q := []float32{1, 0}
	near := []float32{0.9, 0.1}
	far := []float32{-1, 0.2}

	for _, m := range []Metric{Cosine, Euclidean, DotProduct} {
		fn, err := Provider(m)
		require.NoError(t, err)
		assert.Less(t, fn(q, near), fn(q, far), m.String())
	}

	_, err := Provider(Metric(42))
	assert.Error(t, err)
}

func TestParseMetric(t *testing.T) {
	for _, m := range []Metric{Cosine, Euclidean, DotProduct} {
		got, err := ParseMetric(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	got, err := ParseMetric("L2")
	require.NoError(t, err)
	assert.Equal(t, Euclidean, got)

	_, err = ParseMetric("hamming")
	assert.Error(t, err)

	var m Metric
	require.NoError(t, m.UnmarshalText([]byte("dot")))
	assert.Equal(t, DotProduct, m)
}

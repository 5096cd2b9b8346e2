// Package distance provides the vector distance functions used by the
// vector index.
//
// # Supported Metrics
//
//   - Cosine: 1 - cosine similarity, in [0, 2]
//   - Euclidean: squared L2 distance
//   - Dot: negated inner product, so that smaller is closer
//
// Every metric returns a distance where a smaller value means "more
// similar", which lets the index order candidates uniformly.
//
// # Usage
//
//	fn, _ := distance.Provider(distance.Cosine)
//	d := fn(a, b)
package distance

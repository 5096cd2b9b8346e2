// Package testutil provides helpers for tests: seeded random vectors, exact
// nearest-neighbor ground truth and recall measurement.
//
// # Random Vector Generation
//
//	rng := testutil.NewRNG(seed)
//	vecs := rng.UnitVectors(1000, 64)
//
// # Exact Search (Ground Truth)
//
//	truth := testutil.BruteForce(ids, vecs, query, k, distance.SquaredL2)
//
// # Recall Verification
//
//	recall := testutil.ComputeRecall(truth, approx)
package testutil

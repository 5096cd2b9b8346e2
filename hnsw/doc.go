// Package hnsw implements a Hierarchical Navigable Small World graph for
// approximate nearest-neighbor search over fixed-dimension float vectors.
//
// Nodes live in a flat arena and neighbor lists hold arena indices. Deleted
// and replaced documents are tombstoned in a roaring bitmap: they keep
// routing traffic through the graph but never appear in results.
//
// Insertions are serialized against each other and against searches;
// searches run concurrently.
package hnsw

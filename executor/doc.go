// Package executor runs physical plans produced by the optimizer.
//
// Execution is push-based: every plan node drives its children and hands
// rows to its parent through a callback, and the root of the tree feeds a
// buffered channel read by Stream.Next. Table scans fan out over partitions
// in parallel; join inputs that must be materialized are produced
// concurrently.
//
// The executor never looks at the authentication context of a request. It
// hands it to the Catalog when resolving tables.
package executor

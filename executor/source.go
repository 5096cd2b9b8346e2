package executor

import (
	"context"

	"github.com/arxis/aviladb/document"
)

// Hit is one vector search result.
type Hit struct {
	Document document.Document
	Distance float32
}

// Source is the data behind one table.
type Source interface {
	// Partitions returns the partitions at or below prefix, in ascending
	// order. An empty prefix selects the whole table.
	Partitions(ctx context.Context, prefix []document.Value) ([]string, error)

	// ScanPartition visits every document of one partition.
	ScanPartition(ctx context.Context, partition string, fn func(d document.Document) error) error

	// Search returns the k nearest documents to q by the vector stored in
	// field, closest first, restricted to partitions under prefix.
	Search(ctx context.Context, field string, q []float32, k, ef int, prefix []document.Value) ([]Hit, error)
}

// Catalog resolves table names. auth is the opaque authentication context
// of the request.
type Catalog interface {
	Source(ctx context.Context, table string, auth any) (Source, error)
}

package aviladb

import (
	"errors"
	"fmt"

	"github.com/arxis/aviladb/compress"
	"github.com/arxis/aviladb/document"
	"github.com/arxis/aviladb/executor"
	"github.com/arxis/aviladb/hnsw"
	"github.com/arxis/aviladb/kv"
	"github.com/arxis/aviladb/optimizer"
	"github.com/arxis/aviladb/partition"
	"github.com/arxis/aviladb/query"
	"github.com/arxis/aviladb/storage"
)

var (
	// ErrDocumentTooLarge is matched by every *DocumentTooLargeError.
	ErrDocumentTooLarge = errors.New("document too large")
	// ErrPartitionFull is returned when a write would exceed the partition limit.
	ErrPartitionFull = errors.New("partition full")
	// ErrInvalidPartitionKey is returned for a malformed key strategy or an
	// unroutable key value.
	ErrInvalidPartitionKey = errors.New("invalid partition key")
	// ErrDimensionMismatch is matched by every *DimensionMismatchError.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrIndexNotFound is returned when a search names a field without a
	// vector index.
	ErrIndexNotFound = errors.New("vector index not found")
	// ErrIndexExists is returned when a field is indexed twice.
	ErrIndexExists = errors.New("vector index already exists")
	// ErrCompression is returned for corrupt stored frames.
	ErrCompression = errors.New("compression error")
	// ErrNotFound is returned for a missing document.
	ErrNotFound = errors.New("not found")
	// ErrOptimizerDegraded is carried in Rows.Warnings when join ordering
	// used the greedy heuristic.
	ErrOptimizerDegraded = errors.New("optimizer degraded")

	ErrCollectionExists      = errors.New("collection already exists")
	ErrCollectionNotFound    = errors.New("collection not found")
	ErrInvalidCollectionName = errors.New("invalid collection name")
	ErrSchemaViolation       = errors.New("schema violation")
	ErrInvalidDocument       = errors.New("invalid document")
	ErrInvalidQuery          = errors.New("invalid query")
	ErrPermissionDenied      = errors.New("permission denied")

	// ErrClosed is returned by operations on a closed database or stream.
	ErrClosed = errors.New("closed")
)

// DocumentTooLargeError reports a document whose compressed size exceeds the
// per-document limit.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type DocumentTooLargeError struct {
	ID    string
	Size  int
	Limit int
	cause error
}

func (e *DocumentTooLargeError) Error() string {
	return fmt.Sprintf("document %q too large: %d bytes compressed, limit %d", e.ID, e.Size, e.Limit)
}

func (e *DocumentTooLargeError) Is(target error) bool { return target == ErrDocumentTooLarge }
func (e *DocumentTooLargeError) Unwrap() error        { return e.cause }

// DimensionMismatchError reports a vector whose length differs from the
// dimension of its index.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type DimensionMismatchError struct {
	Field    string
	Expected int
	Actual   int
	cause    error
}

func (e *DimensionMismatchError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
	}
	return fmt.Sprintf("dimension mismatch on %q: expected %d, got %d", e.Field, e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }
func (e *DimensionMismatchError) Unwrap() error        { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Size limits.
	var tl *storage.DocumentTooLargeError
	if errors.As(err, &tl) {
		return &DocumentTooLargeError{ID: tl.ID, Size: tl.Size, Limit: tl.Limit, cause: err}
	}
	if errors.Is(err, storage.ErrPartitionFull) {
		return fmt.Errorf("%w: %w", ErrPartitionFull, err)
	}

	// Not found unification.
	if errors.Is(err, storage.ErrNotFound) || kv.IsNotFound(err) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var dm *hnsw.DimensionMismatchError
	if errors.As(err, &dm) {
		return &DimensionMismatchError{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	if errors.Is(err, partition.ErrInvalidKey) {
		return fmt.Errorf("%w: %w", ErrInvalidPartitionKey, err)
	}
	if errors.Is(err, compress.ErrCorrupt) {
		return fmt.Errorf("%w: %w", ErrCompression, err)
	}
	if errors.Is(err, optimizer.ErrDegraded) {
		return fmt.Errorf("%w: %w", ErrOptimizerDegraded, err)
	}
	if errors.Is(err, document.ErrSchemaViolation) {
		return fmt.Errorf("%w: %w", ErrSchemaViolation, err)
	}
	if errors.Is(err, document.ErrInvalidDocument) || errors.Is(err, document.ErrUnsupportedType) {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if errors.Is(err, query.ErrInvalidQuery) ||
		errors.Is(err, executor.ErrInvalidPlan) ||
		errors.Is(err, executor.ErrFilter) {
		return fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	if errors.Is(err, executor.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	return err
}

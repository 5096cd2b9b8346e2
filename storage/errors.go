package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrDocumentTooLarge is returned when a compressed document exceeds the
	// per-document limit.
	ErrDocumentTooLarge = errors.New("document too large")
	// ErrPartitionFull is returned when a write would push a partition past
	// its size limit.
	ErrPartitionFull = errors.New("partition full")
	// ErrNotFound is returned for a missing document.
	ErrNotFound = errors.New("document not found")
)

// DocumentTooLargeError carries the sizes behind ErrDocumentTooLarge.
type DocumentTooLargeError struct {
	ID    string
	Size  int
	Limit int
}

func (e *DocumentTooLargeError) Error() string {
	return fmt.Sprintf("document %q too large: %d bytes compressed, limit %d", e.ID, e.Size, e.Limit)
}

func (e *DocumentTooLargeError) Is(target error) bool { return target == ErrDocumentTooLarge }

// PartitionFullError carries the sizes behind ErrPartitionFull.
type PartitionFullError struct {
	Partition string
	Used      int64
	Incoming  int64
	Limit     int64
}

func (e *PartitionFullError) Error() string {
	return fmt.Sprintf("partition %q full: %d bytes used, write adds %d, limit %d", e.Partition, e.Used, e.Incoming, e.Limit)
}

func (e *PartitionFullError) Is(target error) bool { return target == ErrPartitionFull }

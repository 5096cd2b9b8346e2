package storage

import (
	"io"
	"log/slog"
	"runtime"

	"github.com/arxis/aviladb/resource"
)

const (
	// DefaultMaxDocumentSize is the compressed size limit of one document.
	DefaultMaxDocumentSize = 4 << 20
	// DefaultMaxPartitionSize is the cumulative compressed size limit of one
	// partition.
	DefaultMaxPartitionSize int64 = 50 << 30
)

// Options configures an Engine.
type Options struct {
	// MaxDocumentSize bounds one compressed document, in bytes.
	MaxDocumentSize int
	// MaxPartitionSize bounds the stored bytes of one partition.
	MaxPartitionSize int64
	// LockStripes is the number of per-document write locks.
	LockStripes int
	// CompressWorkers sizes the pool PutBatch compresses on.
	CompressWorkers int
	// ScanParallelism bounds concurrent substrate reads during scans.
	ScanParallelism int
	// Resources throttles substrate writes. Nil means unlimited.
	Resources *resource.Controller
	Logger    *slog.Logger
}

// DefaultOptions contains the default engine options.
var DefaultOptions = Options{
	MaxDocumentSize:  DefaultMaxDocumentSize,
	MaxPartitionSize: DefaultMaxPartitionSize,
	LockStripes:      256,
	CompressWorkers:  runtime.GOMAXPROCS(0),
	ScanParallelism:  8,
	Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
}

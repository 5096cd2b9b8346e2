package aviladb

import (
	"context"
	"log/slog"

	"github.com/arxis/aviladb/codec"
	"github.com/arxis/aviladb/compress"
	"github.com/arxis/aviladb/config"
	"github.com/arxis/aviladb/distance"
	"github.com/arxis/aviladb/executor"
	"github.com/arxis/aviladb/hnsw"
	"github.com/arxis/aviladb/optimizer"
	"github.com/arxis/aviladb/resource"
	"github.com/arxis/aviladb/storage"
)

// Authorizer decides whether auth may read collection. auth is the value
// passed to DB.Query and is never inspected by the engine itself.
type Authorizer func(ctx context.Context, collection string, auth any) error

type options struct {
	codec            codec.Codec
	class            compress.StorageClass
	metricsCollector MetricsCollector
	logger           *Logger
	resources        *resource.Controller
	authorizer       Authorizer
	storageOptions   []func(*storage.Options)
	optimizerOptions []func(*optimizer.Options)
	executorOptions  []func(*executor.Options)
	indexOptions     []func(*hnsw.Options)
}

// Option configures Open.
type Option func(*options)

// WithCodec configures the codec documents and catalog records are
// serialized with. If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithStorageClass sets the class of collections created without one.
func WithStorageClass(class compress.StorageClass) Option {
	return func(o *options) {
		o.class = class
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &aviladb.BasicMetricsCollector{}
//	db, _ := aviladb.Open(ctx, store, aviladb.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
//	fmt.Printf("Puts: %d, Avg latency: %dns\n", stats.PutCount, stats.PutAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithResources shares one resource controller between storage writes,
// hash join builds and statistics refreshes.
func WithResources(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithAuthorizer installs a check run for every collection a query reads.
func WithAuthorizer(fn Authorizer) Option {
	return func(o *options) {
		o.authorizer = fn
	}
}

// WithStorageOptions tunes the storage engine of every collection.
func WithStorageOptions(optFns ...func(*storage.Options)) Option {
	return func(o *options) {
		o.storageOptions = append(o.storageOptions, optFns...)
	}
}

// WithOptimizerOptions tunes the query optimizer.
func WithOptimizerOptions(optFns ...func(*optimizer.Options)) Option {
	return func(o *options) {
		o.optimizerOptions = append(o.optimizerOptions, optFns...)
	}
}

// WithExecutorOptions tunes the query executor.
func WithExecutorOptions(optFns ...func(*executor.Options)) Option {
	return func(o *options) {
		o.executorOptions = append(o.executorOptions, optFns...)
	}
}

// WithIndexOptions sets defaults for vector indexes created later.
// Options passed to CreateVectorIndex are applied on top.
func WithIndexOptions(optFns ...func(*hnsw.Options)) Option {
	return func(o *options) {
		o.indexOptions = append(o.indexOptions, optFns...)
	}
}

// WithConfig applies a loaded configuration. cfg is expected to have passed
// Validate; unknown names fall back to defaults.
func WithConfig(cfg config.Config) Option {
	return func(o *options) {
		if c, ok := codec.ByName(cfg.Storage.Codec); ok {
			o.codec = c
		}
		if class, err := compress.ParseStorageClass(cfg.Storage.DefaultClass); err == nil {
			o.class = class
		}

		level := slog.LevelInfo
		_ = level.UnmarshalText([]byte(cfg.Logging.Level))
		if cfg.Logging.Format == "json" {
			o.logger = NewJSONLogger(level)
		} else {
			o.logger = NewTextLogger(level)
		}

		o.resources = resource.NewController(cfg.Resources)

		o.storageOptions = append(o.storageOptions, func(so *storage.Options) {
			if cfg.Storage.MaxDocumentSize > 0 {
				so.MaxDocumentSize = cfg.Storage.MaxDocumentSize
			}
			if cfg.Storage.MaxPartitionSize > 0 {
				so.MaxPartitionSize = cfg.Storage.MaxPartitionSize
			}
		})
		o.optimizerOptions = append(o.optimizerOptions, func(oo *optimizer.Options) {
			if cfg.Optimizer.DPThreshold > 0 {
				oo.DPThreshold = cfg.Optimizer.DPThreshold
			}
			if cfg.Optimizer.MemoryBudget > 0 {
				oo.MemoryBudget = cfg.Optimizer.MemoryBudget
			}
			if cfg.Optimizer.DefaultEF > 0 {
				oo.DefaultEF = cfg.Optimizer.DefaultEF
			}
			if cfg.Optimizer.Weights != nil {
				oo.Weights = *cfg.Optimizer.Weights
			}
		})
		o.indexOptions = append(o.indexOptions, func(ho *hnsw.Options) {
			if cfg.Index.M > 0 {
				ho.M = cfg.Index.M
			}
			if cfg.Index.EFConstruction > 0 {
				ho.EF = cfg.Index.EFConstruction
			}
			if m, err := distance.ParseMetric(cfg.Index.Metric); err == nil {
				ho.Metric = m
			}
		})
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		class:            compress.Hot,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

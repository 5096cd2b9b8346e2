// Package kv provides the key-value substrate abstraction used by the storage
// engine.
//
// Store is the interface every backend implements. Implementations must be
// safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process map, for tests and ephemeral collections
//   - LocalStore: one file per key under a root directory, fsynced on write
//   - CachingStore: LRU read cache in front of any Store
//   - Prefixed: namespaces a Store under a key prefix
//
// Remote backends live in sub-packages: kv/minio, kv/s3, kv/dynamodb,
// kv/redis and kv/sqlite. kv/backend builds any of them from configuration.
//
// # Custom Implementations
//
//	type Store interface {
//	    Put(ctx, key, value) error
//	    Get(ctx, key) ([]byte, error)     // ErrNotFound when absent
//	    Delete(ctx, key) error            // idempotent
//	    List(ctx, prefix) ([]string, error)
//	}
package kv

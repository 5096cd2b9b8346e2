// Package hash provides the checksums and stable hashes used across the
// engine.
//
// CRC32-Castagnoli guards compressed document frames; xxHash64 drives
// synthetic partition buckets and lock striping. Both are stable, so values
// derived from them may be persisted.
package hash

package hash

import "github.com/cespare/xxhash/v2"

// String64 hashes s with xxHash64. The result is stable across processes and
// releases, so it may be persisted (for example as a bucket number).
func String64(s string) uint64 {
	return xxhash.Sum64String(s)
}

// Bucket maps s onto [0, n). n must be positive.
func Bucket(s string, n int) int {
	return int(xxhash.Sum64String(s) % uint64(n))
}

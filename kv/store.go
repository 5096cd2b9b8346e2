package kv

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sync/errgroup"
)

// ErrNotFound is returned when a key does not exist.
//
// Implementations return an error that satisfies errors.Is(err, ErrNotFound).
var ErrNotFound = os.ErrNotExist

// Store is the durable key-value substrate the engine persists into.
// Implementations must be safe for concurrent use. Put replaces the whole
// value atomically with respect to Get.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete is idempotent: deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns all keys with the given prefix in ascending order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// IsNotFound reports whether err means the key is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// BatchGetter is implemented by stores that fetch many keys in one call.
type BatchGetter interface {
	// GetMany returns one value per key; missing keys yield nil entries.
	GetMany(ctx context.Context, keys []string, parallelism int) ([][]byte, error)
}

// GetMany fetches keys from s through its own GetMany when it has one and
// with at most parallelism concurrent Gets otherwise. Missing keys yield nil
// entries.
func GetMany(ctx context.Context, s Store, keys []string, parallelism int) ([][]byte, error) {
	if bg, ok := s.(BatchGetter); ok {
		return bg.GetMany(ctx, keys, parallelism)
	}
	return getMany(ctx, s, keys, parallelism)
}

func getMany(ctx context.Context, s Store, keys []string, parallelism int) ([][]byte, error) {
	out := make([][]byte, len(keys))
	g, ctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i, k := range keys {
		g.Go(func() error {
			v, err := s.Get(ctx, k)
			if IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Package kvtest holds a conformance suite every kv.Store implementation
// must pass.
package kvtest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arxis/aviladb/kv"
)

// Run exercises newStore against the Store contract. newStore must return an
// empty store.
func Run(t *testing.T, newStore func(t *testing.T) kv.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("PutGetOverwrite", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "d/p/1", []byte("one")))
		v, err := s.Get(ctx, "d/p/1")
		require.NoError(t, err)
		assert.Equal(t, []byte("one"), v)

		require.NoError(t, s.Put(ctx, "d/p/1", []byte("two")))
		v, err = s.Get(ctx, "d/p/1")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), v)
	})

	t.Run("BinaryValues", func(t *testing.T) {
		s := newStore(t)
		val := []byte{0x00, 0xff, 0xa7, 0x00, 0x10}
		require.NoError(t, s.Put(ctx, "bin", val))
		v, err := s.Get(ctx, "bin")
		require.NoError(t, err)
		assert.Equal(t, val, v)
	})

	t.Run("ValueIsCopied", func(t *testing.T) {
		s := newStore(t)
		val := []byte("abc")
		require.NoError(t, s.Put(ctx, "k", val))
		val[0] = 'X'
		v, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), v)
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "k", []byte("v")))
		require.NoError(t, s.Delete(ctx, "k"))
		require.NoError(t, s.Delete(ctx, "k"))
		_, err := s.Get(ctx, "k")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("ListPrefixSorted", func(t *testing.T) {
		s := newStore(t)
		for _, k := range []string{"d/b/2", "d/a/1", "d/a%2Fx/3", "meta/c", "d/a/0"} {
			require.NoError(t, s.Put(ctx, k, []byte(k)))
		}
		keys, err := s.List(ctx, "d/a/")
		require.NoError(t, err)
		assert.Equal(t, []string{"d/a/0", "d/a/1"}, keys)

		all, err := s.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 5)
		assert.IsIncreasing(t, all)
	})

	t.Run("ConcurrentWriters", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		for w := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range 10 {
					k := fmt.Sprintf("w%d/%d", w, i)
					assert.NoError(t, s.Put(ctx, k, []byte(k)))
				}
			}()
		}
		wg.Wait()

		keys, err := s.List(ctx, "w")
		require.NoError(t, err)
		assert.Len(t, keys, 80)
	})
}

package kv

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arxis/aviladb/internal/fs"
)

// Escaped keys never contain a bare '%' followed by a non-hex letter.
const tmpSuffix = "%tmp"

// LocalStore implements Store with one file per key under a root directory.
// Keys are path-escaped into flat file names. Writes go to a temporary file
// that is fsynced and renamed into place, then the directory is fsynced.
type LocalStore struct {
	root string
	fs   fs.FileSystem
}

// LocalOptions configures a LocalStore.
type LocalOptions struct {
	// FileSystem defaults to fs.Default.
	FileSystem fs.FileSystem
}

// NewLocalStore creates a LocalStore rooted at the given directory, creating
// it if needed.
func NewLocalStore(root string, optFns ...func(o *LocalOptions)) (*LocalStore, error) {
	opts := LocalOptions{FileSystem: fs.Default}
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := opts.FileSystem.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &LocalStore{root: root, fs: opts.FileSystem}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, url.PathEscape(key))
}

// Put writes value atomically.
func (s *LocalStore) Put(_ context.Context, key string, value []byte) error {
	final := s.path(key)
	tmp := final + tmpSuffix

	f, err := s.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(value); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	if err := s.fs.Rename(tmp, final); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	return syncDir(s.root)
}

// Get reads the value for key.
func (s *LocalStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := s.fs.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Delete removes key.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	err := s.fs.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the keys with the given prefix in ascending order.
func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	entries, err := s.fs.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, tmpSuffix) {
			continue
		}
		key, err := url.PathUnescape(name)
		if err != nil {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

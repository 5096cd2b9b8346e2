package kv

import (
	"context"
	"strings"
)

// Prefixed namespaces every key of an underlying Store.
type Prefixed struct {
	inner  Store
	prefix string
}

// WithPrefix returns a Store whose keys live under prefix in inner.
func WithPrefix(inner Store, prefix string) *Prefixed {
	return &Prefixed{inner: inner, prefix: prefix}
}

func (p *Prefixed) Put(ctx context.Context, key string, value []byte) error {
	return p.inner.Put(ctx, p.prefix+key, value)
}

func (p *Prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.inner.Get(ctx, p.prefix+key)
}

func (p *Prefixed) Delete(ctx context.Context, key string) error {
	return p.inner.Delete(ctx, p.prefix+key)
}

func (p *Prefixed) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := p.inner.List(ctx, p.prefix+prefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, p.prefix)
	}
	return keys, nil
}

// Package codec serializes documents and catalog records before they reach the
// compression layer.
//
// Collection metadata records the codec name so a collection written with one
// codec is always decoded with the same one.
package codec

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknown is returned by Lookup for a name no codec is registered under.
var ErrUnknown = errors.New("unknown codec")

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

var builtin = map[string]Codec{
	"json":    JSON{},
	"go-json": GoJSON{},
}

// ByName returns a built-in codec by its stable name. The empty name selects
// Default, which is what collections created before codec names were stored
// carry.
func ByName(name string) (Codec, bool) {
	if name == "" {
		return Default, true
	}
	c, ok := builtin[name]
	return c, ok
}

// Lookup is ByName with an error naming the known codecs.
func Lookup(name string) (Codec, error) {
	c, ok := ByName(name)
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %v)", ErrUnknown, name, Names())
	}
	return c, nil
}

// Names lists the built-in codec names in sorted order.
func Names() []string {
	names := make([]string, 0, len(builtin))
	for n := range builtin {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MustMarshal marshals v or panics. Intended for tests and fixtures.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}

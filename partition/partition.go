// Package partition maps documents to partition identifiers.
//
// A collection chooses exactly one Key when it is created. Partition IDs are
// strings. Hierarchical IDs join path-escaped components with '/', so every
// partition under a key prefix shares that prefix as a string and prefix
// queries reduce to ordered range scans.
package partition

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/arxis/aviladb/document"
	"github.com/arxis/aviladb/internal/hash"
)

const (
	// MaxDepth is the deepest hierarchical key.
	MaxDepth = 5
	// Undefined is the component used when a document lacks a key field.
	// Escaped strings never contain a bare '%' followed by a lowercase
	// letter, so it cannot collide with user values.
	Undefined = "%undefined"

	empty     = "%empty"
	separator = "/"

	// Non-string components carry a kind tag so that 1, true and "1" land
	// in different partitions. Integers and integral floats share a tag.
	tagNumber = "%n"
	tagBool   = "%b"
	tagBytes  = "%x"
)

// ErrInvalidKey reports a malformed key strategy or an unroutable key value.
var ErrInvalidKey = errors.New("invalid partition key")

// Kind identifies the key strategy.
type Kind uint8

const (
	KindSingle Kind = iota + 1
	KindHierarchical
	KindSynthetic
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindHierarchical:
		return "hierarchical"
	case KindSynthetic:
		return "synthetic"
	default:
		return "unknown"
	}
}

// Key is a partition key strategy. Build one with Single, Hierarchical or
// Synthetic; the zero Key is invalid.
type Key struct {
	Kind    Kind     `json:"kind" yaml:"kind"`
	Fields  []string `json:"fields,omitempty" yaml:"fields,omitempty"`
	Buckets int      `json:"buckets,omitempty" yaml:"buckets,omitempty"`
}

// Single partitions by one field value.
func Single(field string) Key {
	return Key{Kind: KindSingle, Fields: []string{field}}
}

// Hierarchical partitions by up to MaxDepth ordered field values.
func Hierarchical(fields ...string) Key {
	return Key{Kind: KindHierarchical, Fields: append([]string(nil), fields...)}
}

// Synthetic spreads documents over buckets by hashing the document id.
func Synthetic(buckets int) Key {
	return Key{Kind: KindSynthetic, Buckets: buckets}
}

// Validate checks the strategy. It runs once, at collection creation.
func (k Key) Validate() error {
	switch k.Kind {
	case KindSingle:
		if len(k.Fields) != 1 {
			return fmt.Errorf("%w: single key needs exactly one field, got %d", ErrInvalidKey, len(k.Fields))
		}
	case KindHierarchical:
		if len(k.Fields) == 0 || len(k.Fields) > MaxDepth {
			return fmt.Errorf("%w: hierarchical depth %d outside [1, %d]", ErrInvalidKey, len(k.Fields), MaxDepth)
		}
	case KindSynthetic:
		if k.Buckets <= 0 {
			return fmt.Errorf("%w: synthetic bucket count %d must be positive", ErrInvalidKey, k.Buckets)
		}
		if len(k.Fields) != 0 {
			return fmt.Errorf("%w: synthetic key takes no fields", ErrInvalidKey)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown strategy %d", ErrInvalidKey, k.Kind)
	}

	seen := make(map[string]struct{}, len(k.Fields))
	for _, f := range k.Fields {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("%w: empty field name", ErrInvalidKey)
		}
		if _, dup := seen[f]; dup {
			return fmt.Errorf("%w: field %q listed twice", ErrInvalidKey, f)
		}
		seen[f] = struct{}{}
	}
	return nil
}

// ValidateRequired checks that every key field is present in required. It
// is used when a collection carries a schema.
func (k Key) ValidateRequired(required []string) error {
	set := make(map[string]struct{}, len(required))
	for _, r := range required {
		set[r] = struct{}{}
	}
	for _, f := range k.Fields {
		top, _, _ := strings.Cut(f, ".")
		if _, ok := set[top]; !ok {
			return fmt.Errorf("%w: key field %q is not required by the schema", ErrInvalidKey, f)
		}
	}
	return nil
}

// Depth is the number of key components.
func (k Key) Depth() int {
	if k.Kind == KindSynthetic {
		return 1
	}
	return len(k.Fields)
}

func (k Key) String() string {
	if k.Kind == KindSynthetic {
		return fmt.Sprintf("synthetic(%d)", k.Buckets)
	}
	return fmt.Sprintf("%s(%s)", k.Kind, strings.Join(k.Fields, ", "))
}

// Route computes the partition of d. It is deterministic.
func (k Key) Route(d document.Document) (string, error) {
	if k.Kind == KindSynthetic {
		if k.Buckets <= 0 {
			return "", fmt.Errorf("%w: synthetic bucket count %d must be positive", ErrInvalidKey, k.Buckets)
		}
		return bucketID(hash.Bucket(d.ID, k.Buckets)), nil
	}
	parts := make([]string, len(k.Fields))
	for i, f := range k.Fields {
		v, ok := d.Lookup(f)
		if !ok || v.IsNull() {
			parts[i] = Undefined
			continue
		}
		c, err := Component(v)
		if err != nil {
			return "", fmt.Errorf("field %q: %w", f, err)
		}
		parts[i] = c
	}
	return strings.Join(parts, separator), nil
}

// Prefix builds the partition id prefix for the leading key values. A full
// set of values addresses exactly one partition.
func (k Key) Prefix(values ...document.Value) (string, error) {
	if k.Kind == KindSynthetic {
		return "", fmt.Errorf("%w: synthetic keys have no value prefix", ErrInvalidKey)
	}
	if len(values) == 0 || len(values) > len(k.Fields) {
		return "", fmt.Errorf("%w: %d prefix values for depth %d", ErrInvalidKey, len(values), len(k.Fields))
	}
	parts := make([]string, len(values))
	for i, v := range values {
		c, err := Component(v)
		if err != nil {
			return "", err
		}
		parts[i] = c
	}
	return strings.Join(parts, separator), nil
}

// Component normalizes one key value into an escaped id component. Strings
// are path-escaped as is; other kinds are tagged.
func Component(v document.Value) (string, error) {
	switch v.Kind() {
	case document.KindString:
		s, _ := v.AsString()
		if s == "" {
			return empty, nil
		}
		return url.PathEscape(s), nil
	case document.KindInt:
		i, _ := v.AsInt()
		return tagNumber + strconv.FormatInt(i, 10), nil
	case document.KindFloat:
		f, _ := v.AsFloat()
		if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
			return tagNumber + strconv.FormatInt(int64(f), 10), nil
		}
		return tagNumber + url.PathEscape(strconv.FormatFloat(f, 'g', -1, 64)), nil
	case document.KindBool:
		b, _ := v.AsBool()
		return tagBool + strconv.FormatBool(b), nil
	case document.KindBytes:
		b, _ := v.AsBytes()
		return tagBytes + hex.EncodeToString(b), nil
	default:
		return "", fmt.Errorf("%w: %s values cannot be partition keys", ErrInvalidKey, v.Kind())
	}
}

// Within reports whether partition id lies under prefix.
func Within(id, prefix string) bool {
	if prefix == "" || id == prefix {
		return true
	}
	return strings.HasPrefix(id, prefix+separator)
}

func bucketID(b int) string {
	return fmt.Sprintf("b%05d", b)
}

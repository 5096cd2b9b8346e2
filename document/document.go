// Package document defines the record model stored by the engine: an id plus
// a map of typed fields.
package document

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/arxis/aviladb/codec"
)

const (
	// MaxIDLength is the longest accepted document id, in bytes.
	MaxIDLength = 1024
	// MaxDepth bounds map/array nesting.
	MaxDepth = 32
)

// ErrInvalidDocument is returned by Validate.
var ErrInvalidDocument = errors.New("invalid document")

// Document is a single stored record. Documents are treated as immutable once
// written; an update writes a new version under the same ID.
type Document struct {
	ID     string           `json:"id"`
	Fields map[string]Value `json:"fields"`
}

// New builds a document from plain Go values.
func New(id string, fields map[string]any) (Document, error) {
	d := Document{ID: id, Fields: make(map[string]Value, len(fields))}
	for k, x := range fields {
		v, err := FromAny(x)
		if err != nil {
			return Document{}, fmt.Errorf("field %q: %w", k, err)
		}
		d.Fields[k] = v
	}
	return d, nil
}

// MustNew is New that panics on error. Intended for tests and fixtures.
func MustNew(id string, fields map[string]any) Document {
	d, err := New(id, fields)
	if err != nil {
		panic(err)
	}
	return d
}

// Validate checks the id and field tree.
func (d Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidDocument)
	}
	if len(d.ID) > MaxIDLength {
		return fmt.Errorf("%w: id longer than %d bytes", ErrInvalidDocument, MaxIDLength)
	}
	if strings.ContainsAny(d.ID, "/\x00") {
		return fmt.Errorf("%w: id %q contains a reserved character", ErrInvalidDocument, d.ID)
	}
	for k, v := range d.Fields {
		if err := validateValue(k, v, 1); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(path string, v Value, depth int) error {
	if path == "" || strings.HasSuffix(path, ".") {
		return fmt.Errorf("%w: empty field name", ErrInvalidDocument)
	}
	if depth > MaxDepth {
		return fmt.Errorf("%w: %s nested deeper than %d", ErrInvalidDocument, path, MaxDepth)
	}
	switch v.kind {
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return fmt.Errorf("%w: %s is not a finite number", ErrInvalidDocument, path)
		}
	case KindMap:
		for k, e := range v.m {
			if err := validateValue(path+"."+k, e, depth+1); err != nil {
				return err
			}
		}
	case KindArray:
		for i, e := range v.a {
			if err := validateValue(fmt.Sprintf("%s[%d]", path, i), e, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get returns a top-level field.
func (d Document) Get(name string) (Value, bool) {
	v, ok := d.Fields[name]
	return v, ok
}

// Lookup resolves a dotted path ("address.city") through nested maps.
func (d Document) Lookup(path string) (Value, bool) {
	if v, ok := d.Fields[path]; ok {
		return v, true
	}
	head, rest, found := strings.Cut(path, ".")
	v, ok := d.Fields[head]
	for ok && found {
		m, isMap := v.AsMap()
		if !isMap {
			return Value{}, false
		}
		head, rest, found = strings.Cut(rest, ".")
		v, ok = m[head]
	}
	return v, ok
}

// Vector extracts a float vector stored as an array of numbers.
func (d Document) Vector(path string) ([]float32, bool, error) {
	v, ok := d.Lookup(path)
	if !ok || v.IsNull() {
		return nil, false, nil
	}
	arr, isArr := v.AsArray()
	if !isArr {
		return nil, true, fmt.Errorf("%w: %s is %s, not a vector", ErrInvalidDocument, path, v.Kind())
	}
	vec := make([]float32, len(arr))
	for i, e := range arr {
		f, isNum := e.Numeric()
		if !isNum {
			return nil, true, fmt.Errorf("%w: %s[%d] is %s, not a number", ErrInvalidDocument, path, i, e.Kind())
		}
		vec[i] = float32(f)
	}
	return vec, true, nil
}

// ToMap converts the fields into plain Go values.
func (d Document) ToMap() map[string]any {
	m := make(map[string]any, len(d.Fields))
	for k, v := range d.Fields {
		m[k] = v.ToAny()
	}
	return m
}

// Equal reports whether both documents have the same id and fields.
func (d Document) Equal(o Document) bool {
	return d.ID == o.ID && Map(d.Fields).Equal(Map(o.Fields))
}

// Encode serializes the document with c (codec.Default when nil).
func Encode(c codec.Codec, d Document) ([]byte, error) {
	if c == nil {
		c = codec.Default
	}
	if d.Fields == nil {
		d.Fields = map[string]Value{}
	}
	return c.Marshal(d)
}

// Decode parses bytes produced by Encode.
func Decode(c codec.Codec, data []byte) (Document, error) {
	if c == nil {
		c = codec.Default
	}
	var d Document
	if err := c.Unmarshal(data, &d); err != nil {
		return Document{}, err
	}
	if d.Fields == nil {
		d.Fields = map[string]Value{}
	}
	return d, nil
}

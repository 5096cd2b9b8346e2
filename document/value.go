package document

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	gojson "github.com/goccy/go-json"
)

// Kind identifies the type carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindBytes
	KindMap
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindMap:
		return "map"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ErrUnsupportedType is returned by FromAny for Go values that have no
// document representation.
var ErrUnsupportedType = errors.New("unsupported value type")

// Value is a typed document leaf or container. The zero Value is null.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	x    []byte
	m    map[string]Value
	a    []Value
}

func Null() Value             { return Value{} }
func String(s string) Value   { return Value{kind: KindString, s: s} }
func Int(i int64) Value       { return Value{kind: KindInt, i: i} }
func Float(f float64) Value   { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value       { return Value{kind: KindBool, b: b} }
func Bytes(b []byte) Value    { return Value{kind: KindBytes, x: bytes.Clone(b)} }
func Array(vs ...Value) Value { return Value{kind: KindArray, a: vs} }
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

// Floats builds an array value from a float vector.
func Floats(vec []float32) Value {
	vs := make([]Value, len(vec))
	for i, f := range vec {
		vs[i] = Float(float64(f))
	}
	return Array(vs...)
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsString() (string, bool)        { return v.s, v.kind == KindString }
func (v Value) AsInt() (int64, bool)            { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool)        { return v.f, v.kind == KindFloat }
func (v Value) AsBool() (bool, bool)            { return v.b, v.kind == KindBool }
func (v Value) AsBytes() ([]byte, bool)         { return v.x, v.kind == KindBytes }
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }
func (v Value) AsArray() ([]Value, bool)        { return v.a, v.kind == KindArray }

// Numeric returns the value as float64 for int and float kinds.
func (v Value) Numeric() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Equal reports deep equality. Int and float values are never equal to each
// other, even when numerically identical.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindBool:
		return v.b == o.b
	case KindBytes:
		return bytes.Equal(v.x, o.x)
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, mv := range v.m {
			ov, ok := o.m[k]
			if !ok || !mv.Equal(ov) {
				return false
			}
		}
		return true
	case KindArray:
		if len(v.a) != len(o.a) {
			return false
		}
		for i := range v.a {
			if !v.a[i].Equal(o.a[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// rank groups kinds for ordering; ints and floats share a rank.
func (k Kind) rank() int {
	switch k {
	case KindNull:
		return 0
	case KindBool:
		return 1
	case KindInt, KindFloat:
		return 2
	case KindString:
		return 3
	case KindBytes:
		return 4
	case KindArray:
		return 5
	default:
		return 6
	}
}

// Compare orders values: null < bool < number < string < bytes < array < map.
// Numbers compare numerically across int and float.
func Compare(a, b Value) int {
	ra, rb := a.kind.rank(), b.kind.rank()
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch a.kind {
	case KindNull:
		return 0
	case KindBool:
		switch {
		case a.b == b.b:
			return 0
		case !a.b:
			return -1
		default:
			return 1
		}
	case KindInt, KindFloat:
		if a.kind == KindInt && b.kind == KindInt {
			switch {
			case a.i < b.i:
				return -1
			case a.i > b.i:
				return 1
			}
			return 0
		}
		fa, _ := a.Numeric()
		fb, _ := b.Numeric()
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case KindString:
		return strings.Compare(a.s, b.s)
	case KindBytes:
		return bytes.Compare(a.x, b.x)
	case KindArray:
		for i := 0; i < len(a.a) && i < len(b.a); i++ {
			if c := Compare(a.a[i], b.a[i]); c != 0 {
				return c
			}
		}
		return cmpInt(len(a.a), len(b.a))
	default:
		return compareMaps(a.m, b.m)
	}
}

// compareMaps orders maps by their sorted key lists, pairing each key with
// its value, then by size.
func compareMaps(a, b map[string]Value) int {
	ka, kb := sortedKeys(a), sortedKeys(b)
	for i := 0; i < len(ka) && i < len(kb); i++ {
		if c := strings.Compare(ka[i], kb[i]); c != 0 {
			return c
		}
		if c := Compare(a[ka[i]], b[kb[i]]); c != 0 {
			return c
		}
	}
	return cmpInt(len(ka), len(kb))
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// FromAny converts a Go value into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return Value{}, fmt.Errorf("%w: uint %d overflows int64", ErrUnsupportedType, t)
		}
		return Int(int64(t)), nil
	case uint64:
		if t > math.MaxInt64 {
			return Value{}, fmt.Errorf("%w: uint64 %d overflows int64", ErrUnsupportedType, t)
		}
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case []byte:
		return Bytes(t), nil
	case []float32:
		return Floats(t), nil
	case []float64:
		vs := make([]Value, len(t))
		for i, f := range t {
			vs[i] = Float(f)
		}
		return Array(vs...), nil
	case []string:
		vs := make([]Value, len(t))
		for i, s := range t {
			vs[i] = String(s)
		}
		return Array(vs...), nil
	case []any:
		vs := make([]Value, len(t))
		for i, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			vs[i] = v
		}
		return Array(vs...), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, fmt.Errorf("field %q: %w", k, err)
			}
			m[k] = v
		}
		return Map(m), nil
	case map[string]Value:
		return Map(t), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedType, x)
	}
}

// ToAny converts the value into plain Go types (string, int64, float64, bool,
// []byte, map[string]any, []any, nil).
func (v Value) ToAny() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindBytes:
		return v.x
	case KindMap:
		m := make(map[string]any, len(v.m))
		for k, e := range v.m {
			m[k] = e.ToAny()
		}
		return m
	case KindArray:
		a := make([]any, len(v.a))
		for i, e := range v.a {
			a[i] = e.ToAny()
		}
		return a
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindBytes:
		return "0x" + fmt.Sprintf("%x", v.x)
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s: %s", k, v.m[k])
		}
		sb.WriteByte('}')
		return sb.String()
	case KindArray:
		parts := make([]string, len(v.a))
		for i, e := range v.a {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(v.ToAny())
	}
}

// MarshalJSON encodes the value as a single-key object whose key names the
// kind, so decoding restores the exact kind.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte(`{"n":null}`), nil
	case KindString:
		return gojson.Marshal(map[string]string{"s": v.s})
	case KindInt:
		return gojson.Marshal(map[string]int64{"i": v.i})
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("%w: non-finite float", ErrUnsupportedType)
		}
		return gojson.Marshal(map[string]float64{"f": v.f})
	case KindBool:
		return gojson.Marshal(map[string]bool{"b": v.b})
	case KindBytes:
		return gojson.Marshal(map[string]string{"x": base64.StdEncoding.EncodeToString(v.x)})
	case KindMap:
		return gojson.Marshal(map[string]map[string]Value{"m": v.m})
	case KindArray:
		a := v.a
		if a == nil {
			a = []Value{}
		}
		return gojson.Marshal(map[string][]Value{"a": a})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, v.kind)
	}
}

// UnmarshalJSON decodes the tagged form produced by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var tagged map[string]gojson.RawMessage
	if err := gojson.Unmarshal(data, &tagged); err != nil {
		return err
	}
	if len(tagged) != 1 {
		return fmt.Errorf("document value: expected one tag, got %d", len(tagged))
	}
	for tag, raw := range tagged {
		switch tag {
		case "n":
			*v = Null()
		case "s":
			var s string
			if err := gojson.Unmarshal(raw, &s); err != nil {
				return err
			}
			*v = String(s)
		case "i":
			var i int64
			if err := gojson.Unmarshal(raw, &i); err != nil {
				return err
			}
			*v = Int(i)
		case "f":
			var f float64
			if err := gojson.Unmarshal(raw, &f); err != nil {
				return err
			}
			*v = Float(f)
		case "b":
			var b bool
			if err := gojson.Unmarshal(raw, &b); err != nil {
				return err
			}
			*v = Bool(b)
		case "x":
			var s string
			if err := gojson.Unmarshal(raw, &s); err != nil {
				return err
			}
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return err
			}
			*v = Value{kind: KindBytes, x: b}
		case "m":
			var m map[string]Value
			if err := gojson.Unmarshal(raw, &m); err != nil {
				return err
			}
			*v = Map(m)
		case "a":
			var a []Value
			if err := gojson.Unmarshal(raw, &a); err != nil {
				return err
			}
			*v = Array(a...)
		default:
			return fmt.Errorf("document value: unknown tag %q", tag)
		}
	}
	return nil
}

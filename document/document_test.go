package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arxis/aviladb/codec"
)

func sample(t *testing.T) Document {
	t.Helper()
	d, err := New("order-1", map[string]any{
		"tenant":  "acme",
		"qty":     3,
		"price":   19.5,
		"whole":   float64(2),
		"paid":    true,
		"blob":    []byte{0x00, 0xff, 0x10},
		"nothing": nil,
		"tags":    []string{"a", "b"},
		"address": map[string]any{"city": "Lisbon", "zip": int64(1000)},
		"embed":   []float32{0.25, -1, 3},
	})
	require.NoError(t, err)
	return d
}

func TestEncodeDecodeKeepsKinds(t *testing.T) {
	d := sample(t)

	for _, c := range []codec.Codec{codec.JSON{}, codec.GoJSON{}} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := Encode(c, d)
			require.NoError(t, err)

			got, err := Decode(c, data)
			require.NoError(t, err)
			assert.True(t, d.Equal(got), "decoded %v", got.Fields)

			whole, _ := got.Get("whole")
			assert.Equal(t, KindFloat, whole.Kind())
			qty, _ := got.Get("qty")
			assert.Equal(t, KindInt, qty.Kind())
			blob, _ := got.Get("blob")
			b, ok := blob.AsBytes()
			require.True(t, ok)
			assert.Equal(t, []byte{0x00, 0xff, 0x10}, b)
		})
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	d := sample(t)
	a, err := Encode(nil, d)
	require.NoError(t, err)
	for range 5 {
		b, err := Encode(nil, d)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestLookup(t *testing.T) {
	d := sample(t)

	v, ok := d.Lookup("address.city")
	require.True(t, ok)
	s, _ := v.AsString()
	assert.Equal(t, "Lisbon", s)

	_, ok = d.Lookup("address.country")
	assert.False(t, ok)

	_, ok = d.Lookup("tenant.sub")
	assert.False(t, ok)
}

func TestVector(t *testing.T) {
	d := sample(t)

	vec, ok, err := d.Vector("embed")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{0.25, -1, 3}, vec)

	_, ok, err = d.Vector("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = d.Vector("tenant")
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		doc     Document
		wantErr bool
	}{
		{"ok", MustNew("a", map[string]any{"x": 1}), false},
		{"empty id", MustNew("", nil), true},
		{"slash in id", MustNew("a/b", nil), true},
		{"nan", Document{ID: "a", Fields: map[string]Value{"x": Float(nanValue())}}, true},
		{"empty field name", Document{ID: "a", Fields: map[string]Value{"": Int(1)}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.doc.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDocument)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFromAnyRejectsUnsupported(t *testing.T) {
	_, err := FromAny(struct{}{})
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = New("a", map[string]any{"ch": make(chan int)})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestCompare(t *testing.T) {
	assert.Equal(t, 0, Compare(Int(2), Float(2)))
	assert.Equal(t, -1, Compare(Int(1), Float(1.5)))
	assert.Equal(t, 1, Compare(String("b"), String("a")))
	assert.Equal(t, -1, Compare(Null(), Bool(false)))
	assert.Equal(t, -1, Compare(Bool(true), Int(0)))
	assert.False(t, Int(2).Equal(Float(2)))
}

func TestCompareMaps(t *testing.T) {
	red := Map(map[string]Value{"color": String("red")})
	size := Map(map[string]Value{"size": Int(9)})
	blue := Map(map[string]Value{"color": String("blue")})

	assert.NotEqual(t, 0, Compare(red, size))
	assert.Equal(t, -Compare(red, size), Compare(size, red))
	assert.Equal(t, 1, Compare(red, blue))
	assert.Equal(t, 0, Compare(red, Map(map[string]Value{"color": String("red")})))
	assert.Equal(t, 0, Compare(
		Map(map[string]Value{"n": Int(1)}),
		Map(map[string]Value{"n": Float(1)}),
	))
	assert.Equal(t, -1, Compare(red, Map(map[string]Value{"color": String("red"), "size": Int(1)})))
}

func TestSchema(t *testing.T) {
	s, err := CompileSchema(`{
		"type": "object",
		"required": ["tenant", "qty"],
		"properties": {
			"tenant": {"type": "string"},
			"qty": {"type": "integer", "minimum": 1}
		}
	}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant", "qty"}, s.Required())

	assert.NoError(t, s.Validate(sample(t)))

	bad := MustNew("o2", map[string]any{"tenant": "acme", "qty": 0})
	assert.ErrorIs(t, s.Validate(bad), ErrSchemaViolation)

	missing := MustNew("o3", map[string]any{"qty": 2})
	assert.ErrorIs(t, s.Validate(missing), ErrSchemaViolation)

	_, err = CompileSchema(`{"type": 12}`)
	assert.Error(t, err)
}

func nanValue() float64 {
	zero := 0.0
	return zero / zero
}

package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string            `json:"name"`
	Count int64             `json:"count"`
	Tags  []string          `json:"tags"`
	Attrs map[string]string `json:"attrs"`
}

func TestByName(t *testing.T) {
	c, ok := ByName("json")
	require.True(t, ok)
	assert.Equal(t, "json", c.Name())

	c, ok = ByName("go-json")
	require.True(t, ok)
	assert.Equal(t, "go-json", c.Name())

	c, ok = ByName("")
	require.True(t, ok)
	assert.Equal(t, Default.Name(), c.Name())

	_, ok = ByName("msgpack")
	assert.False(t, ok)
}

func TestLookup(t *testing.T) {
	c, err := Lookup("json")
	require.NoError(t, err)
	assert.Equal(t, JSON{}, c)

	_, err = Lookup("msgpack")
	assert.ErrorIs(t, err, ErrUnknown)
	assert.Contains(t, err.Error(), "go-json")
	assert.Equal(t, []string{"go-json", "json"}, Names())
}

func TestCodecsAgree(t *testing.T) {
	in := record{Name: "orders", Count: 42, Tags: []string{"a", "b"}, Attrs: map[string]string{"k": "v"}}

	for _, c := range []Codec{JSON{}, GoJSON{}} {
		t.Run(c.Name(), func(t *testing.T) {
			data := MustMarshal(c, in)

			var out record
			require.NoError(t, c.Unmarshal(data, &out))
			assert.Equal(t, in, out)

			// Bytes from one codec decode with the other.
			var cross record
			other := Codec(JSON{})
			if c.Name() == "json" {
				other = GoJSON{}
			}
			require.NoError(t, other.Unmarshal(data, &cross))
			assert.Equal(t, in, cross)
		})
	}
}

package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name string
	Tags []string
}

func TestByName(t *testing.T) {
	for _, name := range []string{"json", "gob"} {
		c, ok := ByName(name)
		require.True(t, ok)
		assert.Equal(t, name, c.Name())
	}
	_, ok := ByName("msgpack")
	assert.False(t, ok)
}

func TestRoundTrip(t *testing.T) {
	in := payload{Name: "depot", Tags: []string{"a", "b"}}
	for _, c := range []Codec{JSON{}, Gob{}} {
		t.Run(c.Name(), func(t *testing.T) {
			b, err := c.Marshal(in)
			require.NoError(t, err)

			var out payload
			require.NoError(t, c.Unmarshal(b, &out))
			assert.Equal(t, in, out)
		})
	}
}

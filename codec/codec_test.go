package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	ID   string   `json:"id"`
	Tags []string `json:"tg,omitempty"`
	N    int      `json:"n"`
}

func TestCodecRoundTrip(t *testing.T) {
	codecs := []Codec{JSON{}, GoJSON{}}

	for _, c := range codecs {
		t.Run(c.Name(), func(t *testing.T) {
			in := testPayload{ID: "s-001", Tags: []string{"auth", "refactor"}, N: 42}

			data, err := c.Marshal(in)
			require.NoError(t, err)

			var out testPayload
			require.NoError(t, c.Unmarshal(data, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestByName(t *testing.T) {
	c, ok := ByName("json")
	require.True(t, ok)
	assert.Equal(t, "json", c.Name())

	c, ok = ByName("go-json")
	require.True(t, ok)
	assert.Equal(t, "go-json", c.Name())

	_, ok = ByName("msgpack")
	assert.False(t, ok)
}

func TestMustMarshalNilCodecUsesDefault(t *testing.T) {
	data := MustMarshal(nil, testPayload{ID: "x"})

	var out testPayload
	require.NoError(t, Default.Unmarshal(data, &out))
	assert.Equal(t, "x", out.ID)
}

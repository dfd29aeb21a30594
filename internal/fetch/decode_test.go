package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Run("json content type", func(t *testing.T) {
		p, err := Decode("application/json; charset=utf-8", []byte(`{"online_user":"12345"}`), "")
		require.NoError(t, err)
		n, ok := p.Int("online_user")
		assert.True(t, ok)
		assert.Equal(t, 12345, n)
	})

	t.Run("invalid json with json content type", func(t *testing.T) {
		_, err := Decode("application/json", []byte(`{oops`), "")
		assert.Error(t, err)
	})

	t.Run("json served as text", func(t *testing.T) {
		p, err := Decode("text/html", []byte(`{"ban_rate":1.5}`), "")
		require.NoError(t, err)
		f, _ := p.Float("ban_rate")
		assert.InDelta(t, 1.5, f, 1e-9)
	})

	t.Run("top level array", func(t *testing.T) {
		p, err := Decode("application/json", []byte(`[1,2,3]`), "")
		require.NoError(t, err)
		assert.Equal(t, 3, p.Len("data"))
	})

	t.Run("salvage embedded object", func(t *testing.T) {
		body := []byte(`<html><script>var d = {"online_user":"54,321","world_day":"x"};</script></html>`)
		p, err := Decode("text/html", body, "online_user")
		require.NoError(t, err)
		n, ok := p.Int("online_user")
		assert.True(t, ok)
		assert.Equal(t, 54321, n)
	})

	t.Run("raw fallback", func(t *testing.T) {
		p, err := Decode("text/plain", []byte(`maintenance`), "online_user")
		require.NoError(t, err)
		raw, ok := p.String("raw")
		assert.True(t, ok)
		assert.Equal(t, "maintenance", raw)
	})
}

func TestPayloadAccessors(t *testing.T) {
	p := Payload{
		"n":    float64(3),
		"s":    "1,000.5",
		"bad":  "abc",
		"obj":  map[string]any{"IDR": float64(16000)},
		"list": []any{"a", "b"},
	}

	f, ok := p.Float("s")
	assert.True(t, ok)
	assert.InDelta(t, 1000.5, f, 1e-9)

	_, ok = p.Float("bad")
	assert.False(t, ok)

	_, ok = p.Float("missing")
	assert.False(t, ok)

	obj, ok := p.Object("obj")
	require.True(t, ok)
	idr, _ := obj.Float("IDR")
	assert.InDelta(t, 16000, idr, 1e-9)

	assert.Equal(t, 2, p.Len("list"))
	assert.Equal(t, 0, p.Len("n"))
}

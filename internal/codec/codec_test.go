package codec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexGroups(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"empty", nil, ""},
		{"single byte", []byte{0x0a}, "0a"},
		{"multiple bytes", []byte{0xff, 0x00, 0x42}, "ff 00 42"},
		{"json payload", []byte(`{"a":1}`), "7b 22 61 22 3a 31 7d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HexGroups(tt.in))
		})
	}
}

func TestParseHexGroups_RoundTrip(t *testing.T) {
	// GOAL: Verify hex rendering decodes back to the original bytes
	original := []byte(`{"a":1}`)

	rendered := HexGroups(original)
	decoded, err := ParseHexGroups(rendered)

	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestParseHexGroups_AcceptsCompactAndUppercase(t *testing.T) {
	decoded, err := ParseHexGroups("FF00")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0x00}, decoded)
}

func TestParseHexGroups_RejectsMalformedInput(t *testing.T) {
	_, err := ParseHexGroups("zz")
	assert.Error(t, err)

	_, err = ParseHexGroups("abc")
	assert.Error(t, err, "odd-length input MUST be rejected")
}

func TestCanonicalJSON(t *testing.T) {
	// GOAL: Valid JSON payloads get a canonical rendering that parses back
	// to an equal document; binary payloads get none.

	t.Run("object payload", func(t *testing.T) {
		out, ok := CanonicalJSON([]byte(`{"a": 1}`))
		require.True(t, ok)

		var parsed map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(out), &parsed))
		assert.Equal(t, map[string]interface{}{"a": float64(1)}, parsed)
	})

	t.Run("compacts whitespace", func(t *testing.T) {
		out, ok := CanonicalJSON([]byte("{ \"b\" : [1, 2] }"))
		require.True(t, ok)
		assert.Equal(t, `{"b":[1,2]}`, out)
	})

	t.Run("invalid utf8", func(t *testing.T) {
		_, ok := CanonicalJSON([]byte{0xff, 0xfe})
		assert.False(t, ok)
	})

	t.Run("valid utf8 but not json", func(t *testing.T) {
		_, ok := CanonicalJSON([]byte("hello there"))
		assert.False(t, ok)
	})

	t.Run("trailing garbage rejected", func(t *testing.T) {
		_, ok := CanonicalJSON([]byte(`{"a":1} trailing`))
		assert.False(t, ok)
	})

	t.Run("preserves large numbers", func(t *testing.T) {
		out, ok := CanonicalJSON([]byte(`{"seq":18446744073709551615}`))
		require.True(t, ok)
		assert.Contains(t, out, "18446744073709551615")
	})

	t.Run("escapes non-ascii", func(t *testing.T) {
		out, ok := CanonicalJSON([]byte(`{"a":"é"}`))
		require.True(t, ok)
		assert.Equal(t, `{"a":"\u00e9"}`, out)
		for _, r := range out {
			assert.Less(t, r, rune(0x80), "canonical output MUST be ASCII only")
		}

		var parsed map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(out), &parsed))
		assert.Equal(t, "é", parsed["a"], "escaped form MUST parse back to the original rune")
	})

	t.Run("escapes astral runes as surrogate pairs", func(t *testing.T) {
		out, ok := CanonicalJSON([]byte(`{"e":"😀"}`))
		require.True(t, ok)
		assert.Equal(t, `{"e":"\ud83d\ude00"}`, out)
	})
}

func TestPrettyJSON(t *testing.T) {
	out, ok := PrettyJSON([]byte(`{"a":1}`), 2)
	require.True(t, ok)
	assert.Equal(t, "{\n  \"a\": 1\n}", out)

	_, ok = PrettyJSON([]byte{0xff, 0xfe}, 2)
	assert.False(t, ok)
}

package canon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeysRecursively(t *testing.T) {
	a, err := Decode([]byte(`{"b":1,"a":{"z":2,"y":3}}`))
	require.NoError(t, err)

	out, err := Marshal(a)
	require.NoError(t, err)
	require.Equal(t, `{"a":{"y":3,"z":2},"b":1}`, string(out))
}

func TestMarshalPreservesArrayOrder(t *testing.T) {
	v, err := Decode([]byte(`{"a":[3,1,2]}`))
	require.NoError(t, err)

	out, err := Marshal(v)
	require.NoError(t, err)
	require.Equal(t, `{"a":[3,1,2]}`, string(out))
}

func TestMarshalDoesNotNormalizeNumbers(t *testing.T) {
	v, err := Decode([]byte(`{"x":1.0}`))
	require.NoError(t, err)

	out, err := Marshal(v)
	require.NoError(t, err)
	// A true RFC 8785 JCS implementation would re-spell 1.0 as 1; this
	// project intentionally preserves the original literal spelling.
	require.Equal(t, `{"x":1.0}`, string(out))
}

func TestMarshalIsDeterministicAcrossKeyOrder(t *testing.T) {
	v1, err := Decode([]byte(`{"type":"k","seq":1,"ts":"t","payload":{"b":1,"a":2},"prev_hash":""}`))
	require.NoError(t, err)
	v2, err := Decode([]byte(`{"prev_hash":"","payload":{"a":2,"b":1},"ts":"t","seq":1,"type":"k"}`))
	require.NoError(t, err)

	out1, err := Marshal(v1)
	require.NoError(t, err)
	out2, err := Marshal(v2)
	require.NoError(t, err)
	require.Equal(t, string(out1), string(out2))
}

func TestHashIsStableHexSHA256(t *testing.T) {
	v, err := Decode([]byte(`{"a":1}`))
	require.NoError(t, err)

	h1, err := Hash(v)
	require.NoError(t, err)
	h2, err := Hash(v)
	require.NoError(t, err)

	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)
}

func TestMarshalProducesCompactJSONWithNoExtraWhitespace(t *testing.T) {
	v, err := Decode([]byte(`{ "s" : "hi" , "n" : 1 }`))
	require.NoError(t, err)

	out, err := Marshal(v)
	require.NoError(t, err)
	require.Equal(t, `{"n":1,"s":"hi"}`, string(out))
}

package compress

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	data := bytes.Repeat([]byte("In the beginning God created the heaven and the earth. "), 200)

	for _, typ := range []Type{LZ4, ZSTD} {
		t.Run(typ.String(), func(t *testing.T) {
			block, err := Encode(nil, data, typ)
			require.NoError(t, err)
			assert.Less(t, len(block), len(data)/2)

			raw, body, err := Sizes(block)
			require.NoError(t, err)
			assert.Equal(t, uint32(len(data)), raw)
			assert.Equal(t, uint32(len(block)-HeaderSize), body)

			got, err := Decode(block, typ)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestEncode_None(t *testing.T) {
	data := []byte("short record")

	block, err := Encode([]byte("prefix"), data, None)
	require.NoError(t, err)
	assert.Equal(t, "prefix", string(block[:6]))

	block = block[6:]
	assert.Len(t, block, HeaderSize+len(data))
	assert.Zero(t, binary.LittleEndian.Uint32(block[4:]))

	got, err := Decode(block, None)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestEncode_IncompressibleStoredRaw(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i * 17 % 256)
	}

	for _, typ := range []Type{LZ4, ZSTD} {
		t.Run(typ.String(), func(t *testing.T) {
			block, err := Encode(nil, data, typ)
			require.NoError(t, err)

			_, body, err := Sizes(block)
			require.NoError(t, err)
			if body == 0 {
				assert.Len(t, block, HeaderSize+len(data))
			}

			got, err := Decode(block, typ)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestEncode_Empty(t *testing.T) {
	block, err := Encode(nil, nil, ZSTD)
	require.NoError(t, err)
	assert.Len(t, block, HeaderSize)

	got, err := Decode(block, ZSTD)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecode_Corrupt(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3}, LZ4)
	assert.ErrorIs(t, err, ErrCorrupt)

	block, err := Encode(nil, bytes.Repeat([]byte("abc"), 500), LZ4)
	require.NoError(t, err)

	_, err = Decode(block[:len(block)-1], LZ4)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = Decode(block, None)
	assert.ErrorIs(t, err, ErrCorrupt, "compressed body with type none")

	raw, err := Encode(nil, []byte("raw body"), None)
	require.NoError(t, err)
	_, err = Decode(raw[:len(raw)-2], None)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestParseType(t *testing.T) {
	for _, typ := range []Type{None, LZ4, ZSTD} {
		got, err := ParseType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}

	got, err := ParseType("")
	require.NoError(t, err)
	assert.Equal(t, None, got)

	_, err = ParseType("brotli")
	assert.Error(t, err)
	assert.Equal(t, "type(9)", Type(9).String())
}

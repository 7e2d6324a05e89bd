package recordstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rollwin/internal/compress"
)

func validManifest() *Manifest {
	return &Manifest{
		Version:     FormatVersion,
		Variant:     "kjv",
		Total:       25,
		Compression: "lz4",
		Codec:       "json",
		RecordsFile: "kjv/records-000001.bin",
		Blocks: []BlockInfo{
			{First: 0, Count: 10, Offset: 0, Length: 100},
			{First: 10, Count: 10, Offset: 100, Length: 90},
			{First: 20, Count: 5, Offset: 190, Length: 40},
		},
	}
}

func TestManifest_Validate(t *testing.T) {
	require.NoError(t, validManifest().Validate())

	tests := []struct {
		name   string
		mutate func(m *Manifest)
		want   error
	}{
		{"version", func(m *Manifest) { m.Version = 7 }, ErrIncompatibleVersion},
		{"compression", func(m *Manifest) { m.Compression = "brotli" }, ErrInvalidManifest},
		{"codec", func(m *Manifest) { m.Codec = "xml" }, ErrInvalidManifest},
		{"records file", func(m *Manifest) { m.RecordsFile = "" }, ErrInvalidManifest},
		{"index gap", func(m *Manifest) { m.Blocks[1].First = 11 }, ErrInvalidManifest},
		{"empty block", func(m *Manifest) { m.Blocks[2].Count = 0; m.Total = 20 }, ErrInvalidManifest},
		{"offset gap", func(m *Manifest) { m.Blocks[2].Offset = 200 }, ErrInvalidManifest},
		{"short block", func(m *Manifest) { m.Blocks[0].Length = 4; m.Blocks[1].Offset = 4; m.Blocks[2].Offset = 94 }, ErrInvalidManifest},
		{"total", func(m *Manifest) { m.Total = 30 }, ErrInvalidManifest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validManifest()
			tt.mutate(m)
			assert.ErrorIs(t, m.Validate(), tt.want)
		})
	}
}

func TestManifest_BlockOf(t *testing.T) {
	m := validManifest()

	for index, want := range map[int]int{0: 0, 9: 0, 10: 1, 19: 1, 20: 2, 24: 2, 25: -1, -1: -1} {
		assert.Equal(t, want, m.BlockOf(index), "index %d", index)
	}
	assert.Equal(t, int64(230), m.Size())
	assert.Equal(t, int64(0), (&Manifest{}).Size())
}

func TestNames(t *testing.T) {
	assert.Equal(t, "kjv/records-000012.bin", RecordsName("kjv", 12))
	assert.Equal(t, "kjv/manifest-000012.json", ManifestName("kjv", 12))
	assert.Equal(t, "kjv/CURRENT", CurrentName("kjv"))

	n, ok := parseGeneration(ManifestName("kjv", 12))
	assert.True(t, ok)
	assert.Equal(t, uint64(12), n)

	for _, name := range []string{"kjv/manifest.json", "kjv/manifest-x.json", "kjv/records-000001.bin"} {
		_, ok := parseGeneration(name)
		assert.False(t, ok, name)
	}
}

func TestValidateVariant(t *testing.T) {
	assert.NoError(t, ValidateVariant("kjv"))
	for _, v := range []string{"", "a/b", `a\b`, ".hidden"} {
		assert.ErrorIs(t, ValidateVariant(v), ErrInvalidVariant, v)
	}
}

func TestWriter_Blocks(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, compress.None, 4)

	for i := range 10 {
		require.NoError(t, w.Append(string(rune('a'+i))))
	}
	assert.Equal(t, 10, w.Len())
	assert.Len(t, w.Blocks(), 2)

	require.NoError(t, w.Flush())
	require.NoError(t, w.Flush())

	blocks := w.Blocks()
	require.Len(t, blocks, 3)
	assert.Equal(t, []int{4, 4, 2}, []int{blocks[0].Count, blocks[1].Count, blocks[2].Count})

	var off int64
	for _, b := range blocks {
		assert.Equal(t, off, b.Offset)
		off += b.Length
	}
	assert.Equal(t, int64(buf.Len()), off)

	// Each record is a one-byte length prefix plus one byte.
	payload, err := compress.Decode(buf.Bytes()[blocks[2].Offset:], compress.None)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 'i', 1, 'j'}, payload)
}

func TestDecodeBlock_Truncated(t *testing.T) {
	_, _, err := decodeBlock([]byte{5, 'a'}, BlockInfo{First: 0, Count: 1}, []int{0}, nil)
	assert.ErrorIs(t, err, errShortBlock)
}

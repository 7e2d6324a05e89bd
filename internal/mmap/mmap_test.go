package mmap

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records-1.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestMapping_OpenReadClose(t *testing.T) {
	content := []byte("Genesis 1:1 In the beginning")
	m, err := Open(writeFile(t, content))
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, len(content), m.Size())
	assert.Equal(t, content, m.Bytes())

	buf := make([]byte, 7)
	n, err := m.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "Genesis", string(buf))

	t.Run("past end", func(t *testing.T) {
		n, err := m.ReadAt(make([]byte, 4), 100)
		assert.Equal(t, 0, n)
		assert.Equal(t, io.EOF, err)
	})

	t.Run("partial", func(t *testing.T) {
		buf := make([]byte, 20)
		n, err := m.ReadAt(buf, int64(len(content)-9))
		assert.Equal(t, 9, n)
		assert.Equal(t, io.EOF, err)
		assert.Equal(t, "beginning", string(buf[:n]))
	})

	t.Run("negative offset", func(t *testing.T) {
		_, err := m.ReadAt(buf, -1)
		assert.ErrorIs(t, err, ErrInvalidOffset)
	})
}

func TestMapping_EmptyFile(t *testing.T) {
	m, err := Open(writeFile(t, nil))
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 0, m.Size())
	assert.NoError(t, m.Advise(AccessRandom))
}

func TestMapping_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRegion(t *testing.T) {
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i)
	}
	m, err := Open(writeFile(t, data))
	require.NoError(t, err)

	require.NoError(t, m.Advise(AccessRandom))

	r, err := m.Region(100, 200)
	require.NoError(t, err)
	assert.Len(t, r.Bytes(), 200)
	assert.Equal(t, byte(100), r.Bytes()[0])
	require.NoError(t, r.Advise(AccessWillNeed))

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data[100:300], got)

	tail, err := m.Region(1000, 100)
	require.NoError(t, err)
	assert.Equal(t, 24, tail.Len())

	_, err = m.Region(-1, 0)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	_, err = m.Region(2000, 1)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.Nil(t, r.Bytes())
	assert.ErrorIs(t, r.Advise(AccessDefault), ErrClosed)
	assert.Nil(t, m.Bytes())
	assert.ErrorIs(t, m.Advise(AccessRandom), ErrClosed)
	_, err = m.Region(0, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

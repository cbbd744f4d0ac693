package persistence

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainerRoundTrip(t *testing.T) {
	b := NewContainerBuilder()
	require.NoError(t, b.AddSection("meta", []byte(`{"dim":4}`)))
	require.NoError(t, b.AddSection("index", bytes.Repeat([]byte{0xab}, 4096)))
	require.NoError(t, b.AddSection("empty", nil))

	data, err := b.Bytes()
	require.NoError(t, err)

	c, err := OpenContainer(data)
	require.NoError(t, err)

	assert.True(t, c.Has("meta"))
	assert.ElementsMatch(t, []string{"meta", "index", "empty"}, c.Sections())

	meta, err := c.Section("meta")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"dim":4}`), meta)

	idx, err := c.Section("index")
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xab}, 4096), idx)

	empty, err := c.Section("empty")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = c.Section("missing")
	assert.Error(t, err)
}

func TestContainerDetectsCorruption(t *testing.T) {
	b := NewContainerBuilder()
	require.NoError(t, b.AddSection("payload", bytes.Repeat([]byte("vecdb"), 100)))

	data, err := b.Bytes()
	require.NoError(t, err)

	// Flip a bit inside the section body.
	data[20] ^= 0xff

	c, err := OpenContainer(data)
	require.NoError(t, err)

	_, err = c.Section("payload")
	require.Error(t, err)
}

func TestOpenContainerRejectsGarbage(t *testing.T) {
	_, err := OpenContainer([]byte("short"))
	assert.Error(t, err)

	_, err = OpenContainer(bytes.Repeat([]byte{0}, 64))
	assert.Error(t, err)
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")

	require.NoError(t, WriteFileAtomic(path, []byte("v1"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("v2"), 0o644))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files should not linger")
}

func TestChecksumWriter(t *testing.T) {
	var buf bytes.Buffer
	cw := NewChecksumWriter(&buf)

	_, err := cw.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = cw.Write([]byte("world"))
	require.NoError(t, err)

	assert.Equal(t, Checksum([]byte("hello world")), cw.Sum())
	assert.Equal(t, int64(11), cw.Count())
}

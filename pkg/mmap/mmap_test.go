package mmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T, content []byte) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestOpenZeroLengthIsSentinel(t *testing.T) {
	f := openTemp(t, nil)

	h, err := Open(f, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), h.Len())
	assert.NoError(t, h.Close())
}

func TestOpenMapsFileContent(t *testing.T) {
	content := []byte("hello mmap")
	f := openTemp(t, content)

	h, err := Open(f, int64(len(content)))
	require.NoError(t, err)
	defer h.Close()

	c := NewChunker(h)
	chunk := c.TakeChunk(int64(len(content)))
	assert.Equal(t, content, chunk.Bytes())
}

func TestChunkerCoversRangeExactlyOnce(t *testing.T) {
	content := make([]byte, 100)
	for i := range content {
		content[i] = byte(i)
	}
	f := openTemp(t, content)

	h, err := Open(f, 100)
	require.NoError(t, err)
	defer h.Close()

	c := NewChunker(h)
	var chunks []Chunk
	for c.Size() > 0 {
		n := int64(32)
		if n > c.Size() {
			n = c.Size()
		}
		chunks = append(chunks, c.TakeChunk(n))
	}
	require.Len(t, chunks, 4) // 32+32+32+4

	var offset int64
	var joined []byte
	for _, chunk := range chunks {
		joined = append(joined, chunk.Bytes()...)
		offset += chunk.Len()
	}
	assert.Equal(t, int64(100), offset)
	assert.Equal(t, content, joined)
	assert.Equal(t, int64(0), c.Size())
}

func TestTakeChunkBeyondSizePanics(t *testing.T) {
	f := openTemp(t, []byte("abc"))
	h, err := Open(f, 3)
	require.NoError(t, err)
	defer h.Close()

	c := NewChunker(h)
	assert.Panics(t, func() { c.TakeChunk(4) })
}

func TestChunkWritesReachTheFile(t *testing.T) {
	f := openTemp(t, make([]byte, 8))
	h, err := Open(f, 8)
	require.NoError(t, err)

	c := NewChunker(h)
	copy(c.TakeChunk(8).Bytes(), "written!")
	require.NoError(t, h.Close())

	got, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	assert.Equal(t, []byte("written!"), got)
}

func TestZeroLengthChunkHasEmptyBytes(t *testing.T) {
	h := &Handle{}
	c := NewChunker(h)
	chunk := c.TakeChunk(0)
	assert.Empty(t, chunk.Bytes())
	assert.Equal(t, int64(0), chunk.Len())
}

// Package mmap provides a shared read+write memory mapping of a file and a
// single-consumer cursor ("Chunker") that carves it into disjoint,
// individually owned byte-slice views ("Chunk"). It is the zero-copy body
// source for uploads and zero-copy write destination for downloads.
//
// Go has no Drop/ownership types, so the "unmap exactly once, never while
// a Chunk is live" invariant is enforced by discipline instead of the
// type system: callers must keep the Handle reachable (e.g. via the
// Chunker and its issued Chunks) until every in-flight use of a Chunk has
// completed, then call Close exactly once.
package mmap

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Handle is a contiguous read+write shared mapping of a file of known
// length. A zero-length Handle is a sentinel with no underlying mapping.
type Handle struct {
	data     []byte
	closed   sync.Once
	closeErr error
}

// Open maps f's first length bytes PROT_READ|PROT_WRITE, MAP_SHARED. The
// caller asserts f is a regular file of at least length bytes. length==0
// returns a sentinel Handle with no mapping performed.
func Open(f *os.File, length int64) (*Handle, error) {
	if length == 0 {
		return &Handle{}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &Handle{data: data}, nil
}

// Len returns the mapped length in bytes (0 for the sentinel).
func (h *Handle) Len() int64 {
	if h == nil {
		return 0
	}
	return int64(len(h.data))
}

// Close unmaps the handle. Safe to call on a sentinel (no-op). Must be
// called exactly once, and only after every Chunk derived from this
// Handle is done being read from or written to — the mapping underlying
// those Chunks becomes invalid the instant Close returns.
func (h *Handle) Close() error {
	if h == nil || h.data == nil {
		return nil
	}
	h.closed.Do(func() {
		h.closeErr = unix.Munmap(h.data)
	})
	return h.closeErr
}

// Chunker is a move-only, single-consumer cursor over a Handle. It mints
// Chunks in order, advancing a monotonically non-decreasing offset. A
// Chunker must not be used from more than one goroutine concurrently.
type Chunker struct {
	handle *Handle
	offset int64
}

// NewChunker wraps handle in a cursor starting at offset 0.
func NewChunker(handle *Handle) *Chunker {
	return &Chunker{handle: handle}
}

// Size returns the number of unconsumed bytes remaining.
func (c *Chunker) Size() int64 {
	return c.handle.Len() - c.offset
}

// TakeChunk returns the next n bytes as a Chunk and advances the cursor.
// Panics if n exceeds Size(), which would indicate a carving bug upstream.
func (c *Chunker) TakeChunk(n int64) Chunk {
	if n > c.Size() {
		panic(fmt.Sprintf("mmap: TakeChunk(%d) exceeds remaining size %d", n, c.Size()))
	}
	chunk := Chunk{handle: c.handle, offset: c.offset, len: n}
	c.offset += n
	return chunk
}

// Chunk is a non-overlapping view onto its Handle's byte range
// [offset, offset+len). Chunks minted from the same Chunker never
// overlap, which is the only protection this package relies on against
// concurrent writers aliasing the same bytes.
type Chunk struct {
	handle *Handle
	offset int64
	len    int64
}

// Len returns the chunk's length in bytes.
func (c Chunk) Len() int64 { return c.len }

// Bytes returns the chunk's byte window. Empty (non-nil-safe) slice when
// len==0, avoiding any pointer dereference for a zero-length chunk.
func (c Chunk) Bytes() []byte {
	if c.len == 0 {
		return []byte{}
	}
	return c.handle.data[c.offset : c.offset+c.len]
}

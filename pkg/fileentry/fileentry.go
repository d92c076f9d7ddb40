// Package fileentry models one archived file: its archive-relative path
// and on-disk size, plus the two ways it is opened — for reading during
// upload and for sized, exclusive creation during download.
package fileentry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cookpad/s3ar/pkg/archerr"
	"github.com/cookpad/s3ar/pkg/mmap"
)

// Entry is the (path, size) tuple archived for one file. Path is the
// logical archive-relative path; the same string is used to build S3
// keys and manifest lines.
type Entry struct {
	Path string
	Size int64
}

// New constructs an Entry.
func New(path string, size int64) Entry {
	return Entry{Path: path, Size: size}
}

// OpenForRead opens the file read+write (a shared writable mapping
// requires the fd be opened for write even though only reads follow) and
// maps it at its recorded size. Fails with an I/O-kind error if the file
// cannot be opened (e.g. it is missing), and with a mapping-kind error if
// the mmap fails.
func (e Entry) OpenForRead() (*mmap.Handle, error) {
	f, err := os.OpenFile(e.Path, os.O_RDWR, 0)
	if err != nil {
		return nil, archerr.New(archerr.KindIO, "open for read", err)
	}
	defer f.Close()

	handle, err := mmap.Open(f, e.Size)
	if err != nil {
		return nil, archerr.New(archerr.KindMmap, "mmap for read", err)
	}
	return handle, nil
}

// Create makes any missing parent directories, then creates the file
// exclusively (fails if it already exists — no overwrite), pre-sizes it
// to e.Size by seeking to the last byte and writing one zero byte, and
// maps it. This is how download pre-allocates the exact-length
// destination file before any part bytes are written.
func (e Entry) Create() (*mmap.Handle, error) {
	if dir := filepath.Dir(e.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, archerr.New(archerr.KindIO, "mkdir parents", err)
		}
	}

	f, err := os.OpenFile(e.Path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, archerr.New(archerr.KindIO, "create exclusive", err)
	}
	defer f.Close()

	if e.Size > 0 {
		if _, err := f.Seek(e.Size-1, 0); err != nil {
			return nil, archerr.New(archerr.KindMmap, "seek to preallocate", err)
		}
		if _, err := f.Write([]byte{0}); err != nil {
			return nil, archerr.New(archerr.KindIO, "write preallocation byte", err)
		}
	}

	handle, err := mmap.Open(f, e.Size)
	if err != nil {
		return nil, archerr.New(archerr.KindMmap, "mmap for write", err)
	}
	return handle, nil
}

// ManifestLine renders the entry as one "<size>\t<path>\n" manifest line.
// Paths containing a tab are rejected at walk time (pkg/walk), so this
// never needs to escape the separator.
func (e Entry) ManifestLine() string {
	return fmt.Sprintf("%d\t%s\n", e.Size, e.Path)
}

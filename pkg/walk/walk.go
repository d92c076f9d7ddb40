// Package walk is the directory walker: a depth-first recursive stream of
// regular files with sizes, rooted at one or more caller-supplied paths.
package walk

import (
	"io/fs"
	"path/filepath"
	"unicode/utf8"

	"github.com/cookpad/s3ar/pkg/archerr"
	"github.com/cookpad/s3ar/pkg/fileentry"
)

// Roots walks every root in order, flattening their regular files into one
// slice of entries. A root that is itself a regular file yields one
// entry. Non-UTF-8 paths and paths containing a tab are fatal to the
// whole walk, not a per-file skip.
func Roots(roots []string) ([]fileentry.Entry, error) {
	var entries []fileentry.Entry
	for _, root := range roots {
		if err := walkOne(root, &entries); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func walkOne(root string, entries *[]fileentry.Entry) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return archerr.New(archerr.KindIO, "walk "+path, err)
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			// Symlinks and special files are silently skipped: no
			// symlink or special-file preservation.
			return nil
		}

		if !utf8.ValidString(path) {
			return archerr.New(archerr.KindContract, "walk "+path, archerr.ErrNonUTF8Path)
		}
		for i := 0; i < len(path); i++ {
			if path[i] == '\t' {
				return archerr.New(archerr.KindContract, "walk "+path, archerr.ErrTabInPath)
			}
		}

		info, err := d.Info()
		if err != nil {
			return archerr.New(archerr.KindIO, "stat "+path, err)
		}
		*entries = append(*entries, fileentry.New(path, info.Size()))
		return nil
	})
}

// Command s3ar archives a directory tree to an S3-compatible object store
// and restores it, via concurrent multipart upload/download.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

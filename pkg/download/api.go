// Package download is the multipart download driver and the download
// pipeline: read manifest → drive per-file multipart, bounded by file
// concurrency and part concurrency.
package download

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// API is the slice of *s3.Client this package calls. *s3.Client satisfies
// it structurally.
type API interface {
	GetObject(ctx context.Context, input *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

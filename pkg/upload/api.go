// Package upload is the multipart upload driver and upload pipeline:
// walk → per-file multipart, bounded by file concurrency → manifest.
package upload

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// API is the slice of *s3.Client this package calls, treated as an
// opaque RPC surface. Kept as an interface so tests can substitute a
// fake client without a live endpoint. *s3.Client satisfies this
// structurally with no adapter needed.
type API interface {
	CreateMultipartUpload(ctx context.Context, input *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, input *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, input *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, input *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

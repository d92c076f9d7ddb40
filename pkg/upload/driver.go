package upload

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"github.com/cookpad/s3ar/pkg/archerr"
	"github.com/cookpad/s3ar/pkg/executor"
	"github.com/cookpad/s3ar/pkg/fileentry"
	"github.com/cookpad/s3ar/pkg/mmap"
	"github.com/cookpad/s3ar/pkg/retry"
)

var errMissingETag = missingETagErr{}

type missingETagErr struct{}

func (missingETagErr) Error() string { return "s3ar: UploadPart response missing ETag" }

// innerPartBuffer caps concurrent part submissions per file. It stacks
// multiplicatively with file concurrency and the executor's part
// concurrency, bounding per-file in-flight Chunk references.
const innerPartBuffer = 8

type partOutcome struct {
	partNumber int32
	eTag       string
	err        error
}

// driveFile runs the per-file multipart upload state machine: open+map,
// Initiate, stream parts through the shared executor, collect+sort,
// Complete. ex is this file's private clone of the pipeline's shared
// executor — driveFile closes it when done, which is how the pipeline
// learns every file's submissions have drained.
func driveFile(ctx context.Context, api API, log *logrus.Entry, ex executor.Executor[partOutcome], cfg Config, bucket, key string, entry fileentry.Entry) (err error) {
	defer ex.Close()

	handle, err := entry.OpenForRead()
	if err != nil {
		return err
	}
	defer handle.Close()

	if entry.Size == 0 {
		// Some S3-compatible stores reject zero-byte multipart uploads.
		// Rather than gamble on that, an empty file is archived with a
		// single PutObject — round-trip fidelity only requires the
		// destination file to exist with zero bytes, which PutObject
		// satisfies directly and cheaply.
		_, err := retry.Do(ctx, cfg.RetryPolicy, func(ctx context.Context) (*s3.PutObjectOutput, error) {
			return api.PutObject(ctx, &s3.PutObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
			})
		})
		if err != nil {
			return archerr.New(archerr.KindRemote, "PutObject empty file "+key, err)
		}
		return nil
	}

	createOut, err := retry.Do(ctx, cfg.RetryPolicy, func(ctx context.Context) (*s3.CreateMultipartUploadOutput, error) {
		return api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
	})
	if err != nil {
		return archerr.New(archerr.KindRemote, "CreateMultipartUpload "+key, err)
	}
	if createOut.UploadId == nil || *createOut.UploadId == "" {
		return archerr.New(archerr.KindContract, "CreateMultipartUpload "+key, archerr.ErrMissingUploadID)
	}
	uploadID := *createOut.UploadId

	log.WithFields(logrus.Fields{"key": key, "upload_id": uploadID, "size": entry.Size}).Debug("s3ar: multipart upload initiated")

	chunker := mmap.NewChunker(handle)
	partSize := cfg.PartSize
	if partSize <= 0 {
		partSize = DefaultPartSize
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, innerPartBuffer)
	resultsMu := sync.Mutex{}
	var results []partOutcome
	var firstErr error

	partNumber := int32(1)
	for chunker.Size() > 0 {
		n := partSize
		if n > chunker.Size() {
			n = chunker.Size()
		}
		chunk := chunker.TakeChunk(n)
		pn := partNumber
		partNumber++

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, execErr := ex.Execute(ctx, func(ctx context.Context) partOutcome {
				out, err := retry.Do(ctx, cfg.RetryPolicy, func(ctx context.Context) (*s3.UploadPartOutput, error) {
					return api.UploadPart(ctx, &s3.UploadPartInput{
						Bucket:     aws.String(bucket),
						Key:        aws.String(key),
						UploadId:   aws.String(uploadID),
						PartNumber: aws.Int32(pn),
						Body:       bytes.NewReader(chunk.Bytes()),
					})
				})
				if err != nil {
					return partOutcome{partNumber: pn, err: archerr.New(archerr.KindRemote, "UploadPart", err)}
				}
				if out.ETag == nil {
					return partOutcome{partNumber: pn, err: archerr.New(archerr.KindContract, "UploadPart", errMissingETag)}
				}
				return partOutcome{partNumber: pn, eTag: *out.ETag}
			})
			if execErr != nil {
				outcome = partOutcome{partNumber: pn, err: execErr}
			}

			resultsMu.Lock()
			results = append(results, outcome)
			if outcome.err != nil && firstErr == nil {
				firstErr = outcome.err
			}
			resultsMu.Unlock()
		}()
	}
	wg.Wait()

	if firstErr != nil {
		if cfg.AbortOnFailure {
			_, _ = api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
				Bucket:   aws.String(bucket),
				Key:      aws.String(key),
				UploadId: aws.String(uploadID),
			})
		}
		return firstErr
	}

	sort.Slice(results, func(i, j int) bool { return results[i].partNumber < results[j].partNumber })
	parts := make([]s3types.CompletedPart, len(results))
	for i, r := range results {
		parts[i] = s3types.CompletedPart{
			ETag:       aws.String(r.eTag),
			PartNumber: aws.Int32(r.partNumber),
		}
	}

	_, err = retry.Do(ctx, cfg.RetryPolicy, func(ctx context.Context) (*s3.CompleteMultipartUploadOutput, error) {
		return api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(bucket),
			Key:             aws.String(key),
			UploadId:        aws.String(uploadID),
			MultipartUpload: &s3types.CompletedMultipartUpload{Parts: parts},
		})
	})
	if err != nil {
		if cfg.AbortOnFailure {
			_, _ = api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
				Bucket:   aws.String(bucket),
				Key:      aws.String(key),
				UploadId: aws.String(uploadID),
			})
		}
		return archerr.New(archerr.KindRemote, "CompleteMultipartUpload "+key, err)
	}

	log.WithFields(logrus.Fields{"key": key, "parts": len(parts)}).Info("s3ar: file uploaded")
	return nil
}

package download

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/cookpad/s3ar/pkg/archerr"
	"github.com/cookpad/s3ar/pkg/executor"
	"github.com/cookpad/s3ar/pkg/fileentry"
	"github.com/cookpad/s3ar/pkg/mmap"
	"github.com/cookpad/s3ar/pkg/retry"
)

type copyOutcome struct {
	partNumber  int32
	bytesCopied int64
	err         error
}

type fetchedPart struct {
	partNumber int32
	body       io.ReadCloser
	chunk      mmap.Chunk
}

// driveFile runs the per-file multipart download state machine:
// create+presize the destination, probe part 1 to learn parts_count,
// sequentially fetch the remaining parts' headers to carve matching
// Chunks off the single-consumer Chunker (carving must follow part
// order, since a Chunker is single-consumer), then copy every part's
// body into its Chunk concurrently under the shared executor.
func driveFile(ctx context.Context, api API, log *logrus.Entry, ex executor.Executor[copyOutcome], cfg Config, bucket, key string, entry fileentry.Entry) (err error) {
	defer ex.Close()

	handle, err := entry.Create()
	if err != nil {
		return err
	}
	defer handle.Close()
	chunker := mmap.NewChunker(handle)

	out1, err := retry.Do(ctx, cfg.RetryPolicy, func(ctx context.Context) (*s3.GetObjectOutput, error) {
		return api.GetObject(ctx, &s3.GetObjectInput{
			Bucket:     aws.String(bucket),
			Key:        aws.String(key),
			PartNumber: aws.Int32(1),
		})
	})
	if err != nil {
		return archerr.New(archerr.KindRemote, "GetObject part 1 "+key, err)
	}
	if out1.PartsCount == nil {
		return archerr.New(archerr.KindContract, "GetObject part 1 "+key, archerr.ErrMissingPartsCount)
	}
	if out1.ContentLength == nil {
		return archerr.New(archerr.KindContract, "GetObject part 1 "+key, archerr.ErrMissingContentLength)
	}
	n := *out1.PartsCount

	log.WithFields(logrus.Fields{"key": key, "parts": n, "size": entry.Size}).Debug("s3ar: download parts discovered")

	fetched := make([]fetchedPart, 0, n)
	fetched = append(fetched, fetchedPart{partNumber: 1, body: out1.Body, chunk: chunker.TakeChunk(*out1.ContentLength)})

	for i := int32(2); i <= n; i++ {
		outi, err := retry.Do(ctx, cfg.RetryPolicy, func(ctx context.Context) (*s3.GetObjectOutput, error) {
			return api.GetObject(ctx, &s3.GetObjectInput{
				Bucket:     aws.String(bucket),
				Key:        aws.String(key),
				PartNumber: aws.Int32(i),
			})
		})
		if err != nil {
			return archerr.New(archerr.KindRemote, fmt.Sprintf("GetObject part %d %s", i, key), err)
		}
		if outi.ContentLength == nil {
			return archerr.New(archerr.KindContract, fmt.Sprintf("GetObject part %d %s", i, key), archerr.ErrMissingContentLength)
		}
		fetched = append(fetched, fetchedPart{partNumber: i, body: outi.Body, chunk: chunker.TakeChunk(*outi.ContentLength)})
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		total    int64
		firstErr error
	)

	for _, fp := range fetched {
		fp := fp
		wg.Add(1)
		go func() {
			defer wg.Done()

			outcome, execErr := ex.Execute(ctx, func(ctx context.Context) copyOutcome {
				dst := fp.chunk.Bytes()
				nRead, readErr := io.ReadFull(fp.body, dst)
				closeErr := fp.body.Close()
				if readErr != nil {
					return copyOutcome{partNumber: fp.partNumber, err: archerr.New(archerr.KindIO, "copy part body", readErr)}
				}
				if closeErr != nil {
					return copyOutcome{partNumber: fp.partNumber, err: archerr.New(archerr.KindIO, "close part body", closeErr)}
				}
				return copyOutcome{partNumber: fp.partNumber, bytesCopied: int64(nRead)}
			})
			if execErr != nil {
				outcome = copyOutcome{partNumber: fp.partNumber, err: execErr}
			}

			mu.Lock()
			total += outcome.bytesCopied
			if outcome.err != nil && firstErr == nil {
				firstErr = outcome.err
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	if total != entry.Size {
		return archerr.New(archerr.KindContract, key, fmt.Errorf("part content-length sum %d does not match file size %d", total, entry.Size))
	}

	log.WithFields(logrus.Fields{"key": key, "parts": len(fetched)}).Info("s3ar: file downloaded")
	return nil
}

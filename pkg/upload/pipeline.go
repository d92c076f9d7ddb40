package upload

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/cookpad/s3ar/pkg/executor"
	"github.com/cookpad/s3ar/pkg/progress"
	"github.com/cookpad/s3ar/pkg/retry"
	"github.com/cookpad/s3ar/pkg/s3client"
	"github.com/cookpad/s3ar/pkg/walk"
)

// DefaultPartSize is the default multipart part size (16 MiB).
const DefaultPartSize = 16 * 1024 * 1024

// Config bounds concurrency and part size for one upload run.
type Config struct {
	FileConcurrency int
	PartConcurrency int
	PartQueueSize   int
	PartSize        int64

	// AbortOnFailure issues a best-effort AbortMultipartUpload when a
	// per-file upload fails. Off by default; a bucket lifecycle policy
	// sweeping dangling uploads makes the abort unnecessary.
	AbortOnFailure bool

	RetryPolicy retry.Policy
}

// DefaultConfig returns the CLI defaults.
func DefaultConfig() Config {
	return Config{
		FileConcurrency: 8,
		PartConcurrency: 8,
		PartQueueSize:   8,
		PartSize:        DefaultPartSize,
		RetryPolicy:     retry.DefaultPolicy,
	}
}

// Run implements the upload pipeline: change to the configured directory
// once, walk every root, drive each file's multipart upload under a
// file-concurrency gate, and PutObject the accumulated manifest once
// every file finishes.
//
// directory, if non-empty, is applied via os.Chdir exactly once before
// any walking — the process working directory is process-global and
// must be set at most once at pipeline start.
func Run(ctx context.Context, api API, log *logrus.Entry, cfg Config, directory, bucket, prefix string, roots []string) error {
	if directory != "" {
		if err := os.Chdir(directory); err != nil {
			return fmt.Errorf("s3ar: chdir %s: %w", directory, err)
		}
	}

	entries, err := walk.Roots(roots)
	if err != nil {
		return err
	}

	ex, pump := executor.New[partOutcome](cfg.PartQueueSize)

	pumpDone := make(chan struct{})
	go func() {
		pump.Run(ctx, cfg.PartConcurrency)
		close(pumpDone)
	}()

	var totalBytes int64
	for _, e := range entries {
		totalBytes += e.Size
	}
	tracker := progress.NewTracker(int64(len(entries)), totalBytes)
	trackerStop := make(chan struct{})
	go tracker.LogPeriodic(log, 10*time.Second, trackerStop)
	defer close(trackerStop)

	var (
		wg         sync.WaitGroup
		sem        = make(chan struct{}, cfg.FileConcurrency)
		manifest   []string
		manifestMu sync.Mutex
		firstErr   error
		firstErrMu sync.Mutex
	)

	for _, entry := range entries {
		entry := entry
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			key := s3client.DataKey(prefix, entry.Path)
			if err := driveFile(ctx, api, log, ex.Clone(), cfg, bucket, key, entry); err != nil {
				tracker.Complete(entry.Size, false)
				firstErrMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				firstErrMu.Unlock()
				return
			}
			tracker.Complete(entry.Size, true)

			manifestMu.Lock()
			manifest = append(manifest, entry.ManifestLine())
			manifestMu.Unlock()
		}()
	}
	wg.Wait()

	// Release the pipeline's own handle so the queue closes and the Pump
	// drains once every file driver's clone has also been released.
	ex.Close()
	<-pumpDone

	if firstErr != nil {
		return firstErr
	}

	var buf []byte
	for _, line := range manifest {
		buf = append(buf, line...)
	}
	_, err = retry.Do(ctx, cfg.RetryPolicy, func(ctx context.Context) (*s3.PutObjectOutput, error) {
		return api.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(s3client.ManifestKey(prefix)),
			Body:   bytes.NewReader(buf),
		})
	})
	if err != nil {
		return fmt.Errorf("s3ar: put manifest: %w", err)
	}

	log.WithFields(logrus.Fields{"files": len(manifest), "bucket": bucket, "prefix": prefix}).Info("s3ar: upload complete")
	return nil
}

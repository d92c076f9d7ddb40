package download

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/cookpad/s3ar/pkg/archerr"
	"github.com/cookpad/s3ar/pkg/executor"
	"github.com/cookpad/s3ar/pkg/fileentry"
	"github.com/cookpad/s3ar/pkg/progress"
	"github.com/cookpad/s3ar/pkg/retry"
	"github.com/cookpad/s3ar/pkg/s3client"
)

// defaultPartQueueSize is the download pipeline's executor queue
// capacity. The download subcommand exposes no queue-size flag of its
// own, so this mirrors upload's default (8) rather than taking a CLI
// value.
const defaultPartQueueSize = 8

// Config bounds concurrency for one download run (the download
// subcommand only exposes file and part concurrency flags).
type Config struct {
	FileConcurrency int
	PartConcurrency int
	RetryPolicy     retry.Policy
}

// DefaultConfig returns the CLI defaults.
func DefaultConfig() Config {
	return Config{
		FileConcurrency: 8,
		PartConcurrency: 8,
		RetryPolicy:     retry.DefaultPolicy,
	}
}

// Run implements the download pipeline: change to the configured
// directory once, fetch and parse the manifest, then drive each file's
// multipart download under a file-concurrency gate.
func Run(ctx context.Context, api API, log *logrus.Entry, cfg Config, directory, bucket, prefix string) error {
	if directory != "" {
		if err := os.Chdir(directory); err != nil {
			return fmt.Errorf("s3ar: chdir %s: %w", directory, err)
		}
	}

	entries, err := readManifest(ctx, api, cfg, bucket, prefix)
	if err != nil {
		return err
	}

	ex, pump := executor.New[copyOutcome](defaultPartQueueSize)

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
		}()
	}
	wg.Wait()

	ex.Close()
	<-pumpDone

	if firstErr != nil {
		return firstErr
	}

	log.WithFields(logrus.Fields{"files": len(entries), "bucket": bucket, "prefix": prefix}).Info("s3ar: download complete")
	return nil
}

// readManifest fetches the manifest object and parses it line by line,
// splitting each on the first tab only to preserve round-trip fidelity —
// paths may themselves contain tabs in principle, though the walker that
// produced this manifest already rejects them.
func readManifest(ctx context.Context, api API, cfg Config, bucket, prefix string) ([]fileentry.Entry, error) {
	out, err := retry.Do(ctx, cfg.RetryPolicy, func(ctx context.Context) (*s3.GetObjectOutput, error) {
		return api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(s3client.ManifestKey(prefix)),
		})
	})
	if err != nil {
		return nil, archerr.New(archerr.KindRemote, "GetObject manifest", err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, archerr.New(archerr.KindIO, "read manifest body", err)
	}

	var entries []fileentry.Entry
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		tab := strings.IndexByte(line, '\t')
		if tab < 0 {
			return nil, archerr.New(archerr.KindManifest, "parse manifest line", fmt.Errorf("missing tab separator in %q", line))
		}
		sizeStr, path := line[:tab], line[tab+1:]
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil || size < 0 {
			return nil, archerr.New(archerr.KindManifest, "parse manifest line", fmt.Errorf("invalid size field %q", sizeStr))
		}
		entries = append(entries, fileentry.New(path, size))
	}
	if err := scanner.Err(); err != nil {
		return nil, archerr.New(archerr.KindManifest, "scan manifest", err)
	}
	return entries, nil
}

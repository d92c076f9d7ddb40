package upload

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a minimal in-memory stand-in for the S3 operations upload
// uses.
type fakeAPI struct {
	mu           sync.Mutex
	objects      map[string][]byte
	nextUploadID int64
	uploads      map[string]map[int32][]byte

	uploadPartFailures int32 // number of leading UploadPart calls to fail
	uploadPartCalls    atomic.Int32
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		objects: make(map[string][]byte),
		uploads: make(map[string]map[int32][]byte),
	}
}

func (f *fakeAPI) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextUploadID++
	id := fmtUploadID(f.nextUploadID)
	f.uploads[id] = make(map[int32][]byte)
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeAPI) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	if f.uploadPartCalls.Add(1) <= f.uploadPartFailures {
		return nil, assertErr("transient upload part failure")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[*in.UploadId][*in.PartNumber] = body
	return &s3.UploadPartOutput{ETag: aws.String(fmtUploadID(int64(*in.PartNumber)))}, nil
}

func (f *fakeAPI) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := f.uploads[*in.UploadId]
	var full []byte
	for i := 1; i <= len(in.MultipartUpload.Parts); i++ {
		full = append(full, parts[int32(i)]...)
	}
	f.objects[*in.Key] = full
	delete(f.uploads, *in.UploadId)
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeAPI) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uploads, *in.UploadId)
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeAPI) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	// A nil Body is an empty object, as with the real client.
	var body []byte
	if in.Body != nil {
		var err error
		body, err = io.ReadAll(in.Body)
		if err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func fmtUploadID(n int64) string {
	digits := "0123456789"
	if n == 0 {
		return "0"
	}
	var out []byte
	for n > 0 {
		out = append([]byte{digits[n%10]}, out...)
		n /= 10
	}
	return "up-" + string(out)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestRunUploadsSmallFileAsSinglePart(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))

	api := newFakeAPI()
	cfg := DefaultConfig()

	err := Run(context.Background(), api, testLogger(), cfg, "", "bucket", "prefix/", []string{filepath.Join(dir, "a.txt")})
	require.NoError(t, err)

	assert.Equal(t, []byte("hello"), api.objects["prefix/data/"+filepath.Join(dir, "a.txt")])
	assert.Equal(t, "5\t"+filepath.Join(dir, "a.txt")+"\n", string(api.objects["prefix/manifest"]))
}

func TestRunUploadsEmptyFileViaPutObject(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty"), nil, 0o644))

	api := newFakeAPI()
	err := Run(context.Background(), api, testLogger(), DefaultConfig(), "", "bucket", "p/", []string{filepath.Join(dir, "empty")})
	require.NoError(t, err)

	body, ok := api.objects["p/data/"+filepath.Join(dir, "empty")]
	require.True(t, ok)
	assert.Empty(t, body)
}

func TestRunSplitsMultipleParts(t *testing.T) {
	dir := t.TempDir()
	content := make([]byte, 33*1024*1024)
	for i := range content {
		content[i] = byte(i % 256)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.bin"), content, 0o644))

	api := newFakeAPI()
	cfg := DefaultConfig()
	cfg.PartSize = 16 * 1024 * 1024

	err := Run(context.Background(), api, testLogger(), cfg, "", "bucket", "p/", []string{filepath.Join(dir, "big.bin")})
	require.NoError(t, err)
	assert.Equal(t, content, api.objects["p/data/"+filepath.Join(dir, "big.bin")])
}

func TestRunManifestListsEveryWalkedFile(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"a/b/c.txt": "1",
		"a/b/d.txt": "22",
		"a/e.txt":   "333",
	}
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	api := newFakeAPI()
	err := Run(context.Background(), api, testLogger(), DefaultConfig(), "", "bucket", "p/", []string{dir})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(api.objects["p/manifest"]), "\n"), "\n")
	require.Len(t, lines, len(files))

	got := make(map[string]bool)
	for _, line := range lines {
		got[line] = true
	}
	for rel, content := range files {
		want := strconv.Itoa(len(content)) + "\t" + filepath.Join(dir, rel)
		assert.True(t, got[want], want)
	}
}

func TestRunRetriesTransientUploadPartFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))

	api := newFakeAPI()
	api.uploadPartFailures = 2

	cfg := DefaultConfig()
	cfg.RetryPolicy.WaitBase = time.Millisecond
	cfg.RetryPolicy.WaitMax = 2 * time.Millisecond

	err := Run(context.Background(), api, testLogger(), cfg, "", "bucket", "p/", []string{filepath.Join(dir, "a.txt")})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), api.objects["p/data/"+filepath.Join(dir, "a.txt")])
}

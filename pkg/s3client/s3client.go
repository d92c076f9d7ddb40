// Package s3client builds the single, shared, internally thread-safe S3
// client s3ar uses for every RPC, and resolves the two key names the
// archive format needs: the manifest key and each file's data key.
//
// This package is the thin adapter the rest of s3ar calls into instead of
// touching the AWS SDK directly, collapsed down to one client since the
// SDK's *s3.Client is already safe for concurrent use.
package s3client

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// defaultRegion is s3ar's fixed region label. It is sent to the SDK for
// signing purposes even when S3_ENDPOINT points somewhere that does not
// recognize AWS regions at all.
const defaultRegion = "ap-northeast-1"

// EndpointEnvVar is the environment variable that overrides the S3
// endpoint.
const EndpointEnvVar = "S3_ENDPOINT"

// New builds the shared *s3.Client s3ar uses for the lifetime of one
// invocation. If S3_ENDPOINT is set, the client is pointed at it with
// path-style addressing and redirect-following disabled, since most
// S3-compatible endpoints 301 on virtual-hosted-style requests s3ar never
// wants to follow transparently. Credentials come from the SDK's standard
// chain (env vars, shared config/credentials files, container/IAM role).
func New(ctx context.Context, log *logrus.Entry) (*s3.Client, error) {
	endpoint := os.Getenv(EndpointEnvVar)

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(defaultRegion),
	}
	if endpoint != "" {
		opts = append(opts, config.WithHTTPClient(&http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3client: load config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
		log.WithFields(logrus.Fields{
			"endpoint":   endpoint,
			"region":     defaultRegion,
			"path_style": true,
		}).Info("s3ar: using custom S3 endpoint")
	}

	return s3.NewFromConfig(cfg, clientOpts...), nil
}

// DataKey returns the object key under which path's bytes are stored:
// prefix + "data/" + path. prefix is used verbatim, including its
// trailing separator if any.
func DataKey(prefix, path string) string {
	return prefix + "data/" + path
}

// ManifestKey returns the object key for the archive's manifest:
// prefix + "manifest".
func ManifestKey(prefix string) string {
	return prefix + "manifest"
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cookpad/s3ar/pkg/s3client"
	"github.com/cookpad/s3ar/pkg/upload"
)

func newUploadCmd() *cobra.Command {
	cfg := upload.DefaultConfig()
	var abortOnFailure bool

	cmd := &cobra.Command{
		Use:   "upload TARGET_BUCKET TARGET_PREFIX FILE...",
		Short: "Pack one or more files or directories into an S3 prefix",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			bucket, prefix, roots := args[0], args[1], args[2:]
			cfg.AbortOnFailure = abortOnFailure

			log := newLogger()
			ctx := cmd.Context()

			client, err := s3client.New(ctx, log)
			if err != nil {
				return fmt.Errorf("s3ar: %w", err)
			}

			return upload.Run(ctx, client, log, cfg, directory, bucket, prefix, roots)
		},
	}

	cmd.Flags().IntVarP(&cfg.FileConcurrency, "file-concurrency", "F", cfg.FileConcurrency, "maximum in-flight files")
	cmd.Flags().IntVarP(&cfg.PartConcurrency, "part-concurrency", "P", cfg.PartConcurrency, "maximum in-flight part operations")
	cmd.Flags().IntVarP(&cfg.PartQueueSize, "part-queue-size", "Q", cfg.PartQueueSize, "backpressure bound between per-file drivers and the part executor")
	cmd.Flags().Int64VarP(&cfg.PartSize, "part-size", "s", cfg.PartSize, "multipart part size in bytes")
	cmd.Flags().BoolVar(&abortOnFailure, "abort-on-failure", cfg.AbortOnFailure, "best-effort AbortMultipartUpload when a per-file upload fails")

	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cookpad/s3ar/pkg/download"
	"github.com/cookpad/s3ar/pkg/s3client"
)

func newDownloadCmd() *cobra.Command {
	cfg := download.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "download SOURCE_BUCKET SOURCE_PREFIX",
		Short: "Reconstruct a directory tree from an S3 prefix written by upload",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bucket, prefix := args[0], args[1]

			log := newLogger()
			ctx := cmd.Context()

			client, err := s3client.New(ctx, log)
			if err != nil {
				return fmt.Errorf("s3ar: %w", err)
			}

			return download.Run(ctx, client, log, cfg, directory, bucket, prefix)
		},
	}

	cmd.Flags().IntVarP(&cfg.FileConcurrency, "file-concurrency", "F", cfg.FileConcurrency, "maximum in-flight files")
	cmd.Flags().IntVarP(&cfg.PartConcurrency, "part-concurrency", "P", cfg.PartConcurrency, "maximum in-flight part operations")

	return cmd
}

package main

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// runID correlates every log line emitted by one invocation.
var runID = uuid.NewString()

var directory string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "s3ar",
		Short:         "Archive and restore directory trees to an S3-compatible object store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&directory, "directory", "C", "", "change to DIR before walking or writing files")

	root.AddCommand(newUploadCmd())
	root.AddCommand(newDownloadCmd())
	return root
}

func newLogger() *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log.WithField("run_id", runID)
}

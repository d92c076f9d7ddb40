package s3client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDataKey(t *testing.T) {
	assert.Equal(t, "backups/2026/data/a/b.txt", DataKey("backups/2026/", "a/b.txt"))
	assert.Equal(t, "backupsdata/a/b.txt", DataKey("backups", "a/b.txt"))
}

func TestManifestKey(t *testing.T) {
	assert.Equal(t, "backups/2026/manifest", ManifestKey("backups/2026/"))
	assert.Equal(t, "backupsmanifest", ManifestKey("backups"))
}

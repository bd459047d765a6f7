package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewStoreFromEnvDefaultsToFilesystem(t *testing.T) {
	os.Unsetenv("ARCHIVE_STORAGE_TYPE")
	tmpDir := t.TempDir()
	t.Setenv("DATA_DIR", tmpDir)

	store, err := NewStoreFromEnv(context.Background())
	require.NoError(t, err)

	fs, ok := store.(*FileStore)
	require.True(t, ok, "expected *FileStore, got %T", store)
	require.Equal(t, filepath.Join(tmpDir, "archive"), fs.baseDir)
}

func TestNewStoreFromEnvS3RequiresBucket(t *testing.T) {
	t.Setenv("ARCHIVE_STORAGE_TYPE", "s3")
	os.Unsetenv("ARCHIVE_S3_BUCKET")

	_, err := NewStoreFromEnv(context.Background())
	require.Error(t, err)
}

func TestNewStoreFromEnvRejectsUnknownType(t *testing.T) {
	t.Setenv("ARCHIVE_STORAGE_TYPE", "nonsense")

	_, err := NewStoreFromEnv(context.Background())
	require.Error(t, err)
}

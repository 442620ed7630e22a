package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, StorageLocal, cfg.StorageType)
	assert.Equal(t, "pathways.json", cfg.StoragePath)
	assert.Equal(t, 120, cfg.DefaultTimeoutSeconds)
	assert.Equal(t, 300, cfg.DefaultClientToolTimeoutSeconds)
	assert.Equal(t, 600, cfg.ClientToolCleanupMaxAgeSeconds)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storageType: object-store
storageConnection: my-bucket
publishKey: k1
defaultTimeoutSeconds: 45
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, StorageObjectStore, cfg.StorageType)
	assert.Equal(t, "my-bucket", cfg.StorageConnection)
	assert.Equal(t, "k1", cfg.PublishKey)
	assert.Equal(t, 45*time.Second, cfg.DefaultTimeout())
	// Unset fields still get defaults.
	assert.Equal(t, 300, cfg.DefaultClientToolTimeoutSeconds)
}

func TestLoad_EnvOverlay(t *testing.T) {
	t.Setenv("PATHWAYS_PUBLISH_KEY", "env-key")
	t.Setenv("PATHWAYS_DEFAULT_TIMEOUT_SECONDS", "10")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.PublishKey)
	assert.Equal(t, 10, cfg.DefaultTimeoutSeconds)
}

func TestLoad_InvalidStorageType(t *testing.T) {
	t.Setenv("PATHWAYS_STORAGE_TYPE", "ftp")

	_, err := Load("")
	assert.ErrorContains(t, err, "invalid storageType")
}

func TestLoad_BlobRequiresConnection(t *testing.T) {
	t.Setenv("PATHWAYS_STORAGE_TYPE", "blob")

	_, err := Load("")
	assert.ErrorContains(t, err, "storageConnection is required")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.ErrorContains(t, err, "failed to read config file")
}

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romanbabin/convogate/internal/config"
)

func TestNew_LiteProfileUsesSQLite(t *testing.T) {
	cfg := &config.Config{
		Profile: config.ProfileLite,
		Storage: config.StorageConfig{Backend: config.StorageBackendSQLite, FilesystemPath: filepath.Join(t.TempDir(), "convogate.db")},
	}

	repo, err := New(context.Background(), cfg, nil, nil, nil)
	require.NoError(t, err)
	defer repo.Close()

	assert.NoError(t, repo.Health(context.Background()))
}

func TestNew_StandardProfileWithoutPoolFails(t *testing.T) {
	cfg := &config.Config{Profile: config.ProfileStandard}

	_, err := New(context.Background(), cfg, nil, nil, nil)
	require.Error(t, err)
	var initErr *ErrStorageInitFailed
	assert.ErrorAs(t, err, &initErr)
}

func TestNew_UnknownProfileIsInvalid(t *testing.T) {
	cfg := &config.Config{Profile: "bogus"}

	_, err := New(context.Background(), cfg, nil, nil, nil)
	require.Error(t, err)
	var profileErr *ErrInvalidProfile
	assert.ErrorAs(t, err, &profileErr)
}

func TestNewFallback_ReturnsHealthyInMemoryRepository(t *testing.T) {
	repo := NewFallback(nil, nil)
	defer repo.Close()
	assert.NoError(t, repo.Health(context.Background()))
}

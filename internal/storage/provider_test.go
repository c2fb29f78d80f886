package storage

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/trailcam-archiver/internal/archive"
)

func TestNewMemory(t *testing.T) {
	t.Parallel()

	store, err := New(context.Background(), Config{Provider: ProviderMemory}, nil)
	require.NoError(t, err)
	uri, err := store.PutObject(context.Background(), "images/a.jpg", archive.ObjectMeta{}, bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	assert.Equal(t, "memory://images/a.jpg", uri)
	assert.NoError(t, store.Close())
}

func TestNewLocal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(context.Background(), Config{Provider: ProviderLocal, LocalDir: dir}, nil)
	require.NoError(t, err)
	uri, err := store.PutObject(context.Background(), "images/a.jpg", archive.ObjectMeta{}, bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(uri, filepath.Join("images", "a.jpg")))
}

func TestNewUnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Provider: "s3"}, nil)
	assert.ErrorContains(t, err, "unknown storage provider")
}

func TestMockObjectStore(t *testing.T) {
	t.Parallel()

	m := &MockObjectStore{}
	m.On("PutObject", context.Background(), "p", archive.ObjectMeta{}).Return("", assert.AnError).Once()
	_, err := m.PutObject(context.Background(), "p", archive.ObjectMeta{}, bytes.NewReader([]byte("x")))
	assert.ErrorIs(t, err, assert.AnError)
	m.AssertExpectations(t)
}

package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/trailcam-archiver/internal/archive"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	meta := archive.ObjectMeta{ContentType: "image/jpeg", CacheControl: "public, max-age=31536000"}
	uri, err := store.PutObject(context.Background(), "images/a_1.jpg", meta, bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://images/a_1.jpg", uri)

	payload[0] = 'C'
	obj, ok := store.Get("images/a_1.jpg")
	require.True(t, ok)
	assert.Equal(t, "content", string(obj.Data))
	assert.Equal(t, meta, obj.Meta)
	assert.Equal(t, []string{"images/a_1.jpg"}, store.Paths())
	assert.Equal(t, 1, store.Len())
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), " ", archive.ObjectMeta{}, bytes.NewReader(nil))
	assert.Error(t, err)
}

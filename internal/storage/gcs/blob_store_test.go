package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/trailcam-archiver/internal/archive"
)

func newTestClient(t *testing.T, handler http.Handler) *storage.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)

	client := newTestClient(t, http.NotFoundHandler())
	_, err = New(client, Config{})
	assert.Error(t, err)
}

func TestPutObjectUploadsWithHints(t *testing.T) {
	t.Parallel()

	const bucket = "trailcam"
	objectName := "images/abc_0190.jpg"
	data := []byte("\xff\xd8\xffjpeg-bytes")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, fmt.Sprintf("/upload/storage/v1/b/%s/o", bucket))
		assert.Equal(t, objectName, r.URL.Query().Get("name"))
		assert.Equal(t, "publicRead", r.URL.Query().Get("predefinedAcl"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), string(data))
		assert.Contains(t, string(body), `"cacheControl":"public, max-age=31536000"`)
		assert.Contains(t, string(body), `"contentType":"image/jpeg"`)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"name": %q, "bucket": %q}`, objectName, bucket)
	})

	store, err := New(newTestClient(t, handler), Config{Bucket: bucket, PredefinedACL: "publicRead"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), objectName, archive.ObjectMeta{
		ContentType:  "image/jpeg",
		CacheControl: "public, max-age=31536000",
	}, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "https://storage.googleapis.com/trailcam/images/abc_0190.jpg", uri)
}

func TestPutObjectUsesPublicBaseURL(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"name": "images/x.png", "bucket": "b"}`)
	})
	store, err := New(newTestClient(t, handler), Config{Bucket: "b", PublicBaseURL: "https://cdn.example.com/"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "images/x.png", archive.ObjectMeta{}, bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/images/x.png", uri)
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		wantFatal bool
	}{
		{name: "server error is transient", status: http.StatusInternalServerError, wantFatal: false},
		{name: "missing bucket is fatal", status: http.StatusNotFound, wantFatal: true},
		{name: "forbidden is fatal", status: http.StatusForbidden, wantFatal: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				fmt.Fprintf(w, `{"error": {"code": %d, "message": "nope"}}`, tc.status)
			})
			store, err := New(newTestClient(t, handler), Config{Bucket: "b"})
			require.NoError(t, err)

			_, err = store.PutObject(context.Background(), "images/x.jpg", archive.ObjectMeta{}, bytes.NewReader([]byte("x")))
			require.Error(t, err)
			assert.Equal(t, tc.wantFatal, archive.IsFatal(err))
		})
	}
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store, err := New(newTestClient(t, http.NotFoundHandler()), Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "", archive.ObjectMeta{}, bytes.NewReader(nil))
	assert.Error(t, err)
}

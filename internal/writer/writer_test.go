package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/trailcam-archiver/internal/archive"
	catalogmem "github.com/JakeFAU/trailcam-archiver/internal/catalog/memory"
	"github.com/JakeFAU/trailcam-archiver/internal/storage"
	storemem "github.com/JakeFAU/trailcam-archiver/internal/storage/memory"
)

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("u%d", s.n), nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var now = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func stagePayload(t *testing.T) archive.Payload {
	t.Helper()
	p := filepath.Join(t.TempDir(), "download.bin")
	data := append([]byte{0xFF, 0xD8, 0xFF}, bytes.Repeat([]byte{0x42}, 2048)...)
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return archive.Payload{Path: p, Size: int64(len(data)), ContentType: "image/jpeg", Extension: ".jpg"}
}

func record(id, hash string) archive.Record {
	return archive.Record{
		ExternalID:        id,
		ContentHash:       hash,
		CaptureTime:       now.Add(-time.Hour),
		CaptureTimeParsed: true,
	}
}

func newWriter(t *testing.T, cat archive.Catalog, store archive.ObjectStore, logger *zap.Logger) *Writer {
	t.Helper()
	w, err := New(cat, store, &seqIDs{}, fixedClock{t: now}, Config{Prefix: "images", RetryDelay: 0}, logger)
	require.NoError(t, err)
	return w
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestCommitSuccess(t *testing.T) {
	t.Parallel()

	cat := catalogmem.New()
	store := storemem.NewBlobStore()
	w := newWriter(t, cat, store, nil)
	payload := stagePayload(t)

	got, err := w.Commit(context.Background(), record("ph_1", "h1"), payload)
	require.NoError(t, err)

	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, "memory://images/ph_1_u1.jpg", got.AssetURI)
	assert.Equal(t, now, got.CreatedAt)
	assert.False(t, fileExists(payload.Path), "staged payload is removed after commit")

	obj, ok := store.Get("images/ph_1_u1.jpg")
	require.True(t, ok)
	assert.Equal(t, DefaultCacheControl, obj.Meta.CacheControl)
	assert.Equal(t, "image/jpeg", obj.Meta.ContentType)
	assert.Equal(t, payload.Size, int64(len(obj.Data)))

	stored, ok := cat.Get("ph_1")
	require.True(t, ok)
	assert.Equal(t, got.AssetURI, stored.AssetURI)
}

func TestCommitNeverReusesObjectNames(t *testing.T) {
	t.Parallel()

	store := storemem.NewBlobStore()
	w := newWriter(t, catalogmem.New(), store, nil)

	_, err := w.Commit(context.Background(), record("ph_1", "h1"), stagePayload(t))
	require.NoError(t, err)
	_, err = w.Commit(context.Background(), record("ph_2", "h2"), stagePayload(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"images/ph_1_u1.jpg", "images/ph_2_u2.jpg"}, store.Paths())
}

func TestCommitUploadFailureLeavesNoRow(t *testing.T) {
	t.Parallel()

	cat := catalogmem.New()
	store := &storage.MockObjectStore{}
	store.On("PutObject", mock.Anything, "images/ph_1_u1.jpg", mock.Anything).
		Return("", errors.New("503 service unavailable")).Times(3)
	w := newWriter(t, cat, store, nil)
	payload := stagePayload(t)

	_, err := w.Commit(context.Background(), record("ph_1", "h1"), payload)
	require.ErrorIs(t, err, archive.ErrCommit)
	assert.False(t, archive.IsFatal(err))
	assert.Empty(t, cat.Records())
	assert.True(t, fileExists(payload.Path), "staged payload is kept for a later retry")
	store.AssertExpectations(t)
}

func TestCommitRetriesTransientUpload(t *testing.T) {
	t.Parallel()

	cat := catalogmem.New()
	store := &storage.MockObjectStore{}
	store.On("PutObject", mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("timeout")).Twice()
	store.On("PutObject", mock.Anything, mock.Anything, mock.Anything).
		Return("gs://bucket/images/ph_1_u1.jpg", nil).Once()
	w := newWriter(t, cat, store, nil)

	got, err := w.Commit(context.Background(), record("ph_1", "h1"), stagePayload(t))
	require.NoError(t, err)
	assert.Equal(t, "gs://bucket/images/ph_1_u1.jpg", got.AssetURI)
	assert.Len(t, cat.Records(), 1)
	store.AssertNumberOfCalls(t, "PutObject", 3)
}

func TestCommitFatalUploadIsNotRetried(t *testing.T) {
	t.Parallel()

	store := &storage.MockObjectStore{}
	store.On("PutObject", mock.Anything, mock.Anything, mock.Anything).
		Return("", fmt.Errorf("%w: bucket missing", archive.ErrFatalConnectivity)).Once()
	w := newWriter(t, catalogmem.New(), store, nil)

	_, err := w.Commit(context.Background(), record("ph_1", "h1"), stagePayload(t))
	require.True(t, archive.IsFatal(err))
	store.AssertNumberOfCalls(t, "PutObject", 1)
}

func TestCommitRecheckFindsDuplicate(t *testing.T) {
	t.Parallel()

	cat := catalogmem.New()
	_, err := cat.Insert(context.Background(), archive.Record{ExternalID: "older", ContentHash: "h1", AssetURI: "memory://x"})
	require.NoError(t, err)
	store := &storage.MockObjectStore{}
	w := newWriter(t, cat, store, nil)

	_, err = w.Commit(context.Background(), record("ph_new", "h1"), stagePayload(t))
	require.ErrorIs(t, err, archive.ErrDuplicate)
	assert.NotErrorIs(t, err, archive.ErrCommit)
	store.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything, mock.Anything)
	assert.Len(t, cat.Records(), 1)
}

func TestCommitInsertFailureLogsOrphan(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	cat := catalogmem.New()
	cat.FailNextInsert(errors.New("statement timeout"))
	store := storemem.NewBlobStore()
	w := newWriter(t, cat, store, zap.New(core))
	payload := stagePayload(t)

	_, err := w.Commit(context.Background(), record("ph_1", "h1"), payload)
	require.ErrorIs(t, err, archive.ErrCommit)
	assert.Empty(t, cat.Records())
	assert.Equal(t, 1, store.Len(), "the uploaded object is left behind")
	assert.True(t, fileExists(payload.Path))

	orphans := logs.FilterMessageSnippet("orphaned").All()
	require.Len(t, orphans, 1)
	fields := orphans[0].ContextMap()
	assert.Equal(t, "ph_1", fields["external_id"])
	assert.Equal(t, "memory://images/ph_1_u1.jpg", fields["asset_uri"])
}

func TestCommitLogsArchivedRecord(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	w := newWriter(t, catalogmem.New(), storemem.NewBlobStore(), zap.New(core))

	_, err := w.Commit(context.Background(), record("ph_1", "h1"), stagePayload(t))
	require.NoError(t, err)

	archived := logs.FilterMessage("record archived").All()
	require.Len(t, archived, 1)
	assert.Equal(t, int64(1), archived[0].ContextMap()["record_id"])
	assert.Equal(t, "writer", archived[0].LoggerName)
}

func TestCommitInsertRaceDuplicate(t *testing.T) {
	t.Parallel()

	cat := catalogmem.New()
	cat.FailNextInsert(fmt.Errorf("insert record: %w", archive.ErrDuplicate))
	w := newWriter(t, cat, storemem.NewBlobStore(), nil)

	_, err := w.Commit(context.Background(), record("ph_1", "h1"), stagePayload(t))
	require.ErrorIs(t, err, archive.ErrCommit)
	assert.ErrorIs(t, err, archive.ErrDuplicate)
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(nil, storemem.NewBlobStore(), &seqIDs{}, fixedClock{}, Config{}, nil)
	assert.Error(t, err)
}

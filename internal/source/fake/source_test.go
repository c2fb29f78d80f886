package fake

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/trailcam-archiver/internal/archive"
)

func TestNavigation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := New(t.TempDir(), Item{ID: "B"}, Item{ID: "A"})

	_, err := src.CurrentID(ctx)
	require.ErrorIs(t, err, archive.ErrNavigation)

	require.NoError(t, src.Enter(ctx))
	id, err := src.CurrentID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "B", id)

	require.NoError(t, src.Advance(ctx))
	id, err = src.CurrentID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", id)

	require.ErrorIs(t, src.Advance(ctx), archive.ErrEndOfSequence)
	assert.Equal(t, 1, src.Advances())
}

func TestEnterEmpty(t *testing.T) {
	t.Parallel()
	require.ErrorIs(t, New(t.TempDir()).Enter(context.Background()), archive.ErrNavigation)
}

func TestFailAdvance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := New(t.TempDir(), Item{ID: "B"}, Item{ID: "A"}).FailAdvance(0, 2)
	require.NoError(t, src.Enter(ctx))

	require.ErrorIs(t, src.Advance(ctx), archive.ErrNavigation)
	require.ErrorIs(t, src.Advance(ctx), archive.ErrNavigation)
	require.NoError(t, src.Advance(ctx))
}

func TestExtractDefaultSidebar(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := New(t.TempDir(), Item{ID: "A"})
	require.NoError(t, src.Enter(ctx))

	meta, err := src.Extract(ctx)
	require.NoError(t, err)
	assert.Equal(t, "October 3, 2024 6:42 AM", meta.Timestamp)
	require.NotNil(t, meta.Environment.Wind)
	require.NotNil(t, meta.Environment.MoonPhase)
	assert.Equal(t, "Waning Gibbous", *meta.Environment.MoonPhase)
	assert.Equal(t, []string{"A"}, src.Extracted())
}

func TestFetchValidatesPayload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	src := New(dir, Item{ID: "big"}, Item{ID: "tiny", Payload: JPEG("tiny", 500)})
	require.NoError(t, src.Enter(ctx))

	payload, err := src.Fetch(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", payload.ContentType)
	assert.Equal(t, ".jpg", payload.Extension)
	assert.Equal(t, int64(4096), payload.Size)
	assert.Equal(t, dir, filepath.Dir(payload.Path))

	require.NoError(t, src.Advance(ctx))
	_, err = src.Fetch(ctx, "tiny")
	require.ErrorIs(t, err, archive.ErrDownload)
}

func TestFetchRejectsWrongCursor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := New(t.TempDir(), Item{ID: "A"})
	require.NoError(t, src.Enter(ctx))
	_, err := src.Fetch(ctx, "B")
	require.ErrorIs(t, err, archive.ErrDownload)
}

func TestInjectedErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	boom := errors.New("boom")
	src := New(t.TempDir(), Item{ID: "A", ExtractErr: boom, FetchErr: boom})
	require.NoError(t, src.Enter(ctx))

	_, err := src.Extract(ctx)
	require.ErrorIs(t, err, boom)
	_, err = src.Fetch(ctx, "A")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"A"}, src.Fetched())
}

func TestJPEGIsUniquePerSeed(t *testing.T) {
	t.Parallel()
	assert.NotEqual(t, JPEG("A", 2000), JPEG("B", 2000))
	assert.Len(t, JPEG("A", 2000), 2000)
}

func TestDemoIsNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := New(t.TempDir(), Demo(3)...)
	require.NoError(t, src.Enter(ctx))

	var ids, stamps []string
	for {
		id, err := src.CurrentID(ctx)
		require.NoError(t, err)
		meta, err := src.Extract(ctx)
		require.NoError(t, err)
		ids = append(ids, id)
		stamps = append(stamps, meta.Timestamp)
		if err := src.Advance(ctx); err != nil {
			require.ErrorIs(t, err, archive.ErrEndOfSequence)
			break
		}
	}

	assert.Equal(t, []string{"demo-3", "demo-2", "demo-1"}, ids)
	assert.Equal(t, []string{
		"October 28, 2024 6:00 PM",
		"October 28, 2024 5:00 PM",
		"October 28, 2024 4:00 PM",
	}, stamps)
}

package storage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/trailcam-archiver/internal/archive"
)

// MockObjectStore is a testify mock of archive.ObjectStore for fault injection.
type MockObjectStore struct {
	mock.Mock
}

// PutObject drains r so callers observe a realistic read and returns the stubbed values.
func (m *MockObjectStore) PutObject(ctx context.Context, path string, meta archive.ObjectMeta, r io.Reader) (string, error) {
	if r != nil {
		_, _ = io.Copy(io.Discard, r)
	}
	args := m.Called(ctx, path, meta)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}

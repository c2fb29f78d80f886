// Package storage selects the object store that receives archived payloads.
package storage

import (
	"context"
	"fmt"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/trailcam-archiver/internal/archive"
	"github.com/JakeFAU/trailcam-archiver/internal/storage/gcs"
	"github.com/JakeFAU/trailcam-archiver/internal/storage/local"
	"github.com/JakeFAU/trailcam-archiver/internal/storage/memory"
)

// Provider names accepted by New.
const (
	ProviderGCS    = "gcs"
	ProviderLocal  = "local"
	ProviderMemory = "memory"
)

// Config selects and configures an object store.
type Config struct {
	Provider      string
	Bucket        string
	PublicBaseURL string
	PredefinedACL string
	LocalDir      string
}

// Store is an object store plus its release hook.
type Store struct {
	archive.ObjectStore
	close func() error
}

// Close releases the underlying client, if any.
func (s *Store) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

// New builds the configured object store.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case ProviderGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: create gcs client: %w", archive.ErrFatalConnectivity, err)
		}
		store, err := gcs.New(client, gcs.Config{
			Bucket:        cfg.Bucket,
			PublicBaseURL: cfg.PublicBaseURL,
			PredefinedACL: cfg.PredefinedACL,
		})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		logger.Info("using gcs object store", zap.String("bucket", cfg.Bucket))
		return &Store{ObjectStore: store, close: client.Close}, nil
	case ProviderLocal:
		store, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		logger.Info("using local object store", zap.String("dir", cfg.LocalDir))
		return &Store{ObjectStore: store}, nil
	case ProviderMemory:
		logger.Info("using in-memory object store; payloads are discarded on exit")
		return &Store{ObjectStore: memory.NewBlobStore()}, nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}

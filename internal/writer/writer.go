// Package writer commits a validated payload and its record as one failure-atomic unit.
package writer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/trailcam-archiver/internal/archive"
	"github.com/JakeFAU/trailcam-archiver/internal/metrics"
	"github.com/JakeFAU/trailcam-archiver/internal/retry"
)

// DefaultCacheControl marks uploaded objects as immutable for a year.
const DefaultCacheControl = "public, max-age=31536000"

// Config tunes the commit protocol.
type Config struct {
	Prefix         string
	CacheControl   string
	UploadTimeout  time.Duration
	UploadAttempts int
	RetryDelay     time.Duration
	CatalogTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.CacheControl == "" {
		c.CacheControl = DefaultCacheControl
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = 60 * time.Second
	}
	if c.UploadAttempts <= 0 {
		c.UploadAttempts = 3
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.CatalogTimeout <= 0 {
		c.CatalogTimeout = 10 * time.Second
	}
	return c
}

// Writer uploads payloads and inserts catalog rows.
type Writer struct {
	catalog archive.Catalog
	store   archive.ObjectStore
	ids     archive.IDGenerator
	clock   archive.Clock
	policy  retry.Policy
	cfg     Config
	logger  *zap.Logger
}

// New wires a Writer.
func New(
	catalog archive.Catalog,
	store archive.ObjectStore,
	ids archive.IDGenerator,
	clock archive.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Writer, error) {
	if catalog == nil || store == nil || ids == nil || clock == nil {
		return nil, fmt.Errorf("writer requires catalog, object store, id generator and clock")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	cfg = cfg.withDefaults()
	return &Writer{
		catalog: catalog,
		store:   store,
		ids:     ids,
		clock:   clock,
		policy:  retry.NewFixed(cfg.UploadAttempts, cfg.RetryDelay),
		cfg:     cfg,
		logger:  logger.Named("writer"),
	}, nil
}

// Commit re-checks uniqueness, uploads the payload, inserts the row, then
// removes the staged file. The returned record carries the catalog id and
// asset URI.
//
// A duplicate found by the re-check returns archive.ErrDuplicate. Upload or
// insert failures return archive.ErrCommit; an unreachable catalog or store
// returns archive.ErrFatalConnectivity. The staged file is kept on failure.
func (w *Writer) Commit(ctx context.Context, rec archive.Record, payload archive.Payload) (archive.Record, error) {
	logger := w.logger.With(zap.String("external_id", rec.ExternalID))

	if err := w.recheck(ctx, rec); err != nil {
		return archive.Record{}, err
	}

	objectPath, err := w.objectPath(rec.ExternalID, payload)
	if err != nil {
		return archive.Record{}, fmt.Errorf("%w: %w", archive.ErrCommit, err)
	}
	uri, err := w.upload(ctx, objectPath, payload, logger)
	if err != nil {
		if archive.IsFatal(err) {
			return archive.Record{}, err
		}
		return archive.Record{}, fmt.Errorf("%w: upload %s: %w", archive.ErrCommit, objectPath, err)
	}

	rec.AssetURI = uri
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = w.clock.Now()
	}
	insertCtx, cancel := context.WithTimeout(ctx, w.cfg.CatalogTimeout)
	id, err := w.catalog.Insert(insertCtx, rec)
	cancel()
	if err != nil {
		metrics.ObserveOrphanedObject()
		logger.Warn("catalog insert failed after upload; object is orphaned",
			zap.String("asset_uri", uri),
			zap.Error(err),
		)
		if archive.IsFatal(err) {
			return archive.Record{}, err
		}
		return archive.Record{}, fmt.Errorf("%w: insert record: %w", archive.ErrCommit, err)
	}
	rec.ID = id

	if err := os.Remove(payload.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to remove staged payload", zap.String("path", payload.Path), zap.Error(err))
	}
	logger.Info("record archived", zap.Int64("record_id", id), zap.String("asset_uri", uri))
	return rec, nil
}

func (w *Writer) recheck(ctx context.Context, rec archive.Record) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.CatalogTimeout)
	defer cancel()

	found, err := w.catalog.ExistsByExternalID(ctx, rec.ExternalID)
	if err != nil {
		return w.lookupErr(err)
	}
	if found {
		return fmt.Errorf("%w: external id %s already archived", archive.ErrDuplicate, rec.ExternalID)
	}
	found, err = w.catalog.ExistsByHash(ctx, rec.ContentHash)
	if err != nil {
		return w.lookupErr(err)
	}
	if found {
		return fmt.Errorf("%w: content hash %s already archived", archive.ErrDuplicate, rec.ContentHash)
	}
	return nil
}

func (w *Writer) lookupErr(err error) error {
	if archive.IsFatal(err) {
		return err
	}
	return fmt.Errorf("%w: recheck catalog: %w", archive.ErrCommit, err)
}

// objectPath builds <prefix>/<external_id>_<unique><ext>. The suffix is fresh
// on every call so an object name is never reused.
func (w *Writer) objectPath(externalID string, payload archive.Payload) (string, error) {
	suffix, err := w.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate object suffix: %w", err)
	}
	ext := payload.Extension
	if ext == "" {
		ext = filepath.Ext(payload.Path)
	}
	name := strings.ReplaceAll(externalID, "/", "_") + "_" + suffix + ext
	if w.cfg.Prefix == "" {
		return name, nil
	}
	return path.Join(w.cfg.Prefix, name), nil
}

func (w *Writer) upload(ctx context.Context, objectPath string, payload archive.Payload, logger *zap.Logger) (string, error) {
	meta := archive.ObjectMeta{ContentType: payload.ContentType, CacheControl: w.cfg.CacheControl}
	var uri string
	err := retry.Do(ctx, w.policy, func(ctx context.Context, attempt int) error {
		f, err := os.Open(payload.Path)
		if err != nil {
			return retry.Permanent(fmt.Errorf("open staged payload: %w", err))
		}
		defer func() { _ = f.Close() }()

		attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.UploadTimeout)
		defer cancel()
		u, err := w.store.PutObject(attemptCtx, objectPath, meta, f)
		if err != nil {
			metrics.ObserveUploadAttempt("error")
			logger.Warn("upload attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", w.cfg.UploadAttempts),
				zap.String("object", objectPath),
				zap.Error(err),
			)
			return err
		}
		metrics.ObserveUploadAttempt("success")
		uri = u
		return nil
	})
	if err != nil {
		return "", err
	}
	return uri, nil
}

package staging

import (
	"fmt"
	"os"

	"github.com/gabriel-vasile/mimetype"

	"github.com/JakeFAU/trailcam-archiver/internal/archive"
)

// Default payload limits.
const (
	DefaultMinBytes = 1000
	DefaultMaxBytes = 10 << 20
)

// DefaultAllowedTypes lists the accepted payload content types.
var DefaultAllowedTypes = []string{"image/jpeg", "image/png"}

// Limits describes what a valid payload looks like.
type Limits struct {
	MinBytes     int64
	MaxBytes     int64
	AllowedTypes []string
}

func (l Limits) withDefaults() Limits {
	if l.MinBytes <= 0 {
		l.MinBytes = DefaultMinBytes
	}
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultMaxBytes
	}
	if len(l.AllowedTypes) == 0 {
		l.AllowedTypes = DefaultAllowedTypes
	}
	return l
}

// Inspect validates the staged file at path and describes it. Failures wrap
// archive.ErrDownload.
func (l Limits) Inspect(path string) (archive.Payload, error) {
	l = l.withDefaults()
	info, err := os.Stat(path)
	if err != nil {
		return archive.Payload{}, fmt.Errorf("%w: stat %s: %w", archive.ErrDownload, path, err)
	}
	size := info.Size()
	if size < l.MinBytes {
		return archive.Payload{}, fmt.Errorf("%w: payload is %d bytes, below minimum %d", archive.ErrDownload, size, l.MinBytes)
	}
	if size > l.MaxBytes {
		return archive.Payload{}, fmt.Errorf("%w: payload is %d bytes, above maximum %d", archive.ErrDownload, size, l.MaxBytes)
	}
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return archive.Payload{}, fmt.Errorf("%w: detect content type: %w", archive.ErrDownload, err)
	}
	if !mimetype.EqualsAny(mtype.String(), l.AllowedTypes...) {
		return archive.Payload{}, fmt.Errorf("%w: content type %s not allowed", archive.ErrDownload, mtype.String())
	}
	return archive.Payload{
		Path:        path,
		Size:        size,
		ContentType: mtype.String(),
		Extension:   mtype.Extension(),
	}, nil
}

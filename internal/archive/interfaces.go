package archive

import (
	"context"
	"io"
	"time"
)

// Navigator drives the cursor through the remote record sequence.
//
// Advance is not idempotent; callers track position through CurrentID.
type Navigator interface {
	Enter(ctx context.Context) error
	Advance(ctx context.Context) error
	CurrentID(ctx context.Context) (string, error)
}

// Extractor reads the structured fields of the record under the cursor.
type Extractor interface {
	Extract(ctx context.Context) (Metadata, error)
}

// AssetFetcher downloads the payload of the record under the cursor.
type AssetFetcher interface {
	Fetch(ctx context.Context, externalID string) (Payload, error)
}

// Source bundles the capabilities exposed by one remote session.
type Source interface {
	Navigator
	Extractor
	AssetFetcher
	Close() error
}

// Catalog is the durable record store.
type Catalog interface {
	ExistsByExternalID(ctx context.Context, externalID string) (bool, error)
	ExistsByHash(ctx context.Context, hash string) (bool, error)
	// LatestExternalID returns "" when the catalog is empty.
	LatestExternalID(ctx context.Context) (string, error)
	Insert(ctx context.Context, record Record) (int64, error)
}

// ObjectStore writes payloads and returns a retrieval URI.
type ObjectStore interface {
	PutObject(ctx context.Context, path string, meta ObjectMeta, r io.Reader) (string, error)
}

// Publisher pushes archive notifications to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// RunLocker guards a catalog against concurrent sync runs.
type RunLocker interface {
	// AcquireRunLock reports false when another live holder owns name.
	AcquireRunLock(ctx context.Context, name, holder string) (bool, error)
	ReleaseRunLock(ctx context.Context, name, holder string) error
}

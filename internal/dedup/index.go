// Package dedup decides whether a candidate record has already been archived.
package dedup

import (
	"context"
	"fmt"
)

// Lookup is the authoritative catalog view used by the index.
type Lookup interface {
	ExistsByExternalID(ctx context.Context, externalID string) (bool, error)
	ExistsByHash(ctx context.Context, hash string) (bool, error)
}

// Set is an in-run collection of seen keys. It is not safe for concurrent use.
type Set map[string]struct{}

// NewSet returns an empty Set.
func NewSet() Set {
	return make(Set)
}

// Add records key.
func (s Set) Add(key string) {
	s[key] = struct{}{}
}

// Has reports whether key was added.
func (s Set) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Len returns the number of keys.
func (s Set) Len() int {
	return len(s)
}

// Index checks the session sets first and falls back to the catalog.
type Index struct {
	lookup Lookup
	ids    Set
	hashes Set
}

// New builds an Index over lookup. ids is the run's seen-id set and is shared
// with the caller; hashes seen this run are tracked internally.
func New(lookup Lookup, ids Set) *Index {
	if ids == nil {
		ids = NewSet()
	}
	return &Index{lookup: lookup, ids: ids, hashes: NewSet()}
}

// SeenByExternalID reports whether id was handled this run or is already archived.
func (x *Index) SeenByExternalID(ctx context.Context, id string) (bool, error) {
	if x.ids.Has(id) {
		return true, nil
	}
	found, err := x.lookup.ExistsByExternalID(ctx, id)
	if err != nil {
		return false, fmt.Errorf("lookup external id %s: %w", id, err)
	}
	return found, nil
}

// SeenByHash reports whether content with hash was handled this run or is already archived.
func (x *Index) SeenByHash(ctx context.Context, hash string) (bool, error) {
	if x.hashes.Has(hash) {
		return true, nil
	}
	found, err := x.lookup.ExistsByHash(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("lookup content hash %s: %w", hash, err)
	}
	return found, nil
}

// MarkSeen records id in the session set only.
func (x *Index) MarkSeen(id string) {
	x.ids.Add(id)
}

// MarkHash records a committed content hash in the session set only.
func (x *Index) MarkHash(hash string) {
	x.hashes.Add(hash)
}

// InSession reports whether id is in the session set without touching the catalog.
func (x *Index) InSession(id string) bool {
	return x.ids.Has(id)
}

// Package memory is an in-process catalog used by tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/trailcam-archiver/internal/archive"
)

// Store keeps records in memory with the same uniqueness rules as the SQL catalog.
type Store struct {
	mu         sync.RWMutex
	nextID     int64
	records    []archive.Record
	byExternal map[string]int
	byHash     map[string]int
	locks      map[string]string
	insertErr  error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		byExternal: make(map[string]int),
		byHash:     make(map[string]int),
		locks:      make(map[string]string),
	}
}

// ExistsByExternalID reports whether a record with externalID exists.
func (s *Store) ExistsByExternalID(_ context.Context, externalID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byExternal[externalID]
	return ok, nil
}

// ExistsByHash reports whether a record with hash exists.
func (s *Store) ExistsByHash(_ context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byHash[hash]
	return ok, nil
}

// LatestExternalID returns the external id of the newest record, preferring
// records whose capture time was parsed.
func (s *Store) LatestExternalID(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *archive.Record
	for i := range s.records {
		if latest == nil || newer(s.records[i], *latest) {
			latest = &s.records[i]
		}
	}
	if latest == nil {
		return "", nil
	}
	return latest.ExternalID, nil
}

func newer(a, b archive.Record) bool {
	if a.CaptureTimeParsed != b.CaptureTimeParsed {
		return a.CaptureTimeParsed
	}
	if !a.CaptureTime.Equal(b.CaptureTime) {
		return a.CaptureTime.After(b.CaptureTime)
	}
	return a.ID > b.ID
}

// Insert stores record and returns its id.
func (s *Store) Insert(_ context.Context, record archive.Record) (int64, error) {
	if record.ExternalID == "" {
		return 0, fmt.Errorf("external id is required")
	}
	if record.ContentHash == "" {
		return 0, fmt.Errorf("content hash is required")
	}
	if record.AssetURI == "" {
		return 0, fmt.Errorf("asset uri is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		err := s.insertErr
		s.insertErr = nil
		return 0, err
	}
	if _, ok := s.byExternal[record.ExternalID]; ok {
		return 0, fmt.Errorf("%w: external_id %s", archive.ErrDuplicate, record.ExternalID)
	}
	if _, ok := s.byHash[record.ContentHash]; ok {
		return 0, fmt.Errorf("%w: content_hash %s", archive.ErrDuplicate, record.ContentHash)
	}
	s.nextID++
	record.ID = s.nextID
	s.records = append(s.records, record)
	s.byExternal[record.ExternalID] = len(s.records) - 1
	s.byHash[record.ContentHash] = len(s.records) - 1
	return record.ID, nil
}

// FailNextInsert makes the next Insert return err.
func (s *Store) FailNextInsert(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertErr = err
}

// Records returns a copy of all records in insertion order.
func (s *Store) Records() []archive.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]archive.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Get returns the record for externalID.
func (s *Store) Get(externalID string) (archive.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byExternal[externalID]
	if !ok {
		return archive.Record{}, false
	}
	return s.records[i], true
}

// AcquireRunLock takes name for holder unless someone else holds it.
func (s *Store) AcquireRunLock(_ context.Context, name, holder string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.locks[name]; ok && current != holder {
		return false, nil
	}
	s.locks[name] = holder
	return true, nil
}

// ReleaseRunLock drops name if holder owns it.
func (s *Store) ReleaseRunLock(_ context.Context, name, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[name] == holder {
		delete(s.locks, name)
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() {}

//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/JakeFAU/trailcam-archiver/internal/archive"
)

type StoreIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *tcpostgres.PostgresContainer
	store     *Store
}

func (s *StoreIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := tcpostgres.Run(s.ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("archive_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	store, err := New(s.ctx, Config{DSN: dsn, LockTTL: time.Minute})
	s.Require().NoError(err)
	s.store = store
	s.Require().NoError(store.EnsureSchema(s.ctx))
	s.Require().NoError(store.EnsureSchema(s.ctx), "schema is idempotent")
}

func (s *StoreIntegrationSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *StoreIntegrationSuite) SetupTest() {
	_, err := s.store.pool.Exec(s.ctx, "TRUNCATE records, record_environment, sync_locks RESTART IDENTITY CASCADE")
	s.Require().NoError(err)
}

func TestStoreIntegrationSuite(t *testing.T) {
	suite.Run(t, new(StoreIntegrationSuite))
}

func (s *StoreIntegrationSuite) TestInsertAndLookups() {
	rec := sampleRecord()
	id, err := s.store.Insert(s.ctx, rec)
	s.Require().NoError(err)
	s.Positive(id)

	found, err := s.store.ExistsByExternalID(s.ctx, rec.ExternalID)
	s.Require().NoError(err)
	s.True(found)

	found, err = s.store.ExistsByHash(s.ctx, rec.ContentHash)
	s.Require().NoError(err)
	s.True(found)

	var temp float64
	var windUnit string
	err = s.store.pool.QueryRow(s.ctx,
		"SELECT temperature, wind_unit FROM record_environment WHERE record_id = $1", id).Scan(&temp, &windUnit)
	s.Require().NoError(err)
	s.InDelta(45.0, temp, 0.001)
	s.Equal("mph", windUnit)
}

func (s *StoreIntegrationSuite) TestUniqueConstraints() {
	rec := sampleRecord()
	_, err := s.store.Insert(s.ctx, rec)
	s.Require().NoError(err)

	sameID := rec
	sameID.ContentHash = "other"
	_, err = s.store.Insert(s.ctx, sameID)
	s.ErrorIs(err, archive.ErrDuplicate)

	sameHash := rec
	sameHash.ExternalID = "ph_other"
	_, err = s.store.Insert(s.ctx, sameHash)
	s.ErrorIs(err, archive.ErrDuplicate)
}

func (s *StoreIntegrationSuite) TestLatestPrefersParsedCaptureTime() {
	base := sampleRecord()

	older := base
	older.ExternalID, older.ContentHash = "A", "ha"
	older.CaptureTime = base.CaptureTime.Add(-time.Hour)
	newest := base
	newest.ExternalID, newest.ContentHash = "C", "hc"
	unparsed := base
	unparsed.ExternalID, unparsed.ContentHash = "U", "hu"
	unparsed.CaptureTimeParsed = false
	unparsed.CaptureTime = base.CaptureTime.Add(24 * time.Hour)

	for _, r := range []archive.Record{newest, older, unparsed} {
		_, err := s.store.Insert(s.ctx, r)
		s.Require().NoError(err)
	}

	latest, err := s.store.LatestExternalID(s.ctx)
	s.Require().NoError(err)
	s.Equal("C", latest)
}

func (s *StoreIntegrationSuite) TestRunLockLease() {
	ok, err := s.store.AcquireRunLock(s.ctx, "sync", "a")
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.AcquireRunLock(s.ctx, "sync", "b")
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(s.store.ReleaseRunLock(s.ctx, "sync", "a"))
	ok, err = s.store.AcquireRunLock(s.ctx, "sync", "b")
	s.Require().NoError(err)
	s.True(ok)
}

// Package postgres implements the record catalog on PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/trailcam-archiver/internal/archive"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

const (
	existsByExternalIDSQL = `SELECT EXISTS (SELECT 1 FROM records WHERE external_id = $1)`
	existsByHashSQL       = `SELECT EXISTS (SELECT 1 FROM records WHERE content_hash = $1)`
	latestSQL             = `SELECT external_id FROM records
ORDER BY capture_time_parsed DESC, capture_time DESC, id DESC
LIMIT 1`
	insertRecordSQL = `INSERT INTO records (
	external_id,
	capture_time,
	capture_time_parsed,
	primary_location,
	secondary_location,
	raw_metadata,
	content_hash,
	asset_uri,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
) RETURNING id`
	insertEnvironmentSQL = `INSERT INTO record_environment (
	record_id,
	temperature,
	temperature_unit,
	wind_speed,
	wind_direction,
	wind_unit,
	pressure,
	pressure_unit,
	sun_status,
	moon_phase
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`
)

// Config controls the connection pool and per-query limits.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	QueryTimeout    time.Duration
	LockTTL         time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store is the PostgreSQL catalog.
type Store struct {
	pool         pool
	queryTimeout time.Duration
	lockTTL      time.Duration
}

// New connects to PostgreSQL and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("catalog.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, classify("connect postgres", err)
	}
	s, err := NewWithPool(p, cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, cfg Config) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Hour
	}
	return &Store{pool: p, queryTimeout: cfg.QueryTimeout, lockTTL: cfg.LockTTL}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the catalog is reachable. Any failure is fatal.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w: %w", archive.ErrFatalConnectivity, err)
	}
	return nil
}

// EnsureSchema applies the embedded schema. It is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return classify("apply schema", err)
	}
	return nil
}

// ExistsByExternalID reports whether a record with externalID exists.
func (s *Store) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	return s.exists(ctx, existsByExternalIDSQL, externalID)
}

// ExistsByHash reports whether a record with hash exists.
func (s *Store) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	return s.exists(ctx, existsByHashSQL, hash)
}

func (s *Store) exists(ctx context.Context, query, arg string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var found bool
	if err := s.pool.QueryRow(ctx, query, arg).Scan(&found); err != nil {
		return false, classify("exists query", err)
	}
	return found, nil
}

// LatestExternalID returns the newest record's external id, or "" when empty.
func (s *Store) LatestExternalID(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var id string
	err := s.pool.QueryRow(ctx, latestSQL).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", classify("latest record", err)
	}
	return id, nil
}

// Insert writes the record and its environment row in one transaction.
func (s *Store) Insert(ctx context.Context, record archive.Record) (int64, error) {
	if record.AssetURI == "" {
		return 0, fmt.Errorf("asset uri is required")
	}
	raw := record.RawMetadata
	if raw == nil {
		raw = map[string]any{}
	}
	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return 0, fmt.Errorf("marshal raw metadata: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, classify("begin insert", err)
	}
	done := false
	defer func() {
		if !done {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	var id int64
	err = tx.QueryRow(ctx, insertRecordSQL,
		record.ExternalID,
		record.CaptureTime,
		record.CaptureTimeParsed,
		record.PrimaryLocation,
		record.SecondaryLocation,
		rawJSON,
		record.ContentHash,
		record.AssetURI,
		record.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, classify("insert record", err)
	}

	if !record.Environment.IsEmpty() {
		if _, err := tx.Exec(ctx, insertEnvironmentSQL, environmentArgs(id, record.Environment)...); err != nil {
			return 0, classify("insert environment", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, classify("commit insert", err)
	}
	done = true
	return id, nil
}

func environmentArgs(id int64, env archive.Environment) []any {
	args := []any{id, nil, nil, nil, nil, nil, nil, nil, env.SunStatus, env.MoonPhase}
	if t := env.Temperature; t != nil {
		args[1], args[2] = t.Value, t.Unit
	}
	if w := env.Wind; w != nil {
		args[3], args[4], args[5] = w.Speed, w.Direction, w.Unit
	}
	if p := env.Pressure; p != nil {
		args[6], args[7] = p.Value, p.Unit
	}
	return args
}

// classify attaches the archive taxonomy to driver errors.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == uniqueViolation:
			return fmt.Errorf("%s: %w: %w", op, archive.ErrDuplicate, err)
		case strings.HasPrefix(pgErr.Code, "08"):
			return fmt.Errorf("%s: %w: %w", op, archive.ErrFatalConnectivity, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%s: %w: %w", op, archive.ErrFatalConnectivity, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%s: %w: %w", op, archive.ErrFatalConnectivity, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

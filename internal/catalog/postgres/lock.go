package postgres

import (
	"context"
)

const (
	acquireLockSQL = `INSERT INTO sync_locks (name, holder, acquired_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE
SET holder = EXCLUDED.holder, acquired_at = EXCLUDED.acquired_at
WHERE sync_locks.holder = EXCLUDED.holder
   OR sync_locks.acquired_at < now() - make_interval(secs => $3)`
	releaseLockSQL = `DELETE FROM sync_locks WHERE name = $1 AND holder = $2`
)

// AcquireRunLock takes the named lease for holder. A lease older than the
// configured TTL is considered abandoned and is taken over.
func (s *Store) AcquireRunLock(ctx context.Context, name, holder string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	tag, err := s.pool.Exec(ctx, acquireLockSQL, name, holder, s.lockTTL.Seconds())
	if err != nil {
		return false, classify("acquire run lock", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseRunLock drops the lease if holder still owns it.
func (s *Store) ReleaseRunLock(ctx context.Context, name, holder string) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	if _, err := s.pool.Exec(ctx, releaseLockSQL, name, holder); err != nil {
		return classify("release run lock", err)
	}
	return nil
}

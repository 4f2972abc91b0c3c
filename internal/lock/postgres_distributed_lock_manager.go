package lock

import (
	"context"
	"database/sql"
	"sync"

	"github.com/cockroachdb/errors"
)

// PostgresDistributedLockManager uses session level advisory locks. Each held
// lock pins the connection it was taken on, since unlocking from another
// session is a no-op.
type PostgresDistributedLockManager struct {
	db    *sql.DB
	mu    sync.Mutex
	conns map[int]*sql.Conn
}

func NewPostgresDistributedLockManager(db *sql.DB) *PostgresDistributedLockManager {
	return &PostgresDistributedLockManager{
		db:    db,
		conns: make(map[int]*sql.Conn),
	}
}

func (l *PostgresDistributedLockManager) Acquire(ctx context.Context, lockID int) error {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to acquire lock")
	}

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "failed to acquire lock")
	}

	l.hold(lockID, conn)
	return nil
}

func (l *PostgresDistributedLockManager) TryAcquire(ctx context.Context, lockID int) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, errors.Wrap(err, "failed to acquire lock")
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
		_ = conn.Close()
		return false, errors.Wrap(err, "failed to acquire lock")
	}
	if !acquired {
		_ = conn.Close()
		return false, nil
	}

	l.hold(lockID, conn)
	return true, nil
}

func (l *PostgresDistributedLockManager) Release(ctx context.Context, lockID int) error {
	l.mu.Lock()
	conn, ok := l.conns[lockID]
	delete(l.conns, lockID)
	l.mu.Unlock()

	if !ok {
		return errors.Newf("failed to release lock: lock %d is not held", lockID)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", lockID); err != nil {
		return errors.Wrap(err, "failed to release lock")
	}
	return nil
}

func (l *PostgresDistributedLockManager) hold(lockID int, conn *sql.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.conns[lockID]; ok {
		_ = prev.Close()
	}
	l.conns[lockID] = conn
}

package db

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/seats"
)

// accountLockSpace is the first key of every account advisory lock.
const accountLockSpace int32 = 0x5ea7

// AdvisoryLocker serializes work on an account across replicas with
// PostgreSQL session advisory locks. Contention inside one process is
// resolved in memory first so waiters do not each pin a connection.
type AdvisoryLocker struct {
	db     *DB
	local  *seats.KeyedLocker
	logger zerolog.Logger
}

var _ seats.Locker = (*AdvisoryLocker)(nil)

// NewAdvisoryLocker creates a new AdvisoryLocker.
func NewAdvisoryLocker(db *DB, logger zerolog.Logger) *AdvisoryLocker {
	return &AdvisoryLocker{
		db:     db,
		local:  seats.NewKeyedLocker(),
		logger: logger.With().Str("component", "advisory_locker").Logger(),
	}
}

func lockKey(id uuid.UUID) int32 {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	return int32(h.Sum32())
}

// Lock blocks until the account lock is held or ctx is done.
func (l *AdvisoryLocker) Lock(ctx context.Context, key uuid.UUID) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	conn, err := l.db.Pool.Acquire(ctx)
	if err != nil {
		unlockLocal()
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	objKey := lockKey(key)
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1, $2)", accountLockSpace, objKey); err != nil {
		conn.Release()
		unlockLocal()
		return nil, fmt.Errorf("acquire account advisory lock: %w", err)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1, $2)", accountLockSpace, objKey); err != nil {
			// A session lock dies with its connection.
			l.logger.Warn().Err(err).Str("account_id", key.String()).Msg("advisory unlock failed, closing connection")
			_ = conn.Conn().Close(ctx)
		}
		conn.Release()
		unlockLocal()
	}, nil
}

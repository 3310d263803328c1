package distlock

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLock_Exclusive(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)

	a := NewRedisLock(client, "recovery", time.Minute)
	b := NewRedisLock(client, "recovery", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// b does not own the lock, so its release is a no-op
	require.NoError(t, b.Release(ctx))
	ok, _ = b.Acquire(ctx)
	assert.False(t, ok)

	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_ExpiresAndExtend(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)

	a := NewRedisLock(client, "recovery", time.Second)
	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	extended, err := a.Extend(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, extended)

	mr.FastForward(2 * time.Minute)
	extended, err = a.Extend(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, extended)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)

	holder := NewRedisLock(client, "sweep", time.Minute)
	ok, _ := holder.Acquire(ctx)
	require.True(t, ok)

	called := false
	err := Run(ctx, NewRedisLock(client, "sweep", time.Minute), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.False(t, called)

	require.NoError(t, holder.Release(ctx))
	err = Run(ctx, NewRedisLock(client, "sweep", time.Minute), func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	// released after Run
	ok, _ = holder.Acquire(ctx)
	assert.True(t, ok)
}

func TestPGAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	lock := NewPGAdvisoryLock(db, "recovery")
	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).
		WithArgs(lock.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).
		WithArgs(lock.lockID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, lock.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewLockFallsBackToPostgres(t *testing.T) {
	var db *sql.DB
	_, isPG := NewLock(nil, db, "k", time.Second).(*PGAdvisoryLock)
	assert.True(t, isPG)
}

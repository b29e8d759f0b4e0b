package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-chat-go/internal/model"
)

func TestTurnLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	locker := NewTurnLocker(rdb, time.Minute)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "c1")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "c1")
	assert.ErrorIs(t, err, model.ErrTurnInProgress)

	other, err := locker.Acquire(ctx, "c2")
	require.NoError(t, err)
	other()

	release()
	release2, err := locker.Acquire(ctx, "c1")
	require.NoError(t, err)
	release2()
}

func TestTurnLocker_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	locker := NewTurnLocker(rdb, time.Second)
	ctx := context.Background()

	staleRelease, err := locker.Acquire(ctx, "c1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	_, err = locker.Acquire(ctx, "c1")
	require.NoError(t, err)

	staleRelease()
	_, err = locker.Acquire(ctx, "c1")
	assert.ErrorIs(t, err, model.ErrTurnInProgress)
}

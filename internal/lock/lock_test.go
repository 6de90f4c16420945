package redlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestLocker_Lock_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "balance:acc_1", "holder-1")

	mock.ExpectSetNX("balance:acc_1", "holder-1", 5*time.Second).SetVal(true)

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Lock_AlreadyHeld(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "balance:acc_1", "holder-1")

	mock.ExpectSetNX("balance:acc_1", "holder-1", 5*time.Second).SetVal(false)

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.EqualError(t, err, "lock for key balance:acc_1 is already held")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Unlock_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "balance:acc_1", "holder-1")

	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	mock.ExpectEval(script, []string{"balance:acc_1"}, "holder-1").SetVal(int64(1))

	err := locker.Unlock(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Unlock_NotHolder(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "balance:acc_1", "holder-1")

	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	mock.ExpectEval(script, []string{"balance:acc_1"}, "holder-1").SetVal(int64(0))

	err := locker.Unlock(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_MutualExclusion(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	first := NewLocker(client, "balance:acc_2", "holder-1")
	second := NewLocker(client, "balance:acc_2", "holder-2")

	ctx := context.Background()
	assert.NoError(t, first.Lock(ctx, time.Minute))
	assert.Error(t, second.Lock(ctx, time.Minute))

	assert.NoError(t, first.Unlock(ctx))
	assert.NoError(t, second.Lock(ctx, time.Minute))
}

func TestLocker_WaitLock(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	first := NewLocker(client, "balance:acc_3", "holder-1")
	ctx := context.Background()
	assert.NoError(t, first.Lock(ctx, time.Minute))

	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = first.Unlock(ctx)
	}()

	second := NewLocker(client, "balance:acc_3", "holder-2")
	assert.NoError(t, second.WaitLock(ctx, time.Minute, 2*time.Second))
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func newTestCache(t *testing.T) Cache {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCacheWithClient(client)
}

func TestSetAndGet(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	err := c.Set(ctx, "balance:acc_1", "cached-value", 10*time.Minute)
	assert.NoError(t, err)

	var got string
	err = c.Get(ctx, "balance:acc_1", &got)
	assert.NoError(t, err)
	assert.Equal(t, "cached-value", got)
}

func TestGet_Miss(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var got string
	err := c.Get(ctx, "balance:missing", &got)
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	assert.NoError(t, c.Set(ctx, "balance:acc_1", "cached-value", 10*time.Minute))
	assert.NoError(t, c.Delete(ctx, "balance:acc_1"))

	var got string
	assert.NoError(t, c.Get(ctx, "balance:acc_1", &got))
	assert.Empty(t, got)
}

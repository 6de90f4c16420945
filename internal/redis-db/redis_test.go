package redis_db

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
)

func TestParseRedisURL_BareAddress(t *testing.T) {
	opts, err := ParseRedisURL("redis:6379")
	assert.NoError(t, err)
	assert.Equal(t, "redis:6379", opts.Addr)
	assert.Empty(t, opts.Password)
}

func TestParseRedisURL_WithScheme(t *testing.T) {
	opts, err := ParseRedisURL("redis://:secret@localhost:6380/2")
	assert.NoError(t, err)
	assert.Equal(t, "localhost:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
}

func TestNewRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	client, err := NewRedisClient([]string{mr.Addr()})
	assert.NoError(t, err)
	assert.NotNil(t, client.Client())
	assert.NotNil(t, client.MakeRedisClient())
}

func TestNewRedisClient_Empty(t *testing.T) {
	_, err := NewRedisClient(nil)
	assert.Error(t, err)
}

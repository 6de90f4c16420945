package tuma

import (
	"embed"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tumapay/tuma/config"
	"github.com/tumapay/tuma/database"
	"github.com/tumapay/tuma/internal/cache"
	redis_db "github.com/tumapay/tuma/internal/redis-db"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// Tuma is the service facade over the ledger, balance, transaction, webhook
// and reconciliation operations. All writes go through it so the per-account
// serialization and cache invalidation stay in one place.
type Tuma struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	cache      cache.Cache
}

// NewTuma initializes the service facade with the provided datasource. It
// fetches the configuration and wires the redis client, cache and retry queue.
func NewTuma(db database.IDataSource) (*Tuma, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)

	return &Tuma{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		cache:      cache.NewCacheWithClient(redisClient.Client()),
	}, nil
}

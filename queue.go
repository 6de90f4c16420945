package tuma

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tumapay/tuma/config"
	redis_db "github.com/tumapay/tuma/internal/redis-db"
	"github.com/tumapay/tuma/model"
)

// Queue wraps the asynq client used to hand webhook retries to the worker
// process.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// WebhookRetryPayload is the task payload for a scheduled webhook retry.
type WebhookRetryPayload struct {
	RetryID string `json:"retry_id"`
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// queueWebhookRetry enqueues a task to reprocess a stored webhook at its
// scheduled time. The task ID is the retry record ID, so a record claimed by
// two sweeps still produces a single task.
func (q *Queue) queueWebhookRetry(record *model.WebhookRetryRecord) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(WebhookRetryPayload{RetryID: record.RetryID})
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(record.RetryID),
		asynq.Queue(cfg.Queue.WebhookRetryQueue),
		asynq.ProcessIn(time.Until(record.NextRetryAt)),
		asynq.MaxRetry(0),
	}
	task := asynq.NewTask(cfg.Queue.WebhookRetryQueue, payload, taskOptions...)
	_, err = q.Client.Enqueue(task)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return err
	}
	return nil
}

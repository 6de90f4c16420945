package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tumapay/tuma/config"
	redis_db "github.com/tumapay/tuma/internal/redis-db"
)

func initializeQueues(conf *config.Configuration) map[string]int {
	queues := make(map[string]int)
	queues[conf.Queue.WebhookRetryQueue] = 3
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(fmt.Sprintf("redis://%s", conf.Redis.Dns))
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

// runRetrySweep periodically dispatches due webhook retries. The sweep is a
// safety net under the scheduled asynq tasks: it picks up records whose
// enqueue failed or whose claim went stale after a worker crash.
func runRetrySweep(ctx context.Context, b *tumaInstance) {
	interval := time.Duration(b.cnf.WebhookRetry.SweepIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := b.tuma.ProcessDueRetries(ctx); err != nil {
					logrus.Errorf("webhook retry sweep failed: %v", err)
				}
			}
		}
	}()
}

// runStaleTransactionSweep periodically reports transactions stuck in
// pending with no provider callback.
func runStaleTransactionSweep(ctx context.Context, b *tumaInstance) {
	interval := time.Duration(b.cnf.StalePending.SweepIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := b.tuma.ReportStaleTransactions(ctx); err != nil {
					logrus.Errorf("stale transaction sweep failed: %v", err)
				}
			}
		}
	}()
}

// workerCommands defines the "workers" command that runs the webhook retry
// consumer and the periodic sweeps.
func workerCommands(b *tumaInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start tuma workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queues := initializeQueues(conf)

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			mux.HandleFunc(conf.Queue.WebhookRetryQueue, b.tuma.ProcessRetryTask)

			runRetrySweep(ctx, b)
			runStaleTransactionSweep(ctx, b)

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(fmt.Sprintf("redis://%s", conf.Redis.Dns))
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring",
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}

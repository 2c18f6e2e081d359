package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Y-Kanekoo/ai-shorts-factory/internal/queue"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/worker"
)

const workerGroup = "shortsfactory-workers"

func workerCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume run requests from the queue and drive the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Storage.Redis.Addr(),
				Password: cfg.Storage.Redis.Password,
				DB:       cfg.Storage.Redis.DB,
			})
			if err := rdb.Ping(ctx).Err(); err != nil {
				return err
			}
			defer func() { _ = rdb.Close() }()

			if err := queue.EnsureGroup(ctx, rdb, queue.RunStream, workerGroup); err != nil {
				return err
			}
			consumerName := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
			consumer := queue.NewConsumer(rdb, workerGroup, consumerName)

			logger := log.New(os.Stdout, "[WORKER] ", log.LstdFlags)
			processor := worker.NewProcessor(logger, a.sequencer, a.store, consumer)
			return processor.Start(ctx)
		},
	}
}

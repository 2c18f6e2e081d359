package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Y-Kanekoo/ai-shorts-factory/internal/queue"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/server"
)

const streamMaxLen = 10000

func serveCMD() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
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

			publisher := queue.NewPublisher(rdb, streamMaxLen)
			runs := server.NewRunsHandler(a.store, publisher, a.registry.Order())
			srv := server.New(runs, a.metrics, nil)

			if addr == "" {
				addr = cfg.Server.Address
			}
			return srv.Run(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

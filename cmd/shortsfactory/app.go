package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Y-Kanekoo/ai-shorts-factory/config"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/artifact"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/cache"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/collab/compose"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/collab/imagegen"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/collab/media"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/collab/publish"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/collab/script"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/collab/voice"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/pipeline"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/retrier"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/stages"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/store"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/telemetry"
)

// app bundles the wired pipeline dependencies shared by the commands.
type app struct {
	cfg       *config.Config
	store     *store.Store
	registry  *pipeline.Registry
	sequencer *pipeline.Sequencer
	metrics   *prometheus.Registry
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.LoadConfig(path)
}

// buildApp wires store, cache, workspace, collaborators, and sequencer
// from the loaded configuration.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Script.Validate(); err != nil {
		return nil, err
	}
	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	ws, err := artifact.NewWorkspace(cfg.General.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("prepare workspace: %w", err)
	}

	reg, err := pipeline.NewRegistry(
		stages.NewScript(script.New(cfg.Script), cfg.Script),
		stages.NewVoice(voice.New(cfg.Voice), cfg.Voice),
		stages.NewImageGen(imagegen.New(cfg.Image), cfg.Image),
		stages.NewMediaFetch(media.New(cfg.Media), cfg.Media),
		stages.NewCompose(compose.New(cfg.Video, nil, nil), cfg.Video),
		stages.NewPublish(publish.New(cfg.Publish, nil), cfg.Publish),
	)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	var opts []pipeline.Option
	cacheLogger := log.New(os.Stderr, "[CACHE] ", log.LstdFlags)
	idx := cache.New(st, cfg.Cache.MaxEntriesPerStage, cacheLogger)
	if cfg.Telemetry.Enabled {
		tele := telemetry.New(promReg)
		opts = append(opts, pipeline.WithMetrics(tele.SequencerCallbacks()))
		idx.OnCorruption = tele.CorruptionCallback()
	}

	retry := retrier.New(cfg.Retry.BaseDelay, cfg.Retry.Factor, cfg.Retry.MaxDelay,
		cfg.Retry.MaxAttempts, cfg.Retry.CallTimeout, log.New(os.Stderr, "[RETRY] ", log.LstdFlags))

	seq := pipeline.NewSequencer(st, idx, ws, reg, retry,
		log.New(os.Stderr, "[SEQ] ", log.LstdFlags), opts...)

	return &app{cfg: cfg, store: st, registry: reg, sequencer: seq, metrics: promReg}, nil
}

func (a *app) Close() {
	if a.store != nil && a.store.DB != nil {
		_ = a.store.DB.Close()
	}
}

// Package cache implements the fingerprint→record artifact index consulted
// before every cacheable stage execution.
package cache

import (
	"context"
	"fmt"
	"log"

	"github.com/Y-Kanekoo/ai-shorts-factory/internal/artifact"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/pipeline"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/store"
)

// Index is the persistence surface the cache needs, satisfied by
// *store.Store.
type Index interface {
	InsertArtifactIndex(ctx context.Context, stage, fingerprint string, rec pipeline.Record) (pipeline.Record, error)
	GetArtifactIndex(ctx context.Context, stage, fingerprint string) (store.IndexEntry, bool, error)
	TouchArtifactIndex(ctx context.Context, stage, fingerprint string) error
	DeleteArtifactIndex(ctx context.Context, stage, fingerprint string) error
	EvictArtifactIndex(ctx context.Context, stage string, maxEntries int) (int, error)
}

// Cache serves prior artifacts by content fingerprint, scoped per stage
// type. An index entry is only served after its artifact files are verified
// on disk; an entry whose files are gone is evicted and reported as a miss.
type Cache struct {
	index      Index
	maxEntries int
	logger     *log.Logger

	// OnCorruption is invoked when a verified-missing entry is evicted.
	OnCorruption func(stage string)
}

// New constructs a Cache. maxEntries bounds each stage's index; zero means
// unbounded.
func New(index Index, maxEntries int, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.New(log.Writer(), "[CACHE] ", log.LstdFlags)
	}
	return &Cache{index: index, maxEntries: maxEntries, logger: logger}
}

// Lookup returns the record stored under (stage, fingerprint), if any.
func (c *Cache) Lookup(ctx context.Context, stage, fingerprint string) (pipeline.Record, bool, error) {
	entry, found, err := c.index.GetArtifactIndex(ctx, stage, fingerprint)
	if err != nil {
		return pipeline.Record{}, false, fmt.Errorf("cache lookup: %w", err)
	}
	if !found {
		return pipeline.Record{}, false, nil
	}
	if len(entry.Record.Locations) > 0 && !artifact.AllExist(entry.Record.Locations) {
		c.logger.Printf("stage %s fingerprint %.12s: artifact missing on disk, evicting entry", stage, fingerprint)
		if err := c.index.DeleteArtifactIndex(ctx, stage, fingerprint); err != nil {
			return pipeline.Record{}, false, fmt.Errorf("evict corrupt entry: %w", err)
		}
		if c.OnCorruption != nil {
			c.OnCorruption(stage)
		}
		return pipeline.Record{}, false, nil
	}
	if err := c.index.TouchArtifactIndex(ctx, stage, fingerprint); err != nil {
		c.logger.Printf("stage %s: touch index entry: %v", stage, err)
	}
	return entry.Record, true, nil
}

// Insert registers a completed record under its fingerprint. The first
// writer wins; the returned record is whatever the index holds afterwards.
func (c *Cache) Insert(ctx context.Context, stage, fingerprint string, rec pipeline.Record) (pipeline.Record, error) {
	stored, err := c.index.InsertArtifactIndex(ctx, stage, fingerprint, rec)
	if err != nil {
		return pipeline.Record{}, fmt.Errorf("cache insert: %w", err)
	}
	if c.maxEntries > 0 {
		if n, err := c.index.EvictArtifactIndex(ctx, stage, c.maxEntries); err != nil {
			c.logger.Printf("stage %s: evict old entries: %v", stage, err)
		} else if n > 0 {
			c.logger.Printf("stage %s: evicted %d old entries", stage, n)
		}
	}
	return stored, nil
}

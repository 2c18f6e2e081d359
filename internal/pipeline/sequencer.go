package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Store captures the run/record persistence required by the sequencer.
type Store interface {
	GetRun(ctx context.Context, id string) (Run, bool, error)
	SetRunStatus(ctx context.Context, id, status string, errMsg string) error
	SetCurrentStage(ctx context.Context, id, stage string) error
	GetStageRecord(ctx context.Context, runID, stage string) (Record, bool, error)
	ListStageRecords(ctx context.Context, runID string) ([]Record, error)
	UpsertStageRecord(ctx context.Context, rec Record) error
	ResetStageRecords(ctx context.Context, runID string, stages []string) error
	CancelRequested(ctx context.Context, runID string) (bool, error)
}

// Cache is the fingerprint→record index consulted before executing a stage.
type Cache interface {
	Lookup(ctx context.Context, stage, fingerprint string) (Record, bool, error)
	Insert(ctx context.Context, stage, fingerprint string, rec Record) (Record, error)
}

// Workspace resolves the durable directory a stage writes its artifact into.
type Workspace interface {
	StageDir(stage, fingerprint string) (string, error)
}

// Retrier wraps collaborator calls with the configured backoff policy.
type Retrier interface {
	Do(ctx context.Context, op string, fn func(ctx context.Context) error) error
}

// Metrics aggregates optional telemetry callbacks.
type Metrics struct {
	StageDuration func(stage, outcome string, d time.Duration)
	CacheHit      func(stage string)
	CacheMiss     func(stage string)
}

// Sequencer drives stages in dependency order for one run: it resolves
// upstream records, validates them, consults the idempotency cache, and
// either reuses a prior artifact or executes and persists a new one.
type Sequencer struct {
	store    Store
	cache    Cache
	ws       Workspace
	registry *Registry
	retry    Retrier
	logger   *log.Logger
	metrics  Metrics

	mu       sync.Mutex
	inflight map[string]bool
}

// Option configures sequencer behaviour.
type Option func(*Sequencer)

// WithMetrics sets telemetry callbacks.
func WithMetrics(m Metrics) Option {
	return func(s *Sequencer) { s.metrics = m }
}

// NewSequencer constructs a Sequencer.
func NewSequencer(st Store, cache Cache, ws Workspace, reg *Registry, retry Retrier, logger *log.Logger, opts ...Option) *Sequencer {
	if logger == nil {
		logger = log.New(log.Writer(), "[SEQ] ", log.LstdFlags)
	}
	s := &Sequencer{
		store:    st,
		cache:    cache,
		ws:       ws,
		registry: reg,
		retry:    retry,
		logger:   logger,
		inflight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// phases is the execution plan: a linear chain with one fan-out/fan-in
// point. ImageGen and MediaFetch share no state and run concurrently;
// Composition is gated on both.
var phases = [][]string{
	{StageScript},
	{StageVoice},
	{StageImageGen, StageMediaFetch},
	{StageCompose},
	{StagePublish},
}

// RunAll drives the full pipeline for runID, resuming past stages that
// already hold a usable record. The final run status reflects how far the
// chain got: complete, partial, or failed.
func (s *Sequencer) RunAll(ctx context.Context, runID string) error {
	return s.drive(ctx, runID, nil)
}

// Rerun re-executes stage and everything strictly downstream of it. All
// affected stages bypass the cache: fingerprints are derived from logical
// inputs, so a downstream stage's fingerprint cannot tell a fresh upstream
// artifact from the stale one it was computed against. Forcing the whole
// downstream set is the only way a rerun actually propagates.
func (s *Sequencer) Rerun(ctx context.Context, runID, stage string) error {
	affected, err := s.registry.Downstream(stage)
	if err != nil {
		return err
	}
	if err := s.store.ResetStageRecords(ctx, runID, affected); err != nil {
		return fmt.Errorf("reset stage records: %w", err)
	}
	force := make(map[string]bool, len(affected))
	for _, name := range affected {
		force[name] = true
	}
	return s.drive(ctx, runID, force)
}

func (s *Sequencer) drive(ctx context.Context, runID string, force map[string]bool) error {
	if _, ok, err := s.run(ctx, runID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err := s.store.SetRunStatus(ctx, runID, RunRunning, ""); err != nil {
		return err
	}

	for _, phase := range phases {
		cancelled, err := s.store.CancelRequested(ctx, runID)
		if err != nil {
			return err
		}
		if cancelled {
			s.logger.Printf("run %s cancelled before stage %v", runID, phase)
			return s.finish(ctx, runID, "", ErrRunCancelled)
		}

		if len(phase) == 1 {
			if _, err := s.ExecuteStageForced(ctx, runID, phase[0], force[phase[0]]); err != nil {
				// A duplicate dispatch is not a failure: the stage is
				// still executing elsewhere, so the run status belongs
				// to that execution.
				if errors.Is(err, ErrStageRunning) {
					return err
				}
				return s.finish(ctx, runID, phase[0], err)
			}
			continue
		}

		// Fan-out: dispatch each branch independently so one branch's
		// failure never blocks the other.
		var wg sync.WaitGroup
		errs := make(map[string]error, len(phase))
		var mu sync.Mutex
		for _, name := range phase {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				_, err := s.ExecuteStageForced(ctx, runID, name, force[name])
				mu.Lock()
				errs[name] = err
				mu.Unlock()
			}(name)
		}
		wg.Wait()
		for _, name := range phase {
			if errs[name] != nil {
				if errors.Is(errs[name], ErrStageRunning) {
					return errs[name]
				}
				return s.finish(ctx, runID, name, errs[name])
			}
		}
	}

	if err := s.store.SetCurrentStage(ctx, runID, ""); err != nil {
		return err
	}
	return s.store.SetRunStatus(ctx, runID, RunComplete, "")
}

// finish settles the run status after a stage-level failure: partial if any
// stage produced a usable artifact, failed otherwise. Successful upstream
// artifacts are never cleaned up; the run stays inspectable and resumable.
func (s *Sequencer) finish(ctx context.Context, runID, stage string, cause error) error {
	status := RunFailed
	if records, err := s.store.ListStageRecords(ctx, runID); err == nil {
		for _, rec := range records {
			if rec.Usable() {
				status = RunPartial
				break
			}
		}
	}
	msg := cause.Error()
	if stage != "" {
		msg = fmt.Sprintf("stage %s: %v", stage, cause)
	}
	if err := s.store.SetRunStatus(ctx, runID, status, msg); err != nil {
		s.logger.Printf("run %s: record final status: %v", runID, err)
	}
	return cause
}

// ExecuteStage runs a single stage for runID, reusing a prior usable record
// or cached artifact when the fingerprint matches.
func (s *Sequencer) ExecuteStage(ctx context.Context, runID, stage string) (Record, error) {
	return s.ExecuteStageForced(ctx, runID, stage, false)
}

// ExecuteStageForced is ExecuteStage with an optional cache bypass used by
// explicit re-run requests.
func (s *Sequencer) ExecuteStageForced(ctx context.Context, runID, stage string, force bool) (Record, error) {
	run, ok, err := s.run(ctx, runID)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	st, ok := s.registry.Stage(stage)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}

	// At most one concurrent execution per stage-per-run: concurrent
	// duplicates are rejected, never run twice against the collaborator.
	key := runID + "/" + stage
	s.mu.Lock()
	if s.inflight[key] {
		s.mu.Unlock()
		return Record{}, ErrStageRunning
	}
	s.inflight[key] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
	}()

	if existing, found, err := s.store.GetStageRecord(ctx, runID, stage); err != nil {
		return Record{}, err
	} else if found {
		if existing.Status == StageRunning {
			return Record{}, ErrStageRunning
		}
		if existing.Usable() && !force {
			return existing, nil
		}
	}

	upstream, err := s.upstreamRecords(ctx, runID, st)
	if err != nil {
		return Record{}, err
	}
	if err := st.ValidateInputs(upstream); err != nil {
		return Record{}, err
	}

	in := Inputs{Topic: run.Topic, Keywords: run.Keywords}
	fp := st.Fingerprint(in, upstream)

	if st.Cacheable() && !force {
		cached, hit, err := s.cache.Lookup(ctx, stage, fp)
		if err != nil {
			return Record{}, err
		}
		if hit {
			if s.metrics.CacheHit != nil {
				s.metrics.CacheHit(stage)
			}
			s.logger.Printf("run %s stage %s: cache hit %s", runID, stage, shortFP(fp))
			rec := cached
			rec.RunID = runID
			rec.UpdatedAt = time.Now().UTC()
			if err := s.store.UpsertStageRecord(ctx, rec); err != nil {
				return Record{}, err
			}
			return rec, nil
		}
		if s.metrics.CacheMiss != nil {
			s.metrics.CacheMiss(stage)
		}
	}

	if err := s.store.SetCurrentStage(ctx, runID, stage); err != nil {
		return Record{}, err
	}
	now := time.Now().UTC()
	running := Record{RunID: runID, Stage: stage, Status: StageRunning, Fingerprint: fp, CreatedAt: now, UpdatedAt: now}
	if err := s.store.UpsertStageRecord(ctx, running); err != nil {
		return Record{}, err
	}

	dir, err := s.ws.StageDir(stage, fp)
	if err != nil {
		return Record{}, err
	}

	start := time.Now()
	var art Artifact
	execErr := s.retry.Do(ctx, stage, func(ctx context.Context) error {
		a, err := st.Execute(ctx, in, upstream, dir)
		if err != nil {
			return err
		}
		art = a
		return nil
	})
	if execErr != nil {
		// A failed attempt must never be mistaken for a cached success:
		// the record carries the reason, the cache is left untouched.
		failed := running
		failed.Status = StageFailed
		failed.Error = execErr.Error()
		failed.UpdatedAt = time.Now().UTC()
		if err := s.store.UpsertStageRecord(ctx, failed); err != nil {
			s.logger.Printf("run %s stage %s: record failure: %v", runID, stage, err)
		}
		s.observe(stage, StageFailed, time.Since(start))
		return failed, execErr
	}

	status := StageComplete
	if art.Degraded {
		status = StageDegraded
	}
	rec := Record{
		RunID:       runID,
		Stage:       stage,
		Status:      status,
		Fingerprint: fp,
		Locations:   art.Locations,
		Degraded:    art.Degraded,
		Detail:      art.Detail,
		CreatedAt:   now,
		UpdatedAt:   time.Now().UTC(),
	}
	// Artifact bytes are durable at this point; only now does the record
	// become visible to downstream stages.
	if err := s.store.UpsertStageRecord(ctx, rec); err != nil {
		return Record{}, err
	}
	if st.Cacheable() {
		if _, err := s.cache.Insert(ctx, stage, fp, rec); err != nil {
			s.logger.Printf("run %s stage %s: cache insert: %v", runID, stage, err)
		}
	}
	s.observe(stage, status, time.Since(start))
	s.logger.Printf("run %s stage %s: %s (%s)", runID, stage, status, shortFP(fp))
	return rec, nil
}

func (s *Sequencer) upstreamRecords(ctx context.Context, runID string, st Stage) (map[string]Record, error) {
	upstream := make(map[string]Record, len(st.DependsOn()))
	for _, dep := range st.DependsOn() {
		rec, found, err := s.store.GetStageRecord(ctx, runID, dep)
		if err != nil {
			return nil, err
		}
		if found {
			upstream[dep] = rec
		}
	}
	return upstream, nil
}

func (s *Sequencer) run(ctx context.Context, runID string) (Run, bool, error) {
	return s.store.GetRun(ctx, runID)
}

func (s *Sequencer) observe(stage, outcome string, d time.Duration) {
	if s.metrics.StageDuration != nil {
		s.metrics.StageDuration(stage, outcome, d)
	}
}

func shortFP(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

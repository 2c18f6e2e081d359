// Package worker consumes run requests from the queue and drives the
// pipeline sequencer.
package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/Y-Kanekoo/ai-shorts-factory/internal/queue"
)

// Driver is the sequencer surface the worker needs.
type Driver interface {
	RunAll(ctx context.Context, runID string) error
	Rerun(ctx context.Context, runID, stage string) error
}

// Claimer deduplicates event processing.
type Claimer interface {
	ClaimIdempotency(ctx context.Context, scope, key string) (bool, error)
}

// Consumer is the queue surface the worker needs.
type Consumer interface {
	Read(ctx context.Context, count int64, block time.Duration) ([]queue.Message, error)
	Ack(ctx context.Context, ids ...string) error
}

const idempotencyScope = "worker.run_enqueued"

// Processor executes run requests exactly once per event.
type Processor struct {
	logger   *log.Logger
	driver   Driver
	claimer  Claimer
	consumer Consumer

	runCounter  otelmetric.Int64Counter
	failCounter otelmetric.Int64Counter
}

// NewProcessor constructs a Processor.
func NewProcessor(logger *log.Logger, driver Driver, claimer Claimer, consumer Consumer) *Processor {
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	p := &Processor{logger: logger, driver: driver, claimer: claimer, consumer: consumer}
	meter := otel.Meter("shortsfactory/worker")
	var err error
	if p.runCounter, err = meter.Int64Counter("worker_runs_processed"); err != nil {
		logger.Printf("warn: create run counter failed: %v", err)
	}
	if p.failCounter, err = meter.Int64Counter("worker_runs_failed"); err != nil {
		logger.Printf("warn: create failure counter failed: %v", err)
	}
	return p
}

// Start blocks, processing run requests until the context is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Printf("worker starting; consuming stream %s", queue.RunStream)
	for {
		select {
		case <-ctx.Done():
			p.logger.Printf("worker stopping: %v", ctx.Err())
			return nil
		default:
		}

		msgs, err := p.consumer.Read(ctx, 16, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Printf("error reading stream: %v", err)
			time.Sleep(time.Second)
			continue
		}
		for _, msg := range msgs {
			if err := p.Handle(ctx, msg); err != nil {
				p.logger.Printf("error handling message %s: %v", msg.ID, err)
			}
			if err := p.consumer.Ack(ctx, msg.ID); err != nil {
				p.logger.Printf("warn: failed to ack message %s: %v", msg.ID, err)
			}
		}
	}
}

// Handle processes one run request. Redelivered events that were already
// claimed are skipped without touching the pipeline.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) error {
	var req queue.RunRequest
	if err := json.Unmarshal(msg.Envelope.Data, &req); err != nil {
		p.logger.Printf("dropping malformed run request %s: %v", msg.Envelope.EventID, err)
		return nil
	}
	if req.RunID == "" {
		p.logger.Printf("dropping run request %s without run_id", msg.Envelope.EventID)
		return nil
	}

	fresh, err := p.claimer.ClaimIdempotency(ctx, idempotencyScope, msg.Envelope.EventID)
	if err != nil {
		return err
	}
	if !fresh {
		p.logger.Printf("skipping already-processed event %s", msg.Envelope.EventID)
		return nil
	}

	if p.runCounter != nil {
		p.runCounter.Add(ctx, 1)
	}
	start := time.Now()
	if req.RerunFrom != "" {
		err = p.driver.Rerun(ctx, req.RunID, req.RerunFrom)
	} else {
		err = p.driver.RunAll(ctx, req.RunID)
	}
	if err != nil {
		if p.failCounter != nil {
			p.failCounter.Add(ctx, 1)
		}
		p.logger.Printf("run %s finished with error after %s: %v", req.RunID, time.Since(start).Round(time.Millisecond), err)
		// The outcome is already recorded on the run; the event itself is
		// done and must not be redelivered.
		return nil
	}
	p.logger.Printf("run %s completed in %s", req.RunID, time.Since(start).Round(time.Millisecond))
	return nil
}

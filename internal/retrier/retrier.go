package retrier

import (
	"context"
	"log"
	"time"
)

// Policy drives retries of collaborator calls with exponential backoff.
// The per-call timeout is distinct from the overall attempt budget so a
// single hung call cannot stall the loop.
type Policy struct {
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
	MaxAttempts int
	CallTimeout time.Duration

	Logger *log.Logger

	// sleep is injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Policy with the supplied parameters.
func New(base time.Duration, factor float64, maxDelay time.Duration, maxAttempts int, callTimeout time.Duration, logger *log.Logger) *Policy {
	return &Policy{
		BaseDelay:   base,
		Factor:      factor,
		MaxDelay:    maxDelay,
		MaxAttempts: maxAttempts,
		CallTimeout: callTimeout,
		Logger:      logger,
	}
}

// WithSleep overrides the delay function; tests use it to observe backoff
// without waiting.
func (p *Policy) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Policy {
	p.sleep = fn
	return p
}

// Delay returns the backoff delay applied after the given attempt (0-based).
func (p *Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Factor
	}
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && d > max {
		d = max
	}
	return time.Duration(d)
}

// Do invokes fn, retrying transient failures until the attempt budget is
// exhausted. Permanent failures return immediately. Each attempt runs under
// its own timeout when CallTimeout is set, and each failed attempt backs
// off before the loop moves on, the final one included.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		callCtx := ctx
		cancel := func() {}
		if p.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
		}
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if Classify(err) == ClassPermanent {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := p.Delay(attempt)
		if p.Logger != nil {
			p.Logger.Printf("%s: attempt %d/%d failed, backing off %s: %v", op, attempt+1, attempts, delay, lastErr)
		}
		if err := p.wait(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

func (p *Policy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

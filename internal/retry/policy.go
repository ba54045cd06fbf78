package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"telepipe/internal/logging"
	"telepipe/internal/pipeline"
	"telepipe/internal/resources"
	"telepipe/internal/services"
	"telepipe/internal/stage"
)

// Attempt records the resolution of one stage invocation sequence.
type Attempt struct {
	// Count is the number of attempts made, including the final one.
	Count int
	// Result is the final stage result.
	Result pipeline.Result
}

// Policy wraps the stage runner with bounded exponential backoff for
// retryable failures. Fatal failures and skips resolve immediately.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	runner *stage.Runner
	logger *slog.Logger

	// sleep is injectable for tests; defaults to a context-aware timer wait.
	sleep func(ctx context.Context, d time.Duration) error
	// jitter is injectable for tests; defaults to a uniform [0, d/2) draw.
	jitter func(d time.Duration) time.Duration
}

// NewPolicy builds a policy around the given runner.
func NewPolicy(runner *stage.Runner, logger *slog.Logger, maxRetries int, baseDelay, maxDelay time.Duration) *Policy {
	if logger == nil {
		logger = logging.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &Policy{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		MaxDelay:   maxDelay,
		runner:     runner,
		logger:     logger,
		sleep:      sleepContext,
		jitter: func(d time.Duration) time.Duration {
			if d <= 1 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(d / 2)))
		},
	}
}

// Execute runs the stage, retrying transient failures up to MaxRetries times
// with jittered exponential backoff. Only stages marked retryable are retried,
// and only for errors tagged services.ErrTransient or services.ErrTimeout.
// Cancellation is checked before every attempt and during every backoff sleep.
func (p *Policy) Execute(ctx context.Context, spec pipeline.StageSpec, handler stage.Handler, input pipeline.Payload, bundle resources.Bundle) Attempt {
	logger := logging.WithContext(services.WithStage(ctx, spec.Name), p.logger)

	var result pipeline.Result
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Attempt{Count: attempt + 1, Result: pipeline.Failure(err)}
		}

		result = p.runner.Run(ctx, spec, handler, input, bundle)
		if !result.Failed() {
			return Attempt{Count: attempt + 1, Result: result}
		}
		if errors.Is(result.Err, context.Canceled) {
			return Attempt{Count: attempt + 1, Result: result}
		}
		if !spec.Retryable || !retryEligible(result.Err) || attempt >= p.MaxRetries {
			return Attempt{Count: attempt + 1, Result: result}
		}

		delay := p.backoff(attempt)
		logger.Warn("stage attempt failed, retrying",
			logging.Int("attempt", attempt+1),
			logging.Int("max_retries", p.MaxRetries),
			logging.Duration("backoff", delay),
			logging.Error(result.Err),
		)
		if err := p.sleep(ctx, delay); err != nil {
			return Attempt{Count: attempt + 1, Result: pipeline.Failure(err)}
		}
	}
}

// retryEligible reports whether a failed attempt may take the backoff path
// when the stage opted into retries. Transient errors qualify, and so do
// per-attempt timeouts: the next attempt gets a fresh timeout window.
func retryEligible(err error) bool {
	return services.Retryable(err) || errors.Is(err, services.ErrTimeout)
}

// backoff computes base*2^attempt plus jitter, capped at MaxDelay.
func (p *Policy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	delay += p.jitter(delay)
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"telepipe/internal/logging"
	"telepipe/internal/pipeline"
	"telepipe/internal/resources"
	"telepipe/internal/services"
)

// Runner executes a single stage attempt with timeout enforcement. It never
// retries; that is the retry policy's concern.
type Runner struct {
	logger *slog.Logger
}

// NewRunner constructs a runner. A nil logger is replaced with a no-op.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{logger: logger}
}

// Run invokes the handler for one attempt, bounded by the spec's timeout.
// A timed-out attempt resolves to a failure tagged services.ErrTimeout; a
// panicking handler resolves to a validation failure. Cancellation of the
// parent context surfaces as context.Canceled.
func (r *Runner) Run(ctx context.Context, spec pipeline.StageSpec, handler Handler, input pipeline.Payload, bundle resources.Bundle) pipeline.Result {
	if handler == nil {
		return pipeline.Failure(services.Wrap(services.ErrNotFound, spec.Name, "run", "no handler registered", nil))
	}

	stageCtx := services.WithStage(ctx, spec.Name)
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(stageCtx, spec.Timeout)
		defer cancel()
	}

	logger := logging.WithContext(stageCtx, r.logger)
	if aware, ok := handler.(LoggerAware); ok {
		aware.SetLogger(logger)
	}

	started := time.Now()
	result := r.invoke(stageCtx, handler, input, bundle)

	if result.Failed() {
		switch {
		case errors.Is(result.Err, context.DeadlineExceeded) && stageCtx.Err() == context.DeadlineExceeded:
			result = pipeline.Failure(services.Wrap(services.ErrTimeout, spec.Name, "run",
				fmt.Sprintf("exceeded %s budget", spec.Timeout), result.Err))
		case errors.Is(result.Err, context.Canceled) && ctx.Err() == context.Canceled:
			// Shutdown, not a stage fault; pass the cancellation through.
			result.Err = context.Canceled
		}
	}

	logger.Debug("stage attempt finished",
		logging.String("outcome", string(result.Outcome)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return result
}

func (r *Runner) invoke(ctx context.Context, handler Handler, input pipeline.Payload, bundle resources.Bundle) (result pipeline.Result) {
	done := make(chan pipeline.Result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- pipeline.Failure(services.Wrap(services.ErrValidation, "", "run",
					fmt.Sprintf("stage panicked: %v", rec), nil))
			}
		}()
		done <- handler.Run(ctx, input, bundle)
	}()

	select {
	case result = <-done:
		return result
	case <-ctx.Done():
		// The handler goroutine is abandoned; it observes ctx.Done and winds
		// down on its own.
		return pipeline.Failure(ctx.Err())
	}
}

package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"telepipe/internal/logging"
	"telepipe/internal/notifications"
	"telepipe/internal/pipeline"
	"telepipe/internal/resources"
	"telepipe/internal/retry"
	"telepipe/internal/runs"
	"telepipe/internal/services"
	"telepipe/internal/stage"
)

// Coordinator owns one pipeline definition and drives its runs end to end:
// it walks the stage graph in dependency order, feeds each stage the previous
// stage's output, applies the retry policy, and records every attempt in the
// run history store.
type Coordinator struct {
	graph    *pipeline.Graph
	handlers map[string]stage.Handler
	policy   *retry.Policy
	store    *runs.Store
	provider *resources.Provider
	notifier notifications.Service
	logger   *slog.Logger
}

// New assembles a coordinator for the given pipeline graph. The handlers map
// binds stage names to implementations; a stage with no handler fails its run
// with a not-found error.
func New(
	graph *pipeline.Graph,
	handlers map[string]stage.Handler,
	policy *retry.Policy,
	store *runs.Store,
	provider *resources.Provider,
	notifier notifications.Service,
	logger *slog.Logger,
) *Coordinator {
	if notifier == nil {
		notifier = notifications.NewNoop()
	}
	return &Coordinator{
		graph:    graph,
		handlers: handlers,
		policy:   policy,
		store:    store,
		provider: provider,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "coordinator"),
	}
}

// Pipeline returns the name of the pipeline this coordinator drives.
func (c *Coordinator) Pipeline() string { return c.graph.Name() }

// Execute performs one full run of the pipeline. It always returns the run
// record, even on failure; the error is non-nil exactly when the run did not
// succeed. Cancellation of ctx fails the run at the first stage boundary.
func (c *Coordinator) Execute(ctx context.Context) (*runs.Run, error) {
	triggerTime := time.Now().UTC()
	run := &runs.Run{
		ID:          uuid.New().String(),
		Pipeline:    c.graph.Name(),
		Status:      runs.StatusPending,
		TriggerTime: triggerTime,
	}
	if err := c.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run record: %w", err)
	}

	ctx = services.WithRunID(services.WithPipeline(ctx, run.Pipeline), run.ID)
	logger := logging.WithContext(ctx, c.logger)

	startedAt := time.Now().UTC()
	run.Status = runs.StatusRunning
	run.StartedAt = &startedAt
	if err := c.store.UpdateRun(ctx, run); err != nil {
		return run, fmt.Errorf("mark run running: %w", err)
	}
	logger.Info("run started", logging.Int("stages", len(c.graph.TopologicalOrder())))

	bundle := c.provider.Snapshot()
	lastOutput := pipeline.Payload{
		Status:    "triggered",
		Timestamp: triggerTime,
		Data:      map[string]any{"pipeline": run.Pipeline},
	}

	var runErr error
	for position, spec := range c.graph.TopologicalOrder() {
		if err := ctx.Err(); err != nil {
			runErr = c.failRun(run, spec.Name, fmt.Errorf("run cancelled: %w", err))
			break
		}

		exec := &runs.StageExecution{
			RunID:        run.ID,
			Stage:        spec.Name,
			Position:     position,
			Status:       runs.ExecPending,
			InputPayload: marshalPayload(lastOutput),
		}
		if err := c.store.InsertExecution(ctx, exec); err != nil {
			runErr = c.failRun(run, spec.Name, fmt.Errorf("record stage execution: %w", err))
			break
		}

		stageStart := time.Now().UTC()
		exec.Status = runs.ExecRunning
		exec.StartedAt = &stageStart
		if err := c.store.UpdateExecution(ctx, exec); err != nil {
			runErr = c.failRun(run, spec.Name, fmt.Errorf("mark stage running: %w", err))
			break
		}

		if err := bundle.Resolve(spec); err != nil {
			c.resolveExecution(ctx, exec, 0, pipeline.Failure(err))
			run.Executions = append(run.Executions, *exec)
			runErr = c.failRun(run, spec.Name, err)
			break
		}

		attempt := c.policy.Execute(ctx, spec, c.handlers[spec.Name], lastOutput, bundle)
		result := attempt.Result
		c.resolveExecution(ctx, exec, attempt.Count, result)
		run.Executions = append(run.Executions, *exec)

		switch {
		case result.Succeeded():
			lastOutput = result.Payload
			logger.Info("stage succeeded",
				logging.String("stage", spec.Name),
				logging.Int("attempts", attempt.Count),
			)
		case result.Skipped() && spec.Optional:
			// Skips are transparent: the next stage still sees the last
			// successful output.
			logger.Info("stage skipped",
				logging.String("stage", spec.Name),
				logging.String("reason", result.SkipReason),
			)
		case result.Skipped():
			err := services.Wrap(services.ErrValidation, spec.Name, "execute",
				"required stage skipped: "+result.SkipReason, nil)
			runErr = c.failRun(run, spec.Name, err)
		default:
			logger.Error("stage failed",
				logging.String("stage", spec.Name),
				logging.Int("attempts", attempt.Count),
				logging.String("error_kind", services.Kind(result.Err)),
				logging.Error(result.Err),
			)
			runErr = c.failRun(run, spec.Name, result.Err)
		}
		if runErr != nil {
			break
		}
	}

	endedAt := time.Now().UTC()
	run.EndedAt = &endedAt
	if runErr == nil {
		run.Status = runs.StatusSucceeded
	}
	// The terminal write must land even when the run ended because ctx was
	// cancelled; otherwise the stored run is stuck at running forever.
	if err := c.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Error("persist run resolution", logging.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("persist run resolution: %w", err)
		}
	}

	c.notify(context.WithoutCancel(ctx), run, logger)
	if runErr != nil {
		return run, runErr
	}
	logger.Info("run succeeded", logging.Duration("duration", run.Duration()))
	return run, nil
}

// failRun marks the run failed at the given stage and returns the error the
// caller should surface. The terminal UpdateRun happens in Execute.
func (c *Coordinator) failRun(run *runs.Run, stageName string, err error) error {
	run.Status = runs.StatusFailed
	run.FailedStage = stageName
	run.ErrorMessage = err.Error()
	return fmt.Errorf("pipeline %s failed at stage %s: %w", run.Pipeline, stageName, err)
}

// resolveExecution fills in the terminal fields of a stage execution and
// persists it on an uncancellable context, so cancelled runs still record
// terminal stage state. Persistence errors are logged, not fatal: the stage
// outcome itself already decided the run's fate.
func (c *Coordinator) resolveExecution(ctx context.Context, exec *runs.StageExecution, attempts int, result pipeline.Result) {
	endedAt := time.Now().UTC()
	exec.EndedAt = &endedAt
	exec.AttemptCount = attempts

	switch result.Outcome {
	case pipeline.OutcomeSuccess:
		exec.Status = runs.ExecSucceeded
		exec.OutputPayload = marshalPayload(result.Payload)
	case pipeline.OutcomeSkipped:
		exec.Status = runs.ExecSkipped
		exec.SkipReason = result.SkipReason
	default:
		exec.Status = runs.ExecFailed
		exec.ErrorKind = services.Kind(result.Err)
		if result.Err != nil {
			exec.ErrorMessage = result.Err.Error()
		}
	}

	if err := c.store.UpdateExecution(context.WithoutCancel(ctx), exec); err != nil {
		c.logger.Error("persist stage execution",
			logging.String("stage", exec.Stage),
			logging.Error(err),
		)
	}
}

func (c *Coordinator) notify(ctx context.Context, run *runs.Run, logger *slog.Logger) {
	var err error
	if run.Status == runs.StatusSucceeded {
		err = c.notifier.NotifyRunCompleted(ctx, run.Pipeline, run.Duration())
	} else {
		err = c.notifier.NotifyRunFailed(ctx, run.Pipeline, run.FailedStage, run.ErrorMessage)
	}
	if err != nil {
		logger.Warn("send run notification", logging.Error(err))
	}
}

func marshalPayload(p pipeline.Payload) string {
	data, err := json.Marshal(p)
	if err != nil {
		return `{"status":"unencodable"}`
	}
	return string(data)
}

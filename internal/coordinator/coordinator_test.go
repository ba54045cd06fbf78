package coordinator_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"telepipe/internal/coordinator"
	"telepipe/internal/pipeline"
	"telepipe/internal/resources"
	"telepipe/internal/retry"
	"telepipe/internal/runs"
	"telepipe/internal/services"
	"telepipe/internal/stage"
	"telepipe/internal/testsupport"
)

func newTestCoordinator(t *testing.T, graph *pipeline.Graph, handlers map[string]stage.Handler) (*coordinator.Coordinator, *runs.Store) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRunStore(t, cfg)
	runner := stage.NewRunner(nil)
	policy := retry.NewPolicy(runner, nil, 2, time.Millisecond, 4*time.Millisecond)
	provider := resources.NewProvider(cfg)
	coord := coordinator.New(graph, handlers, policy, store, provider, nil, nil)
	return coord, store
}

type callRecorder struct {
	mu     sync.Mutex
	order  []string
	inputs map[string]pipeline.Payload
}

func newCallRecorder() *callRecorder {
	return &callRecorder{inputs: make(map[string]pipeline.Payload)}
}

func (r *callRecorder) handler(name string, result pipeline.Result) stage.Handler {
	return stage.HandlerFunc(func(ctx context.Context, input pipeline.Payload, res resources.Bundle) pipeline.Result {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.order = append(r.order, name)
		r.inputs[name] = input
		return result
	})
}

func TestExecuteRunsStagesInOrderWithChainedPayloads(t *testing.T) {
	graph, err := pipeline.NewGraph("telegram-analytics",
		pipeline.StageSpec{Name: "scrape"},
		pipeline.StageSpec{Name: "load", Needs: []string{"scrape"}},
		pipeline.StageSpec{Name: "transform", Needs: []string{"load"}},
	)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}

	rec := newCallRecorder()
	handlers := map[string]stage.Handler{
		"scrape":    rec.handler("scrape", pipeline.Success(map[string]any{"messages": 12})),
		"load":      rec.handler("load", pipeline.Success(map[string]any{"rows": 12})),
		"transform": rec.handler("transform", pipeline.Success(map[string]any{"facts": 12})),
	}

	coord, store := newTestCoordinator(t, graph, handlers)
	run, err := coord.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if run.Status != runs.StatusSucceeded {
		t.Fatalf("run status = %s, want succeeded", run.Status)
	}
	wantOrder := []string{"scrape", "load", "transform"}
	if len(rec.order) != len(wantOrder) {
		t.Fatalf("stage order = %v, want %v", rec.order, wantOrder)
	}
	for i, name := range wantOrder {
		if rec.order[i] != name {
			t.Fatalf("stage order = %v, want %v", rec.order, wantOrder)
		}
	}

	if got := rec.inputs["scrape"].Status; got != "triggered" {
		t.Errorf("scrape input status = %q, want triggered", got)
	}
	if got := rec.inputs["load"].Data["messages"]; got != 12 {
		t.Errorf("load input did not carry scrape output, got %v", got)
	}
	if got := rec.inputs["transform"].Data["rows"]; got != 12 {
		t.Errorf("transform input did not carry load output, got %v", got)
	}

	stored, err := store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored == nil {
		t.Fatal("run not persisted")
	}
	if len(stored.Executions) != 3 {
		t.Fatalf("persisted executions = %d, want 3", len(stored.Executions))
	}
	for i, exec := range stored.Executions {
		if exec.Status != runs.ExecSucceeded {
			t.Errorf("execution %s status = %s, want succeeded", exec.Stage, exec.Status)
		}
		if exec.Position != i {
			t.Errorf("execution %s position = %d, want %d", exec.Stage, exec.Position, i)
		}
		if exec.AttemptCount != 1 {
			t.Errorf("execution %s attempts = %d, want 1", exec.Stage, exec.AttemptCount)
		}
	}
}

func TestExecuteHaltsDownstreamOnFailure(t *testing.T) {
	graph, err := pipeline.NewGraph("telegram-analytics",
		pipeline.StageSpec{Name: "scrape"},
		pipeline.StageSpec{Name: "load", Needs: []string{"scrape"}},
	)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}

	scrapeErr := services.Wrap(services.ErrValidation, "scrape", "fetch messages", "credential rejected", nil)
	rec := newCallRecorder()
	handlers := map[string]stage.Handler{
		"scrape": rec.handler("scrape", pipeline.Failure(scrapeErr)),
		"load":   rec.handler("load", pipeline.Success(nil)),
	}

	coord, store := newTestCoordinator(t, graph, handlers)
	run, err := coord.Execute(context.Background())
	if err == nil {
		t.Fatal("expected error from failed run")
	}

	if run.Status != runs.StatusFailed {
		t.Fatalf("run status = %s, want failed", run.Status)
	}
	if run.FailedStage != "scrape" {
		t.Errorf("failed stage = %q, want scrape", run.FailedStage)
	}
	if !strings.Contains(run.ErrorMessage, "credential rejected") {
		t.Errorf("error message %q missing stage error", run.ErrorMessage)
	}
	for _, name := range rec.order {
		if name == "load" {
			t.Fatal("downstream stage ran after upstream failure")
		}
	}

	stored, err := store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if len(stored.Executions) != 1 {
		t.Fatalf("persisted executions = %d, want 1", len(stored.Executions))
	}
	exec := stored.Executions[0]
	if exec.Status != runs.ExecFailed {
		t.Errorf("execution status = %s, want failed", exec.Status)
	}
	if exec.ErrorKind != "fatal" {
		t.Errorf("error kind = %q, want fatal", exec.ErrorKind)
	}
}

func TestExecuteOptionalSkipIsTransparent(t *testing.T) {
	graph, err := pipeline.NewGraph("telegram-analytics",
		pipeline.StageSpec{Name: "transform"},
		pipeline.StageSpec{Name: "enrich", Needs: []string{"transform"}, Optional: true},
	)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}

	rec := newCallRecorder()
	handlers := map[string]stage.Handler{
		"transform": rec.handler("transform", pipeline.Success(map[string]any{"facts": 5})),
		"enrich":    rec.handler("enrich", pipeline.Skip("detector unavailable")),
	}

	coord, store := newTestCoordinator(t, graph, handlers)
	run, err := coord.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if run.Status != runs.StatusSucceeded {
		t.Fatalf("run status = %s, want succeeded despite optional skip", run.Status)
	}

	stored, err := store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if len(stored.Executions) != 2 {
		t.Fatalf("persisted executions = %d, want 2", len(stored.Executions))
	}
	enrich := stored.Executions[1]
	if enrich.Status != runs.ExecSkipped {
		t.Errorf("enrich status = %s, want skipped", enrich.Status)
	}
	if enrich.SkipReason != "detector unavailable" {
		t.Errorf("skip reason = %q", enrich.SkipReason)
	}
	if enrich.ErrorMessage != "" {
		t.Errorf("skip recorded error message %q", enrich.ErrorMessage)
	}
}

func TestExecuteRequiredSkipFailsRun(t *testing.T) {
	graph, err := pipeline.NewGraph("telegram-analytics",
		pipeline.StageSpec{Name: "load"},
	)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}

	rec := newCallRecorder()
	handlers := map[string]stage.Handler{
		"load": rec.handler("load", pipeline.Skip("nothing to load")),
	}

	coord, _ := newTestCoordinator(t, graph, handlers)
	run, err := coord.Execute(context.Background())
	if err == nil {
		t.Fatal("expected error when a required stage skips")
	}
	if run.Status != runs.StatusFailed {
		t.Fatalf("run status = %s, want failed", run.Status)
	}
	if run.FailedStage != "load" {
		t.Errorf("failed stage = %q, want load", run.FailedStage)
	}
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	graph, err := pipeline.NewGraph("telegram-analytics",
		pipeline.StageSpec{Name: "scrape", Retryable: true},
	)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}

	var mu sync.Mutex
	calls := 0
	handlers := map[string]stage.Handler{
		"scrape": stage.HandlerFunc(func(ctx context.Context, input pipeline.Payload, res resources.Bundle) pipeline.Result {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls < 3 {
				return pipeline.Failure(services.Wrap(services.ErrTransient, "scrape", "fetch messages", "gateway timeout", nil))
			}
			return pipeline.Success(map[string]any{"messages": 3})
		}),
	}

	coord, store := newTestCoordinator(t, graph, handlers)
	run, err := coord.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status != runs.StatusSucceeded {
		t.Fatalf("run status = %s, want succeeded", run.Status)
	}

	stored, err := store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got := stored.Executions[0].AttemptCount; got != 3 {
		t.Errorf("attempt count = %d, want 3", got)
	}
}

func TestExecuteMissingHandlerFailsRun(t *testing.T) {
	graph, err := pipeline.NewGraph("telegram-analytics",
		pipeline.StageSpec{Name: "scrape"},
	)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}

	coord, _ := newTestCoordinator(t, graph, map[string]stage.Handler{})
	run, err := coord.Execute(context.Background())
	if err == nil {
		t.Fatal("expected error for unregistered stage handler")
	}
	if run.Status != runs.StatusFailed {
		t.Fatalf("run status = %s, want failed", run.Status)
	}
}

func TestExecuteMidRunCancellationPersistsTerminalState(t *testing.T) {
	graph, err := pipeline.NewGraph("telegram-analytics",
		pipeline.StageSpec{Name: "scrape"},
		pipeline.StageSpec{Name: "load", Needs: []string{"scrape"}},
	)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handlers := map[string]stage.Handler{
		"scrape": stage.HandlerFunc(func(ctx context.Context, input pipeline.Payload, res resources.Bundle) pipeline.Result {
			cancel()
			<-ctx.Done()
			return pipeline.Failure(ctx.Err())
		}),
		"load": stage.HandlerFunc(func(ctx context.Context, input pipeline.Payload, res resources.Bundle) pipeline.Result {
			return pipeline.Success(nil)
		}),
	}

	coord, store := newTestCoordinator(t, graph, handlers)
	run, err := coord.Execute(ctx)
	if err == nil {
		t.Fatal("expected error from cancelled run")
	}
	if run.Status != runs.StatusFailed {
		t.Fatalf("run status = %s, want failed", run.Status)
	}

	stored, err := store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.Status != runs.StatusFailed {
		t.Fatalf("persisted run status = %s, want failed", stored.Status)
	}
	if stored.EndedAt == nil {
		t.Error("persisted run has no ended_at")
	}
	if len(stored.Executions) != 1 {
		t.Fatalf("persisted executions = %d, want 1", len(stored.Executions))
	}
	if got := stored.Executions[0].Status; got != runs.ExecFailed {
		t.Fatalf("persisted execution status = %s, want failed", got)
	}
}

func TestExecutePersistsPendingThenRunningStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRunStore(t, cfg)

	graph, err := pipeline.NewGraph("telegram-analytics",
		pipeline.StageSpec{Name: "scrape"},
	)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}

	var observed runs.StageExecution
	handlers := map[string]stage.Handler{
		"scrape": stage.HandlerFunc(func(ctx context.Context, input pipeline.Payload, res resources.Bundle) pipeline.Result {
			runID, ok := services.RunIDFromContext(ctx)
			if !ok {
				t.Error("run ID missing from stage context")
				return pipeline.Failure(services.Wrap(services.ErrValidation, "scrape", "", "no run id", nil))
			}
			stored, err := store.GetRun(context.Background(), runID)
			if err != nil || stored == nil || len(stored.Executions) != 1 {
				t.Errorf("mid-stage GetRun: %v (%+v)", err, stored)
				return pipeline.Failure(services.Wrap(services.ErrValidation, "scrape", "", "lookup failed", nil))
			}
			observed = stored.Executions[0]
			return pipeline.Success(nil)
		}),
	}

	runner := stage.NewRunner(nil)
	policy := retry.NewPolicy(runner, nil, 0, time.Millisecond, time.Millisecond)
	coord := coordinator.New(graph, handlers, policy, store, resources.NewProvider(cfg), nil, nil)

	run, err := coord.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if observed.Status != runs.ExecRunning {
		t.Errorf("mid-stage execution status = %s, want running", observed.Status)
	}
	if observed.StartedAt == nil {
		t.Error("mid-stage execution has no started_at")
	}

	stored, err := store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got := stored.Executions[0].Status; got != runs.ExecSucceeded {
		t.Fatalf("final execution status = %s, want succeeded", got)
	}
}

func TestExecuteCancelledContextFailsRun(t *testing.T) {
	graph, err := pipeline.NewGraph("telegram-analytics",
		pipeline.StageSpec{Name: "scrape"},
	)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}

	rec := newCallRecorder()
	handlers := map[string]stage.Handler{
		"scrape": rec.handler("scrape", pipeline.Success(nil)),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	coord, _ := newTestCoordinator(t, graph, handlers)
	run, err := coord.Execute(ctx)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if run == nil {
		// CreateRun may fail outright under a cancelled context; either
		// resolution is acceptable as long as no stage ran.
	} else if run.Status == runs.StatusSucceeded {
		t.Fatalf("run status = %s, want not succeeded", run.Status)
	}
	if len(rec.order) != 0 {
		t.Fatalf("stages ran under cancelled context: %v", rec.order)
	}
}

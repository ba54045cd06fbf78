package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"telepipe/internal/logging"
)

// ErrRunInFlight is returned when a trigger arrives while a run of the same
// pipeline has not yet finished. The new trigger is rejected, never queued.
var ErrRunInFlight = errors.New("pipeline run already in flight")

// ErrUnknownPipeline is returned for triggers naming an unregistered pipeline.
var ErrUnknownPipeline = errors.New("unknown pipeline")

// TriggerFunc launches one run of a pipeline and blocks until it resolves.
type TriggerFunc func(ctx context.Context) error

type entry struct {
	name     string
	schedule string
	trigger  TriggerFunc
	cronID   cron.EntryID
	inFlight atomic.Bool
	rejected atomic.Int64
}

// Scheduler fires pipeline runs on cron schedules and on demand. Each
// pipeline carries an overlap guard: at most one run is in flight at a time,
// and triggers arriving during a run are rejected, scheduled or manual alike.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	baseCtx context.Context
	started bool
}

// New builds a scheduler evaluating cron expressions in the given location.
func New(logger *slog.Logger, location *time.Location) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(location)),
		logger:  logging.NewComponentLogger(logger, "scheduler"),
		entries: make(map[string]*entry),
		baseCtx: context.Background(),
	}
}

// Register binds a pipeline to a five-field cron schedule. An empty schedule
// registers the pipeline for manual triggering only.
func (s *Scheduler) Register(name, schedule string, trigger TriggerFunc) error {
	if name == "" {
		return errors.New("pipeline name is required")
	}
	if trigger == nil {
		return fmt.Errorf("pipeline %s: trigger is required", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("pipeline %s already registered", name)
	}

	e := &entry{name: name, schedule: schedule, trigger: trigger}
	if schedule != "" {
		id, err := s.cron.AddFunc(schedule, func() { s.fireScheduled(e) })
		if err != nil {
			return fmt.Errorf("pipeline %s: invalid schedule %q: %w", name, schedule, err)
		}
		e.cronID = id
	}
	s.entries[name] = e
	return nil
}

// Start begins evaluating schedules. Scheduled runs inherit ctx, so
// cancelling it cancels in-flight runs during shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	if ctx != nil {
		s.baseCtx = ctx
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", logging.Int("pipelines", len(s.entries)))
}

// Stop halts schedule evaluation and waits for in-flight scheduled jobs,
// bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

// TriggerNow fires an immediate run of the named pipeline and blocks until it
// resolves. Returns ErrRunInFlight without running anything when a run of the
// same pipeline is already active.
func (s *Scheduler) TriggerNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPipeline, name)
	}

	if !e.inFlight.CompareAndSwap(false, true) {
		e.rejected.Add(1)
		s.logger.Info("trigger rejected, run in flight", logging.String("pipeline", name))
		return fmt.Errorf("pipeline %s: %w", name, ErrRunInFlight)
	}
	defer e.inFlight.Store(false)

	return e.trigger(ctx)
}

// fireScheduled runs one cron firing. Overlap rejections are recorded and
// logged, not errors: the next firing will pick up fresh work.
func (s *Scheduler) fireScheduled(e *entry) {
	if !e.inFlight.CompareAndSwap(false, true) {
		e.rejected.Add(1)
		s.logger.Warn("scheduled trigger rejected, run in flight",
			logging.String("pipeline", e.name),
		)
		return
	}
	defer e.inFlight.Store(false)

	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	if err := e.trigger(ctx); err != nil {
		s.logger.Error("scheduled run failed",
			logging.String("pipeline", e.name),
			logging.Error(err),
		)
	}
}

// EntryStatus is a point-in-time view of one registered pipeline.
type EntryStatus struct {
	Pipeline  string
	Schedule  string
	NextRun   time.Time
	InFlight  bool
	Rejected  int64
	Scheduled bool
}

// Entries reports the status of every registered pipeline.
func (s *Scheduler) Entries() []EntryStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]EntryStatus, 0, len(s.entries))
	for _, e := range s.entries {
		status := EntryStatus{
			Pipeline:  e.name,
			Schedule:  e.schedule,
			InFlight:  e.inFlight.Load(),
			Rejected:  e.rejected.Load(),
			Scheduled: e.schedule != "",
		}
		if e.schedule != "" {
			status.NextRun = s.cron.Entry(e.cronID).Next
		}
		statuses = append(statuses, status)
	}
	return statuses
}

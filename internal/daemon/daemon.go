package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"telepipe/internal/config"
	"telepipe/internal/logging"
	"telepipe/internal/runs"
	"telepipe/internal/scheduler"
	"telepipe/internal/warehouse"
)

// Daemon owns the long-running telepipe process: it enforces single-instance
// execution via a lock file, runs the pipeline scheduler, and serves the read
// API.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	runStore  *runs.Store
	warehouse *warehouse.Store
	sched     *scheduler.Scheduler
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	StartedAt     time.Time
	Pipelines     []scheduler.EntryStatus
	RunsDBPath    string
	WarehousePath string
	LockFilePath  string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, runStore *runs.Store, wh *warehouse.Store, sched *scheduler.Scheduler, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || runStore == nil || wh == nil || sched == nil {
		return nil, errors.New("daemon requires config, stores, and scheduler")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "telepiped.lock")
	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		runStore:  runStore,
		warehouse: wh,
		sched:     sched,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, d.logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock, starts the scheduler, and begins serving
// the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another telepipe daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.sched.Start(d.ctx)

	if d.api != nil {
		if err := d.api.start(d.ctx); err != nil {
			d.shutdownScheduler()
			_ = d.lock.Unlock()
			d.cancel()
			d.ctx = nil
			d.cancel = nil
			return err
		}
	}

	d.startedAt = time.Now().UTC()
	d.running.Store(true)
	d.logger.Info("telepipe daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops the scheduler and API server and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.running.Store(false)

	if d.cancel != nil {
		d.cancel()
	}
	if d.api != nil {
		d.api.stop()
	}
	d.shutdownScheduler()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release lock", logging.Error(err))
	}
	d.ctx = nil
	d.cancel = nil
	d.logger.Info("telepipe daemon stopped")
}

func (d *Daemon) shutdownScheduler() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.sched.Stop(shutdownCtx); err != nil {
		d.logger.Warn("scheduler shutdown", logging.Error(err))
	}
}

// Running reports whether the daemon has started and not yet stopped.
func (d *Daemon) Running() bool { return d.running.Load() }

// Status summarizes daemon state for the status endpoint and CLI.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:       d.running.Load(),
		StartedAt:     d.startedAt,
		Pipelines:     d.sched.Entries(),
		RunsDBPath:    d.runStore.Path(),
		WarehousePath: d.warehouse.Path(),
		LockFilePath:  d.lockPath,
	}
}

// TriggerPipeline fires a synchronous manual run, subject to the scheduler's
// overlap guard.
func (d *Daemon) TriggerPipeline(ctx context.Context, name string) error {
	return d.sched.TriggerNow(ctx, name)
}

// APIAddr returns the address the API server is listening on, empty when the
// API is disabled.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

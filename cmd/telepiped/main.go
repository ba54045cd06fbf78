package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"telepipe/internal/config"
	"telepipe/internal/daemon"
	"telepipe/internal/logging"
	"telepipe/internal/runs"
	"telepipe/internal/scheduler"
	"telepipe/internal/warehouse"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	runStore, err := runs.Open(cfg.RunsPath())
	if err != nil {
		log.Fatalf("open run history: %v", err)
	}
	defer runStore.Close()

	wh, err := warehouse.Open(cfg.WarehousePath())
	if err != nil {
		log.Fatalf("open warehouse: %v", err)
	}
	defer wh.Close()

	coord, err := buildCoordinator(cfg, runStore, wh, logger)
	if err != nil {
		log.Fatalf("build pipeline: %v", err)
	}

	location, err := time.LoadLocation(cfg.Pipeline.Timezone)
	if err != nil {
		log.Fatalf("load timezone: %v", err)
	}
	sched := scheduler.New(logger, location)
	trigger := func(ctx context.Context) error {
		_, err := coord.Execute(ctx)
		return err
	}
	if err := sched.Register(coord.Pipeline(), cfg.Pipeline.Schedule, trigger); err != nil {
		log.Fatalf("register pipeline: %v", err)
	}

	d, err := daemon.New(cfg, runStore, wh, sched, logger)
	if err != nil {
		log.Fatalf("create daemon: %v", err)
	}
	if err := d.Start(ctx); err != nil {
		log.Fatalf("start daemon: %v", err)
	}

	<-ctx.Done()
	logger.Info("telepiped shutting down")
	d.Stop()
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Command enginectld runs the inference control-plane daemon: it loads
// the engine configuration, starts the worker pool, and serves the
// session/scheduler HTTP API until signalled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/localinfer/enginectl/internal/api"
	"github.com/localinfer/enginectl/internal/config"
	"github.com/localinfer/enginectl/internal/contextwind"
	"github.com/localinfer/enginectl/internal/events"
	"github.com/localinfer/enginectl/internal/pool"
	"github.com/localinfer/enginectl/internal/scheduler"
	"github.com/localinfer/enginectl/internal/summarize"
	"github.com/localinfer/enginectl/internal/watcher"
)

func main() {
	configPath := flag.String("config", "", "path to engine.hjson (default: search ./engine.hjson, ./engine.json)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("enginectld: %v", err)
	}
}

func run(configPath string) error {
	loader := config.NewLoader()

	if configPath == "" {
		found, err := loader.FindConfig()
		if err != nil {
			return fmt.Errorf("locate config: %w", err)
		}
		configPath = found
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loader.LoadWithDefaults(ctx, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := config.NewValidator().Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	bus := events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: cfg.Events.History.MaxEvents,
		HistoryMaxAge:    parseDurationOrZero(cfg.Events.History.MaxAge),
	})
	defer bus.Close()

	p := pool.New(pool.Config{
		WorkerExecutablePath:    cfg.Engine.WorkerExecutablePath,
		VenvPath:                cfg.Engine.VenvPath,
		ModelPath:               cfg.Engine.ModelPath,
		SummarizerModelPath:     cfg.Engine.SummarizerModelPath,
		ContextSize:             cfg.Engine.ContextSize,
		NGPULayers:              cfg.Engine.NGPULayers,
		WorkerCount:             cfg.Engine.WorkerCount,
		MaxSessionsPerWorker:    cfg.Engine.MaxSessionsPerWorker,
		MaxMemoryBytesPerWorker: cfg.Engine.MaxMemoryBytesPerWorker,
		MaxInFlight:             cfg.Engine.MaxInFlight,
		BlasThreads:             cfg.Engine.BlasThreads,
		SharedMemorySlotSize:    cfg.Engine.SharedMemorySlotSize,
		RestartPolicy:           cfg.Engine.RestartPolicy,
		MaxWorkerRestarts:       cfg.Engine.MaxWorkerRestarts,
		RestartDelay:            parseDurationOrDefault(cfg.Engine.RestartDelay, 2*time.Second),
	}, bus)

	log.Printf("enginectld: starting %d worker(s) from %s", cfg.Engine.WorkerCount, cfg.Engine.WorkerExecutablePath)
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	defer p.Shutdown(context.Background())

	mon := contextwind.New(cfg.Engine.ContextSize)
	sum := summarize.New(p)
	sched := scheduler.New(scheduler.Config{
		ContextSize:          cfg.Engine.ContextSize,
		MaxSessionsPerWorker: cfg.Engine.MaxSessionsPerWorker,
		UseSharedMemory:      cfg.Engine.UseSharedMemory,
	}, p, mon, sum, bus)

	var bw *watcher.BinaryWatcher
	if cfg.Watch.WatchWorkerBinary {
		bw, err = watcher.NewBinaryWatcher(bus, parseDurationOrDefault(cfg.Watch.Debounce, 500*time.Millisecond))
		if err != nil {
			return fmt.Errorf("start binary watcher: %w", err)
		}
		if err := bw.Watch("worker", []string{cfg.Engine.WorkerExecutablePath}); err != nil {
			log.Printf("enginectld: binary watch disabled: %v", err)
		}
		defer bw.Close()

		_, _ = bus.Subscribe(events.EventBinaryChanged, func(ctx context.Context, evt events.Event) error {
			if svc, _ := evt.Payload["service"].(string); svc != "worker" {
				return nil
			}
			log.Printf("enginectld: worker binary changed, restarting workers")
			p.RestartAllMainWorkers(context.Background())
			return nil
		})
	}

	if interval := parseDurationOrZero(cfg.Engine.IdleSweepInterval); interval > 0 {
		go runIdleSweep(ctx, sched, interval, cfg.Engine.IdleSweepKeepMax)
	}

	server := api.NewServer(api.ServerConfig{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		TLSCert: cfg.Server.TLSCert,
		TLSKey:  cfg.Server.TLSKey,
	}, api.Dependencies{
		Scheduler: sched,
		Pool:      p,
		Monitor:   mon,
		EventBus:  bus,
		Version:   cfg.Version,
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("api server: %w", err)
	case sig := <-sigCh:
		log.Printf("enginectld: received %s, shutting down", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// runIdleSweep periodically evicts least-recently-used sessions down to
// keepMax, bounding memory when callers forget to evict (§4.F.5).
func runIdleSweep(ctx context.Context, sched *scheduler.Scheduler, interval time.Duration, keepMax int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := sched.EvictLRU(ctx, keepMax); len(evicted) > 0 {
				log.Printf("enginectld: idle sweep evicted %d session(s)", len(evicted))
			}
		}
	}
}

func parseDurationOrZero(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func parseDurationOrDefault(s string, def time.Duration) time.Duration {
	if d := parseDurationOrZero(s); d > 0 {
		return d
	}
	return def
}

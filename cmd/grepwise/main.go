// Copyright 2025 The GrepWise Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// The grepwise daemon: loads the unified config, wires the ingestion
// pipeline, index, alarms, cluster coordination and the admin listener,
// and runs until signalled.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/grepwise/grepwise/alarms"
	"github.com/grepwise/grepwise/archive"
	"github.com/grepwise/grepwise/buffer"
	"github.com/grepwise/grepwise/cluster"
	"github.com/grepwise/grepwise/config"
	"github.com/grepwise/grepwise/index"
	"github.com/grepwise/grepwise/internal/healthchecks"
	"github.com/grepwise/grepwise/internal/logs"
	"github.com/grepwise/grepwise/internal/version"
	"github.com/grepwise/grepwise/parsers"
	"github.com/grepwise/grepwise/server"
	"github.com/grepwise/grepwise/sources"
	"github.com/grepwise/grepwise/storage"
)

// retentionSweepInterval is how often the retention pass runs when
// retention_days is set.
const retentionSweepInterval = time.Hour

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the configuration file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, *configPath); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	logger.Infof("grepwise %s starting", version.Version)

	if err := runHealthChecks(cfg, logger); err != nil {
		return err
	}

	stateDir := filepath.Dir(cfg.CheckpointPath)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("creating state directory %s: %w", stateDir, err)
	}

	store, err := archive.NewStore(cfg.Archive.Directory, cfg.Archive.Enabled, logger)
	if err != nil {
		return err
	}

	cache := index.NewCache(cfg.Cache.Enabled, cfg.Cache.MaxSize, cfg.CacheTTL())
	engine, err := index.Open(cfg.IndexConfig(), cache, store, nil, logger)
	if err != nil {
		return err
	}

	buf := buffer.New(engine, logger,
		buffer.WithMaxSize(cfg.Buffer.MaxSize),
		buffer.WithFlushInterval(cfg.FlushInterval()))

	var coordinator *cluster.Coordinator
	if cfg.Cluster.NodeID != "" {
		coordinator, err = cluster.New(cfg.ClusterConfig(), logger)
		if err != nil {
			return err
		}
	}

	registry, ingest, err := buildSources(cfg, buf, coordinator, logger)
	if err != nil {
		return err
	}

	alarmEngine, err := buildAlarms(cfg, stateDir, engine, logger)
	if err != nil {
		return err
	}

	var clusterRecv server.ClusterReceiver
	if coordinator != nil {
		clusterRecv = coordinator
	}
	srv := server.New(cfg.Server.ListenAddress, ingest, clusterRecv, runtimeChecks(cfg), logger)

	g, ctx := errgroup.WithContext(ctx)

	engine.StartHousekeeping(ctx)
	buf.Start(ctx)
	if err := registry.Start(ctx); err != nil {
		return err
	}
	if coordinator != nil {
		g.Go(func() error {
			coordinator.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		alarmEngine.Run(ctx)
		return nil
	})
	if cfg.Index.RetentionDays > 0 {
		g.Go(func() error {
			runRetention(ctx, engine, cfg.Index.RetentionDays, logger)
			return nil
		})
	}
	g.Go(func() error {
		return srv.Run(ctx)
	})

	<-ctx.Done()
	logger.Infof("grepwise shutting down")

	// Producers first, then the pipeline behind them, index last.
	registry.Stop()
	if coordinator != nil {
		coordinator.Stop()
	}
	alarmEngine.Stop()
	buf.Stop(context.Background())
	if err := engine.Close(); err != nil {
		logger.Errorf("closing index: %v", err)
	}

	return g.Wait()
}

func newLogger(cfg *config.Config) *logs.ZapStructuredLogger {
	if cfg.Logging.File == "" {
		return logs.Default()
	}
	if cfg.Logging.MaxSizeMB > 0 {
		return logs.NewRotating(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups)
	}
	return logs.New(cfg.Logging.File)
}

// runHealthChecks refuses to start a node that cannot serve.
func runHealthChecks(cfg *config.Config, logger *logs.ZapStructuredLogger) error {
	checks := healthchecks.HealthCheckRegistry{
		healthchecks.IndexDiskCheck{IndexPath: cfg.Index.Path},
	}
	if port := listenPort(cfg.Server.ListenAddress); port > 0 {
		checks = append(checks, healthchecks.PortsCheck{Ports: []int{port}})
	}
	for _, result := range checks.RunAllHealthChecks(logger) {
		if !result.Healthy() {
			return fmt.Errorf("health check %s failed: %w", result.Name, result.Err)
		}
	}
	return nil
}

// runtimeChecks are served on /healthz while the daemon runs. The ports
// check is startup-only; once we hold the listener it would always fail.
func runtimeChecks(cfg *config.Config) healthchecks.HealthCheckRegistry {
	return healthchecks.HealthCheckRegistry{
		healthchecks.IndexDiskCheck{IndexPath: cfg.Index.Path},
	}
}

func listenPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}

// buildSources assembles the driver factories, the shared HTTP receiver
// and the registry, and merges config-declared sources into the store.
func buildSources(cfg *config.Config, buf *buffer.Buffer, coordinator *cluster.Coordinator, logger *logs.ZapStructuredLogger) (*sources.Registry, *sources.HTTPIngest, error) {
	repo, err := storage.NewJSONRepository[*sources.Config](filepath.Join(filepath.Dir(cfg.CheckpointPath), "sources.json"))
	if err != nil {
		return nil, nil, err
	}
	checkpoints, err := sources.OpenCheckpoints(cfg.CheckpointPath)
	if err != nil {
		return nil, nil, err
	}

	chain := parsers.NewChain()
	ingest := sources.NewHTTPIngest(buf, logger)

	factories := map[sources.Type]sources.DriverFactory{
		sources.File: func(c *sources.Config) (sources.Driver, error) {
			return sources.NewFileDriver(c, chain, buf, checkpoints, logger, nil)
		},
		sources.Syslog: func(c *sources.Config) (sources.Driver, error) {
			return sources.NewSyslogDriver(c, buf, logger)
		},
		sources.HTTP: func(c *sources.Config) (sources.Driver, error) {
			return sources.NewHTTPDriver(c)
		},
		sources.Cloud: func(c *sources.Config) (sources.Driver, error) {
			return sources.NewCloudDriver(c, pullerFor(c), buf, logger, nil)
		},
	}

	var coord sources.Coordinator
	if coordinator != nil {
		coord = coordinator
	}
	registry := sources.NewRegistry(repo, coord, nil, ingest, factories, logger)

	// Config-declared sources are seeded once; runtime edits win after
	// that.
	for _, src := range cfg.Sources {
		exists, err := repo.ExistsByName(src.Name)
		if err != nil {
			return nil, nil, err
		}
		if exists {
			continue
		}
		if err := registry.Create(src); err != nil {
			return nil, nil, fmt.Errorf("bootstrapping source %q: %w", src.Name, err)
		}
	}
	return registry, ingest, nil
}

// pullerFor maps a CLOUD source's provider onto its puller factory.
func pullerFor(c *sources.Config) sources.PullerFactory {
	if c.Cloud == nil {
		return nil
	}
	switch c.Cloud.Provider {
	case "gcp":
		return sources.NewGCPPuller
	}
	return nil
}

// buildAlarms assembles the alarm engine and seeds config-declared
// alarms.
func buildAlarms(cfg *config.Config, stateDir string, engine *index.Engine, logger *logs.ZapStructuredLogger) (*alarms.Engine, error) {
	repo, err := storage.NewJSONRepository[*alarms.Alarm](filepath.Join(stateDir, "alarms.json"))
	if err != nil {
		return nil, err
	}
	transports := map[string]alarms.Transport{
		"WEBHOOK": alarms.NewWebhookTransport(logger, nil),
	}
	alarmEngine := alarms.NewEngine(cfg.AlarmConfig(), repo, engine, transports, logger)

	for _, a := range cfg.Alarms.Definitions {
		exists, err := repo.ExistsByName(a.Name)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		if err := alarmEngine.Create(a); err != nil {
			return nil, fmt.Errorf("bootstrapping alarm %q: %w", a.Name, err)
		}
	}
	return alarmEngine, nil
}

// runRetention expires and archives old records on a fixed cadence.
func runRetention(ctx context.Context, engine *index.Engine, retentionDays int, logger *logs.ZapStructuredLogger) {
	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
			deleted, err := engine.DeleteLogsOlderThan(ctx, cutoff)
			if err != nil {
				logger.Errorf("retention sweep: %v", err)
				continue
			}
			if deleted > 0 {
				logger.Infof("retention sweep removed %d records older than %d days", deleted, retentionDays)
			}
		}
	}
}

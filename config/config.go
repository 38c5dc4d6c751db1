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

// Package config loads and validates the unified YAML configuration: the
// daemon knobs plus bootstrapped sources and alarms. Runtime CRUD through
// the registries layers on top of what the file declares.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/hashicorp/go-multierror"

	"github.com/grepwise/grepwise/alarms"
	"github.com/grepwise/grepwise/cluster"
	"github.com/grepwise/grepwise/index"
	"github.com/grepwise/grepwise/internal/set"
	"github.com/grepwise/grepwise/sources"
)

// DefaultPath is where the daemon looks without a -config flag.
const DefaultPath = "/etc/grepwise/config.yaml"

// Config is the whole configuration file.
type Config struct {
	Logging Logging `yaml:"logging"`
	Server  Server  `yaml:"server"`
	Index   Index   `yaml:"index"`
	Archive Archive `yaml:"archive"`
	Buffer  Buffer  `yaml:"buffer"`
	Cache   Cache   `yaml:"cache"`
	Alarms  Alarms  `yaml:"alarms"`
	Cluster Cluster `yaml:"cluster"`

	// Sources declared here are merged into the source registry at boot.
	Sources []*sources.Config `yaml:"sources"`

	// CheckpointPath is where file drivers persist tail offsets.
	CheckpointPath string `yaml:"checkpoint_path"`
}

// Logging configures the daemon's own log output.
type Logging struct {
	// File is the log destination; empty logs to stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Server configures the admin/ingest HTTP listener.
type Server struct {
	ListenAddress string `yaml:"listen_address" validate:"required"`
}

// Index configures the partitioned index engine.
type Index struct {
	Path                   string    `yaml:"path" validate:"required"`
	MaxResultsPerPartition int       `yaml:"max_results_per_partition"`
	SearchParallelism      int       `yaml:"search_parallelism"`
	HousekeepingIntervalMs int64     `yaml:"housekeeping_interval_ms"`
	Partition              Partition `yaml:"partition"`
	// RetentionDays expires records older than this; 0 keeps everything.
	RetentionDays int `yaml:"retention_days" validate:"gte=0"`
}

// Partition configures time bucketing.
type Partition struct {
	Enabled     bool   `yaml:"enabled"`
	Type        string `yaml:"type" validate:"omitempty,oneof=DAILY WEEKLY MONTHLY"`
	MaxActive   int    `yaml:"max_active"`
	AutoArchive bool   `yaml:"auto_archive"`
}

// Archive configures the ZIP archive store.
type Archive struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
}

// Buffer configures the ingest buffer.
type Buffer struct {
	MaxSize         int   `yaml:"max_size" validate:"gte=0"`
	FlushIntervalMs int64 `yaml:"flush_interval_ms" validate:"gte=0"`
}

// Cache configures the search result cache.
type Cache struct {
	Enabled bool  `yaml:"enabled"`
	MaxSize int   `yaml:"max_size" validate:"gte=0"`
	TTLMs   int64 `yaml:"ttl_ms" validate:"gte=0"`
}

// Alarms configures the alarm engine and optionally declares alarms.
type Alarms struct {
	EvaluationIntervalMs int64           `yaml:"evaluation_interval_ms" validate:"gte=0"`
	QueryTimeoutMs       int64           `yaml:"query_timeout_ms" validate:"gte=0"`
	Definitions          []*alarms.Alarm `yaml:"definitions"`
}

// Cluster configures coordination. A single-node deployment leaves it
// zero-valued and every source is local.
type Cluster struct {
	NodeID              string   `yaml:"node_id"`
	URL                 string   `yaml:"url"`
	Peers               []string `yaml:"peers"`
	HeartbeatIntervalMs int64    `yaml:"heartbeat_interval_ms" validate:"gte=0"`
	HeartbeatTimeoutMs  int64    `yaml:"heartbeat_timeout_ms" validate:"gte=0"`
	HorizontalScaling   bool     `yaml:"horizontal_scaling"`
}

var configValidator = validator.New()

// Load reads, defaults and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates raw YAML.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.UnmarshalWithOptions(data, c, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8080"
	}
	if c.Index.Path == "" {
		c.Index.Path = "/var/lib/grepwise/index"
	}
	if c.Index.Partition.Type == "" {
		c.Index.Partition.Type = string(index.Daily)
	}
	if c.Archive.Directory == "" {
		c.Archive.Directory = "/var/lib/grepwise/archive"
	}
	if c.CheckpointPath == "" {
		c.CheckpointPath = "/var/lib/grepwise/checkpoints.json"
	}
	for _, src := range c.Sources {
		src.ApplyDefaults()
	}
}

// Validate aggregates every problem in the file rather than stopping at
// the first, so one edit round fixes them all.
func (c *Config) Validate() error {
	var errs error
	if err := configValidator.Struct(c); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("config: %w", err))
	}

	names := set.Set[string]{}
	for _, src := range c.Sources {
		if err := src.Validate(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("config: source %q: %w", src.Name, err))
		}
		if names.Contains(src.Name) {
			errs = multierror.Append(errs, fmt.Errorf("config: duplicate source name %q", src.Name))
		}
		names.Add(src.Name)
	}

	alarmNames := set.Set[string]{}
	for _, a := range c.Alarms.Definitions {
		if err := a.Validate(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("config: alarm %q: %w", a.Name, err))
		}
		if alarmNames.Contains(a.Name) {
			errs = multierror.Append(errs, fmt.Errorf("config: duplicate alarm name %q", a.Name))
		}
		alarmNames.Add(a.Name)
	}
	return errs
}

// IndexConfig maps the file onto the engine's knobs.
func (c *Config) IndexConfig() index.Config {
	return index.Config{
		Partition: index.PartitionConfig{
			Type:                index.PartitionType(c.Index.Partition.Type),
			BaseDirectory:       c.Index.Path,
			MaxActivePartitions: c.Index.Partition.MaxActive,
			AutoArchive:         c.Index.Partition.AutoArchive,
			Enabled:             c.Index.Partition.Enabled,
		},
		MaxResultsPerPartition: c.Index.MaxResultsPerPartition,
		SearchParallelism:      c.Index.SearchParallelism,
		HousekeepingInterval:   time.Duration(c.Index.HousekeepingIntervalMs) * time.Millisecond,
	}
}

// AlarmConfig maps the file onto the alarm engine's knobs.
func (c *Config) AlarmConfig() alarms.Config {
	return alarms.Config{
		EvaluationInterval: time.Duration(c.Alarms.EvaluationIntervalMs) * time.Millisecond,
		QueryTimeout:       time.Duration(c.Alarms.QueryTimeoutMs) * time.Millisecond,
	}
}

// ClusterConfig maps the file onto the coordinator's knobs.
func (c *Config) ClusterConfig() cluster.Config {
	return cluster.Config{
		NodeID:            c.Cluster.NodeID,
		URL:               c.Cluster.URL,
		Peers:             c.Cluster.Peers,
		HeartbeatInterval: time.Duration(c.Cluster.HeartbeatIntervalMs) * time.Millisecond,
		HeartbeatTimeout:  time.Duration(c.Cluster.HeartbeatTimeoutMs) * time.Millisecond,
		HorizontalScaling: c.Cluster.HorizontalScaling,
	}
}

// FlushInterval returns the buffer flush cadence, zero meaning default.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Buffer.FlushIntervalMs) * time.Millisecond
}

// CacheTTL returns the cache entry lifetime, zero meaning default.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMs) * time.Millisecond
}

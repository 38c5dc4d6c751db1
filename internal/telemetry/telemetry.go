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

// Package telemetry holds the process-wide Prometheus instruments. Every
// subsystem records into these; the admin server exposes them on /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "grepwise"

var (
	// IngestRecords counts records accepted from a source, before parsing.
	IngestRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_records_total",
		Help:      "Total number of log records accepted for ingestion.",
	}, []string{"source_type"})

	// IngestBytes counts raw bytes accepted from a source.
	IngestBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_bytes_total",
		Help:      "Total number of raw log bytes accepted for ingestion.",
	}, []string{"source_type"})

	// ParseFallbacks counts lines a structured format could not match and
	// that fell through to the generic parser.
	ParseFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "parse_fallbacks_total",
		Help:      "Total number of lines that did not match their configured format.",
	}, []string{"format"})

	BufferSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "buffer_records",
		Help:      "Number of records currently held in the ingest buffer.",
	})

	BufferFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "buffer_flushes_total",
		Help:      "Total number of buffer flushes attempted.",
	})

	BufferFlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "buffer_flush_failures_total",
		Help:      "Total number of buffer flushes that failed and dropped their batch.",
	})

	BufferDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "buffer_dropped_records_total",
		Help:      "Total number of records dropped by failed flushes.",
	})

	IndexedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "index_records_total",
		Help:      "Total number of records committed to the index.",
	})

	IndexPartitions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "index_partitions",
		Help:      "Number of time partitions currently open in the index.",
	})

	Searches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "searches_total",
		Help:      "Total number of searches executed against the index.",
	})

	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_duration_seconds",
		Help:      "Records the amount of time to run a search across partitions.",
		Buckets:   prometheus.ExponentialBuckets(.001, 2, 12),
	})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "search_cache_hits_total",
		Help:      "Total number of searches served from the result cache.",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "search_cache_misses_total",
		Help:      "Total number of searches that missed the result cache.",
	})

	AlarmsEvaluated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alarms_evaluated_total",
		Help:      "Total number of alarm condition evaluations.",
	})

	AlarmsTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alarms_triggered_total",
		Help:      "Total number of alarm evaluations whose condition matched.",
	})

	AlarmsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alarms_suppressed_total",
		Help:      "Total number of alarm triggers suppressed by throttling.",
	})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_sent_total",
		Help:      "Total number of alarm notifications delivered, by channel.",
	}, []string{"channel"})

	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_failures_total",
		Help:      "Total number of alarm notifications that failed to deliver, by channel.",
	}, []string{"channel"})

	ClusterNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cluster_nodes",
		Help:      "Number of cluster nodes currently considered alive.",
	})

	Heartbeats = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cluster_heartbeats_total",
		Help:      "Total number of heartbeats received from peers.",
	})

	LeaderElections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cluster_leader_elections_total",
		Help:      "Total number of times leadership changed hands.",
	})

	ArchivesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archives_created_total",
		Help:      "Total number of archives written.",
	})

	ArchivesRestored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archives_restored_total",
		Help:      "Total number of archives restored into the index.",
	})
)

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

// Package analytics derives forecasts and anomaly reports from indexed
// records: volume prediction and trend via linear regression over time
// buckets, level distribution, and frequency anomalies over tumbling
// windows.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/grepwise/grepwise/index"
	"github.com/grepwise/grepwise/internal/logs"
	"github.com/grepwise/grepwise/patterns"
	"github.com/grepwise/grepwise/record"
)

// Defaults for the analysis knobs.
const (
	DefaultMinSampleSize    = 10
	DefaultBucketMinutes    = 5
	DefaultHorizonBuckets   = 6
	DefaultAnomalyThreshold = 2.0
	// stableSlopeEpsilon is the |slope| below which a trend reads STABLE,
	// in records per bucket.
	stableSlopeEpsilon = 0.0001
)

// Prediction types attached to results.
const (
	TypeVolume           = "VOLUME_PREDICTION"
	TypeTrend            = "TREND_ANALYSIS"
	TypeFrequencyAnomaly = "FREQUENCY_ANOMALY"
	TypePatternAnomaly   = "PATTERN_ANOMALY"
)

// Trend directions.
const (
	TrendIncreasing = "INCREASING"
	TrendDecreasing = "DECREASING"
	TrendStable     = "STABLE"
)

// PredictiveResult is one analysis outcome.
type PredictiveResult struct {
	PredictionType string `json:"prediction_type"`
	// PredictionTimestamp is the bucket this result describes, epoch ms.
	PredictionTimestamp int64   `json:"prediction_timestamp"`
	PredictedValue      float64 `json:"predicted_value"`
	// ConfidenceLevel is in [0, 1].
	ConfidenceLevel float64           `json:"confidence_level"`
	Description     string            `json:"description"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Searcher is the slice of the index engine the analyzer reads.
type Searcher interface {
	Search(ctx context.Context, req index.SearchRequest) ([]*record.LogRecord, error)
}

// Analyzer runs the analyses. Zero-value knobs fall back to the defaults.
type Analyzer struct {
	searcher   Searcher
	recognizer *patterns.Recognizer
	logger     logs.StructuredLogger

	minSampleSize int
}

// Option adjusts analyzer construction.
type Option func(*Analyzer)

// WithMinSampleSize overrides the sample floor below which analyses
// return empty.
func WithMinSampleSize(n int) Option {
	return func(a *Analyzer) { a.minSampleSize = n }
}

// NewAnalyzer builds an analyzer over the index.
func NewAnalyzer(searcher Searcher, recognizer *patterns.Recognizer, logger logs.StructuredLogger, opts ...Option) *Analyzer {
	a := &Analyzer{
		searcher:      searcher,
		recognizer:    recognizer,
		logger:        logger,
		minSampleSize: DefaultMinSampleSize,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// PredictVolume fits a regression of per-bucket counts over the query
// range and projects horizonBuckets future buckets. Returns empty when
// the range holds fewer than minSampleSize records.
func (a *Analyzer) PredictVolume(ctx context.Context, query string, start, end int64, bucketMinutes, horizonBuckets int) ([]PredictiveResult, error) {
	if bucketMinutes <= 0 {
		bucketMinutes = DefaultBucketMinutes
	}
	if horizonBuckets <= 0 {
		horizonBuckets = DefaultHorizonBuckets
	}
	records, err := a.fetch(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	if len(records) < a.minSampleSize {
		a.logger.Debugf("analytics: %d records in range, need %d for volume prediction", len(records), a.minSampleSize)
		return nil, nil
	}

	counts := bucketCounts(records, start, end, bucketMinutes)
	fit := fitLine(counts)
	bucketMs := int64(bucketMinutes) * int64(time.Minute/time.Millisecond)

	out := make([]PredictiveResult, 0, horizonBuckets)
	for i := 1; i <= horizonBuckets; i++ {
		x := float64(len(counts) - 1 + i)
		predicted := math.Max(0, fit.at(x))
		out = append(out, PredictiveResult{
			PredictionType:      TypeVolume,
			PredictionTimestamp: end + int64(i)*bucketMs,
			PredictedValue:      predicted,
			ConfidenceLevel:     clamp01(fit.rSquared),
			Description:         fmt.Sprintf("Predicted log volume of %.1f records for the %d-minute bucket", predicted, bucketMinutes),
			Metadata: map[string]string{
				"bucket_minutes": fmt.Sprintf("%d", bucketMinutes),
				"slope":          formatFloat(fit.slope),
			},
		})
	}
	return out, nil
}

// AnalyzeTrend classifies the volume slope over the range as INCREASING,
// DECREASING or STABLE. Returns nil when there are too few records.
func (a *Analyzer) AnalyzeTrend(ctx context.Context, query string, start, end int64, bucketMinutes int) (*PredictiveResult, error) {
	if bucketMinutes <= 0 {
		bucketMinutes = DefaultBucketMinutes
	}
	records, err := a.fetch(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	if len(records) < a.minSampleSize {
		return nil, nil
	}

	counts := bucketCounts(records, start, end, bucketMinutes)
	fit := fitLine(counts)

	direction := TrendStable
	switch {
	case fit.slope > stableSlopeEpsilon:
		direction = TrendIncreasing
	case fit.slope < -stableSlopeEpsilon:
		direction = TrendDecreasing
	}
	return &PredictiveResult{
		PredictionType:      TypeTrend,
		PredictionTimestamp: end,
		PredictedValue:      fit.slope,
		ConfidenceLevel:     clamp01(fit.rSquared),
		Description:         fmt.Sprintf("Log volume is %s over the analyzed range", direction),
		Metadata: map[string]string{
			"trendDirection": direction,
			"slope":          formatFloat(fit.slope),
			"rSquared":       formatFloat(fit.rSquared),
		},
	}, nil
}

// LevelDistribution returns the share of each level in the range as
// percentages summing to 100. Empty when there are too few records.
func (a *Analyzer) LevelDistribution(ctx context.Context, query string, start, end int64) (map[record.Level]float64, error) {
	records, err := a.fetch(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	if len(records) < a.minSampleSize {
		return nil, nil
	}
	counts := map[record.Level]int{}
	for _, r := range records {
		counts[r.Level]++
	}
	total := float64(len(records))
	out := make(map[record.Level]float64, len(counts))
	for level, n := range counts {
		out[level] = float64(n) / total * 100
	}
	return out, nil
}

// DetectFrequencyAnomalies reports every tumbling bucket whose count
// exceeds mean + threshold x stddev across the range's buckets.
func (a *Analyzer) DetectFrequencyAnomalies(ctx context.Context, query string, start, end int64, bucketMinutes int, threshold float64) ([]PredictiveResult, error) {
	if bucketMinutes <= 0 {
		bucketMinutes = DefaultBucketMinutes
	}
	if threshold <= 0 {
		threshold = DefaultAnomalyThreshold
	}
	records, err := a.fetch(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	if len(records) < a.minSampleSize {
		return nil, nil
	}

	counts := bucketCounts(records, start, end, bucketMinutes)
	mean, stddev := meanStddev(counts)
	limit := mean + threshold*stddev
	bucketMs := int64(bucketMinutes) * int64(time.Minute/time.Millisecond)

	var out []PredictiveResult
	for i, n := range counts {
		if float64(n) <= limit || stddev == 0 {
			continue
		}
		deviation := (float64(n) - mean) / stddev
		out = append(out, PredictiveResult{
			PredictionType:      TypeFrequencyAnomaly,
			PredictionTimestamp: start + int64(i)*bucketMs,
			PredictedValue:      float64(n),
			ConfidenceLevel:     clamp01(deviation / (threshold * 2)),
			Description:         fmt.Sprintf("Bucket holds %d records against a mean of %.1f", n, mean),
			Metadata: map[string]string{
				"mean":      formatFloat(mean),
				"stddev":    formatFloat(stddev),
				"threshold": formatFloat(threshold),
			},
		})
	}
	return out, nil
}

// DetectPatternAnomalies runs frequency detection per message template:
// a template whose count in one bucket spikes against its own history is
// reported even when total volume looks flat.
func (a *Analyzer) DetectPatternAnomalies(ctx context.Context, start, end int64, bucketMinutes int, threshold float64) ([]PredictiveResult, error) {
	if bucketMinutes <= 0 {
		bucketMinutes = DefaultBucketMinutes
	}
	if threshold <= 0 {
		threshold = DefaultAnomalyThreshold
	}
	records, err := a.fetch(ctx, "*", start, end)
	if err != nil {
		return nil, err
	}
	if len(records) < a.minSampleSize {
		return nil, nil
	}

	bucketMs := int64(bucketMinutes) * int64(time.Minute/time.Millisecond)
	nBuckets := int((end-start)/bucketMs) + 1
	perTemplate := map[string][]int{}
	for _, r := range records {
		template := a.recognizer.Extract(r.Message).Template
		counts, ok := perTemplate[template]
		if !ok {
			counts = make([]int, nBuckets)
			perTemplate[template] = counts
		}
		if i := bucketIndex(r.Timestamp, start, bucketMs, nBuckets); i >= 0 {
			counts[i]++
		}
	}

	var out []PredictiveResult
	for template, counts := range perTemplate {
		mean, stddev := meanStddev(counts)
		if stddev == 0 {
			continue
		}
		limit := mean + threshold*stddev
		for i, n := range counts {
			if float64(n) <= limit {
				continue
			}
			deviation := (float64(n) - mean) / stddev
			out = append(out, PredictiveResult{
				PredictionType:      TypePatternAnomaly,
				PredictionTimestamp: start + int64(i)*bucketMs,
				PredictedValue:      float64(n),
				ConfidenceLevel:     clamp01(deviation / (threshold * 2)),
				Description:         fmt.Sprintf("Pattern %q spiked to %d occurrences against a mean of %.1f", template, n, mean),
				Metadata: map[string]string{
					"template": template,
					"mean":     formatFloat(mean),
					"stddev":   formatFloat(stddev),
				},
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PredictionTimestamp != out[j].PredictionTimestamp {
			return out[i].PredictionTimestamp < out[j].PredictionTimestamp
		}
		return out[i].Metadata["template"] < out[j].Metadata["template"]
	})
	return out, nil
}

func (a *Analyzer) fetch(ctx context.Context, query string, start, end int64) ([]*record.LogRecord, error) {
	if query == "" {
		query = "*"
	}
	records, err := a.searcher.Search(ctx, index.SearchRequest{Query: query, Start: start, End: end})
	if err != nil {
		return nil, fmt.Errorf("analytics: searching %q: %w", query, err)
	}
	return records, nil
}

// bucketCounts tallies records into tumbling buckets spanning [start, end].
func bucketCounts(records []*record.LogRecord, start, end int64, bucketMinutes int) []int {
	bucketMs := int64(bucketMinutes) * int64(time.Minute/time.Millisecond)
	n := int((end-start)/bucketMs) + 1
	counts := make([]int, n)
	for _, r := range records {
		if i := bucketIndex(r.Timestamp, start, bucketMs, n); i >= 0 {
			counts[i]++
		}
	}
	return counts
}

func bucketIndex(ts, start, bucketMs int64, n int) int {
	if ts < start {
		return -1
	}
	i := int((ts - start) / bucketMs)
	if i >= n {
		return -1
	}
	return i
}

func meanStddev(counts []int) (float64, float64) {
	if len(counts) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, n := range counts {
		sum += float64(n)
	}
	mean := sum / float64(len(counts))
	variance := 0.0
	for _, n := range counts {
		d := float64(n) - mean
		variance += d * d
	}
	variance /= float64(len(counts))
	return mean, math.Sqrt(variance)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

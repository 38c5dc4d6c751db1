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

package analytics_test

import (
	"context"
	"fmt"
	"math"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/grepwise/grepwise/analytics"
	"github.com/grepwise/grepwise/index"
	"github.com/grepwise/grepwise/internal/logs"
	"github.com/grepwise/grepwise/patterns"
	"github.com/grepwise/grepwise/record"
)

type fakeSearcher struct {
	records []*record.LogRecord
}

func (s *fakeSearcher) Search(_ context.Context, req index.SearchRequest) ([]*record.LogRecord, error) {
	var out []*record.LogRecord
	for _, r := range s.records {
		if r.Timestamp >= req.Start && r.Timestamp <= req.End {
			out = append(out, r)
		}
	}
	return out, nil
}

const bucketMs = int64(60_000)

// recordsAt builds count records per bucket, one minute per bucket
// starting at start.
func recordsAt(start int64, message string, level record.Level, countsPerBucket ...int) []*record.LogRecord {
	var out []*record.LogRecord
	for bucket, count := range countsPerBucket {
		for i := 0; i < count; i++ {
			r := record.New(fmt.Sprintf("%s %d", message, i), "test")
			r.Timestamp = start + int64(bucket)*bucketMs + int64(i)
			r.Level = level
			out = append(out, r)
		}
	}
	return out
}

func newAnalyzer(t *testing.T, records []*record.LogRecord) *analytics.Analyzer {
	t.Helper()
	rec, err := patterns.NewRecognizer(0)
	assert.NilError(t, err)
	return analytics.NewAnalyzer(&fakeSearcher{records: records}, rec, logs.DiscardLogger())
}

func TestPredictVolumeProjectsGrowth(t *testing.T) {
	start := int64(1_700_000_000_000)
	// Perfectly linear growth: 2, 4, 6, 8 records per bucket.
	a := newAnalyzer(t, recordsAt(start, "request handled", record.LevelInfo, 2, 4, 6, 8))

	end := start + 4*bucketMs - 1
	results, err := a.PredictVolume(context.Background(), "*", start, end, 1, 3)
	assert.NilError(t, err)
	assert.Equal(t, len(results), 3)

	// The fit is exact, so confidence is 1 and the next bucket continues
	// the ramp.
	assert.Assert(t, math.Abs(results[0].PredictedValue-10) < 0.01)
	assert.Assert(t, math.Abs(results[0].ConfidenceLevel-1) < 0.01)
	assert.Equal(t, results[0].PredictionTimestamp, end+bucketMs)
	assert.Assert(t, math.Abs(results[2].PredictedValue-14) < 0.01)
}

func TestPredictVolumeNeverNegative(t *testing.T) {
	start := int64(1_700_000_000_000)
	a := newAnalyzer(t, recordsAt(start, "shrinking", record.LevelInfo, 8, 6, 2, 0))

	results, err := a.PredictVolume(context.Background(), "*", start, start+4*bucketMs-1, 1, 5)
	assert.NilError(t, err)
	for _, r := range results {
		assert.Assert(t, r.PredictedValue >= 0)
	}
}

func TestPredictVolumeBelowSampleFloor(t *testing.T) {
	start := int64(1_700_000_000_000)
	a := newAnalyzer(t, recordsAt(start, "sparse", record.LevelInfo, 1, 1, 1))

	results, err := a.PredictVolume(context.Background(), "*", start, start+3*bucketMs-1, 1, 3)
	assert.NilError(t, err)
	assert.Equal(t, len(results), 0)
}

func TestAnalyzeTrendDirections(t *testing.T) {
	start := int64(1_700_000_000_000)
	cases := []struct {
		name      string
		buckets   []int
		direction string
	}{
		{"rising", []int{2, 4, 6, 8}, "INCREASING"},
		{"falling", []int{8, 6, 4, 2}, "DECREASING"},
		{"flat", []int{5, 5, 5, 5}, "STABLE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newAnalyzer(t, recordsAt(start, "msg", record.LevelInfo, tc.buckets...))
			got, err := a.AnalyzeTrend(context.Background(), "*", start, start+int64(len(tc.buckets))*bucketMs-1, 1)
			assert.NilError(t, err)
			assert.Assert(t, got != nil)
			assert.Equal(t, got.Metadata["trendDirection"], tc.direction)
		})
	}
}

func TestLevelDistributionSumsToHundred(t *testing.T) {
	start := int64(1_700_000_000_000)
	records := recordsAt(start, "ok", record.LevelInfo, 6)
	records = append(records, recordsAt(start, "bad", record.LevelError, 3)...)
	records = append(records, recordsAt(start, "warn", record.LevelWarn, 3)...)
	a := newAnalyzer(t, records)

	dist, err := a.LevelDistribution(context.Background(), "*", start, start+bucketMs)
	assert.NilError(t, err)
	assert.Equal(t, len(dist), 3)
	assert.Assert(t, math.Abs(dist[record.LevelInfo]-50) < 0.1)
	assert.Assert(t, math.Abs(dist[record.LevelError]-25) < 0.1)

	total := 0.0
	for _, pct := range dist {
		total += pct
	}
	assert.Assert(t, math.Abs(total-100) < 0.1)
}

func TestDetectFrequencyAnomalies(t *testing.T) {
	start := int64(1_700_000_000_000)
	// Steady volume with one spike in bucket 4.
	a := newAnalyzer(t, recordsAt(start, "steady", record.LevelInfo, 5, 5, 5, 5, 40, 5, 5, 5))

	got, err := a.DetectFrequencyAnomalies(context.Background(), "*", start, start+8*bucketMs-1, 1, 2.0)
	assert.NilError(t, err)
	assert.Equal(t, len(got), 1)
	assert.Equal(t, got[0].PredictionTimestamp, start+4*bucketMs)
	assert.Equal(t, got[0].PredictedValue, float64(40))
}

func TestDetectFrequencyAnomaliesFlatSeries(t *testing.T) {
	start := int64(1_700_000_000_000)
	a := newAnalyzer(t, recordsAt(start, "steady", record.LevelInfo, 5, 5, 5, 5))

	got, err := a.DetectFrequencyAnomalies(context.Background(), "*", start, start+4*bucketMs-1, 1, 2.0)
	assert.NilError(t, err)
	assert.Equal(t, len(got), 0)
}

func TestDetectPatternAnomalies(t *testing.T) {
	start := int64(1_700_000_000_000)
	// Background chatter is flat; one template spikes in bucket 5.
	records := recordsAt(start, "heartbeat from 10.0.0.1 ok", record.LevelInfo, 3, 3, 3, 3, 3, 3, 3, 3)
	spike := recordsAt(start, "connection refused to 10.0.0.2", record.LevelError, 1, 1, 1, 1, 1, 30, 1, 1)
	records = append(records, spike...)
	a := newAnalyzer(t, records)

	got, err := a.DetectPatternAnomalies(context.Background(), start, start+8*bucketMs-1, 1, 2.0)
	assert.NilError(t, err)
	assert.Equal(t, len(got), 1)
	assert.Equal(t, got[0].PredictionTimestamp, start+5*bucketMs)
	// recordsAt appends a numeric suffix, which collapses too.
	assert.Equal(t, got[0].Metadata["template"], "connection refused to {{IP_ADDRESS}} {{NUMBER}}")
}

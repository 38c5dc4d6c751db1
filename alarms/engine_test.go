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

package alarms_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/grepwise/grepwise/alarms"
	"github.com/grepwise/grepwise/index"
	"github.com/grepwise/grepwise/internal/logs"
	"github.com/grepwise/grepwise/record"
	"github.com/grepwise/grepwise/storage"
	"gotest.tools/v3/assert"
)

// fakeSearcher returns a fixed number of matching records per search.
type fakeSearcher struct {
	mu      sync.Mutex
	matches int
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, _ index.SearchRequest) ([]*record.LogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*record.LogRecord, f.matches)
	for i := range out {
		out[i] = record.New("match", "test")
	}
	return out, nil
}

// fakeTransport records every delivery.
type fakeTransport struct {
	mu      sync.Mutex
	alerts  []string
	grouped []groupedCall
	fail    bool
}

type groupedCall struct {
	key   string
	count int
}

func (f *fakeTransport) SendAlert(a *alarms.Alarm, destination, message string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return false
	}
	f.alerts = append(f.alerts, a.Name+"->"+destination)
	return true
}

func (f *fakeTransport) SendGroupedAlert(key, destination, message string, count int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return false
	}
	f.grouped = append(f.grouped, groupedCall{key: key, count: count})
	return true
}

func (f *fakeTransport) alertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

func newEngine(t *testing.T, searcher alarms.Searcher, mock clock.Clock, transports map[string]alarms.Transport) *alarms.Engine {
	t.Helper()
	repo, err := storage.NewJSONRepository[*alarms.Alarm](filepath.Join(t.TempDir(), "alarms.json"))
	assert.NilError(t, err)
	return alarms.NewEngine(alarms.Config{}, repo, searcher, transports, logs.DiscardLogger(), alarms.WithClock(mock))
}

func baseAlarm(name string) *alarms.Alarm {
	return &alarms.Alarm{
		Name:                 name,
		Query:                "level:ERROR",
		Condition:            "count > 0",
		Threshold:            1,
		TimeWindowMinutes:    1,
		Enabled:              true,
		NotificationChannels: []alarms.NotificationChannel{{Type: "EMAIL", Destination: "x@y"}},
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	e := newEngine(t, &fakeSearcher{}, clock.NewMock(), nil)
	assert.NilError(t, e.Create(baseAlarm("dup")))
	err := e.Create(baseAlarm("dup"))
	assert.Assert(t, errors.Is(err, alarms.ErrConflict))
}

func TestCreateValidates(t *testing.T) {
	e := newEngine(t, &fakeSearcher{}, clock.NewMock(), nil)

	missingQuery := baseAlarm("no-query")
	missingQuery.Query = ""
	assert.Assert(t, errors.Is(e.Create(missingQuery), alarms.ErrValidation))

	badWindow := baseAlarm("bad-window")
	badWindow.TimeWindowMinutes = 0
	assert.Assert(t, errors.Is(e.Create(badWindow), alarms.ErrValidation))

	badCondition := baseAlarm("bad-condition")
	badCondition.Condition = "count >"
	assert.Assert(t, errors.Is(e.Create(badCondition), alarms.ErrValidation))
}

func TestEvaluateTriggersOnCondition(t *testing.T) {
	mock := clock.NewMock()
	transport := &fakeTransport{}
	e := newEngine(t, &fakeSearcher{matches: 3}, mock, map[string]alarms.Transport{"EMAIL": transport})

	a := baseAlarm("fires")
	assert.NilError(t, e.Create(a))
	e.Evaluate(context.Background(), a)

	assert.Equal(t, transport.alertCount(), 1)
	assert.Equal(t, transport.alerts[0], "fires->x@y")
}

func TestEvaluateDoesNotTriggerBelowCondition(t *testing.T) {
	mock := clock.NewMock()
	transport := &fakeTransport{}
	e := newEngine(t, &fakeSearcher{matches: 0}, mock, map[string]alarms.Transport{"EMAIL": transport})

	a := baseAlarm("quiet")
	assert.NilError(t, e.Create(a))
	e.Evaluate(context.Background(), a)
	assert.Equal(t, transport.alertCount(), 0)
}

func TestThrottlingCapsNotifications(t *testing.T) {
	mock := clock.NewMock()
	transport := &fakeTransport{}
	e := newEngine(t, &fakeSearcher{matches: 2}, mock, map[string]alarms.Transport{"EMAIL": transport})

	a := baseAlarm("throttled")
	a.ThrottleWindowMinutes = 2
	a.MaxNotificationsPerWindow = 1
	assert.NilError(t, e.Create(a))

	// Two triggers in quick succession deliver exactly once.
	e.Evaluate(context.Background(), a)
	mock.Add(10 * time.Second)
	e.Evaluate(context.Background(), a)
	assert.Equal(t, transport.alertCount(), 1)

	// Past the throttle window, delivery resumes.
	mock.Add(2 * time.Minute)
	e.Evaluate(context.Background(), a)
	assert.Equal(t, transport.alertCount(), 2)
}

func TestGroupingCoalescesTriggers(t *testing.T) {
	mock := clock.NewMock()
	transport := &fakeTransport{}
	e := newEngine(t, &fakeSearcher{matches: 5}, mock, map[string]alarms.Transport{"EMAIL": transport})

	a := baseAlarm("grouped-a")
	a.GroupingKey = "db-incident"
	a.GroupingWindowMinutes = 5
	b := baseAlarm("grouped-b")
	b.GroupingKey = "db-incident"
	b.GroupingWindowMinutes = 5
	assert.NilError(t, e.Create(a))
	assert.NilError(t, e.Create(b))

	e.Evaluate(context.Background(), a)
	e.Evaluate(context.Background(), b)

	// Nothing sends until the grouping window closes.
	e.FlushDueGroups()
	assert.Equal(t, len(transport.grouped), 0)
	assert.Equal(t, transport.alertCount(), 0)

	mock.Add(5 * time.Minute)
	e.FlushDueGroups()
	assert.Equal(t, len(transport.grouped), 1)
	assert.Equal(t, transport.grouped[0].key, "db-incident")
	assert.Equal(t, transport.grouped[0].count, 2)
}

func TestTransportFailureDoesNotBlockOthers(t *testing.T) {
	mock := clock.NewMock()
	failing := &fakeTransport{fail: true}
	working := &fakeTransport{}
	e := newEngine(t, &fakeSearcher{matches: 1}, mock, map[string]alarms.Transport{
		"EMAIL": failing,
		"SLACK": working,
	})

	a := baseAlarm("fan-out")
	a.NotificationChannels = []alarms.NotificationChannel{
		{Type: "EMAIL", Destination: "x@y"},
		{Type: "SLACK", Destination: "#ops"},
	}
	assert.NilError(t, e.Create(a))
	e.Evaluate(context.Background(), a)

	assert.Equal(t, failing.alertCount(), 0)
	assert.Equal(t, working.alertCount(), 1)
}

func TestSearchTimeoutSkipsEvaluation(t *testing.T) {
	mock := clock.NewMock()
	transport := &fakeTransport{}
	e := newEngine(t, &fakeSearcher{err: context.DeadlineExceeded}, mock, map[string]alarms.Transport{"EMAIL": transport})

	a := baseAlarm("slow")
	assert.NilError(t, e.Create(a))
	e.Evaluate(context.Background(), a)
	assert.Equal(t, transport.alertCount(), 0)
}

func TestStats(t *testing.T) {
	e := newEngine(t, &fakeSearcher{}, clock.NewMock(), nil)
	enabled := baseAlarm("on")
	disabled := baseAlarm("off")
	disabled.Enabled = false
	assert.NilError(t, e.Create(enabled))
	assert.NilError(t, e.Create(disabled))

	stats, err := e.Stats()
	assert.NilError(t, err)
	assert.Equal(t, stats, alarms.Stats{TotalAlarms: 2, EnabledAlarms: 1, DisabledAlarms: 1})
}

func TestDefaultConditionUsesThreshold(t *testing.T) {
	mock := clock.NewMock()
	transport := &fakeTransport{}
	e := newEngine(t, &fakeSearcher{matches: 2}, mock, map[string]alarms.Transport{"EMAIL": transport})

	a := baseAlarm("default-condition")
	a.Condition = ""
	a.Threshold = 3
	assert.NilError(t, e.Create(a))
	e.Evaluate(context.Background(), a)
	// count(2) < threshold(3): no trigger.
	assert.Equal(t, transport.alertCount(), 0)

	b := baseAlarm("default-condition-fires")
	b.Condition = ""
	b.Threshold = 2
	assert.NilError(t, e.Create(b))
	e.Evaluate(context.Background(), b)
	assert.Equal(t, transport.alertCount(), 1)
}

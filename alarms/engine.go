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

package alarms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/expr-lang/expr/vm"
	"github.com/grepwise/grepwise/index"
	"github.com/grepwise/grepwise/internal/logs"
	"github.com/grepwise/grepwise/internal/telemetry"
	"github.com/grepwise/grepwise/record"
	"github.com/grepwise/grepwise/storage"
)

const (
	DefaultEvaluationInterval = 15 * time.Second
	DefaultQueryTimeout       = 30 * time.Second
)

// Error kinds surfaced to admin callers.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("name already exists")
	ErrNotFound   = storage.ErrNotFound
)

// Searcher is the slice of the index engine alarm evaluation reads.
type Searcher interface {
	Search(ctx context.Context, req index.SearchRequest) ([]*record.LogRecord, error)
}

// Transport delivers notifications over one channel type. Implementations
// report success with their return value; the engine never treats a false
// as fatal.
type Transport interface {
	SendAlert(alarm *Alarm, destination, message string) bool
	SendGroupedAlert(groupingKey, destination, message string, count int) bool
}

// Config carries the engine knobs.
type Config struct {
	// EvaluationInterval is the scheduler tick. Each alarm evaluates at
	// its own cadence of timeWindow/4 but never more often than the tick.
	EvaluationInterval time.Duration
	// QueryTimeout bounds one alarm's search; on timeout the evaluation
	// is skipped, not failed.
	QueryTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.EvaluationInterval <= 0 {
		c.EvaluationInterval = DefaultEvaluationInterval
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
}

// Engine owns the alarm set and its evaluation schedule.
type Engine struct {
	cfg        Config
	repo       storage.Repository[*Alarm]
	searcher   Searcher
	transports map[string]Transport
	logger     logs.StructuredLogger
	clock      clock.Clock

	mu     sync.Mutex
	states map[string]*alarmState
	groups map[string]*group

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// alarmState is the engine's per-alarm bookkeeping. Guarded by its own
// mutex so one slow alarm cannot serialize the rest.
type alarmState struct {
	mu        sync.Mutex
	program   *vm.Program
	condition string
	nextDue   time.Time
	// sends ring-buffers the delivery timestamps inside the throttle
	// window.
	sends []time.Time
}

// group accumulates triggers sharing a grouping key until its deadline.
type group struct {
	key      string
	deadline time.Time
	members  []groupMember
}

type groupMember struct {
	alarm *Alarm
	count int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock substitutes the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// NewEngine builds an alarm engine. Transports are registered by channel
// type, matched case-insensitively against Alarm.NotificationChannels.
func NewEngine(cfg Config, repo storage.Repository[*Alarm], searcher Searcher, transports map[string]Transport, logger logs.StructuredLogger, options ...Option) *Engine {
	cfg.applyDefaults()
	normalized := make(map[string]Transport, len(transports))
	for name, t := range transports {
		normalized[strings.ToUpper(name)] = t
	}
	e := &Engine{
		cfg:        cfg,
		repo:       repo,
		searcher:   searcher,
		transports: normalized,
		logger:     logger,
		clock:      clock.New(),
		states:     map[string]*alarmState{},
		groups:     map[string]*group{},
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// Create validates and persists a new alarm. A duplicate name is a
// Conflict.
func (e *Engine) Create(a *Alarm) error {
	a.applyDefaults()
	if err := a.Validate(); err != nil {
		return err
	}
	exists, err := e.repo.ExistsByName(a.Name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("alarm %q: %w", a.Name, ErrConflict)
	}
	return e.repo.Save(a)
}

// Update replaces an existing alarm. Renaming onto another alarm's name is
// a Conflict.
func (e *Engine) Update(a *Alarm) error {
	a.applyDefaults()
	if err := a.Validate(); err != nil {
		return err
	}
	existing, err := e.repo.FindByID(a.ID)
	if err != nil {
		return err
	}
	if existing.Name != a.Name {
		exists, err := e.repo.ExistsByName(a.Name)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("alarm %q: %w", a.Name, ErrConflict)
		}
	}
	if err := e.repo.Save(a); err != nil {
		return err
	}
	// Force condition recompile and immediate rescheduling.
	e.mu.Lock()
	delete(e.states, a.ID)
	e.mu.Unlock()
	return nil
}

// Delete removes an alarm and its evaluation state.
func (e *Engine) Delete(id string) error {
	if err := e.repo.DeleteByID(id); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.states, id)
	e.mu.Unlock()
	return nil
}

// Get returns one alarm by id.
func (e *Engine) Get(id string) (*Alarm, error) {
	return e.repo.FindByID(id)
}

// List returns every alarm.
func (e *Engine) List() ([]*Alarm, error) {
	return e.repo.FindAll()
}

// SetEnabled flips an alarm on or off.
func (e *Engine) SetEnabled(id string, enabled bool) error {
	a, err := e.repo.FindByID(id)
	if err != nil {
		return err
	}
	a.Enabled = enabled
	return e.repo.Save(a)
}

// Stats summarizes the alarm set.
type Stats struct {
	TotalAlarms    int `json:"total_alarms"`
	EnabledAlarms  int `json:"enabled_alarms"`
	DisabledAlarms int `json:"disabled_alarms"`
}

func (e *Engine) Stats() (Stats, error) {
	all, err := e.repo.FindAll()
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{TotalAlarms: len(all)}
	for _, a := range all {
		if a.Enabled {
			stats.EnabledAlarms++
		} else {
			stats.DisabledAlarms++
		}
	}
	return stats, nil
}

// Run drives the evaluation schedule until the context is cancelled or
// Stop is called.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.doneCh)
	ticker := e.clock.Ticker(e.cfg.EvaluationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.EvaluateDue(ctx)
			e.FlushDueGroups()
		}
	}
}

// Stop halts the scheduler.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.doneCh
}

// EvaluateDue runs every enabled alarm whose cadence has elapsed.
func (e *Engine) EvaluateDue(ctx context.Context) {
	all, err := e.repo.FindAll()
	if err != nil {
		e.logger.Errorf("alarms: listing alarms for evaluation: %v", err)
		return
	}
	now := e.clock.Now()
	for _, a := range all {
		if !a.Enabled {
			continue
		}
		state := e.stateFor(a)
		state.mu.Lock()
		due := !state.nextDue.After(now)
		if due {
			cadence := time.Duration(a.TimeWindowMinutes) * time.Minute / 4
			if cadence < e.cfg.EvaluationInterval {
				cadence = e.cfg.EvaluationInterval
			}
			state.nextDue = now.Add(cadence)
		}
		state.mu.Unlock()
		if due {
			e.Evaluate(ctx, a)
		}
	}
}

// stateFor returns (building if needed) the per-alarm state with its
// compiled condition.
func (e *Engine) stateFor(a *Alarm) *alarmState {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.states[a.ID]
	if !ok || state.condition != a.Condition {
		program, err := a.compileCondition()
		if err != nil {
			// Validate catches this at create/update; an unparseable
			// stored condition falls back to the threshold comparison.
			e.logger.Errorf("alarms: alarm %q condition invalid, using threshold: %v", a.Name, err)
			fallback := &Alarm{Condition: ""}
			program, _ = fallback.compileCondition()
		}
		state = &alarmState{program: program, condition: a.Condition}
		e.states[a.ID] = state
	}
	return state
}

// Evaluate runs one alarm now: search the trailing window, apply the
// condition, and trigger notifications when it holds. A search timeout
// skips the evaluation.
func (e *Engine) Evaluate(ctx context.Context, a *Alarm) {
	telemetry.AlarmsEvaluated.Inc()

	now := e.clock.Now()
	start := now.Add(-time.Duration(a.TimeWindowMinutes) * time.Minute)
	cctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	results, err := e.searcher.Search(cctx, index.SearchRequest{
		Query: a.Query,
		Start: record.TimeToMillis(start),
		End:   record.TimeToMillis(now),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.logger.Warnf("alarms: evaluation of %q timed out after %s, skipping", a.Name, e.cfg.QueryTimeout)
		} else {
			e.logger.Errorf("alarms: evaluating %q: %v", a.Name, err)
		}
		return
	}

	count := len(results)
	state := e.stateFor(a)
	matched, err := runCondition(state.program, count, a.Threshold)
	if err != nil {
		e.logger.Errorf("alarms: condition of %q failed on count=%d: %v", a.Name, count, err)
		return
	}
	if !matched {
		return
	}

	telemetry.AlarmsTriggered.Inc()
	e.trigger(a, count)
}

func runCondition(program *vm.Program, count, threshold int) (bool, error) {
	out, err := vm.Run(program, conditionEnv{Count: count, Threshold: threshold})
	if err != nil {
		return false, err
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition returned %T, want bool", out)
	}
	return matched, nil
}

// trigger applies throttling, then either joins a group or sends
// immediately.
func (e *Engine) trigger(a *Alarm, count int) {
	now := e.clock.Now()
	state := e.stateFor(a)

	state.mu.Lock()
	window := time.Duration(a.ThrottleWindowMinutes) * time.Minute
	kept := state.sends[:0]
	for _, ts := range state.sends {
		if now.Sub(ts) < window {
			kept = append(kept, ts)
		}
	}
	state.sends = kept
	if len(state.sends) >= a.MaxNotificationsPerWindow {
		state.mu.Unlock()
		telemetry.AlarmsSuppressed.Inc()
		e.logger.Debugf("alarms: %q throttled (%d sends in the last %s)", a.Name, len(kept), window)
		return
	}
	state.sends = append(state.sends, now)
	state.mu.Unlock()

	if a.GroupingKey != "" {
		e.joinGroup(a, count, now)
		return
	}
	e.sendIndividual(a, count)
}

func (e *Engine) joinGroup(a *Alarm, count int, now time.Time) {
	e.mu.Lock()
	g, ok := e.groups[a.GroupingKey]
	if !ok {
		g = &group{
			key:      a.GroupingKey,
			deadline: now.Add(time.Duration(a.GroupingWindowMinutes) * time.Minute),
		}
		e.groups[a.GroupingKey] = g
	}
	g.members = append(g.members, groupMember{alarm: a, count: count})
	e.mu.Unlock()
}

// FlushDueGroups emits one grouped notification for every group past its
// deadline.
func (e *Engine) FlushDueGroups() {
	now := e.clock.Now()
	e.mu.Lock()
	var due []*group
	for key, g := range e.groups {
		if !g.deadline.After(now) {
			due = append(due, g)
			delete(e.groups, key)
		}
	}
	e.mu.Unlock()

	for _, g := range due {
		e.sendGrouped(g)
	}
}

func (e *Engine) sendIndividual(a *Alarm, count int) {
	message := fmt.Sprintf("Alarm %q triggered: %d matching records in the last %d minutes (query: %s)",
		a.Name, count, a.TimeWindowMinutes, a.Query)
	delivered := false
	for _, channel := range a.NotificationChannels {
		transport, ok := e.transports[strings.ToUpper(channel.Type)]
		if !ok {
			e.logger.Warnf("alarms: %q names unknown channel type %q", a.Name, channel.Type)
			continue
		}
		if transport.SendAlert(a, channel.Destination, message) {
			delivered = true
			telemetry.NotificationsSent.WithLabelValues(strings.ToUpper(channel.Type)).Inc()
		} else {
			telemetry.NotificationFailures.WithLabelValues(strings.ToUpper(channel.Type)).Inc()
		}
	}
	if !delivered && len(a.NotificationChannels) > 0 {
		e.logger.Errorf("alarms: %q triggered but no channel delivered", a.Name)
	}
}

// sendGrouped fans one notification out to the union of the members'
// channels. The count reported is the number of triggers in the group.
func (e *Engine) sendGrouped(g *group) {
	var lines []string
	for _, m := range g.members {
		lines = append(lines, fmt.Sprintf("%s (%d records)", m.alarm.Name, m.count))
	}
	sort.Strings(lines)
	message := fmt.Sprintf("Grouped alarm %q: %d triggers: %s",
		g.key, len(g.members), strings.Join(lines, "; "))

	type destKey struct{ typ, dest string }
	seen := map[destKey]bool{}
	for _, m := range g.members {
		for _, channel := range m.alarm.NotificationChannels {
			key := destKey{strings.ToUpper(channel.Type), channel.Destination}
			if seen[key] {
				continue
			}
			seen[key] = true
			transport, ok := e.transports[key.typ]
			if !ok {
				e.logger.Warnf("alarms: group %q names unknown channel type %q", g.key, channel.Type)
				continue
			}
			if transport.SendGroupedAlert(g.key, channel.Destination, message, len(g.members)) {
				telemetry.NotificationsSent.WithLabelValues(key.typ).Inc()
			} else {
				telemetry.NotificationFailures.WithLabelValues(key.typ).Inc()
			}
		}
	}
}

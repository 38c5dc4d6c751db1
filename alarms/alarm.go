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

// Package alarms evaluates saved searches against the index on a schedule
// and fans matching conditions out to notification transports, with
// per-alarm throttling and cross-alarm grouping.
package alarms

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Defaults per alarm when the caller leaves the knob zero.
const (
	DefaultThrottleWindowMinutes     = 60
	DefaultMaxNotificationsPerWindow = 1
	DefaultGroupingWindowMinutes     = 5
)

// NotificationChannel routes one alarm to one transport destination.
type NotificationChannel struct {
	// Type selects the transport: EMAIL, PAGERDUTY, OPSGENIE, WEBHOOK,
	// SLACK. Matching is case-insensitive.
	Type        string `json:"type" yaml:"type" validate:"required"`
	Destination string `json:"destination" yaml:"destination" validate:"required"`
}

// Alarm is a saved search with a condition and a notification policy.
type Alarm struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name" validate:"required"`
	Description string `json:"description" yaml:"description"`
	// Query is index search text evaluated over the trailing time window.
	Query string `json:"query" yaml:"query" validate:"required"`
	// Condition compares the result count, e.g. "count > 10". When empty,
	// the engine uses "count >= threshold".
	Condition         string `json:"condition" yaml:"condition"`
	Threshold         int    `json:"threshold" yaml:"threshold" validate:"gte=0"`
	TimeWindowMinutes int    `json:"time_window_minutes" yaml:"time_window_minutes" validate:"gt=0"`
	Enabled           bool   `json:"enabled" yaml:"enabled"`

	NotificationChannels []NotificationChannel `json:"notification_channels" yaml:"notification_channels" validate:"dive"`

	ThrottleWindowMinutes     int `json:"throttle_window_minutes" yaml:"throttle_window_minutes"`
	MaxNotificationsPerWindow int `json:"max_notifications_per_window" yaml:"max_notifications_per_window"`

	// GroupingKey coalesces triggers from alarms sharing the key into one
	// notification. Empty means no grouping.
	GroupingKey           string `json:"grouping_key,omitempty" yaml:"grouping_key,omitempty"`
	GroupingWindowMinutes int    `json:"grouping_window_minutes" yaml:"grouping_window_minutes"`
}

func (a *Alarm) EntityID() string   { return a.ID }
func (a *Alarm) EntityName() string { return a.Name }

var alarmValidator = validator.New()

// applyDefaults fills the id and the zero-valued policy knobs.
func (a *Alarm) applyDefaults() {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.ThrottleWindowMinutes <= 0 {
		a.ThrottleWindowMinutes = DefaultThrottleWindowMinutes
	}
	if a.MaxNotificationsPerWindow <= 0 {
		a.MaxNotificationsPerWindow = DefaultMaxNotificationsPerWindow
	}
	if a.GroupingWindowMinutes <= 0 {
		a.GroupingWindowMinutes = DefaultGroupingWindowMinutes
	}
}

// Validate checks the alarm's invariants and that its condition compiles.
func (a *Alarm) Validate() error {
	if err := alarmValidator.Struct(a); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if _, err := a.compileCondition(); err != nil {
		return err
	}
	return nil
}

// compileCondition builds the condition program. The expression sees one
// variable, count.
func (a *Alarm) compileCondition() (*vm.Program, error) {
	condition := a.Condition
	if condition == "" {
		condition = "count >= threshold"
	}
	program, err := expr.Compile(condition,
		expr.Env(conditionEnv{}),
		expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: condition %q: %v", ErrValidation, condition, err)
	}
	return program, nil
}

// conditionEnv is the typed environment alarm conditions evaluate in.
type conditionEnv struct {
	Count     int `expr:"count"`
	Threshold int `expr:"threshold"`
}

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

// Package sources manages ingestion source configurations and the drivers
// that read them: file scanners, syslog listeners, HTTP receivers and
// cloud pullers. The registry owns source lifecycle and defers to the
// cluster coordinator for which sources this node processes.
package sources

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/grepwise/grepwise/internal/secret"
	"github.com/grepwise/grepwise/storage"
)

// Error kinds surfaced to admin callers.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = storage.ErrNotFound
)

// Type discriminates the source config union.
type Type string

const (
	File   Type = "FILE"
	Syslog Type = "SYSLOG"
	HTTP   Type = "HTTP"
	Cloud  Type = "CLOUD"
)

// Config is one ingestion source. Exactly one of the per-type settings
// blocks must be set, matching Type.
type Config struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name" validate:"required"`
	Type    Type   `json:"source_type" yaml:"type" validate:"required,oneof=FILE SYSLOG HTTP CLOUD"`
	Enabled bool   `json:"enabled" yaml:"enabled"`

	File   *FileSettings   `json:"file,omitempty" yaml:"file,omitempty"`
	Syslog *SyslogSettings `json:"syslog,omitempty" yaml:"syslog,omitempty"`
	HTTP   *HTTPSettings   `json:"http,omitempty" yaml:"http,omitempty"`
	Cloud  *CloudSettings  `json:"cloud,omitempty" yaml:"cloud,omitempty"`
}

func (c *Config) EntityID() string   { return c.ID }
func (c *Config) EntityName() string { return c.Name }

// FileSettings configures a polling directory scanner.
type FileSettings struct {
	DirectoryPath string `json:"directory_path" yaml:"directory_path" validate:"required"`
	// FilePattern is a glob relative to DirectoryPath, e.g. "*.log".
	FilePattern         string `json:"file_pattern" yaml:"file_pattern" validate:"required"`
	ScanIntervalSeconds int    `json:"scan_interval_seconds" yaml:"scan_interval_seconds" validate:"gt=0"`
}

// SyslogSettings configures a UDP or TCP syslog listener.
type SyslogSettings struct {
	Port     int    `json:"port" yaml:"port" validate:"gt=0,lte=65535"`
	Protocol string `json:"protocol" yaml:"protocol" validate:"required,oneof=UDP TCP"`
	Format   string `json:"format" yaml:"format" validate:"required,oneof=RFC3164 RFC5424"`
}

// HTTPSettings configures a push receiver mounted on the ingest router.
type HTTPSettings struct {
	Path         string        `json:"path" yaml:"path" validate:"required,startswith=/"`
	AuthToken    secret.String `json:"auth_token" yaml:"auth_token" validate:"required"`
	BatchAllowed bool          `json:"batch_allowed" yaml:"batch_allowed"`
}

// CloudSettings configures a provider log puller. Options carries the
// provider-specific handle and is decoded by the provider implementation.
type CloudSettings struct {
	Provider            string         `json:"provider" yaml:"provider" validate:"required"`
	PollIntervalSeconds int            `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	Options             map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

var configValidator = validator.New()

// ApplyDefaults fills the id and per-type zero values.
func (c *Config) ApplyDefaults() {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.File != nil && c.File.ScanIntervalSeconds <= 0 {
		c.File.ScanIntervalSeconds = 10
	}
	if c.Cloud != nil && c.Cloud.PollIntervalSeconds <= 0 {
		c.Cloud.PollIntervalSeconds = 60
	}
}

// Validate checks the union invariant and the per-type settings.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	settings := map[Type]bool{
		File:   c.File != nil,
		Syslog: c.Syslog != nil,
		HTTP:   c.HTTP != nil,
		Cloud:  c.Cloud != nil,
	}
	if !settings[c.Type] {
		return fmt.Errorf("%w: source %q of type %s is missing its %s settings", ErrValidation, c.Name, c.Type, c.Type)
	}
	for typ, present := range settings {
		if present && typ != c.Type {
			return fmt.Errorf("%w: source %q of type %s also carries %s settings", ErrValidation, c.Name, c.Type, typ)
		}
	}
	return nil
}

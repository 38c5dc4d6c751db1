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

package sources_test

import (
	"errors"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/grepwise/grepwise/sources"
)

func TestConfigDefaults(t *testing.T) {
	cfg := &sources.Config{
		Name: "app logs",
		Type: sources.File,
		File: &sources.FileSettings{DirectoryPath: "/var/log", FilePattern: "*.log"},
	}
	cfg.ApplyDefaults()
	assert.Assert(t, cfg.ID != "")
	assert.Equal(t, cfg.File.ScanIntervalSeconds, 10)
	assert.NilError(t, cfg.Validate())
}

func TestConfigCloudDefaults(t *testing.T) {
	cfg := &sources.Config{
		Name:  "gcp",
		Type:  sources.Cloud,
		Cloud: &sources.CloudSettings{Provider: "gcp"},
	}
	cfg.ApplyDefaults()
	assert.Equal(t, cfg.Cloud.PollIntervalSeconds, 60)
	assert.NilError(t, cfg.Validate())
}

func TestConfigValidateRejectsMissingSettings(t *testing.T) {
	cfg := &sources.Config{Name: "broken", Type: sources.Syslog}
	cfg.ApplyDefaults()
	err := cfg.Validate()
	assert.Assert(t, errors.Is(err, sources.ErrValidation))
}

func TestConfigValidateRejectsMismatchedSettings(t *testing.T) {
	cfg := &sources.Config{
		Name:   "confused",
		Type:   sources.File,
		File:   &sources.FileSettings{DirectoryPath: "/var/log", FilePattern: "*.log", ScanIntervalSeconds: 5},
		Syslog: &sources.SyslogSettings{Port: 514, Protocol: "UDP", Format: "RFC3164"},
	}
	err := cfg.Validate()
	assert.Assert(t, errors.Is(err, sources.ErrValidation))
}

func TestConfigValidateRejectsBadType(t *testing.T) {
	cfg := &sources.Config{Name: "weird", Type: sources.Type("CARRIER_PIGEON")}
	err := cfg.Validate()
	assert.Assert(t, errors.Is(err, sources.ErrValidation))
}

func TestConfigValidateSyslogPortRange(t *testing.T) {
	cfg := &sources.Config{
		Name:   "syslog",
		Type:   sources.Syslog,
		Syslog: &sources.SyslogSettings{Port: 70000, Protocol: "UDP", Format: "RFC3164"},
	}
	err := cfg.Validate()
	assert.Assert(t, errors.Is(err, sources.ErrValidation))
}

func TestConfigValidateHTTPPathShape(t *testing.T) {
	cfg := &sources.Config{
		Name: "push",
		Type: sources.HTTP,
		HTTP: &sources.HTTPSettings{Path: "api/logs", AuthToken: "t1"},
	}
	err := cfg.Validate()
	assert.Assert(t, errors.Is(err, sources.ErrValidation))
}

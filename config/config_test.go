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

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/grepwise/grepwise/config"
	"github.com/grepwise/grepwise/index"
	"github.com/grepwise/grepwise/sources"
)

const fullConfig = `
logging:
  file: /var/log/grepwise/grepwise.log
  max_size_mb: 50
  max_backups: 3
server:
  listen_address: ":9090"
index:
  path: /data/index
  retention_days: 30
  partition:
    enabled: true
    type: DAILY
    max_active: 10
    auto_archive: true
archive:
  enabled: true
  directory: /data/archive
buffer:
  max_size: 500
  flush_interval_ms: 2000
cache:
  enabled: true
  max_size: 200
  ttl_ms: 30000
alarms:
  evaluation_interval_ms: 15000
  definitions:
    - name: error spike
      query: "level=ERROR"
      threshold: 10
      time_window_minutes: 5
      enabled: true
      notification_channels:
        - type: WEBHOOK
          destination: https://hooks.example.com/x
cluster:
  node_id: node-a
  url: http://10.0.0.1:9090
  peers:
    - http://10.0.0.2:9090
  heartbeat_interval_ms: 5000
  heartbeat_timeout_ms: 15000
  horizontal_scaling: true
sources:
  - name: app logs
    type: FILE
    enabled: true
    file:
      directory_path: /var/log/app
      file_pattern: "*.log"
      scan_interval_seconds: 10
  - name: edge syslog
    type: SYSLOG
    enabled: true
    syslog:
      port: 5514
      protocol: UDP
      format: RFC3164
`

func TestParseFullConfig(t *testing.T) {
	c, err := config.Parse([]byte(fullConfig))
	assert.NilError(t, err)

	assert.Equal(t, c.Server.ListenAddress, ":9090")
	assert.Equal(t, c.Index.RetentionDays, 30)
	assert.Equal(t, len(c.Sources), 2)
	assert.Equal(t, c.Sources[0].Type, sources.File)
	assert.Assert(t, c.Sources[0].ID != "")
	assert.Equal(t, c.Sources[1].Syslog.Port, 5514)
	assert.Equal(t, len(c.Alarms.Definitions), 1)
	assert.Equal(t, c.Alarms.Definitions[0].Threshold, 10)

	ic := c.IndexConfig()
	assert.Equal(t, ic.Partition.Type, index.Daily)
	assert.Equal(t, ic.Partition.BaseDirectory, "/data/index")
	assert.Assert(t, ic.Partition.AutoArchive)

	cc := c.ClusterConfig()
	assert.Equal(t, cc.NodeID, "node-a")
	assert.Equal(t, cc.HeartbeatInterval, 5*time.Second)
	assert.Assert(t, cc.HorizontalScaling)

	assert.Equal(t, c.FlushInterval(), 2*time.Second)
	assert.Equal(t, c.CacheTTL(), 30*time.Second)
}

func TestParseAppliesDefaults(t *testing.T) {
	c, err := config.Parse([]byte("index:\n  path: /data/index\n"))
	assert.NilError(t, err)
	assert.Equal(t, c.Server.ListenAddress, ":8080")
	assert.Equal(t, c.Index.Partition.Type, "DAILY")
	assert.Equal(t, c.Archive.Directory, "/var/lib/grepwise/archive")
	assert.Equal(t, c.CheckpointPath, "/var/lib/grepwise/checkpoints.json")
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := config.Parse([]byte("indx:\n  path: /data\n"))
	assert.Assert(t, err != nil)
}

func TestParseRejectsInvalidSource(t *testing.T) {
	bad := `
index:
  path: /data/index
sources:
  - name: broken
    type: SYSLOG
`
	_, err := config.Parse([]byte(bad))
	assert.ErrorContains(t, err, "broken")
}

func TestParseRejectsDuplicateSourceNames(t *testing.T) {
	bad := `
index:
  path: /data/index
sources:
  - name: twin
    type: FILE
    file:
      directory_path: /a
      file_pattern: "*.log"
  - name: twin
    type: FILE
    file:
      directory_path: /b
      file_pattern: "*.log"
`
	_, err := config.Parse([]byte(bad))
	assert.ErrorContains(t, err, "duplicate source name")
}

func TestParseRejectsBadPartitionType(t *testing.T) {
	bad := "index:\n  path: /data\n  partition:\n    type: HOURLY\n"
	_, err := config.Parse([]byte(bad))
	assert.Assert(t, err != nil)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NilError(t, os.WriteFile(path, []byte(fullConfig), 0644))
	c, err := config.Load(path)
	assert.NilError(t, err)
	assert.Equal(t, c.Cluster.NodeID, "node-a")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Assert(t, err != nil)
}

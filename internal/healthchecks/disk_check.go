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

package healthchecks

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/grepwise/grepwise/internal/logs"
	"github.com/shirou/gopsutil/disk"
)

// DefaultMinFreeBytes refuses to start indexing with less than 256 MiB free.
const DefaultMinFreeBytes = 256 << 20

// IndexDiskCheck verifies the index directory is writable and its volume
// has at least MinFreeBytes available.
type IndexDiskCheck struct {
	IndexPath    string
	MinFreeBytes uint64
}

func (c IndexDiskCheck) Name() string {
	return "Index Disk Check"
}

func (c IndexDiskCheck) RunCheck(logger logs.StructuredLogger) error {
	if err := os.MkdirAll(c.IndexPath, 0755); err != nil {
		return fmt.Errorf("%s: %w", c.IndexPath, IndexDirErr)
	}
	probe := filepath.Join(c.IndexPath, ".grepwise-writable")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return fmt.Errorf("%s: %w", c.IndexPath, IndexDirErr)
	}
	os.Remove(probe)

	minFree := c.MinFreeBytes
	if minFree == 0 {
		minFree = DefaultMinFreeBytes
	}
	usage, err := disk.Usage(c.IndexPath)
	if err != nil {
		return fmt.Errorf("reading disk usage for %s: %w", c.IndexPath, err)
	}
	if usage.Free < minFree {
		return fmt.Errorf("%d bytes free on %s: %w", usage.Free, c.IndexPath, DiskSpaceErr)
	}
	logger.Infof("index volume %s has %d bytes free (%.1f%% used)", c.IndexPath, usage.Free, usage.UsedPercent)
	return nil
}

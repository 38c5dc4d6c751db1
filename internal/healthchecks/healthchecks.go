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

// Package healthchecks verifies a node can actually serve before and while
// it runs: listen ports are free, the index volume exists and has capacity.
package healthchecks

import (
	"errors"
	"fmt"
	"strings"

	"github.com/grepwise/grepwise/internal/logs"
)

type HealthCheck interface {
	Name() string
	RunCheck(logger logs.StructuredLogger) error
}

type HealthCheckRegistry []HealthCheck

type HealthCheckResult struct {
	Name string
	Err  error
}

func (r HealthCheckResult) Healthy() bool {
	return r.Err == nil
}

func singleResultMessage(name string, err error) string {
	if err == nil {
		return fmt.Sprintf("[%s] Result: PASS", name)
	}
	var hcErr HealthCheckError
	if errors.As(err, &hcErr) {
		return fmt.Sprintf("[%s] Result: FAIL, Code: %s, Failure: %s, Solution: %s",
			name, hcErr.Code, hcErr.Message, hcErr.Action)
	}
	return fmt.Sprintf("[%s] Result: ERROR, Detail: %s", name, err.Error())
}

// String renders one line per underlying error, so a check that returned
// errors.Join output reports each failure separately.
func (r HealthCheckResult) String() string {
	var multi MultiWrappedError
	if errors.As(r.Err, &multi) {
		lines := make([]string, 0, len(multi.Unwrap()))
		for _, err := range multi.Unwrap() {
			lines = append(lines, singleResultMessage(r.Name, err))
		}
		return strings.Join(lines, "\n")
	}
	return singleResultMessage(r.Name, r.Err)
}

func (reg HealthCheckRegistry) RunAllHealthChecks(logger logs.StructuredLogger) []HealthCheckResult {
	results := make([]HealthCheckResult, 0, len(reg))
	for _, c := range reg {
		result := HealthCheckResult{Name: c.Name(), Err: c.RunCheck(logger)}
		logger.Infof("%s", result.String())
		results = append(results, result)
	}
	return results
}

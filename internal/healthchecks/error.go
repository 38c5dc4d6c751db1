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

// Error classification
const (
	Generic = "GENERIC"
	Port    = "PORT"
	Storage = "STORAGE"
)

type HealthCheckError struct {
	Code    string
	Class   string
	Message string
	Action  string
	IsFatal bool
}

func (e HealthCheckError) Error() string {
	return e.Message
}

// Interface used to verify if an error implements `Unwrap() []error`.
// The resulting error from `errors.Join(errs ...error)` implements this interface.
type MultiWrappedError interface {
	Unwrap() []error
}

var (
	ListenPortErr = HealthCheckError{
		Code:    "ListenPortErr",
		Class:   Port,
		Message: "A port this node is configured to listen on is unavailable.",
		Action:  "Verify that the configured server and syslog ports are not used by another process.",
		IsFatal: true,
	}
	IndexDirErr = HealthCheckError{
		Code:    "IndexDirErr",
		Class:   Storage,
		Message: "The index directory does not exist or is not writable.",
		Action:  "Create the index directory and grant the grepwise user write access.",
		IsFatal: true,
	}
	DiskSpaceErr = HealthCheckError{
		Code:    "DiskSpaceErr",
		Class:   Storage,
		Message: "Free space on the index volume is below the configured minimum.",
		Action:  "Free disk space or lower the retention window.",
		IsFatal: false,
	}
	HcFailureErr = HealthCheckError{
		Code:    "HcFailureErr",
		Class:   Generic,
		Message: "The Health Check encountered an internal error.",
		Action:  "No suggested action.",
		IsFatal: false,
	}
)

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

package record

import "strings"

// Level is a normalized log severity.
type Level string

const (
	LevelTrace   Level = "TRACE"
	LevelDebug   Level = "DEBUG"
	LevelInfo    Level = "INFO"
	LevelWarn    Level = "WARN"
	LevelError   Level = "ERROR"
	LevelFatal   Level = "FATAL"
	LevelUnknown Level = "UNKNOWN"
)

// Levels lists every normalized level in ascending severity order.
var Levels = []Level{LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal, LevelUnknown}

// levelSynonyms folds the spellings seen in Apache, Nginx, syslog and
// java.util.logging output onto the normalized set.
var levelSynonyms = map[string]Level{
	"TRACE":         LevelTrace,
	"DEBUG":         LevelDebug,
	"FINE":          LevelDebug,
	"FINER":         LevelDebug,
	"FINEST":        LevelDebug,
	"INFO":          LevelInfo,
	"INFORMATIONAL": LevelInfo,
	"NOTICE":        LevelInfo,
	"WARN":          LevelWarn,
	"WARNING":       LevelWarn,
	"ERROR":         LevelError,
	"ERR":           LevelError,
	"SEVERE":        LevelError,
	"FATAL":         LevelFatal,
	"CRIT":          LevelFatal,
	"CRITICAL":      LevelFatal,
	"ALERT":         LevelFatal,
	"EMERG":         LevelFatal,
	"EMERGENCY":     LevelFatal,
	"PANIC":         LevelFatal,
}

// NormalizeLevel maps an arbitrary severity spelling onto the normalized
// set. Unrecognized values, including the empty string, normalize to
// UNKNOWN. Apache's trace1..trace8 all normalize to TRACE.
func NormalizeLevel(s string) Level {
	up := strings.ToUpper(strings.TrimSpace(s))
	if l, ok := levelSynonyms[up]; ok {
		return l
	}
	if strings.HasPrefix(up, "TRACE") {
		return LevelTrace
	}
	return LevelUnknown
}

// LevelFromStatusCode maps an HTTP status code to a severity the way the
// access-log parsers do: 4xx is WARN, 5xx is ERROR, everything else INFO.
func LevelFromStatusCode(code int) Level {
	switch {
	case code >= 500 && code < 600:
		return LevelError
	case code >= 400 && code < 500:
		return LevelWarn
	default:
		return LevelInfo
	}
}

// Valid reports whether l is one of the normalized levels.
func (l Level) Valid() bool {
	switch l {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal, LevelUnknown:
		return true
	}
	return false
}

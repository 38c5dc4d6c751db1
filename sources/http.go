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

package sources

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/grepwise/grepwise/internal/logs"
	"github.com/grepwise/grepwise/internal/telemetry"
	"github.com/grepwise/grepwise/record"
)

// authTokenHeader carries the per-source ingest token.
const authTokenHeader = "X-Auth-Token"

const maxIngestBody = 10 << 20

// ingestPayload is the JSON body of one pushed record.
type ingestPayload struct {
	Message   string            `json:"message"`
	Level     string            `json:"level,omitempty"`
	Timestamp int64             `json:"timestamp,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// HTTPIngest is the shared receiver for every HTTP source. The registry
// registers each source's path when it loads or saves the source and
// unregisters it on delete; the admin server mounts ServeHTTP under the
// ingest prefix.
type HTTPIngest struct {
	sink   RecordSink
	logger logs.StructuredLogger

	mu     sync.RWMutex
	routes map[string]*Config
}

// NewHTTPIngest builds the shared receiver.
func NewHTTPIngest(sink RecordSink, logger logs.StructuredLogger) *HTTPIngest {
	return &HTTPIngest{
		sink:   sink,
		logger: logger,
		routes: map[string]*Config{},
	}
}

// Register mounts a source's path. Re-registering a path replaces the
// previous source, which is what a config update wants.
func (h *HTTPIngest) Register(cfg *Config) error {
	if cfg.HTTP == nil {
		return fmt.Errorf("sources: %q has no http settings", cfg.Name)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.routes[normalizePath(cfg.HTTP.Path)] = cfg
	return nil
}

// Unregister removes the route for a source id.
func (h *HTTPIngest) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for path, cfg := range h.routes {
		if cfg.ID == id {
			delete(h.routes, path)
		}
	}
}

// ServeHTTP dispatches POST <path> (single record) and POST <path>/batch.
// Unknown paths 404 so the admin router can mount this as a catch-all.
func (h *HTTPIngest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method_not_allowed", "message": "POST required"})
		return
	}
	path := normalizePath(r.URL.Path)
	batch := false
	if strings.HasSuffix(path, "/batch") {
		batch = true
		path = strings.TrimSuffix(path, "/batch")
	}

	h.mu.RLock()
	cfg, ok := h.routes[path]
	h.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not_found", "message": "unknown ingest source"})
		return
	}
	if !authorized(r, cfg) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized", "message": "invalid auth token"})
		return
	}
	if !cfg.Enabled {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden", "message": "source is disabled"})
		return
	}
	if batch && !cfg.HTTP.BatchAllowed {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden", "message": "batch ingestion is disabled for this source"})
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxIngestBody)
	defer body.Close()
	if batch {
		h.serveBatch(w, body, cfg)
		return
	}
	h.serveSingle(w, body, cfg)
}

func (h *HTTPIngest) serveSingle(w http.ResponseWriter, body io.Reader, cfg *Config) {
	var payload ingestPayload
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation", "message": "malformed JSON body"})
		return
	}
	rec := h.buildRecord(cfg, payload)
	if !h.sink.Add(rec) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "buffer_failure", "message": "record was not accepted"})
		return
	}
	telemetry.IngestRecords.WithLabelValues("http").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": rec.ID})
}

func (h *HTTPIngest) serveBatch(w http.ResponseWriter, body io.Reader, cfg *Config) {
	var payloads []ingestPayload
	if err := json.NewDecoder(body).Decode(&payloads); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation", "message": "malformed JSON array body"})
		return
	}
	records := make([]*record.LogRecord, 0, len(payloads))
	for _, payload := range payloads {
		records = append(records, h.buildRecord(cfg, payload))
	}
	accepted := h.sink.AddAll(records)
	if accepted < len(records) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "buffer_failure", "message": "batch was not fully accepted", "count": accepted})
		return
	}
	telemetry.IngestRecords.WithLabelValues("http").Add(float64(accepted))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": accepted})
}

// buildRecord normalizes one pushed payload.
func (h *HTTPIngest) buildRecord(cfg *Config, payload ingestPayload) *record.LogRecord {
	rec := record.New(payload.Message, "http:"+cfg.ID)
	if payload.Level != "" {
		rec.Level = record.NormalizeLevel(payload.Level)
	}
	if payload.Timestamp > 0 {
		rec.Timestamp = payload.Timestamp
	}
	for k, v := range payload.Metadata {
		rec.Metadata[k] = v
	}
	rec.Metadata["source_type"] = "http"
	rec.Metadata["source_id"] = cfg.ID
	return rec
}

// authorized compares the supplied token in constant time.
func authorized(r *http.Request, cfg *Config) bool {
	supplied := r.Header.Get(authTokenHeader)
	want := cfg.HTTP.AuthToken.SecretValue()
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(want)) == 1
}

func normalizePath(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	return p
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// HTTPDriver is the lifecycle placeholder for an HTTP source. Routes are
// mounted by the registry for every HTTP source, enabled or not, so the
// receiver can answer 403 for disabled ones; the driver itself has no
// work to do beyond parking until stopped.
type HTTPDriver struct {
	cfg     *Config
	stopCh  chan struct{}
	stopped sync.Once
}

// NewHTTPDriver builds the placeholder driver for one HTTP source.
func NewHTTPDriver(cfg *Config) (*HTTPDriver, error) {
	if cfg.HTTP == nil {
		return nil, fmt.Errorf("sources: %q has no http settings", cfg.Name)
	}
	return &HTTPDriver{cfg: cfg, stopCh: make(chan struct{})}, nil
}

// Run parks until the context is cancelled or Stop is called.
func (d *HTTPDriver) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-d.stopCh:
	}
	return nil
}

func (d *HTTPDriver) Stop() {
	d.stopped.Do(func() { close(d.stopCh) })
}

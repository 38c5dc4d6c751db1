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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/grepwise/grepwise/internal/logs"
	"github.com/grepwise/grepwise/sources"
	"github.com/grepwise/grepwise/storage"
)

func newHTTPFixture(t *testing.T, enabled, batchAllowed bool) (*sources.HTTPIngest, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	ingest := sources.NewHTTPIngest(sink, logs.DiscardLogger())
	cfg := &sources.Config{
		ID:      "s1",
		Name:    "push source",
		Type:    sources.HTTP,
		Enabled: enabled,
		HTTP: &sources.HTTPSettings{
			Path:         "/api/logs/s1",
			AuthToken:    "t1",
			BatchAllowed: batchAllowed,
		},
	}
	assert.NilError(t, ingest.Register(cfg))
	return ingest, sink
}

func postJSON(ingest *sources.HTTPIngest, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("X-Auth-Token", token)
	}
	w := httptest.NewRecorder()
	ingest.ServeHTTP(w, req)
	return w
}

func TestHTTPIngestSingleRecord(t *testing.T) {
	ingest, sink := newHTTPFixture(t, true, false)

	w := postJSON(ingest, "/api/logs/s1", "t1", `{"message":"login failed","level":"ERROR","metadata":{"user":"frank"}}`)
	assert.Equal(t, w.Code, http.StatusOK)

	var resp map[string]any
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, resp["success"], true)

	got := sink.all()
	assert.Equal(t, len(got), 1)
	assert.Equal(t, got[0].Message, "login failed")
	assert.Equal(t, string(got[0].Level), "ERROR")
	assert.Equal(t, got[0].Source, "http:s1")
	assert.Equal(t, got[0].Metadata["user"], "frank")
	assert.Equal(t, got[0].Metadata["source_type"], "http")
	assert.Equal(t, got[0].Metadata["source_id"], "s1")
}

func TestHTTPIngestUnknownSource(t *testing.T) {
	ingest, sink := newHTTPFixture(t, true, false)
	w := postJSON(ingest, "/api/logs/nope", "t1", `{"message":"x"}`)
	assert.Equal(t, w.Code, http.StatusNotFound)
	assert.Equal(t, sink.len(), 0)
}

func TestHTTPIngestBadToken(t *testing.T) {
	ingest, sink := newHTTPFixture(t, true, false)
	w := postJSON(ingest, "/api/logs/s1", "wrong", `{"message":"x"}`)
	assert.Equal(t, w.Code, http.StatusUnauthorized)
	assert.Equal(t, sink.len(), 0)
}

func TestHTTPIngestDisabledSource(t *testing.T) {
	ingest, sink := newHTTPFixture(t, false, false)
	w := postJSON(ingest, "/api/logs/s1", "t1", `{"message":"x"}`)
	assert.Equal(t, w.Code, http.StatusForbidden)
	assert.Equal(t, sink.len(), 0)
}

func TestHTTPIngestBatch(t *testing.T) {
	ingest, sink := newHTTPFixture(t, true, true)
	w := postJSON(ingest, "/api/logs/s1/batch", "t1", `[{"message":"a"},{"message":"b","timestamp":1700000000000}]`)
	assert.Equal(t, w.Code, http.StatusOK)

	var resp map[string]any
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, resp["count"], float64(2))

	got := sink.all()
	assert.Equal(t, len(got), 2)
	assert.Equal(t, got[1].Timestamp, int64(1700000000000))
}

func TestHTTPIngestBatchDisallowed(t *testing.T) {
	ingest, sink := newHTTPFixture(t, true, false)
	w := postJSON(ingest, "/api/logs/s1/batch", "t1", `[{"message":"a"}]`)
	assert.Equal(t, w.Code, http.StatusForbidden)
	assert.Equal(t, sink.len(), 0)
}

func TestHTTPIngestMalformedBody(t *testing.T) {
	ingest, _ := newHTTPFixture(t, true, false)
	w := postJSON(ingest, "/api/logs/s1", "t1", `{not json`)
	assert.Equal(t, w.Code, http.StatusBadRequest)
}

func TestHTTPIngestBufferFailure(t *testing.T) {
	ingest, sink := newHTTPFixture(t, true, false)
	sink.reject = true
	w := postJSON(ingest, "/api/logs/s1", "t1", `{"message":"x"}`)
	assert.Equal(t, w.Code, http.StatusInternalServerError)
}

// newHTTPRegistryFixture wires a registry to a real ingest receiver the
// way the daemon does, so route mounting is exercised end to end.
func newHTTPRegistryFixture(t *testing.T) (*sources.Registry, *sources.HTTPIngest) {
	t.Helper()
	sink := &fakeSink{}
	ingest := sources.NewHTTPIngest(sink, logs.DiscardLogger())
	repo, err := storage.NewJSONRepository[*sources.Config](filepath.Join(t.TempDir(), "sources.json"))
	assert.NilError(t, err)
	factories := map[sources.Type]sources.DriverFactory{
		sources.HTTP: func(c *sources.Config) (sources.Driver, error) {
			return sources.NewHTTPDriver(c)
		},
	}
	reg := sources.NewRegistry(repo, nil, nil, ingest, factories, logs.DiscardLogger())
	t.Cleanup(reg.Stop)
	assert.NilError(t, reg.Start(context.Background()))
	return reg, ingest
}

func httpConfig(id string, enabled bool) *sources.Config {
	return &sources.Config{
		ID:      id,
		Name:    "push " + id,
		Type:    sources.HTTP,
		Enabled: enabled,
		HTTP:    &sources.HTTPSettings{Path: "/api/logs/" + id, AuthToken: "t2", BatchAllowed: false},
	}
}

func TestRegistryMountsDisabledHTTPSource(t *testing.T) {
	reg, ingest := newHTTPRegistryFixture(t)
	assert.NilError(t, reg.Create(httpConfig("s2", false)))
	assert.Assert(t, !reg.Running("s2"))

	// A disabled source answers 403, not 404: the route exists even
	// though no driver runs.
	w := postJSON(ingest, "/api/logs/s2", "t2", `{"message":"x"}`)
	assert.Equal(t, w.Code, http.StatusForbidden)

	assert.NilError(t, reg.Update(httpConfig("s2", true)))
	w = postJSON(ingest, "/api/logs/s2", "t2", `{"message":"x"}`)
	assert.Equal(t, w.Code, http.StatusOK)
}

func TestRegistryUnmountsDeletedHTTPSource(t *testing.T) {
	reg, ingest := newHTTPRegistryFixture(t)
	assert.NilError(t, reg.Create(httpConfig("s2", true)))

	w := postJSON(ingest, "/api/logs/s2", "t2", `{"message":"x"}`)
	assert.Equal(t, w.Code, http.StatusOK)

	assert.NilError(t, reg.Delete("s2"))
	w = postJSON(ingest, "/api/logs/s2", "t2", `{"message":"x"}`)
	assert.Equal(t, w.Code, http.StatusNotFound)
}

func TestRegistryRemountsMovedHTTPPath(t *testing.T) {
	reg, ingest := newHTTPRegistryFixture(t)
	assert.NilError(t, reg.Create(httpConfig("s2", true)))

	moved := httpConfig("s2", true)
	moved.HTTP.Path = "/api/logs/moved"
	assert.NilError(t, reg.Update(moved))

	w := postJSON(ingest, "/api/logs/s2", "t2", `{"message":"x"}`)
	assert.Equal(t, w.Code, http.StatusNotFound)
	w = postJSON(ingest, "/api/logs/moved", "t2", `{"message":"x"}`)
	assert.Equal(t, w.Code, http.StatusOK)
}

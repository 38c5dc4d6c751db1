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

// Package server exposes the daemon's HTTP surface: health, metrics, the
// cluster heartbeat receiver, and the dynamic ingest routes of HTTP
// sources. The REST admin API proper lives outside the core; this is the
// contract it mounts onto.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grepwise/grepwise/cluster"
	"github.com/grepwise/grepwise/internal/healthchecks"
	"github.com/grepwise/grepwise/internal/logs"
	"github.com/grepwise/grepwise/internal/platform"
	"github.com/grepwise/grepwise/internal/version"
)

const shutdownGrace = 10 * time.Second

// ClusterReceiver is the slice of the coordinator the heartbeat endpoints
// need. Nil on single-node deployments; the endpoints then 404.
type ClusterReceiver interface {
	OnHeartbeat(cluster.Heartbeat)
	OnNodeLeaving(nodeID string)
	State() cluster.State
}

// Server is the admin/ingest HTTP listener.
type Server struct {
	addr     string
	router   *mux.Router
	logger   logs.StructuredLogger
	checks   healthchecks.HealthCheckRegistry
	cluster  ClusterReceiver
	identity IdentityProvider
	audit    AuditSink

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// New wires the routes. ingest handles every path not claimed by the
// fixed endpoints, so HTTP sources can mount anywhere that does not
// collide with them.
func New(addr string, ingest http.Handler, clusterRecv ClusterReceiver, checks healthchecks.HealthCheckRegistry, logger logs.StructuredLogger, options ...Option) *Server {
	s := &Server{
		addr:     addr,
		router:   mux.NewRouter(),
		logger:   logger,
		checks:   checks,
		cluster:  clusterRecv,
		identity: allowAll{},
		audit:    nopAudit{},
	}
	for _, opt := range options {
		opt(s)
	}

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc(cluster.HeartbeatPath, s.handleHeartbeat).Methods(http.MethodPost)
	s.router.HandleFunc("/cluster/leave", s.handleLeave).Methods(http.MethodPost)
	s.router.HandleFunc("/cluster/state", s.handleClusterState).Methods(http.MethodGet)
	if ingest != nil {
		s.router.PathPrefix("/").Handler(ingest)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is cancelled, then drains in-flight
// requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("server: listening on %s", s.addr)
		errCh <- s.httpServer.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

type healthResponse struct {
	Healthy bool                `json:"healthy"`
	Checks  []healthCheckStatus `json:"checks"`
}

type healthCheckStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// handleHealth runs every registered check. Any failure makes the whole
// endpoint 503 so load balancers take the node out.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Healthy: true}
	for _, result := range s.checks.RunAllHealthChecks(s.logger) {
		status := healthCheckStatus{Name: result.Name, Healthy: result.Healthy()}
		if result.Err != nil {
			resp.Healthy = false
			status.Detail = result.Err.Error()
		}
		resp.Checks = append(resp.Checks, status)
	}
	code := http.StatusOK
	if !resp.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// handleStatus identifies the node: build version plus host facts from
// the detected platform.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	p := platform.FromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"version":  version.Version,
		"hostname": p.Hostname(),
		"os":       p.Name(),
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if s.cluster == nil {
		writeError(w, http.StatusNotFound, "not_found", "clustering is not enabled")
		return
	}
	var hb cluster.Heartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed heartbeat body")
		return
	}
	if hb.NodeID == "" {
		writeError(w, http.StatusBadRequest, "validation", "heartbeat is missing node_id")
		return
	}
	s.cluster.OnHeartbeat(hb)
	w.WriteHeader(http.StatusNoContent)
}

type leaveRequest struct {
	NodeID string `json:"node_id"`
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	if s.cluster == nil {
		writeError(w, http.StatusNotFound, "not_found", "clustering is not enabled")
		return
	}
	principal, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req leaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NodeID == "" {
		writeError(w, http.StatusBadRequest, "validation", "leave body needs node_id")
		return
	}
	s.cluster.OnNodeLeaving(req.NodeID)
	s.audit.Log(AuditEvent{Action: "cluster.leave", Principal: principal.Name, Detail: req.NodeID})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClusterState(w http.ResponseWriter, r *http.Request) {
	if s.cluster == nil {
		writeError(w, http.StatusNotFound, "not_found", "clustering is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, s.cluster.State())
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, kind, message string) {
	writeJSON(w, code, map[string]string{"error": kind, "message": message})
}

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

// Package cluster keeps track of peer nodes through heartbeats, elects the
// node with the smallest id as leader, and assigns ingestion sources to
// nodes by hashing. There is no voting: every node derives the same answer
// from the same alive set, and the alive set converges within one
// heartbeat timeout.
package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/blang/semver"
	"github.com/grepwise/grepwise/internal/logs"
	"github.com/grepwise/grepwise/internal/set"
	"github.com/grepwise/grepwise/internal/telemetry"
	"github.com/grepwise/grepwise/internal/version"
)

const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultHeartbeatTimeout  = 15 * time.Second

	// HeartbeatPath is where peers receive heartbeats on the admin server.
	HeartbeatPath = "/cluster/heartbeat"
)

// Node is one cluster member as seen locally.
type Node struct {
	NodeID          string `json:"node_id"`
	URL             string `json:"url"`
	LastHeartbeatMs int64  `json:"last_heartbeat_ms"`
	IsLeader        bool   `json:"is_leader"`
}

// Heartbeat is the wire message every node posts to its peers.
type Heartbeat struct {
	NodeID      string `json:"node_id"`
	URL         string `json:"url"`
	TimestampMs int64  `json:"timestamp_ms"`
	IsLeader    bool   `json:"is_leader"`
	Version     string `json:"version"`
}

// State is a point-in-time snapshot of the local cluster view.
type State struct {
	LeaderID string `json:"leader_id"`
	Nodes    []Node `json:"nodes"`
}

// Config carries the coordinator knobs.
type Config struct {
	NodeID            string
	URL               string
	Peers             []string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	HorizontalScaling bool
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
}

// Coordinator is the local node's view of the cluster. All methods are
// safe for concurrent use.
type Coordinator struct {
	cfg    Config
	logger logs.StructuredLogger
	clock  clock.Clock
	client *http.Client

	mu          sync.RWMutex
	nodes       map[string]*Node
	leaderID    string
	subscribers []func(State)
	skewWarned  map[string]bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock substitutes the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithHTTPClient substitutes the heartbeat client, for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(co *Coordinator) { co.client = c }
}

// New builds a coordinator. The local node is always a member of its own
// view.
func New(cfg Config, logger logs.StructuredLogger, options ...Option) (*Coordinator, error) {
	cfg.applyDefaults()
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("cluster: node id must be set")
	}
	co := &Coordinator{
		cfg:        cfg,
		logger:     logger,
		clock:      clock.New(),
		client:     &http.Client{Timeout: 3 * time.Second},
		nodes:      map[string]*Node{},
		skewWarned: map[string]bool{},
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range options {
		opt(co)
	}
	co.nodes[cfg.NodeID] = &Node{
		NodeID:          cfg.NodeID,
		URL:             cfg.URL,
		LastHeartbeatMs: co.clock.Now().UnixMilli(),
	}
	co.recomputeLeader()
	return co, nil
}

// Run drives the heartbeat loop until the context is cancelled or Stop is
// called.
func (co *Coordinator) Run(ctx context.Context) {
	defer close(co.doneCh)
	ticker := co.clock.Ticker(co.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-co.stopCh:
			return
		case <-ticker.C:
			co.tick(ctx)
		}
	}
}

// Stop halts the heartbeat loop.
func (co *Coordinator) Stop() {
	co.stopOnce.Do(func() { close(co.stopCh) })
	<-co.doneCh
}

// tick refreshes the local node, sweeps dead peers and broadcasts one
// heartbeat round.
func (co *Coordinator) tick(ctx context.Context) {
	now := co.clock.Now().UnixMilli()

	co.mu.Lock()
	co.nodes[co.cfg.NodeID].LastHeartbeatMs = now
	co.mu.Unlock()

	co.EvaluateMembership()
	co.broadcast(ctx, now)
}

// EvaluateMembership drops peers whose heartbeat is older than the timeout
// and recomputes leadership. The heartbeat loop calls it every interval;
// callers may invoke it directly to force a re-evaluation.
func (co *Coordinator) EvaluateMembership() {
	nowMs := co.clock.Now().UnixMilli()
	co.mu.Lock()
	changed := false
	for id, node := range co.nodes {
		if id == co.cfg.NodeID {
			continue
		}
		if nowMs-node.LastHeartbeatMs >= co.cfg.HeartbeatTimeout.Milliseconds() {
			delete(co.nodes, id)
			delete(co.skewWarned, id)
			changed = true
			co.logger.Warnf("cluster: node %s timed out, removing from alive set", id)
		}
	}
	co.mu.Unlock()
	if changed {
		co.recomputeLeader()
		co.notifySubscribers()
	}
}

// broadcast posts one heartbeat to every known peer URL plus the static
// bootstrap list.
func (co *Coordinator) broadcast(ctx context.Context, nowMs int64) {
	hb := Heartbeat{
		NodeID:      co.cfg.NodeID,
		URL:         co.cfg.URL,
		TimestampMs: nowMs,
		IsLeader:    co.IsLeader(),
		Version:     version.Version,
	}
	payload, err := json.Marshal(hb)
	if err != nil {
		co.logger.Errorf("cluster: encoding heartbeat: %v", err)
		return
	}
	for _, url := range co.peerURLs() {
		url := url
		go func() {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+HeartbeatPath, bytes.NewReader(payload))
			if err != nil {
				co.logger.Warnf("cluster: building heartbeat request for %s: %v", url, err)
				return
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := co.client.Do(req)
			if err != nil {
				co.logger.Debugf("cluster: heartbeat to %s failed: %v", url, err)
				return
			}
			resp.Body.Close()
		}()
	}
}

// peerURLs unions the static bootstrap peers with every discovered node,
// excluding self.
func (co *Coordinator) peerURLs() []string {
	urls := set.Set[string]{}
	for _, u := range co.cfg.Peers {
		if u != "" && u != co.cfg.URL {
			urls.Add(u)
		}
	}
	co.mu.RLock()
	for id, node := range co.nodes {
		if id != co.cfg.NodeID && node.URL != "" {
			urls.Add(node.URL)
		}
	}
	co.mu.RUnlock()
	out := urls.Keys()
	sort.Strings(out)
	return out
}

// OnHeartbeat records a peer's heartbeat and re-evaluates leadership. The
// admin server's heartbeat endpoint calls it.
func (co *Coordinator) OnHeartbeat(hb Heartbeat) {
	if hb.NodeID == "" || hb.NodeID == co.cfg.NodeID {
		return
	}
	telemetry.Heartbeats.Inc()
	co.warnOnVersionSkew(hb)

	co.mu.Lock()
	node, known := co.nodes[hb.NodeID]
	if !known {
		node = &Node{NodeID: hb.NodeID}
		co.nodes[hb.NodeID] = node
		co.logger.Infof("cluster: node %s joined via heartbeat from %s", hb.NodeID, hb.URL)
	}
	node.URL = hb.URL
	node.LastHeartbeatMs = co.clock.Now().UnixMilli()
	node.IsLeader = hb.IsLeader
	co.mu.Unlock()

	changed := co.recomputeLeader()
	if !known || changed {
		co.notifySubscribers()
	}
}

// OnNodeLeaving removes a node that announced a clean shutdown.
func (co *Coordinator) OnNodeLeaving(nodeID string) {
	if nodeID == co.cfg.NodeID {
		return
	}
	co.mu.Lock()
	_, known := co.nodes[nodeID]
	delete(co.nodes, nodeID)
	delete(co.skewWarned, nodeID)
	co.mu.Unlock()
	if known {
		co.logger.Infof("cluster: node %s left", nodeID)
		co.recomputeLeader()
		co.notifySubscribers()
	}
}

func (co *Coordinator) warnOnVersionSkew(hb Heartbeat) {
	if hb.Version == "" || hb.Version == version.Version {
		return
	}
	co.mu.Lock()
	warned := co.skewWarned[hb.NodeID]
	co.skewWarned[hb.NodeID] = true
	co.mu.Unlock()
	if warned {
		return
	}
	local, err1 := semver.ParseTolerant(version.Version)
	remote, err2 := semver.ParseTolerant(hb.Version)
	if err1 != nil || err2 != nil {
		co.logger.Warnf("cluster: node %s runs unparseable version %q (local %q)", hb.NodeID, hb.Version, version.Version)
		return
	}
	if local.Major != remote.Major {
		co.logger.Warnf("cluster: node %s runs major version %d, local is %d; mixed majors are unsupported", hb.NodeID, remote.Major, local.Major)
	}
}

// recomputeLeader picks the lexicographically smallest alive node id. It
// returns true when leadership changed.
func (co *Coordinator) recomputeLeader() bool {
	alive := co.aliveNodeIDs()

	co.mu.Lock()
	defer co.mu.Unlock()
	newLeader := ""
	if len(alive) > 0 {
		newLeader = alive[0]
	}
	if newLeader == co.leaderID {
		return false
	}
	previous := co.leaderID
	co.leaderID = newLeader
	for id, node := range co.nodes {
		node.IsLeader = id == newLeader
	}
	telemetry.LeaderElections.Inc()
	co.logger.Infof("cluster: leader changed from %q to %q", previous, newLeader)
	return true
}

// aliveNodeIDs returns the sorted ids of nodes inside the heartbeat
// timeout. The local node is always alive.
func (co *Coordinator) aliveNodeIDs() []string {
	nowMs := co.clock.Now().UnixMilli()
	co.mu.RLock()
	defer co.mu.RUnlock()
	ids := make([]string, 0, len(co.nodes))
	for id, node := range co.nodes {
		if id == co.cfg.NodeID || nowMs-node.LastHeartbeatMs < co.cfg.HeartbeatTimeout.Milliseconds() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	telemetry.ClusterNodes.Set(float64(len(ids)))
	return ids
}

// IsLeader reports the local view of leadership.
func (co *Coordinator) IsLeader() bool {
	co.mu.RLock()
	defer co.mu.RUnlock()
	return co.leaderID == co.cfg.NodeID
}

// NodeID returns the local node id.
func (co *Coordinator) NodeID() string {
	return co.cfg.NodeID
}

// ShouldProcessSource reports whether this node owns the given source.
// With horizontal scaling off every node owns everything; otherwise the
// source hashes onto exactly one position in the sorted alive set.
func (co *Coordinator) ShouldProcessSource(sourceID string) bool {
	if !co.cfg.HorizontalScaling {
		return true
	}
	alive := co.aliveNodeIDs()
	if len(alive) == 0 {
		return true
	}
	localIndex := -1
	for i, id := range alive {
		if id == co.cfg.NodeID {
			localIndex = i
			break
		}
	}
	if localIndex < 0 {
		// The local node fell out of its own alive set; take the work
		// rather than orphan the source.
		return true
	}
	h := fnv.New32a()
	h.Write([]byte(sourceID))
	// Modulo in uint32 space; a signed conversion could go negative on
	// 32-bit platforms.
	return int(h.Sum32()%uint32(len(alive))) == localIndex
}

// Subscribe registers a callback invoked after membership or leadership
// changes. Callbacks run synchronously; keep them fast.
func (co *Coordinator) Subscribe(fn func(State)) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.subscribers = append(co.subscribers, fn)
}

func (co *Coordinator) notifySubscribers() {
	state := co.State()
	co.mu.RLock()
	subscribers := make([]func(State), len(co.subscribers))
	copy(subscribers, co.subscribers)
	co.mu.RUnlock()
	for _, fn := range subscribers {
		fn(state)
	}
}

// State snapshots the local cluster view, nodes sorted by id.
func (co *Coordinator) State() State {
	co.mu.RLock()
	defer co.mu.RUnlock()
	state := State{LeaderID: co.leaderID, Nodes: make([]Node, 0, len(co.nodes))}
	for _, node := range co.nodes {
		state.Nodes = append(state.Nodes, *node)
	}
	sort.Slice(state.Nodes, func(i, j int) bool { return state.Nodes[i].NodeID < state.Nodes[j].NodeID })
	return state
}

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
	"fmt"
	"sync"

	"github.com/grepwise/grepwise/cluster"
	"github.com/grepwise/grepwise/internal/logs"
	"github.com/grepwise/grepwise/record"
	"github.com/grepwise/grepwise/storage"
)

// RecordSink receives the records a driver produces. The log buffer
// implements it; tests substitute fakes.
type RecordSink interface {
	Add(r *record.LogRecord) bool
	// TryAdd never blocks; drivers that cannot wait (syslog UDP) use it
	// and drop on false.
	TryAdd(r *record.LogRecord) bool
	AddAll(records []*record.LogRecord) int
}

// Coordinator gates which sources this node processes.
type Coordinator interface {
	ShouldProcessSource(sourceID string) bool
	Subscribe(fn func(cluster.State))
}

// alwaysLocal is the coordinator used when clustering is off.
type alwaysLocal struct{}

func (alwaysLocal) ShouldProcessSource(string) bool { return true }
func (alwaysLocal) Subscribe(func(cluster.State))   {}

// AuditSink records administrative actions. Persistence lives outside the
// core; a no-op sink is the default.
type AuditSink interface {
	Log(event AuditEvent)
}

// AuditEvent is one administrative action on a source.
type AuditEvent struct {
	Action     string `json:"action"`
	SourceID   string `json:"source_id"`
	SourceName string `json:"source_name"`
	AtMs       int64  `json:"at_ms"`
}

// NopAudit discards audit events.
type NopAudit struct{}

func (NopAudit) Log(AuditEvent) {}

// RouteBinder mounts HTTP sources on the shared ingest receiver. Routes
// exist for every HTTP source, enabled or not, so a push to a disabled
// source answers 403 rather than 404. HTTPIngest implements it.
type RouteBinder interface {
	Register(cfg *Config) error
	Unregister(id string)
}

// Driver is one running ingestion worker. Run blocks until the context is
// cancelled or Stop is called; Stop must be idempotent.
type Driver interface {
	Run(ctx context.Context) error
	Stop()
}

// DriverFactory builds the driver for one source type.
type DriverFactory func(cfg *Config) (Driver, error)

// Registry owns the source set: persistence, validation, and driver
// lifecycle, gated by the cluster coordinator.
type Registry struct {
	repo      storage.Repository[*Config]
	coord     Coordinator
	audit     AuditSink
	binder    RouteBinder
	logger    logs.StructuredLogger
	factories map[Type]DriverFactory

	mu      sync.Mutex
	running map[string]Driver
	ctx     context.Context
	started bool
}

// NewRegistry builds a registry. A nil coordinator means every source is
// local; a nil audit sink discards events; a nil binder skips route
// mounting.
func NewRegistry(repo storage.Repository[*Config], coord Coordinator, audit AuditSink, binder RouteBinder, factories map[Type]DriverFactory, logger logs.StructuredLogger) *Registry {
	if coord == nil {
		coord = alwaysLocal{}
	}
	if audit == nil {
		audit = NopAudit{}
	}
	r := &Registry{
		repo:      repo,
		coord:     coord,
		audit:     audit,
		binder:    binder,
		logger:    logger,
		factories: factories,
		running:   map[string]Driver{},
	}
	coord.Subscribe(func(cluster.State) { r.Reevaluate() })
	return r
}

// Start loads every enabled source and starts the ones assigned to this
// node. The context bounds every driver started now or later.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	r.ctx = ctx
	r.started = true
	r.mu.Unlock()

	all, err := r.repo.FindAll()
	if err != nil {
		return fmt.Errorf("sources: loading sources: %w", err)
	}
	for _, cfg := range all {
		r.bindRoute(cfg)
		if cfg.Enabled {
			r.startIfAssigned(cfg)
		}
	}
	return nil
}

// Stop halts every running driver.
func (r *Registry) Stop() {
	r.mu.Lock()
	drivers := make([]Driver, 0, len(r.running))
	for id, d := range r.running {
		drivers = append(drivers, d)
		delete(r.running, id)
	}
	r.started = false
	r.mu.Unlock()
	for _, d := range drivers {
		d.Stop()
	}
}

// Create validates, persists and starts a new source.
func (r *Registry) Create(cfg *Config) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := r.repo.Save(cfg); err != nil {
		return err
	}
	r.audit.Log(AuditEvent{Action: "source.create", SourceID: cfg.ID, SourceName: cfg.Name})
	r.bindRoute(cfg)
	if cfg.Enabled {
		r.startIfAssigned(cfg)
	}
	return nil
}

// Update stops the old driver, persists, and restarts with the new config.
func (r *Registry) Update(cfg *Config) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := r.repo.FindByID(cfg.ID); err != nil {
		return err
	}
	r.stopDriver(cfg.ID)
	if err := r.repo.Save(cfg); err != nil {
		return err
	}
	r.audit.Log(AuditEvent{Action: "source.update", SourceID: cfg.ID, SourceName: cfg.Name})
	r.bindRoute(cfg)
	if cfg.Enabled {
		r.startIfAssigned(cfg)
	}
	return nil
}

// Delete stops and removes a source.
func (r *Registry) Delete(id string) error {
	cfg, err := r.repo.FindByID(id)
	if err != nil {
		return err
	}
	r.stopDriver(id)
	if r.binder != nil {
		r.binder.Unregister(id)
	}
	if err := r.repo.DeleteByID(id); err != nil {
		return err
	}
	r.audit.Log(AuditEvent{Action: "source.delete", SourceID: id, SourceName: cfg.Name})
	return nil
}

// Get returns one source by id.
func (r *Registry) Get(id string) (*Config, error) {
	return r.repo.FindByID(id)
}

// List returns every source, including ones this node does not process.
func (r *Registry) List() ([]*Config, error) {
	return r.repo.FindAll()
}

// Running reports whether a driver is attached for the source.
func (r *Registry) Running(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[id]
	return ok
}

// Reevaluate reconciles driver assignment with the coordinator's current
// view: it starts enabled sources newly assigned here and stops ones that
// moved away. The coordinator subscription calls it on cluster changes.
func (r *Registry) Reevaluate() {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return
	}
	all, err := r.repo.FindAll()
	if err != nil {
		r.logger.Errorf("sources: listing sources for reassignment: %v", err)
		return
	}
	for _, cfg := range all {
		assigned := r.coord.ShouldProcessSource(cfg.ID)
		running := r.Running(cfg.ID)
		switch {
		case cfg.Enabled && assigned && !running:
			r.startDriver(cfg)
		case running && (!assigned || !cfg.Enabled):
			r.logger.Infof("sources: %q no longer assigned to this node, stopping", cfg.Name)
			r.stopDriver(cfg.ID)
		}
	}
}

// bindRoute mounts an HTTP source's ingest route regardless of whether it
// is enabled; the receiver answers 403 for disabled sources itself. The
// old route is dropped first so a path change does not leave a stale one.
func (r *Registry) bindRoute(cfg *Config) {
	if r.binder == nil || cfg.Type != HTTP {
		return
	}
	r.binder.Unregister(cfg.ID)
	if err := r.binder.Register(cfg); err != nil {
		r.logger.Errorf("sources: mounting ingest route for %q: %v", cfg.Name, err)
	}
}

// startIfAssigned starts the driver when the coordinator assigns the
// source here. Unassigned sources stay registered for admin listing only.
func (r *Registry) startIfAssigned(cfg *Config) {
	if !r.coord.ShouldProcessSource(cfg.ID) {
		r.logger.Infof("sources: %q is assigned to another node", cfg.Name)
		return
	}
	r.startDriver(cfg)
}

func (r *Registry) startDriver(cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	if _, ok := r.running[cfg.ID]; ok {
		return
	}
	factory, ok := r.factories[cfg.Type]
	if !ok {
		r.logger.Errorf("sources: no driver for source type %s", cfg.Type)
		return
	}
	driver, err := factory(cfg)
	if err != nil {
		r.logger.Errorf("sources: building driver for %q: %v", cfg.Name, err)
		return
	}
	r.running[cfg.ID] = driver
	ctx := r.ctx
	go func() {
		if err := driver.Run(ctx); err != nil && ctx.Err() == nil {
			r.logger.Errorf("sources: driver for %q exited: %v", cfg.Name, err)
		}
	}()
	r.logger.Infof("sources: started %s source %q", cfg.Type, cfg.Name)
}

func (r *Registry) stopDriver(id string) {
	r.mu.Lock()
	driver, ok := r.running[id]
	delete(r.running, id)
	r.mu.Unlock()
	if ok {
		driver.Stop()
	}
}

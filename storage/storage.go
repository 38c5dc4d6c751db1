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

// Package storage defines the persistence contract for administrative
// records (sources, alarms) and a JSON-file implementation suitable for a
// single self-hosted node. Deployments backed by a real database swap in
// their own Repository.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrNotFound tags lookups for ids that do not exist.
var ErrNotFound = errors.New("not found")

// Entity is anything the repository can persist. Name may return "" for
// entity kinds without a uniqueness constraint on names.
type Entity interface {
	EntityID() string
	EntityName() string
}

// Repository stores one kind of administrative entity. Implementations
// must be safe for concurrent use.
type Repository[T Entity] interface {
	Save(entity T) error
	FindAll() ([]T, error)
	FindByID(id string) (T, error)
	DeleteByID(id string) error
	Count() (int, error)
	ExistsByName(name string) (bool, error)
}

// JSONRepository keeps every entity in one JSON file, rewritten atomically
// on each mutation. The full set lives in memory; admin records number in
// the dozens, not millions.
type JSONRepository[T Entity] struct {
	path string

	mu       sync.RWMutex
	entities map[string]T
}

// NewJSONRepository loads (or creates) the repository file at path.
func NewJSONRepository[T Entity](path string) (*JSONRepository[T], error) {
	r := &JSONRepository[T]{
		path:     path,
		entities: map[string]T{},
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var stored []T
		if err := json.Unmarshal(data, &stored); err != nil {
			return nil, fmt.Errorf("storage: decoding %s: %w", path, err)
		}
		for _, e := range stored {
			r.entities[e.EntityID()] = e
		}
	case os.IsNotExist(err):
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("storage: creating %s: %w", filepath.Dir(path), err)
		}
	default:
		return nil, fmt.Errorf("storage: reading %s: %w", path, err)
	}
	return r, nil
}

// persistLocked rewrites the backing file. Callers hold the write lock.
func (r *JSONRepository[T]) persistLocked() error {
	all := make([]T, 0, len(r.entities))
	for _, e := range r.entities {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].EntityID() < all[j].EntityID() })

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encoding %s: %w", r.path, err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("storage: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("storage: replacing %s: %w", r.path, err)
	}
	return nil
}

func (r *JSONRepository[T]) Save(entity T) error {
	if entity.EntityID() == "" {
		return fmt.Errorf("storage: entity id must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	previous, existed := r.entities[entity.EntityID()]
	r.entities[entity.EntityID()] = entity
	if err := r.persistLocked(); err != nil {
		if existed {
			r.entities[entity.EntityID()] = previous
		} else {
			delete(r.entities, entity.EntityID())
		}
		return err
	}
	return nil
}

func (r *JSONRepository[T]) FindAll() ([]T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]T, 0, len(r.entities))
	for _, e := range r.entities {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].EntityID() < all[j].EntityID() })
	return all, nil
}

func (r *JSONRepository[T]) FindByID(id string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("storage: entity %s: %w", id, ErrNotFound)
	}
	return e, nil
}

func (r *JSONRepository[T]) DeleteByID(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous, ok := r.entities[id]
	if !ok {
		return fmt.Errorf("storage: entity %s: %w", id, ErrNotFound)
	}
	delete(r.entities, id)
	if err := r.persistLocked(); err != nil {
		r.entities[id] = previous
		return err
	}
	return nil
}

func (r *JSONRepository[T]) Count() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities), nil
}

func (r *JSONRepository[T]) ExistsByName(name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entities {
		if e.EntityName() == name {
			return true, nil
		}
	}
	return false, nil
}

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

package storage_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/grepwise/grepwise/storage"
	"gotest.tools/v3/assert"
)

type widget struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (w *widget) EntityID() string   { return w.ID }
func (w *widget) EntityName() string { return w.Name }

func TestSaveAndFind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widgets.json")
	repo, err := storage.NewJSONRepository[*widget](path)
	assert.NilError(t, err)

	assert.NilError(t, repo.Save(&widget{ID: "w1", Name: "first"}))
	assert.NilError(t, repo.Save(&widget{ID: "w2", Name: "second"}))

	found, err := repo.FindByID("w1")
	assert.NilError(t, err)
	assert.Equal(t, found.Name, "first")

	n, err := repo.Count()
	assert.NilError(t, err)
	assert.Equal(t, n, 2)

	exists, err := repo.ExistsByName("second")
	assert.NilError(t, err)
	assert.Assert(t, exists)
	exists, err = repo.ExistsByName("third")
	assert.NilError(t, err)
	assert.Assert(t, !exists)
}

func TestSaveOverwritesByID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widgets.json")
	repo, err := storage.NewJSONRepository[*widget](path)
	assert.NilError(t, err)

	assert.NilError(t, repo.Save(&widget{ID: "w1", Name: "before"}))
	assert.NilError(t, repo.Save(&widget{ID: "w1", Name: "after"}))

	found, err := repo.FindByID("w1")
	assert.NilError(t, err)
	assert.Equal(t, found.Name, "after")
	n, err := repo.Count()
	assert.NilError(t, err)
	assert.Equal(t, n, 1)
}

func TestDeleteAndNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widgets.json")
	repo, err := storage.NewJSONRepository[*widget](path)
	assert.NilError(t, err)

	assert.NilError(t, repo.Save(&widget{ID: "w1", Name: "doomed"}))
	assert.NilError(t, repo.DeleteByID("w1"))

	_, err = repo.FindByID("w1")
	assert.Assert(t, errors.Is(err, storage.ErrNotFound))
	err = repo.DeleteByID("w1")
	assert.Assert(t, errors.Is(err, storage.ErrNotFound))
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widgets.json")
	repo, err := storage.NewJSONRepository[*widget](path)
	assert.NilError(t, err)
	assert.NilError(t, repo.Save(&widget{ID: "w1", Name: "durable"}))

	reopened, err := storage.NewJSONRepository[*widget](path)
	assert.NilError(t, err)
	found, err := reopened.FindByID("w1")
	assert.NilError(t, err)
	assert.Equal(t, found.Name, "durable")
}

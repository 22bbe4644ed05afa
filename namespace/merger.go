/*
Copyright 2011 The Perkeep Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package namespace merges the variables and attributes of many member
// engines into one dataset-prefixed namespace, the way a federated engine
// presents "sim.bp/temperature" for the variable "temperature" owned by
// the sub-engine opened for dataset "sim.bp".
package namespace

import (
	"fmt"
	"log"

	"campaignfs.dev/federated/ferrors"
	"campaignfs.dev/federated/subengine"
)

// MergedVariable is one entry in the merged namespace: a full,
// dataset-prefixed name pointing back at the owning engine by index (not
// by pointer, so the owning slice can be freely reallocated without
// invalidating entries, as long as its order is kept).
type MergedVariable struct {
	FullName       string
	Type           string
	OwnerEngineIdx int
	OriginalName   string
}

// Merger accumulates MergedVariable and attribute entries across calls to
// Import, one per member engine.
type Merger struct {
	logger *log.Logger

	vars  map[string]MergedVariable
	attrs map[string]MergedVariable
	order []string
}

// New returns an empty Merger. A nil logger discards collision warnings.
func New(logger *log.Logger) *Merger {
	return &Merger{
		logger: logger,
		vars:   make(map[string]MergedVariable),
		attrs:  make(map[string]MergedVariable),
	}
}

// structType is the type tag a sub-engine reports for composite
// (struct-typed) variables and attributes, which Import leaves out of the
// merged namespace: the federated engine's Get only ever resolves scalar
// and array leaves, never a nested struct.
const structType = "struct"

// Import adds every non-struct variable and attribute of eng into the
// merged namespace under "<dsName>/<originalName>". A name collision
// replaces the existing entry and logs a warning.
func (m *Merger) Import(dsName string, eng subengine.Engine, ownerIdx int) {
	for _, v := range eng.Variables() {
		if v.Type == structType {
			continue
		}
		full := dsName + "/" + v.Name
		if _, exists := m.vars[full]; exists {
			m.warn(full)
		} else {
			m.order = append(m.order, full)
		}
		m.vars[full] = MergedVariable{FullName: full, Type: v.Type, OwnerEngineIdx: ownerIdx, OriginalName: v.Name}
	}
	for _, a := range eng.Attributes() {
		if a.Type == structType {
			continue
		}
		full := dsName + "/" + a.Name
		if _, exists := m.attrs[full]; exists {
			m.warn(full)
		}
		m.attrs[full] = MergedVariable{FullName: full, Type: a.Type, OwnerEngineIdx: ownerIdx, OriginalName: a.Name}
	}
}

func (m *Merger) warn(full string) {
	if m.logger != nil {
		m.logger.Printf("namespace: %q already present, replacing", full)
	}
}

// Lookup resolves a merged name to its owning engine index and original
// (unprefixed) name.
func (m *Merger) Lookup(fullName string) (MergedVariable, error) {
	if v, ok := m.vars[fullName]; ok {
		return v, nil
	}
	if a, ok := m.attrs[fullName]; ok {
		return a, nil
	}
	return MergedVariable{}, fmt.Errorf("%w: %s", ferrors.NameNotFound, fullName)
}

// Variables returns every merged variable name, in import order.
func (m *Merger) Variables() []string {
	return append([]string(nil), m.order...)
}

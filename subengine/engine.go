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

// Package subengine defines the contract a federated engine programs
// against for each of its member datasets, and the factory that opens the
// right concrete implementation for a dataset's host.
package subengine

import "context"

// Mode selects whether a Get call resolves immediately (Sync) or is
// deferred until the owning engine's PerformGets.
type Mode int

const (
	Deferred Mode = iota
	Sync
)

// VarDesc describes one variable exposed by an Engine.
type VarDesc struct {
	Name  string
	Type  string
	Shape []uint64
}

// AttrDesc describes one attribute exposed by an Engine.
type AttrDesc struct {
	Name  string
	Type  string
	Value any
}

// MinMax holds a variable's minimum and maximum observed values.
type MinMax struct {
	Min, Max any
}

// BlockInfo describes one writer block of a variable at a step.
type BlockInfo struct {
	BlockID int
	Start   []uint64
	Count   []uint64
}

// Future represents a pending or completed Get; Wait blocks until the
// value has been filled in (for Deferred Gets) or returns immediately
// (for Sync Gets, where the data is already resolved by the time Get
// returns).
type Future interface {
	Wait(ctx context.Context) error
}

// Engine is the contract a federated engine programs against for a
// single member dataset, regardless of whether its data lives on local
// disk, in an S3 bucket, or behind a remote dataserver.
type Engine interface {
	Variables() []VarDesc
	Attributes() []AttrDesc
	Get(ctx context.Context, name string, dest any, mode Mode) (Future, error)
	Shape(name string, step uint64) ([]uint64, error)
	MinMax(name string, step uint64) (MinMax, error)
	BlocksInfo(name string, step uint64) ([]BlockInfo, error)
	AllStepsBlocksInfo(name string) (map[uint64][]BlockInfo, error)
	AllRelativeStepsBlocksInfo(name string) ([][]BlockInfo, error)
	ExprStr(name string) (string, error)
	Close() error
}

// resolvedFuture is a Future whose value is already available; Sync Gets
// return one.
type resolvedFuture struct{ err error }

func (r resolvedFuture) Wait(context.Context) error { return r.err }

// Resolved returns a Future that is immediately satisfied with err (which
// may be nil).
func Resolved(err error) Future { return resolvedFuture{err: err} }

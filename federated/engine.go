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

// Package federated implements the top-level read engine: it loads a
// catalog, opens one sub-engine per member dataset, merges their
// variables and attributes into a single namespace, and presents a
// BeginStep/PerformGets/EndStep step loop over the result.
package federated

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"campaignfs.dev/federated/campaignparams"
	"campaignfs.dev/federated/catalog"
	"campaignfs.dev/federated/ferrors"
	"campaignfs.dev/federated/namespace"
	"campaignfs.dev/federated/subengine"
)

// StepStatus is the outcome of a BeginStep call.
type StepStatus int

const (
	// StepOK means a new step is available and reads may be issued.
	StepOK StepStatus = iota
	// StepEndOfStream means no further steps will ever arrive.
	StepEndOfStream
	// StepNotReady means no step arrived within the caller's timeout;
	// the caller may retry.
	StepNotReady
	// StepOtherError means BeginStep failed for a reason described by
	// the accompanying error.
	StepOtherError
)

func (s StepStatus) String() string {
	switch s {
	case StepOK:
		return "OK"
	case StepEndOfStream:
		return "EndOfStream"
	case StepNotReady:
		return "NotReady"
	default:
		return "OtherError"
	}
}

// pendingGet records a Deferred Get so PerformGets can resolve it later.
type pendingGet struct {
	future subengine.Future
}

// Engine is the federated read engine over one opened campaign.
type Engine struct {
	logger  *log.Logger
	verbose int

	db      *sql.DB
	data    *catalog.Data
	engines []subengine.Engine // indexed; never referenced by pointer from outside
	merger  *namespace.Merger

	currentStep int64
	pending     []pendingGet
	closed      bool
}

// Open loads the catalog at path and opens every dataset's sub-engine via
// factory, merging their namespaces. Datasets whose sub-engine fails to
// open are skipped (always logged, at any verbose level) rather than
// aborting the whole campaign; Open itself only fails if the catalog can't
// be loaded or params fails validation.
func Open(ctx context.Context, store *catalog.Store, path string, factory *subengine.Factory, params *campaignparams.Params, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	data, db, err := store.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	verbose := 0
	if params != nil {
		verbose = params.Verbose()
		// These keys are consumed by the caller while wiring up the
		// store, cache, and factory; touch them here so Validate only
		// flags genuinely unrecognized parameters.
		params.String("hostname", "")
		params.String("campaignstorepath", "")
		params.String("cachepath", "")
		if verr := params.Validate(); verr != nil {
			db.Close()
			return nil, verr
		}
	}

	e := &Engine{
		logger:  logger,
		verbose: verbose,
		db:      db,
		data:    data,
		merger:  namespace.New(logger),
	}

	if verbose > 0 {
		logger.Printf("federated: campaign %s: %d hosts, %d keys, %d datasets", data.CampaignName, len(data.Hosts), len(data.Keys), len(data.Datasets))
		for _, h := range data.Hosts {
			logger.Printf("federated: host %s (%s)", h.Hostname, h.FQDN)
		}
		for _, k := range data.Keys {
			logger.Printf("federated: key id=%d present=%t", k.ID, k.Hex != "")
		}
		for _, ds := range data.Datasets {
			logger.Printf("federated: dataset %s uuid=%s", ds.Name, ds.UUID)
		}
	}

	// Opening a dataset's sub-engine can mean a network round trip (key
	// resolution, S3 download), so fan the opens out across datasets and
	// only serialize the namespace merge, which must happen in dataset
	// order so collisions resolve deterministically.
	opened := make([]subengine.Engine, len(data.Datasets))
	openErrs := make([]error, len(data.Datasets))
	g, gctx := errgroup.WithContext(ctx)
	for i, ds := range data.Datasets {
		i, ds := i, ds
		g.Go(func() error {
			eng, err := factory.Open(gctx, db, data, ds)
			if err != nil {
				openErrs[i] = err
				return nil
			}
			opened[i] = eng
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		db.Close()
		return nil, err
	}

	for i, ds := range data.Datasets {
		if openErrs[i] != nil {
			// Skips are always reported, not just at higher verbosity: a
			// dataset silently missing from the merged namespace is much
			// harder to diagnose than a noisy open.
			logger.Printf("federated: skipping dataset %s: %v", ds.Name, openErrs[i])
			continue
		}
		idx := len(e.engines)
		e.engines = append(e.engines, opened[i])
		e.merger.Import(ds.Name, opened[i], idx)
	}

	if verbose > 0 {
		logger.Printf("federated: opened %d of %d datasets", len(e.engines), len(data.Datasets))
	}

	return e, nil
}

// CurrentStep returns the engine's current step counter.
func (e *Engine) CurrentStep() int64 { return e.currentStep }

// BeginStep advances to the next step. Step 1 is always available
// immediately; end-of-stream is signaled as soon as the engine would
// advance to step 2, and on every call after that, regardless of timeout,
// so the timeout only matters
// once member sub-engines can actually block waiting for new data.
//
// TODO: once member sub-engines expose their own per-step state, replace
// the hard-coded limit with a poll across e.engines, returning
// StepNotReady when none produces a step within timeout.
func (e *Engine) BeginStep(ctx context.Context, timeout time.Duration) (StepStatus, error) {
	if e.closed {
		return StepOtherError, fmt.Errorf("%w: engine is closed", ferrors.InvalidConfig)
	}
	e.currentStep++
	if e.verbose > 1 {
		e.logger.Printf("federated: BeginStep -> %d", e.currentStep)
	}
	if e.currentStep >= 2 {
		return StepEndOfStream, nil
	}
	return StepOK, nil
}

// Get resolves or schedules a read of name into dest, depending on mode.
func (e *Engine) Get(ctx context.Context, name string, dest any, mode subengine.Mode) error {
	eng, orig, err := e.owner(name)
	if err != nil {
		return err
	}
	fut, err := eng.Get(ctx, orig, dest, mode)
	if err != nil {
		return err
	}
	if mode == subengine.Sync {
		return fut.Wait(ctx)
	}
	e.pending = append(e.pending, pendingGet{future: fut})
	return nil
}

// PerformGets blocks until every Deferred Get issued since the last
// PerformGets or EndStep has completed. Per-sub-engine failures are
// collected; the first is returned to the caller and the rest are logged.
func (e *Engine) PerformGets(ctx context.Context) error {
	if e.verbose > 1 {
		e.logger.Printf("federated: PerformGets: resolving %d pending get(s)", len(e.pending))
	}
	var errs []error
	for _, p := range e.pending {
		if err := p.future.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.pending = e.pending[:0]
	if len(errs) == 0 {
		return nil
	}
	for _, err := range errs[1:] {
		e.logger.Printf("federated: PerformGets: %v", err)
	}
	return errs[0]
}

// EndStep finalizes the current step, performing any outstanding Deferred
// Gets first.
func (e *Engine) EndStep(ctx context.Context) error {
	if e.verbose > 1 {
		e.logger.Printf("federated: EndStep <- %d", e.currentStep)
	}
	return e.PerformGets(ctx)
}

// Close closes every sub-engine in reverse open order, then the catalog
// database Open left open for on-demand blob extraction, then marks the
// federated engine unusable.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	for i := len(e.engines) - 1; i >= 0; i-- {
		if err := e.engines[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Variables returns every merged variable name currently in the
// namespace.
func (e *Engine) Variables() []string { return e.merger.Variables() }

// owner resolves name in the merged namespace and returns its sub-engine
// together with the variable's original (unprefixed) name.
func (e *Engine) owner(name string) (subengine.Engine, string, error) {
	mv, err := e.merger.Lookup(name)
	if err != nil {
		return nil, "", err
	}
	return e.engines[mv.OwnerEngineIdx], mv.OriginalName, nil
}

// Shape returns the global dimensions of the named merged variable at
// step, as reported by its owning sub-engine.
func (e *Engine) Shape(name string, step uint64) ([]uint64, error) {
	eng, orig, err := e.owner(name)
	if err != nil {
		return nil, err
	}
	return eng.Shape(orig, step)
}

// MinMax returns the named merged variable's extrema at step.
func (e *Engine) MinMax(name string, step uint64) (subengine.MinMax, error) {
	eng, orig, err := e.owner(name)
	if err != nil {
		return subengine.MinMax{}, err
	}
	return eng.MinMax(orig, step)
}

// BlocksInfo returns the writer blocks of the named merged variable at
// step.
func (e *Engine) BlocksInfo(name string, step uint64) ([]subengine.BlockInfo, error) {
	eng, orig, err := e.owner(name)
	if err != nil {
		return nil, err
	}
	return eng.BlocksInfo(orig, step)
}

// AllStepsBlocksInfo returns the named merged variable's blocks for every
// step it exists at.
func (e *Engine) AllStepsBlocksInfo(name string) (map[uint64][]subengine.BlockInfo, error) {
	eng, orig, err := e.owner(name)
	if err != nil {
		return nil, err
	}
	return eng.AllStepsBlocksInfo(orig)
}

// AllRelativeStepsBlocksInfo is AllStepsBlocksInfo indexed by the
// variable's own step ordering rather than absolute step numbers.
func (e *Engine) AllRelativeStepsBlocksInfo(name string) ([][]subengine.BlockInfo, error) {
	eng, orig, err := e.owner(name)
	if err != nil {
		return nil, err
	}
	return eng.AllRelativeStepsBlocksInfo(orig)
}

// ExprStr returns the derived-variable expression recorded for the named
// merged variable, or "" when it is a plain stored variable.
func (e *Engine) ExprStr(name string) (string, error) {
	eng, orig, err := e.owner(name)
	if err != nil {
		return "", err
	}
	return eng.ExprStr(orig)
}

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

package subengine

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"campaignfs.dev/federated/cachelayout"
	"campaignfs.dev/federated/catalog"
	"campaignfs.dev/federated/ferrors"
	"campaignfs.dev/federated/hostconfig"
	"campaignfs.dev/federated/keyservice"
)

// Opener opens the localfile.Engine for a dataset whose bytes already sit
// on local disk (or have just been materialized there). It is a narrow
// seam so this package does not import subengine/localfile directly,
// avoiding an import cycle: localfile (and the s3sub helper) import
// subengine.
type Opener func(dir string) (Engine, error)

// S3Opener fetches a dataset's blobs from S3 and opens the resulting
// local directory.
type S3Opener func(ctx context.Context, bucket, prefix, profile string, isEC2, recheck bool, ds catalog.Dataset, files []catalog.BlobFile, cache *cachelayout.Layout) (Engine, error)

// Factory implements the three-way dispatch of a catalog dataset's host
// to the right concrete Engine: already-local, an S3-profiled host, or a
// generic remote host resolved via the cache layout and key service.
type Factory struct {
	LocalHost string
	Hosts     hostconfig.Table
	Cache     *cachelayout.Layout
	Keys      *keyservice.Client
	Store     *catalog.Store

	OpenLocal Opener
	OpenS3    S3Opener

	Logger *log.Logger

	mu          sync.Mutex
	fetchedKeys map[int64]string // key id -> resolved hex, "0" included
}

// Open opens ds against data, following the host-based dispatch table. A
// failure leaves the dataset skipped rather than aborting the whole
// catalog open: the caller is expected to log the error (via Logger) and
// continue. db is the still-open catalog database Store.Load returned;
// it is only touched on the generic-remote branch, to extract blobs
// through the cache layout.
func (f *Factory) Open(ctx context.Context, db *sql.DB, data *catalog.Data, ds catalog.Dataset) (Engine, error) {
	host, ok := data.HostByID(ds.HostID)
	if !ok {
		return nil, fmt.Errorf("%w: dataset %s references unknown host id %d", ferrors.InvalidConfig, ds.Name, ds.HostID)
	}

	files := data.FilesForDataset(ds.ID)

	if host.Hostname == f.LocalHost {
		dir, err := f.localDatasetDir(data, ds)
		if err != nil {
			return nil, err
		}
		return f.OpenLocal(dir)
	}

	keyHex, err := f.resolveKey(ctx, data, ds)
	if err != nil {
		return nil, err
	}
	if keyHex == "0" {
		return nil, fmt.Errorf("%w: dataset %s: key access denied", ferrors.KeyServiceUnavailable, ds.Name)
	}

	opts, hasProfile := f.Hosts.Lookup(host.Hostname)
	if hasProfile && opts.HasS3Profile {
		return f.OpenS3(ctx, opts.Endpoint, ds.UUID+"/", opts.AWSProfile, opts.IsAWSEC2, opts.RecheckMetadata, ds, files, f.Cache)
	}

	remoteDir, ok := data.DirByID(ds.DirID)
	if !ok {
		return nil, fmt.Errorf("%w: dataset %s references unknown directory id %d", ferrors.InvalidConfig, ds.Name, ds.DirID)
	}
	info := cachelayout.Info{
		Campaign:       data.CampaignName,
		RemoteHost:     host.Hostname,
		RemoteDataPath: filepath.Join(remoteDir.Path, ds.Name),
	}
	dir, err := f.Cache.Materialize(ctx, db, ds, files, keyHex, info)
	if err != nil {
		return nil, err
	}
	return f.OpenLocal(dir)
}

func (f *Factory) localDatasetDir(data *catalog.Data, ds catalog.Dataset) (string, error) {
	dir, ok := data.DirByID(ds.DirID)
	if !ok {
		return "", fmt.Errorf("%w: dataset %s references unknown directory id %d", ferrors.InvalidConfig, ds.Name, ds.DirID)
	}
	return dir.Path, nil
}

func (f *Factory) resolveKey(ctx context.Context, data *catalog.Data, ds catalog.Dataset) (string, error) {
	if !ds.HasKey {
		return "", nil
	}
	key, ok := data.KeyByID(ds.KeyID)
	if !ok {
		return "", fmt.Errorf("%w: dataset %s references unknown key id %d", ferrors.InvalidConfig, ds.Name, ds.KeyID)
	}
	if key.Hex != "" {
		return key.Hex, nil
	}
	if f.Keys == nil {
		return "", fmt.Errorf("%w: dataset %s needs a key but no key service is configured", ferrors.KeyServiceUnavailable, ds.Name)
	}

	// One fetch per key id per open: datasets sharing a key reuse the
	// first answer, including a denial. The lock is held across the fetch
	// so concurrent opens of datasets sharing a key cannot both fetch it.
	f.mu.Lock()
	defer f.mu.Unlock()
	if hex, ok := f.fetchedKeys[ds.KeyID]; ok {
		return hex, nil
	}

	hex, err := f.Keys.FetchKey(ctx, fmt.Sprintf("%d", ds.KeyID))
	if err != nil {
		return "", err
	}

	if f.fetchedKeys == nil {
		f.fetchedKeys = make(map[int64]string)
	}
	f.fetchedKeys[ds.KeyID] = hex

	if hex == "0" && f.Logger != nil {
		f.Logger.Printf("subengine: key for dataset %s denied, skipping", ds.Name)
	}
	return hex, nil
}

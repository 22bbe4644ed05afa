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

// Package cachelayout computes and materializes the on-disk cache path for
// a federated dataset, sharded the way the engine's local blob stores
// shard their own paths: a short prefix of the dataset UUID, then the
// full UUID, so a single cache directory never grows one huge flat
// listing.
package cachelayout

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"campaignfs.dev/federated/catalog"
	"campaignfs.dev/federated/ferrors"
)

// Info carries the remote-side facts that belong in a materialized
// dataset's info.txt, beyond what the catalog's Dataset already holds.
type Info struct {
	Campaign       string
	RemoteHost     string
	RemoteDataPath string
}

// Layout resolves and populates the cache directory for datasets pulled
// from the catalog's blob storage.
type Layout struct {
	root  string
	store *catalog.Store
}

// New returns a Layout rooted at root, using store to extract blobs.
func New(root string, store *catalog.Store) *Layout {
	return &Layout{root: root, store: store}
}

// PathFor returns the cache directory for the dataset with the given
// UUID: <root>/<uuid[:3]>/<uuid>.
func (l *Layout) PathFor(uuid string) string {
	prefix := uuid
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	return filepath.Join(l.root, prefix, uuid)
}

// Materialize ensures the dataset's cache directory exists and contains an
// extracted copy of every blob file, decrypting with keyHex when
// non-empty, then writes an info.txt summary built from info. db is the
// still-open catalog database Store.Load returned; ExtractBlob uses it to
// fetch each blob's payload on demand. It returns the dataset's cache
// directory.
func (l *Layout) Materialize(ctx context.Context, db *sql.DB, ds catalog.Dataset, files []catalog.BlobFile, keyHex string, info Info) (string, error) {
	dir := l.PathFor(ds.UUID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating %s: %v", ferrors.CacheIOError, dir, err)
	}
	for _, f := range files {
		out := filepath.Join(dir, f.Name)
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return "", fmt.Errorf("%w: creating parent of %s: %v", ferrors.CacheIOError, out, err)
		}
		if err := l.store.ExtractBlob(ctx, db, out, f, keyHex); err != nil {
			return "", err
		}
	}
	if err := l.writeInfo(dir, ds, info); err != nil {
		return "", err
	}
	return dir, nil
}

// writeInfo overwrites info.txt with the campaign name, dataset name,
// remote host, and the dataset's relative path on that remote host.
func (l *Layout) writeInfo(dir string, ds catalog.Dataset, info Info) error {
	text := fmt.Sprintf("Campaign=%s\nDataset=%s\nRemoteHost=%s\nRemoteDataPath=%s\n",
		info.Campaign, ds.Name, info.RemoteHost, info.RemoteDataPath)
	path := filepath.Join(dir, "info.txt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ferrors.CacheIOError, path, err)
	}
	return nil
}

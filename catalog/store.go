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

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"campaignfs.dev/federated/ferrors"
)

// maxSupportedMajor is the newest catalog schema major version this store
// understands how to read. Catalogs written by a newer major version are
// rejected rather than silently misread.
const maxSupportedMajor = 1

// Store loads catalog databases from disk or from an explicit
// campaignstorepath root, resolving a campaign file against its
// configured store directory.
type Store struct {
	storePath string // campaignstorepath; "" means paths must be absolute or cwd-relative
	logger    *log.Logger
}

// NewStore returns a Store rooted at storePath. A nil logger discards all
// output.
func NewStore(storePath string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{storePath: storePath, logger: logger}
}

// resolve tries path as given, then joined under storePath.
func (s *Store) resolve(path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if s.storePath == "" {
		return "", fmt.Errorf("%w: %s: not found", ferrors.CatalogUnreadable, path)
	}
	joined := filepath.Join(s.storePath, path)
	if _, err := os.Stat(joined); err != nil {
		return "", fmt.Errorf("%w: %s: not found under store path %s", ferrors.CatalogUnreadable, path, s.storePath)
	}
	return joined, nil
}

// Load opens the catalog database named by path (resolved per resolve)
// and reads its full contents, except blob payloads, into a Data value.
// The *sql.DB is returned open: ExtractBlob needs it later to fetch blob
// payloads on demand, so the caller owns it and must Close it once the
// catalog (and any cache materialization that reads from it) is done.
func (s *Store) Load(ctx context.Context, path string) (*Data, *sql.DB, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, nil, err
	}
	db, err := sql.Open("sqlite", full)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: opening %s: %v", ferrors.CatalogUnreadable, full, err)
	}

	data := &Data{
		CampaignName: strings.TrimSuffix(filepath.Base(full), filepath.Ext(full)),
	}
	if err := s.readVersion(ctx, db, data); err != nil {
		db.Close()
		return nil, nil, err
	}
	if data.Version.Major > maxSupportedMajor {
		db.Close()
		return nil, nil, fmt.Errorf("%w: catalog schema %d.%d.%d newer than supported major %d",
			ferrors.CatalogSchemaMismatch, data.Version.Major, data.Version.Minor, data.Version.Patch, maxSupportedMajor)
	}
	if err := s.readDirs(ctx, db, data); err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := s.readHosts(ctx, db, data); err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := s.readHostDirs(ctx, db, data); err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := s.readKeys(ctx, db, data); err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := s.readDatasets(ctx, db, data); err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := s.readFiles(ctx, db, data); err != nil {
		db.Close()
		return nil, nil, err
	}
	if s.logger != nil {
		s.logger.Printf("catalog: loaded %s: %d hosts, %d datasets, %d files",
			full, len(data.Hosts), len(data.Datasets), len(data.Files))
	}
	return data, db, nil
}

func (s *Store) readVersion(ctx context.Context, db *sql.DB, data *Data) error {
	row := db.QueryRowContext(ctx, `SELECT major, minor, patch FROM version LIMIT 1`)
	if err := row.Scan(&data.Version.Major, &data.Version.Minor, &data.Version.Patch); err != nil {
		return fmt.Errorf("%w: reading version table: %v", ferrors.CatalogSchemaMismatch, err)
	}
	return nil
}

func (s *Store) readHosts(ctx context.Context, db *sql.DB, data *Data) error {
	rows, err := db.QueryContext(ctx, `SELECT id, hostname, longhostname, os FROM host`)
	if err != nil {
		return fmt.Errorf("%w: reading host table: %v", ferrors.CatalogUnreadable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var h Host
		if err := rows.Scan(&h.ID, &h.Hostname, &h.FQDN, &h.OS); err != nil {
			return fmt.Errorf("%w: scanning host row: %v", ferrors.CatalogUnreadable, err)
		}
		data.Hosts = append(data.Hosts, h)
	}
	return rows.Err()
}

// readHostDirs reads the host_directory many-to-many join table and
// translates each (host_id, dir_id) row, in table order, into an index
// into data.Dirs appended to the owning Host's DirIndices. It must run
// after readDirs and readHosts, which build the index space it resolves
// against.
func (s *Store) readHostDirs(ctx context.Context, db *sql.DB, data *Data) error {
	hostIdx := make(map[int64]int, len(data.Hosts))
	for i, h := range data.Hosts {
		hostIdx[h.ID] = i
	}
	dirIdx := make(map[int64]int, len(data.Dirs))
	for i, d := range data.Dirs {
		dirIdx[d.ID] = i
	}

	rows, err := db.QueryContext(ctx, `SELECT host_id, dir_id FROM host_directory`)
	if err != nil {
		return fmt.Errorf("%w: reading host_directory table: %v", ferrors.CatalogUnreadable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var hostID, dirID int64
		if err := rows.Scan(&hostID, &dirID); err != nil {
			return fmt.Errorf("%w: scanning host_directory row: %v", ferrors.CatalogUnreadable, err)
		}
		hi, ok := hostIdx[hostID]
		if !ok {
			return fmt.Errorf("%w: host_directory references unknown host id %d", ferrors.CatalogSchemaMismatch, hostID)
		}
		di, ok := dirIdx[dirID]
		if !ok {
			return fmt.Errorf("%w: host_directory references unknown directory id %d", ferrors.CatalogSchemaMismatch, dirID)
		}
		data.Hosts[hi].DirIndices = append(data.Hosts[hi].DirIndices, di)
	}
	return rows.Err()
}

func (s *Store) readDirs(ctx context.Context, db *sql.DB, data *Data) error {
	rows, err := db.QueryContext(ctx, `SELECT id, path FROM directory`)
	if err != nil {
		return fmt.Errorf("%w: reading directory table: %v", ferrors.CatalogUnreadable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var d Directory
		if err := rows.Scan(&d.ID, &d.Path); err != nil {
			return fmt.Errorf("%w: scanning directory row: %v", ferrors.CatalogUnreadable, err)
		}
		data.Dirs = append(data.Dirs, d)
	}
	return rows.Err()
}

func (s *Store) readKeys(ctx context.Context, db *sql.DB, data *Data) error {
	rows, err := db.QueryContext(ctx, `SELECT id, hex FROM key`)
	if err != nil {
		return fmt.Errorf("%w: reading key table: %v", ferrors.CatalogUnreadable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.ID, &k.Hex); err != nil {
			return fmt.Errorf("%w: scanning key row: %v", ferrors.CatalogUnreadable, err)
		}
		data.Keys = append(data.Keys, k)
	}
	return rows.Err()
}

func (s *Store) readDatasets(ctx context.Context, db *sql.DB, data *Data) error {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, uuid, host_id, dir_id, has_key, key_id, ts FROM dataset`)
	if err != nil {
		return fmt.Errorf("%w: reading dataset table: %v", ferrors.CatalogUnreadable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var ds Dataset
		var ts int64
		if err := rows.Scan(&ds.ID, &ds.Name, &ds.UUID, &ds.HostID, &ds.DirID, &ds.HasKey, &ds.KeyID, &ts); err != nil {
			return fmt.Errorf("%w: scanning dataset row: %v", ferrors.CatalogUnreadable, err)
		}
		ds.Timestamp = time.Unix(ts, 0).UTC()
		data.Datasets = append(data.Datasets, ds)
	}
	return rows.Err()
}

// readFiles reads blob metadata only; the payload column is fetched on
// demand by ExtractBlob so Load never holds every blob's bytes in memory
// at once.
func (s *Store) readFiles(ctx context.Context, db *sql.DB, data *Data) error {
	rows, err := db.QueryContext(ctx,
		`SELECT id, dataset_id, name, compressed, length_original, length_compressed FROM file`)
	if err != nil {
		return fmt.Errorf("%w: reading file table: %v", ferrors.CatalogUnreadable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var f BlobFile
		if err := rows.Scan(&f.ID, &f.DatasetID, &f.Name, &f.Compressed, &f.LengthOriginal, &f.LengthCompressed); err != nil {
			return fmt.Errorf("%w: scanning file row: %v", ferrors.CatalogUnreadable, err)
		}
		data.Files = append(data.Files, f)
	}
	return rows.Err()
}

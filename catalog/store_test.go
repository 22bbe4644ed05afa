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
	"bytes"
	"compress/zlib"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
	_ "modernc.org/sqlite"

	"campaignfs.dev/federated/ferrors"
)

const createSchema = `
CREATE TABLE version (major INTEGER, minor INTEGER, patch INTEGER);
CREATE TABLE host (id INTEGER PRIMARY KEY, hostname TEXT, longhostname TEXT, os TEXT);
CREATE TABLE directory (id INTEGER PRIMARY KEY, path TEXT);
CREATE TABLE key (id INTEGER PRIMARY KEY, hex TEXT);
CREATE TABLE host_directory (host_id INTEGER, dir_id INTEGER);
CREATE TABLE dataset (id INTEGER PRIMARY KEY, name TEXT, uuid TEXT, host_id INTEGER, dir_id INTEGER, has_key INTEGER, key_id INTEGER, ts INTEGER);
CREATE TABLE file (id INTEGER PRIMARY KEY, dataset_id INTEGER, name TEXT, compressed INTEGER, length_original INTEGER, length_compressed INTEGER, data BLOB);
`

func seedCatalog(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("opening seed db: %v", err)
	}
	defer db.Close()

	for _, stmt := range []string{
		createSchema,
		`INSERT INTO version (major, minor, patch) VALUES (1, 0, 0)`,
		`INSERT INTO host (id, hostname, longhostname, os) VALUES (1, 'node01', 'node01.cluster.example.org', 'Linux')`,
		`INSERT INTO directory (id, path) VALUES (1, '/data/run1')`,
		`INSERT INTO host_directory (host_id, dir_id) VALUES (1, 1)`,
		`INSERT INTO key (id, hex) VALUES (1, '')`,
		`INSERT INTO dataset (id, name, uuid, host_id, dir_id, has_key, key_id, ts)
		 VALUES (1, 'sim.bp', 'aaaa-bbbb', 1, 1, 0, 0, 0)`,
		`INSERT INTO file (id, dataset_id, name, compressed, length_original, length_compressed, data)
		 VALUES (1, 1, 'data.0', 0, 4, 4, x'deadbeef')`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seeding %q: %v", stmt, err)
		}
	}
}

func TestStoreLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "campaign.db")
	seedCatalog(t, path)

	s := NewStore(dir, nil)
	data, db, err := s.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer db.Close()

	if got, want := data.Version, (Version{1, 0, 0}); got != want {
		t.Errorf("Version = %+v, want %+v", got, want)
	}
	if data.CampaignName != "campaign" {
		t.Errorf("CampaignName = %q, want %q", data.CampaignName, "campaign")
	}
	if len(data.Datasets) != 1 || data.Datasets[0].Name != "sim.bp" {
		t.Errorf("Datasets = %+v, want one dataset named sim.bp", data.Datasets)
	}
	if len(data.Hosts) != 1 || data.Hosts[0].FQDN != "node01.cluster.example.org" {
		t.Errorf("Hosts = %+v, want one host with FQDN node01.cluster.example.org", data.Hosts)
	}
	if want := []int{0}; len(data.Hosts[0].DirIndices) != 1 || data.Hosts[0].DirIndices[0] != want[0] {
		t.Errorf("Hosts[0].DirIndices = %v, want %v", data.Hosts[0].DirIndices, want)
	}
	files := data.FilesForDataset(data.Datasets[0].ID)
	if len(files) != 1 || files[0].Name != "data.0" {
		t.Errorf("FilesForDataset = %+v, want one file named data.0", files)
	}

	out := filepath.Join(dir, "data.0")
	if err := s.ExtractBlob(context.Background(), db, out, files[0], ""); err != nil {
		t.Fatalf("ExtractBlob: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading extracted blob: %v", err)
	}
	if want := []byte{0xde, 0xad, 0xbe, 0xef}; !bytes.Equal(got, want) {
		t.Errorf("extracted blob = % x, want % x", got, want)
	}
}

// seedOneBlob creates a bare file table holding a single payload row, for
// exercising ExtractBlob's decompression and decryption paths directly.
func seedOneBlob(t *testing.T, path string, payload []byte) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("opening blob db: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE file (id INTEGER PRIMARY KEY, data BLOB)`); err != nil {
		t.Fatalf("creating file table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO file (id, data) VALUES (1, ?)`, payload); err != nil {
		t.Fatalf("seeding file row: %v", err)
	}
	return db
}

func TestExtractBlobCompressed(t *testing.T) {
	dir := t.TempDir()
	original := bytes.Repeat([]byte("abcd"), 256)

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(original); err != nil {
		t.Fatalf("compressing: %v", err)
	}
	zw.Close()

	db := seedOneBlob(t, filepath.Join(dir, "blobs.db"), compressed.Bytes())
	defer db.Close()

	blob := BlobFile{
		ID:               1,
		Name:             "data.0",
		Compressed:       true,
		LengthOriginal:   int64(len(original)),
		LengthCompressed: int64(compressed.Len()),
	}
	out := filepath.Join(dir, "data.0")
	s := NewStore(dir, nil)
	if err := s.ExtractBlob(context.Background(), db, out, blob, ""); err != nil {
		t.Fatalf("ExtractBlob: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading extracted blob: %v", err)
	}
	if !bytes.Equal(got, original) {
		t.Errorf("extracted blob differs from original (%d vs %d bytes)", len(got), len(original))
	}
}

func TestExtractBlobEncrypted(t *testing.T) {
	dir := t.TempDir()
	original := []byte("sensitive variable data")
	const keyHex = "deadbeefcafe"

	recipient, err := age.NewScryptRecipient(keyHex)
	if err != nil {
		t.Fatalf("NewScryptRecipient: %v", err)
	}
	recipient.SetWorkFactor(10)
	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, recipient)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := w.Write(original); err != nil {
		t.Fatalf("writing plaintext: %v", err)
	}
	w.Close()

	db := seedOneBlob(t, filepath.Join(dir, "blobs.db"), sealed.Bytes())
	defer db.Close()

	blob := BlobFile{ID: 1, Name: "data.0", LengthOriginal: int64(len(original))}
	out := filepath.Join(dir, "data.0")
	s := NewStore(dir, nil)
	if err := s.ExtractBlob(context.Background(), db, out, blob, keyHex); err != nil {
		t.Fatalf("ExtractBlob: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading extracted blob: %v", err)
	}
	if !bytes.Equal(got, original) {
		t.Errorf("decrypted blob = %q, want %q", got, original)
	}

	if err := s.ExtractBlob(context.Background(), db, out, blob, "wrong-key"); !errors.Is(err, ferrors.BlobDecryptionFailed) {
		t.Errorf("ExtractBlob with wrong key: err = %v, want ferrors.BlobDecryptionFailed", err)
	}
}

func TestExtractBlobLengthMismatch(t *testing.T) {
	dir := t.TempDir()
	db := seedOneBlob(t, filepath.Join(dir, "blobs.db"), []byte("abcd"))
	defer db.Close()

	blob := BlobFile{ID: 1, Name: "data.0", LengthOriginal: 99}
	s := NewStore(dir, nil)
	err := s.ExtractBlob(context.Background(), db, filepath.Join(dir, "data.0"), blob, "")
	if !errors.Is(err, ferrors.CacheIOError) {
		t.Errorf("ExtractBlob with wrong recorded length: err = %v, want ferrors.CacheIOError", err)
	}
}

func TestStoreLoadMissingFile(t *testing.T) {
	s := NewStore(t.TempDir(), nil)
	_, _, err := s.Load(context.Background(), "does-not-exist.db")
	if !errors.Is(err, ferrors.CatalogUnreadable) {
		t.Errorf("Load of missing file: err = %v, want ferrors.CatalogUnreadable", err)
	}
}

func TestStoreLoadSchemaTooNew(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "campaign.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("opening seed db: %v", err)
	}
	if _, err := db.Exec(createSchema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO version (major, minor, patch) VALUES (99, 0, 0)`); err != nil {
		t.Fatalf("inserting version: %v", err)
	}
	db.Close()

	s := NewStore(dir, nil)
	_, _, err = s.Load(context.Background(), path)
	if !errors.Is(err, ferrors.CatalogSchemaMismatch) {
		t.Errorf("Load with future schema: err = %v, want ferrors.CatalogSchemaMismatch", err)
	}
}
